package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/promptengine/internal/dialect"
	"github.com/haasonsaas/promptengine/internal/server"
	"github.com/haasonsaas/promptengine/pkg/models"
)

type buildOptions struct {
	configPath string
	query      string
	sessionID  string
	resources  string
	stream     bool
	dialect    string
	compact    bool
}

// runBuild runs the pipeline once and prints the response. Logs go to
// stderr so stdout stays machine-readable.
func runBuild(cmd *cobra.Command, opts buildOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var target dialect.Name
	if opts.dialect != "" {
		name, err := dialect.Parse(opts.dialect)
		if err != nil {
			return err
		}
		target = name
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	eng, err := newEngine(ctx, cfg, cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}
	defer eng.Close(context.Background()) //nolint:errcheck

	resp, err := eng.pipeline.Build(ctx, &models.BuildRequest{
		SessionID:       opts.sessionID,
		UserQuery:       opts.query,
		SystemResources: opts.resources,
		Stream:          opts.stream,
	})
	if err != nil {
		return err
	}

	var out any = resp
	if target != "" {
		payload, err := dialect.Convert(target, resp.LLMRequest, dialect.Options{Model: cfg.Dialect.Model(target)})
		if err != nil {
			return fmt.Errorf("export %s: %w", target, err)
		}
		out = server.ExportResponse{BuildResponse: resp, Dialect: target, ProviderRequest: payload}
	}
	return printJSON(cmd.OutOrStdout(), out, !opts.compact)
}

func printJSON(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
