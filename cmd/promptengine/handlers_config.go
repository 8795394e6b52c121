package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/promptengine/internal/config"
)

// runConfigValidate loads the configuration and lists every issue found.
func runConfigValidate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(configPath)
	if err != nil {
		var verr *config.ConfigValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "config has %d issue(s):\n", len(verr.Issues))
			for _, issue := range verr.Issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
			return errors.New("config validation failed")
		}
		return err
	}

	source := resolveConfigPath(configPath)
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(out, "config OK (%s)\n", source)
	fmt.Fprintf(out, "  http: %s\n", cfg.Server.Addr())
	if addr := cfg.Server.GRPCAddr(); addr != "" {
		fmt.Fprintf(out, "  grpc: %s\n", addr)
	}
	fmt.Fprintf(out, "  token budget: %d (max_tokens %d)\n", cfg.Pipeline.MaxTokenBudget, cfg.Pipeline.MaxTokens)
	return nil
}

// runConfigSchema prints the JSON Schema of the configuration file.
func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	out := cmd.OutOrStdout()
	if _, err := out.Write(schema); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out)
	return err
}
