package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/haasonsaas/promptengine/internal/config"
	"github.com/haasonsaas/promptengine/internal/fetch"
	"github.com/haasonsaas/promptengine/internal/observability"
	"github.com/haasonsaas/promptengine/internal/pipeline"
	"github.com/haasonsaas/promptengine/internal/prompt"
	"github.com/haasonsaas/promptengine/internal/rag/block"
	"github.com/haasonsaas/promptengine/internal/sources"
	"github.com/haasonsaas/promptengine/internal/tokens"
)

// engine is the wired pipeline plus everything that must be closed with it.
type engine struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	prompt   *prompt.Loader
	pipeline *pipeline.Pipeline

	closers []func(context.Context) error
}

// newEngine wires sources, orchestrator, template and pipeline from cfg.
// Logs go to logOut.
func newEngine(ctx context.Context, cfg *config.Config, logOut io.Writer, debug bool) (*engine, error) {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: logOut,
	})
	metrics := observability.NewMetrics(nil)

	tr := cfg.Observability.Tracing
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    tr.ServiceName,
		ServiceVersion: valueOr(tr.ServiceVersion, version),
		Environment:    tr.Environment,
		Endpoint:       tr.Endpoint,
		SamplingRate:   tr.SamplingRate,
		EnableInsecure: tr.Insecure,
	})

	e := &engine{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		closers: []func(context.Context) error{shutdownTracer},
	}

	estimator := tokens.New()

	loader, err := prompt.NewLoader(cfg.Pipeline.SystemPromptPath, prompt.Options{
		Logger:  logger.WithFields("component", "prompt"),
		Metrics: metrics,
	})
	if err != nil {
		_ = e.Close(ctx)
		return nil, fmt.Errorf("load system prompt: %w", err)
	}
	e.prompt = loader
	e.closers = append(e.closers, func(context.Context) error { return loader.Close() })

	formatter, err := block.NewFormatter(cfg.Pipeline.BlockConfig(), estimator)
	if err != nil {
		_ = e.Close(ctx)
		return nil, fmt.Errorf("rag block: %w", err)
	}

	srcs, err := e.openSources(ctx)
	if err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	orchestrator := fetch.New(fetchConfig(cfg), srcs,
		fetch.WithLogger(logger.WithFields("component", "fetch")),
		fetch.WithMetrics(metrics),
		fetch.WithTracer(tracer),
	)

	p, err := pipeline.New(pipeline.Config{
		MaxTokenBudget:         cfg.Pipeline.MaxTokenBudget,
		MaxTokens:              cfg.Pipeline.MaxTokens,
		ReservedOutputTokens:   cfg.Pipeline.ReservedOutputTokens,
		HistoryMaxRounds:       cfg.Pipeline.MaxHistoryRounds(),
		CompressAssistantChars: cfg.Pipeline.CompressAssistantChars,
	}, pipeline.Deps{
		Fetcher:   orchestrator,
		Prompt:    loader,
		Block:     formatter,
		Estimator: estimator,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
	})
	if err != nil {
		_ = e.Close(ctx)
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	e.pipeline = p
	return e, nil
}

// openSources creates the source adapters. History is read from SQL when
// a DSN is configured and over HTTP otherwise.
func (e *engine) openSources(ctx context.Context) (fetch.Sources, error) {
	cfg := e.cfg
	pool := cfg.Pool.SourcePool()

	// One pool per collaborator so a slow service cannot starve the others.
	client := func() *http.Client {
		c := sources.NewHTTPClient(pool)
		c.Transport = e.tracer.WrapTransport(c.Transport)
		return c
	}

	srcs := fetch.Sources{
		Tools: sources.NewToolSource(cfg.Sources.Tools.URL, client()),
		RAG:   sources.NewRAGSource(cfg.Sources.RAG.URL, client()),
	}

	if sqlCfg := cfg.Sources.History.SQL; sqlCfg.Enabled() && cfg.Pipeline.HistoryEnabled() {
		store, err := sources.OpenSQLHistorySource(ctx, sqlCfg.SourceConfig())
		if err != nil {
			return fetch.Sources{}, fmt.Errorf("open sql history: %w", err)
		}
		e.closers = append(e.closers, func(context.Context) error { return store.Close() })
		srcs.History = store
		e.logger.Info(ctx, "history source: sql", "driver", sqlCfg.Driver)
	} else {
		srcs.History = sources.NewHTTPHistorySource(cfg.Sources.History.URL, client())
	}
	return srcs, nil
}

func fetchConfig(cfg *config.Config) fetch.Config {
	return fetch.Config{
		Tools:   sourceOptions(cfg.Pipeline.ToolsEnabled(), cfg.Sources.Tools),
		RAG:     sourceOptions(cfg.Pipeline.RAGEnabled(), cfg.Sources.RAG),
		History: sourceOptions(cfg.Pipeline.HistoryEnabled(), cfg.Sources.History.SourceConfig),
		RAGTopK: cfg.Pipeline.RAGTopK,
	}
}

func sourceOptions(enabled bool, sc config.SourceConfig) fetch.SourceOptions {
	return fetch.SourceOptions{
		Enabled:     enabled,
		Timeout:     sc.Timeout,
		MaxAttempts: sc.Retry.MaxAttempts,
		Backoff:     sc.Retry.Policy(),
	}
}

// watchPrompt starts reloading the system prompt on change when configured.
func (e *engine) watchPrompt(ctx context.Context) error {
	if !e.cfg.Pipeline.WatchSystemPrompt {
		return nil
	}
	if err := e.prompt.Watch(ctx); err != nil {
		return err
	}
	e.logger.Info(ctx, "watching system prompt", "path", e.prompt.Path())
	return nil
}

// Close releases everything in reverse order of acquisition.
func (e *engine) Close(ctx context.Context) error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
