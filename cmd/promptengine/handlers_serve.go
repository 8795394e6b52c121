package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/haasonsaas/promptengine/internal/server"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe loads configuration, wires the engine, serves until a shutdown
// signal and then drains within the configured shutdown timeout.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	eng, err := newEngine(ctx, cfg, os.Stderr, debug)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(context.Background()); err != nil {
			eng.logger.Warn(ctx, "engine close error", "error", err)
		}
	}()

	eng.logger.Info(ctx, "starting promptengine",
		"version", version,
		"commit", commit,
		"config", resolveConfigPath(configPath),
		"debug", debug,
	)

	metricsPath := ""
	if cfg.Observability.Metrics.IsEnabled() {
		metricsPath = cfg.Observability.Metrics.Path
	}
	srv, err := server.New(cfg.Server, eng.pipeline, server.Options{
		Logger:      eng.logger,
		Metrics:     eng.metrics,
		Tracer:      eng.tracer,
		MetricsPath: metricsPath,
		Dialect:     cfg.Dialect,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	// Create a context that cancels on shutdown signals.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.watchPrompt(ctx); err != nil {
		return fmt.Errorf("watch system prompt: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	eng.logger.Info(ctx, "promptengine started",
		"http_addr", srv.HTTPAddr(),
		"grpc_addr", srv.GRPCAddr(),
	)

	<-ctx.Done()
	eng.logger.Info(context.Background(), "shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	eng.logger.Info(shutdownCtx, "promptengine stopped gracefully")
	return nil
}
