// Package observability provides the metrics, structured logging and
// tracing used across the prompt engine.
//
// # Metrics
//
// Metrics are Prometheus collectors owned by a Metrics value and
// registered on an explicit registry, so several engines (or tests) can
// coexist in one process:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	metrics.RecordBuild("http", "success", time.Since(start))
//
// # Logging
//
// Logger wraps slog and adds request correlation and secret redaction.
// Correlation values are carried on the context:
//
//	ctx = observability.AddRequestID(ctx, "req-123")
//	logger.Info(ctx, "prompt built", "rounds_kept", 3)
//
// # Tracing
//
// Tracer wraps OpenTelemetry. With no collector endpoint configured it is
// a no-op, so spans can be started unconditionally:
//
//	ctx, span := tracer.Start(ctx, "pipeline.build")
//	defer span.End()
package observability
