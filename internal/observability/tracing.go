package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer. It starts one server span per
// build and one client span per source fetch, continues traces from
// inbound headers and propagates them to the source services.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    Endpoint: "localhost:4317",
//	})
//	defer shutdown(context.Background())
type Tracer struct {
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// TraceConfig configures span export.
type TraceConfig struct {
	// ServiceName defaults to "promptengine".
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Endpoint is the OTLP gRPC collector address. Empty disables export
	// but keeps header propagation working.
	Endpoint string

	// SamplingRate is the fraction of new traces recorded. Zero means 1.
	// Sampled parents are always honoured.
	SamplingRate float64

	// EnableInsecure dials the collector without TLS.
	EnableInsecure bool
}

// NewTracer creates a Tracer and its shutdown function. When the
// exporter cannot be created the tracer degrades to no-op export.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "promptengine"
	}
	t := &Tracer{
		tracer: otel.Tracer(config.ServiceName),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
	noop := func(context.Context) error { return nil }
	if config.Endpoint == "" {
		return t, noop
	}

	provider, err := newProvider(config)
	if err != nil {
		return t, noop
	}
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(t.propagator)
	t.provider = provider
	t.tracer = provider.Tracer(config.ServiceName)
	return t, provider.Shutdown
}

func newProvider(config TraceConfig) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.EnableInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", config.ServiceName)}
	if config.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", config.ServiceVersion))
	}
	if config.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", config.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(config.SamplingRate))),
	), nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate == 0 || rate >= 1:
		return sdktrace.AlwaysSample()
	case rate < 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// NopTracer returns a tracer that exports nothing.
func NopTracer() *Tracer {
	t, _ := NewTracer(TraceConfig{})
	return t
}

// Start creates a new span and returns a context containing it.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return t.tracer.Start(ctx, name, opts...)
}

// TraceBuild starts the root span for one pipeline run.
func (t *Tracer) TraceBuild(ctx context.Context, transport, sessionID string) (context.Context, trace.Span) {
	return t.Start(ctx, "pipeline.build",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("session_id", sessionID),
		),
	)
}

// TraceSourceFetch starts a client span for one external source.
func (t *Tracer) TraceSourceFetch(ctx context.Context, source string) (context.Context, trace.Span) {
	return t.Start(ctx, "source."+source,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("source", source)),
	)
}

// RecordError marks the span failed. A nil err is ignored.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets alternating key/value pairs on a span. Pairs with a
// non-string key are skipped.
func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok {
			attrs = append(attrs, attributeFromValue(key, keyvals[i+1]))
		}
	}
	span.SetAttributes(attrs...)
}

// ExtractHTTP continues a trace carried in inbound request headers.
func (t *Tracer) ExtractHTTP(ctx context.Context, header http.Header) context.Context {
	if t == nil || t.propagator == nil {
		return ctx
	}
	return t.propagator.Extract(ctx, propagation.HeaderCarrier(header))
}

// WrapTransport returns a RoundTripper that writes the trace context of
// each outbound request into its headers, so source services join the
// build's trace. A nil base means http.DefaultTransport.
func (t *Tracer) WrapTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if t == nil || t.propagator == nil {
		return base
	}
	return &propagatingTransport{base: base, propagator: t.propagator}
}

type propagatingTransport struct {
	base       http.RoundTripper
	propagator propagation.TextMapPropagator
}

func (p *propagatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !trace.SpanContextFromContext(req.Context()).IsValid() {
		return p.base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request.
	out := req.Clone(req.Context())
	p.propagator.Inject(out.Context(), propagation.HeaderCarrier(out.Header))
	return p.base.RoundTrip(out)
}

func attributeFromValue(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

// GetTraceID returns the active trace id, or "" outside a trace.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
