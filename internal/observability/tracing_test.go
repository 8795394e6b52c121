package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &Tracer{
		provider:   provider,
		tracer:     provider.Tracer("test"),
		propagator: propagation.TraceContext{},
	}, recorder
}

func TestNewTracer_NoEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil || tracer.tracer == nil {
		t.Fatal("NewTracer() returned an unusable tracer")
	}
	if tracer.provider != nil {
		t.Error("no-op tracer should not own a provider")
	}
	_, span := tracer.Start(context.Background(), "op")
	span.End()
}

func TestTracer_TraceBuildAndFetch(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	ctx, root := tracer.TraceBuild(context.Background(), "http", "sess-1")
	_, child := tracer.TraceSourceFetch(ctx, "rag")
	tracer.RecordError(child, errors.New("timeout"))
	child.End()
	root.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Name() != "source.rag" || spans[1].Name() != "pipeline.build" {
		t.Errorf("span names = %q, %q", spans[0].Name(), spans[1].Name())
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("fetch span status = %v, want Error", spans[0].Status().Code)
	}
	if spans[0].Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Error("fetch span should be a child of the build span")
	}
}

func TestTracer_SetAttributes(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)
	_, span := tracer.Start(context.Background(), "op")
	tracer.SetAttributes(span, "rounds_kept", 3, "dialect", "openai", 42, "ignored")
	span.End()

	attrs := recorder.Ended()[0].Attributes()
	if len(attrs) != 2 {
		t.Fatalf("attributes = %v, want 2 entries", attrs)
	}
}

func TestTracer_ExtractHTTP(t *testing.T) {
	tracer, _ := newRecordingTracer(t)
	header := http.Header{}
	header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	ctx := tracer.ExtractHTTP(context.Background(), header)
	ctx, span := tracer.Start(ctx, "child")
	defer span.End()
	if got := GetTraceID(ctx); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("GetTraceID() = %q", got)
	}
}

func TestTracer_NilStart(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.Start(context.Background(), "op")
	span.End()
	if GetTraceID(ctx) != "" {
		t.Error("nil tracer should not start a trace")
	}
}

func TestTracer_WrapTransportPropagates(t *testing.T) {
	tracer, _ := newRecordingTracer(t)

	got := make(chan string, 2)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("traceparent")
	}))
	defer ts.Close()

	client := &http.Client{Transport: tracer.WrapTransport(nil)}

	ctx, span := tracer.TraceSourceFetch(context.Background(), "tools")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()
	span.End()
	if tp := <-got; tp == "" || req.Header.Get("traceparent") != "" {
		t.Errorf("traceparent sent = %q, caller header = %q", tp, req.Header.Get("traceparent"))
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL, nil)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()
	if tp := <-got; tp != "" {
		t.Errorf("traceparent without a span = %q, want none", tp)
	}
}

func TestSampler(t *testing.T) {
	tests := map[float64]string{
		0:    sdktrace.AlwaysSample().Description(),
		1:    sdktrace.AlwaysSample().Description(),
		-1:   sdktrace.NeverSample().Description(),
		0.25: sdktrace.TraceIDRatioBased(0.25).Description(),
	}
	for rate, want := range tests {
		if got := sampler(rate).Description(); got != want {
			t.Errorf("sampler(%v) = %s, want %s", rate, got, want)
		}
	}
}
