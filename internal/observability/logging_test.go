package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("failed to parse log line %q: %v", line, err)
	}
	return entry
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LogConfig
	}{
		{"json format", LogConfig{Level: "info", Format: "json"}},
		{"text format", LogConfig{Level: "debug", Format: "text"}},
		{"defaults", LogConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil || logger.logger == nil {
				t.Fatal("NewLogger() returned an unusable logger")
			}
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	ctx := context.Background()
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	if buf.Len() != 0 {
		t.Fatalf("expected debug/info to be filtered, got %q", buf.String())
	}

	logger.Warn(ctx, "warn message")
	entry := decodeLine(t, &buf)
	if entry["msg"] != "warn message" || entry["level"] != "WARN" {
		t.Errorf("entry = %v", entry)
	}
}

func TestLoggerContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	ctx := AddRequestID(context.Background(), "req-1")
	ctx = AddSessionID(ctx, "sess-1")
	ctx = AddTransport(ctx, "ws")
	ctx = AddConnectionID(ctx, "conn-1")
	logger.Info(ctx, "prompt built", "rounds_kept", 2)

	entry := decodeLine(t, &buf)
	for key, want := range map[string]any{
		"request_id":  "req-1",
		"session_id":  "sess-1",
		"transport":   "ws",
		"conn_id":     "conn-1",
		"rounds_kept": float64(2),
	} {
		if entry[key] != want {
			t.Errorf("entry[%q] = %v, want %v", key, entry[key], want)
		}
	}
}

func TestLoggerRedaction(t *testing.T) {
	tests := []struct {
		name   string
		args   []any
		secret string
	}{
		{"api key in string", []any{"detail", "api_key=abcdefghijklmnopqrstuvwxyz"}, "abcdefghijklmnopqrstuvwxyz"},
		{"error value", []any{"error", errors.New("password: hunter2hunter2")}, "hunter2hunter2"},
		{"dsn credentials", []any{"dsn_used", "postgres://svc:s3cretpass@db:5432/app"}, "s3cretpass"},
		{"sensitive map key", []any{"headers", map[string]string{"Authorization": "Bearer xyz"}}, "Bearer xyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Format: "json", Output: &buf})
			logger.Info(context.Background(), "event", tt.args...)
			if strings.Contains(buf.String(), tt.secret) {
				t.Errorf("secret %q leaked: %s", tt.secret, buf.String())
			}
			if !strings.Contains(buf.String(), "[REDACTED]") {
				t.Errorf("expected redaction marker in %s", buf.String())
			}
		})
	}
}

func TestLoggerTruncatesLongValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf, MaxValueBytes: 10})
	logger.Info(context.Background(), "built", "query", strings.Repeat("é", 20))

	entry := decodeLine(t, &buf)
	got, _ := entry["query"].(string)
	if !strings.HasSuffix(got, "...[truncated]") {
		t.Fatalf("query = %q, want truncation marker", got)
	}
	if prefix := strings.TrimSuffix(got, "...[truncated]"); prefix != strings.Repeat("é", 5) {
		t.Errorf("prefix = %q, want a whole-rune cut", prefix)
	}

	buf.Reset()
	NewLogger(LogConfig{Format: "json", Output: &buf, MaxValueBytes: -1}).
		Info(context.Background(), "built", "query", strings.Repeat("x", 5000))
	if strings.Contains(buf.String(), "[truncated]") {
		t.Error("negative MaxValueBytes should disable truncation")
	}
}

func TestLoggerTraceCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03},
		SpanID:     trace.SpanID{0x04},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	logger.Info(ctx, "traced")

	entry := decodeLine(t, &buf)
	if entry["trace_id"] != sc.TraceID().String() {
		t.Errorf("trace_id = %v, want %s", entry["trace_id"], sc.TraceID())
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf}).WithFields("component", "fetch")
	logger.Info(context.Background(), "hello")

	entry := decodeLine(t, &buf)
	if entry["component"] != "fetch" {
		t.Errorf("component = %v, want fetch", entry["component"])
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"INFO":    "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
	}
	for in, want := range tests {
		if got := LogLevelFromString(in).String(); got != want {
			t.Errorf("LogLevelFromString(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestContextGetters(t *testing.T) {
	ctx := AddTransport(AddRequestID(context.Background(), "r"), "http")
	if GetRequestID(ctx) != "r" || GetTransport(ctx) != "http" {
		t.Errorf("getters = %q/%q", GetRequestID(ctx), GetTransport(ctx))
	}
	if GetRequestID(context.Background()) != "" {
		t.Error("GetRequestID() on empty context should be empty")
	}
}
