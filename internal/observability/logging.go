package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Logger is a context-aware slog wrapper. Every record carries the
// request, session, transport and connection ids found on the context,
// plus the active trace id. String values are redacted and truncated.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info"})
//	logger.Info(ctx, "source fetched", "source", "rag", "items", 3)
type Logger struct {
	logger   *slog.Logger
	redacts  []*regexp.Regexp
	maxBytes int
}

// LogConfig configures a Logger.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error". Default "info".
	Level string

	// Format is "json" or "text". Default "json".
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer

	AddSource bool

	// RedactPatterns extend DefaultRedactPatterns.
	RedactPatterns []string

	// MaxValueBytes truncates long string values such as user queries
	// and rendered prompts. Zero means DefaultMaxValueBytes; negative
	// disables truncation.
	MaxValueBytes int
}

// DefaultMaxValueBytes is the default cap on one logged string value.
const DefaultMaxValueBytes = 2048

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	RequestIDKey    ContextKey = "request_id"
	SessionIDKey    ContextKey = "session_id"
	TransportKey    ContextKey = "transport"
	ConnectionIDKey ContextKey = "conn_id"
)

var contextKeys = []ContextKey{RequestIDKey, SessionIDKey, TransportKey, ConnectionIDKey}

// DefaultRedactPatterns catch provider API keys, bearer tokens, inline
// passwords and credentials embedded in database DSNs.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,
	`sk-ant-[a-zA-Z0-9_-]{32,}`,
	`sk-[a-zA-Z0-9_-]{32,}`,
	`AKIA[0-9A-Z]{16}`,
	`(?i)([a-z][a-z0-9+.-]*://[^:/\s]+:)([^@\s]+)(@)`,
}

// sensitiveKeys are map keys whose values are never logged.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"dsn":           true,
	"auth":          true,
	"authorization": true,
	"cookie":        true,
}

// NewLogger creates a Logger. Invalid redact patterns are skipped.
func NewLogger(config LogConfig) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}
	var handler slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	}

	patterns := append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			redacts = append(redacts, re)
		}
	}

	maxBytes := config.MaxValueBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxValueBytes
	}
	return &Logger{logger: slog.New(handler), redacts: redacts, maxBytes: maxBytes}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return NewLogger(LogConfig{Output: io.Discard, Level: "error"})
}

// WithFields returns a logger that adds args to every record.
func (l *Logger) WithFields(args ...any) *Logger {
	clone := *l
	clone.logger = l.logger.With(args...)
	return &clone
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args []any) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]any, 0, len(args)+2*len(contextKeys)+2)
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, string(key), v)
		}
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		attrs = append(attrs, "trace_id", traceID)
	}
	for _, arg := range args {
		attrs = append(attrs, l.scrub(arg))
	}
	l.logger.Log(ctx, level, l.clean(msg), attrs...)
}

// scrub makes one argument safe to log.
func (l *Logger) scrub(v any) any {
	switch val := v.(type) {
	case string:
		return l.clean(val)
	case error:
		return l.clean(val.Error())
	case []byte:
		return l.clean(string(val))
	case map[string]any:
		return l.scrubMap(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return l.scrubMap(m)
	case int, int64, float64, bool, slog.Attr:
		return v
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.clean(string(b))
		}
		return v
	}
}

func (l *Logger) scrubMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sensitiveKeys[strings.ToLower(strings.ReplaceAll(k, "-", "_"))] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = l.scrub(v)
	}
	return out
}

// clean redacts secrets, then truncates at a rune boundary.
func (l *Logger) clean(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	if l.maxBytes > 0 && len(s) > l.maxBytes {
		cut := l.maxBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "...[truncated]"
	}
	return s
}

// AddRequestID adds a request ID to the context.
func AddRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// AddSessionID adds a session ID to the context.
func AddSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// AddTransport tags the context with the serving front-end ("http" or "ws").
func AddTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, TransportKey, transport)
}

// AddConnectionID adds a WebSocket connection ID to the context.
func AddConnectionID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnectionIDKey, connID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// GetTransport retrieves the transport tag from the context.
func GetTransport(ctx context.Context) string {
	t, _ := ctx.Value(TransportKey).(string)
	return t
}

// LogLevelFromString converts a level name to a slog.Level, defaulting
// to info.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
