package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/promptengine/internal/dialect"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	return writeNamed(t, t.TempDir(), "promptengine.yaml", contents)
}

func writeNamed(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
	if cfg.Server.HTTPPort != 18080 || cfg.Server.LimitConcurrency != 100 || cfg.Server.Backlog != 512 {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Pipeline.MaxTokenBudget != 7000 || cfg.Pipeline.MaxTokens != 1024 || cfg.Pipeline.MaxHistoryRounds() != 6 {
		t.Errorf("pipeline defaults = %+v", cfg.Pipeline)
	}
	if !cfg.Pipeline.ToolsEnabled() || !cfg.Pipeline.RAGEnabled() || !cfg.Pipeline.HistoryEnabled() {
		t.Error("sources should be enabled by default")
	}
	if cfg.Sources.RAG.Timeout != 15*time.Second || cfg.Sources.Tools.Retry.MaxAttempts != 1 {
		t.Errorf("source defaults = %+v", cfg.Sources)
	}
	if cfg.Pool.Size != 20 || cfg.Pool.KeepaliveExpiry != 30*time.Second {
		t.Errorf("pool defaults = %+v", cfg.Pool)
	}
	if cfg.Server.RateLimit.Enabled {
		t.Error("rate limiting should be off by default")
	}
	if !cfg.Server.CompressionEnabled() || !cfg.Observability.Metrics.IsEnabled() {
		t.Error("compression and metrics should default on")
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
version: 1
server:
  http_port: 9000
  grpc_port: 9001
  limit_concurrency: 8
  keepalive_timeout: 7s
  ws:
    pong_wait: 30s
    ping_interval: 20s
pipeline:
  enable_tools: false
  max_token_budget: 4000
  reserved_output_tokens: 256
  rag_header: "Context:"
sources:
  rag:
    url: http://rag.internal:8000/search
    timeout: 2s
    retry:
      max_attempts: 3
      initial_backoff: 100ms
  history:
    url: https://history.internal/api
dialect:
  models:
    anthropic: claude-sonnet-4-5
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Server.HTTPPort != 9000 || cfg.Server.GRPCAddr() != "0.0.0.0:9001" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.KeepaliveTimeout != 7*time.Second {
		t.Errorf("keepalive_timeout = %v", cfg.Server.KeepaliveTimeout)
	}
	if cfg.Pipeline.ToolsEnabled() {
		t.Error("enable_tools: false not honored")
	}
	if cfg.Pipeline.BlockConfig().Header != "Context:" {
		t.Errorf("rag header = %q", cfg.Pipeline.BlockConfig().Header)
	}
	if cfg.Sources.RAG.Timeout != 2*time.Second || cfg.Sources.RAG.Retry.MaxAttempts != 3 {
		t.Errorf("rag source = %+v", cfg.Sources.RAG)
	}
	if p := cfg.Sources.RAG.Retry.Policy(); p.Initial != 100*time.Millisecond {
		t.Errorf("retry policy = %+v", p)
	}
	if cfg.Sources.History.URL != "https://history.internal/api" {
		t.Errorf("history url = %q", cfg.Sources.History.URL)
	}
	if cfg.Dialect.Model(dialect.Anthropic) != "claude-sonnet-4-5" {
		t.Errorf("dialect models = %v", cfg.Dialect.Models)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadHistoryMaxRounds(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want int
	}{
		{name: "omitted uses default", yaml: "pipeline:\n  max_tokens: 10", want: 6},
		{name: "explicit zero disables the cap", yaml: "pipeline:\n  history_max_rounds: 0", want: 0},
		{name: "explicit value", yaml: "pipeline:\n  history_max_rounds: 2", want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.yaml))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got := cfg.Pipeline.MaxHistoryRounds(); got != tt.want {
				t.Errorf("MaxHistoryRounds() = %d, want %d", got, tt.want)
			}
		})
	}

	_, err := Load(writeConfig(t, "pipeline:\n  history_max_rounds: -1"))
	if err == nil || !strings.Contains(err.Error(), "history_max_rounds") {
		t.Errorf("negative history_max_rounds error = %v", err)
	}
}

func TestLoadCollectsValidationIssues(t *testing.T) {
	path := writeConfig(t, `
server:
  limit_concurrency: -1
pipeline:
  max_token_budget: -5
sources:
  tools:
    url: "not a url"
  history:
    sql:
      dsn: "file::memory:"
      driver: mysql
logging:
  level: loud
`)

	_, err := Load(path)
	var ve *ConfigValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ConfigValidationError, got %v", err)
	}
	want := []string{"limit_concurrency", "max_token_budget", "sources.tools.url", "driver", "logging.level"}
	for _, w := range want {
		if !strings.Contains(err.Error(), w) {
			t.Errorf("expected issue mentioning %q in %v", w, err)
		}
	}
	if len(ve.Issues) < len(want) {
		t.Errorf("got %d issues, want at least %d", len(ve.Issues), len(want))
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeNamed(t, dir, "base.yaml", `
pipeline:
  max_token_budget: 3000
  max_tokens: 512
server:
  http_port: 7000
`)
	path := writeNamed(t, dir, "main.yaml", `
$include: base.yaml
pipeline:
  max_tokens: 2048
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MaxTokenBudget != 3000 {
		t.Errorf("included max_token_budget = %d, want 3000", cfg.Pipeline.MaxTokenBudget)
	}
	if cfg.Pipeline.MaxTokens != 2048 {
		t.Errorf("max_tokens = %d, want the including file to win", cfg.Pipeline.MaxTokens)
	}
	if cfg.Server.HTTPPort != 7000 {
		t.Errorf("http_port = %d, want 7000", cfg.Server.HTTPPort)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeNamed(t, dir, "a.yaml", `$include: b.yaml`)
	writeNamed(t, dir, "b.yaml", `$include: a.yaml`)
	if _, err := Load(filepath.Join(dir, "a.yaml")); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("PE_TEST_RAG_URL", "http://rag.example:9999/q")
	path := writeConfig(t, `
sources:
  rag:
    url: ${PE_TEST_RAG_URL}
  tools:
    url: ${PE_TEST_UNSET_TOOLS_URL:-http://tools.example/list}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sources.RAG.URL != "http://rag.example:9999/q" {
		t.Errorf("rag url = %q", cfg.Sources.RAG.URL)
	}
	if cfg.Sources.Tools.URL != "http://tools.example/list" {
		t.Errorf("tools url = %q, want fallback", cfg.Sources.Tools.URL)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeNamed(t, t.TempDir(), "promptengine.json5", `
{
  // comments and trailing commas are allowed
  pipeline: {max_token_budget: 1234, enable_rag: false,},
  sources: {tools: {timeout: "3s"}},
}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MaxTokenBudget != 1234 || cfg.Pipeline.RAGEnabled() {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Sources.Tools.Timeout != 3*time.Second {
		t.Errorf("tools timeout = %v", cfg.Sources.Tools.Timeout)
	}
}

func TestSQLHistoryDefaults(t *testing.T) {
	path := writeConfig(t, `
sources:
  history:
    sql:
      driver: sqlite
      dsn: /tmp/history.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sql := cfg.Sources.History.SQL
	if !sql.Enabled() {
		t.Fatal("sql history should be enabled when dsn is set")
	}
	sc := sql.SourceConfig()
	if sc.Table != "messages" || sc.SessionColumn != "session_id" || sc.OrderColumn != "created_at" {
		t.Errorf("sql defaults = %+v", sc)
	}
}

func TestLoadMissingSystemPrompt(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  system_prompt_path: /definitely/not/here.tmpl
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "system_prompt_path") {
		t.Fatalf("expected system_prompt_path error, got %v", err)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	for _, key := range []string{`"max_token_budget"`, `"limit_concurrency"`, `"rate_limit"`, `"keepalive_expiry"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("schema missing %s", key)
		}
	}
}

func TestValidateVersion(t *testing.T) {
	if err := ValidateVersion(CurrentVersion); err != nil {
		t.Fatalf("expected nil error for CurrentVersion, got %v", err)
	}

	err := ValidateVersion(CurrentVersion + 1)
	var ve *VersionError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *VersionError, got %T", err)
	}
	if ve.Reason != "newer than this build" {
		t.Fatalf("expected reason 'newer than this build', got %q", ve.Reason)
	}

	if err := ValidateVersion(-1); err == nil {
		t.Fatal("expected error for negative version")
	}

	var nilErr *VersionError
	if got := nilErr.Error(); got != "" {
		t.Fatalf("expected empty string from nil VersionError, got %q", got)
	}
}
