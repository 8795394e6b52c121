package fetch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/promptengine/internal/backoff"
	"github.com/haasonsaas/promptengine/internal/observability"
	"github.com/haasonsaas/promptengine/internal/sources"
	"github.com/haasonsaas/promptengine/pkg/models"
)

type fakeTools struct {
	tools []models.ToolDefinition
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeTools) Fetch(ctx context.Context) ([]models.ToolDefinition, error) {
	f.calls.Add(1)
	if err := wait(ctx, f.delay); err != nil {
		return nil, err
	}
	return f.tools, f.err
}

type fakeRAG struct {
	chunks []models.RetrievedChunk
	err    error
	delay  time.Duration
	query  string
	topK   int
	calls  atomic.Int32
}

func (f *fakeRAG) Fetch(ctx context.Context, query string, topK int) ([]models.RetrievedChunk, error) {
	f.calls.Add(1)
	f.query, f.topK = query, topK
	if err := wait(ctx, f.delay); err != nil {
		return nil, err
	}
	return f.chunks, f.err
}

type fakeHistory struct {
	rounds   []models.ConversationRound
	delay    time.Duration
	failures int32
	calls    atomic.Int32
}

func (f *fakeHistory) Fetch(ctx context.Context, _ string) ([]models.ConversationRound, error) {
	n := f.calls.Add(1)
	if err := wait(ctx, f.delay); err != nil {
		return nil, err
	}
	if n <= f.failures {
		return nil, &sources.FetchError{Source: "history", Op: "get", Err: errors.New("connection reset")}
	}
	return f.rounds, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return &sources.FetchError{Source: "fake", Op: "wait", Err: ctx.Err()}
	}
}

func enabled(timeout time.Duration) SourceOptions {
	return SourceOptions{Enabled: true, Timeout: timeout, MaxAttempts: 1}
}

func allEnabled() Config {
	return Config{
		Tools:   enabled(time.Second),
		RAG:     enabled(time.Second),
		History: enabled(time.Second),
		RAGTopK: 3,
	}
}

func TestOrchestrator_AllSources(t *testing.T) {
	tools := &fakeTools{tools: []models.ToolDefinition{{Name: "search"}}}
	rag := &fakeRAG{chunks: []models.RetrievedChunk{{Text: "a", Score: 0.9}, {Text: "b", Score: 0.5}}}
	hist := &fakeHistory{rounds: []models.ConversationRound{{
		User:      models.Message{Role: models.RoleUser, Content: "hi"},
		Assistant: models.Message{Role: models.RoleAssistant, Content: "hello"},
	}}}

	o := New(allEnabled(), Sources{Tools: tools, RAG: rag, History: hist})
	got := o.Fetch(context.Background(), Query{SessionID: "s1", UserQuery: "what is go"})

	if len(got.Tools) != 1 || len(got.Chunks) != 2 || len(got.History) != 1 {
		t.Fatalf("unexpected context: tools=%d chunks=%d history=%d", len(got.Tools), len(got.Chunks), len(got.History))
	}
	if rag.query != "what is go" || rag.topK != 3 {
		t.Errorf("rag called with (%q, %d), want (%q, 3)", rag.query, rag.topK, "what is go")
	}
	for _, name := range []string{sources.SourceTools, sources.SourceRAG, sources.SourceHistory} {
		st, ok := got.Sources[name]
		if !ok {
			t.Fatalf("missing status for %s", name)
		}
		if st.State != models.SourceOK {
			t.Errorf("%s state = %s, want ok", name, st.State)
		}
		if st.Attempts != 1 {
			t.Errorf("%s attempts = %d, want 1", name, st.Attempts)
		}
	}
	if got.Sources[sources.SourceRAG].Items != 2 {
		t.Errorf("rag items = %d, want 2", got.Sources[sources.SourceRAG].Items)
	}
}

func TestOrchestrator_FeatureFlags(t *testing.T) {
	tools := &fakeTools{}
	rag := &fakeRAG{}
	hist := &fakeHistory{}

	cfg := allEnabled()
	cfg.Tools.Enabled = false
	cfg.RAG.Enabled = false
	cfg.History.Enabled = false

	got := New(cfg, Sources{Tools: tools, RAG: rag, History: hist}).
		Fetch(context.Background(), Query{SessionID: "s1", UserQuery: "q"})

	if tools.calls.Load()+rag.calls.Load()+hist.calls.Load() != 0 {
		t.Fatal("disabled sources must not be called")
	}
	for name, st := range got.Sources {
		if st.State != models.SourceDisabled {
			t.Errorf("%s state = %s, want disabled", name, st.State)
		}
	}
	if len(got.Sources) != 3 {
		t.Errorf("got %d statuses, want 3", len(got.Sources))
	}
}

func TestOrchestrator_NilSourcesAreDisabled(t *testing.T) {
	got := New(allEnabled(), Sources{}).Fetch(context.Background(), Query{SessionID: "s", UserQuery: "q"})
	for name, st := range got.Sources {
		if st.State != models.SourceDisabled {
			t.Errorf("%s state = %s, want disabled", name, st.State)
		}
	}
}

func TestOrchestrator_HistorySkippedWithoutSession(t *testing.T) {
	hist := &fakeHistory{}
	got := New(allEnabled(), Sources{History: hist}).Fetch(context.Background(), Query{UserQuery: "q"})

	if hist.calls.Load() != 0 {
		t.Error("history must not be called without a session id")
	}
	if st := got.Sources[sources.SourceHistory].State; st != models.SourceSkipped {
		t.Errorf("history state = %s, want skipped", st)
	}
}

func TestOrchestrator_UnavailableDegrades(t *testing.T) {
	tools := &fakeTools{err: &sources.FetchError{Source: "tools", Op: "get", Err: errors.New("boom")}}
	rag := &fakeRAG{chunks: []models.RetrievedChunk{{Text: "x", Score: 1}}}

	got := New(allEnabled(), Sources{Tools: tools, RAG: rag}).
		Fetch(context.Background(), Query{UserQuery: "q"})

	if got.Tools != nil {
		t.Errorf("tools = %v, want empty", got.Tools)
	}
	st := got.Sources[sources.SourceTools]
	if st.State != models.SourceUnavailable {
		t.Errorf("tools state = %s, want unavailable", st.State)
	}
	if !strings.Contains(st.Error, "boom") {
		t.Errorf("tools error = %q, want cause", st.Error)
	}
	if len(got.Chunks) != 1 {
		t.Errorf("rag must be unaffected, got %d chunks", len(got.Chunks))
	}
}

func TestOrchestrator_TimeoutIsolation(t *testing.T) {
	cfg := allEnabled()
	cfg.Tools.Timeout = 50 * time.Millisecond

	tools := &fakeTools{delay: 5 * time.Second}
	rag := &fakeRAG{chunks: []models.RetrievedChunk{{Text: "x"}}}

	start := time.Now()
	got := New(cfg, Sources{Tools: tools, RAG: rag}).Fetch(context.Background(), Query{UserQuery: "q"})
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("fetch took %v, slow source was not cut off", elapsed)
	}
	if st := got.Sources[sources.SourceTools].State; st != models.SourceUnavailable {
		t.Errorf("tools state = %s, want unavailable", st)
	}
	if st := got.Sources[sources.SourceRAG].State; st != models.SourceOK {
		t.Errorf("rag state = %s, want ok", st)
	}
}

func TestOrchestrator_RunsConcurrently(t *testing.T) {
	delay := 200 * time.Millisecond
	tools := &fakeTools{delay: delay}
	rag := &fakeRAG{delay: delay}
	hist := &fakeHistory{delay: delay}

	start := time.Now()
	New(allEnabled(), Sources{Tools: tools, RAG: rag, History: hist}).
		Fetch(context.Background(), Query{SessionID: "s", UserQuery: "q"})
	elapsed := time.Since(start)

	if elapsed >= 3*delay {
		t.Errorf("fetch took %v, sources appear to run sequentially", elapsed)
	}
}

func TestOrchestrator_RetriesWithinTimeout(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	cfg := allEnabled()
	cfg.History = SourceOptions{
		Enabled:     true,
		Timeout:     time.Second,
		MaxAttempts: 3,
		Backoff:     backoff.Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2},
	}
	hist := &fakeHistory{
		failures: 1,
		rounds:   []models.ConversationRound{{User: models.Message{Role: models.RoleUser, Content: "x"}}},
	}

	got := New(cfg, Sources{History: hist}, WithMetrics(metrics)).
		Fetch(context.Background(), Query{SessionID: "s", UserQuery: "q"})

	st := got.Sources[sources.SourceHistory]
	if st.State != models.SourceOK {
		t.Fatalf("history state = %s, want ok (%s)", st.State, st.Error)
	}
	if st.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", st.Attempts)
	}
	if v := testutil.ToFloat64(metrics.SourceRetryCounter.WithLabelValues(sources.SourceHistory)); v != 1 {
		t.Errorf("retry counter = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.SourceFetchCounter.WithLabelValues(sources.SourceHistory, "ok")); v != 1 {
		t.Errorf("fetch counter = %v, want 1", v)
	}
}

func TestOrchestrator_NoRetryByDefault(t *testing.T) {
	hist := &fakeHistory{failures: 5}
	got := New(allEnabled(), Sources{History: hist}).
		Fetch(context.Background(), Query{SessionID: "s", UserQuery: "q"})

	if hist.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", hist.calls.Load())
	}
	if st := got.Sources[sources.SourceHistory]; st.State != models.SourceUnavailable || st.Attempts != 1 {
		t.Errorf("status = %+v, want unavailable after 1 attempt", st)
	}
}
