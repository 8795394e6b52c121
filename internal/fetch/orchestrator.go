// Package fetch gathers the external ingredients of one request
// concurrently, each source isolated behind its own timeout.
package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/promptengine/internal/backoff"
	"github.com/haasonsaas/promptengine/internal/observability"
	"github.com/haasonsaas/promptengine/internal/sources"
	"github.com/haasonsaas/promptengine/pkg/models"
)

// ToolFetcher lists the tools currently offered to the model.
type ToolFetcher interface {
	Fetch(ctx context.Context) ([]models.ToolDefinition, error)
}

// RAGFetcher retrieves knowledge chunks relevant to a query.
type RAGFetcher interface {
	Fetch(ctx context.Context, query string, topK int) ([]models.RetrievedChunk, error)
}

// HistoryFetcher returns the prior rounds of a session, oldest first.
type HistoryFetcher interface {
	Fetch(ctx context.Context, sessionID string) ([]models.ConversationRound, error)
}

// SourceOptions controls how one source is called.
type SourceOptions struct {
	// Enabled turns the source on. A disabled source is never called.
	Enabled bool

	// Timeout bounds every attempt, retries included. Zero means the
	// parent context alone bounds the fetch.
	Timeout time.Duration

	// MaxAttempts is the number of tries; 1 or less disables retry.
	MaxAttempts int

	// Backoff spaces retries.
	Backoff backoff.Policy
}

// Config configures an Orchestrator.
type Config struct {
	Tools   SourceOptions
	RAG     SourceOptions
	History SourceOptions

	// RAGTopK is the number of chunks requested from the retriever.
	RAGTopK int
}

// Sources are the adapters an Orchestrator calls. Nil members are
// treated as disabled.
type Sources struct {
	Tools   ToolFetcher
	RAG     RAGFetcher
	History HistoryFetcher
}

// Query identifies what to fetch for.
type Query struct {
	SessionID string
	UserQuery string
}

// Context is the merged result of one fan-out. It lives for a single
// request and is never shared.
type Context struct {
	Tools   []models.ToolDefinition
	Chunks  []models.RetrievedChunk
	History []models.ConversationRound

	// Sources reports each source's outcome keyed by source name.
	Sources map[string]models.SourceStatus
}

// Orchestrator fans out to the configured sources.
type Orchestrator struct {
	config  Config
	sources Sources
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// New creates an Orchestrator.
func New(cfg Config, srcs Sources, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config:  cfg,
		sources: srcs,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = observability.NopLogger()
	}
	return o
}

// Fetch calls every enabled source concurrently and merges the results.
// It never fails: an unavailable source contributes an empty ingredient
// and is reported in Context.Sources. The wall-clock cost is bounded by
// the slowest source timeout.
func (o *Orchestrator) Fetch(ctx context.Context, q Query) *Context {
	out := &Context{Sources: make(map[string]models.SourceStatus, 3)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	report := func(name string, status models.SourceStatus) {
		mu.Lock()
		out.Sources[name] = status
		mu.Unlock()
	}

	if o.sources.Tools != nil && o.config.Tools.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tools, status := run(ctx, o, sources.SourceTools, o.config.Tools, o.sources.Tools.Fetch)
			out.Tools = tools
			report(sources.SourceTools, status)
		}()
	} else {
		o.skip(ctx, sources.SourceTools, models.SourceDisabled, report)
	}

	if o.sources.RAG != nil && o.config.RAG.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunks, status := run(ctx, o, sources.SourceRAG, o.config.RAG, func(ctx context.Context) ([]models.RetrievedChunk, error) {
				return o.sources.RAG.Fetch(ctx, q.UserQuery, o.config.RAGTopK)
			})
			out.Chunks = chunks
			report(sources.SourceRAG, status)
		}()
	} else {
		o.skip(ctx, sources.SourceRAG, models.SourceDisabled, report)
	}

	switch {
	case o.sources.History == nil || !o.config.History.Enabled:
		o.skip(ctx, sources.SourceHistory, models.SourceDisabled, report)
	case q.SessionID == "":
		o.skip(ctx, sources.SourceHistory, models.SourceSkipped, report)
	default:
		wg.Add(1)
		go func() {
			defer wg.Done()
			rounds, status := run(ctx, o, sources.SourceHistory, o.config.History, func(ctx context.Context) ([]models.ConversationRound, error) {
				return o.sources.History.Fetch(ctx, q.SessionID)
			})
			out.History = rounds
			report(sources.SourceHistory, status)
		}()
	}

	wg.Wait()
	return out
}

func (o *Orchestrator) skip(ctx context.Context, name string, state models.SourceState, report func(string, models.SourceStatus)) {
	report(name, models.SourceStatus{State: state})
	o.metrics.RecordSourceFetch(name, string(state), 0)
	o.logger.Debug(ctx, "source not called", "source", name, "state", string(state))
}

// run performs one source fetch with its timeout and retry policy.
func run[T any](
	parent context.Context,
	o *Orchestrator,
	name string,
	opts SourceOptions,
	fn func(context.Context) ([]T, error),
) ([]T, models.SourceStatus) {
	start := time.Now()
	ctx, span := o.tracer.TraceSourceFetch(parent, name)
	defer span.End()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	policy := opts.Backoff
	if policy.Initial <= 0 {
		policy = backoff.DefaultPolicy()
	}

	result, err := backoff.Retry(ctx, policy, opts.MaxAttempts,
		func(ctx context.Context, _ int) ([]T, error) {
			return fn(ctx)
		},
		func(attempt int, err error, delay time.Duration) {
			o.metrics.RecordSourceRetry(name)
			o.logger.Warn(ctx, "source fetch attempt failed, retrying",
				"source", name,
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
				"error", err)
		},
	)
	elapsed := time.Since(start)

	status := models.SourceStatus{
		Attempts:   result.Attempts,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		status.State = models.SourceUnavailable
		status.Error = err.Error()
		o.tracer.RecordError(span, err)
		o.metrics.RecordSourceFetch(name, string(status.State), elapsed)
		o.logger.Warn(parent, "source unavailable, continuing without it",
			"source", name,
			"attempts", result.Attempts,
			"duration_ms", status.DurationMs,
			"error", err)
		return nil, status
	}

	status.State = models.SourceOK
	status.Items = len(result.Value)
	o.tracer.SetAttributes(span, "items", status.Items, "attempts", result.Attempts)
	o.metrics.RecordSourceFetch(name, string(status.State), elapsed)
	o.logger.Debug(parent, "source fetched",
		"source", name,
		"items", status.Items,
		"duration_ms", status.DurationMs)
	return result.Value, status
}
