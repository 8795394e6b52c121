// Package pipeline wires fetch, trimming and composition into the single
// operation both transports serve.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/promptengine/internal/composer"
	"github.com/haasonsaas/promptengine/internal/fetch"
	"github.com/haasonsaas/promptengine/internal/history"
	"github.com/haasonsaas/promptengine/internal/observability"
	"github.com/haasonsaas/promptengine/internal/prompt"
	"github.com/haasonsaas/promptengine/internal/rag/block"
	"github.com/haasonsaas/promptengine/internal/tokens"
	"github.com/haasonsaas/promptengine/pkg/models"
)

// ValidationError rejects malformed top-level input.
type ValidationError struct {
	Field  string
	Reason string
	// Cause is the underlying failure, if any. It is not part of Error.
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks a request before any I/O happens.
func Validate(req *models.BuildRequest) error {
	if req == nil {
		return &ValidationError{Field: "request", Reason: "missing body"}
	}
	if strings.TrimSpace(req.UserQuery) == "" {
		return &ValidationError{Field: "user_query", Reason: "must be a non-empty string"}
	}
	return nil
}

// Config holds the budget knobs of the pipeline.
type Config struct {
	// MaxTokenBudget is the ceiling for the whole emitted payload.
	MaxTokenBudget int

	// MaxTokens is the output ceiling stamped on the request.
	MaxTokens int

	// ReservedOutputTokens is subtracted from the history budget.
	ReservedOutputTokens int

	// HistoryMaxRounds caps history before token accounting. Zero means no cap.
	HistoryMaxRounds int

	// CompressAssistantChars shortens long assistant replies before
	// trimming. Zero disables compression.
	CompressAssistantChars int
}

// Fetcher gathers the external ingredients of a request.
type Fetcher interface {
	Fetch(ctx context.Context, q fetch.Query) *fetch.Context
}

// Renderer renders the system prompt.
type Renderer interface {
	Render(data prompt.Data) (string, error)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Fetcher   Fetcher
	Prompt    Renderer
	Block     *block.Formatter
	Estimator *tokens.Estimator
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
}

// Pipeline builds one LLM request per call. It holds no per-request
// state and is safe for concurrent use.
type Pipeline struct {
	config   Config
	fetcher  Fetcher
	prompt   Renderer
	block    *block.Formatter
	trimmer  *history.Trimmer
	composer *composer.Composer
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	now      func() time.Time
}

// New creates a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("pipeline: fetcher is required")
	}
	if deps.Estimator == nil {
		deps.Estimator = tokens.New()
	}
	if deps.Prompt == nil {
		empty, err := prompt.FromString("")
		if err != nil {
			return nil, err
		}
		deps.Prompt = empty
	}
	if deps.Block == nil {
		f, err := block.NewFormatter(block.DefaultConfig(), deps.Estimator)
		if err != nil {
			return nil, err
		}
		deps.Block = f
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	return &Pipeline{
		config:   cfg,
		fetcher:  deps.Fetcher,
		prompt:   deps.Prompt,
		block:    deps.Block,
		trimmer:  history.NewTrimmer(deps.Estimator, history.Options{MaxRounds: cfg.HistoryMaxRounds}),
		composer: composer.New(deps.Estimator, cfg.MaxTokens),
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		now:      time.Now,
	}, nil
}

// Build runs fetch, trim and compose for one request.
//
// Only malformed input (a ValidationError) and local rendering failures
// are returned as errors. Unavailable sources degrade to empty
// ingredients, and fixed content that already exceeds the budget yields
// a response with zero history rounds.
func (p *Pipeline) Build(ctx context.Context, req *models.BuildRequest) (*models.BuildResponse, error) {
	start := p.now()
	transport := observability.GetTransport(ctx)
	if transport == "" {
		transport = "cli"
	}

	if err := Validate(req); err != nil {
		p.metrics.RecordBuild(transport, "invalid", p.now().Sub(start))
		return nil, err
	}

	p.metrics.BuildStarted()
	defer p.metrics.BuildFinished()

	if req.SessionID != "" {
		ctx = observability.AddSessionID(ctx, req.SessionID)
	}
	ctx, span := p.tracer.TraceBuild(ctx, transport, req.SessionID)
	defer span.End()

	resp, err := p.build(ctx, req, start)
	if err != nil {
		p.tracer.RecordError(span, err)
		p.metrics.RecordBuild(transport, "error", p.now().Sub(start))
		p.logger.Error(ctx, "prompt build failed", "error", err)
		return nil, err
	}

	p.tracer.SetAttributes(span,
		"estimated_tokens", resp.EstimatedTokens,
		"trimmed_history_rounds", resp.TrimmedHistoryRounds,
	)
	p.metrics.RecordBuild(transport, "success", p.now().Sub(start))
	return resp, nil
}

func (p *Pipeline) build(ctx context.Context, req *models.BuildRequest, start time.Time) (*models.BuildResponse, error) {
	fctx := p.fetcher.Fetch(ctx, fetch.Query{SessionID: req.SessionID, UserQuery: req.UserQuery})

	system, err := p.prompt.Render(prompt.Data{
		SessionID:       req.SessionID,
		SystemResources: req.SystemResources,
		UserQuery:       req.UserQuery,
	})
	if err != nil {
		return nil, err
	}

	rag, err := p.block.Format(fctx.Chunks)
	if err != nil {
		return nil, fmt.Errorf("format rag block: %w", err)
	}

	in := composer.Input{
		SystemPrompt: system,
		RAGBlock:     rag.Text,
		UserQuery:    req.UserQuery,
		Tools:        fctx.Tools,
		Stream:       req.Stream,
	}
	fixed := p.composer.FixedCost(in)
	remaining := p.config.MaxTokenBudget - fixed - p.config.ReservedOutputTokens

	rounds := history.CompressAssistant(fctx.History, p.config.CompressAssistantChars)
	trim := p.trimmer.Trim(rounds, remaining)
	in.History = trim.Rounds

	out := p.composer.Compose(in)

	p.metrics.RecordTrim(trim.Kept, trim.Dropped, remaining)
	p.metrics.RecordEstimate(out.EstimatedTokens)
	if remaining <= 0 {
		p.logger.Warn(ctx, "fixed content exceeds token budget, history omitted",
			"fixed_tokens", fixed,
			"budget", p.config.MaxTokenBudget)
	}

	elapsed := p.now().Sub(start)
	p.logger.Info(ctx, "prompt built",
		"estimated_tokens", out.EstimatedTokens,
		"history_rounds", trim.Kept,
		"history_dropped", trim.Dropped,
		"rag_chunks", len(rag.Chunks),
		"tools", len(fctx.Tools),
		"duration_ms", elapsed.Milliseconds())

	return &models.BuildResponse{
		LLMRequest:           out.Request,
		EstimatedTokens:      out.EstimatedTokens,
		TrimmedHistoryRounds: out.RoundsKept,
		ProcessingTimeMs:     float64(elapsed.Microseconds()) / 1000,
		Sources:              fctx.Sources,
	}, nil
}
