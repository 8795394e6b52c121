// Package composer assembles the final provider-agnostic LLM request from
// its prepared parts.
package composer

import (
	"github.com/haasonsaas/promptengine/internal/tokens"
	"github.com/haasonsaas/promptengine/pkg/models"
)

// Input holds the already-prepared ingredients of one request.
type Input struct {
	// SystemPrompt is the rendered system prompt. Empty omits the message.
	SystemPrompt string

	// RAGBlock is the rendered knowledge block. Empty omits the message.
	RAGBlock string

	// History holds the rounds that survived trimming, oldest first.
	History []models.ConversationRound

	// UserQuery is the current user turn.
	UserQuery string

	// Tools are forwarded untouched.
	Tools []models.ToolDefinition

	Stream bool
}

// Result is a composed request and its estimate.
type Result struct {
	Request         models.LLMRequest
	EstimatedTokens int
	RoundsKept      int
}

// Composer orders messages and stamps the output ceiling.
type Composer struct {
	estimator *tokens.Estimator
	maxTokens int
}

// New creates a Composer. maxTokens is copied into every request as the
// model's output ceiling.
func New(estimator *tokens.Estimator, maxTokens int) *Composer {
	if estimator == nil {
		estimator = tokens.New()
	}
	return &Composer{estimator: estimator, maxTokens: maxTokens}
}

// FixedCost is the estimate of everything in the request except history:
// system prompt, RAG block, tools and the user query.
func (c *Composer) FixedCost(in Input) int {
	return c.estimator.Text(in.SystemPrompt) +
		c.estimator.Text(in.RAGBlock) +
		c.estimator.Tools(in.Tools) +
		c.estimator.Text(in.UserQuery)
}

// Compose builds the request in the order system, RAG block, history,
// user query. EstimatedTokens is computed on the emitted payload, so it
// always equals FixedCost plus the cost of the kept rounds.
func (c *Composer) Compose(in Input) Result {
	msgs := make([]models.Message, 0, 3+2*len(in.History))
	if in.SystemPrompt != "" {
		msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: in.SystemPrompt})
	}
	if in.RAGBlock != "" {
		msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: in.RAGBlock})
	}
	for _, round := range in.History {
		msgs = append(msgs, round.Messages()...)
	}
	msgs = append(msgs, models.Message{Role: models.RoleUser, Content: in.UserQuery})

	tools := in.Tools
	if tools == nil {
		tools = []models.ToolDefinition{}
	}

	req := models.LLMRequest{
		Messages:  msgs,
		Tools:     tools,
		MaxTokens: c.maxTokens,
		Stream:    in.Stream,
	}
	return Result{
		Request:         req,
		EstimatedTokens: c.estimator.Request(req),
		RoundsKept:      len(in.History),
	}
}
