// Package history selects which prior conversation rounds fit into the
// remaining token budget of a request.
package history

import (
	"github.com/haasonsaas/promptengine/internal/tokens"
	"github.com/haasonsaas/promptengine/pkg/models"
)

// Options configures trimming.
type Options struct {
	// MaxRounds caps the number of rounds considered, newest first, before
	// any token accounting. Zero or negative means no cap.
	MaxRounds int
}

// Result is the outcome of one Trim call.
type Result struct {
	// Rounds are the kept rounds, oldest first.
	Rounds []models.ConversationRound

	// Kept is len(Rounds).
	Kept int

	// Dropped counts rounds excluded by the cap or the budget.
	Dropped int

	// TokensUsed is the estimated cost of the kept rounds.
	TokensUsed int

	// Remaining is the budget that was available to history.
	Remaining int
}

// Messages flattens the kept rounds, oldest first.
func (r Result) Messages() []models.Message {
	var out []models.Message
	for _, round := range r.Rounds {
		out = append(out, round.Messages()...)
	}
	return out
}

// Trimmer keeps the longest run of most recent rounds that fits a budget.
type Trimmer struct {
	estimator *tokens.Estimator
	opts      Options
}

// NewTrimmer creates a trimmer. A nil estimator uses the default one.
func NewTrimmer(estimator *tokens.Estimator, opts Options) *Trimmer {
	if estimator == nil {
		estimator = tokens.New()
	}
	return &Trimmer{estimator: estimator, opts: opts}
}

// Trim selects a contiguous suffix of rounds (given oldest first) whose
// cumulative estimate is at most remaining.
//
// Rounds are scanned newest to oldest; the first round that does not fit
// ends the scan, so an older, smaller round is never kept in place of a
// newer one. A round costing exactly the remaining budget fits. When
// remaining is zero or negative nothing is kept and no error is reported.
func (t *Trimmer) Trim(rounds []models.ConversationRound, remaining int) Result {
	result := Result{Remaining: remaining}

	candidates := rounds
	if t.opts.MaxRounds > 0 && len(candidates) > t.opts.MaxRounds {
		candidates = candidates[len(candidates)-t.opts.MaxRounds:]
	}

	if remaining <= 0 || len(candidates) == 0 {
		result.Dropped = len(rounds)
		return result
	}

	// Walk backwards and remember where the kept suffix starts.
	start := len(candidates)
	used := 0
	for i := len(candidates) - 1; i >= 0; i-- {
		cost := t.estimator.Round(candidates[i])
		if used+cost > remaining {
			break
		}
		used += cost
		start = i
	}

	kept := candidates[start:]
	result.Rounds = make([]models.ConversationRound, len(kept))
	copy(result.Rounds, kept)
	result.Kept = len(kept)
	result.Dropped = len(rounds) - len(kept)
	result.TokensUsed = used
	return result
}
