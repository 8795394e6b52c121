// Package tokens provides a fast, deterministic token estimator.
//
// The estimate is a heuristic, not a tokenizer: it never performs I/O and
// always returns the same figure for the same input, which is what the
// budget arithmetic in the pipeline relies on.
package tokens

import (
	"encoding/json"
	"unicode/utf8"

	"golang.org/x/text/width"

	"github.com/haasonsaas/promptengine/pkg/models"
)

// CharsPerToken is the default number of ASCII characters per token.
const CharsPerToken = 4

// Unit weights per rune class. A token is CharsPerToken units.
const (
	asciiUnits  = 1
	narrowUnits = 2
	wideUnits   = 4
)

// Estimator approximates token counts for text, messages and tool lists.
// The zero value is ready to use.
type Estimator struct {
	// CharsPerToken overrides the default ASCII characters per token.
	CharsPerToken int
}

// New returns an estimator with the default ratio.
func New() *Estimator {
	return &Estimator{CharsPerToken: CharsPerToken}
}

// Text estimates the token count of s.
//
// ASCII runes weigh one unit, other narrow runes two, and East Asian wide
// or fullwidth runes four, so CJK text is not undercounted. Every rune
// adds a positive weight, which keeps the estimate monotonic under
// superstrings.
func (e *Estimator) Text(s string) int {
	if s == "" {
		return 0
	}
	units := 0
	for i := 0; i < len(s); {
		b := s[i]
		if b < utf8.RuneSelf {
			units += asciiUnits
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		units += runeUnits(r)
	}
	cpt := e.charsPerToken()
	return (units + cpt - 1) / cpt
}

// Message estimates the cost of one message.
func (e *Estimator) Message(m models.Message) int {
	return e.Text(m.Content)
}

// Messages sums the per-message estimates.
func (e *Estimator) Messages(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.Message(m)
	}
	return total
}

// Round estimates a conversation round as the sum of its entries.
func (e *Estimator) Round(r models.ConversationRound) int {
	return e.Messages(r.Messages())
}

// Tools estimates a tool list from its compact JSON encoding.
func (e *Estimator) Tools(tools []models.ToolDefinition) int {
	if len(tools) == 0 {
		return 0
	}
	data, err := json.Marshal(tools)
	if err != nil {
		// Parameters that fail to encode are counted by their raw bytes.
		total := 0
		for _, t := range tools {
			total += e.Text(t.Name) + e.Text(t.Description) + e.Text(string(t.Parameters))
		}
		return total
	}
	return e.Text(string(data))
}

// Request estimates the full emitted payload: every message plus tools.
func (e *Estimator) Request(r models.LLMRequest) int {
	return e.Messages(r.Messages) + e.Tools(r.Tools)
}

func (e *Estimator) charsPerToken() int {
	if e == nil || e.CharsPerToken <= 0 {
		return CharsPerToken
	}
	return e.CharsPerToken
}

func runeUnits(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return wideUnits
	default:
		return narrowUnits
	}
}
