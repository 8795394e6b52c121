// Package dialect re-encodes a provider-agnostic request in the wire
// shape of a specific LLM provider SDK.
package dialect

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/promptengine/pkg/models"
)

// Name identifies a provider dialect.
type Name string

const (
	OpenAI    Name = "openai"
	Anthropic Name = "anthropic"
	Gemini    Name = "gemini"
	Bedrock   Name = "bedrock"
)

// Names lists every supported dialect.
var Names = []Name{OpenAI, Anthropic, Gemini, Bedrock}

// Parse resolves a dialect name, case-insensitively.
func Parse(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Names {
		if n == known {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown dialect %q", s)
}

// Options tunes the converted request.
type Options struct {
	// Model is stamped on the request where the provider carries it in
	// the body. Empty leaves it unset.
	Model string
}

// Convert re-encodes req for the named provider. The returned value is
// the provider SDK's own request type and marshals to the provider's
// JSON body (bedrock excepted, see ToBedrock).
func Convert(name Name, req models.LLMRequest, opts Options) (any, error) {
	switch name {
	case OpenAI:
		return ToOpenAI(req, opts), nil
	case Anthropic:
		return ToAnthropic(req, opts)
	case Gemini:
		return ToGemini(req, opts), nil
	case Bedrock:
		in := ToBedrock(req, opts)
		return BedrockWire(in)
	default:
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
}

// turn is a run of consecutive same-role messages.
type turn struct {
	role  models.Role
	texts []string
}

// split separates system content from the conversation and merges
// consecutive same-role messages, since several providers require strict
// user/assistant alternation and carry system text out of band.
func split(msgs []models.Message) (system []string, turns []turn) {
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		if m.Content == "" {
			continue
		}
		role := m.Role
		if role != models.RoleAssistant {
			role = models.RoleUser
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].texts = append(turns[n-1].texts, m.Content)
			continue
		}
		turns = append(turns, turn{role: role, texts: []string{m.Content}})
	}
	return system, turns
}

// schemaMap decodes tool parameters, falling back to an empty object
// schema when they are absent or invalid.
func schemaMap(params json.RawMessage) map[string]any {
	var m map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &m); err == nil && m != nil {
			return m
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}
