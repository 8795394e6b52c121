package dialect

import (
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/promptengine/pkg/models"
)

// GeminiRequest is the body of a generateContent call.
type GeminiRequest struct {
	Model    string                       `json:"model,omitempty"`
	Contents []*genai.Content             `json:"contents"`
	Config   *genai.GenerateContentConfig `json:"config,omitempty"`
}

// ToGemini builds a generateContent request. System messages become the
// system instruction; assistant turns use the model role.
func ToGemini(req models.LLMRequest, opts Options) GeminiRequest {
	system, turns := split(req.Messages)

	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		content := &genai.Content{}
		if t.role == models.RoleAssistant {
			content.Role = genai.RoleModel
		} else {
			content.Role = genai.RoleUser
		}
		for _, text := range t.texts {
			content.Parts = append(content.Parts, &genai.Part{Text: text})
		}
		contents = append(contents, content)
	}

	config := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{}
		for _, s := range system {
			config.SystemInstruction.Parts = append(config.SystemInstruction.Parts, &genai.Part{Text: s})
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = ToGeminiTools(req.Tools)
	}

	return GeminiRequest{
		Model:    opts.Model,
		Contents: contents,
		Config:   config,
	}
}

// ToGeminiTools converts tool definitions to one Gemini tool holding all
// function declarations.
func ToGeminiTools(tools []models.ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  ToGeminiSchema(schemaMap(tool.Parameters)),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// ToGeminiSchema converts a JSON Schema map to Gemini's Schema type.
func ToGeminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := m["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if pm, ok := prop.(map[string]any); ok {
				schema.Properties[name] = ToGeminiSchema(pm)
			}
		}
	}
	if required, ok := m["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		schema.Items = ToGeminiSchema(items)
	}
	return schema
}
