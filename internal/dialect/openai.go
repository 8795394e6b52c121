package dialect

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/promptengine/pkg/models"
)

// ToOpenAI builds a chat completion request. OpenAI accepts system
// messages inline, so message order is preserved exactly.
func ToOpenAI(req models.LLMRequest, opts Options) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	out := openai.ChatCompletionRequest{
		Model:     opts.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}
	if len(req.Tools) > 0 {
		out.Tools = ToOpenAITools(req.Tools)
	}
	return out
}

// ToOpenAITools converts tool definitions to OpenAI function tools.
func ToOpenAITools(tools []models.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap(tool.Parameters),
			},
		}
	}
	return result
}
