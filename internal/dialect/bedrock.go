package dialect

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/promptengine/pkg/models"
)

// ToBedrock builds a Converse request. System messages become system
// content blocks; consecutive same-role messages share one message.
func ToBedrock(req models.LLMRequest, opts Options) *bedrockruntime.ConverseInput {
	system, turns := split(req.Messages)

	in := &bedrockruntime.ConverseInput{}
	if opts.Model != "" {
		in.ModelId = aws.String(opts.Model)
	}
	for _, s := range system {
		in.System = append(in.System, &types.SystemContentBlockMemberText{Value: s})
	}
	for _, t := range turns {
		role := types.ConversationRoleUser
		if t.role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		content := make([]types.ContentBlock, 0, len(t.texts))
		for _, text := range t.texts {
			content = append(content, &types.ContentBlockMemberText{Value: text})
		}
		in.Messages = append(in.Messages, types.Message{Role: role, Content: content})
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		in.InferenceConfig = &types.InferenceConfiguration{
			// #nosec G115 -- bounded by min above
			MaxTokens: aws.Int32(int32(maxTokens)),
		}
	}
	if len(req.Tools) > 0 {
		in.ToolConfig = ToBedrockTools(req.Tools)
	}
	return in
}

// ToBedrockTools converts tool definitions to a Bedrock tool configuration.
func ToBedrockTools(tools []models.ToolDefinition) *types.ToolConfiguration {
	specs := make([]types.Tool, len(tools))
	for i, tool := range tools {
		spec := types.ToolSpecification{
			Name:        aws.String(tool.Name),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaMap(tool.Parameters))},
		}
		if tool.Description != "" {
			spec.Description = aws.String(tool.Description)
		}
		specs[i] = &types.ToolMemberToolSpec{Value: spec}
	}
	return &types.ToolConfiguration{Tools: specs}
}

// BedrockWire renders a Converse input as the JSON body of the Converse
// REST API. The SDK's union types do not marshal with encoding/json, so
// the members used by ToBedrock are mapped by hand.
func BedrockWire(in *bedrockruntime.ConverseInput) (map[string]any, error) {
	out := map[string]any{}
	if in.ModelId != nil {
		out["modelId"] = aws.ToString(in.ModelId)
	}

	if len(in.System) > 0 {
		system := make([]map[string]any, 0, len(in.System))
		for _, block := range in.System {
			text, ok := block.(*types.SystemContentBlockMemberText)
			if !ok {
				return nil, fmt.Errorf("bedrock: unsupported system block %T", block)
			}
			system = append(system, map[string]any{"text": text.Value})
		}
		out["system"] = system
	}

	messages := make([]map[string]any, 0, len(in.Messages))
	for _, m := range in.Messages {
		content := make([]map[string]any, 0, len(m.Content))
		for _, block := range m.Content {
			text, ok := block.(*types.ContentBlockMemberText)
			if !ok {
				return nil, fmt.Errorf("bedrock: unsupported content block %T", block)
			}
			content = append(content, map[string]any{"text": text.Value})
		}
		messages = append(messages, map[string]any{
			"role":    string(m.Role),
			"content": content,
		})
	}
	out["messages"] = messages

	if in.InferenceConfig != nil && in.InferenceConfig.MaxTokens != nil {
		out["inferenceConfig"] = map[string]any{"maxTokens": aws.ToInt32(in.InferenceConfig.MaxTokens)}
	}

	if in.ToolConfig != nil && len(in.ToolConfig.Tools) > 0 {
		tools := make([]map[string]any, 0, len(in.ToolConfig.Tools))
		for _, tool := range in.ToolConfig.Tools {
			spec, ok := tool.(*types.ToolMemberToolSpec)
			if !ok {
				return nil, fmt.Errorf("bedrock: unsupported tool %T", tool)
			}
			entry := map[string]any{"name": aws.ToString(spec.Value.Name)}
			if spec.Value.Description != nil {
				entry["description"] = aws.ToString(spec.Value.Description)
			}
			if schema, ok := spec.Value.InputSchema.(*types.ToolInputSchemaMemberJson); ok && schema.Value != nil {
				raw, err := schema.Value.MarshalSmithyDocument()
				if err != nil {
					return nil, fmt.Errorf("bedrock: encode schema for %s: %w", aws.ToString(spec.Value.Name), err)
				}
				entry["inputSchema"] = map[string]any{"json": json.RawMessage(raw)}
			}
			tools = append(tools, map[string]any{"toolSpec": entry})
		}
		out["toolConfig"] = map[string]any{"tools": tools}
	}
	return out, nil
}
