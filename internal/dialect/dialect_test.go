package dialect

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"github.com/haasonsaas/promptengine/pkg/models"
)

func sampleRequest() models.LLMRequest {
	return models.LLMRequest{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "be helpful"},
			{Role: models.RoleSystem, Content: "RAG Retrieved Knowledge Chunks:\n1. (score=0.9) source=kb -- go"},
			{Role: models.RoleUser, Content: "q1"},
			{Role: models.RoleAssistant, Content: "a1"},
			{Role: models.RoleAssistant, Content: "a1 follow-up"},
			{Role: models.RoleUser, Content: "q2"},
		},
		Tools: []models.ToolDefinition{
			{
				Name:        "search",
				Description: "Search the web",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`),
			},
			{Name: "noop"},
		},
		MaxTokens: 512,
	}
}

func TestParse(t *testing.T) {
	for _, in := range []string{"openai", "Anthropic", " gemini ", "BEDROCK"} {
		if _, err := Parse(in); err != nil {
			t.Errorf("Parse(%q): %v", in, err)
		}
	}
	if _, err := Parse("cohere"); err == nil {
		t.Error("expected error for unknown dialect")
	}
}

func TestSplit(t *testing.T) {
	system, turns := split(sampleRequest().Messages)
	if len(system) != 2 {
		t.Fatalf("system = %v, want 2 entries", system)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	if turns[1].role != models.RoleAssistant || len(turns[1].texts) != 2 {
		t.Errorf("consecutive assistant messages not merged: %+v", turns[1])
	}
}

func TestSchemaMapFallback(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, json.RawMessage(`{broken`), json.RawMessage(`null`)} {
		m := schemaMap(raw)
		if m["type"] != "object" {
			t.Errorf("schemaMap(%s) = %v, want empty object schema", raw, m)
		}
	}
}

func TestToOpenAI(t *testing.T) {
	req := sampleRequest()
	req.Stream = true
	out := ToOpenAI(req, Options{Model: "gpt-4o"})

	if out.Model != "gpt-4o" || out.MaxTokens != 512 || !out.Stream {
		t.Errorf("request header fields = %q %d %v", out.Model, out.MaxTokens, out.Stream)
	}
	if len(out.Messages) != len(req.Messages) {
		t.Fatalf("got %d messages, want %d (order preserved)", len(out.Messages), len(req.Messages))
	}
	if out.Messages[0].Role != openai.ChatMessageRoleSystem || out.Messages[3].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("roles not mapped: %+v", out.Messages)
	}
	if len(out.Tools) != 2 || out.Tools[0].Function.Name != "search" {
		t.Fatalf("tools = %+v", out.Tools)
	}
	params, ok := out.Tools[1].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("missing parameters should become an empty object schema, got %#v", out.Tools[1].Function.Parameters)
	}
}

func TestToAnthropic(t *testing.T) {
	params, err := ToAnthropic(sampleRequest(), Options{Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("ToAnthropic: %v", err)
	}
	if len(params.System) != 2 || params.System[0].Text != "be helpful" {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("got %d messages, want 3 alternating turns", len(params.Messages))
	}
	if params.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d", params.MaxTokens)
	}
	if len(params.Tools) != 2 || params.Tools[0].OfTool == nil || params.Tools[0].OfTool.Name != "search" {
		t.Fatalf("tools = %+v", params.Tools)
	}

	data, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := gjson.ParseBytes(data)
	if got := body.Get("messages.1.role").String(); got != "assistant" {
		t.Errorf("messages.1.role = %q", got)
	}
	if got := body.Get("messages.1.content.#").Int(); got != 2 {
		t.Errorf("merged assistant turn has %d blocks, want 2", got)
	}
	if got := body.Get("tools.0.input_schema.properties.q.type").String(); got != "string" {
		t.Errorf("tool schema lost: %s", body.Get("tools.0").Raw)
	}
}

func TestToGemini(t *testing.T) {
	out := ToGemini(sampleRequest(), Options{Model: "gemini-2.0-flash"})

	if out.Config == nil || out.Config.SystemInstruction == nil || len(out.Config.SystemInstruction.Parts) != 2 {
		t.Fatalf("system instruction = %+v", out.Config)
	}
	if out.Config.MaxOutputTokens != 512 {
		t.Errorf("MaxOutputTokens = %d", out.Config.MaxOutputTokens)
	}
	if len(out.Contents) != 3 {
		t.Fatalf("got %d contents, want 3", len(out.Contents))
	}
	if out.Contents[1].Role != genai.RoleModel {
		t.Errorf("assistant role = %q, want model", out.Contents[1].Role)
	}
	if len(out.Config.Tools) != 1 || len(out.Config.Tools[0].FunctionDeclarations) != 2 {
		t.Fatalf("tools = %+v", out.Config.Tools)
	}
	decl := out.Config.Tools[0].FunctionDeclarations[0]
	if decl.Parameters == nil || decl.Parameters.Type != genai.TypeObject {
		t.Errorf("parameters = %+v", decl.Parameters)
	}
	if p := decl.Parameters.Properties["q"]; p == nil || p.Type != genai.TypeString {
		t.Errorf("property q = %+v", p)
	}
	if len(decl.Parameters.Required) != 1 {
		t.Errorf("required = %v", decl.Parameters.Required)
	}
}

func TestToBedrock(t *testing.T) {
	in := ToBedrock(sampleRequest(), Options{Model: "anthropic.claude-3-haiku"})

	if aws.ToString(in.ModelId) != "anthropic.claude-3-haiku" {
		t.Errorf("ModelId = %v", in.ModelId)
	}
	if len(in.System) != 2 {
		t.Errorf("system blocks = %d, want 2", len(in.System))
	}
	if len(in.Messages) != 3 || in.Messages[1].Role != types.ConversationRoleAssistant {
		t.Fatalf("messages = %+v", in.Messages)
	}
	if in.InferenceConfig == nil || aws.ToInt32(in.InferenceConfig.MaxTokens) != 512 {
		t.Errorf("inference config = %+v", in.InferenceConfig)
	}
	spec, ok := in.ToolConfig.Tools[0].(*types.ToolMemberToolSpec)
	if !ok {
		t.Fatalf("expected ToolMemberToolSpec, got %T", in.ToolConfig.Tools[0])
	}
	if aws.ToString(spec.Value.Name) != "search" || spec.Value.InputSchema == nil {
		t.Errorf("tool spec = %+v", spec.Value)
	}
	noop := in.ToolConfig.Tools[1].(*types.ToolMemberToolSpec)
	if noop.Value.Description != nil {
		t.Error("empty description should stay unset")
	}
}

func TestBedrockWire(t *testing.T) {
	wire, err := BedrockWire(ToBedrock(sampleRequest(), Options{}))
	if err != nil {
		t.Fatalf("BedrockWire: %v", err)
	}
	data, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := gjson.ParseBytes(data)

	if body.Get("modelId").Exists() {
		t.Error("modelId should be omitted when no model is set")
	}
	if got := body.Get("system.0.text").String(); got != "be helpful" {
		t.Errorf("system.0.text = %q", got)
	}
	if got := body.Get("messages.#").Int(); got != 3 {
		t.Errorf("messages = %d, want 3", got)
	}
	if got := body.Get("messages.1.content.1.text").String(); got != "a1 follow-up" {
		t.Errorf("messages.1.content.1.text = %q", got)
	}
	if got := body.Get("inferenceConfig.maxTokens").Int(); got != 512 {
		t.Errorf("maxTokens = %d", got)
	}
	if got := body.Get("toolConfig.tools.0.toolSpec.inputSchema.json.required.0").String(); got != "q" {
		t.Errorf("tool schema = %s", body.Get("toolConfig").Raw)
	}
}

func TestConvert(t *testing.T) {
	req := sampleRequest()
	for _, name := range Names {
		out, err := Convert(name, req, Options{Model: "m"})
		if err != nil {
			t.Errorf("Convert(%s): %v", name, err)
			continue
		}
		if _, err := json.Marshal(out); err != nil {
			t.Errorf("Convert(%s) result does not marshal: %v", name, err)
		}
	}
	if _, err := Convert("cohere", req, Options{}); err == nil {
		t.Error("expected error for unknown dialect")
	}
}
