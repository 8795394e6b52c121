package sources

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/haasonsaas/promptengine/pkg/models"
)

// ToolSource discovers tool definitions from the tool registry.
type ToolSource struct {
	url    string
	client *http.Client
}

// NewToolSource creates a tool registry adapter.
func NewToolSource(url string, client *http.Client) *ToolSource {
	return &ToolSource{url: url, client: client}
}

// Fetch issues GET url and returns the advertised tools.
//
// Both the flat {name, description, parameters} shape and the
// {type: "function", function: {...}} shape are accepted.
func (s *ToolSource) Fetch(ctx context.Context) ([]models.ToolDefinition, error) {
	body, err := doJSON(ctx, s.client, SourceTools, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	tools, err := parseTools(body)
	if err != nil {
		return nil, unavailable(SourceTools, "decode", err)
	}
	return tools, nil
}

func parseTools(body []byte) ([]models.ToolDefinition, error) {
	root := gjson.ParseBytes(body)
	list := root
	if root.IsObject() {
		list = root.Get("tools")
		if !list.Exists() || list.Type == gjson.Null {
			return []models.ToolDefinition{}, nil
		}
	}
	if !list.IsArray() {
		return nil, errors.New("tools is not an array")
	}

	entries := list.Array()
	tools := make([]models.ToolDefinition, 0, len(entries))
	for _, entry := range entries {
		fn := entry
		if f := entry.Get("function"); f.IsObject() {
			fn = f
		}
		name := fn.Get("name").String()
		if name == "" {
			continue
		}
		td := models.ToolDefinition{
			Name:        name,
			Description: fn.Get("description").String(),
		}
		if params := fn.Get("parameters"); params.Exists() && params.Type != gjson.Null {
			td.Parameters = json.RawMessage(params.Raw)
		}
		tools = append(tools, td)
	}
	return tools, nil
}
