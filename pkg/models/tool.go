package models

import "encoding/json"

// ToolDefinition describes a callable tool offered to the model.
//
// The engine treats definitions as opaque pass-through data: they are
// never trimmed or rewritten, only estimated and forwarded.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}
