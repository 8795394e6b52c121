package models

// BuildRequest is the logical request accepted by both transports.
type BuildRequest struct {
	SessionID       string `json:"session_id,omitempty"`
	UserQuery       string `json:"user_query"`
	SystemResources string `json:"system_resources,omitempty"`
	Stream          bool   `json:"stream,omitempty"`
}

// LLMRequest is the provider-agnostic request handed to the downstream
// LLM caller.
type LLMRequest struct {
	Messages  []Message        `json:"messages"`
	Tools     []ToolDefinition `json:"tools"`
	MaxTokens int              `json:"max_tokens"`
	Stream    bool             `json:"stream,omitempty"`
}

// SourceState is the outcome of one external fetch.
type SourceState string

const (
	SourceOK          SourceState = "ok"
	SourceDisabled    SourceState = "disabled"
	SourceSkipped     SourceState = "skipped"
	SourceUnavailable SourceState = "unavailable"
)

// SourceStatus reports how one ingredient was obtained.
type SourceStatus struct {
	State      SourceState `json:"state"`
	Items      int         `json:"items"`
	Attempts   int         `json:"attempts,omitempty"`
	DurationMs int64       `json:"duration_ms"`
	Error      string      `json:"error,omitempty"`
}

// BuildResponse is the logical response returned by both transports.
type BuildResponse struct {
	LLMRequest           LLMRequest              `json:"llm_request"`
	EstimatedTokens      int                     `json:"estimated_tokens"`
	TrimmedHistoryRounds int                     `json:"trimmed_history_rounds"`
	ProcessingTimeMs     float64                 `json:"processing_time_ms"`
	Sources              map[string]SourceStatus `json:"sources,omitempty"`
}
