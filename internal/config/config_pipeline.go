package config

import (
	"os"
	"strings"

	"github.com/haasonsaas/promptengine/internal/rag/block"
)

// PipelineConfig holds the per-request assembly settings.
type PipelineConfig struct {
	// EnableHistory, EnableTools and EnableRAG default to true.
	EnableHistory *bool `yaml:"enable_history"`
	EnableTools   *bool `yaml:"enable_tools"`
	EnableRAG     *bool `yaml:"enable_rag"`

	// HistoryMaxRounds keeps at most the newest N rounds before token
	// accounting. Omitted means 6; an explicit 0 means no cap.
	HistoryMaxRounds *int `yaml:"history_max_rounds"`

	// MaxTokenBudget is the estimated-token ceiling of the whole payload.
	MaxTokenBudget int `yaml:"max_token_budget"`

	// MaxTokens is the output ceiling stamped on every request.
	MaxTokens int `yaml:"max_tokens"`

	// ReservedOutputTokens is withheld from the history budget.
	ReservedOutputTokens int `yaml:"reserved_output_tokens"`

	// SystemPromptPath is a text/template file. Empty means no system prompt.
	SystemPromptPath string `yaml:"system_prompt_path"`

	// WatchSystemPrompt reloads the template when the file changes.
	WatchSystemPrompt bool `yaml:"watch_system_prompt"`

	RAGTopK     int     `yaml:"rag_top_k"`
	RAGMinScore float64 `yaml:"rag_min_score"`
	RAGHeader   string  `yaml:"rag_header"`

	// RAGMaxTokens caps the rendered chunk lines. Zero means no cap.
	RAGMaxTokens int `yaml:"rag_max_tokens"`

	// CompressAssistantChars compresses assistant replies longer than this
	// many characters. Zero disables compression.
	CompressAssistantChars int `yaml:"compress_assistant_chars"`
}

// HistoryEnabled reports whether session history is fetched.
func (c PipelineConfig) HistoryEnabled() bool { return boolValue(c.EnableHistory, true) }

// ToolsEnabled reports whether tool definitions are fetched.
func (c PipelineConfig) ToolsEnabled() bool { return boolValue(c.EnableTools, true) }

// RAGEnabled reports whether knowledge chunks are fetched.
func (c PipelineConfig) RAGEnabled() bool { return boolValue(c.EnableRAG, true) }

// MaxHistoryRounds returns the round cap, 0 meaning unlimited.
func (c PipelineConfig) MaxHistoryRounds() int {
	if c.HistoryMaxRounds == nil {
		return defaultHistoryMaxRounds
	}
	return *c.HistoryMaxRounds
}

// BlockConfig returns the RAG block formatter settings.
func (c PipelineConfig) BlockConfig() block.Config {
	cfg := block.DefaultConfig()
	cfg.MaxChunks = c.RAGTopK
	cfg.MinScore = c.RAGMinScore
	cfg.MaxTokens = c.RAGMaxTokens
	if c.RAGHeader != "" {
		cfg.Header = c.RAGHeader
	}
	return cfg
}

const defaultHistoryMaxRounds = 6

func applyPipelineDefaults(c *PipelineConfig) {
	if c.HistoryMaxRounds == nil {
		rounds := defaultHistoryMaxRounds
		c.HistoryMaxRounds = &rounds
	}
	if c.MaxTokenBudget == 0 {
		c.MaxTokenBudget = 7000
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.RAGTopK == 0 {
		c.RAGTopK = 3
	}
}

func validatePipeline(c *PipelineConfig) []string {
	var issues []string
	if c.MaxTokenBudget < 1 {
		issues = append(issues, "pipeline.max_token_budget must be positive")
	}
	if c.MaxTokens < 0 {
		issues = append(issues, "pipeline.max_tokens must not be negative")
	}
	if c.ReservedOutputTokens < 0 {
		issues = append(issues, "pipeline.reserved_output_tokens must not be negative")
	}
	if c.MaxHistoryRounds() < 0 {
		issues = append(issues, "pipeline.history_max_rounds must not be negative")
	}
	if c.RAGTopK < 1 {
		issues = append(issues, "pipeline.rag_top_k must be at least 1")
	}
	if c.CompressAssistantChars < 0 {
		issues = append(issues, "pipeline.compress_assistant_chars must not be negative")
	}
	if path := strings.TrimSpace(c.SystemPromptPath); path != "" {
		if info, err := os.Stat(path); err != nil {
			issues = append(issues, "pipeline.system_prompt_path: "+err.Error())
		} else if info.IsDir() {
			issues = append(issues, "pipeline.system_prompt_path is a directory")
		}
	} else if c.WatchSystemPrompt {
		issues = append(issues, "pipeline.watch_system_prompt requires system_prompt_path")
	}
	return issues
}
