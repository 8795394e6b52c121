// Package block renders retrieved knowledge chunks into the single system
// message that carries RAG context in an outbound request.
package block

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/haasonsaas/promptengine/internal/tokens"
	"github.com/haasonsaas/promptengine/pkg/models"
)

// Config configures block rendering.
type Config struct {
	// MaxChunks is the maximum number of chunks to include. Zero means all.
	MaxChunks int

	// MinScore drops chunks scoring below it. Zero keeps everything.
	MinScore float64

	// MaxTokens caps the estimated size of the chunk lines. Chunks that
	// would overflow are skipped. Zero means no cap.
	MaxTokens int

	// Header is the first line of the block.
	// Default: "RAG Retrieved Knowledge Chunks:"
	Header string

	// ChunkTemplate renders each chunk line.
	// Available variables: {{.Index}}, {{.Score}}, {{.Source}}, {{.Text}}
	ChunkTemplate string
}

// DefaultHeader opens every rendered block.
const DefaultHeader = "RAG Retrieved Knowledge Chunks:"

// DefaultChunkTemplate renders one numbered chunk line.
const DefaultChunkTemplate = "{{.Index}}. (score={{.Score}}) source={{.Source}} -- {{.Text}}"

// DefaultConfig returns the default block configuration.
func DefaultConfig() Config {
	return Config{
		Header:        DefaultHeader,
		ChunkTemplate: DefaultChunkTemplate,
	}
}

// Formatter turns chunks into block text.
type Formatter struct {
	config    Config
	tmpl      *template.Template
	estimator *tokens.Estimator
}

// Block is a rendered RAG block.
type Block struct {
	// Text is the message content; empty when no chunk qualified.
	Text string

	// Chunks are the chunks included, in block order.
	Chunks []models.RetrievedChunk
}

// Empty reports whether the block should be omitted from the request.
func (b Block) Empty() bool {
	return b.Text == ""
}

// Message returns the block as a system message.
func (b Block) Message() models.Message {
	return models.Message{Role: models.RoleSystem, Content: b.Text}
}

type chunkView struct {
	Index  int
	Score  float64
	Source string
	Text   string
}

// NewFormatter parses the chunk template and fills defaults.
func NewFormatter(cfg Config, estimator *tokens.Estimator) (*Formatter, error) {
	if cfg.Header == "" {
		cfg.Header = DefaultHeader
	}
	if cfg.ChunkTemplate == "" {
		cfg.ChunkTemplate = DefaultChunkTemplate
	}
	if estimator == nil {
		estimator = tokens.New()
	}
	tmpl, err := template.New("chunk").Option("missingkey=error").Parse(cfg.ChunkTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse chunk template: %w", err)
	}
	return &Formatter{config: cfg, tmpl: tmpl, estimator: estimator}, nil
}

// MustNewFormatter is like NewFormatter but panics on a bad template.
func MustNewFormatter(cfg Config) *Formatter {
	f, err := NewFormatter(cfg, nil)
	if err != nil {
		panic(err)
	}
	return f
}

// Format selects qualifying chunks (in the given order) and renders them.
// No qualifying chunk yields an empty Block, which callers omit entirely.
func (f *Formatter) Format(chunks []models.RetrievedChunk) (Block, error) {
	if len(chunks) == 0 {
		return Block{}, nil
	}

	var sb strings.Builder
	var selected []models.RetrievedChunk
	usedTokens := 0

	for _, chunk := range chunks {
		if f.config.MaxChunks > 0 && len(selected) >= f.config.MaxChunks {
			break
		}
		if f.config.MinScore > 0 && chunk.Score < f.config.MinScore {
			continue
		}

		source := chunk.Source
		if source == "" {
			source = "unknown"
		}

		var line strings.Builder
		err := f.tmpl.Execute(&line, chunkView{
			Index:  len(selected) + 1,
			Score:  chunk.Score,
			Source: source,
			Text:   chunk.Text,
		})
		if err != nil {
			return Block{}, fmt.Errorf("render chunk: %w", err)
		}

		lineTokens := f.estimator.Text(line.String())
		if f.config.MaxTokens > 0 && usedTokens+lineTokens > f.config.MaxTokens {
			continue
		}

		sb.WriteString("\n")
		sb.WriteString(line.String())
		selected = append(selected, chunk)
		usedTokens += lineTokens
	}

	if len(selected) == 0 {
		return Block{}, nil
	}
	return Block{Text: f.config.Header + sb.String(), Chunks: selected}, nil
}

// FormatBlock renders chunks with the default configuration.
func FormatBlock(chunks []models.RetrievedChunk) string {
	b, err := MustNewFormatter(DefaultConfig()).Format(chunks)
	if err != nil {
		return ""
	}
	return b.Text
}
