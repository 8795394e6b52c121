// Package devservices serves stand-ins for the tool registry, retriever
// and history store so the engine can run locally without its
// collaborators.
package devservices

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/promptengine/pkg/models"
)

// Service holds the in-memory session store behind the stub endpoints.
type Service struct {
	mu       sync.RWMutex
	sessions map[string][]models.Message
}

// New creates a Service seeded with a "demo" session.
func New() *Service {
	return &Service{
		sessions: map[string][]models.Message{
			"demo": {
				{Role: models.RoleUser, Content: "What is machine learning?"},
				{Role: models.RoleAssistant, Content: "Machine learning lets programs improve from data instead of explicit rules."},
				{Role: models.RoleUser, Content: "And deep learning?"},
				{Role: models.RoleAssistant, Content: "Deep learning is machine learning with many-layered neural networks."},
			},
		},
	}
}

// Handler returns the stub routes:
//
//	GET  /tools                 tool definitions in the function-calling shape
//	POST /rag                   {"query", "top_k"} -> {"results", "query", "total_chunks"}
//	GET  /history/{session_id}  {"session_id", "messages"}
//	POST /history/{session_id}  append {"role", "content"}
//	GET  /health
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("POST /rag", s.handleRAG)
	mux.HandleFunc("GET /history/{session_id}", s.handleHistory)
	mux.HandleFunc("POST /history/{session_id}", s.handleAppend)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "healthy",
			"services": map[string]string{"tools": "active", "rag": "active", "history": "active"},
		})
	})
	return mux
}

func (s *Service) handleTools(w http.ResponseWriter, r *http.Request) {
	tools := mockTools()
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":  tools,
		"count":  len(tools),
		"status": "active",
	})
}

type ragQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Service) handleRAG(w http.ResponseWriter, r *http.Request) {
	var q ragQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if q.TopK <= 0 {
		q.TopK = 3
	}
	results := Search(q.Query, q.TopK)
	writeJSON(w, http.StatusOK, map[string]any{
		"results":      results,
		"query":        q.Query,
		"total_chunks": len(results),
	})
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	s.mu.RLock()
	msgs := append([]models.Message(nil), s.sessions[id]...)
	s.mu.RUnlock()
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": msgs})
}

func (s *Service) handleAppend(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	switch msg.Role {
	case models.RoleUser, models.RoleAssistant, models.RoleSystem:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "role must be user, assistant or system"})
		return
	}
	id := r.PathValue("session_id")
	s.mu.Lock()
	s.sessions[id] = append(s.sessions[id], msg)
	count := len(s.sessions[id])
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": count})
}

// Chunk is one knowledge base entry.
type Chunk struct {
	Chunk    string         `json:"chunk"`
	Source   string         `json:"source"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

var knowledgeBase = []Chunk{
	{
		Chunk:    "Machine learning is a branch of artificial intelligence that lets computers learn from data without being explicitly programmed. Using algorithms and statistical models, a machine learning system finds patterns in data and makes predictions or decisions.",
		Source:   "ml_basics.pdf",
		Score:    0.95,
		Metadata: map[string]any{"page": 12, "section": "Introduction"},
	},
	{
		Chunk:    "Deep learning is a subfield of machine learning that uses multi-layer neural networks. It has driven breakthroughs in image recognition, natural language processing and speech recognition.",
		Source:   "deep_learning_intro.pdf",
		Score:    0.92,
		Metadata: map[string]any{"page": 5, "section": "Deep Learning Overview"},
	},
	{
		Chunk:    "Supervised learning is the most common kind of machine learning. It trains models on labelled data where every example pairs input features with the expected output.",
		Source:   "supervised_learning.pdf",
		Score:    0.88,
		Metadata: map[string]any{"page": 23, "section": "Supervised Learning"},
	},
	{
		Chunk:    "Python is a high-level programming language known for concise syntax and a rich library ecosystem. It is one of the most popular languages for data science and machine learning.",
		Source:   "python_guide.pdf",
		Score:    0.85,
		Metadata: map[string]any{"page": 1, "section": "Python Introduction"},
	},
	{
		Chunk:    "A neural network is made of connected nodes arranged in input, hidden and output layers. Every connection has a weight, and the network learns by adjusting those weights.",
		Source:   "neural_networks.pdf",
		Score:    0.83,
		Metadata: map[string]any{"page": 8, "section": "Neural Network Architecture"},
	},
}

var keywordBoosts = []struct {
	keyword string
	boost   float64
}{
	{"python", 0.15},
	{"machine learning", 0.15},
	{"deep learning", 0.12},
	{"neural", 0.08},
}

// Search scores the knowledge base against query and returns the best
// topK chunks. Scores are deterministic and capped at 1.
func Search(query string, topK int) []Chunk {
	q := strings.ToLower(query)
	scored := make([]Chunk, 0, len(knowledgeBase))
	for _, c := range knowledgeBase {
		score := c.Score
		text := strings.ToLower(c.Chunk)
		for _, kb := range keywordBoosts {
			if strings.Contains(q, kb.keyword) && strings.Contains(text, kb.keyword) {
				score += kb.boost
			}
		}
		if score > 1 {
			score = 1
		}
		c.Score = score
		scored = append(scored, c)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

func mockTools() []map[string]any {
	return []map[string]any{
		function("web_search", "Search the web for current information", map[string]any{
			"query":       map[string]any{"type": "string", "description": "Search keywords"},
			"num_results": map[string]any{"type": "integer", "description": "Number of results", "default": 5},
		}, "query"),
		function("calculator", "Evaluate a math expression", map[string]any{
			"expression": map[string]any{"type": "string", "description": "Expression such as '2+2' or 'sqrt(16)'"},
		}, "expression"),
		function("code_executor", "Run a Python snippet", map[string]any{
			"code":    map[string]any{"type": "string", "description": "Python source to execute"},
			"timeout": map[string]any{"type": "integer", "description": "Timeout in seconds", "default": 30},
		}, "code"),
		function("file_reader", "Read a file", map[string]any{
			"file_path": map[string]any{"type": "string", "description": "Path of the file"},
			"encoding":  map[string]any{"type": "string", "description": "File encoding", "default": "utf-8"},
		}, "file_path"),
	}
}

func function(name, description string, properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        name,
			"description": description,
			"parameters": map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}
