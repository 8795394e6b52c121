package sources

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/haasonsaas/promptengine/pkg/models"
)

// RAGSource queries the retrieval service for knowledge chunks.
type RAGSource struct {
	url    string
	client *http.Client
}

// NewRAGSource creates a retriever adapter.
func NewRAGSource(url string, client *http.Client) *RAGSource {
	return &RAGSource{url: url, client: client}
}

type ragQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Fetch posts the query and returns at most topK chunks ordered by
// descending score. A non-positive topK keeps everything returned.
func (s *RAGSource) Fetch(ctx context.Context, query string, topK int) ([]models.RetrievedChunk, error) {
	body, err := doJSON(ctx, s.client, SourceRAG, http.MethodPost, s.url, ragQuery{Query: query, TopK: topK})
	if err != nil {
		return nil, err
	}
	chunks, err := parseChunks(body)
	if err != nil {
		return nil, unavailable(SourceRAG, "decode", err)
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
	if topK > 0 && len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks, nil
}

func parseChunks(body []byte) ([]models.RetrievedChunk, error) {
	root := gjson.ParseBytes(body)
	list := root
	if root.IsObject() {
		list = root.Get("results")
		if !list.Exists() || list.Type == gjson.Null {
			return []models.RetrievedChunk{}, nil
		}
	}
	if !list.IsArray() {
		return nil, errors.New("results is not an array")
	}

	entries := list.Array()
	chunks := make([]models.RetrievedChunk, 0, len(entries))
	for _, entry := range entries {
		text := firstString(entry, "chunk", "text", "content")
		if text == "" {
			continue
		}
		chunks = append(chunks, models.RetrievedChunk{
			Text:   text,
			Score:  entry.Get("score").Float(),
			Source: firstString(entry, "source", "id"),
		})
	}
	return chunks, nil
}

func firstString(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		if s := v.Get(k).String(); s != "" {
			return s
		}
	}
	return ""
}
