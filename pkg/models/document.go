package models

// RetrievedChunk is one knowledge snippet returned by the RAG service.
//
// Chunks are scoped to a single request and ordered by descending score.
type RetrievedChunk struct {
	// Text is the snippet content.
	Text string `json:"text"`

	// Score is the relevance score reported by the retriever.
	Score float64 `json:"score"`

	// Source identifies where the snippet came from (file, id, url).
	Source string `json:"source"`
}
