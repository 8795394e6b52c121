package devservices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/promptengine/internal/sources"
	"github.com/haasonsaas/promptengine/pkg/models"
)

// The stubs must speak exactly what the real adapters parse.
func TestStubsSatisfyAdapters(t *testing.T) {
	ts := httptest.NewServer(New().Handler())
	defer ts.Close()

	client := sources.NewHTTPClient(sources.DefaultPoolConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tools, err := sources.NewToolSource(ts.URL+"/tools", client).Fetch(ctx)
	if err != nil {
		t.Fatalf("tools Fetch() error = %v", err)
	}
	if len(tools) != 4 || tools[0].Name != "web_search" || len(tools[0].Parameters) == 0 {
		t.Errorf("tools = %+v", tools)
	}

	chunks, err := sources.NewRAGSource(ts.URL+"/rag", client).Fetch(ctx, "python for machine learning", 2)
	if err != nil {
		t.Fatalf("rag Fetch() error = %v", err)
	}
	if len(chunks) != 2 || chunks[0].Source == "" {
		t.Errorf("chunks = %+v", chunks)
	}

	rounds, err := sources.NewHTTPHistorySource(ts.URL+"/history", client).Fetch(ctx, "demo")
	if err != nil {
		t.Fatalf("history Fetch() error = %v", err)
	}
	if len(rounds) != 2 || rounds[1].User.Content != "And deep learning?" {
		t.Errorf("rounds = %+v", rounds)
	}

	empty, err := sources.NewHTTPHistorySource(ts.URL+"/history", client).Fetch(ctx, "nobody")
	if err != nil || len(empty) != 0 {
		t.Errorf("unknown session = %+v, %v", empty, err)
	}
}

func TestAppendHistory(t *testing.T) {
	svc := New()
	h := svc.Handler()

	for _, body := range []string{
		`{"role":"user","content":"hi"}`,
		`{"role":"assistant","content":"hello"}`,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/history/s1", strings.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("append status = %d: %s", rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/history/s1", strings.NewReader(`{"role":"tool","content":"x"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad role status = %d, want 400", rec.Code)
	}

	svc.mu.RLock()
	got := svc.sessions["s1"]
	svc.mu.RUnlock()
	want := []models.Message{{Role: models.RoleUser, Content: "hi"}, {Role: models.RoleAssistant, Content: "hello"}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("session = %+v", got)
	}
}

func TestSearch(t *testing.T) {
	results := Search("Tell me about Python", 1)
	if len(results) != 1 || results[0].Source != "python_guide.pdf" {
		t.Fatalf("Search() = %+v, want the python chunk first", results)
	}
	for _, c := range Search("machine learning deep learning python", 5) {
		if c.Score > 1 {
			t.Errorf("score %v exceeds 1", c.Score)
		}
	}
	if got := Search("anything", 0); len(got) != len(knowledgeBase) {
		t.Errorf("topK 0 returned %d chunks, want all", len(got))
	}
}
