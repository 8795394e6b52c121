package sources

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/haasonsaas/promptengine/pkg/models"
)

// HTTPHistorySource reads prior conversation rounds from the session
// history service. It never writes.
type HTTPHistorySource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPHistorySource creates a history adapter for GET {baseURL}/{session_id}.
func NewHTTPHistorySource(baseURL string, client *http.Client) *HTTPHistorySource {
	return &HTTPHistorySource{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Fetch returns the session's rounds, oldest first.
func (s *HTTPHistorySource) Fetch(ctx context.Context, sessionID string) ([]models.ConversationRound, error) {
	if s.baseURL == "" {
		return nil, unavailable(SourceHistory, "request", errors.New("no url configured"))
	}
	target := s.baseURL + "/" + url.PathEscape(sessionID)
	body, err := doJSON(ctx, s.client, SourceHistory, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	rounds, err := parseHistory(body)
	if err != nil {
		return nil, unavailable(SourceHistory, "decode", err)
	}
	return rounds, nil
}

// parseHistory accepts {"messages": [...]} (flat, grouped here) or
// {"rounds": [{"user": ..., "assistant": ...}]}. A bare array is read as
// a message list.
func parseHistory(body []byte) ([]models.ConversationRound, error) {
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		return models.GroupRounds(parseMessages(root)), nil
	}
	if !root.IsObject() {
		return nil, errors.New("history body is not an object")
	}

	if rounds := root.Get("rounds"); rounds.Exists() && rounds.Type != gjson.Null {
		if !rounds.IsArray() {
			return nil, errors.New("rounds is not an array")
		}
		return parseRounds(rounds), nil
	}

	msgs := root.Get("messages")
	if !msgs.Exists() || msgs.Type == gjson.Null {
		return []models.ConversationRound{}, nil
	}
	if !msgs.IsArray() {
		return nil, errors.New("messages is not an array")
	}
	return models.GroupRounds(parseMessages(msgs)), nil
}

func parseMessages(list gjson.Result) []models.Message {
	entries := list.Array()
	out := make([]models.Message, 0, len(entries))
	for _, entry := range entries {
		role := models.Role(strings.ToLower(entry.Get("role").String()))
		if role == "" {
			continue
		}
		out = append(out, models.Message{Role: role, Content: entry.Get("content").String()})
	}
	return out
}

func parseRounds(list gjson.Result) []models.ConversationRound {
	entries := list.Array()
	out := make([]models.ConversationRound, 0, len(entries))
	for _, entry := range entries {
		r := models.ConversationRound{
			User:      roundHalf(entry.Get("user"), models.RoleUser),
			Assistant: roundHalf(entry.Get("assistant"), models.RoleAssistant),
		}
		if !r.IsEmpty() {
			out = append(out, r)
		}
	}
	return out
}

// roundHalf reads either a bare string or a {role, content} object.
func roundHalf(v gjson.Result, role models.Role) models.Message {
	if !v.Exists() || v.Type == gjson.Null {
		return models.Message{}
	}
	if v.IsObject() {
		return models.Message{Role: role, Content: v.Get("content").String()}
	}
	return models.Message{Role: role, Content: v.String()}
}
