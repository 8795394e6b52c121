// Package models defines the core data types shared by the prompt engine.
package models

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single role-tagged entry in an LLM request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationRound is one user turn plus the assistant reply to it.
//
// A round is atomic: it is included in a request wholly or not at all.
// Rounds fetched from the history service are ordered oldest first and
// are never mutated by the engine.
type ConversationRound struct {
	// User is the user entry that opened the round. Its Role is empty
	// when the history began with a non-user entry.
	User Message `json:"user"`

	// Assistant is the reply. Its Role is empty when the user turn was
	// never answered.
	Assistant Message `json:"assistant"`

	// Extra holds any further entries recorded before the next user turn
	// (for example a second assistant message). Kept in original order.
	Extra []Message `json:"extra,omitempty"`
}

// Messages flattens the round into its entries in original order,
// skipping the empty halves of incomplete rounds.
func (r ConversationRound) Messages() []Message {
	out := make([]Message, 0, 2+len(r.Extra))
	if r.User.Role != "" {
		out = append(out, r.User)
	}
	if r.Assistant.Role != "" {
		out = append(out, r.Assistant)
	}
	out = append(out, r.Extra...)
	return out
}

// IsEmpty reports whether the round carries no entries at all.
func (r ConversationRound) IsEmpty() bool {
	return r.User.Role == "" && r.Assistant.Role == "" && len(r.Extra) == 0
}

// GroupRounds splits a flat, oldest-first message list into rounds.
//
// A new round opens at every user entry. The first assistant entry after
// it becomes the reply; anything else before the next user entry is kept
// in Extra. Entries preceding the first user entry form a round of their
// own so nothing is silently dropped.
func GroupRounds(messages []Message) []ConversationRound {
	var rounds []ConversationRound
	var current *ConversationRound

	flush := func() {
		if current != nil && !current.IsEmpty() {
			rounds = append(rounds, *current)
		}
		current = nil
	}

	for _, m := range messages {
		if m.Role == "" {
			continue
		}
		if m.Role == RoleUser {
			flush()
			current = &ConversationRound{User: m}
			continue
		}
		if current == nil {
			current = &ConversationRound{}
		}
		if m.Role == RoleAssistant && current.Assistant.Role == "" && len(current.Extra) == 0 {
			current.Assistant = m
			continue
		}
		current.Extra = append(current.Extra, m)
	}
	flush()
	return rounds
}
