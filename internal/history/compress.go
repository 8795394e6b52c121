package history

import (
	"unicode"

	"github.com/haasonsaas/promptengine/pkg/models"
)

// CompressedMarker prefixes assistant content shortened by CompressAssistant.
const CompressedMarker = "[COMPRESSED] "

// CompressAssistant shortens assistant messages longer than maxChars runes
// to their head and tail halves joined by " ... ". Rounds are copied; the
// input is never modified. A non-positive maxChars returns rounds as is.
func CompressAssistant(rounds []models.ConversationRound, maxChars int) []models.ConversationRound {
	if maxChars <= 0 || len(rounds) == 0 {
		return rounds
	}

	out := make([]models.ConversationRound, len(rounds))
	for i, r := range rounds {
		r.Assistant = compressMessage(r.Assistant, maxChars)
		if len(r.Extra) > 0 {
			extra := make([]models.Message, len(r.Extra))
			for j, m := range r.Extra {
				extra[j] = compressMessage(m, maxChars)
			}
			r.Extra = extra
		}
		out[i] = r
	}
	return out
}

func compressMessage(m models.Message, maxChars int) models.Message {
	if m.Role != models.RoleAssistant {
		return m
	}
	runes := []rune(m.Content)
	if len(runes) <= maxChars {
		return m
	}
	half := maxChars / 2
	head := trimRightSpace(runes[:half])
	tail := trimLeftSpace(runes[len(runes)-half:])
	m.Content = CompressedMarker + string(head) + " ... " + string(tail)
	return m
}

func trimRightSpace(r []rune) []rune {
	for len(r) > 0 && unicode.IsSpace(r[len(r)-1]) {
		r = r[:len(r)-1]
	}
	return r
}

func trimLeftSpace(r []rune) []rune {
	for len(r) > 0 && unicode.IsSpace(r[0]) {
		r = r[1:]
	}
	return r
}
