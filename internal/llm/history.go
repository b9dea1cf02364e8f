package llm

import (
	"strings"

	"github.com/soyeahso/courier/internal/domain"
)

// HistoryMessages converts the last n stored messages into generation
// turns. Empty messages are skipped.
func HistoryMessages(history []domain.Message, n int) []Message {
	if n >= 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]Message, 0, len(history)+1)
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := RoleUser
		if m.Role == domain.RoleAgent {
			role = RoleAssistant
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	return out
}
