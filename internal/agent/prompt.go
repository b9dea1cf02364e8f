package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/llm"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Role        string   // e.g. "shipment tracking"
	Guidelines  []string // bullet points
	References  string   // pre-formatted retrieval context
	ExtraPrompt string   // operator-supplied text from config
}

// BuildSystemPrompt constructs the system prompt for one agent.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the %s assistant of a courier company's customer service.\n", cfg.Role)
	fmt.Fprintf(&b, "Current date: %s\n\n", time.Now().Format("2006-01-02"))

	b.WriteString("Guidelines:\n")
	b.WriteString("- Be friendly, clear and concise.\n")
	b.WriteString("- Only state facts present in the data you are given.\n")
	for _, g := range cfg.Guidelines {
		fmt.Fprintf(&b, "- %s\n", g)
	}

	if cfg.References != "" {
		b.WriteString("\n## References\n\n")
		b.WriteString(cfg.References)
		b.WriteString("\n")
	}

	if cfg.ExtraPrompt != "" {
		b.WriteString("\n")
		b.WriteString(cfg.ExtraPrompt)
		b.WriteString("\n")
	}

	return b.String()
}

// conversationTurns returns up to n prior turns followed by the current
// message.
func conversationTurns(rc *domain.RequestContext, n int) []llm.Message {
	msgs := llm.HistoryMessages(rc.History, n)
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: rc.RawMessage})
}

// priorUserMessage is the latest user turn before the current one.
func priorUserMessage(rc *domain.RequestContext) string {
	return rc.LastUserMessage()
}
