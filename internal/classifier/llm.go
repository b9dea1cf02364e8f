package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/llm"
)

const classifyPrompt = `You are an intent classifier for a courier customer-service assistant.
Classify the user's message into one of these intents:
- TRACKING: shipment tracking (e.g. "track AWB 123", "where is my package")
- RATES: shipping price inquiries (e.g. "how much to ship", "rate from Riyadh to Jeddah")
- LOCATIONS: service center or branch locations (e.g. "nearest branch", "Riyadh office")
- FAQ: general questions (e.g. "what is your return policy", "how do I schedule a pickup")
- GENERAL: anything else

Respond with JSON only:
{"intent": "TRACKING|RATES|LOCATIONS|FAQ|GENERAL", "confidence": 0.0-1.0}`

// historyTurns is how many prior messages accompany the classification prompt.
const historyTurns = 5

type errUnrecognized string

func (e errUnrecognized) Error() string {
	return fmt.Sprintf("unrecognized intent %q", string(e))
}

// LLMFallback asks a generation backend for the intent.
type LLMFallback struct {
	client llm.Client
	model  string
}

// NewLLMFallback creates a fallback using client. An empty model uses the
// client's default.
func NewLLMFallback(client llm.Client, model string) *LLMFallback {
	return &LLMFallback{client: client, model: model}
}

type classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Classify makes one completion call and parses its JSON answer.
func (f *LLMFallback) Classify(ctx context.Context, message string, history []domain.Message) (domain.Intent, error) {
	temp := 0.0
	req := llm.CompletionRequest{
		Model:       f.model,
		System:      classifyPrompt,
		Messages:    append(llm.HistoryMessages(history, historyTurns), llm.Message{Role: llm.RoleUser, Content: message}),
		MaxTokens:   200,
		Temperature: &temp,
	}

	resp, err := f.client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}

	var c classification
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &c); err != nil {
		return "", fmt.Errorf("classify: parse %q: %w", resp.Content, err)
	}
	intent, err := domain.ParseIntent(c.Intent)
	if err != nil {
		return "", errUnrecognized(c.Intent)
	}
	return intent, nil
}

// stripFences removes a surrounding ```json ... ``` block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
