// Package llm defines the generation client interface and the provider
// registry. Providers are reached through their official SDKs; any
// OpenAI-compatible endpoint is served by the openai-completions client.
package llm

import (
	"context"
	"time"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Stream event types.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a Complete or Stream call.
type CompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"maxTokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	Content    string        `json:"content"`
	StopReason string        `json:"stopReason,omitempty"`
	Usage      Usage         `json:"usage"`
	Model      string        `json:"model,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// StreamEvent is a chunk from a streaming completion.
type StreamEvent struct {
	Type    string `json:"type"`              // "delta", "done", "error"
	Content string `json:"content,omitempty"` // text delta
	Error   string `json:"error,omitempty"`   // error message (type="error")

	// Final fields (type="done")
	Response *CompletionResponse `json:"response,omitempty"`
}

// Client is the interface all generation providers implement.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a request and returns a channel of streaming events.
	// The channel is closed after a done or error event.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	// Name returns the provider name (e.g., "openai", "anthropic").
	Name() string
}

// send delivers ev unless ctx is done first.
func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
