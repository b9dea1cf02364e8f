package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailoverSuccess(t *testing.T) {
	mock := &MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Content: "ok"}, nil
		},
	}

	reg := NewRegistry(silentLog())
	reg.Register("mock", mock)
	fc := NewFailoverClient(reg, "mock", nil, silentLog())

	resp, err := fc.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "failover", fc.Name())
}

func TestFailoverTriesFallback(t *testing.T) {
	callOrder := []string{}

	primary := &MockClient{
		ProviderName: "primary",
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			callOrder = append(callOrder, "primary")
			return nil, &ProviderError{Provider: "primary", Message: "overloaded", Code: 529}
		},
	}

	fallback := &MockClient{
		ProviderName: "fallback",
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			callOrder = append(callOrder, "fallback")
			return &CompletionResponse{Content: "fallback response"}, nil
		},
	}

	reg := NewRegistry(silentLog())
	reg.Register("primary", primary)
	reg.Register("fallback", fallback)

	fc := NewFailoverClient(reg, "primary", []string{"fallback"}, silentLog())

	resp, err := fc.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fallback response", resp.Content)
	assert.Equal(t, []string{"primary", "fallback"}, callOrder)
}

func TestFailoverNonRetryableStops(t *testing.T) {
	callCount := 0

	primary := &MockClient{
		ProviderName: "primary",
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			callCount++
			return nil, fmt.Errorf("non-retryable error")
		},
	}

	fallback := &MockClient{
		ProviderName: "fallback",
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			callCount++
			return &CompletionResponse{Content: "should not reach"}, nil
		},
	}

	reg := NewRegistry(silentLog())
	reg.Register("primary", primary)
	reg.Register("fallback", fallback)

	fc := NewFailoverClient(reg, "primary", []string{"fallback"}, silentLog())

	_, err := fc.Complete(context.Background(), CompletionRequest{})
	assert.Error(t, err)
	assert.Equal(t, 1, callCount, "should not try fallback on non-retryable error")
}

func TestFailoverRequestModelWins(t *testing.T) {
	var got string
	mock := &MockClient{
		ProviderName: "openai",
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
			got = req.Model
			return &CompletionResponse{}, nil
		},
	}
	reg := NewRegistry(silentLog())
	reg.Register("openai", mock)
	reg.Alias("gpt-4o", "openai")

	fc := NewFailoverClient(reg, "openai", nil, silentLog())
	_, err := fc.Complete(context.Background(), CompletionRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got)
}

func TestFailoverStreamFirstEventError(t *testing.T) {
	primary := &MockClient{
		ProviderName: "primary",
		StreamFunc: func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
			return ScriptedStream(StreamEvent{Type: EventError, Error: "primary: 503 overloaded"}), nil
		},
	}
	fallback := &MockClient{
		ProviderName: "fallback",
		StreamFunc: func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
			return ScriptedStream(
				StreamEvent{Type: EventDelta, Content: "Hel"},
				StreamEvent{Type: EventDelta, Content: "lo"},
				StreamEvent{Type: EventDone, Response: &CompletionResponse{Content: "Hello"}},
			), nil
		},
	}

	reg := NewRegistry(silentLog())
	reg.Register("primary", primary)
	reg.Register("fallback", fallback)
	fc := NewFailoverClient(reg, "primary", []string{"fallback"}, silentLog())

	ch, err := fc.Stream(context.Background(), CompletionRequest{})
	require.NoError(t, err)

	var text string
	var types []string
	for ev := range ch {
		types = append(types, ev.Type)
		text += ev.Content
	}
	assert.Equal(t, []string{EventDelta, EventDelta, EventDone}, types)
	assert.Equal(t, "Hello", text)
}

func TestFailoverStreamNonRetryable(t *testing.T) {
	primary := &MockClient{
		ProviderName: "primary",
		StreamFunc: func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
			return ScriptedStream(StreamEvent{Type: EventError, Error: "primary: 400 bad request"}), nil
		},
	}
	reg := NewRegistry(silentLog())
	reg.Register("primary", primary)
	fc := NewFailoverClient(reg, "primary", nil, silentLog())

	_, err := fc.Stream(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad request")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&ProviderError{Code: 429}))
	assert.True(t, isRetryable(&ProviderError{Code: 529}))
	assert.True(t, isRetryable(&ProviderError{Code: 503}))
	assert.True(t, isRetryable(fmt.Errorf("server overloaded")))
	assert.True(t, isRetryable(fmt.Errorf("Rate limit exceeded")))
	assert.True(t, isRetryable(fmt.Errorf("openai: 429 too many requests")))
	assert.False(t, isRetryable(fmt.Errorf("invalid input")))
	assert.False(t, isRetryable(nil))
}
