package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/soyeahso/courier/internal/logging"
)

// FailoverClient wraps a provider registry to try fallback models on failure.
type FailoverClient struct {
	registry  *Registry
	primary   string
	fallbacks []string
	log       *logging.Logger
}

// NewFailoverClient creates a client that tries the primary model first,
// then falls back through the list on retryable errors (401, 429, 5xx).
func NewFailoverClient(registry *Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		log:       log.Sub("failover"),
	}
}

func (f *FailoverClient) Name() string { return "failover" }

func (f *FailoverClient) models(req CompletionRequest) []string {
	first := req.Model
	if first == "" {
		first = f.primary
	}
	return append([]string{first}, f.fallbacks...)
}

// Complete tries the primary provider, falling back on retryable errors.
func (f *FailoverClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	for _, model := range f.models(req) {
		client, err := f.registry.Resolve(model)
		if err != nil {
			f.log.Debug().Str("model", model).Err(err).Msg("no provider for model, skipping")
			lastErr = err
			continue
		}

		req.Model = model
		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if isRetryable(err) {
			f.log.Warn().
				Str("model", model).
				Err(err).
				Msg("retryable error, trying next provider")
			continue
		}

		// Non-retryable error, stop here.
		return nil, err
	}

	return nil, lastErr
}

// Stream tries the primary provider for streaming, with failover.
// SDK streams report connection failures as their first event, so the
// first event is inspected before the stream is handed to the caller.
func (f *FailoverClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	var lastErr error
	for _, model := range f.models(req) {
		client, err := f.registry.Resolve(model)
		if err != nil {
			lastErr = err
			continue
		}

		req.Model = model
		ch, err := client.Stream(ctx, req)
		if err != nil {
			lastErr = err
			if isRetryable(err) {
				f.log.Warn().Str("model", model).Err(err).Msg("retryable stream error, trying next provider")
				continue
			}
			return nil, err
		}

		var first StreamEvent
		var ok bool
		select {
		case first, ok = <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if !ok {
			lastErr = &ProviderError{Provider: client.Name(), Message: "stream closed without events"}
			continue
		}
		if first.Type == EventError {
			lastErr = errors.New(first.Error)
			if isRetryable(lastErr) {
				f.log.Warn().Str("model", model).Str("error", first.Error).Msg("retryable stream error, trying next provider")
				continue
			}
			return nil, lastErr
		}

		return prepend(ctx, first, ch), nil
	}

	return nil, lastErr
}

// prepend returns a channel yielding first and then everything from rest.
func prepend(ctx context.Context, first StreamEvent, rest <-chan StreamEvent) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		if !send(ctx, out, first) {
			return
		}
		for ev := range rest {
			if !send(ctx, out, ev) {
				return
			}
		}
	}()
	return out
}

// isRetryable checks if the error suggests trying another provider.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case 401, 403, 429, 500, 502, 503, 529:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, ": 429 ") ||
		strings.Contains(msg, ": 503 ")
}
