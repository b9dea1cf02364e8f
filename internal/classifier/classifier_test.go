package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/llm"
	"github.com/soyeahso/courier/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

// countingFallback records calls and returns a fixed answer.
type countingFallback struct {
	intent domain.Intent
	err    error
	calls  int
}

func (f *countingFallback) Classify(context.Context, string, []domain.Message) (domain.Intent, error) {
	f.calls++
	return f.intent, f.err
}

func TestClassify_Heuristics(t *testing.T) {
	c := New(testLogger())

	tests := []struct {
		msg    string
		intent domain.Intent
		source string
	}{
		{"track AWB 227047923763", domain.IntentTracking, "tracking_number"},
		{"227047923763", domain.IntentTracking, "tracking_number"},
		{"Where is my parcel?", domain.IntentTracking, "tracking_keywords"},
		{"I need the waybill status", domain.IntentTracking, "tracking_keywords"},
		{"How much to send 5 kg?", domain.IntentRates, "rates"},
		{"shipping from riyadh to jeddah", domain.IntentRates, "rates"},
		{"give me a quote please", domain.IntentRates, "rates"},
		{"Where is the nearest branch?", domain.IntentLocations, "locations"},
		{"opening hours in Dammam", domain.IntentLocations, "locations"},
		{"What is your refund policy?", domain.IntentFAQ, "faq_keywords"},
		{"Are batteries prohibited?", domain.IntentFAQ, "faq_keywords"},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			r := c.Classify(context.Background(), tt.msg, nil)
			assert.Equal(t, tt.intent, r.Intent)
			assert.Equal(t, tt.source, r.Source)
			assert.False(t, r.Degraded)
		})
	}
}

func TestClassify_PriorityTrackingNumberBeatsRates(t *testing.T) {
	c := New(testLogger())
	r := c.Classify(context.Background(), "what is the price for 227047923763 from riyadh to jeddah", nil)
	assert.Equal(t, domain.IntentTracking, r.Intent)
	assert.Equal(t, "tracking_number", r.Source)
}

func TestClassify_PriorityRatesBeatsLocations(t *testing.T) {
	c := New(testLogger())
	r := c.Classify(context.Background(), "how much does the nearest branch charge", nil)
	assert.Equal(t, domain.IntentRates, r.Intent)
}

func TestClassify_Deterministic(t *testing.T) {
	fb := &countingFallback{intent: domain.IntentRates}
	c := New(testLogger(), WithFallback(fb, time.Second))

	first := c.Classify(context.Background(), "track 1234567890", nil)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, c.Classify(context.Background(), "track 1234567890", nil))
	}
	assert.Zero(t, fb.calls, "fallback must not run when a heuristic fires")
}

func TestClassify_FallbackUsed(t *testing.T) {
	fb := &countingFallback{intent: domain.IntentLocations}
	c := New(testLogger(), WithFallback(fb, time.Second))

	r := c.Classify(context.Background(), "hello there", nil)
	assert.Equal(t, domain.IntentLocations, r.Intent)
	assert.Equal(t, SourceLLM, r.Source)
	assert.False(t, r.Degraded)
	assert.Equal(t, 1, fb.calls)
}

func TestClassify_FallbackErrorDegradesToFAQ(t *testing.T) {
	fb := &countingFallback{err: errors.New("connection refused")}
	c := New(testLogger(), WithFallback(fb, time.Second))

	r := c.Classify(context.Background(), "hello there", nil)
	assert.Equal(t, domain.IntentFAQ, r.Intent)
	assert.True(t, r.Degraded)
}

func TestClassify_FallbackAmbiguousDegrades(t *testing.T) {
	fb := &countingFallback{intent: domain.IntentAmbiguous}
	c := New(testLogger(), WithFallback(fb, time.Second))

	r := c.Classify(context.Background(), "hmm", nil)
	assert.Equal(t, domain.IntentFAQ, r.Intent)
	assert.True(t, r.Degraded)
}

func TestClassify_FallbackTimeout(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	c := New(testLogger(), WithFallback(NewLLMFallback(client, ""), 20*time.Millisecond))

	start := time.Now()
	r := c.Classify(context.Background(), "hello there", nil)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, domain.IntentFAQ, r.Intent)
	assert.True(t, r.Degraded)
}

func TestClassify_NoFallbackDefaultsToFAQ(t *testing.T) {
	c := New(testLogger())
	r := c.Classify(context.Background(), "hello there", nil)
	assert.Equal(t, domain.IntentFAQ, r.Intent)
	assert.Equal(t, SourceDefault, r.Source)
	assert.False(t, r.Degraded)
}

func TestClassify_EmptyMessage(t *testing.T) {
	fb := &countingFallback{intent: domain.IntentRates}
	c := New(testLogger(), WithFallback(fb, time.Second))

	r := c.Classify(context.Background(), "   ", nil)
	assert.Equal(t, domain.IntentFAQ, r.Intent)
	assert.Equal(t, SourceEmpty, r.Source)
	assert.Zero(t, fb.calls)
}

func TestLLMFallback_ParsesFencedJSON(t *testing.T) {
	var got llm.CompletionRequest
	client := &llm.MockClient{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			got = req
			return &llm.CompletionResponse{Content: "```json\n{\"intent\": \"rates\", \"confidence\": 0.9}\n```"}, nil
		},
	}
	f := NewLLMFallback(client, "classifier-model")

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAgent, Content: "hello, how can I help?"},
	}
	intent, err := f.Classify(context.Background(), "and to Dubai?", history)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentRates, intent)

	assert.Equal(t, "classifier-model", got.Model)
	require.NotNil(t, got.Temperature)
	assert.Zero(t, *got.Temperature)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, llm.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "and to Dubai?", got.Messages[2].Content)
}

func TestLLMFallback_General(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: `{"intent":"GENERAL","confidence":0.4}`}, nil
		},
	}
	_, err := NewLLMFallback(client, "").Classify(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GENERAL")
}

func TestLLMFallback_Garbage(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "I think it's tracking"}, nil
		},
	}
	_, err := NewLLMFallback(client, "").Classify(context.Background(), "hi", nil)
	assert.Error(t, err)
}
