package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Intent tests ---

func TestParseIntent(t *testing.T) {
	tests := []struct {
		in      string
		want    Intent
		wantErr bool
	}{
		{in: "TRACKING", want: IntentTracking},
		{in: "rates", want: IntentRates},
		{in: " Locations ", want: IntentLocations},
		{in: "faq", want: IntentFAQ},
		{in: "AMBIGUOUS", wantErr: true},
		{in: "weather", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIntent(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIntentAgent(t *testing.T) {
	assert.Equal(t, AgentTracking, IntentTracking.Agent())
	assert.Equal(t, AgentRates, IntentRates.Agent())
	assert.Equal(t, AgentRetail, IntentLocations.Agent())
	assert.Equal(t, AgentFAQ, IntentFAQ.Agent())
	assert.Equal(t, AgentFAQ, IntentAmbiguous.Agent())
}

func TestIntentForAgent(t *testing.T) {
	i, err := IntentForAgent("retail")
	require.NoError(t, err)
	assert.Equal(t, IntentLocations, i)

	i, err = IntentForAgent("Tracking")
	require.NoError(t, err)
	assert.Equal(t, IntentTracking, i)

	_, err = IntentForAgent("system")
	assert.Error(t, err)
}

// --- Request tests ---

func TestChatRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{name: "plain message", req: ChatRequest{ConversationID: "c1", Message: "hi"}},
		{name: "empty message", req: ChatRequest{ConversationID: "c1"}, wantErr: true},
		{name: "whitespace message", req: ChatRequest{ConversationID: "c1", Message: "  \n"}, wantErr: true},
		{name: "missing conversation", req: ChatRequest{Message: "hi"}, wantErr: true},
		{name: "attachment only", req: ChatRequest{ConversationID: "c1", FileID: "f1"}},
		{name: "selected agent only", req: ChatRequest{ConversationID: "c1", SelectedAgent: "tracking"}},
		{name: "unknown intent", req: ChatRequest{ConversationID: "c1", Message: "hi", ExplicitIntent: "WEATHER"}, wantErr: true},
		{name: "unknown agent", req: ChatRequest{ConversationID: "c1", Message: "hi", SelectedAgent: "billing"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, ErrMalformedRequest, KindOf(err))
		})
	}
}

func TestChatRequestOverridePriority(t *testing.T) {
	req := ChatRequest{ExplicitIntent: "RATES", SelectedAgent: "retail"}
	i, ok, err := req.Override()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, IntentLocations, i)

	req = ChatRequest{ExplicitIntent: "rates"}
	i, ok, err = req.Override()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, IntentRates, i)

	_, ok, err = ChatRequest{}.Override()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChatRequestJSON(t *testing.T) {
	raw := `{"conversationId":"c1","userId":"u1","message":"track 1234567890","selectedAgent":"tracking","fileId":"f9"}`
	var req ChatRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))

	assert.Equal(t, "c1", req.ConversationID)
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, "tracking", req.SelectedAgent)
	require.NotNil(t, req.Attachment())
	assert.Equal(t, "f9", req.Attachment().FileID)
}

func TestLastUserMessage(t *testing.T) {
	rc := &RequestContext{History: []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAgent, Content: "reply"},
		{Role: RoleUser, Content: "second"},
		{Role: RoleAgent, Content: "reply 2"},
	}}
	assert.Equal(t, "second", rc.LastUserMessage())
	assert.Equal(t, "", (&RequestContext{}).LastUserMessage())
}

// --- Event tests ---

func TestStreamEventConstructors(t *testing.T) {
	tok := Token(AgentFAQ, "hello", nil)
	assert.Equal(t, EventToken, tok.Kind)
	assert.False(t, tok.Terminal())

	assert.True(t, Done().Terminal())

	fail := Fail(ErrTimeout, "")
	assert.True(t, fail.Terminal())
	require.NotNil(t, fail.Failure)
	assert.Equal(t, ErrTimeout, fail.Failure.Kind)
	assert.Equal(t, SafeMessage(ErrTimeout), fail.Failure.Message)
}

// --- Error tests ---

func TestErrorKindFatal(t *testing.T) {
	assert.False(t, ErrClassificationDegraded.Fatal())
	assert.False(t, ErrHistoryUnavailable.Fatal())
	assert.True(t, ErrUpstreamUnavailable.Fatal())
	assert.True(t, ErrGenerationInterrupted.Fatal())
	assert.True(t, ErrTimeout.Fatal())
	assert.True(t, ErrMalformedRequest.Fatal())
}

func TestErrorWrapping(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("tracking lookup: %w", WrapError(ErrUpstreamUnavailable, base))

	assert.Equal(t, ErrUpstreamUnavailable, KindOf(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "UpstreamUnavailable")
	assert.Equal(t, ErrorKind(""), KindOf(base))
}

// --- Message tests ---

func TestMessageJSON_OmitsEmpty(t *testing.T) {
	msg := Message{Role: RoleUser, Content: "hello", Timestamp: time.Now().UTC()}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	raw := string(data)
	assert.NotContains(t, raw, "attachment")
	assert.NotContains(t, raw, "structuredPayload")
	assert.NotContains(t, raw, "truncated")
}

func TestAttachmentMetadataExtracted(t *testing.T) {
	var nilMeta *AttachmentMetadata
	assert.Equal(t, "", nilMeta.Extracted("awb"))

	meta := &AttachmentMetadata{ExtractedData: map[string]string{"awb": "290019315863"}}
	assert.Equal(t, "290019315863", meta.Extracted("awb"))

	var ref *AttachmentRef
	assert.True(t, ref.Empty())
	assert.False(t, (&AttachmentRef{FileURL: "https://x"}).Empty())
}

func TestExtractAWBs(t *testing.T) {
	got := ExtractAWBs("AWB 227047923763 and 1234567890, again 227047923763; not 12345")
	assert.Equal(t, []string{"227047923763", "1234567890"}, got)
	assert.Empty(t, ExtractAWBs("nothing here"))
	assert.True(t, ContainsAWB("track 1234567890 please"))
	assert.False(t, ContainsAWB("order 1234567890123456789"))
}
