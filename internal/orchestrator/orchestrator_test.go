package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/courier/internal/agent"
	"github.com/soyeahso/courier/internal/assembler"
	"github.com/soyeahso/courier/internal/backend"
	"github.com/soyeahso/courier/internal/classifier"
	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/hooks"
	"github.com/soyeahso/courier/internal/llm"
	"github.com/soyeahso/courier/internal/logging"
	"github.com/soyeahso/courier/internal/store"
	"github.com/soyeahso/courier/internal/stream"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

// scriptedAgent emits a fixed sequence. With hang set it then blocks until
// its context is cancelled.
type scriptedAgent struct {
	tag       domain.AgentTag
	events    []domain.StreamEvent
	hang      bool
	mu        sync.Mutex
	calls     int
	once      sync.Once
	cancelled chan struct{}
}

func newScripted(tag domain.AgentTag, events ...domain.StreamEvent) *scriptedAgent {
	return &scriptedAgent{tag: tag, events: events, cancelled: make(chan struct{})}
}

func (a *scriptedAgent) Name() domain.AgentTag { return a.tag }

func (a *scriptedAgent) Stream(ctx context.Context, _ *domain.RequestContext) <-chan domain.StreamEvent {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		for _, ev := range a.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				a.once.Do(func() { close(a.cancelled) })
				return
			}
		}
		if a.hang {
			<-ctx.Done()
			a.once.Do(func() { close(a.cancelled) })
		}
	}()
	return out
}

func (a *scriptedAgent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// spyClassifier counts calls to the wrapped classifier.
type spyClassifier struct {
	inner Classifier
	mu    sync.Mutex
	calls int
}

func (s *spyClassifier) Classify(ctx context.Context, message string, history []domain.Message) classifier.Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.inner.Classify(ctx, message, history)
}

func (s *spyClassifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixedClassifier domain.Intent

func (f fixedClassifier) Classify(context.Context, string, []domain.Message) classifier.Result {
	return classifier.Result{Intent: domain.Intent(f), Source: "fixed"}
}

type recordingSink struct {
	mu       sync.Mutex
	messages []domain.Message
	convs    []string
}

func (s *recordingSink) Append(conversationID string, msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = append(s.convs, conversationID)
	s.messages = append(s.messages, msg)
}

func (s *recordingSink) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// recorder collects events. After failAfter successful sends it reports
// the caller as gone.
type recorder struct {
	mu        sync.Mutex
	events    []domain.StreamEvent
	failAfter int
	onSend    func(n int)
}

func (r *recorder) Send(ev domain.StreamEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAfter > 0 && len(r.events) >= r.failAfter {
		return errors.New("broken pipe")
	}
	r.events = append(r.events, ev)
	if r.onSend != nil {
		r.onSend(len(r.events))
	}
	return nil
}

func (r *recorder) Events() []domain.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StreamEvent(nil), r.events...)
}

func requireGrammar(t *testing.T, events []domain.StreamEvent) domain.StreamEvent {
	t.Helper()
	require.NotEmpty(t, events)
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, domain.EventToken, ev.Kind, "only tokens may precede the terminal event")
	}
	last := events[len(events)-1]
	require.True(t, last.Terminal())
	return last
}

type fakeTracker struct {
	err error
}

func (f fakeTracker) Track(_ context.Context, awbs []string) ([]backend.TrackingResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]backend.TrackingResult, len(awbs))
	for i, a := range awbs {
		out[i] = backend.TrackingResult{AWB: a, Status: backend.StatusDelivered, StatusText: "Delivered"}
	}
	return out, nil
}

func streamingClient(events ...llm.StreamEvent) *llm.MockClient {
	return &llm.MockClient{StreamFunc: func(context.Context, llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
		return llm.ScriptedStream(events...), nil
	}}
}

type harness struct {
	orch       *Orchestrator
	classifier *spyClassifier
	sink       *recordingSink
	history    *store.MemoryHistory
	agents     map[domain.Intent]agent.Agent
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	agents  map[domain.Intent]agent.Agent
	cls     Classifier
	timeout time.Duration
	hooks   *hooks.Manager
}

func withAgent(intent domain.Intent, a agent.Agent) harnessOption {
	return func(c *harnessConfig) { c.agents[intent] = a }
}

func withClassifier(c Classifier) harnessOption {
	return func(h *harnessConfig) { h.cls = c }
}

func withTimeout(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.timeout = d }
}

func withHooks(m *hooks.Manager) harnessOption {
	return func(c *harnessConfig) { c.hooks = m }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := &harnessConfig{
		agents: map[domain.Intent]agent.Agent{
			domain.IntentTracking:  newScripted(domain.AgentTracking, domain.Token("", "tracking", nil), domain.Done()),
			domain.IntentRates:     newScripted(domain.AgentRates, domain.Token("", "rates", nil), domain.Done()),
			domain.IntentLocations: newScripted(domain.AgentRetail, domain.Token("", "retail", nil), domain.Done()),
			domain.IntentFAQ:       newScripted(domain.AgentFAQ, domain.Token("", "faq", nil), domain.Done()),
		},
		cls: classifier.New(testLogger()),
	}
	for _, o := range opts {
		o(cfg)
	}
	reg, err := agent.NewRegistry(cfg.agents)
	require.NoError(t, err)

	h := store.NewMemoryHistory()
	spy := &spyClassifier{inner: cfg.cls}
	sink := &recordingSink{}
	orch := New(spy, assembler.New(h, h, 10, testLogger()), reg, sink,
		Options{Timeout: cfg.timeout, Hooks: cfg.hooks}, testLogger())
	return &harness{orch: orch, classifier: spy, sink: sink, history: h, agents: cfg.agents}
}

func TestHandle_TrackingTurnStreamsAndPersistsOnce(t *testing.T) {
	client := streamingClient(
		llm.StreamEvent{Type: llm.EventDelta, Content: "Your shipment "},
		llm.StreamEvent{Type: llm.EventDelta, Content: "was delivered."},
		llm.StreamEvent{Type: llm.EventDone},
	)
	tracking := agent.NewTrackingAgent(fakeTracker{}, agent.Generation{Client: client}, time.Second, testLogger())
	h := newHarness(t, withAgent(domain.IntentTracking, tracking))

	rec := &recorder{}
	out := h.orch.Handle(context.Background(), domain.ChatRequest{
		ConversationID: "c1",
		Message:        "track AWB 227047923763",
	}, rec)

	events := rec.Events()
	last := requireGrammar(t, events)
	assert.Equal(t, domain.EventDone, last.Kind)
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, domain.AgentTracking, ev.Agent)
	}
	assert.NotNil(t, events[0].Payload)
	assert.Nil(t, events[1].Payload)

	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, domain.IntentTracking, out.Intent)
	assert.Equal(t, domain.AgentTracking, out.Agent)
	assert.Equal(t, "Your shipment was delivered.", out.Content)
	assert.False(t, out.Disconnected)

	msgs := h.sink.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "c1", h.sink.convs[0])
	assert.Equal(t, domain.RoleAgent, msgs[0].Role)
	assert.Equal(t, domain.AgentTracking, msgs[0].Agent)
	assert.Equal(t, "Your shipment was delivered.", msgs[0].Content)
	assert.False(t, msgs[0].Truncated)
	assert.NotEmpty(t, msgs[0].ID)

	var payload struct {
		Shipments []backend.TrackingResult `json:"shipments"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
	require.Len(t, payload.Shipments, 1)
	assert.Equal(t, "227047923763", payload.Shipments[0].AWB)
}

func TestHandle_EmptyMessageIsMalformed(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}
	out := h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c1", Message: "   "}, rec)

	events := rec.Events()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Failure)
	assert.Equal(t, domain.ErrMalformedRequest, events[0].Failure.Kind)
	assert.Equal(t, domain.AgentSystem, events[0].Agent)
	assert.Equal(t, domain.SafeMessage(domain.ErrMalformedRequest), events[0].Failure.Message)

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, 0, h.classifier.Calls())
	for _, a := range h.agents {
		assert.Equal(t, 0, a.(*scriptedAgent).Calls())
	}
	assert.Empty(t, h.sink.Messages())
}

func TestHandle_MissingConversationIDIsMalformed(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}
	out := h.orch.Handle(context.Background(), domain.ChatRequest{Message: "hello"}, rec)
	assert.Equal(t, domain.ErrMalformedRequest, out.ErrorKind)
	require.Len(t, rec.Events(), 1)
}

func TestHandle_UnknownOverrideIsMalformed(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}
	out := h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c1", Message: "x", SelectedAgent: "billing"}, rec)
	assert.Equal(t, domain.ErrMalformedRequest, out.ErrorKind)
	assert.Equal(t, 0, h.classifier.Calls())
}

func TestHandle_DropAfterThreeTokensIsInterrupted(t *testing.T) {
	client := streamingClient(
		llm.StreamEvent{Type: llm.EventDelta, Content: "one "},
		llm.StreamEvent{Type: llm.EventDelta, Content: "two "},
		llm.StreamEvent{Type: llm.EventDelta, Content: "three"},
		llm.StreamEvent{Type: llm.EventError, Error: "connection reset by peer"},
	)
	faq := agent.NewFAQAgent(nil, 3, agent.Generation{Client: client}, testLogger())
	h := newHarness(t, withAgent(domain.IntentFAQ, faq))

	rec := &recorder{}
	out := h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c1", Message: "what is your refund policy?"}, rec)

	events := rec.Events()
	last := requireGrammar(t, events)
	assert.Len(t, events, 4)
	assert.Equal(t, domain.EventError, last.Kind)
	assert.Equal(t, domain.ErrGenerationInterrupted, last.Failure.Kind)
	assert.Equal(t, domain.AgentFAQ, last.Agent)

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "one two three", out.Content)
	assert.Empty(t, h.sink.Messages())
}

func TestHandle_UpstreamFailureEmitsNoDoneAndPersistsNothing(t *testing.T) {
	tracking := agent.NewTrackingAgent(fakeTracker{err: errors.New("soap: 503")}, agent.Generation{}, time.Second, testLogger())
	h := newHarness(t, withAgent(domain.IntentTracking, tracking))

	rec := &recorder{}
	out := h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c1", Message: "227047923763"}, rec)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventError, events[0].Kind)
	assert.Equal(t, domain.ErrUpstreamUnavailable, events[0].Failure.Kind)
	for _, ev := range events {
		assert.NotEqual(t, domain.EventDone, ev.Kind)
	}
	assert.Equal(t, domain.ErrUpstreamUnavailable, out.ErrorKind)
	assert.Empty(t, h.sink.Messages())
}

func TestHandle_OverridesBypassClassifier(t *testing.T) {
	tests := []struct {
		name  string
		req   domain.ChatRequest
		agent domain.AgentTag
	}{
		{"selected agent", domain.ChatRequest{Message: "track 227047923763", SelectedAgent: "rates"}, domain.AgentRates},
		{"explicit intent", domain.ChatRequest{Message: "track 227047923763", ExplicitIntent: "LOCATIONS"}, domain.AgentRetail},
		{"selected agent wins", domain.ChatRequest{Message: "hi", ExplicitIntent: "FAQ", SelectedAgent: "tracking"}, domain.AgentTracking},
		{"override without text", domain.ChatRequest{SelectedAgent: "faq"}, domain.AgentFAQ},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.req.ConversationID = "c1"
			rec := &recorder{}
			out := h.orch.Handle(context.Background(), tt.req, rec)

			assert.Equal(t, 0, h.classifier.Calls())
			assert.Equal(t, tt.agent, out.Agent)
			assert.Equal(t, domain.EventDone, requireGrammar(t, rec.Events()).Kind)
		})
	}
}

func TestHandle_ClassifierRoutesWithoutOverride(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}
	out := h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c1", Message: "where is the nearest branch?"}, rec)
	assert.Equal(t, 1, h.classifier.Calls())
	assert.Equal(t, domain.IntentLocations, out.Intent)
	assert.Equal(t, domain.AgentRetail, out.Agent)
}

func TestHandle_AmbiguousFallsBackToFAQ(t *testing.T) {
	h := newHarness(t, withClassifier(fixedClassifier(domain.IntentAmbiguous)))
	rec := &recorder{}
	out := h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c1", Message: "hmm"}, rec)
	assert.Equal(t, domain.AgentFAQ, out.Agent)
	assert.Equal(t, "faq", rec.Events()[0].Text)
}

func TestHandle_AttachmentOnlyRoutesToTracking(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}
	out := h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c1", FileID: "f-1"}, rec)
	assert.Equal(t, 0, h.classifier.Calls())
	assert.Equal(t, domain.IntentTracking, out.Intent)
	assert.Equal(t, domain.EventDone, requireGrammar(t, rec.Events()).Kind)
}

func TestHandle_ImplicitDoneWhenAgentClosesEarly(t *testing.T) {
	rates := newScripted(domain.AgentRates, domain.Token("", "5 SAR", map[string]any{"options": 1}))
	h := newHarness(t, withAgent(domain.IntentRates, rates))
	rec := &recorder{}
	out := h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c1", Message: "x", SelectedAgent: "rates"}, rec)

	assert.Equal(t, domain.EventDone, requireGrammar(t, rec.Events()).Kind)
	assert.Equal(t, StateDone, out.State)
	require.Len(t, h.sink.Messages(), 1)
	assert.JSONEq(t, `{"options":1}`, string(h.sink.Messages()[0].Payload))
}

func TestHandle_UnencodablePayloadStillCompletes(t *testing.T) {
	rates := newScripted(domain.AgentRates,
		domain.Token("", "Express: ", map[string]any{"price": math.NaN()}),
		domain.Token("", "57.50 SAR", nil),
		domain.Done(),
	)
	h := newHarness(t, withAgent(domain.IntentRates, rates))

	w := httptest.NewRecorder()
	sse, err := stream.NewSSEWriter(w, "c1")
	require.NoError(t, err)
	out := h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c1", Message: "x", SelectedAgent: "rates"}, sse)

	assert.Equal(t, StateDone, out.State)
	assert.False(t, out.Disconnected)
	assert.False(t, out.Truncated)

	var records []stream.Record
	require.NoError(t, stream.ReadRecords(w.Body, func(r stream.Record) error {
		records = append(records, r)
		return nil
	}))
	require.Len(t, records, 3)
	assert.Equal(t, "Express: ", records[0].Content)
	assert.Nil(t, records[0].Metadata.StructuredPayload)
	assert.Equal(t, stream.TypeDone, records[2].Type)

	msgs := h.sink.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Express: 57.50 SAR", msgs[0].Content)
	assert.False(t, msgs[0].Truncated)
	assert.Nil(t, msgs[0].Payload)
}

func TestHandle_EmptyDoneIsNotPersisted(t *testing.T) {
	faq := newScripted(domain.AgentFAQ, domain.Done())
	h := newHarness(t, withAgent(domain.IntentFAQ, faq))
	rec := &recorder{}
	h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c1", Message: "x", SelectedAgent: "faq"}, rec)

	require.Len(t, rec.Events(), 1)
	assert.Equal(t, domain.EventDone, rec.Events()[0].Kind)
	assert.Empty(t, h.sink.Messages())
}

func TestHandle_TimeoutCancelsAgent(t *testing.T) {
	slow := newScripted(domain.AgentFAQ, domain.Token("", "thinking", nil))
	slow.hang = true
	h := newHarness(t, withAgent(domain.IntentFAQ, slow), withTimeout(50*time.Millisecond))

	rec := &recorder{}
	out := h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c1", Message: "x", SelectedAgent: "faq"}, rec)

	last := requireGrammar(t, rec.Events())
	assert.Equal(t, domain.ErrTimeout, last.Failure.Kind)
	assert.Equal(t, StateFailed, out.State)
	select {
	case <-slow.cancelled:
	case <-time.After(time.Second):
		t.Fatal("agent context was not cancelled")
	}
	assert.Empty(t, h.sink.Messages())
}

func TestHandle_SendFailurePersistsTruncated(t *testing.T) {
	faq := newScripted(domain.AgentFAQ,
		domain.Token("", "Hello ", nil),
		domain.Token("", "there ", nil),
		domain.Token("", "friend", nil),
		domain.Done(),
	)
	h := newHarness(t, withAgent(domain.IntentFAQ, faq))
	rec := &recorder{failAfter: 2}
	out := h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c1", Message: "x", SelectedAgent: "faq"}, rec)

	assert.True(t, out.Disconnected)
	assert.True(t, out.Truncated)
	assert.Len(t, rec.Events(), 2)
	for _, ev := range rec.Events() {
		assert.False(t, ev.Terminal())
	}
	msgs := h.sink.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello there ", msgs[0].Content)
	assert.True(t, msgs[0].Truncated)
	select {
	case <-faq.cancelled:
	case <-time.After(time.Second):
		t.Fatal("agent context was not cancelled")
	}
}

func TestHandle_ContextCancelStopsStream(t *testing.T) {
	slow := newScripted(domain.AgentFAQ, domain.Token("", "partial", nil))
	slow.hang = true
	h := newHarness(t, withAgent(domain.IntentFAQ, slow))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{onSend: func(int) { cancel() }}
	out := h.orch.Handle(ctx, domain.ChatRequest{ConversationID: "c1", Message: "x", SelectedAgent: "faq"}, rec)

	assert.True(t, out.Disconnected)
	require.Len(t, rec.Events(), 1)
	require.Len(t, h.sink.Messages(), 1)
	assert.Equal(t, "partial", h.sink.Messages()[0].Content)
	assert.True(t, h.sink.Messages()[0].Truncated)
}

func TestHandle_HooksFire(t *testing.T) {
	m := hooks.NewManager(testLogger())
	var mu sync.Mutex
	got := map[string]map[string]any{}
	for _, ev := range []string{hooks.EventRequestReceived, hooks.EventIntentResolved, hooks.EventTurnCompleted, hooks.EventTurnFailed} {
		m.On(ev, "test", func(_ context.Context, p hooks.Payload) error {
			mu.Lock()
			defer mu.Unlock()
			got[p.Event] = p.Data
			return nil
		})
	}

	h := newHarness(t, withHooks(m))
	h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c1", Message: "what is COD?"}, &recorder{})
	h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c2"}, &recorder{})
	require.NoError(t, m.Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, got, hooks.EventRequestReceived)
	require.Contains(t, got, hooks.EventIntentResolved)
	assert.Equal(t, "FAQ", got[hooks.EventIntentResolved]["intent"])
	require.Contains(t, got, hooks.EventTurnCompleted)
	assert.Equal(t, "faq", got[hooks.EventTurnCompleted]["agent"])
	require.Contains(t, got, hooks.EventTurnFailed)
	assert.Equal(t, "MalformedRequest", got[hooks.EventTurnFailed]["errorKind"])
}

func TestHandle_ConcurrentTurns(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := &recorder{}
			h.orch.Handle(context.Background(), domain.ChatRequest{ConversationID: "c", Message: "where is my parcel"}, rec)
			assert.Equal(t, domain.EventDone, requireGrammar(t, rec.Events()).Kind)
		}()
	}
	wg.Wait()
	assert.Len(t, h.sink.Messages(), 20)
}
