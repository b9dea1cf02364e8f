// Package orchestrator drives one conversational turn from request to
// terminal stream event: classify, assemble context, dispatch to an agent,
// relay its events, and schedule persistence.
package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/courier/internal/agent"
	"github.com/soyeahso/courier/internal/classifier"
	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/hooks"
	"github.com/soyeahso/courier/internal/logging"
)

// DefaultTimeout is the hard ceiling on one turn.
const DefaultTimeout = 2 * time.Minute

// State is a step of the per-request state machine.
type State string

const (
	StateReceived     State = "RECEIVED"
	StateClassified   State = "CLASSIFIED"
	StateContextReady State = "CONTEXT_READY"
	StateDispatched   State = "DISPATCHED"
	StateStreaming    State = "STREAMING"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// Emitter delivers events to the caller. An error means the caller is gone.
type Emitter interface {
	Send(ev domain.StreamEvent) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev domain.StreamEvent) error

func (f EmitterFunc) Send(ev domain.StreamEvent) error { return f(ev) }

// Classifier resolves the intent of a message.
type Classifier interface {
	Classify(ctx context.Context, message string, history []domain.Message) classifier.Result
}

// Assembler builds the context an agent answers from.
type Assembler interface {
	Assemble(ctx context.Context, req domain.ChatRequest, intent domain.Intent) *domain.RequestContext
}

// AgentLookup maps an intent to the agent serving it.
type AgentLookup interface {
	Lookup(intent domain.Intent) agent.Agent
}

// Sink records agent messages without blocking the caller.
type Sink interface {
	Append(conversationID string, msg domain.Message)
}

// Outcome summarizes a finished turn for the transport and for logs.
type Outcome struct {
	State        State
	Intent       domain.Intent
	Agent        domain.AgentTag
	Content      string
	ErrorKind    domain.ErrorKind
	Truncated    bool
	Disconnected bool
}

// Options tune an Orchestrator.
type Options struct {
	// Timeout is the hard ceiling on one turn. Zero means DefaultTimeout;
	// negative disables the ceiling.
	Timeout time.Duration
	Hooks   *hooks.Manager
}

// Orchestrator runs turns. It is safe for concurrent use.
type Orchestrator struct {
	classifier Classifier
	assembler  Assembler
	agents     AgentLookup
	sink       Sink
	timeout    time.Duration
	hooks      *hooks.Manager
	log        *logging.Logger
}

// New creates an orchestrator.
func New(cls Classifier, asm Assembler, agents AgentLookup, sink Sink, opts Options, log *logging.Logger) *Orchestrator {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Orchestrator{
		classifier: cls,
		assembler:  asm,
		agents:     agents,
		sink:       sink,
		timeout:    opts.Timeout,
		hooks:      opts.Hooks,
		log:        log.Sub("orchestrator"),
	}
}

// turn carries the bookkeeping of one Handle call.
type turn struct {
	req     domain.ChatRequest
	start   time.Time
	out     Emitter
	outcome Outcome
	content strings.Builder
	payload json.RawMessage
	log     *logging.Logger
}

// Handle runs one turn, relaying events to out as they are produced. It
// returns after the terminal event was sent or the caller went away.
// Every stream it writes is zero or more tokens followed by exactly one
// done or error event; a disconnected caller receives no terminal event.
func (o *Orchestrator) Handle(ctx context.Context, req domain.ChatRequest, out Emitter) Outcome {
	t := &turn{
		req:     req,
		start:   time.Now(),
		out:     out,
		outcome: Outcome{State: StateReceived},
		log:     o.log.With("conversationId", req.ConversationID),
	}
	o.emit(ctx, hooks.EventRequestReceived, map[string]any{
		"conversationId": req.ConversationID,
		"userId":         req.UserID,
		"hasAttachment":  req.Attachment() != nil,
	})

	if err := req.Validate(); err != nil {
		t.log.Warn().Err(err).Str("kind", string(domain.ErrMalformedRequest)).Msg("request rejected")
		return o.fail(ctx, t, domain.AgentSystem, domain.Fail(domain.ErrMalformedRequest, ""))
	}

	intent := o.resolveIntent(ctx, t)
	t.outcome.Intent = intent
	t.transition(StateClassified)

	rc := o.assembler.Assemble(ctx, req, intent)
	t.transition(StateContextReady)

	a := o.agents.Lookup(intent)
	t.outcome.Agent = a.Name()
	t.transition(StateDispatched)

	if ctx.Err() != nil {
		return o.disconnected(ctx, t)
	}
	return o.stream(ctx, t, a, rc)
}

// resolveIntent applies caller overrides, then the classifier. Overrides
// bypass classification entirely.
func (o *Orchestrator) resolveIntent(ctx context.Context, t *turn) domain.Intent {
	req := t.req
	data := map[string]any{"conversationId": req.ConversationID}
	defer func() { o.emit(ctx, hooks.EventIntentResolved, data) }()

	// Validate already rejected malformed overrides.
	if intent, forced, _ := req.Override(); forced {
		data["intent"], data["source"] = string(intent), "override"
		t.log.Info().Str("intent", string(intent)).Msg("intent forced by caller")
		return intent
	}

	// An upload without text is a waybill photo in practice.
	if strings.TrimSpace(req.Message) == "" && req.Attachment() != nil {
		data["intent"], data["source"] = string(domain.IntentTracking), "attachment"
		t.log.Info().Str("intent", string(domain.IntentTracking)).Msg("attachment-only turn routed to tracking")
		return domain.IntentTracking
	}

	res := o.classifier.Classify(ctx, req.Message, nil)
	data["intent"], data["source"], data["degraded"] = string(res.Intent), res.Source, res.Degraded
	t.log.Info().
		Str("intent", string(res.Intent)).
		Str("source", res.Source).
		Bool("degraded", res.Degraded).
		Msg("intent classified")
	return res.Intent
}

func (o *Orchestrator) stream(ctx context.Context, t *turn, a agent.Agent, rc *domain.RequestContext) Outcome {
	tag := a.Name()
	agentCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ceiling <-chan time.Time
	if o.timeout > 0 {
		timer := time.NewTimer(o.timeout)
		defer timer.Stop()
		ceiling = timer.C
	}

	t.log.Debug().Str("agent", string(tag)).Int("historyLen", len(rc.History)).Msg("dispatching")
	events := a.Stream(agentCtx, rc)
	t.transition(StateStreaming)

	for {
		select {
		case <-ctx.Done():
			cancel()
			return o.disconnected(ctx, t)

		case <-ceiling:
			cancel()
			t.log.Warn().Str("agent", string(tag)).Dur("timeout", o.timeout).Msg("turn exceeded ceiling")
			return o.fail(ctx, t, tag, domain.Fail(domain.ErrTimeout, ""))

		case ev, ok := <-events:
			if !ok {
				// A sequence closed without a terminal event ended normally.
				return o.done(ctx, t)
			}
			switch ev.Kind {
			case domain.EventToken:
				ev.Agent = tag
				raw := t.encodePayload(ev.Payload)
				ev.Payload = nil
				if raw != nil {
					ev.Payload = raw
				}
				if err := t.out.Send(ev); err != nil {
					cancel()
					t.log.Info().Err(err).Msg("caller went away mid-stream")
					return o.disconnected(ctx, t)
				}
				t.content.WriteString(ev.Text)
				if raw != nil {
					t.payload = raw
				}
			case domain.EventDone:
				return o.done(ctx, t)
			case domain.EventError:
				cancel()
				return o.fail(ctx, t, tag, ev)
			}
		}
	}
}

// encodePayload renders an agent payload to JSON before it reaches the
// emitter, so an emitter error always means the caller is gone. A payload
// that cannot be encoded is dropped and the token text still goes out.
func (t *turn) encodePayload(payload any) json.RawMessage {
	if payload == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.log.Warn().Err(err).Msg("structured payload not serializable, dropping it")
		return nil
	}
	return raw
}

// done finalizes a successful turn and schedules its persistence.
func (o *Orchestrator) done(ctx context.Context, t *turn) Outcome {
	if ctx.Err() != nil {
		return o.disconnected(ctx, t)
	}
	if err := t.out.Send(domain.StreamEvent{Kind: domain.EventDone, Agent: t.outcome.Agent}); err != nil {
		t.log.Info().Err(err).Msg("caller went away before done")
		return o.disconnected(ctx, t)
	}
	t.transition(StateDone)
	t.outcome.Content = t.content.String()
	o.persist(t, false)
	o.emit(ctx, hooks.EventTurnCompleted, t.summary())
	t.log.Info().
		Str("agent", string(t.outcome.Agent)).
		Int("chars", len(t.outcome.Content)).
		Dur("duration", time.Since(t.start)).
		Msg("turn completed")
	return t.outcome
}

// disconnected stops a turn whose caller is gone. Whatever was streamed is
// kept, flagged as truncated. No further events are sent.
func (o *Orchestrator) disconnected(ctx context.Context, t *turn) Outcome {
	t.outcome.Disconnected = true
	t.outcome.Truncated = true
	t.outcome.Content = t.content.String()
	t.transition(StateDone)
	o.persist(t, true)
	o.emit(ctx, hooks.EventTurnCompleted, t.summary())
	t.log.Info().
		Str("agent", string(t.outcome.Agent)).
		Int("chars", len(t.outcome.Content)).
		Msg("turn abandoned by caller")
	return t.outcome
}

// fail sends the single error event and finalizes without persistence.
func (o *Orchestrator) fail(ctx context.Context, t *turn, tag domain.AgentTag, ev domain.StreamEvent) Outcome {
	if ev.Failure == nil {
		ev = domain.Fail(domain.ErrUpstreamUnavailable, "")
	}
	ev.Agent = tag
	t.outcome.ErrorKind = ev.Failure.Kind
	t.outcome.Content = t.content.String()
	t.transition(StateFailed)

	if err := t.out.Send(ev); err != nil {
		t.log.Debug().Err(err).Msg("error event not delivered")
	}
	data := t.summary()
	data["errorKind"] = string(ev.Failure.Kind)
	o.emit(ctx, hooks.EventTurnFailed, data)
	t.log.Warn().
		Str("agent", string(tag)).
		Str("kind", string(ev.Failure.Kind)).
		Dur("duration", time.Since(t.start)).
		Msg("turn failed")
	return t.outcome
}

func (o *Orchestrator) persist(t *turn, truncated bool) {
	content := t.content.String()
	if content == "" && t.payload == nil {
		return
	}
	msg := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleAgent,
		Agent:     t.outcome.Agent,
		UserID:    t.req.UserID,
		Content:   content,
		Truncated: truncated,
		Timestamp: time.Now().UTC(),
	}
	if t.payload != nil {
		msg.Payload = t.payload
	}
	o.sink.Append(t.req.ConversationID, msg)
}

func (o *Orchestrator) emit(ctx context.Context, event string, data map[string]any) {
	if o.hooks != nil {
		o.hooks.EmitAsync(ctx, event, data)
	}
}

func (t *turn) transition(s State) {
	t.log.Debug().Str("from", string(t.outcome.State)).Str("state", string(s)).Msg("state")
	t.outcome.State = s
}

func (t *turn) summary() map[string]any {
	return map[string]any{
		"conversationId": t.req.ConversationID,
		"intent":         string(t.outcome.Intent),
		"agent":          string(t.outcome.Agent),
		"chars":          t.content.Len(),
		"truncated":      t.outcome.Truncated,
		"durationMs":     time.Since(t.start).Milliseconds(),
	}
}
