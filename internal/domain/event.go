package domain

// EventKind is the type of a stream event.
type EventKind string

const (
	EventToken EventKind = "token"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// Failure describes a terminal error event.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// StreamEvent is one element of the per-request event sequence.
// A sequence is zero or more tokens followed by exactly one done or error.
type StreamEvent struct {
	Kind    EventKind
	Text    string
	Agent   AgentTag
	Payload any
	Failure *Failure
}

// Token builds a token event.
func Token(agent AgentTag, text string, payload any) StreamEvent {
	return StreamEvent{Kind: EventToken, Agent: agent, Text: text, Payload: payload}
}

// Done builds the success terminal event.
func Done() StreamEvent {
	return StreamEvent{Kind: EventDone}
}

// Fail builds the error terminal event. An empty message is replaced with
// the caller-safe text for the kind.
func Fail(kind ErrorKind, message string) StreamEvent {
	if message == "" {
		message = SafeMessage(kind)
	}
	return StreamEvent{Kind: EventError, Failure: &Failure{Kind: kind, Message: message}}
}

// Terminal reports whether the event ends its sequence.
func (e StreamEvent) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}
