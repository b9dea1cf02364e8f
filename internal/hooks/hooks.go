// Package hooks provides an event-driven hook system for courier lifecycle events.
package hooks

import (
	"context"
	"sync"

	"github.com/soyeahso/courier/internal/logging"
)

// Event names for the hook system.
const (
	EventRequestReceived = "request_received"
	EventIntentResolved  = "intent_resolved"
	EventTurnCompleted   = "turn_completed"
	EventTurnFailed      = "turn_failed"
	EventPersistFailed   = "persist_failed"
	EventServerStart     = "server_start"
	EventServerStop      = "server_stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventRequestReceived,
	EventIntentResolved,
	EventTurnCompleted,
	EventTurnFailed,
	EventPersistFailed,
	EventServerStart,
	EventServerStop,
}

// Payload carries event data to hook handlers.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler is a function that handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
	inflight sync.WaitGroup
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event.
// The name identifies the handler for logging and debugging.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes all handlers with the given name from the event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handlers := m.handlers[event]
	filtered := make([]namedHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	m.handlers[event] = filtered
}

// Emit dispatches an event to all registered handlers synchronously.
// Handlers are called in registration order. Errors are logged but do not
// prevent subsequent handlers from running.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	m.mu.RLock()
	handlers := make([]namedHandler, len(m.handlers[event]))
	copy(handlers, m.handlers[event])
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data}

	for _, h := range handlers {
		if err := h.handler(ctx, payload); err != nil {
			m.log.Warn().
				Err(err).
				Str("event", event).
				Str("handler", h.name).
				Msg("hook handler error")
		}
	}
}

// EmitAsync dispatches an event to all registered handlers concurrently.
// Returns immediately; handler errors are logged. Handlers outlive the
// caller's context cancellation but keep its values.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	m.mu.RLock()
	handlers := make([]namedHandler, len(m.handlers[event]))
	copy(handlers, m.handlers[event])
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data}
	ctx = context.WithoutCancel(ctx)

	m.inflight.Add(len(handlers))
	for _, h := range handlers {
		go func(h namedHandler) {
			defer m.inflight.Done()
			if err := h.handler(ctx, payload); err != nil {
				m.log.Warn().
					Err(err).
					Str("event", event).
					Str("handler", h.name).
					Msg("async hook handler error")
			}
		}(h)
	}
}

// Wait blocks until every handler started by EmitAsync has returned,
// or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the number of handlers registered for an event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the list of events that have at least one handler registered.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	return events
}
