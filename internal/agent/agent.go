// Package agent holds the specialized responders the orchestrator routes
// to, and the registry that maps intents to them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/soyeahso/courier/internal/config"
	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/llm"
)

// Agent answers one turn as a sequence of events. The returned channel is
// closed after the last event. Agents stop promptly once ctx is done.
type Agent interface {
	Name() domain.AgentTag
	Stream(ctx context.Context, rc *domain.RequestContext) <-chan domain.StreamEvent
}

// ErrIncompleteRegistry is returned when some public intent has no agent.
var ErrIncompleteRegistry = errors.New("agent registry: not every intent has an agent")

// Registry maps intents to agents. It is read-only after construction.
type Registry struct {
	agents map[domain.Intent]Agent
}

// NewRegistry validates that every public intent is mapped.
func NewRegistry(agents map[domain.Intent]Agent) (*Registry, error) {
	r := &Registry{agents: make(map[domain.Intent]Agent, len(agents))}
	for _, intent := range domain.Intents {
		a, ok := agents[intent]
		if !ok || a == nil {
			return nil, fmt.Errorf("%w: missing %s", ErrIncompleteRegistry, intent)
		}
		r.agents[intent] = a
	}
	return r, nil
}

// Lookup returns the agent for intent. Unknown or ambiguous intents are
// served by the FAQ agent.
func (r *Registry) Lookup(intent domain.Intent) Agent {
	if a, ok := r.agents[intent]; ok {
		return a
	}
	return r.agents[domain.IntentFAQ]
}

// Names returns the registered agent tags, sorted.
func (r *Registry) Names() []string {
	seen := make(map[domain.AgentTag]bool)
	var names []string
	for _, a := range r.agents {
		if !seen[a.Name()] {
			seen[a.Name()] = true
			names = append(names, string(a.Name()))
		}
	}
	sort.Strings(names)
	return names
}

// Generation holds the settings an agent uses to call a language model.
// A nil Client means the agent answers without generation.
type Generation struct {
	Client       llm.Client
	Model        string
	MaxTokens    int
	Temperature  *float64
	SystemPrompt string        // appended to the agent's built-in prompt
	Timeout      time.Duration // bounds one generation call
}

// GenerationFor resolves the generation settings of the named agent.
func GenerationFor(client llm.Client, cfg config.AgentsConfig, tag domain.AgentTag) Generation {
	e := cfg.Resolve(string(tag))
	return Generation{
		Client:       client,
		Model:        e.Model,
		MaxTokens:    e.MaxTokens,
		Temperature:  e.Temperature,
		SystemPrompt: e.SystemPrompt,
		Timeout:      cfg.Defaults.Timeout,
	}
}

func (g Generation) request(system string, msgs []llm.Message) llm.CompletionRequest {
	return llm.CompletionRequest{
		Model:       g.Model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   g.MaxTokens,
		Temperature: g.Temperature,
	}
}

// emitter sends events for one agent run without blocking past ctx.
type emitter struct {
	ctx context.Context
	out chan<- domain.StreamEvent
	tag domain.AgentTag
}

func (e emitter) send(ev domain.StreamEvent) bool {
	select {
	case e.out <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e emitter) token(text string, payload any) bool {
	return e.send(domain.Token(e.tag, text, payload))
}

func (e emitter) done() bool {
	return e.send(domain.Done())
}

func (e emitter) fail(kind domain.ErrorKind) bool {
	return e.send(domain.Fail(kind, ""))
}

// reply sends a single token and ends the sequence.
func (e emitter) reply(text string, payload any) {
	if e.token(text, payload) {
		e.done()
	}
}

// run starts body in a goroutine and returns its event channel.
func run(ctx context.Context, tag domain.AgentTag, body func(emitter)) <-chan domain.StreamEvent {
	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		body(emitter{ctx: ctx, out: out, tag: tag})
	}()
	return out
}
