package llm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/soyeahso/courier/internal/config"
	"github.com/soyeahso/courier/internal/logging"
)

// ProviderError is returned when a generation provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP-like status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Registry manages generation provider clients and resolves model references to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model alias → provider name
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients:  make(map[string]Client),
		aliases:  make(map[string]string),
		log:      log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// Alias maps a model name/alias to a provider.
// e.g., Alias("gpt-4o-mini", "openai") means "gpt-4o-mini" resolves to the "openai" provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the default provider used when no model/provider match is found.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given model reference.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Direct provider name match
	if c, ok := r.clients[model]; ok {
		return c, nil
	}

	// Alias lookup
	if provider, ok := r.aliases[model]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}

	// Fallback
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}

	return nil, fmt.Errorf("no LLM provider for model %q", model)
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	return names
}

// NewRegistryFromConfig builds a Registry with one SDK client per
// configured provider. Model ids and aliases resolve to their provider;
// cfg.Default (or the only provider) is the fallback.
func NewRegistryFromConfig(cfg config.ModelsConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := cfg.Providers[name]
		var refs []string
		switch strings.ToLower(entry.API) {
		case "anthropic-messages":
			c := NewAnthropicClient(name, entry)
			reg.Register(name, c)
			refs = c.models.refs()
		default:
			c := NewOpenAIClient(name, entry)
			reg.Register(name, c)
			refs = c.models.refs()
		}
		for _, ref := range refs {
			reg.Alias(ref, name)
		}
	}

	switch {
	case cfg.Default != "":
		if _, ok := cfg.Providers[cfg.Default]; ok {
			reg.SetFallback(cfg.Default)
		} else if p, ok := reg.aliases[cfg.Default]; ok {
			reg.SetFallback(p)
		}
	case len(names) == 1:
		reg.SetFallback(names[0])
	}

	return reg
}

// ErrNoProviders is returned when no generation provider is configured.
var ErrNoProviders = errors.New("no model providers configured")

// NewClientFromConfig builds the failover client agents and the
// classifier use. The primary model is cfg.Default.
func NewClientFromConfig(cfg config.ModelsConfig, log *logging.Logger) (Client, error) {
	if len(cfg.Providers) == 0 {
		return nil, ErrNoProviders
	}
	reg := NewRegistryFromConfig(cfg, log)
	primary := cfg.Default
	if primary == "" {
		primary = reg.fallback
	}
	return NewFailoverClient(reg, primary, cfg.Fallbacks, log), nil
}
