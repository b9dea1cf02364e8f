package config

import "time"

// Config is the root configuration for courier.
type Config struct {
	Server       ServerConfig       `yaml:"server,omitempty"`
	Logging      LoggingConfig      `yaml:"logging,omitempty"`
	History      HistoryConfig      `yaml:"history,omitempty"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator,omitempty"`
	Models       ModelsConfig       `yaml:"models,omitempty"`
	Agents       AgentsConfig       `yaml:"agents,omitempty"`
	Backends     BackendsConfig     `yaml:"backends,omitempty"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge,omitempty"`
	Hooks        HooksConfig        `yaml:"hooks,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket server.
type ServerConfig struct {
	Port           int       `yaml:"port,omitempty"`
	Bind           string    `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string    `yaml:"customBindHost,omitempty"`
	AllowedOrigins []string  `yaml:"allowedOrigins,omitempty"`
	TLS            ServerTLS `yaml:"tls,omitempty"`
}

// ServerTLS configures TLS for the server.
type ServerTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// HistoryConfig selects and tunes conversation storage.
type HistoryConfig struct {
	Driver             string        `yaml:"driver,omitempty"` // "sqlite" | "postgres" | "memory"
	Path               string        `yaml:"path,omitempty"`   // sqlite file; defaults under the data dir
	DSN                string        `yaml:"dsn,omitempty"`    // postgres connection string
	Limit              int           `yaml:"limit,omitempty"`
	RecordUserMessages bool          `yaml:"recordUserMessages"`
	WriteTimeout       time.Duration `yaml:"writeTimeout,omitempty"`
	QueueSize          int           `yaml:"queueSize,omitempty"`
}

// OrchestratorConfig bounds a single turn.
type OrchestratorConfig struct {
	Timeout           time.Duration `yaml:"timeout,omitempty"`
	ClassifierTimeout time.Duration `yaml:"classifierTimeout,omitempty"`
	LLMClassifier     bool          `yaml:"llmClassifier"`
	ClassifierModel   string        `yaml:"classifierModel,omitempty"`
}

// ModelsConfig defines model providers and their models.
type ModelsConfig struct {
	Default   string                        `yaml:"default,omitempty"`
	Fallbacks []string                      `yaml:"fallbacks,omitempty"`
	Providers map[string]ModelProviderEntry `yaml:"providers,omitempty"`
}

// ModelProviderEntry defines a model provider.
type ModelProviderEntry struct {
	API     string                 `yaml:"api,omitempty"` // "openai-completions" | "anthropic-messages"
	BaseURL string                 `yaml:"baseUrl,omitempty"`
	APIKey  string                 `yaml:"apiKey,omitempty"`
	Headers map[string]string      `yaml:"headers,omitempty"`
	Models  []ModelDefinitionEntry `yaml:"models,omitempty"`
}

// ModelDefinitionEntry defines a single model served by a provider.
type ModelDefinitionEntry struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name,omitempty"`
	Aliases   []string `yaml:"aliases,omitempty"`
	MaxTokens int      `yaml:"maxTokens,omitempty"`
}

// AgentsConfig holds generation settings shared by all agents plus
// per-agent overrides.
type AgentsConfig struct {
	Defaults AgentDefaults `yaml:"defaults,omitempty"`
	Tracking AgentEntry    `yaml:"tracking,omitempty"`
	Rates    AgentEntry    `yaml:"rates,omitempty"`
	Retail   AgentEntry    `yaml:"retail,omitempty"`
	FAQ      AgentEntry    `yaml:"faq,omitempty"`
}

// AgentDefaults defines default settings for all agents.
type AgentDefaults struct {
	Model       string        `yaml:"model,omitempty"`
	MaxTokens   int           `yaml:"maxTokens,omitempty"`
	Temperature *float64      `yaml:"temperature,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

// AgentEntry overrides the defaults for one agent.
type AgentEntry struct {
	Model        string   `yaml:"model,omitempty"`
	MaxTokens    int      `yaml:"maxTokens,omitempty"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
	SystemPrompt string   `yaml:"systemPrompt,omitempty"`
}

// Resolve merges the entry for the named agent over the defaults.
func (a AgentsConfig) Resolve(name string) AgentEntry {
	var e AgentEntry
	switch name {
	case "tracking":
		e = a.Tracking
	case "rates":
		e = a.Rates
	case "retail":
		e = a.Retail
	case "faq":
		e = a.FAQ
	}
	if e.Model == "" {
		e.Model = a.Defaults.Model
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = a.Defaults.MaxTokens
	}
	if e.Temperature == nil {
		e.Temperature = a.Defaults.Temperature
	}
	return e
}

// BackendsConfig configures the domain services agents call.
type BackendsConfig struct {
	Tracking TrackingBackend `yaml:"tracking,omitempty"`
	Rates    RatesBackend    `yaml:"rates,omitempty"`
	Retail   RetailBackend   `yaml:"retail,omitempty"`
}

// TrackingBackend configures the SOAP shipment tracking service.
type TrackingBackend struct {
	URL      string        `yaml:"url,omitempty"`
	Username string        `yaml:"username,omitempty"`
	Password string        `yaml:"password,omitempty"`
	Language string        `yaml:"language,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// RatesBackend configures the rate inquiry service.
type RatesBackend struct {
	URL     string        `yaml:"url,omitempty"`
	Passkey string        `yaml:"passkey,omitempty"`
	Country string        `yaml:"country,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// RetailBackend configures the retail center lookup service.
type RetailBackend struct {
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// KnowledgeConfig configures FAQ retrieval.
type KnowledgeConfig struct {
	Enabled   bool   `yaml:"enabled"`
	MaxChunks int    `yaml:"maxChunks,omitempty"`
	Source    string `yaml:"source,omitempty"` // JSONL file imported at startup when the base is empty
}

// HooksConfig defines shell commands run on lifecycle events.
type HooksConfig struct {
	TurnCompleted []HookEntry `yaml:"turnCompleted,omitempty"`
	TurnFailed    []HookEntry `yaml:"turnFailed,omitempty"`
	PersistFailed []HookEntry `yaml:"persistFailed,omitempty"`
	ServerStart   []HookEntry `yaml:"serverStart,omitempty"`
	ServerStop    []HookEntry `yaml:"serverStop,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}
