package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Server validation
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		add("server.port", "port must be 0-65535, got %d", cfg.Server.Port)
	}

	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Server.Bind != "" && !slices.Contains(validBinds, cfg.Server.Bind) {
		add("server.bind", "must be one of %v, got %q", validBinds, cfg.Server.Bind)
	}
	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		add("server.customBindHost", "required when bind is custom")
	}
	if cfg.Server.TLS.Enabled && (cfg.Server.TLS.CertPath == "" || cfg.Server.TLS.KeyPath == "") {
		add("server.tls", "certPath and keyPath are required when TLS is enabled")
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	// History validation
	validDrivers := []string{"sqlite", "postgres", "memory"}
	if !slices.Contains(validDrivers, cfg.History.Driver) {
		add("history.driver", "must be one of %v, got %q", validDrivers, cfg.History.Driver)
	}
	if cfg.History.Driver == "postgres" && cfg.History.DSN == "" {
		add("history.dsn", "required when driver is postgres")
	}
	if cfg.History.Limit <= 0 {
		add("history.limit", "must be positive, got %d", cfg.History.Limit)
	}
	if cfg.History.WriteTimeout < 0 {
		add("history.writeTimeout", "must not be negative")
	}

	// Orchestrator validation
	if cfg.Orchestrator.Timeout <= 0 {
		add("orchestrator.timeout", "must be positive, got %s", cfg.Orchestrator.Timeout)
	}
	if cfg.Orchestrator.ClassifierTimeout < 0 {
		add("orchestrator.classifierTimeout", "must not be negative")
	}

	// Model validation
	validAPIs := []string{"openai-completions", "anthropic-messages"}
	for name, p := range cfg.Models.Providers {
		if p.API != "" && !slices.Contains(validAPIs, p.API) {
			add("models.providers."+name+".api", "must be one of %v, got %q", validAPIs, p.API)
		}
	}
	if cfg.Models.Default != "" && len(cfg.Models.Providers) > 0 {
		if !modelKnown(cfg.Models, cfg.Models.Default) {
			add("models.default", "no provider serves %q", cfg.Models.Default)
		}
	}

	// Agent validation
	for _, name := range []string{"tracking", "rates", "retail", "faq"} {
		e := cfg.Agents.Resolve(name)
		if e.Temperature != nil && (*e.Temperature < 0 || *e.Temperature > 2) {
			add("agents."+name+".temperature", "must be between 0 and 2, got %v", *e.Temperature)
		}
		if e.MaxTokens < 0 {
			add("agents."+name+".maxTokens", "must not be negative")
		}
	}

	// Knowledge validation
	if cfg.Knowledge.MaxChunks < 0 {
		add("knowledge.maxChunks", "must not be negative")
	}

	// Hooks validation
	hookSets := map[string][]HookEntry{
		"hooks.turnCompleted": cfg.Hooks.TurnCompleted,
		"hooks.turnFailed":    cfg.Hooks.TurnFailed,
		"hooks.persistFailed": cfg.Hooks.PersistFailed,
		"hooks.serverStart":   cfg.Hooks.ServerStart,
		"hooks.serverStop":    cfg.Hooks.ServerStop,
	}
	for path, entries := range hookSets {
		for i, h := range entries {
			if h.Command == "" {
				add(fmt.Sprintf("%s[%d].command", path, i), "command is required")
			}
		}
	}

	return issues
}

// modelKnown reports whether ref names a provider, a model id, or an alias.
func modelKnown(m ModelsConfig, ref string) bool {
	if _, ok := m.Providers[ref]; ok {
		return true
	}
	for _, p := range m.Providers {
		for _, def := range p.Models {
			if def.ID == ref || slices.Contains(def.Aliases, ref) {
				return true
			}
		}
	}
	return false
}
