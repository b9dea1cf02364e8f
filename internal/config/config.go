package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultPort            = 8090
	DefaultHistoryLimit    = 10
	DefaultTurnTimeout     = 2 * time.Minute
	DefaultTrackingURL     = "http://smsaweb.cloudapp.net:8080/track.svc"
	defaultWriteTimeout    = 10 * time.Second
	defaultQueueSize       = 64
	defaultClassifyTimeout = 5 * time.Second
	defaultAgentTimeout    = 30 * time.Second
	defaultBackendTimeout  = 15 * time.Second
	defaultMaxTokens       = 300
	defaultTemperature     = 0.7
	defaultMaxChunks       = 3
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	temp := defaultTemperature
	return Config{
		Server: ServerConfig{
			Port: DefaultPort,
			Bind: "loopback",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		History: HistoryConfig{
			Driver:             "sqlite",
			Limit:              DefaultHistoryLimit,
			RecordUserMessages: true,
			WriteTimeout:       defaultWriteTimeout,
			QueueSize:          defaultQueueSize,
		},
		Orchestrator: OrchestratorConfig{
			Timeout:           DefaultTurnTimeout,
			ClassifierTimeout: defaultClassifyTimeout,
			LLMClassifier:     true,
		},
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				MaxTokens:   defaultMaxTokens,
				Temperature: &temp,
				Timeout:     defaultAgentTimeout,
			},
		},
		Backends: BackendsConfig{
			Tracking: TrackingBackend{URL: DefaultTrackingURL, Language: "En", Timeout: defaultBackendTimeout},
			Rates:    RatesBackend{Country: "SA", Timeout: defaultBackendTimeout},
			Retail:   RetailBackend{Timeout: defaultBackendTimeout},
		},
		Knowledge: KnowledgeConfig{
			Enabled:   true,
			MaxChunks: defaultMaxChunks,
		},
	}
}
