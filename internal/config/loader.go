package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides (COURIER_PORT, ...).
const EnvPrefix = "COURIER"

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and passwords can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.History.DSN = expandEnvVars(cfg.History.DSN)
	cfg.Backends.Tracking.Username = expandEnvVars(cfg.Backends.Tracking.Username)
	cfg.Backends.Tracking.Password = expandEnvVars(cfg.Backends.Tracking.Password)
	cfg.Backends.Rates.Passkey = expandEnvVars(cfg.Backends.Rates.Passkey)
	for name, provider := range cfg.Models.Providers {
		provider.APIKey = expandEnvVars(provider.APIKey)
		for k, v := range provider.Headers {
			provider.Headers[k] = expandEnvVars(v)
		}
		cfg.Models.Providers[name] = provider
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadEnvFile exports the keys of a dotenv file into the process
// environment. Variables already set are left alone.
func LoadEnvFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return &ConfigError{Message: fmt.Sprintf("read env file %s: %v", path, err)}
	}
	for key, val := range v.AllSettings() {
		name := strings.ToUpper(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, fmt.Sprint(val)); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = d.Server.Bind
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
	if cfg.History.Driver == "" {
		cfg.History.Driver = d.History.Driver
	}
	if cfg.History.Limit == 0 {
		cfg.History.Limit = d.History.Limit
	}
	if cfg.History.WriteTimeout == 0 {
		cfg.History.WriteTimeout = d.History.WriteTimeout
	}
	if cfg.History.QueueSize == 0 {
		cfg.History.QueueSize = d.History.QueueSize
	}
	if cfg.Orchestrator.Timeout == 0 {
		cfg.Orchestrator.Timeout = d.Orchestrator.Timeout
	}
	if cfg.Orchestrator.ClassifierTimeout == 0 {
		cfg.Orchestrator.ClassifierTimeout = d.Orchestrator.ClassifierTimeout
	}
	if cfg.Agents.Defaults.MaxTokens == 0 {
		cfg.Agents.Defaults.MaxTokens = d.Agents.Defaults.MaxTokens
	}
	if cfg.Agents.Defaults.Timeout == 0 {
		cfg.Agents.Defaults.Timeout = d.Agents.Defaults.Timeout
	}
	if cfg.Backends.Tracking.URL == "" {
		cfg.Backends.Tracking.URL = d.Backends.Tracking.URL
	}
	if cfg.Backends.Tracking.Language == "" {
		cfg.Backends.Tracking.Language = d.Backends.Tracking.Language
	}
	if cfg.Backends.Tracking.Timeout == 0 {
		cfg.Backends.Tracking.Timeout = d.Backends.Tracking.Timeout
	}
	if cfg.Backends.Rates.Country == "" {
		cfg.Backends.Rates.Country = d.Backends.Rates.Country
	}
	if cfg.Backends.Rates.Timeout == 0 {
		cfg.Backends.Rates.Timeout = d.Backends.Rates.Timeout
	}
	if cfg.Backends.Retail.Timeout == 0 {
		cfg.Backends.Retail.Timeout = d.Backends.Retail.Timeout
	}
	if cfg.Knowledge.MaxChunks == 0 {
		cfg.Knowledge.MaxChunks = d.Knowledge.MaxChunks
	}
}

// envOverrides lists the COURIER_* variables that override file values.
// Keys with an explicit envconfig tag also fall back to the unprefixed
// name (OPENAI_API_KEY, ANTHROPIC_API_KEY).
type envOverrides struct {
	Port                int           `envconfig:"PORT"`
	Bind                string        `envconfig:"BIND"`
	LogLevel            string        `split_words:"true"`
	HistoryDriver       string        `split_words:"true"`
	HistoryPath         string        `split_words:"true"`
	HistoryDSN          string        `envconfig:"HISTORY_DSN"`
	OrchestratorTimeout time.Duration `split_words:"true"`
	DefaultModel        string        `split_words:"true"`
	OpenAIAPIKey        string        `envconfig:"OPENAI_API_KEY"`
	AnthropicAPIKey     string        `envconfig:"ANTHROPIC_API_KEY"`
	TrackingUsername    string        `split_words:"true"`
	TrackingPassword    string        `split_words:"true"`
	RatesURL            string        `envconfig:"RATES_URL"`
	RatesPasskey        string        `split_words:"true"`
	RetailURL           string        `envconfig:"RETAIL_URL"`
}

// applyEnvOverrides reads COURIER_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return &ConfigError{Message: "environment: " + err.Error()}
	}

	if env.Port != 0 {
		cfg.Server.Port = env.Port
	}
	if env.Bind != "" {
		cfg.Server.Bind = env.Bind
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(env.LogLevel)
	}
	if env.HistoryDriver != "" {
		cfg.History.Driver = env.HistoryDriver
	}
	if env.HistoryPath != "" {
		cfg.History.Path = env.HistoryPath
	}
	if env.HistoryDSN != "" {
		cfg.History.DSN = env.HistoryDSN
	}
	if env.OrchestratorTimeout > 0 {
		cfg.Orchestrator.Timeout = env.OrchestratorTimeout
	}
	if env.DefaultModel != "" {
		cfg.Models.Default = env.DefaultModel
	}
	for name, p := range cfg.Models.Providers {
		if p.APIKey != "" {
			continue
		}
		switch p.API {
		case "anthropic-messages":
			p.APIKey = env.AnthropicAPIKey
		default:
			p.APIKey = env.OpenAIAPIKey
		}
		cfg.Models.Providers[name] = p
	}
	if env.TrackingUsername != "" {
		cfg.Backends.Tracking.Username = env.TrackingUsername
	}
	if env.TrackingPassword != "" {
		cfg.Backends.Tracking.Password = env.TrackingPassword
	}
	if env.RatesURL != "" {
		cfg.Backends.Rates.URL = env.RatesURL
	}
	if env.RatesPasskey != "" {
		cfg.Backends.Rates.Passkey = env.RatesPasskey
	}
	if env.RetailURL != "" {
		cfg.Backends.Retail.URL = env.RetailURL
	}
	return nil
}
