package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "loopback", cfg.Server.Bind)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.History.Driver)
	assert.Equal(t, 10, cfg.History.Limit)
	assert.True(t, cfg.History.RecordUserMessages)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.Timeout)
	assert.True(t, cfg.Orchestrator.LLMClassifier)
	assert.Equal(t, 300, cfg.Agents.Defaults.MaxTokens)
	require.NotNil(t, cfg.Agents.Defaults.Temperature)
	assert.InDelta(t, 0.7, *cfg.Agents.Defaults.Temperature, 0.0001)
	assert.Equal(t, DefaultTrackingURL, cfg.Backends.Tracking.URL)
	assert.Equal(t, "SA", cfg.Backends.Rates.Country)
	assert.True(t, cfg.Knowledge.Enabled)
	assert.Equal(t, 3, cfg.Knowledge.MaxChunks)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	// Should return defaults
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("TEST_COURIER_KEY", "sk-from-env")

	yaml := `
server:
  port: 9999
  bind: lan
  allowedOrigins: ["https://app.example.com"]
logging:
  level: debug
  consoleStyle: json
history:
  driver: postgres
  dsn: postgres://courier@localhost/courier
  limit: 20
  recordUserMessages: false
  writeTimeout: 3s
orchestrator:
  timeout: 45s
  llmClassifier: false
models:
  default: gpt-4o-mini
  providers:
    openai:
      api: openai-completions
      apiKey: ${TEST_COURIER_KEY}
      models:
        - id: gpt-4o-mini
agents:
  faq:
    maxTokens: 500
backends:
  rates:
    url: https://rates.example.com/api/RateInquiry
    passkey: pk
knowledge:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "lan", cfg.Server.Bind)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
	assert.Equal(t, "postgres", cfg.History.Driver)
	assert.Equal(t, 20, cfg.History.Limit)
	assert.False(t, cfg.History.RecordUserMessages)
	assert.Equal(t, 3*time.Second, cfg.History.WriteTimeout)
	assert.Equal(t, 45*time.Second, cfg.Orchestrator.Timeout)
	assert.False(t, cfg.Orchestrator.LLMClassifier)
	assert.Equal(t, "sk-from-env", cfg.Models.Providers["openai"].APIKey)
	assert.Equal(t, 500, cfg.Agents.Resolve("faq").MaxTokens)
	assert.Equal(t, 300, cfg.Agents.Resolve("rates").MaxTokens)
	assert.Equal(t, "pk", cfg.Backends.Rates.Passkey)
	assert.False(t, cfg.Knowledge.Enabled)

	// untouched sections keep their defaults
	assert.Equal(t, DefaultTrackingURL, cfg.Backends.Tracking.URL)
	assert.Equal(t, 3, cfg.Knowledge.MaxChunks)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COURIER_PORT", "12345")
	t.Setenv("COURIER_LOG_LEVEL", "TRACE")
	t.Setenv("COURIER_HISTORY_DRIVER", "memory")
	t.Setenv("COURIER_ORCHESTRATOR_TIMEOUT", "30s")
	t.Setenv("COURIER_RATES_PASSKEY", "secret")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Server.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.History.Driver)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.Timeout)
	assert.Equal(t, "secret", cfg.Backends.Rates.Passkey)
}

func TestLoadEnvOverrides_InvalidValue(t *testing.T) {
	t.Setenv("COURIER_PORT", "not-a-port")

	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestLoadProviderKeyFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("COURIER_ANTHROPIC_API_KEY", "ant-key")

	yaml := `
models:
  providers:
    claude:
      api: anthropic-messages
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ant-key", cfg.Models.Providers["claude"].APIKey)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("COURIER_TEST_ENVFILE_A=alpha\nCOURIER_TEST_ENVFILE_B=beta\n"), 0o600))

	t.Setenv("COURIER_TEST_ENVFILE_B", "preset")
	t.Cleanup(func() { os.Unsetenv("COURIER_TEST_ENVFILE_A") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "alpha", os.Getenv("COURIER_TEST_ENVFILE_A"))
	assert.Equal(t, "preset", os.Getenv("COURIER_TEST_ENVFILE_B"))
}

func TestLoadEnvFile_Missing(t *testing.T) {
	err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestAgentsResolve(t *testing.T) {
	cfg := Defaults()
	cfg.Agents.Defaults.Model = "gpt-4o-mini"
	temp := 0.2
	cfg.Agents.Tracking = AgentEntry{Model: "claude-haiku", Temperature: &temp}

	tracking := cfg.Agents.Resolve("tracking")
	assert.Equal(t, "claude-haiku", tracking.Model)
	assert.Equal(t, 300, tracking.MaxTokens)
	assert.InDelta(t, 0.2, *tracking.Temperature, 0.0001)

	faq := cfg.Agents.Resolve("faq")
	assert.Equal(t, "gpt-4o-mini", faq.Model)
	assert.InDelta(t, 0.7, *faq.Temperature, 0.0001)
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.Empty(t, raw)

	SetValueAtPath(raw, []string{"server", "port"}, 9000)
	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)
	val, ok := GetValueAtPath(loaded, []string{"server", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9000, val)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}
