package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "queryarc.db", cfg.Store.SQLitePath)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 0.0001)
	assert.Equal(t, 60, cfg.LLM.TimeoutSecs)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.0001)
	assert.Equal(t, 15, cfg.Extract.TimeoutSecs)
	assert.Equal(t, 4, cfg.Presence.MaxConcurrency)
	assert.Equal(t, 3, cfg.Presence.MaxRetries)
	assert.Equal(t, 25, cfg.Presence.BatchSize)
	assert.Equal(t, "manual", cfg.Presence.CancelPolicy)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.InDelta(t, 0.15, cfg.Pricing.Models["gpt-4o-mini"].Input, 0.0001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
env: production
store:
  driver: sqlite
llm:
  provider: anthropic
  model: claude-haiku-4-5-20251001
presence:
  max_concurrency: 8
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 8, cfg.Presence.MaxConcurrency)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values.
	assert.Equal(t, 25, cfg.Presence.BatchSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("QUERYARC_STORE_DRIVER", "postgres")
	t.Setenv("QUERYARC_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("QUERYARC_SERVER_PORT=3000\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("QUERYARC_SERVER_PORT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			CORSOrigins: []string{"https://tools.queryarc.com"},
			DevOrigins:  []string{"http://localhost:5173"},
		},
	}
	assert.Equal(t, []string{"https://tools.queryarc.com", "http://localhost:5173"}, cfg.AllowedOrigins())

	cfg.Env = "Production"
	assert.Equal(t, []string{"https://tools.queryarc.com"}, cfg.AllowedOrigins())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.LLM = LLMConfig{Provider: "openai", Model: "gpt-4o-mini", OpenAIKey: "sk-test", Temperature: 0.2, TimeoutSecs: 60}
	cfg.Presence = PresenceConfig{
		MaxConcurrency:        4,
		MaxConcurrencyCeiling: 16,
		MaxRetries:            3,
		BatchSize:             25,
		MaxQuestions:          20,
		MaxEntities:           6,
		CancelPolicy:          "manual",
	}
	cfg.Server.Port = 8000
	return cfg
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateProductionRequiresDatabaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Env = EnvProduction

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required in production")

	cfg.Store.DatabaseURL = "postgres://localhost/queryarc"
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateLLM(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing openai key", func(c *Config) { c.LLM.OpenAIKey = "" }, "llm.openai_key is required"},
		{"missing anthropic key", func(c *Config) { c.LLM.Provider = "anthropic" }, "llm.anthropic_key is required"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "mistral" }, "llm.provider must be openai or anthropic"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"timeout", func(c *Config) { c.LLM.TimeoutSecs = 0 }, "llm.timeout_secs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate("analyze")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidatePresenceBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Presence.MaxConcurrency = 0
	assert.ErrorContains(t, cfg.Validate("presence"), "presence.max_concurrency must be between")

	cfg.Presence.MaxConcurrency = 17
	assert.ErrorContains(t, cfg.Validate("presence"), "presence.max_concurrency must be between")

	cfg.Presence.MaxConcurrency = 16
	assert.NoError(t, cfg.Validate("presence"))

	cfg.Presence.CancelPolicy = "auto"
	assert.ErrorContains(t, cfg.Validate("presence"), "cancel_policy")
}

func TestValidatePresenceBatchSize(t *testing.T) {
	tests := []struct {
		size int
		ok   bool
	}{
		{0, false},
		{1, true},
		{MaxBatchSize, true},
		{MaxBatchSize + 1, false},
		{5000, false},
	}
	for _, tt := range tests {
		cfg := validDefaults()
		cfg.Presence.BatchSize = tt.size
		err := cfg.Validate("presence")
		if tt.ok {
			assert.NoError(t, err, "batch_size %d", tt.size)
		} else {
			assert.ErrorContains(t, err, "presence.batch_size must be between 1 and 1000", "batch_size %d", tt.size)
		}
	}
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
