package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvProduction is the value of Config.Env that enables production-only rules.
const EnvProduction = "production"

// MaxBatchSize caps presence.batch_size so one flush stays far below the
// bind parameter limits of both store drivers.
const MaxBatchSize = 1000

// Config holds the full application configuration.
type Config struct {
	Env        string           `yaml:"env" mapstructure:"env"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Presence   PresenceConfig   `yaml:"presence" mapstructure:"presence"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LLMConfig selects and tunes the completion provider.
type LLMConfig struct {
	Provider      string  `yaml:"provider" mapstructure:"provider"`
	Model         string  `yaml:"model" mapstructure:"model"`
	OpenAIKey     string  `yaml:"openai_key" mapstructure:"openai_key"`
	OpenAIBaseURL string  `yaml:"openai_base_url" mapstructure:"openai_base_url"`
	AnthropicKey  string  `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	Temperature   float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens     int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RPM           int     `yaml:"rpm" mapstructure:"rpm"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
}

// RetryConfig configures backoff for LLM calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter           float64 `yaml:"jitter" mapstructure:"jitter"`
}

// CircuitConfig configures the provider circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ExtractConfig configures page fetching.
type ExtractConfig struct {
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent    string `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// PresenceConfig configures answer-presence runs.
type PresenceConfig struct {
	MaxConcurrency        int    `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	MaxConcurrencyCeiling int    `yaml:"max_concurrency_ceiling" mapstructure:"max_concurrency_ceiling"`
	MaxRetries            int    `yaml:"max_retries" mapstructure:"max_retries"`
	BatchSize             int    `yaml:"batch_size" mapstructure:"batch_size"`
	MaxQuestions          int    `yaml:"max_questions" mapstructure:"max_questions"`
	MaxEntities           int    `yaml:"max_entities" mapstructure:"max_entities"`
	CancelPolicy          string `yaml:"cancel_policy" mapstructure:"cancel_policy"`
	RunTimeoutSecs        int    `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
	DefaultOwner          string `yaml:"default_owner" mapstructure:"default_owner"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	DevOrigins  []string `yaml:"dev_origins" mapstructure:"dev_origins"`
}

// ArchiveConfig configures the optional S3 report archive.
type ArchiveConfig struct {
	Bucket   string `yaml:"bucket" mapstructure:"bucket"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// MonitoringConfig configures run health checks and alerting.
type MonitoringConfig struct {
	Enabled                bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ItemErrorRateThreshold float64 `yaml:"item_error_rate_threshold" mapstructure:"item_error_rate_threshold"`
	FailedRunsThreshold    int     `yaml:"failed_runs_threshold" mapstructure:"failed_runs_threshold"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours          int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
}

// PricingConfig holds per-model token prices in USD per million tokens.
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds input/output prices for one model.
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// IsProduction reports whether production-only rules apply.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, EnvProduction)
}

// AllowedOrigins returns the CORS origins for the current environment.
func (c *Config) AllowedOrigins() []string {
	origins := append([]string(nil), c.Server.CORSOrigins...)
	if !c.IsProduction() {
		origins = append(origins, c.Server.DevOrigins...)
	}
	return origins
}

// Load reads configuration from .env, config.yaml and QUERYARC_* environment
// variables, in increasing order of precedence.
func Load() (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("QUERYARC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "queryarc.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.openai_key", "")
	v.SetDefault("llm.openai_base_url", "")
	v.SetDefault("llm.anthropic_key", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout_secs", 60)
	v.SetDefault("llm.rpm", 300)
	v.SetDefault("llm.burst", 10)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.0)
	v.SetDefault("circuit.failure_threshold", 10)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("extract.timeout_secs", 15)
	v.SetDefault("extract.user_agent", "Mozilla/5.0 (compatible; QueryArcBot/1.0; +https://tools.queryarc.com)")
	v.SetDefault("extract.max_body_bytes", 5<<20)
	v.SetDefault("presence.max_concurrency", 4)
	v.SetDefault("presence.max_concurrency_ceiling", 16)
	v.SetDefault("presence.max_retries", 3)
	v.SetDefault("presence.batch_size", 25)
	v.SetDefault("presence.max_questions", 20)
	v.SetDefault("presence.max_entities", 6)
	v.SetDefault("presence.cancel_policy", "manual")
	v.SetDefault("presence.run_timeout_secs", 0)
	v.SetDefault("presence.default_owner", "anonymous")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"https://tools.queryarc.com", "https://tools-staging.queryarc.com"})
	v.SetDefault("server.dev_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "reports/")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.item_error_rate_threshold", 0.5)
	v.SetDefault("monitoring.failed_runs_threshold", 3)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("pricing.models.gpt-4o-mini.input", 0.15)
	v.SetDefault("pricing.models.gpt-4o-mini.output", 0.60)
	v.SetDefault("pricing.models.gpt-4o.input", 2.50)
	v.SetDefault("pricing.models.gpt-4o.output", 10.00)
	v.SetDefault("pricing.models.claude-haiku-4-5-20251001.input", 1.00)
	v.SetDefault("pricing.models.claude-haiku-4-5-20251001.output", 5.00)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Known modes are
// "serve", "analyze", "presence" and "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateLLM()...)
		errs = append(errs, c.validatePresence()...)
	case "analyze":
		errs = append(errs, c.validateLLM()...)
	case "presence":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateLLM()...)
		errs = append(errs, c.validatePresence()...)
	case "store":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" && c.IsProduction() {
			errs = append(errs, "store.database_url is required in production")
		}
	case "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	return errs
}

func (c *Config) validateLLM() []string {
	var errs []string
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.OpenAIKey == "" {
			errs = append(errs, "llm.openai_key is required")
		}
	case "anthropic":
		if c.LLM.AnthropicKey == "" {
			errs = append(errs, "llm.anthropic_key is required")
		}
	default:
		errs = append(errs, "llm.provider must be openai or anthropic")
	}
	if c.LLM.Model == "" {
		errs = append(errs, "llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}
	if c.LLM.TimeoutSecs <= 0 {
		errs = append(errs, "llm.timeout_secs must be > 0")
	}
	return errs
}

func (c *Config) validatePresence() []string {
	var errs []string
	p := c.Presence
	if p.MaxConcurrencyCeiling < 1 || p.MaxConcurrencyCeiling > 64 {
		errs = append(errs, "presence.max_concurrency_ceiling must be between 1 and 64")
	}
	if p.MaxConcurrency < 1 || p.MaxConcurrency > p.MaxConcurrencyCeiling {
		errs = append(errs, "presence.max_concurrency must be between 1 and max_concurrency_ceiling")
	}
	if p.MaxRetries < 1 {
		errs = append(errs, "presence.max_retries must be >= 1")
	}
	if p.BatchSize < 1 || p.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Sprintf("presence.batch_size must be between 1 and %d", MaxBatchSize))
	}
	if p.MaxQuestions < 1 || p.MaxEntities < 1 {
		errs = append(errs, "presence.max_questions and presence.max_entities must be >= 1")
	}
	switch p.CancelPolicy {
	case "manual", "disabled":
	default:
		errs = append(errs, "presence.cancel_policy must be manual or disabled")
	}
	if p.RunTimeoutSecs < 0 {
		errs = append(errs, "presence.run_timeout_secs must be >= 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
