package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for frepi.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (API keys, passwords, bot tokens) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Telegram bot configuration
	Telegram TelegramConfig `yaml:"telegram"`

	// LLM provider configuration
	LLM LLMConfig `yaml:"llm"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration for the conversation context cache (optional)
	Redis RedisConfig `yaml:"redis"`

	// Heartbeat scheduler configuration
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`

	// Analysis thresholds (domain-tuned constants, kept configurable)
	Analysis AnalysisConfig `yaml:"analysis"`
}

// TelegramConfig holds the bot credentials and webhook settings.
type TelegramConfig struct {
	BotToken   string `yaml:"-" env:"TELEGRAM_BOT_TOKEN"` // Secret - not in YAML
	WebhookURL string `yaml:"webhook_url" env:"TELEGRAM_WEBHOOK_URL" env-default:""`
	// Enabled allows running the pipeline without a live bot (tests, tooling).
	Enabled bool `yaml:"enabled" env:"TELEGRAM_ENABLED" env-default:"true"`
}

// LLMConfig holds provider endpoints and model names.
type LLMConfig struct {
	// Provider selects the chat backend: "openai" or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:""`

	APIKey          string `yaml:"-" env:"OPENAI_API_KEY"`    // Secret - not in YAML
	AnthropicAPIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML

	ChatModel   string `yaml:"chat_model" env:"CHAT_MODEL" env-default:"gpt-4o"`
	VisionModel string `yaml:"vision_model" env:"VISION_MODEL" env-default:"gpt-4o"`

	EmbeddingModel      string `yaml:"embedding_model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions" env:"EMBEDDING_DIMENSIONS" env-default:"1536"`

	// MaxToolIterations bounds the tool-calling loop per user message.
	MaxToolIterations int `yaml:"max_tool_iterations" env:"LLM_MAX_TOOL_ITERATIONS" env-default:"10"`
	// MaxConcurrentVisionCalls bounds parallel invoice parsing.
	MaxConcurrentVisionCalls int `yaml:"max_concurrent_vision_calls" env:"LLM_MAX_CONCURRENT_VISION_CALLS" env-default:"4"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"frepi"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"frepi"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the conversation-context cache configuration.
// An empty host disables Redis; the orchestrator then uses an in-memory store.
type RedisConfig struct {
	Host       string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port       int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password   string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB         int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TTLMinutes int    `yaml:"ttl_minutes" env:"REDIS_TTL_MINUTES" env-default:"120"`
}

// HeartbeatConfig holds the scheduled-job settings.
type HeartbeatConfig struct {
	Enabled            bool   `yaml:"enabled" env:"HEARTBEAT_ENABLED" env-default:"true"`
	Timezone           string `yaml:"timezone" env:"HEARTBEAT_TIMEZONE" env-default:"America/Sao_Paulo"`
	PriceFreshnessDays int    `yaml:"price_freshness_days" env:"PRICE_FRESHNESS_DAYS" env-default:"30"`
}

// AnalysisConfig exposes the empirically tuned analysis thresholds.
// Defaults match the values the pipeline was calibrated with; change with care.
type AnalysisConfig struct {
	BrandDominanceThreshold float64 `yaml:"brand_dominance_threshold" env:"ANALYSIS_BRAND_DOMINANCE_THRESHOLD" env-default:"0.5"`
	BrandConfidenceCap      float64 `yaml:"brand_confidence_cap" env:"ANALYSIS_BRAND_CONFIDENCE_CAP" env-default:"0.95"`
	PriceVarianceThreshold  float64 `yaml:"price_variance_threshold" env:"ANALYSIS_PRICE_VARIANCE_THRESHOLD" env-default:"20"`
	PatternConfidenceCap    float64 `yaml:"pattern_confidence_cap" env:"ANALYSIS_PATTERN_CONFIDENCE_CAP" env-default:"0.9"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Secrets (OPENAI_API_KEY, TELEGRAM_BOT_TOKEN, PGPASSWORD, ...) must come from
// environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when telegram is enabled")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
