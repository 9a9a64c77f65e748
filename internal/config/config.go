// Package config provides environment configuration for the engine.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the engine process.
type Config struct {
	// Storage
	SQLitePath string `env:"SQLITE_PATH" envDefault:"engine.db"`

	// NATS
	NATSURL   string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSToken string `env:"NATS_TOKEN"`

	// Generation backend
	LLMProvider     string `env:"LLM_PROVIDER" envDefault:"openai"`
	LLMModel        string `env:"LLM_MODEL"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	// Conversation
	ContextWindowSize  int           `env:"CONTEXT_WINDOW_SIZE" envDefault:"10"`
	HumanMessageExpiry time.Duration `env:"HUMAN_MESSAGE_EXPIRY" envDefault:"10s"`
	PurgeInterval      time.Duration `env:"PURGE_INTERVAL" envDefault:"30s"`

	// Reactive path
	DedupeWindow             time.Duration `env:"DEDUPE_WINDOW" envDefault:"5m"`
	GenerationTimeout        time.Duration `env:"GENERATION_TIMEOUT" envDefault:"20s"`
	GenerationMaxRetries     int           `env:"GENERATION_MAX_RETRIES" envDefault:"2"`
	GenerationFallback       string        `env:"GENERATION_FALLBACK" envDefault:"reply"`
	MaxConcurrentGenerations int           `env:"MAX_CONCURRENT_GENERATIONS" envDefault:"4"`

	// Proactive path
	OutreachTickInterval   time.Duration `env:"OUTREACH_TICK_INTERVAL" envDefault:"5m"`
	OutreachCooldownWindow time.Duration `env:"OUTREACH_COOLDOWN_WINDOW" envDefault:"24h"`
	OutreachCooldownGlobal bool          `env:"OUTREACH_COOLDOWN_GLOBAL" envDefault:"false"`
	InactivityWindow       time.Duration `env:"INACTIVITY_WINDOW" envDefault:"24h"`

	// Ops surface
	Port              string        `env:"PORT" envDefault:"8080"`
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Tracing
	TracingEnabled  bool   `env:"TRACING_ENABLED" envDefault:"false"`
	TracingEndpoint string `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
}

// Load reads configuration from the environment, with an optional .env
// file for development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.GenerationFallback != "reply" && cfg.GenerationFallback != "skip" {
		return nil, fmt.Errorf("GENERATION_FALLBACK must be \"reply\" or \"skip\", got %q", cfg.GenerationFallback)
	}
	if cfg.MaxConcurrentGenerations < 1 {
		cfg.MaxConcurrentGenerations = 1
	}

	return cfg, nil
}
