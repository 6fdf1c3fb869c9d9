// Package config loads service configuration from an optional YAML file
// with environment variable overrides applied on top.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Session     SessionConfig     `yaml:"session"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// ServerConfig covers the public API and the observability sidecar listener.
type ServerConfig struct {
	Addr        string `yaml:"addr" env:"PATHWISE_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" env:"PATHWISE_METRICS_ADDR"`
}

// RateLimitConfig tunes the per-caller admission windows.
type RateLimitConfig struct {
	SendLimit   int           `yaml:"send_limit" env:"PATHWISE_SEND_LIMIT"`
	StatusLimit int           `yaml:"status_limit" env:"PATHWISE_STATUS_LIMIT"`
	Window      time.Duration `yaml:"window" env:"PATHWISE_RATE_WINDOW"`
}

// SessionConfig selects and tunes the session store backend.
type SessionConfig struct {
	// Backend is "memory" or "redis".
	Backend    string        `yaml:"backend" env:"PATHWISE_SESSION_BACKEND"`
	MaxAge     time.Duration `yaml:"max_age" env:"PATHWISE_SESSION_MAX_AGE"`
	MaxEntries int           `yaml:"max_entries" env:"PATHWISE_SESSION_MAX_ENTRIES"`
	// CleanupCron is the schedule for the background sweep, on top of the
	// amortized cleanup done on request paths.
	CleanupCron string      `yaml:"cleanup_cron" env:"PATHWISE_CLEANUP_CRON"`
	Redis       RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis session backend.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"PATHWISE_REDIS_ADDR"`
	Password string        `yaml:"password" env:"PATHWISE_REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"PATHWISE_REDIS_DB"`
	Prefix   string        `yaml:"prefix" env:"PATHWISE_REDIS_PREFIX"`
	TTL      time.Duration `yaml:"ttl" env:"PATHWISE_REDIS_TTL"`
}

// GeneratorConfig configures the LLM provider and generation pipeline.
type GeneratorConfig struct {
	APIKey      string        `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model       string        `yaml:"model" env:"PATHWISE_MODEL"`
	Temperature float32       `yaml:"temperature" env:"PATHWISE_TEMPERATURE"`
	MaxTokens   int           `yaml:"max_tokens" env:"PATHWISE_MAX_TOKENS"`
	Timeout     time.Duration `yaml:"timeout" env:"PATHWISE_GENERATION_TIMEOUT"`
	// RPS and Burst pace outbound provider calls across all sessions.
	RPS   float64 `yaml:"rps" env:"PATHWISE_PROVIDER_RPS"`
	Burst int     `yaml:"burst" env:"PATHWISE_PROVIDER_BURST"`
}

// PersistenceConfig configures the downstream assessment recorder.
type PersistenceConfig struct {
	BaseURL string        `yaml:"base_url" env:"PATHWISE_PERSIST_URL"`
	Timeout time.Duration `yaml:"timeout" env:"PATHWISE_PERSIST_TIMEOUT"`
	// AllowedHosts is the resource URL allowlist applied during sanitization.
	AllowedHosts []string `yaml:"allowed_hosts" env:"PATHWISE_ALLOWED_HOSTS" envSeparator:","`
}

// Default returns a configuration with sensible local-development values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
		RateLimit: RateLimitConfig{
			SendLimit:   10,
			StatusLimit: 120,
			Window:      time.Minute,
		},
		Session: SessionConfig{
			Backend:     "memory",
			MaxAge:      30 * time.Minute,
			MaxEntries:  1000,
			CleanupCron: "@every 5m",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "pathwise:session:",
				TTL:    time.Hour,
			},
		},
		Generator: GeneratorConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.4,
			MaxTokens:   4096,
			Timeout:     2 * time.Minute,
			RPS:         5,
			Burst:       10,
		},
		Persistence: PersistenceConfig{
			Timeout: 15 * time.Second,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist) and then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to env-only configuration.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.RateLimit.SendLimit <= 0 || c.RateLimit.StatusLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("session.backend must be memory or redis, got %q", c.Session.Backend)
	}
	if c.Session.MaxEntries <= 0 {
		return fmt.Errorf("session.max_entries must be positive")
	}
	if c.Generator.Model == "" {
		return fmt.Errorf("generator.model must not be empty")
	}
	return nil
}
