package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Session.Backend != "memory" {
		t.Errorf("Session.Backend = %q, want memory", cfg.Session.Backend)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Errorf("RateLimit.Window = %v, want 1m", cfg.RateLimit.Window)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want default", cfg.Server.Addr)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":9000"
rate_limit:
  send_limit: 5
  window: 30s
session:
  backend: redis
  redis:
    addr: "redis.internal:6379"
    ttl: 2h
generator:
  model: gpt-4o
persistence:
  base_url: "https://backend.example.com"
  allowed_hosts:
    - youtube.com
    - go.dev
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr = %q, want :9000", cfg.Server.Addr)
	}
	if cfg.RateLimit.SendLimit != 5 {
		t.Errorf("SendLimit = %d, want 5", cfg.RateLimit.SendLimit)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("Window = %v, want 30s", cfg.RateLimit.Window)
	}
	if cfg.Session.Backend != "redis" || cfg.Session.Redis.Addr != "redis.internal:6379" {
		t.Errorf("redis backend config = %+v", cfg.Session)
	}
	if cfg.Session.Redis.TTL != 2*time.Hour {
		t.Errorf("Redis.TTL = %v, want 2h", cfg.Session.Redis.TTL)
	}
	if len(cfg.Persistence.AllowedHosts) != 2 {
		t.Errorf("AllowedHosts = %v, want two entries", cfg.Persistence.AllowedHosts)
	}
	// Unset fields keep their defaults.
	if cfg.RateLimit.StatusLimit != 120 {
		t.Errorf("StatusLimit = %d, want default 120", cfg.RateLimit.StatusLimit)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":9000"
`)

	t.Setenv("PATHWISE_ADDR", ":7777")
	t.Setenv("PATHWISE_SESSION_BACKEND", "redis")
	t.Setenv("PATHWISE_ALLOWED_HOSTS", "youtube.com,coursera.org")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Errorf("Server.Addr = %q, want env to win", cfg.Server.Addr)
	}
	if cfg.Session.Backend != "redis" {
		t.Errorf("Session.Backend = %q, want redis", cfg.Session.Backend)
	}
	if len(cfg.Persistence.AllowedHosts) != 2 || cfg.Persistence.AllowedHosts[1] != "coursera.org" {
		t.Errorf("AllowedHosts = %v, want split on commas", cfg.Persistence.AllowedHosts)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")

	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want parse failure")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty addr",
			mutate:  func(c *Config) { c.Server.Addr = "" },
			wantErr: "server.addr",
		},
		{
			name:    "zero send limit",
			mutate:  func(c *Config) { c.RateLimit.SendLimit = 0 },
			wantErr: "rate limits",
		},
		{
			name:    "negative window",
			mutate:  func(c *Config) { c.RateLimit.Window = -time.Second },
			wantErr: "window",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Session.Backend = "postgres" },
			wantErr: "session.backend",
		},
		{
			name:    "zero max entries",
			mutate:  func(c *Config) { c.Session.MaxEntries = 0 },
			wantErr: "max_entries",
		},
		{
			name:    "empty model",
			mutate:  func(c *Config) { c.Generator.Model = "" },
			wantErr: "generator.model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want rejection")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Validate() on defaults: error = %v", err)
	}
}
