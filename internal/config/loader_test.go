package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Storage.Driver != DriverPostgres {
		t.Errorf("expected postgres driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Cache.ParticipantTTL != 30*time.Second {
		t.Errorf("expected participant ttl 30s, got %v", cfg.Cache.ParticipantTTL)
	}
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults must validate, got %v", err)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
storage:
  driver: memory
cache:
  participant_ttl: 5s
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Errorf("expected memory driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Cache.ParticipantTTL != 5*time.Second {
		t.Errorf("expected participant ttl 5s, got %v", cfg.Cache.ParticipantTTL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("TRACELAB_SERVER_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("NATS_URL", "nats://queue:4222")
	t.Setenv("TRACELAB_PG_MAX_CONNS", "25")
	t.Setenv("TRACELAB_LOG_LEVEL", "warn")
	t.Setenv("TRACELAB_BREAKER_TIMEOUT", "1m")
	t.Setenv("TRACELAB_CACHE_PARTICIPANT_TTL", "0s")
	t.Setenv("TRACELAB_OTEL_ENABLED", "true")

	if err := loadEnv(&cfg); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("unexpected DSN: %s", cfg.Postgres.DSN)
	}
	if cfg.NATS.URL != "nats://queue:4222" {
		t.Errorf("unexpected NATS URL: %s", cfg.NATS.URL)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Cache.ParticipantTTL != 0 {
		t.Errorf("expected participant ttl 0, got %v", cfg.Cache.ParticipantTTL)
	}
	if !cfg.OTEL.Enabled {
		t.Error("expected otel enabled")
	}
	// Untouched values keep their defaults.
	if cfg.Postgres.MinConns != 2 {
		t.Errorf("expected min_conns 2, got %d", cfg.Postgres.MinConns)
	}
}

func TestEnvOverrideMalformed(t *testing.T) {
	cfg := Defaults()
	t.Setenv("TRACELAB_PG_MAX_CONNS", "lots")
	if err := loadEnv(&cfg); err == nil {
		t.Fatal("expected error for malformed integer")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.driver"},
		{"missing dsn", func(c *Config) { c.Postgres.DSN = "" }, "postgres.dsn"},
		{"memory without dsn", func(c *Config) { c.Storage.Driver = DriverMemory; c.Postgres.DSN = "" }, ""},
		{"zero conns", func(c *Config) { c.Postgres.MaxConns = 0 }, "postgres.max_conns"},
		{"nats without stream", func(c *Config) { c.NATS.Stream = "" }, "nats.stream"},
		{"nats disabled", func(c *Config) { c.NATS.URL = ""; c.NATS.Stream = "" }, ""},
		{"zero breaker", func(c *Config) { c.Breaker.MaxFailures = 0 }, "breaker.max_failures"},
		{"zero body", func(c *Config) { c.Ingest.MaxBodyBytes = 0 }, "ingest.max_body_bytes"},
		{"sample rate", func(c *Config) { c.OTEL.SampleRate = 1.5 }, "otel.sample_rate"},
		{"negative rate limit", func(c *Config) { c.Server.ReadRateLimit = -1 }, "server.read_rate_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParticipantBucketTTL(t *testing.T) {
	tests := []struct {
		name        string
		participant time.Duration
		l2          time.Duration
		want        time.Duration
	}{
		{"participant shorter", 30 * time.Second, 5 * time.Minute, 30 * time.Second},
		{"bucket shorter", time.Minute, 10 * time.Second, 10 * time.Second},
		{"bucket unbounded", 30 * time.Second, 0, 30 * time.Second},
		{"caching off", 0, 5 * time.Minute, 5 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Cache{ParticipantTTL: tt.participant, L2TTL: tt.l2}
			if got := c.ParticipantBucketTTL(); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
