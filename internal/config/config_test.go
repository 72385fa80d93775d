package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.MigrationsPath != "migrations" {
		t.Errorf("MigrationsPath = %q", cfg.MigrationsPath)
	}
	if cfg.RuleCacheTTL != 0 {
		t.Errorf("RuleCacheTTL = %v, want 0", cfg.RuleCacheTTL)
	}
	if cfg.ReadTimeout != 15*time.Second || cfg.IdleTimeout != time.Minute {
		t.Errorf("timeouts = %v / %v", cfg.ReadTimeout, cfg.IdleTimeout)
	}
	if err := cfg.RequireDatabase(); err == nil {
		t.Error("RequireDatabase() should fail without DATABASE_URL")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/returns")
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_SAMPLE_RATE", "0")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("RULE_CACHE_TTL", "5m")
	t.Setenv("HTTP_WRITE_TIMEOUT", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "9090" || cfg.LogLevel != "debug" || !cfg.OTELEnabled {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LogSampleRate != 1 {
		t.Errorf("LogSampleRate = %d, want 1", cfg.LogSampleRate)
	}
	if cfg.RuleCacheTTL != 5*time.Minute || cfg.WriteTimeout != 2*time.Second {
		t.Errorf("durations = %v / %v", cfg.RuleCacheTTL, cfg.WriteTimeout)
	}
	if err := cfg.RequireDatabase(); err != nil {
		t.Errorf("RequireDatabase() failed: %v", err)
	}
}

func TestLoadInvalidValue(t *testing.T) {
	t.Setenv("RULE_CACHE_TTL", "forever")

	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail on an unparsable duration")
	}
}
