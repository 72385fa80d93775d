package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration shared by the server and migrate commands
type Config struct {
	DatabaseURL    string `env:"DATABASE_URL"`
	Port           string `env:"PORT"            envDefault:"8080"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"migrations"`

	LogLevel      string `env:"LOG_LEVEL"         envDefault:"INFO"`
	LogSampleRate int    `env:"LOG_SAMPLE_RATE"   envDefault:"100"`
	OTELEnabled   bool   `env:"OTEL_ENABLED"      envDefault:"false"`
	OTELService   string `env:"OTEL_SERVICE_NAME" envDefault:"returns-server"`

	// RuleCacheTTL of zero keeps cached rule lists until a rule mutation
	// invalidates them
	RuleCacheTTL time.Duration `env:"RULE_CACHE_TTL" envDefault:"0s"`

	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT"     envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"    envDefault:"15s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT"     envDefault:"60s"`
	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT"  envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads Config from the environment
func Load() (*Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if cfg.LogSampleRate < 1 {
		cfg.LogSampleRate = 1
	}
	return &cfg, nil
}

// RequireDatabase fails when no database URL is configured
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	return nil
}
