// Package config loads relay settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// State backends.
const (
	StateBackendFile     = "file"
	StateBackendPostgres = "postgres"
)

var (
	errUnknownStateBackend = errors.New("unknown STATE_BACKEND")
	errMissingPostgresDSN  = errors.New("POSTGRES_DSN is required for the postgres state backend")
)

type Config struct {
	AppEnv     string `env:"APP_ENV" envDefault:"local"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogPath    string `env:"LOG_PATH" envDefault:""`
	HealthPort int    `env:"HEALTH_PORT" envDefault:"8080"`

	Reddit   RedditConfig
	Stream   StreamConfig
	Filters  FilterConfig
	State    StateConfig
	Database DatabaseConfig
	Retry    RetryConfig
	Publish  PublishConfig
	Flair    FlairConfig
	Bot      TelegramBotConfig
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsLocal reports whether logs should be human readable.
func (c *Config) IsLocal() bool {
	return strings.EqualFold(c.AppEnv, "local")
}

func (c *Config) validate() error {
	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))

	switch c.State.Backend {
	case StateBackendFile:
	case StateBackendPostgres:
		if c.Database.PostgresDSN == "" {
			return errMissingPostgresDSN
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownStateBackend, c.State.Backend)
	}

	c.Publish.Destination = strings.TrimPrefix(strings.TrimPrefix(c.Publish.Destination, "/"), "r/")

	return nil
}
