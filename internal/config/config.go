// Package config provides configuration for the sparring client.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the client configuration.
type Config struct {
	// Backend settings
	APIBaseURL     string        `env:"SPARRING_API_BASE_URL" envDefault:"http://localhost:8000"`
	Token          string        `env:"SPARRING_TOKEN"`
	UserID         string        `env:"SPARRING_USER_ID"`
	RequestTimeout time.Duration `env:"SPARRING_REQUEST_TIMEOUT" envDefault:"30s"`

	// Local chat history cache; empty disables it
	HistoryDB string `env:"SPARRING_HISTORY_DB" envDefault:"file:sparring.db?cache=shared&mode=rwc"`

	// Bridge settings
	BridgePort   int           `env:"SPARRING_BRIDGE_PORT" envDefault:"8090"`
	PingInterval time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	WriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`

	// Fake backend settings
	FakeBackendPort int     `env:"SPARRING_FAKE_BACKEND_PORT" envDefault:"8000"`
	FakeRateLimit   float64 `env:"SPARRING_FAKE_RATE_LIMIT" envDefault:"5"`

	// Composer
	MaxAttachmentBytes int64 `env:"SPARRING_MAX_ATTACHMENT_BYTES" envDefault:"10485760"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads a .env file when one exists, then parses the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
