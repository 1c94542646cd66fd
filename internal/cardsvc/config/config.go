// Package config reads the card service settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/avvvet/card-services/internal/cardsvc/decay"
	"github.com/caarlos0/env/v11"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	OracleLocal = "local"
	OracleNATS  = "nats"
)

type Config struct {
	Port         string `env:"CARD_SERVICE_PORT" envDefault:"8080"`
	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	PostgresURL  string `env:"POSTGRES_URL"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"cards.db"`
	PoolAccount  string `env:"POOL_ACCOUNT" envDefault:"card-pool"`

	MongoURI       string        `env:"MONGODB_URI"`
	AuditRetention time.Duration `env:"AUDIT_RETENTION" envDefault:"720h"`

	NATSURL   string `env:"NATS_URL"`
	NATSToken string `env:"NATS_TOKEN"`

	JWTSecret string `env:"JWT_SECRET_KEY"`
	RateLimit int    `env:"RATE_LIMIT" envDefault:"100"`

	OracleBackend    string        `env:"ORACLE_BACKEND" envDefault:"local"`
	OracleTimeout    time.Duration `env:"ORACLE_TIMEOUT" envDefault:"5s"`
	LocalOracleDelay time.Duration `env:"LOCAL_ORACLE_DELAY" envDefault:"2s"`

	Decay decay.Config
}

// Load parses the environment and checks the backend selections.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("STORE_BACKEND=postgres needs POSTGRES_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.OracleBackend {
	case OracleLocal:
	case OracleNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("ORACLE_BACKEND=nats needs NATS_URL")
		}
	default:
		return fmt.Errorf("unknown ORACLE_BACKEND %q", c.OracleBackend)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be positive, got %d", c.RateLimit)
	}
	if _, err := decay.FromConfig(c.Decay); err != nil {
		return err
	}
	return nil
}
