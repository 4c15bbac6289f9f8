// Package config loads runtime settings from the environment via
// envconfig. Empty DATABASE_URL and REDIS_ADDR select the in-memory
// ledger and idempotency registry.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	DefaultLocationID     string `envconfig:"DEFAULT_LOCATION_ID" default:"loc-main"`
	SupervisorPIN         string `envconfig:"SUPERVISOR_PIN"`
	IdempotencyTTLMinutes int    `envconfig:"IDEMPOTENCY_TTL_MINUTES" default:"1440"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if cfg.IdempotencyTTLMinutes < 1 {
		cfg.IdempotencyTTLMinutes = 1440
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
