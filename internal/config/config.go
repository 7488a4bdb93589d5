// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config is shared by the server and brokerctl. DatabaseURL selects
// PostgreSQL; otherwise SQLitePath selects SQLite; with neither set the
// server runs on the in-memory store.
type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	SQLitePath      string        `env:"SQLITE_PATH"`
	RedisURL        string        `env:"REDIS_URL"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	PriceCacheTTL   time.Duration `env:"PRICE_CACHE_TTL" envDefault:"0s"`
	KafkaBrokers    []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic      string        `env:"KAFKA_TOPIC" envDefault:"broker.events"`
	TickInterval    time.Duration `env:"TICK_INTERVAL" envDefault:"0s"`
	Volatility      float64       `env:"VOLATILITY" envDefault:"0.5"`
	MarketTZ        string        `env:"MARKET_TZ" envDefault:"America/New_York"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.Volatility < 0 || cfg.Volatility > 100 {
		return Config{}, fmt.Errorf("config: VOLATILITY must be within [0, 100], got %v", cfg.Volatility)
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Location resolves MarketTZ.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.MarketTZ)
	if err != nil {
		return nil, fmt.Errorf("config: MARKET_TZ: %w", err)
	}
	return loc, nil
}
