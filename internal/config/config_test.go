package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/investr/trade-engine/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MARKET_TZ", "UTC")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 5*time.Minute, cfg.CacheTTL)
	require.Equal(t, time.Duration(0), cfg.TickInterval)
	require.Equal(t, 0.5, cfg.Volatility)
	require.Empty(t, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TICK_INTERVAL", "2s")
	t.Setenv("VOLATILITY", "1.25")
	t.Setenv("MARKET_TZ", "UTC")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 2*time.Second, cfg.TickInterval)
	require.Equal(t, 1.25, cfg.Volatility)

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("MARKET_TZ", "UTC")
	t.Setenv("VOLATILITY", "150")
	_, err := config.Load()
	require.Error(t, err)

	t.Setenv("VOLATILITY", "0.5")
	t.Setenv("MARKET_TZ", "Nowhere/Special")
	_, err = config.Load()
	require.Error(t, err)

	t.Setenv("MARKET_TZ", "UTC")
	t.Setenv("TICK_INTERVAL", "soon")
	_, err = config.Load()
	require.Error(t, err)
}
