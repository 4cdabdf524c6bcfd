package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	os.Setenv("COIN_CONFIG", "/etc/walletcore/btc.yaml")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/etc/walletcore/btc.yaml", cfg.CoinConfigPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, 64, cfg.WatchBuffer)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoad_MissingCoinConfig(t *testing.T) {
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "COIN_CONFIG is required")
}

func TestLoad_AccumulatesErrors(t *testing.T) {
	os.Setenv("WATCH_BUFFER", "lots")
	os.Setenv("SHUTDOWN_TIMEOUT", "soon")
	os.Setenv("LOG_LEVEL", "chatty")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid integer")
	assert.Contains(t, err.Error(), "invalid duration")
	assert.Contains(t, err.Error(), "LOG_LEVEL must be one of")
	assert.Contains(t, err.Error(), "COIN_CONFIG is required")
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("COIN_CONFIG", "eth.json")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("DATABASE_URL", "postgres://localhost/wallet")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("NATS_STREAM", "ETH_TXS")
	os.Setenv("METRICS_ADDR", ":9100")
	os.Setenv("WATCH_BUFFER", "8")
	os.Setenv("SHUTDOWN_TIMEOUT", "3s")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://localhost/wallet", cfg.DatabaseURL)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "ETH_TXS", cfg.NATSStream)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, 8, cfg.WatchBuffer)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestValidate(t *testing.T) {
	valid := Config{CoinConfigPath: "btc.yaml", LogLevel: "warn", WatchBuffer: 1}
	assert.NoError(t, valid.Validate())

	noBuffer := valid
	noBuffer.WatchBuffer = 0
	assert.ErrorContains(t, noBuffer.Validate(), "WATCH_BUFFER must be at least 1")

	noStream := valid
	noStream.NATSURL = "nats://localhost:4222"
	assert.ErrorContains(t, noStream.Validate(), "NATS_STREAM is required")
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"COIN_CONFIG", "LOG_LEVEL", "DATABASE_URL", "NATS_URL", "NATS_STREAM",
		"METRICS_ADDR", "WATCH_BUFFER", "SHUTDOWN_TIMEOUT",
	} {
		os.Unsetenv(key)
	}
}
