package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process configuration loaded from environment variables.
// Everything about individual coins lives in the coin config file named by
// CoinConfigPath.
type Config struct {
	LogLevel string

	// CoinConfigPath points at the JSON or YAML coin config file.
	CoinConfigPath string

	// DatabaseURL enables the transaction history store when set.
	DatabaseURL string

	// NATSURL enables publishing of watched transactions when set.
	NATSURL    string
	NATSStream string

	MetricsAddr     string
	WatchBuffer     int
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables and validates it.
// All problems are reported together.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.CoinConfigPath = os.Getenv("COIN_CONFIG")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSStream = getEnvOrDefault("NATS_STREAM", "WALLET_TRANSACTIONS")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")

	buffer, err := parseInt("WATCH_BUFFER", 64)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.WatchBuffer = buffer
	}

	timeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ShutdownTimeout = timeout
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	return cfg, nil
}

// Validate checks a Config built without Load.
func (c *Config) Validate() error {
	var errs []error

	if c.CoinConfigPath == "" {
		errs = append(errs, fmt.Errorf("COIN_CONFIG is required"))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.LogLevel))
	}

	if c.WatchBuffer < 1 {
		errs = append(errs, fmt.Errorf("WATCH_BUFFER must be at least 1"))
	}

	if c.NATSURL != "" && c.NATSStream == "" {
		errs = append(errs, fmt.Errorf("NATS_STREAM is required when NATS_URL is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%v", errs)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
