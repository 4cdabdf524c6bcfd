package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "walletcore",
		Usage: "Probe the block explorers configured for a coin",
		Description: `A command-line tool over the wallet core. Every command loads one coin
config file, builds its explorers and runs a single wallet operation through
the provider failover policy.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			providersCommand(),
			balanceCommand(),
			historyCommand(),
			txCommand(),
			utxoCommand(),
			blockCommand(),
			sendCommand(),
			snapshotCommand(),
			feesCommand(),
			watchCommand(),
			pruneCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "coin-config",
				Aliases: []string{"c"},
				Usage:   "Coin config file (JSON or YAML)",
				EnvVars: []string{"COIN_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "warn",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres URL of the transaction history store",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL for publishing watched transactions",
				EnvVars: []string{"NATS_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-stream",
				Usage:   "JetStream stream name",
				EnvVars: []string{"NATS_STREAM"},
				Value:   "WALLET_TRANSACTIONS",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
