package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/walletcore/service/coin"
	"github.com/brojonat/walletcore/service/config"
	"github.com/brojonat/walletcore/service/db"
	"github.com/brojonat/walletcore/service/explorer"
	"github.com/brojonat/walletcore/service/explorer/esplora"
	"github.com/brojonat/walletcore/service/explorer/evm"
	"github.com/brojonat/walletcore/service/explorer/jq"
	"github.com/brojonat/walletcore/service/explorer/solana"
	"github.com/brojonat/walletcore/service/metrics"
	"github.com/brojonat/walletcore/service/nats"
	"github.com/brojonat/walletcore/service/provider"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

// modules are the adapter kinds a coin config may name.
func modules() []provider.Module {
	return []provider.Module{
		esplora.Module(),
		solana.Module(),
		evm.NodeModule(),
		evm.EtherscanModule(),
		jq.Module(),
	}
}

// runtime is everything one command invocation needs.
type runtime struct {
	cfg      *config.Config
	coinCfg  *config.CoinConfig
	coin     *coin.Context
	registry *provider.Registry
	store    *db.Store
	prom     *prometheus.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
	closers  []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// processConfig reads the process settings from the global flags, which
// default to the same environment variables config.Load reads.
func processConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{
		LogLevel:        c.String("log-level"),
		CoinConfigPath:  c.String("coin-config"),
		DatabaseURL:     c.String("database-url"),
		NATSURL:         c.String("nats-url"),
		NATSStream:      c.String("nats-stream"),
		MetricsAddr:     ":9090",
		WatchBuffer:     coin.DefaultWatchBuffer,
		ShutdownTimeout: 10 * time.Second,
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
	if c.IsSet("buffer") {
		cfg.WatchBuffer = c.Int("buffer")
	}
	if c.IsSet("shutdown-timeout") {
		cfg.ShutdownTimeout = c.Duration("shutdown-timeout")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

type setupOptions struct {
	publisher bool
}

// setup loads the coin config, builds its explorers and opens the optional
// history store and publisher.
func setup(c *cli.Context, opts setupOptions) (*runtime, error) {
	cfg, err := processConfig(c)
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg.LogLevel)
	coinCfg, err := config.LoadCoinConfig(cfg.CoinConfigPath)
	if err != nil {
		return nil, err
	}

	prom := prometheus.NewRegistry()
	rt := &runtime{
		cfg:     cfg,
		coinCfg: coinCfg,
		prom:    prom,
		metrics: metrics.NewMetrics(prom),
		logger:  logger,
	}

	rt.registry = provider.NewRegistry(logger)
	if err := rt.registry.SetExplorerModules(modules()...); err != nil {
		return nil, err
	}
	deps := explorer.Deps{Logger: logger, Metrics: rt.metrics}
	if err := rt.registry.LoadExplorers(coinCfg.Coin(), coinCfg.Explorers, deps); err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() {
		if err := rt.registry.Close(); err != nil {
			logger.Warn("failed to close explorers", "error", err)
		}
	})

	coinOpts := coin.Options{
		Metrics:     rt.metrics,
		Logger:      logger,
		WatchBuffer: cfg.WatchBuffer,
	}

	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
		defer cancel()
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.store = db.NewStore(pool, rt.metrics, logger)
		if err := rt.store.Migrate(ctx); err != nil {
			rt.Close()
			return nil, err
		}
		coinOpts.Store = rt.store
	}

	if opts.publisher && cfg.NATSURL != "" {
		pub, err := nats.NewPublisher(cfg.NATSURL, cfg.NATSStream, logger, rt.metrics)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = pub.Close() })
		coinOpts.Publisher = pub
	}

	rt.coin, err = coin.New(coinCfg, rt.registry, coinOpts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// withRuntime wraps a command action with setup and teardown.
func withRuntime(opts setupOptions, action func(c *cli.Context, rt *runtime) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := setup(c, opts)
		if err != nil {
			return err
		}
		defer rt.Close()
		return action(c, rt)
	}
}

func requireArgs(c *cli.Context, names ...string) error {
	if c.NArg() != len(names) {
		return fmt.Errorf("expected arguments: %v", names)
	}
	return nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var errNoStore = errors.New("database-url is required (set DATABASE_URL env var or use --database-url)")
