package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream pushed transactions of an address to the history store and NATS",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Address serving /metrics (empty disables it)",
				EnvVars: []string{"METRICS_ADDR"},
				Value:   ":9090",
			},
			&cli.IntFlag{
				Name:    "buffer",
				Usage:   "Transactions buffered between the socket and the output",
				EnvVars: []string{"WATCH_BUFFER"},
				Value:   64,
			},
			&cli.DurationFlag{
				Name:    "shutdown-timeout",
				Usage:   "Grace period for the metrics server on shutdown",
				EnvVars: []string{"SHUTDOWN_TIMEOUT"},
				Value:   10 * time.Second,
			},
		},
		Action: withRuntime(setupOptions{publisher: true}, func(c *cli.Context, rt *runtime) error {
			if err := requireArgs(c, "address"); err != nil {
				return err
			}
			address := c.Args().First()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var srv *http.Server
			serverErrors := make(chan error, 1)
			if addr := c.String("metrics-addr"); addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(rt.prom, promhttp.HandlerOpts{}))
				srv = &http.Server{Addr: addr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						serverErrors <- err
					}
				}()
				rt.logger.Info("serving metrics", "addr", addr)
			}

			txs, err := rt.coin.Watch(ctx, address)
			if err != nil {
				return err
			}

			var watchErr error
		loop:
			for {
				select {
				case tx, ok := <-txs:
					if !ok {
						if ctx.Err() == nil {
							watchErr = fmt.Errorf("socket closed while watching %s", address)
						}
						break loop
					}
					if c.Bool("json") {
						if err := outputJSON(c.App.Writer, tx); err != nil {
							return err
						}
						continue
					}
					dir := "out"
					if tx.Incoming() {
						dir = "in"
					}
					fmt.Fprintf(c.App.Writer, "%s %s %s %s (%s)\n", tx.DateTime().Format("2006-01-02 15:04:05"), dir, tx.Amount(), tx.TxID(), tx.Status().Text)
				case err := <-serverErrors:
					watchErr = fmt.Errorf("metrics server failed: %w", err)
					break loop
				}
			}

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					rt.logger.Error("failed to shutdown metrics server gracefully", "error", err)
				}
			}
			return watchErr
		}),
	}
}
