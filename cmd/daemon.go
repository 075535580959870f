package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedsync/internal/events"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

const metricsShutdownTimeout = 5 * time.Second

func daemonCmd() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Run the periodic sync of the current account",
		Description: `Runs the sync timer of the current account until interrupted.

		Every tick syncs the account and then back-fills full article content in the
		background. Prometheus metrics are served on METRICS_ADDR when set.`,
		Action: withApp(func(c *cli.Context, sess session) error {
			start := time.Now()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			unsubscribe := sess.app.Bus.Subscribe(func(e events.Event) {
				sess.log.DebugContext(ctx, "Event is published",
					"kind", e.Kind,
					"accountID", e.AccountID,
					"error", e.Err)
			})
			defer unsubscribe()

			var server *http.Server
			if sess.cfg.MetricsAddr != "" {
				server = startMetricsServer(ctx, sess)
			}

			sess.app.StartScheduling(ctx)
			sess.log.InfoContext(ctx, "Daemon is started",
				"metricsAddr", sess.cfg.MetricsAddr)

			<-ctx.Done()
			sess.log.InfoContext(ctx, "Shutdown signal is received",
				"uptimeSeconds", time.Since(start).Seconds())

			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					sess.log.ErrorContext(ctx, "Failed to stop metrics server",
						"error", err)
				}
			}

			return nil
		}),
	}
}

func startMetricsServer(ctx context.Context, sess session) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              sess.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sess.log.ErrorContext(ctx, "Metrics server failed",
				"error", err,
				"metricsAddr", sess.cfg.MetricsAddr)
		}
	}()

	sess.log.InfoContext(ctx, "Metrics server is started",
		"metricsAddr", sess.cfg.MetricsAddr)

	return server
}
