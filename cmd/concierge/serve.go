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

	"github.com/aretw0/concierge"
	"github.com/aretw0/concierge/internal/tracing"
	httpadapter "github.com/aretw0/concierge/pkg/adapters/http"
	"github.com/aretw0/concierge/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP turn API",
	Long:  `Starts the orchestrator behind a JSON API over HTTP, with Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
		if err != nil {
			return err
		}
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownTracing(tctx); err != nil {
				logger.Warn("tracer shutdown failed", "err", err)
			}
		}()

		metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
		extra := []concierge.Option{
			concierge.WithTelemetry(observability.Fanout{observability.NewLogSink(logger), metrics}),
			concierge.WithLifecycleHooks(metrics.Hooks()),
		}
		if sandbox, _ := cmd.Flags().GetBool("sandbox"); sandbox {
			extra = append(extra, concierge.WithSandboxTargets())
		}

		orch, closeStore, err := concierge.FromConfig(ctx, cfg, logger, extra...)
		if err != nil {
			return err
		}
		defer closeStore()

		if err := orch.Validate(); err != nil {
			return fmt.Errorf("tool registry: %w", err)
		}

		srv := &http.Server{
			Addr: cfg.Server.Addr,
			Handler: httpadapter.NewHandler(orch,
				httpadapter.WithLogger(logger),
				httpadapter.WithGatherer(prometheus.DefaultGatherer),
				httpadapter.WithInputLimits(httpadapter.InputLimits{
					Default:   cfg.Server.MaxTextBytes,
					Verticals: cfg.Server.VerticalTextBytes,
				}),
			),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("server listening", "addr", srv.Addr, "store", cfg.Store.Driver)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server: %w", err)

		case sig := <-shutdown:
			logger.Info("shutting down", "signal", sig.String())

			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(sctx); err != nil {
				logger.Error("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				return srv.Close()
			}
			logger.Info("server stopped")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().Bool("sandbox", false, "Register in-memory booking tools")
}
