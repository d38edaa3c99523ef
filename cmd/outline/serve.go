package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/fileverse/fileverse-ddoc-sub002/internal/app"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/docstore"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/events"
	"github.com/fileverse/fileverse-ddoc-sub002/internal/relay"
)

func NewCmdServe(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the outline HTTP API.",
		Long: heredoc.Doc(`
			Serve documents stored under OUTLINE_REPOS_DIR over HTTP on
			OUTLINE_ADDR. Every collapse change is committed to the document's
			git repository. When OUTLINE_REDIS_URL is set, toggles are shared
			with every other server watching the same document.

			Prometheus metrics are exposed on /metrics.
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(commandContext(cmd), st)
		},
	}
}

func runServe(ctx context.Context, st *cliState) error {
	cfg, logger := st.cfg, st.logger
	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return fmt.Errorf("create repos dir: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bus := events.NewBus(logger)

	opts := app.Options{
		Config:  cfg,
		Store:   docstore.New(cfg.ReposDir),
		Bus:     bus,
		Metrics: reg,
		Logger:  logger,
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		r, err := relay.NewRedisRelay(cfg.RedisURL, bus, logger)
		if err != nil {
			return fmt.Errorf("connect toggle relay: %w", err)
		}
		defer r.Close()
		opts.Relay = r
		logger.Info("toggle relay enabled", "origin", r.Origin())
	}

	svc, err := app.NewService(opts)
	if err != nil {
		return err
	}
	defer svc.Shutdown()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", app.NewHTTPServer(svc, cfg.CORSOrigin).Handler())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("outline API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	return nil
}
