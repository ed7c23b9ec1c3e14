package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/harvest/api"
	"github.com/use-agent/harvest/api/handler"
	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/scraper"
	"github.com/use-agent/harvest/store"
	"github.com/use-agent/harvest/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Start the HTTP API:

  GET /run-scrape   harvest and return the raw payload (?max_age=<ms> allows a cached copy)
  GET /run-report   harvest and return the flattened listings
  GET /runs         recent harvest runs
  GET /health       liveness probe
  GET /metrics      Prometheus metrics`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// ── 2. Initialise structured logging ────────────────────────────
	closeLog := initLogger(cfg.Log, os.Stdout)
	defer closeLog()
	slog.Info("harvest starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxConcurrent", cfg.Browser.MaxConcurrent,
		"maxAttempts", cfg.Retry.MaxAttempts,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Scraper (browsers are launched per request) ──────────────
	metrics := scraper.NewMetrics()
	sc := newScraper(cfg, metrics)

	// ── 4. Run history + notifications ──────────────────────────────
	deps := &handler.Deps{
		Harvester: sc,
		Cache:     cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL),
		CacheKey:  cache.Key(cfg.Target.PageURL, cfg.Target.APIURL, cfg.Target.APIMethod),
		BaseURL:   cfg.Target.BaseURL,
	}
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		deps.Runs = st
	}
	var notifier *webhook.Notifier
	if cfg.Webhook.URL != "" {
		notifier = webhook.New(cfg.Webhook.URL, cfg.Webhook.Secret)
		deps.Notifier = notifier
	}

	// ── 5. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(ctx, cfg, deps, metrics)

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	// A harvest can take minutes; in-flight ones see their context canceled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	notifier.Wait()
	slog.Info("harvest stopped")
	return nil
}
