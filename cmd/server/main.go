// Package main is the entrypoint for the RefPilot API server.
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

	"github.com/refpilot/refpilot/internal/api"
	"github.com/refpilot/refpilot/internal/api/handler"
	mw "github.com/refpilot/refpilot/internal/api/middleware"
	"github.com/refpilot/refpilot/internal/api/response"
	"github.com/refpilot/refpilot/internal/cache"
	"github.com/refpilot/refpilot/internal/config"
	"github.com/refpilot/refpilot/internal/export"
	"github.com/refpilot/refpilot/internal/resolver"
	"github.com/refpilot/refpilot/internal/scrape"
	"github.com/refpilot/refpilot/internal/store"
	"github.com/refpilot/refpilot/internal/syncbridge"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "directory_url", cfg.Directory.BaseURL, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store and domain services
	pgStore := store.NewPostgresStore(pool)

	browser := scrape.NewChromeBrowser(cfg.Scrape.NavTimeout)
	orchestrator := scrape.New(pgStore, browser, redisCache, cfg.Directory.BaseURL, cfg.Scrape.SyncThreshold)
	exporter := export.New(pgStore)
	bridge := syncbridge.New(pgStore)
	redirects := resolver.New(cfg.Resolver)

	// 6. Background sweep for jobs stuck in running
	if cfg.Scrape.StaleAfter > 0 {
		sweeper := scrape.NewSweeper(pgStore, cfg.Scrape.SweepEvery, cfg.Scrape.StaleAfter)
		if err := sweeper.Start(ctx); err != nil {
			return fmt.Errorf("start stale job sweeper: %w", err)
		}
		defer sweeper.Stop()
		slog.Info("stale job sweeper started", "interval", cfg.Scrape.SweepEvery)
	}

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		SyncSelectionHandler: handler.NewSyncSelectionHandler(bridge),
		ListSyncedHandler:    handler.NewListSyncedHandler(bridge),
		ListTemplatesHandler: handler.NewListTemplatesHandler(pgStore, redisCache),

		TriggerScrapeHandler:   handler.NewTriggerScrapeHandler(orchestrator),
		ScrapeLogHandler:       handler.NewScrapeLogHandler(orchestrator),
		ExportHandler:          handler.NewExportHandler(exporter),
		ResolveRedirectHandler: handler.NewResolveRedirectHandler(pgStore, redirects),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
