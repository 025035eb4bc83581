// Package main is the entrypoint for the Trialbench API server.
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

	"github.com/probelab/trialbench/internal/adaptive"
	"github.com/probelab/trialbench/internal/aggregate"
	"github.com/probelab/trialbench/internal/api"
	"github.com/probelab/trialbench/internal/api/handler"
	mw "github.com/probelab/trialbench/internal/api/middleware"
	"github.com/probelab/trialbench/internal/api/response"
	"github.com/probelab/trialbench/internal/audit"
	"github.com/probelab/trialbench/internal/batch"
	"github.com/probelab/trialbench/internal/cache"
	"github.com/probelab/trialbench/internal/config"
	"github.com/probelab/trialbench/internal/estimate"
	"github.com/probelab/trialbench/internal/launch"
	"github.com/probelab/trialbench/internal/providers"
	"github.com/probelab/trialbench/internal/queue"
	"github.com/probelab/trialbench/internal/store"
	"github.com/probelab/trialbench/pkg/models"
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
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env)

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

	// 4. Create Redis cache + job queue sharing one client
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	jobQueue := queue.NewRedisQueue(redisCache.Client())

	// 5. Wire services
	pgStore := store.NewPostgresStore(pool)
	router := providers.NewRouter(pgStore, redisCache, cfg.Provider.CacheTTL)
	auditSink := audit.NewStoreSink(pgStore)
	planner := estimate.NewHTTPClient(cfg.Planner.BaseURL, cfg.Planner.Timeout)

	orchestrator := launch.NewOrchestrator(pgStore, router, jobQueue, auditSink)
	batchLauncher := batch.NewLauncher(pgStore, orchestrator, planner, auditSink)
	controller := adaptive.NewController(pgStore, planner, orchestrator)
	engine := aggregate.NewEngine(pgStore, controller)

	// 6. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:       healthHandler(pgStore, redisCache, jobQueue),
		LaunchRunHandler:    handler.LaunchRun(orchestrator),
		DomainTrialsHandler: handler.RunDomainTrials(batchLauncher),
		TrialCellHandler:    handler.RetryTrialCell(batchLauncher),
		AggregateHandler:    handler.UpdateAggregate(engine),
	}

	httpRouter := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpRouter,
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

// healthHandler checks database and cache connectivity and reports the
// default queue's backlog.
func healthHandler(s store.Store, c cache.Cache, q *queue.RedisQueue) http.HandlerFunc {
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

		body := map[string]any{
			"status":   "ok",
			"services": checks,
		}
		if depth, err := q.Depth(r.Context(), models.DefaultQueueName); err == nil {
			body["queue_depth"] = map[string]int64{models.DefaultQueueName: depth}
		}
		response.JSON(w, body)
	}
}
