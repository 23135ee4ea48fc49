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

	"github.com/harperwn/contraq/internal/api"
	"github.com/harperwn/contraq/internal/api/handler"
	mw "github.com/harperwn/contraq/internal/api/middleware"
	"github.com/harperwn/contraq/internal/api/response"
	"github.com/harperwn/contraq/internal/cache"
	"github.com/harperwn/contraq/internal/config"
	"github.com/harperwn/contraq/internal/docai"
	"github.com/harperwn/contraq/internal/index"
	"github.com/harperwn/contraq/internal/queue"
	"github.com/harperwn/contraq/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("migrations applied")

	st := store.NewPostgresStore(pool)

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("creating redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}

	docIndex, err := index.NewRedisIndex(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("creating document index: %w", err)
	}
	defer docIndex.Close()

	fetcher := docai.NewHTTPClient(cfg.DocAI.BaseURL, cfg.DocAI.APIKey,
		cfg.DocAI.Timeout, cfg.DocAI.MaxRetries)

	populator := queue.NewPopulator(st, cfg.Queue.MaxDocsPerContract)
	processor := queue.NewProcessor(st, fetcher, docIndex, redisCache, cfg.DocAI.Timeout)
	reconciler := queue.NewReconciler(st, cfg.Queue.StuckThreshold)
	reporter := queue.NewStatusReporter(st)

	if cfg.Queue.ReconcileInterval > 0 {
		go reconciler.Run(ctx, cfg.Queue.ReconcileInterval)
	}

	router := api.NewRouter(api.Dependencies{
		Populate:    handler.NewPopulateHandler(populator),
		QueueStatus: handler.NewQueueStatusHandler(reporter),
		Process: handler.NewProcessHandler(processor, handler.QueueDefaults{
			Concurrency: cfg.Queue.DefaultConcurrency,
			BatchSize:   cfg.Queue.DefaultBatchSize,
		}),
		Clear:         handler.NewClearHandler(st),
		JobStatus:     handler.NewJobStatusHandler(st, redisCache),
		StuckList:     handler.NewStuckHandler(reconciler),
		ResetEntry:    handler.NewResetEntryHandler(reconciler),
		ResetAllStuck: handler.NewResetAllStuckHandler(reconciler),
		Health:        healthHandler(st, redisCache, docIndex),
		RateLimit:     mw.NewRateLimit(redisCache, 60),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// healthHandler reports readiness of the database, the cache, and the
// document index. Any dependency failure returns 503 with per-check detail.
func healthHandler(st store.Store, c cache.Cache, idx index.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"index":    "ok",
		}
		healthy := true

		if err := st.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		}
		if err := c.Ping(ctx); err != nil {
			checks["cache"] = err.Error()
			healthy = false
		}
		if err := idx.Ping(ctx); err != nil {
			checks["index"] = err.Error()
			healthy = false
		}

		if !healthy {
			response.Error(w, http.StatusServiceUnavailable,
				"UNHEALTHY", "One or more dependencies are unavailable", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status": "ok",
			"checks": checks,
		})
	}
}
