// Package main is the entrypoint for the VisionHub API server.
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

	"github.com/anraghav/visionhub/internal/access"
	"github.com/anraghav/visionhub/internal/analysis"
	"github.com/anraghav/visionhub/internal/api"
	"github.com/anraghav/visionhub/internal/api/handler"
	mw "github.com/anraghav/visionhub/internal/api/middleware"
	"github.com/anraghav/visionhub/internal/api/response"
	"github.com/anraghav/visionhub/internal/artifacts"
	"github.com/anraghav/visionhub/internal/cache"
	"github.com/anraghav/visionhub/internal/config"
	"github.com/anraghav/visionhub/internal/signature"
	"github.com/anraghav/visionhub/internal/store"
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
	slog.Info("config loaded", "env", cfg.Server.Env, "analysis_enabled", cfg.ML.Enabled)

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

	// 5. Object storage for analysis artifacts. Optional: presign requests
	// fail with a clear error when no endpoint is configured.
	var presigner artifacts.Presigner
	if cfg.Storage.Endpoint != "" {
		mp, err := artifacts.NewMinioPresigner(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("create presigner: %w", err)
		}
		presigner = mp
		slog.Info("object storage connected", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.Bucket)
	} else {
		slog.Warn("object storage not configured; artifact presigning disabled")
	}

	// 6. Create store and analysis service
	pgStore := store.NewPostgresStore(pool)
	guard := access.NewStoreGuard(pgStore)
	svc := analysis.NewService(pgStore, guard, presigner, redisCache, cfg.ML)

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)
	verifier := signature.NewVerifier(cfg.ML.CallbackSecret, cfg.ML.RequireSignature, cfg.ML.ReplayWindow)
	sigMW := mw.NewSignature(verifier)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,
		Signature: sigMW,

		AnalysisEnabled: cfg.ML.Enabled,

		HealthHandler: healthHandler(pgStore, redisCache),

		CreateAnalysisHandler:  handler.NewCreateAnalysisHandler(svc),
		ListAnalysesHandler:    handler.NewListAnalysesHandler(svc),
		GetAnalysisHandler:     handler.NewGetAnalysisHandler(svc),
		ListAnnotationsHandler: handler.NewListAnnotationsHandler(svc),
		UpdateStatusHandler:    handler.NewUpdateStatusHandler(svc),

		BulkAnnotateHandler:    handler.NewBulkAnnotateHandler(svc),
		PresignArtifactHandler: handler.NewPresignArtifactHandler(svc),
		FinalizeHandler:        handler.NewFinalizeHandler(svc),
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
