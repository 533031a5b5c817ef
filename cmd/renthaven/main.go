package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/renthaven/renthaven/internal/app"
	"github.com/renthaven/renthaven/internal/observability"
	"github.com/renthaven/renthaven/internal/platform/cache"
	"github.com/renthaven/renthaven/internal/platform/db"
	"github.com/renthaven/renthaven/internal/ratelimit"
	"github.com/renthaven/renthaven/internal/rbac"
	"github.com/renthaven/renthaven/internal/security"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The rate-limit store doubles as the replay-nonce cache. Redis keeps
	// quota and replay state shared across instances; a single-instance
	// deployment can swap in ratelimit.NewMemoryStore() here.
	var rateStore ratelimit.Store
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory rate limit store", slog.Any("error", err))
		rateStore = ratelimit.NewMemoryStore()
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		rateStore = ratelimit.NewRedisStore(redisClient, "ratelimit")
	}

	signer, err := security.NewSigner(cfg.SigningSecret, cfg.ReplayTolerance, rateStore)
	if err != nil {
		logger.Error("init signer", slog.Any("error", err))
		os.Exit(1)
	}

	csrfGuard := security.NewCSRFGuard(cfg.CSRFCookieName, cfg.CSRFHeaderName, cfg.CSRFTTL, cfg.IsProduction())
	envelope := security.NewEnvelope()
	metrics := observability.NewMetrics()

	pipeline := security.Pipeline{
		Logger:            logger,
		CSRF:              csrfGuard,
		Signer:            signer,
		SigningEnabled:    cfg.SigningEnabled,
		Envelope:          envelope,
		EncryptionEnabled: cfg.EncryptionEnabled,
		Metrics:           metrics,
	}

	rbacService := rbac.NewService(rbac.NewPGRepository(pool), metrics)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Pipeline:        pipeline,
		SecurityHandler: security.NewHandler(logger, csrfGuard, envelope),
		RBACHandler:     rbac.NewHandler(logger, rbacService),
		RBACMiddleware:  rbacMiddleware,
		RateStore:       rateStore,
		Metrics:         metrics,
	})

	// In-process sweep alongside the worker's cron: harmless to run both,
	// and single-binary deployments keep memory bounded without a worker.
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go ratelimit.Sweeper{Store: rateStore, Interval: cfg.SweepInterval, Logger: logger}.Run(sweepCtx)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", slog.Any("error", err))
		}
	}()

	logger.Info("renthaven security service listening", slog.String("addr", cfg.AppAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server run", slog.Any("error", err))
		os.Exit(1)
	}
}
