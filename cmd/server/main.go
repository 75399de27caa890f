package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/database"
	"github.com/stemsi/clipexam-backend/internal/handler"
	"github.com/stemsi/clipexam-backend/internal/logger"
	"github.com/stemsi/clipexam-backend/internal/metrics"
	"github.com/stemsi/clipexam-backend/internal/middleware"
	"github.com/stemsi/clipexam-backend/internal/repository"
	"github.com/stemsi/clipexam-backend/internal/router"
	"github.com/stemsi/clipexam-backend/internal/scoring"
	"github.com/stemsi/clipexam-backend/internal/service"
	"github.com/stemsi/clipexam-backend/internal/validator"
	"github.com/stemsi/clipexam-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("catalog", cfg.CatalogDriver).
		Str("lock", cfg.LockDriver).
		Msg("Starting ClipExam Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// ─── Connect to PostgreSQL (catalog only) ──────────────────────────
	var pool *pgxpool.Pool
	if cfg.CatalogDriver == config.CatalogDriverPostgres {
		var err error
		pool, err = database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
	}

	// ─── Connect to Redis (optional) ───────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ─── Open Result Store ─────────────────────────────────────────────
	store, closeStore, err := database.NewLedgerStore(ctx, cfg, m.ObserveStore, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open result store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("Result store close error")
		}
	}()

	locker, err := database.NewLocker(cfg, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up attempt locks")
	}

	clipSource, err := database.NewClipSource(cfg, pool, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up clip catalog")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	scoringCfg := scoring.Config{Tolerance: cfg.ScoringTolerance, ClipDuration: cfg.ClipDuration}

	var roster service.OperatorRoster
	if cfg.OperatorSheet != "" {
		roster = repository.NewOperatorRepository(store, cfg.OperatorSheet)
	}

	authService := service.NewAuthService(cfg, rdb, roster, log)
	catalogService := service.NewCatalogService(clipSource, rdb, cfg.CatalogCacheTTL, scoringCfg, log)
	schemaService := service.NewSchemaService(store, cfg.LedgerSheet, catalogService, locker, m, log)
	ledgerService := service.NewLedgerService(store, cfg.LedgerSheet, schemaService, locker, m, log)
	sessionLogService := service.NewSessionLogService(rdb, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:   handler.NewAuthHandler(authService, sessionLogService),
		Exam:   handler.NewExamHandler(catalogService, ledgerService, sessionLogService),
		Admin:  handler.NewAdminHandler(authService, catalogService, schemaService, ledgerService),
		WS:     handler.NewWSHandler(catalogService, ledgerService, sessionLogService, scoringCfg, m, log, cfg.AllowedOrigins),
		System: handler.NewSystemHandler(cfg, rdb, schemaService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workersDone := make(chan struct{})

	authLimiter := middleware.NewRateLimiter(rdb, "auth", 30, time.Minute, log)
	go authLimiter.RunCleanup(workerCtx)

	if rdb != nil {
		sessionLogWorker := worker.NewSessionLogWorker(store, cfg.SessionLogSheet, rdb, m, log)
		go func() {
			defer close(workersDone)
			sessionLogWorker.Start(workerCtx)
		}()
	} else {
		log.Warn().Msg("Redis disabled: session log entries go to the application log only")
		close(workersDone)
	}

	// ─── Prewarm Catalog ───────────────────────────────────────────────
	// Reads the header once so the first attempt does not pay for it.
	if _, err := schemaService.Registry(ctx); err != nil {
		log.Warn().Err(err).Msg("Schema prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, router.Options{
		Log:         log,
		Metrics:     m.Handler(),
		AuthLimiter: authLimiter,
		PaperMaxAge: 60,
	})

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the session log to flush.
	workerCancel()
	select {
	case <-workersDone:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Session log worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}
