package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/database"
	"github.com/stemsi/clipexam-backend/internal/logger"
	"github.com/stemsi/clipexam-backend/internal/scoring"
	"github.com/stemsi/clipexam-backend/internal/service"
)

// Usage: provision-schema [EXAM_CODE ...]
// With no arguments every exam code in the catalog is provisioned.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var pool *pgxpool.Pool
	if cfg.CatalogDriver == config.CatalogDriverPostgres {
		var err error
		pool, err = database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
	}

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	store, closeStore, err := database.NewLedgerStore(ctx, cfg, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open result store")
	}
	defer closeStore()

	source, err := database.NewClipSource(cfg, pool, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up clip catalog")
	}
	// Use the server's lock so a running instance and this tool never
	// extend the header at the same time.
	locker, err := database.NewLocker(cfg, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up locks")
	}

	scoringCfg := scoring.Config{Tolerance: cfg.ScoringTolerance, ClipDuration: cfg.ClipDuration}
	catalog := service.NewCatalogService(source, nil, 0, scoringCfg, log)
	schema := service.NewSchemaService(store, cfg.LedgerSheet, catalog, locker, nil, log)

	codes := os.Args[1:]
	if len(codes) == 0 {
		codes, err = catalog.ListExamCodes(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list exam codes")
		}
	}
	if len(codes) == 0 {
		fmt.Println("No exam codes in the catalog.")
		return
	}

	failed := 0
	for _, code := range codes {
		report, err := schema.EnsureSchema(ctx, code)
		if err != nil {
			failed++
			log.Error().Err(err).Str("exam_code", code).Msg("Provisioning failed")
			continue
		}
		fmt.Printf("%-12s created=%d existing=%d\n", report.ExamCode, len(report.Created), len(report.Existing))
	}
	if failed > 0 {
		os.Exit(1)
	}
}
