package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/database"
	"github.com/stemsi/clipexam-backend/internal/logger"
	"github.com/stemsi/clipexam-backend/internal/model"
	"github.com/stemsi/clipexam-backend/internal/scoring"
	"github.com/stemsi/clipexam-backend/internal/service"
)

// demoClips is the two-clip DEMO exam: one intervention at 10 s, one without.
func demoClips(examCode string) []model.Clip {
	correct := 10.0
	return []model.Clip{
		{
			ExamCode:        examCode,
			ClipID:          "C1",
			Title:           "Intervention at 10s",
			HasIntervention: true,
			CorrectTime:     &correct,
			Active:          true,
			Order:           1,
		},
		{
			ExamCode: examCode,
			ClipID:   "C2",
			Title:    "No intervention",
			Active:   true,
			Order:    2,
		},
	}
}

func main() {
	examCode := flag.String("exam", "DEMO", "exam code to seed")
	provision := flag.Bool("provision", true, "provision ledger fields after seeding")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
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

	store, closeStore, err := database.NewLedgerStore(ctx, cfg, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open result store")
	}
	defer closeStore()

	source, err := database.NewClipSource(cfg, pool, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up clip catalog")
	}

	scoringCfg := scoring.Config{Tolerance: cfg.ScoringTolerance, ClipDuration: cfg.ClipDuration}
	catalog := service.NewCatalogService(source, nil, 0, scoringCfg, log)

	fmt.Printf("=== Seeding %s ===\n", *examCode)
	for _, clip := range demoClips(*examCode) {
		clip := clip
		if err := catalog.UpsertClip(ctx, &clip); err != nil {
			log.Fatal().Err(err).Str("clip_id", clip.ClipID).Msg("Failed to seed clip")
		}
		fmt.Printf("  %s (intervention=%t)\n", clip.ClipID, clip.HasIntervention)
	}

	if !*provision {
		return
	}

	locker, err := database.NewLocker(&config.Config{LockDriver: config.LockDriverLocal}, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up locks")
	}
	schema := service.NewSchemaService(store, cfg.LedgerSheet, catalog, locker, nil, log)
	report, err := schema.EnsureSchema(ctx, *examCode)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to provision ledger fields")
	}
	fmt.Printf("Ledger fields created: %v\n", report.Created)
}
