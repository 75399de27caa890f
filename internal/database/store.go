package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/keylock"
	"github.com/stemsi/clipexam-backend/internal/repository"
	"github.com/stemsi/clipexam-backend/internal/service"
	"github.com/stemsi/clipexam-backend/internal/sheet"
)

// NewLedgerStore opens the tabular store selected by STORE_DRIVER. The
// returned close func is never nil. observe, when set, receives per-call
// latency.
func NewLedgerStore(ctx context.Context, cfg *config.Config, observe sheet.ObserveFunc, log zerolog.Logger) (sheet.Store, func() error, error) {
	noop := func() error { return nil }

	var store sheet.Store
	closeFn := noop
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn().Msg("STORE_DRIVER=memory: results are NOT persisted and are lost on restart")
		store = sheet.NewMemoryStore()
	case config.StoreDriverXLSX:
		x, err := sheet.OpenXLSX(cfg.XLSXPath)
		if err != nil {
			return nil, noop, fmt.Errorf("open xlsx store: %w", err)
		}
		store, closeFn = x, x.Close
		log.Info().Str("path", cfg.XLSXPath).Msg("Workbook store opened")
	case config.StoreDriverGSheets:
		g, err := sheet.NewGoogleStore(ctx, cfg.SpreadsheetID, sheet.GoogleOptions(cfg.GoogleCreds)...)
		if err != nil {
			return nil, noop, fmt.Errorf("open google sheets store: %w", err)
		}
		store = g
		log.Info().Str("spreadsheet_id", cfg.SpreadsheetID).Msg("Google Sheets store connected")
	default:
		return nil, noop, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	return sheet.Instrument(store, observe), closeFn, nil
}

// NewClipSource returns the catalog backend selected by CATALOG_DRIVER. The
// postgres driver requires pool; the sheet driver reads CATALOG_SHEET from
// store.
func NewClipSource(cfg *config.Config, pool *pgxpool.Pool, store sheet.Store) (service.ClipSource, error) {
	switch cfg.CatalogDriver {
	case config.CatalogDriverPostgres:
		if pool == nil {
			return nil, fmt.Errorf("postgres catalog requires a database pool")
		}
		return repository.NewClipRepository(pool), nil
	case config.CatalogDriverSheet:
		return repository.NewSheetClipRepository(store, cfg.CatalogSheet, cfg.CatalogExamCode), nil
	default:
		return nil, fmt.Errorf("unknown CATALOG_DRIVER %q", cfg.CatalogDriver)
	}
}

// NewLocker returns the key locker selected by LOCK_DRIVER.
func NewLocker(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) (keylock.Locker, error) {
	switch cfg.LockDriver {
	case config.LockDriverLocal:
		return keylock.NewLocal(), nil
	case config.LockDriverRedis:
		if rdb == nil {
			return nil, fmt.Errorf("LOCK_DRIVER=redis requires REDIS_URL")
		}
		ttl := cfg.LockTTL
		if ttl <= 0 {
			ttl = 10 * time.Second
		}
		return keylock.NewRedis(rdb, ttl, log), nil
	default:
		return nil, fmt.Errorf("unknown LOCK_DRIVER %q", cfg.LockDriver)
	}
}
