package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/metrics"
	"github.com/stemsi/clipexam-backend/internal/model"
	"github.com/stemsi/clipexam-backend/internal/sheet"
)

const (
	SessionLogBatchSize    = 50
	SessionLogBatchTimeout = 2 * time.Second
	SessionLogPollTimeout  = 1 * time.Second
)

// SessionLogHeader is written to an empty session log sheet.
var SessionLogHeader = []string{"OperatorID", "Timestamp", "Action", "IP", "Metadata"}

// SessionLogWorker drains the operator session log queue into the store.
type SessionLogWorker struct {
	store     sheet.Store
	sheetName string
	rdb       *redis.Client
	metrics   *metrics.Manager
	log       zerolog.Logger

	headerReady bool
}

func NewSessionLogWorker(store sheet.Store, sheetName string, rdb *redis.Client, m *metrics.Manager, log zerolog.Logger) *SessionLogWorker {
	return &SessionLogWorker{
		store:     store,
		sheetName: sheetName,
		rdb:       rdb,
		metrics:   m,
		log:       log.With().Str("component", "session_log_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *SessionLogWorker) Start(ctx context.Context) {
	w.log.Info().Str("sheet", w.sheetName).Msg("SessionLogWorker started")

	batch := make([]*model.SessionLogEntry, 0, SessionLogBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= SessionLogBatchSize || time.Since(lastFlush) >= SessionLogBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, SessionLogPollTimeout, config.WorkerKey.SessionLogQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var e model.SessionLogEntry
			if err := json.Unmarshal([]byte(item[1]), &e); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &e)
		}
	}
}

// ----------------------------------------------------------------
// Batch append with requeue on failure
// ----------------------------------------------------------------

func (w *SessionLogWorker) flushSafe(ctx context.Context, batch []*model.SessionLogEntry) {
	if len(batch) == 0 {
		return
	}

	written, err := w.Flush(ctx, batch)
	w.metrics.SessionLogFlushed(written)
	if err == nil {
		return
	}

	w.metrics.SessionLogError()
	w.log.Error().Err(err).
		Int("written", written).
		Int("requeued", len(batch)-written).
		Msg("Session log flush failed, requeueing")

	for _, e := range batch[written:] {
		raw, _ := json.Marshal(e)
		w.rdb.RPush(ctx, config.WorkerKey.SessionLogQueue, raw)
	}
}

// Flush appends entries in order and returns how many were written before
// the first failure.
func (w *SessionLogWorker) Flush(ctx context.Context, batch []*model.SessionLogEntry) (int, error) {
	if err := w.ensureHeader(ctx); err != nil {
		return 0, err
	}
	for i, e := range batch {
		if _, err := w.store.AppendRow(ctx, w.sheetName, SessionLogRow(e)); err != nil {
			return i, fmt.Errorf("append session log: %w", err)
		}
	}
	return len(batch), nil
}

func (w *SessionLogWorker) ensureHeader(ctx context.Context) error {
	if w.headerReady {
		return nil
	}
	rows, err := w.store.ReadRange(ctx, sheet.Row(w.sheetName, 1))
	if err != nil {
		return fmt.Errorf("read session log header: %w", err)
	}
	if len(rows) == 0 {
		if _, err := w.store.AppendRow(ctx, w.sheetName, SessionLogHeader); err != nil {
			return fmt.Errorf("write session log header: %w", err)
		}
	}
	w.headerReady = true
	return nil
}

// SessionLogRow renders an entry in SessionLogHeader order.
func SessionLogRow(e *model.SessionLogEntry) []string {
	meta := ""
	if len(e.Metadata) > 0 {
		raw, _ := json.Marshal(e.Metadata)
		meta = string(raw)
	}
	return []string{
		e.OperatorID,
		e.At.UTC().Format(time.RFC3339),
		string(e.Action),
		e.IPAddress,
		meta,
	}
}
