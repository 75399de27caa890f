package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/model"
)

// SessionLogService queues operator activity for the session log worker.
type SessionLogService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewSessionLogService creates a new SessionLogService. With a nil Redis
// client entries are only written to the application log.
func NewSessionLogService(rdb *redis.Client, log zerolog.Logger) *SessionLogService {
	return &SessionLogService{
		rdb: rdb,
		log: log.With().Str("component", "session_log").Logger(),
	}
}

// Log queues one entry. The entry timestamp defaults to now.
func (s *SessionLogService) Log(ctx context.Context, e model.SessionLogEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	s.log.Info().
		Str("operator_id", e.OperatorID).
		Str("action", string(e.Action)).
		Str("ip", e.IPAddress).
		Msg("Operator session event")

	if s.rdb == nil {
		return nil
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal session log entry: %w", err)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.SessionLogQueue, raw).Err(); err != nil {
		return fmt.Errorf("queue session log entry: %w", err)
	}
	return nil
}
