package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/model"
	"github.com/stemsi/clipexam-backend/internal/scoring"
	"golang.org/x/sync/singleflight"
)

// Catalog errors.
var (
	ErrCatalogUnavailable = errors.New("clip catalog unavailable")
	ErrUnknownExamCode    = errors.New("unknown exam code")
	ErrCatalogReadOnly    = errors.New("clip catalog is read-only")
	ErrInvalidClip        = errors.New("clip ground truth contradicts its intervention flag")
)

// ClipSource is a clip catalog backend.
type ClipSource interface {
	// ListClips returns every clip of an exam code, active or not, in play order.
	ListClips(ctx context.Context, examCode string) ([]model.Clip, error)
	ListExamCodes(ctx context.Context) ([]string, error)
}

// ClipWriter is implemented by catalog backends that accept edits.
type ClipWriter interface {
	Upsert(ctx context.Context, clip *model.Clip) error
}

// CatalogService serves the clip catalog, caching each exam code's clips in
// Redis. A nil Redis client disables the cache.
type CatalogService struct {
	source  ClipSource
	rdb     *redis.Client
	ttl     time.Duration
	scoring scoring.Config
	group   singleflight.Group
	log     zerolog.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(
	source ClipSource,
	rdb *redis.Client,
	ttl time.Duration,
	scoringCfg scoring.Config,
	log zerolog.Logger,
) *CatalogService {
	return &CatalogService{
		source:  source,
		rdb:     rdb,
		ttl:     ttl,
		scoring: scoringCfg,
		log:     log.With().Str("component", "catalog_service").Logger(),
	}
}

// NormalizeExamCode trims surrounding whitespace.
func NormalizeExamCode(code string) string {
	return strings.TrimSpace(code)
}

// ListActiveClips returns the playable clips of an exam code in order.
// Clips whose ground truth contradicts their intervention flag are skipped.
func (s *CatalogService) ListActiveClips(ctx context.Context, examCode string) ([]model.Clip, error) {
	all, err := s.clips(ctx, examCode)
	if err != nil {
		return nil, err
	}

	active := make([]model.Clip, 0, len(all))
	for _, c := range all {
		if !c.Active {
			continue
		}
		if !c.Valid() {
			s.log.Warn().
				Str("exam_code", examCode).
				Str("clip_id", c.ClipID).
				Msg("Skipping clip with inconsistent ground truth")
			continue
		}
		active = append(active, c)
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: %s has no active clips", ErrUnknownExamCode, examCode)
	}
	return active, nil
}

// ListClipIDs returns the clip-ID universe of an exam code, inactive clips
// included, so fields exist before a clip is switched on.
func (s *CatalogService) ListClipIDs(ctx context.Context, examCode string) ([]string, error) {
	all, err := s.clips(ctx, examCode)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for _, c := range all {
		ids = append(ids, c.ClipID)
	}
	return ids, nil
}

// ValidateExamCode fails with ErrUnknownExamCode when the code has no clips.
func (s *CatalogService) ValidateExamCode(ctx context.Context, examCode string) error {
	_, err := s.clips(ctx, examCode)
	return err
}

// ListExamCodes returns every exam code known to the catalog.
func (s *CatalogService) ListExamCodes(ctx context.Context) ([]string, error) {
	if s.rdb != nil {
		codes, err := s.rdb.LRange(ctx, config.CacheKey.ExamCodesKey(), 0, -1).Result()
		if err == nil && len(codes) > 0 {
			return codes, nil
		}
	}

	codes, err := s.source.ListExamCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}

	if s.rdb != nil && len(codes) > 0 {
		key := config.CacheKey.ExamCodesKey()
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, toAny(codes)...)
		pipe.Expire(ctx, key, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Exam code cache write failed")
		}
	}
	return codes, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// GetExamPaper builds the operator-facing clip list, without ground truth.
func (s *CatalogService) GetExamPaper(ctx context.Context, examCode string) (*model.ExamPaper, error) {
	clips, err := s.ListActiveClips(ctx, examCode)
	if err != nil {
		return nil, err
	}

	paper := &model.ExamPaper{
		ExamCode:               NormalizeExamCode(examCode),
		Clips:                  make([]model.ClipForOperator, 0, len(clips)),
		TotalCount:             len(clips),
		ClipDurationSeconds:    s.scoring.ClipDuration.Seconds(),
		ToleranceWindowSeconds: s.scoring.Tolerance,
	}
	for _, c := range clips {
		paper.Clips = append(paper.Clips, c.ForOperator())
		if c.HasIntervention {
			paper.InterventionClips++
		} else {
			paper.NonInterventionClips++
		}
	}
	return paper, nil
}

// UpsertClip writes a clip to a writable catalog and drops its cached exam code.
func (s *CatalogService) UpsertClip(ctx context.Context, clip *model.Clip) error {
	w, ok := s.source.(ClipWriter)
	if !ok {
		return ErrCatalogReadOnly
	}
	clip.ExamCode = NormalizeExamCode(clip.ExamCode)
	clip.ClipID = strings.TrimSpace(clip.ClipID)
	if clip.ExamCode == "" || !clip.Valid() {
		return ErrInvalidClip
	}
	if err := w.Upsert(ctx, clip); err != nil {
		return fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	if err := s.Invalidate(ctx, clip.ExamCode); err != nil {
		s.log.Warn().Err(err).Str("exam_code", clip.ExamCode).Msg("Cache invalidation failed")
	}
	s.log.Info().Str("exam_code", clip.ExamCode).Str("clip_id", clip.ClipID).Msg("Clip upserted")
	return nil
}

// Invalidate drops the cached clips of an exam code.
func (s *CatalogService) Invalidate(ctx context.Context, examCode string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, config.CacheKey.ExamClipsKey(examCode), config.CacheKey.ExamCodesKey()).Err()
}

// clips returns all clips of an exam code, from cache when possible.
// Concurrent misses for the same code share one source read.
func (s *CatalogService) clips(ctx context.Context, examCode string) ([]model.Clip, error) {
	examCode = NormalizeExamCode(examCode)
	if examCode == "" {
		return nil, fmt.Errorf("%w: empty exam code", ErrUnknownExamCode)
	}

	if cached, ok := s.fromCache(ctx, examCode); ok {
		return cached, nil
	}

	v, err, _ := s.group.Do(examCode, func() (any, error) {
		clips, err := s.source.ListClips(ctx, examCode)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
		}
		if len(clips) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownExamCode, examCode)
		}
		s.toCache(ctx, examCode, clips)
		return clips, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Clip), nil
}

func (s *CatalogService) fromCache(ctx context.Context, examCode string) ([]model.Clip, bool) {
	if s.rdb == nil {
		return nil, false
	}

	data, err := s.rdb.Get(ctx, config.CacheKey.ExamClipsKey(examCode)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("exam_code", examCode).Msg("Catalog cache read failed")
		}
		return nil, false
	}

	var clips []model.Clip
	if err := json.Unmarshal(data, &clips); err != nil {
		s.log.Warn().Err(err).Str("exam_code", examCode).Msg("Discarding corrupt catalog cache entry")
		return nil, false
	}
	return clips, true
}

func (s *CatalogService) toCache(ctx context.Context, examCode string, clips []model.Clip) {
	if s.rdb == nil {
		return
	}

	data, err := json.Marshal(clips)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamClipsKey(examCode), data, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_code", examCode).Msg("Catalog cache write failed")
	}
}
