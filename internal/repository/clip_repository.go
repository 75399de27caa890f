package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/clipexam-backend/internal/model"
)

// ClipRepository reads and writes the clip catalog in PostgreSQL.
type ClipRepository struct {
	pool *pgxpool.Pool
}

func NewClipRepository(pool *pgxpool.Pool) *ClipRepository {
	return &ClipRepository{pool: pool}
}

// ListClips returns every clip of an exam code, active or not, in play order.
func (r *ClipRepository) ListClips(ctx context.Context, examCode string) ([]model.Clip, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_code, clip_id, title, has_intervention, correct_time, active, media_ref, sort_order
		 FROM clips WHERE exam_code = $1 ORDER BY sort_order ASC, clip_id ASC`, examCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []model.Clip
	for rows.Next() {
		var c model.Clip
		if err := rows.Scan(&c.ExamCode, &c.ClipID, &c.Title, &c.HasIntervention,
			&c.CorrectTime, &c.Active, &c.MediaRef, &c.Order); err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

// ListExamCodes returns the distinct exam codes that have at least one clip.
func (r *ClipRepository) ListExamCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT exam_code FROM clips ORDER BY exam_code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// Upsert inserts a clip or replaces the one with the same exam code and clip ID.
func (r *ClipRepository) Upsert(ctx context.Context, c *model.Clip) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO clips (exam_code, clip_id, title, has_intervention, correct_time, active, media_ref, sort_order)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (exam_code, clip_id) DO UPDATE SET
		   title = EXCLUDED.title,
		   has_intervention = EXCLUDED.has_intervention,
		   correct_time = EXCLUDED.correct_time,
		   active = EXCLUDED.active,
		   media_ref = EXCLUDED.media_ref,
		   sort_order = EXCLUDED.sort_order,
		   updated_at = NOW()`,
		c.ExamCode, c.ClipID, c.Title, c.HasIntervention, c.CorrectTime, c.Active, c.MediaRef, c.Order)
	return err
}

// DeleteExam removes every clip of an exam code and returns how many were removed.
func (r *ClipRepository) DeleteExam(ctx context.Context, examCode string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM clips WHERE exam_code = $1`, examCode)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
