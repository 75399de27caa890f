package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/keylock"
	"github.com/stemsi/clipexam-backend/internal/metrics"
	"github.com/stemsi/clipexam-backend/internal/model"
	"github.com/stemsi/clipexam-backend/internal/sheet"
)

// Ledger errors.
var (
	ErrStoreUnavailable   = errors.New("result store unavailable")
	ErrInvalidFinalStatus = errors.New("final status must be Submitted or Attempted")
	ErrInvalidClipResult  = errors.New("invalid clip result")
	ErrNoActiveAttempt    = errors.New("no in-progress attempt")
)

type attemptKey struct {
	userID   string
	examCode string
}

// LedgerService owns the attempt lifecycle. Each attempt is one ledger row:
// created InProgress by its first clip result, then closed exactly once as
// Submitted or Attempted. Rows are matched by value; all writes for one
// (user, exam code) pair run under that pair's key lock.
type LedgerService struct {
	store     sheet.Store
	sheetName string
	schema    *SchemaService
	locker    keylock.Locker
	metrics   *metrics.Manager
	now       func() time.Time
	log       zerolog.Logger

	// rowsMu is held shared by row writers and exclusively by row deletion,
	// which shifts row numbers.
	rowsMu sync.RWMutex

	// index caches the row of each open attempt. Entries are checked against
	// the row's content before use.
	idxMu sync.Mutex
	index map[attemptKey]int
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(
	store sheet.Store,
	sheetName string,
	schema *SchemaService,
	locker keylock.Locker,
	m *metrics.Manager,
	log zerolog.Logger,
) *LedgerService {
	return &LedgerService{
		store:     store,
		sheetName: sheetName,
		schema:    schema,
		locker:    locker,
		metrics:   m,
		now:       time.Now,
		log:       log.With().Str("component", "ledger_service").Logger(),
		index:     make(map[attemptKey]int),
	}
}

// ─── Lifecycle ───────────────────────────────────────────────────────────

// RecordClipResult writes one clip's outcome and reaction time into the
// operator's open attempt, opening one if none exists. Repeating a call
// rewrites the same two cells.
func (s *LedgerService) RecordClipResult(ctx context.Context, userID, examCode string, res model.ClipResult) error {
	examCode = NormalizeExamCode(examCode)
	userID = strings.TrimSpace(userID)
	res.ClipID = strings.TrimSpace(res.ClipID)
	if userID == "" || examCode == "" || res.ClipID == "" {
		return fmt.Errorf("%w: user, exam code and clip are required", ErrInvalidClipResult)
	}
	if res.Outcome != 0 && res.Outcome != 1 {
		return fmt.Errorf("%w: outcome %d", ErrInvalidClipResult, res.Outcome)
	}
	if res.ReactionTime != nil && (math.IsNaN(*res.ReactionTime) || math.IsInf(*res.ReactionTime, 0)) {
		return fmt.Errorf("%w: reaction time is not a number", ErrInvalidClipResult)
	}

	reg, err := s.registryFor(ctx, examCode, res.ClipID)
	if err != nil {
		s.metrics.LedgerError("record_clip_result")
		return err
	}

	release, err := s.locker.Lock(ctx, config.CacheKey.AttemptLockKey(userID, examCode))
	if err != nil {
		return fmt.Errorf("acquire attempt lock: %w", err)
	}
	defer release()
	s.rowsMu.RLock()
	defer s.rowsMu.RUnlock()

	key := attemptKey{userID: userID, examCode: examCode}
	row, _, err := s.locate(ctx, reg, key)
	if err != nil {
		s.metrics.LedgerError("record_clip_result")
		return err
	}

	outcomeCol, _ := reg.Column(res.ClipID)
	reactionCol, _ := reg.Column(model.ReactionTimeField(res.ClipID))

	if row == 0 {
		values := s.baseRow(reg, examCode, userID, model.AttemptStatusInProgress)
		set(values, outcomeCol, strconv.Itoa(res.Outcome))
		set(values, reactionCol, formatReaction(res.ReactionTime))

		n, err := s.store.AppendRow(ctx, s.sheetName, values)
		if err != nil {
			s.metrics.LedgerError("record_clip_result")
			return fmt.Errorf("%w: open attempt: %w", ErrStoreUnavailable, err)
		}
		s.remember(key, n)
		s.metrics.AttemptOpened()
		s.log.Info().
			Str("user_id", userID).
			Str("exam_code", examCode).
			Int("row", n).
			Msg("Attempt opened")
	} else {
		err := s.store.WriteCells(ctx, s.sheetName,
			sheet.Cell{Row: row, Col: outcomeCol, Value: strconv.Itoa(res.Outcome)},
			sheet.Cell{Row: row, Col: reactionCol, Value: formatReaction(res.ReactionTime)},
		)
		if err != nil {
			s.metrics.LedgerError("record_clip_result")
			return fmt.Errorf("%w: write clip %s: %w", ErrStoreUnavailable, res.ClipID, err)
		}
	}

	s.metrics.ClipRecorded(examCode, res.Outcome)
	return nil
}

// FinalizeAttempt closes the operator's open attempt. Without an open
// attempt a row is appended directly in the final state, unless the
// operator's latest attempt already carries the same result, in which case
// the call is acknowledged without writing. A zero endTime means now.
func (s *LedgerService) FinalizeAttempt(
	ctx context.Context,
	userID, examCode string,
	status model.AttemptStatus,
	endTime time.Time,
	totalScore int,
) error {
	examCode = NormalizeExamCode(examCode)
	userID = strings.TrimSpace(userID)
	if userID == "" || examCode == "" {
		return fmt.Errorf("%w: user and exam code are required", ErrInvalidClipResult)
	}
	if !status.Terminal() {
		return fmt.Errorf("%w: got %q", ErrInvalidFinalStatus, status)
	}
	if totalScore < 0 {
		return fmt.Errorf("%w: negative total score", ErrInvalidClipResult)
	}

	reg, err := s.registryFor(ctx, examCode, "")
	if err != nil {
		s.metrics.LedgerError("finalize_attempt")
		return err
	}

	release, err := s.locker.Lock(ctx, config.CacheKey.AttemptLockKey(userID, examCode))
	if err != nil {
		return fmt.Errorf("acquire attempt lock: %w", err)
	}
	defer release()
	s.rowsMu.RLock()
	defer s.rowsMu.RUnlock()

	key := attemptKey{userID: userID, examCode: examCode}
	row, latest, err := s.locate(ctx, reg, key)
	if err != nil {
		s.metrics.LedgerError("finalize_attempt")
		return err
	}

	explicitEnd := !endTime.IsZero()
	if !explicitEnd {
		endTime = s.now()
	}
	end := formatTime(endTime)
	score := strconv.Itoa(totalScore)

	if row > 0 {
		endCol, _ := reg.Column(model.FieldEndTime)
		scoreCol, _ := reg.Column(model.FieldTotalScore)
		statusCol, _ := reg.Column(model.FieldStatus)
		err := s.store.WriteCells(ctx, s.sheetName,
			sheet.Cell{Row: row, Col: endCol, Value: end},
			sheet.Cell{Row: row, Col: scoreCol, Value: score},
			sheet.Cell{Row: row, Col: statusCol, Value: string(status)},
		)
		if err != nil {
			s.metrics.LedgerError("finalize_attempt")
			return fmt.Errorf("%w: finalize attempt: %w", ErrStoreUnavailable, err)
		}
		s.forget(key)
	} else {
		if latest != nil && sameFinal(latest, status, totalScore, endTime, explicitEnd, s.now()) {
			s.log.Debug().
				Str("user_id", userID).
				Str("exam_code", examCode).
				Msg("Repeated finalize acknowledged")
			return nil
		}

		values := s.baseRow(reg, examCode, userID, status)
		startCol, _ := reg.Column(model.FieldStartTime)
		endCol, _ := reg.Column(model.FieldEndTime)
		scoreCol, _ := reg.Column(model.FieldTotalScore)
		set(values, startCol, "")
		set(values, endCol, end)
		set(values, scoreCol, score)
		if _, err := s.store.AppendRow(ctx, s.sheetName, values); err != nil {
			s.metrics.LedgerError("finalize_attempt")
			return fmt.Errorf("%w: append final attempt: %w", ErrStoreUnavailable, err)
		}
	}

	s.metrics.AttemptFinalized(string(status))
	s.log.Info().
		Str("user_id", userID).
		Str("exam_code", examCode).
		Str("status", string(status)).
		Int("total_score", totalScore).
		Msg("Attempt finalized")
	return nil
}

// ResetAttempt deletes the operator's open attempt row.
func (s *LedgerService) ResetAttempt(ctx context.Context, userID, examCode string) error {
	examCode = NormalizeExamCode(examCode)
	userID = strings.TrimSpace(userID)

	reg, err := s.schema.Registry(ctx)
	if err != nil {
		return err
	}
	if !reg.HasBaseFields() {
		return ErrNoActiveAttempt
	}

	release, err := s.locker.Lock(ctx, config.CacheKey.AttemptLockKey(userID, examCode))
	if err != nil {
		return fmt.Errorf("acquire attempt lock: %w", err)
	}
	defer release()
	s.rowsMu.Lock()
	defer s.rowsMu.Unlock()

	key := attemptKey{userID: userID, examCode: examCode}
	row, _, err := s.locate(ctx, reg, key)
	if err != nil {
		return err
	}
	if row == 0 {
		return ErrNoActiveAttempt
	}

	if err := s.store.DeleteRow(ctx, s.sheetName, row); err != nil {
		return fmt.Errorf("%w: delete attempt: %w", ErrStoreUnavailable, err)
	}

	// Every row below the deleted one moved up.
	s.idxMu.Lock()
	s.index = make(map[attemptKey]int)
	s.idxMu.Unlock()

	s.log.Warn().
		Str("user_id", userID).
		Str("exam_code", examCode).
		Int("row", row).
		Msg("Open attempt deleted")
	return nil
}

// CurrentAttempt returns the operator's open attempt.
func (s *LedgerService) CurrentAttempt(ctx context.Context, userID, examCode string) (*model.ExamAttempt, error) {
	examCode = NormalizeExamCode(examCode)
	userID = strings.TrimSpace(userID)

	reg, err := s.schema.Registry(ctx)
	if err != nil {
		return nil, err
	}
	if !reg.HasBaseFields() {
		return nil, ErrNoActiveAttempt
	}

	s.rowsMu.RLock()
	defer s.rowsMu.RUnlock()

	key := attemptKey{userID: userID, examCode: examCode}
	row, _, err := s.locate(ctx, reg, key)
	if err != nil {
		return nil, err
	}
	if row == 0 {
		return nil, ErrNoActiveAttempt
	}

	rows, err := s.store.ReadRange(ctx, sheet.Row(s.sheetName, row))
	if err != nil {
		return nil, fmt.Errorf("%w: read attempt: %w", ErrStoreUnavailable, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoActiveAttempt
	}
	attempt := parseAttempt(reg, rows[0], row)
	return &attempt, nil
}

// ─── Analysis ────────────────────────────────────────────────────────────

// GetResultsAnalysis aggregates every attempt, or those of one exam code.
// The average covers Submitted attempts with a numeric score.
func (s *LedgerService) GetResultsAnalysis(ctx context.Context, examCode string) (*model.ResultsAnalysis, error) {
	examCode = NormalizeExamCode(examCode)

	rows, err := s.store.ReadRange(ctx, sheet.Rows(s.sheetName))
	if err != nil {
		return nil, fmt.Errorf("%w: read ledger: %w", ErrStoreUnavailable, err)
	}

	out := &model.ResultsAnalysis{
		Attempts:  []model.ExamAttempt{},
		ExamCodes: []string{},
	}
	if len(rows) == 0 {
		return out, nil
	}

	reg := newRegistry(rows[0])
	s.schema.publish(reg)

	codes := make(map[string]struct{})
	var sum, scored int
	for i, row := range rows[1:] {
		a := parseAttempt(reg, row, i+2)
		if a.ExamCode == "" && a.UserID == "" {
			continue
		}
		if a.ExamCode != "" {
			codes[a.ExamCode] = struct{}{}
		}
		if examCode != "" && a.ExamCode != examCode {
			continue
		}

		out.TotalAttempts++
		switch a.Status {
		case model.AttemptStatusSubmitted:
			out.CompletedCount++
			if a.TotalScore != nil && *a.TotalScore >= 0 {
				sum += *a.TotalScore
				scored++
			}
		case model.AttemptStatusInProgress:
			out.InProgressCount++
		case model.AttemptStatusAttempted:
			out.AttemptedCount++
		}
		out.Attempts = append(out.Attempts, a)
	}

	if scored > 0 {
		out.AverageScore = math.Round(float64(sum)/float64(scored)*100) / 100
	}
	for code := range codes {
		out.ExamCodes = append(out.ExamCodes, code)
	}
	sort.Strings(out.ExamCodes)
	return out, nil
}

// ListExamCodes returns the exam codes that have at least one attempt.
func (s *LedgerService) ListExamCodes(ctx context.Context) ([]string, error) {
	analysis, err := s.GetResultsAnalysis(ctx, "")
	if err != nil {
		return nil, err
	}
	return analysis.ExamCodes, nil
}

// ─── Row matching ────────────────────────────────────────────────────────

// registryFor returns a registry holding the fixed fields and, when clipID is
// set, that clip's pair, provisioning the exam code's schema on demand. The
// clip must belong to the exam code; a pair reserved for another exam code
// does not count.
func (s *LedgerService) registryFor(ctx context.Context, examCode, clipID string) (*Registry, error) {
	if clipID != "" {
		if model.ReservedFieldName(clipID) {
			return nil, fmt.Errorf("%w: clip ID %q is a ledger field name", ErrSchemaNotProvisioned, clipID)
		}
		ok, err := s.schema.ClipInExam(ctx, examCode, clipID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: clip %s is not part of %s", ErrSchemaNotProvisioned, clipID, examCode)
		}
	}

	ready := func(reg *Registry) bool {
		return reg.HasBaseFields() && (clipID == "" || reg.HasClip(clipID))
	}

	reg, err := s.schema.Registry(ctx)
	if err != nil {
		return nil, err
	}
	if ready(reg) {
		return reg, nil
	}

	if _, err := s.schema.EnsureSchema(ctx, examCode); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSchemaNotProvisioned, examCode, err)
	}
	if reg, err = s.schema.Registry(ctx); err != nil {
		return nil, err
	}
	if !ready(reg) {
		return nil, fmt.Errorf("%w: clip %s of %s", ErrSchemaNotProvisioned, clipID, examCode)
	}
	return reg, nil
}

// locate returns the row of the key's open attempt (0 if none) and, when no
// attempt is open, the key's most recent attempt. Callers hold the key lock.
func (s *LedgerService) locate(ctx context.Context, reg *Registry, key attemptKey) (int, *model.ExamAttempt, error) {
	if row, ok := s.lookup(key); ok {
		rows, err := s.store.ReadRange(ctx, sheet.Row(s.sheetName, row))
		if err != nil {
			return 0, nil, fmt.Errorf("%w: read attempt: %w", ErrStoreUnavailable, err)
		}
		if len(rows) > 0 && matches(parseAttempt(reg, rows[0], row), key, model.AttemptStatusInProgress) {
			return row, nil, nil
		}
		s.forget(key)
	}

	rows, err := s.store.ReadRange(ctx, sheet.Rows(s.sheetName))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: scan ledger: %w", ErrStoreUnavailable, err)
	}

	var (
		open   []int
		latest *model.ExamAttempt
	)
	for i := 1; i < len(rows); i++ {
		a := parseAttempt(reg, rows[i], i+1)
		if a.UserID != key.userID || a.ExamCode != key.examCode {
			continue
		}
		if a.Status == model.AttemptStatusInProgress {
			open = append(open, a.Row)
		}
		latest = &a
	}

	if len(open) == 0 {
		return 0, latest, nil
	}
	if len(open) > 1 {
		s.log.Warn().
			Str("user_id", key.userID).
			Str("exam_code", key.examCode).
			Ints("rows", open).
			Msg("Multiple open attempts found, using the latest")
	}
	row := open[len(open)-1]
	s.remember(key, row)
	return row, nil, nil
}

func (s *LedgerService) lookup(key attemptKey) (int, bool) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	row, ok := s.index[key]
	return row, ok
}

func (s *LedgerService) remember(key attemptKey, row int) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	s.index[key] = row
}

func (s *LedgerService) forget(key attemptKey) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	delete(s.index, key)
}

func (s *LedgerService) baseRow(reg *Registry, examCode, userID string, status model.AttemptStatus) []string {
	values := make([]string, reg.Width())
	col := func(f string) int { c, _ := reg.Column(f); return c }
	set(values, col(model.FieldExamCode), examCode)
	set(values, col(model.FieldUserID), userID)
	set(values, col(model.FieldStartTime), formatTime(s.now()))
	set(values, col(model.FieldTotalScore), "0")
	set(values, col(model.FieldStatus), string(status))
	return values
}

// ─── Row codec ───────────────────────────────────────────────────────────

func matches(a model.ExamAttempt, key attemptKey, status model.AttemptStatus) bool {
	return a.UserID == key.userID && a.ExamCode == key.examCode && a.Status == status
}

// finalizeRepeatWindow bounds how old a matching terminal row may be for a
// finalize without an end time to count as a repeat of it.
const finalizeRepeatWindow = 30 * time.Second

func sameFinal(a *model.ExamAttempt, status model.AttemptStatus, score int, end time.Time, explicitEnd bool, now time.Time) bool {
	if a.Status != status || a.TotalScore == nil || *a.TotalScore != score {
		return false
	}
	if !explicitEnd {
		// Without an end time only a retry of a just-written row is a repeat.
		if a.EndTime == nil {
			return false
		}
		d := now.Sub(*a.EndTime)
		return d >= -finalizeRepeatWindow && d <= finalizeRepeatWindow
	}
	return a.EndTime != nil && formatTime(*a.EndTime) == formatTime(end)
}

func parseAttempt(reg *Registry, row []string, rowNum int) model.ExamAttempt {
	get := func(field string) string {
		col, ok := reg.Column(field)
		if !ok {
			return ""
		}
		return strings.TrimSpace(sheet.Value(row, col-1))
	}

	a := model.ExamAttempt{
		Row:       rowNum,
		ExamCode:  get(model.FieldExamCode),
		UserID:    get(model.FieldUserID),
		StartTime: parseTime(get(model.FieldStartTime)),
		EndTime:   parseTime(get(model.FieldEndTime)),
		Status:    model.AttemptStatus(get(model.FieldStatus)),
	}
	if v := get(model.FieldTotalScore); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			n := int(math.Round(f))
			a.TotalScore = &n
		}
	}

	for _, id := range reg.ClipIDs() {
		raw := get(id)
		if raw == "" {
			continue
		}
		outcome, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		if a.ClipResults == nil {
			a.ClipResults = make(map[string]model.ClipResult)
		}
		res := model.ClipResult{ClipID: id, Outcome: outcome}
		if rt := get(model.ReactionTimeField(id)); rt != "" {
			if f, err := strconv.ParseFloat(rt, 64); err == nil {
				res.ReactionTime = &f
			}
		}
		a.ClipResults[id] = res
	}
	return a
}

func set(values []string, col int, v string) {
	if col >= 1 && col <= len(values) {
		values[col-1] = v
	}
}

func formatReaction(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
