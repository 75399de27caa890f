package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/clipexam-backend/internal/model"
	"github.com/stemsi/clipexam-backend/internal/sheet"
)

func clipResult(id string, outcome int, rt *float64) model.ClipResult {
	return model.ClipResult{ClipID: id, Outcome: outcome, ReactionTime: rt}
}

func countStatus(rows [][]string, status model.AttemptStatus) int {
	n := 0
	for _, r := range rows[1:] {
		if sheet.Value(r, 5) == string(status) {
			n++
		}
	}
	return n
}

func TestLedgerDemoScenario(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C1", 1, fptr(0.3))))
	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C2", 1, nil)))

	end := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	require.NoError(t, env.ledger.FinalizeAttempt(ctx, "op-1", "DEMO", model.AttemptStatusSubmitted, end, 2))

	rows := env.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{
		"DEMO", "op-1", "2026-03-01T09:00:00Z", "2026-03-01T09:05:00Z", "2", "Submitted",
		"1", "0.300", "1", "",
	}, rows[1])

	analysis, err := env.ledger.GetResultsAnalysis(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, analysis.TotalAttempts)
	assert.Equal(t, 1, analysis.CompletedCount)
	assert.Equal(t, 0, analysis.InProgressCount)
	assert.Equal(t, 2.0, analysis.AverageScore)
	assert.Equal(t, []string{"DEMO"}, analysis.ExamCodes)

	require.Len(t, analysis.Attempts, 1)
	attempt := analysis.Attempts[0]
	assert.Equal(t, model.AttemptStatusSubmitted, attempt.Status)
	require.NotNil(t, attempt.TotalScore)
	assert.Equal(t, 2, *attempt.TotalScore)
	assert.InDelta(t, 0.3, *attempt.ClipResults["C1"].ReactionTime, 1e-9)
	assert.Nil(t, attempt.ClipResults["C2"].ReactionTime)
}

func TestLedgerRecordOverwritesOwnCells(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C1", 0, fptr(2.1))))
	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C1", 1, fptr(-0.4))))

	rows := env.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[1][6])
	assert.Equal(t, "-0.400", rows[1][7])
}

func TestLedgerAtMostOneInProgress(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "C1"
			if i%2 == 1 {
				id = "C2"
			}
			assert.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult(id, 1, nil)))
		}(i)
	}
	wg.Wait()

	rows := env.rows()
	assert.Len(t, rows, 2)
	assert.Equal(t, 1, countStatus(rows, model.AttemptStatusInProgress))
}

func TestLedgerSeparatesUsersAndExams(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C1", 1, nil)))
	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-2", "DEMO", clipResult("C1", 0, nil)))
	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO2", clipResult("D1", 1, nil)))

	rows := env.rows()
	assert.Len(t, rows, 4)
	assert.Equal(t, 3, countStatus(rows, model.AttemptStatusInProgress))
}

func TestLedgerFinalizeIsTerminal(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()
	end := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)

	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C1", 1, nil)))
	require.NoError(t, env.ledger.FinalizeAttempt(ctx, "op-1", "DEMO", model.AttemptStatusAttempted, end, 1))

	// A result after finalize opens a new attempt instead of reviving the old one.
	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C1", 0, nil)))

	rows := env.rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "Attempted", rows[1][5])
	assert.Equal(t, "InProgress", rows[2][5])
}

func TestLedgerRepeatedFinalizeIsAcknowledged(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()
	end := time.Date(2026, 3, 1, 9, 0, 10, 0, time.UTC)

	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C1", 1, nil)))
	require.NoError(t, env.ledger.FinalizeAttempt(ctx, "op-1", "DEMO", model.AttemptStatusSubmitted, end, 1))
	require.NoError(t, env.ledger.FinalizeAttempt(ctx, "op-1", "DEMO", model.AttemptStatusSubmitted, end, 1))
	require.NoError(t, env.ledger.FinalizeAttempt(ctx, "op-1", "DEMO", model.AttemptStatusSubmitted, time.Time{}, 1))

	assert.Len(t, env.rows(), 2)

	// A different result is a new terminal row.
	require.NoError(t, env.ledger.FinalizeAttempt(ctx, "op-1", "DEMO", model.AttemptStatusAttempted, end, 0))
	rows := env.rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "", rows[2][2])
	assert.Equal(t, "Attempted", rows[2][5])
}

func TestLedgerSeparateAbandonsAreKept(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	env.ledger.now = func() time.Time { return now }

	require.NoError(t, env.ledger.FinalizeAttempt(ctx, "op-1", "DEMO", model.AttemptStatusAttempted, time.Time{}, 0))
	now = now.Add(5 * time.Second)
	require.NoError(t, env.ledger.FinalizeAttempt(ctx, "op-1", "DEMO", model.AttemptStatusAttempted, time.Time{}, 0))
	assert.Len(t, env.rows(), 2)

	// An hour later the same outcome is a new abandoned attempt.
	now = now.Add(time.Hour)
	require.NoError(t, env.ledger.FinalizeAttempt(ctx, "op-1", "DEMO", model.AttemptStatusAttempted, time.Time{}, 0))
	rows := env.rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "2026-03-01T10:00:05Z", rows[2][3])
	assert.Equal(t, 2, countStatus(rows, model.AttemptStatusAttempted))
}

func TestLedgerFinalizeWithoutAttemptAppendsTerminalRow(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	require.NoError(t, env.ledger.FinalizeAttempt(ctx, "op-9", "DEMO", model.AttemptStatusAttempted, time.Time{}, 0))

	rows := env.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "op-9", rows[1][1])
	assert.Equal(t, "2026-03-01T09:00:00Z", rows[1][3])
	assert.Equal(t, "0", rows[1][4])
	assert.Equal(t, "Attempted", rows[1][5])
}

func TestLedgerRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	err := env.ledger.FinalizeAttempt(ctx, "op-1", "DEMO", model.AttemptStatusInProgress, time.Time{}, 0)
	assert.ErrorIs(t, err, ErrInvalidFinalStatus)

	err = env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C1", 2, nil))
	assert.ErrorIs(t, err, ErrInvalidClipResult)

	err = env.ledger.RecordClipResult(ctx, "", "DEMO", clipResult("C1", 1, nil))
	assert.ErrorIs(t, err, ErrInvalidClipResult)
}

func TestLedgerUnknownClipIsNotProvisioned(t *testing.T) {
	env := newTestEnv(nil)
	err := env.ledger.RecordClipResult(context.Background(), "op-1", "DEMO", clipResult("ZZ", 1, nil))
	assert.ErrorIs(t, err, ErrSchemaNotProvisioned)
	assert.LessOrEqual(t, len(env.rows()), 1) // no attempt row
}

func TestLedgerRejectsClipOfAnotherExam(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	_, err := env.schema.EnsureSchema(ctx, "DEMO2")
	require.NoError(t, err)
	err = env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("D1", 1, nil))
	assert.ErrorIs(t, err, ErrSchemaNotProvisioned)
	assert.Len(t, env.rows(), 1) // header only
}

func TestLedgerRejectsClipNamedLikeField(t *testing.T) {
	env := newTestEnv(nil)
	env.source.clips["DEMO"] = append(env.source.clips["DEMO"],
		model.Clip{ExamCode: "DEMO", ClipID: "status", Active: true, Order: 3})

	err := env.ledger.RecordClipResult(context.Background(), "op-1", "DEMO", clipResult("status", 1, nil))
	assert.ErrorIs(t, err, ErrSchemaNotProvisioned)
	assert.LessOrEqual(t, len(env.rows()), 1) // no attempt row
}

func TestLedgerStaleIndexFallsBackToScan(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C1", 1, nil)))
	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-2", "DEMO", clipResult("C1", 1, nil)))

	// Another writer removed op-1's row behind the ledger's back.
	require.NoError(t, env.store.DeleteRow(ctx, testSheet, 2))

	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-2", "DEMO", clipResult("C2", 0, nil)))

	rows := env.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "op-2", rows[1][1])
	assert.Equal(t, "0", rows[1][8])
}

func TestLedgerResetAttempt(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C1", 1, nil)))
	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-2", "DEMO", clipResult("C1", 1, nil)))

	require.NoError(t, env.ledger.ResetAttempt(ctx, "op-1", "DEMO"))
	assert.ErrorIs(t, env.ledger.ResetAttempt(ctx, "op-1", "DEMO"), ErrNoActiveAttempt)

	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-2", "DEMO", clipResult("C2", 1, nil)))
	rows := env.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "op-2", rows[1][1])
	assert.Equal(t, "1", rows[1][8])
}

func TestLedgerCurrentAttempt(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()

	_, err := env.ledger.CurrentAttempt(ctx, "op-1", "DEMO")
	assert.ErrorIs(t, err, ErrNoActiveAttempt)

	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C2", 0, fptr(4.25))))
	a, err := env.ledger.CurrentAttempt(ctx, "op-1", "DEMO")
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusInProgress, a.Status)
	assert.Equal(t, 2, a.Row)
	assert.InDelta(t, 4.25, *a.ClipResults["C2"].ReactionTime, 1e-9)
}

func TestLedgerAnalysisFilterAndAverage(t *testing.T) {
	env := newTestEnv(nil)
	ctx := context.Background()
	end := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)

	require.NoError(t, env.ledger.FinalizeAttempt(ctx, "op-1", "DEMO", model.AttemptStatusSubmitted, end, 2))
	require.NoError(t, env.ledger.FinalizeAttempt(ctx, "op-2", "DEMO", model.AttemptStatusSubmitted, end, 1))
	require.NoError(t, env.ledger.FinalizeAttempt(ctx, "op-3", "DEMO", model.AttemptStatusAttempted, end, 0))
	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO2", clipResult("D1", 1, nil)))

	all, err := env.ledger.GetResultsAnalysis(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, all.TotalAttempts)
	assert.Equal(t, 2, all.CompletedCount)
	assert.Equal(t, 1, all.AttemptedCount)
	assert.Equal(t, 1, all.InProgressCount)
	assert.Equal(t, 1.5, all.AverageScore)
	assert.Equal(t, []string{"DEMO", "DEMO2"}, all.ExamCodes)

	demo2, err := env.ledger.GetResultsAnalysis(ctx, "DEMO2")
	require.NoError(t, err)
	assert.Equal(t, 1, demo2.TotalAttempts)
	assert.Equal(t, 0.0, demo2.AverageScore)
	assert.Equal(t, []string{"DEMO", "DEMO2"}, demo2.ExamCodes)

	codes, err := env.ledger.ListExamCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"DEMO", "DEMO2"}, codes)
}

func TestLedgerStoreFailureSurfaces(t *testing.T) {
	store := &failingStore{Store: sheet.NewMemoryStore()}
	env := newTestEnv(store)
	ctx := context.Background()

	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C1", 1, nil)))

	store.setFail(true)
	err := env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C2", 1, nil))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, errStoreDown)

	_, err = env.ledger.GetResultsAnalysis(ctx, "")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	store.setFail(false)
	require.NoError(t, env.ledger.RecordClipResult(ctx, "op-1", "DEMO", clipResult("C2", 1, nil)))
	assert.Len(t, env.rows(), 2)
}
