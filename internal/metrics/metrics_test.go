package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Manager) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestManagerCounters(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))

	m.ClipRecorded("DEMO", 1)
	m.ClipRecorded("DEMO", 1)
	m.ClipRecorded("DEMO", 0)
	m.AttemptFinalized("Submitted")
	m.FieldsCreated(4)
	m.FieldsCreated(0)

	body := scrape(t, m)
	assert.Contains(t, body, `clipexam_ledger_clip_results_total{exam_code="DEMO",outcome="1"} 2`)
	assert.Contains(t, body, `clipexam_ledger_clip_results_total{exam_code="DEMO",outcome="0"} 1`)
	assert.Contains(t, body, `clipexam_ledger_finalizations_total{status="Submitted"} 1`)
	assert.Contains(t, body, `clipexam_schema_fields_created_total 4`)
}

func TestManagerActiveRuns(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))
	m.RunStarted()
	m.RunStarted()
	m.RunEnded()
	assert.Contains(t, scrape(t, m), `clipexam_scoring_active_runs 1`)
}

func TestManagerStoreLatency(t *testing.T) {
	m := New(WithNamespace("test"))
	m.ObserveStore("append_row", 20*time.Millisecond, nil)
	m.ObserveStore("append_row", time.Millisecond, errors.New("boom"))

	body := scrape(t, m)
	assert.Contains(t, body, `test_store_operation_duration_seconds_count{op="append_row",result="ok"} 1`)
	assert.Contains(t, body, `test_store_operation_duration_seconds_count{op="append_row",result="error"} 1`)
	assert.Contains(t, body, `go_goroutines`)
}

func TestNilManagerIsNoop(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.ClipRecorded("DEMO", 1)
		m.AttemptFinalized("Attempted")
		m.ObserveStore("read_range", time.Millisecond, nil)
		m.RunStarted()
		m.RunEnded()
		m.SessionLogFlushed(3)
	})
	assert.Nil(t, m.Registry())
}
