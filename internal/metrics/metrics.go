// Package metrics exposes Prometheus metrics for the exam backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace overrides the metric namespace.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// Manager owns every collector. All methods are safe on a nil receiver, so
// components can run without metrics.
type Manager struct {
	namespace string
	registry  *prometheus.Registry

	// ─── Ledger ───────────────────────────────────────────────────────
	clipResults   *prometheus.CounterVec
	finalizations *prometheus.CounterVec
	attemptsOpen  prometheus.Counter
	ledgerErrors  *prometheus.CounterVec

	// ─── Schema ───────────────────────────────────────────────────────
	fieldsCreated prometheus.Counter

	// ─── Store ────────────────────────────────────────────────────────
	storeLatency *prometheus.HistogramVec

	// ─── Scoring stream ───────────────────────────────────────────────
	activeRuns  prometheus.Gauge
	clipsScored *prometheus.CounterVec

	// ─── Session log worker ───────────────────────────────────────────
	sessionLogFlushed prometheus.Counter
	sessionLogErrors  prometheus.Counter
}

// New creates a Manager on its own registry, with Go runtime and process
// collectors attached.
func New(opts ...Option) *Manager {
	m := &Manager{namespace: "clipexam"}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.init()
	return m
}

func (m *Manager) init() {
	auto := promauto.With(m.registry)

	m.clipResults = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ledger",
		Name:      "clip_results_total",
		Help:      "Clip results written to the ledger, by exam code and outcome.",
	}, []string{"exam_code", "outcome"})

	m.finalizations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ledger",
		Name:      "finalizations_total",
		Help:      "Attempts finalized, by terminal status.",
	}, []string{"status"})

	m.attemptsOpen = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ledger",
		Name:      "attempts_opened_total",
		Help:      "InProgress attempt rows appended.",
	})

	m.ledgerErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ledger",
		Name:      "errors_total",
		Help:      "Failed ledger operations, by operation.",
	}, []string{"op"})

	m.fieldsCreated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "schema",
		Name:      "fields_created_total",
		Help:      "Ledger header fields appended by schema provisioning.",
	})

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Tabular store call latency, by operation and result.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"op", "result"})

	m.activeRuns = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "scoring",
		Name:      "active_runs",
		Help:      "Exam runs currently hosted over WebSocket.",
	})

	m.clipsScored = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "scoring",
		Name:      "clips_scored_total",
		Help:      "Clips scored by hosted runs, by outcome.",
	}, []string{"outcome"})

	m.sessionLogFlushed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "session_log",
		Name:      "entries_flushed_total",
		Help:      "Operator session log entries written to the store.",
	})

	m.sessionLogErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "session_log",
		Name:      "flush_errors_total",
		Help:      "Failed session log batch writes.",
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Manager) ClipRecorded(examCode string, outcome int) {
	if m == nil {
		return
	}
	m.clipResults.WithLabelValues(examCode, strconv.Itoa(outcome)).Inc()
}

func (m *Manager) AttemptFinalized(status string) {
	if m == nil {
		return
	}
	m.finalizations.WithLabelValues(status).Inc()
}

func (m *Manager) AttemptOpened() {
	if m == nil {
		return
	}
	m.attemptsOpen.Inc()
}

func (m *Manager) LedgerError(op string) {
	if m == nil {
		return
	}
	m.ledgerErrors.WithLabelValues(op).Inc()
}

func (m *Manager) FieldsCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.fieldsCreated.Add(float64(n))
}

// ObserveStore matches sheet.ObserveFunc.
func (m *Manager) ObserveStore(op string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeLatency.WithLabelValues(op, result).Observe(took.Seconds())
}

func (m *Manager) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Manager) RunEnded() {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
}

func (m *Manager) ClipScored(outcome int) {
	if m == nil {
		return
	}
	m.clipsScored.WithLabelValues(strconv.Itoa(outcome)).Inc()
}

func (m *Manager) SessionLogFlushed(n int) {
	if m == nil {
		return
	}
	m.sessionLogFlushed.Add(float64(n))
}

func (m *Manager) SessionLogError() {
	if m == nil {
		return
	}
	m.sessionLogErrors.Inc()
}
