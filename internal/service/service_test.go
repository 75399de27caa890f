package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/clipexam-backend/internal/keylock"
	"github.com/stemsi/clipexam-backend/internal/model"
	"github.com/stemsi/clipexam-backend/internal/scoring"
	"github.com/stemsi/clipexam-backend/internal/sheet"
)

const testSheet = "Results"

type fakeClipSource struct {
	mu    sync.Mutex
	clips map[string][]model.Clip
	calls int
	err   error
}

func (f *fakeClipSource) ListClips(_ context.Context, examCode string) ([]model.Clip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.Clip(nil), f.clips[examCode]...), nil
}

func (f *fakeClipSource) ListExamCodes(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	codes := make([]string, 0, len(f.clips))
	for code := range f.clips {
		codes = append(codes, code)
	}
	return codes, nil
}

func fptr(v float64) *float64 { return &v }

func demoSource() *fakeClipSource {
	return &fakeClipSource{clips: map[string][]model.Clip{
		"DEMO": {
			{ExamCode: "DEMO", ClipID: "C1", HasIntervention: true, CorrectTime: fptr(10.0), Active: true, Order: 1},
			{ExamCode: "DEMO", ClipID: "C2", Active: true, Order: 2},
		},
		"DEMO2": {
			{ExamCode: "DEMO2", ClipID: "D1", Active: true, Order: 1},
		},
	}}
}

// failingStore fails every call once fail is set.
type failingStore struct {
	sheet.Store
	mu   sync.Mutex
	fail bool
}

var errStoreDown = errors.New("store down")

func (f *failingStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *failingStore) failing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *failingStore) ReadRange(ctx context.Context, r sheet.Range) ([][]string, error) {
	if f.failing() {
		return nil, errStoreDown
	}
	return f.Store.ReadRange(ctx, r)
}

func (f *failingStore) AppendRow(ctx context.Context, s string, row []string) (int, error) {
	if f.failing() {
		return 0, errStoreDown
	}
	return f.Store.AppendRow(ctx, s, row)
}

func (f *failingStore) WriteCells(ctx context.Context, s string, cells ...sheet.Cell) error {
	if f.failing() {
		return errStoreDown
	}
	return f.Store.WriteCells(ctx, s, cells...)
}

type testEnv struct {
	store   sheet.Store
	source  *fakeClipSource
	catalog *CatalogService
	schema  *SchemaService
	ledger  *LedgerService
}

func newTestEnv(store sheet.Store) *testEnv {
	if store == nil {
		store = sheet.NewMemoryStore()
	}
	log := zerolog.Nop()
	source := demoSource()
	locker := keylock.NewLocal()
	catalog := NewCatalogService(source, nil, time.Minute, scoring.DefaultConfig(), log)
	schema := NewSchemaService(store, testSheet, catalog, locker, nil, log)
	ledger := NewLedgerService(store, testSheet, schema, locker, nil, log)
	ledger.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return &testEnv{store: store, source: source, catalog: catalog, schema: schema, ledger: ledger}
}

func (e *testEnv) rows() [][]string {
	rows, _ := e.store.ReadRange(context.Background(), sheet.Rows(testSheet))
	return rows
}
