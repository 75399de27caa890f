package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/clipexam-backend/internal/config"
	"github.com/stemsi/clipexam-backend/internal/keylock"
	"github.com/stemsi/clipexam-backend/internal/metrics"
	"github.com/stemsi/clipexam-backend/internal/model"
	"github.com/stemsi/clipexam-backend/internal/sheet"
	"golang.org/x/sync/singleflight"
)

// ErrSchemaNotProvisioned is returned when a clip has no reserved ledger fields.
var ErrSchemaNotProvisioned = errors.New("clip fields not provisioned in ledger")

// ClipUniverse lists every clip ID of an exam code.
type ClipUniverse interface {
	ListClipIDs(ctx context.Context, examCode string) ([]string, error)
}

// Registry is an immutable snapshot of the ledger header. Fields are only
// ever appended, so a snapshot's column positions stay valid; Version is the
// header width and grows with every provisioning run that adds fields.
type Registry struct {
	Version int
	header  []string
	columns map[string]int
}

func newRegistry(header []string) *Registry {
	r := &Registry{
		Version: len(header),
		header:  append([]string(nil), header...),
		columns: make(map[string]int, len(header)),
	}
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := r.columns[name]; !dup {
			r.columns[name] = i + 1
		}
	}
	return r
}

// Column returns the 1-based column of a field.
func (r *Registry) Column(field string) (int, bool) {
	col, ok := r.columns[field]
	return col, ok
}

// HasClip reports whether both fields of a clip are reserved.
func (r *Registry) HasClip(clipID string) bool {
	_, a := r.columns[clipID]
	_, b := r.columns[model.ReactionTimeField(clipID)]
	return a && b
}

// HasBaseFields reports whether every fixed attempt field exists.
func (r *Registry) HasBaseFields() bool {
	for _, f := range model.BaseFields {
		if _, ok := r.columns[f]; !ok {
			return false
		}
	}
	return true
}

// ClipIDs returns the clips with a reserved field pair, in header order.
func (r *Registry) ClipIDs() []string {
	var ids []string
	for _, name := range r.header {
		if strings.HasSuffix(name, model.ReactionTimeSuffix) {
			continue
		}
		if r.HasClip(name) {
			ids = append(ids, name)
		}
	}
	return ids
}

// Width is the number of header columns.
func (r *Registry) Width() int { return len(r.header) }

// SchemaService provisions ledger fields from the clip catalog.
type SchemaService struct {
	store     sheet.Store
	sheetName string
	clips     ClipUniverse
	locker    keylock.Locker
	metrics   *metrics.Manager
	group     singleflight.Group
	log       zerolog.Logger

	mu      sync.RWMutex
	current *Registry
}

// NewSchemaService creates a new SchemaService.
func NewSchemaService(
	store sheet.Store,
	sheetName string,
	clips ClipUniverse,
	locker keylock.Locker,
	m *metrics.Manager,
	log zerolog.Logger,
) *SchemaService {
	return &SchemaService{
		store:     store,
		sheetName: sheetName,
		clips:     clips,
		locker:    locker,
		metrics:   m,
		log:       log.With().Str("component", "schema_service").Logger(),
	}
}

// Registry returns the cached header snapshot, reading it on first use.
func (s *SchemaService) Registry(ctx context.Context) (*Registry, error) {
	s.mu.RLock()
	reg := s.current
	s.mu.RUnlock()
	if reg != nil {
		return reg, nil
	}
	return s.Refresh(ctx)
}

// Refresh re-reads the header from the store.
func (s *SchemaService) Refresh(ctx context.Context) (*Registry, error) {
	rows, err := s.store.ReadRange(ctx, sheet.Row(s.sheetName, 1))
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrStoreUnavailable, err)
	}
	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}
	reg := newRegistry(header)
	s.publish(reg)
	return reg, nil
}

// publish installs reg unless a wider snapshot is already current.
func (s *SchemaService) publish(reg *Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || reg.Version >= s.current.Version {
		s.current = reg
	}
}

// ClipInExam reports whether clipID belongs to the exam code's clip-ID
// universe. Catalog failures are returned as is.
func (s *SchemaService) ClipInExam(ctx context.Context, examCode, clipID string) (bool, error) {
	ids, err := s.clips.ListClipIDs(ctx, NormalizeExamCode(examCode))
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == clipID {
			return true, nil
		}
	}
	return false, nil
}

// EnsureSchema reserves the fixed attempt fields and an outcome and
// reaction-time field for every clip of an exam code. Missing fields are
// appended to the right of the header; existing fields never move.
// Concurrent calls for one exam code share a single run.
func (s *SchemaService) EnsureSchema(ctx context.Context, examCode string) (*model.SchemaReport, error) {
	examCode = NormalizeExamCode(examCode)
	v, err, _ := s.group.Do(examCode, func() (any, error) {
		return s.ensure(ctx, examCode)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.SchemaReport), nil
}

func (s *SchemaService) ensure(ctx context.Context, examCode string) (*model.SchemaReport, error) {
	ids, err := s.clips.ListClipIDs(ctx, examCode)
	if err != nil {
		return nil, err
	}

	wanted := make([]string, 0, len(model.BaseFields)+2*len(ids))
	wanted = append(wanted, model.BaseFields...)
	for _, id := range ids {
		if model.ReservedFieldName(id) {
			return nil, fmt.Errorf("%w: clip ID %q of %s is a ledger field name", ErrSchemaNotProvisioned, id, examCode)
		}
		wanted = append(wanted, id, model.ReactionTimeField(id))
	}

	// Fast path: everything already exists in the cached snapshot.
	if reg, err := s.Registry(ctx); err == nil && missingFields(reg, wanted) == nil {
		return &model.SchemaReport{ExamCode: examCode, Created: []string{}, Existing: wanted}, nil
	}

	release, err := s.locker.Lock(ctx, config.CacheKey.SchemaLockKey(s.sheetName))
	if err != nil {
		return nil, fmt.Errorf("acquire schema lock: %w", err)
	}
	defer release()

	// Another writer may have extended the header since the snapshot was taken.
	reg, err := s.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	missing := missingFields(reg, wanted)
	report := &model.SchemaReport{ExamCode: examCode, Created: []string{}, Existing: []string{}}
	for _, f := range wanted {
		if _, ok := reg.Column(f); ok {
			report.Existing = append(report.Existing, f)
		}
	}
	if len(missing) == 0 {
		return report, nil
	}

	cells := make([]sheet.Cell, 0, len(missing))
	for i, f := range missing {
		cells = append(cells, sheet.Cell{Row: 1, Col: reg.Width() + i + 1, Value: f})
	}
	if err := s.store.WriteCells(ctx, s.sheetName, cells...); err != nil {
		return nil, fmt.Errorf("%w: extend header: %w", ErrStoreUnavailable, err)
	}

	header := append(append([]string(nil), reg.header...), missing...)
	s.publish(newRegistry(header))
	s.metrics.FieldsCreated(len(missing))

	report.Created = missing
	s.log.Info().
		Str("exam_code", examCode).
		Int("created", len(missing)).
		Int("existing", len(report.Existing)).
		Int("version", len(header)).
		Msg("Ledger schema extended")
	return report, nil
}

// missingFields returns the wanted fields absent from reg, in order and
// without duplicates, or nil.
func missingFields(reg *Registry, wanted []string) []string {
	var missing []string
	seen := make(map[string]struct{})
	for _, f := range wanted {
		if _, ok := reg.Column(f); ok {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		missing = append(missing, f)
	}
	return missing
}
