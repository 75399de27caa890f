package sheet

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps sheets in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	sheets map[string][][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sheets: make(map[string][][]string)}
}

func (s *MemoryStore) ReadRange(_ context.Context, r Range) ([][]string, error) {
	if err := validate(r); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slice(trimEmpty(s.sheets[r.Sheet]), r), nil
}

func (s *MemoryStore) AppendRow(_ context.Context, sheet string, row []string) (int, error) {
	if sheet == "" {
		return 0, ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := trimEmpty(s.sheets[sheet])
	rows = append(rows, append([]string(nil), row...))
	s.sheets[sheet] = rows
	return len(rows), nil
}

func (s *MemoryStore) WriteCells(_ context.Context, sheet string, cells ...Cell) error {
	if sheet == "" {
		return ErrInvalidAddress
	}
	if err := validateCells(cells); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.sheets[sheet]
	for _, c := range cells {
		for len(rows) < c.Row {
			rows = append(rows, nil)
		}
		row := rows[c.Row-1]
		for len(row) < c.Col {
			row = append(row, "")
		}
		row[c.Col-1] = c.Value
		rows[c.Row-1] = row
	}
	s.sheets[sheet] = rows
	return nil
}

func (s *MemoryStore) DeleteRow(_ context.Context, sheet string, row int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.sheets[sheet]
	if row < 1 || row > len(rows) {
		return fmt.Errorf("%w: %s row %d", ErrRowOutOfRange, sheet, row)
	}
	s.sheets[sheet] = append(rows[:row-1], rows[row:]...)
	return nil
}

// trimEmpty drops trailing rows that hold no values.
func trimEmpty(rows [][]string) [][]string {
	for len(rows) > 0 && isEmpty(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows
}

func isEmpty(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
