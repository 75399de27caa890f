package sheet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"
)

// XLSXStore keeps sheets in a local workbook file. Every mutation is saved
// before the call returns.
type XLSXStore struct {
	mu   sync.Mutex
	path string
	file *excelize.File
}

// OpenXLSX opens the workbook at path, creating it when missing.
func OpenXLSX(path string) (*XLSXStore, error) {
	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		return &XLSXStore{path: path, file: f}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat workbook: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workbook dir: %w", err)
		}
	}
	s := &XLSXStore{path: path, file: excelize.NewFile()}
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the workbook.
func (s *XLSXStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

func (s *XLSXStore) ReadRange(_ context.Context, r Range) ([][]string, error) {
	if err := validate(r); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.hasSheet(r.Sheet)
	if err != nil {
		return nil, err
	}
	if !exists {
		return [][]string{}, nil
	}
	rows, err := s.file.GetRows(r.Sheet)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.Sheet, err)
	}
	return slice(trimEmpty(rows), r), nil
}

func (s *XLSXStore) AppendRow(_ context.Context, sheet string, row []string) (int, error) {
	if sheet == "" {
		return 0, ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSheet(sheet); err != nil {
		return 0, err
	}
	rows, err := s.file.GetRows(sheet)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", sheet, err)
	}
	n := len(trimEmpty(rows)) + 1
	for i, v := range row {
		if err := s.file.SetCellStr(sheet, CellName(n, i+1), v); err != nil {
			return 0, fmt.Errorf("write %s!%s: %w", sheet, CellName(n, i+1), err)
		}
	}
	if err := s.save(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *XLSXStore) WriteCells(_ context.Context, sheet string, cells ...Cell) error {
	if sheet == "" {
		return ErrInvalidAddress
	}
	if err := validateCells(cells); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSheet(sheet); err != nil {
		return err
	}
	for _, c := range cells {
		name, err := excelize.CoordinatesToCellName(c.Col, c.Row)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		if err := s.file.SetCellStr(sheet, name, c.Value); err != nil {
			return fmt.Errorf("write %s!%s: %w", sheet, name, err)
		}
	}
	return s.save()
}

func (s *XLSXStore) DeleteRow(_ context.Context, sheet string, row int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.hasSheet(sheet)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s row %d", ErrRowOutOfRange, sheet, row)
	}
	rows, err := s.file.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read %s: %w", sheet, err)
	}
	if row < 1 || row > len(rows) {
		return fmt.Errorf("%w: %s row %d", ErrRowOutOfRange, sheet, row)
	}
	if err := s.file.RemoveRow(sheet, row); err != nil {
		return fmt.Errorf("remove %s row %d: %w", sheet, row, err)
	}
	return s.save()
}

func (s *XLSXStore) hasSheet(sheet string) (bool, error) {
	idx, err := s.file.GetSheetIndex(sheet)
	if err != nil {
		return false, fmt.Errorf("lookup sheet %s: %w", sheet, err)
	}
	return idx != -1, nil
}

func (s *XLSXStore) ensureSheet(sheet string) error {
	exists, err := s.hasSheet(sheet)
	if err != nil || exists {
		return err
	}
	if _, err := s.file.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	return nil
}

func (s *XLSXStore) save() error {
	if err := s.file.SaveAs(s.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
