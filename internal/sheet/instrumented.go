package sheet

import (
	"context"
	"time"
)

// ObserveFunc receives the outcome of every store operation.
type ObserveFunc func(op string, took time.Duration, err error)

type instrumented struct {
	next    Store
	observe ObserveFunc
}

// Instrument wraps a store so that every call is reported to observe.
func Instrument(next Store, observe ObserveFunc) Store {
	if observe == nil {
		return next
	}
	return &instrumented{next: next, observe: observe}
}

func (s *instrumented) ReadRange(ctx context.Context, r Range) ([][]string, error) {
	start := time.Now()
	rows, err := s.next.ReadRange(ctx, r)
	s.observe("read_range", time.Since(start), err)
	return rows, err
}

func (s *instrumented) AppendRow(ctx context.Context, sheet string, row []string) (int, error) {
	start := time.Now()
	n, err := s.next.AppendRow(ctx, sheet, row)
	s.observe("append_row", time.Since(start), err)
	return n, err
}

func (s *instrumented) WriteCells(ctx context.Context, sheet string, cells ...Cell) error {
	start := time.Now()
	err := s.next.WriteCells(ctx, sheet, cells...)
	s.observe("write_cells", time.Since(start), err)
	return err
}

func (s *instrumented) DeleteRow(ctx context.Context, sheet string, row int) error {
	start := time.Now()
	err := s.next.DeleteRow(ctx, sheet, row)
	s.observe("delete_row", time.Since(start), err)
	return err
}
