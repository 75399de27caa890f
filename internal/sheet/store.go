// Package sheet is the tabular record store behind the result ledger.
//
// A store is a set of named sheets. Each sheet is a grid of string cells
// addressed by 1-based row and column numbers. Row 1 of a ledger sheet holds
// the field-name header; callers resolve a field's column by looking its name
// up in the header at call time. The store offers no transactions, no
// multi-row atomicity and no uniqueness constraints.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidAddress = errors.New("invalid cell address")
	ErrRowOutOfRange  = errors.New("row out of range")
)

// Range selects rows FirstRow..LastRow (inclusive, 1-based) of a sheet.
// LastRow 0 means through the last non-empty row.
type Range struct {
	Sheet    string
	FirstRow int
	LastRow  int
}

// Rows returns a range over all rows of a sheet.
func Rows(sheet string) Range {
	return Range{Sheet: sheet, FirstRow: 1}
}

// Row returns a range over a single row.
func Row(sheet string, row int) Range {
	return Range{Sheet: sheet, FirstRow: row, LastRow: row}
}

// Cell is a targeted write.
type Cell struct {
	Row   int
	Col   int
	Value string
}

// Store is the capability surface the ledger requires.
type Store interface {
	// ReadRange returns the selected rows. Rows may be ragged; missing
	// trailing cells read as empty strings. A missing sheet reads as empty.
	ReadRange(ctx context.Context, r Range) ([][]string, error)
	// AppendRow adds a row after the last non-empty row and returns its number.
	AppendRow(ctx context.Context, sheet string, row []string) (int, error)
	// WriteCells performs sparse writes, growing the sheet as needed.
	WriteCells(ctx context.Context, sheet string, cells ...Cell) error
	// DeleteRow removes a row, shifting the rows below it up by one.
	DeleteRow(ctx context.Context, sheet string, row int) error
}

func validate(r Range) error {
	if r.Sheet == "" || r.FirstRow < 1 || (r.LastRow != 0 && r.LastRow < r.FirstRow) {
		return fmt.Errorf("%w: %+v", ErrInvalidAddress, r)
	}
	return nil
}

func validateCells(cells []Cell) error {
	for _, c := range cells {
		if c.Row < 1 || c.Col < 1 {
			return fmt.Errorf("%w: row %d col %d", ErrInvalidAddress, c.Row, c.Col)
		}
	}
	return nil
}

// slice cuts the selected window out of a full sheet.
func slice(all [][]string, r Range) [][]string {
	first := r.FirstRow - 1
	if first >= len(all) {
		return [][]string{}
	}
	last := len(all)
	if r.LastRow != 0 && r.LastRow < last {
		last = r.LastRow
	}
	out := make([][]string, 0, last-first)
	for _, row := range all[first:last] {
		out = append(out, append([]string(nil), row...))
	}
	return out
}

// ColumnName converts a 1-based column number to its letter name (1 → A, 27 → AA).
func ColumnName(col int) string {
	if col < 1 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// CellName returns the A1 name of a cell, e.g. C5.
func CellName(row, col int) string {
	return ColumnName(col) + strconv.Itoa(row)
}

// QuoteSheet quotes a sheet title for use in A1 notation.
func QuoteSheet(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

// Value returns the cell at a 0-based index of a ragged row, or "".
func Value(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
