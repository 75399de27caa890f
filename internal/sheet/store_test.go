package sheet

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnName(t *testing.T) {
	cases := map[int]string{1: "A", 2: "B", 26: "Z", 27: "AA", 52: "AZ", 53: "BA", 702: "ZZ", 703: "AAA"}
	for col, want := range cases {
		assert.Equal(t, want, ColumnName(col), "column %d", col)
	}
	assert.Equal(t, "", ColumnName(0))
	assert.Equal(t, "C5", CellName(5, 3))
	assert.Equal(t, "'Bob''s'", QuoteSheet("Bob's"))
}

// storeContract runs the behaviour every driver must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("MissingSheetReadsEmpty", func(t *testing.T) {
		rows, err := s.ReadRange(ctx, Rows("Nope"))
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("AppendReadWriteDelete", func(t *testing.T) {
		n, err := s.AppendRow(ctx, "Results", []string{"examCode", "userId"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.AppendRow(ctx, "Results", []string{"DEMO", "op-1"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.AppendRow(ctx, "Results", []string{"DEMO", "op-2"})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		require.NoError(t, s.WriteCells(ctx, "Results",
			Cell{Row: 1, Col: 3, Value: "C1"},
			Cell{Row: 2, Col: 3, Value: "1"},
		))

		header, err := s.ReadRange(ctx, Row("Results", 1))
		require.NoError(t, err)
		require.Len(t, header, 1)
		assert.Equal(t, []string{"examCode", "userId", "C1"}, header[0])

		rows, err := s.ReadRange(ctx, Range{Sheet: "Results", FirstRow: 2})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "1", Value(rows[0], 2))
		assert.Equal(t, "", Value(rows[1], 2))

		require.NoError(t, s.DeleteRow(ctx, "Results", 2))
		rows, err = s.ReadRange(ctx, Rows("Results"))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "op-2", Value(rows[1], 1))

		n, err = s.AppendRow(ctx, "Results", []string{"DEMO", "op-3"})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("DeleteOutOfRange", func(t *testing.T) {
		err := s.DeleteRow(ctx, "Results", 99)
		assert.True(t, errors.Is(err, ErrRowOutOfRange))
	})

	t.Run("InvalidAddress", func(t *testing.T) {
		_, err := s.ReadRange(ctx, Range{Sheet: "Results", FirstRow: 0})
		assert.True(t, errors.Is(err, ErrInvalidAddress))
		err = s.WriteCells(ctx, "Results", Cell{Row: 0, Col: 1, Value: "x"})
		assert.True(t, errors.Is(err, ErrInvalidAddress))
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestXLSXStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger", "ledger.xlsx")
	s, err := OpenXLSX(path)
	require.NoError(t, err)
	storeContract(t, s)
	require.NoError(t, s.Close())

	// Reopen and confirm the rows were saved.
	reopened, err := OpenXLSX(path)
	require.NoError(t, err)
	defer reopened.Close()
	rows, err := reopened.ReadRange(context.Background(), Rows("Results"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "op-3", Value(rows[2], 1))
}

func TestInstrument(t *testing.T) {
	var ops []string
	s := Instrument(NewMemoryStore(), func(op string, _ time.Duration, _ error) {
		ops = append(ops, op)
	})
	ctx := context.Background()
	_, _ = s.AppendRow(ctx, "S", []string{"a"})
	_, _ = s.ReadRange(ctx, Rows("S"))
	_ = s.WriteCells(ctx, "S", Cell{Row: 1, Col: 2, Value: "b"})
	_ = s.DeleteRow(ctx, "S", 1)
	assert.Equal(t, []string{"append_row", "read_range", "write_cells", "delete_row"}, ops)
}
