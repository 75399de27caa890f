package sheet

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// updatedRowPattern extracts the first row number of an A1 range such as
// 'Results'!A7:H7.
var updatedRowPattern = regexp.MustCompile(`![A-Z]+(\d+)`)

type gridInfo struct {
	sheetID int64
	rows    int64
	cols    int64
}

// GoogleStore keeps sheets in a Google Sheets spreadsheet.
type GoogleStore struct {
	srv           *sheets.Service
	spreadsheetID string

	mu    sync.Mutex
	grids map[string]gridInfo
}

// GoogleOptions builds client options from inline service-account JSON or a
// credentials file path. Empty creds falls back to application default credentials.
func GoogleOptions(creds string) []option.ClientOption {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	switch {
	case creds == "":
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	default:
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}

// NewGoogleStore connects to the spreadsheet and loads its sheet properties.
func NewGoogleStore(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*GoogleStore, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	s := &GoogleStore{
		srv:           srv,
		spreadsheetID: spreadsheetID,
		grids:         make(map[string]gridInfo),
	}
	if err := s.refreshGrids(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GoogleStore) ReadRange(ctx context.Context, r Range) ([][]string, error) {
	if err := validate(r); err != nil {
		return nil, err
	}
	if _, ok, err := s.grid(ctx, r.Sheet, false); err != nil || !ok {
		return [][]string{}, err
	}

	a1 := QuoteSheet(r.Sheet)
	if r.LastRow != 0 {
		a1 += fmt.Sprintf("!%d:%d", r.FirstRow, r.LastRow)
	}
	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, a1).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", a1, err)
	}

	rows := make([][]string, len(resp.Values))
	for i, raw := range resp.Values {
		row := make([]string, len(raw))
		for j, v := range raw {
			row[j] = fmt.Sprint(v)
		}
		rows[i] = row
	}
	if r.LastRow != 0 {
		return rows, nil
	}
	return slice(rows, r), nil
}

func (s *GoogleStore) AppendRow(ctx context.Context, sheet string, row []string) (int, error) {
	if sheet == "" {
		return 0, ErrInvalidAddress
	}
	if err := s.ensureColumns(ctx, sheet, len(row)); err != nil {
		return 0, err
	}

	vr := &sheets.ValueRange{Values: [][]interface{}{toInterfaces(row)}}
	resp, err := s.srv.Spreadsheets.Values.
		Append(s.spreadsheetID, QuoteSheet(sheet)+"!A1", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", sheet, err)
	}
	s.bumpRows(sheet, 1)

	if resp.Updates == nil {
		return 0, fmt.Errorf("append %s: no update range returned", sheet)
	}
	m := updatedRowPattern.FindStringSubmatch(resp.Updates.UpdatedRange)
	if m == nil {
		return 0, fmt.Errorf("append %s: unparseable range %q", sheet, resp.Updates.UpdatedRange)
	}
	return strconv.Atoi(m[1])
}

func (s *GoogleStore) WriteCells(ctx context.Context, sheet string, cells ...Cell) error {
	if sheet == "" {
		return ErrInvalidAddress
	}
	if err := validateCells(cells); err != nil {
		return err
	}
	if len(cells) == 0 {
		return nil
	}

	maxCol := 0
	data := make([]*sheets.ValueRange, 0, len(cells))
	for _, c := range cells {
		if c.Col > maxCol {
			maxCol = c.Col
		}
		data = append(data, &sheets.ValueRange{
			Range:  QuoteSheet(sheet) + "!" + CellName(c.Row, c.Col),
			Values: [][]interface{}{{c.Value}},
		})
	}
	if err := s.ensureColumns(ctx, sheet, maxCol); err != nil {
		return err
	}

	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: "RAW", Data: data}
	if _, err := s.srv.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("write %s: %w", sheet, err)
	}
	return nil
}

func (s *GoogleStore) DeleteRow(ctx context.Context, sheet string, row int) error {
	g, ok, err := s.grid(ctx, sheet, false)
	if err != nil {
		return err
	}
	if !ok || row < 1 || int64(row) > g.rows {
		return fmt.Errorf("%w: %s row %d", ErrRowOutOfRange, sheet, row)
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
		DeleteDimension: &sheets.DeleteDimensionRequest{
			Range: &sheets.DimensionRange{
				SheetId:         g.sheetID,
				Dimension:       "ROWS",
				StartIndex:      int64(row - 1),
				EndIndex:        int64(row),
				ForceSendFields: []string{"SheetId", "StartIndex"},
			},
		},
	}}}
	if _, err := s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete %s row %d: %w", sheet, row, err)
	}
	s.bumpRows(sheet, -1)
	return nil
}

// ensureColumns grows the sheet grid so that n columns are addressable.
func (s *GoogleStore) ensureColumns(ctx context.Context, sheet string, n int) error {
	g, _, err := s.grid(ctx, sheet, true)
	if err != nil {
		return err
	}
	if int64(n) <= g.cols {
		return nil
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
		AppendDimension: &sheets.AppendDimensionRequest{
			SheetId:         g.sheetID,
			Dimension:       "COLUMNS",
			Length:          int64(n) - g.cols,
			ForceSendFields: []string{"SheetId"},
		},
	}}}
	if _, err := s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("grow %s to %d columns: %w", sheet, n, err)
	}

	s.mu.Lock()
	g.cols = int64(n)
	s.grids[sheet] = g
	s.mu.Unlock()
	return nil
}

// grid returns the cached grid properties of a sheet, optionally adding the
// sheet when it does not exist.
func (s *GoogleStore) grid(ctx context.Context, sheet string, create bool) (gridInfo, bool, error) {
	s.mu.Lock()
	g, ok := s.grids[sheet]
	s.mu.Unlock()
	if ok || !create {
		return g, ok, nil
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
		AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: sheet}},
	}}}
	if _, err := s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		// Another writer may have added it first.
		if refreshErr := s.refreshGrids(ctx); refreshErr != nil {
			return gridInfo{}, false, fmt.Errorf("add sheet %s: %w", sheet, err)
		}
	} else if err := s.refreshGrids(ctx); err != nil {
		return gridInfo{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok = s.grids[sheet]
	if !ok {
		return gridInfo{}, false, fmt.Errorf("add sheet %s: not visible after create", sheet)
	}
	return g, true, nil
}

func (s *GoogleStore) refreshGrids(ctx context.Context) error {
	resp, err := s.srv.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	grids := make(map[string]gridInfo, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties == nil {
			continue
		}
		g := gridInfo{sheetID: sh.Properties.SheetId}
		if gp := sh.Properties.GridProperties; gp != nil {
			g.rows = gp.RowCount
			g.cols = gp.ColumnCount
		}
		grids[sh.Properties.Title] = g
	}
	s.mu.Lock()
	s.grids = grids
	s.mu.Unlock()
	return nil
}

func (s *GoogleStore) bumpRows(sheet string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.grids[sheet]; ok {
		g.rows += delta
		s.grids[sheet] = g
	}
}

func toInterfaces(row []string) []interface{} {
	out := make([]interface{}, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}
