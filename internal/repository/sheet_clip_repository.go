package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/stemsi/clipexam-backend/internal/model"
	"github.com/stemsi/clipexam-backend/internal/sheet"
)

// Worksheet catalog columns. Lookup ignores case, spaces and underscores.
const (
	ColExamCode        = "Exam_Code"
	ColClipID          = "Clip_ID"
	ColVideoTitle      = "Video_Title"
	ColHasIntervention = "Has_Intervention"
	ColCorrectTime     = "Correct_Time"
	ColIsActive        = "Is_Active"
	ColDriveLink       = "Drive_Link"
)

// CatalogColumns is the header written to an empty catalog worksheet.
var CatalogColumns = []string{
	ColExamCode, ColClipID, ColVideoTitle, ColHasIntervention, ColCorrectTime, ColIsActive, ColDriveLink,
}

var (
	ErrCatalogHeader = errors.New("catalog worksheet has no Clip_ID column")

	driveFileID = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
)

// SheetClipRepository reads the clip catalog from a worksheet, one clip per
// row under a header row. Without an Exam_Code column every row belongs to
// the default exam code.
type SheetClipRepository struct {
	store           sheet.Store
	sheetName       string
	defaultExamCode string
}

func NewSheetClipRepository(store sheet.Store, sheetName, defaultExamCode string) *SheetClipRepository {
	return &SheetClipRepository{
		store:           store,
		sheetName:       sheetName,
		defaultExamCode: defaultExamCode,
	}
}

// ListClips returns every clip of an exam code in worksheet order.
func (r *SheetClipRepository) ListClips(ctx context.Context, examCode string) ([]model.Clip, error) {
	all, err := r.readAll(ctx)
	if err != nil {
		return nil, err
	}

	var clips []model.Clip
	for _, c := range all {
		if c.ExamCode == examCode {
			c.Order = len(clips) + 1
			clips = append(clips, c)
		}
	}
	return clips, nil
}

// ListExamCodes returns the distinct exam codes in the worksheet.
func (r *SheetClipRepository) ListExamCodes(ctx context.Context) ([]string, error) {
	all, err := r.readAll(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var codes []string
	for _, c := range all {
		if _, ok := seen[c.ExamCode]; ok {
			continue
		}
		seen[c.ExamCode] = struct{}{}
		codes = append(codes, c.ExamCode)
	}
	sort.Strings(codes)
	return codes, nil
}

// Upsert appends a clip row, writing the header first on an empty worksheet.
// An existing row with the same exam code and clip ID is overwritten in place.
func (r *SheetClipRepository) Upsert(ctx context.Context, c *model.Clip) error {
	rows, err := r.store.ReadRange(ctx, sheet.Rows(r.sheetName))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		if _, err := r.store.AppendRow(ctx, r.sheetName, CatalogColumns); err != nil {
			return err
		}
		rows = [][]string{CatalogColumns}
	}

	cols := indexColumns(rows[0])
	if _, ok := cols[ColClipID]; !ok {
		return ErrCatalogHeader
	}

	values := map[string]string{
		ColExamCode:        c.ExamCode,
		ColClipID:          c.ClipID,
		ColVideoTitle:      c.Title,
		ColHasIntervention: formatFlag(c.HasIntervention),
		ColIsActive:        formatFlag(c.Active),
		ColDriveLink:       c.MediaRef,
	}
	if c.CorrectTime != nil {
		values[ColCorrectTime] = strconv.FormatFloat(*c.CorrectTime, 'f', -1, 64)
	}

	for i, row := range rows[1:] {
		existing, ok := r.parseRow(row, cols)
		if !ok || existing.ExamCode != c.ExamCode || existing.ClipID != c.ClipID {
			continue
		}
		cells := make([]sheet.Cell, 0, len(values))
		for name, idx := range cols {
			if v, ok := values[name]; ok {
				cells = append(cells, sheet.Cell{Row: i + 2, Col: idx + 1, Value: v})
			} else if name == ColCorrectTime {
				cells = append(cells, sheet.Cell{Row: i + 2, Col: idx + 1, Value: ""})
			}
		}
		return r.store.WriteCells(ctx, r.sheetName, cells...)
	}

	width := 0
	for _, idx := range cols {
		if idx+1 > width {
			width = idx + 1
		}
	}
	row := make([]string, width)
	for name, idx := range cols {
		row[idx] = values[name]
	}
	_, err = r.store.AppendRow(ctx, r.sheetName, row)
	return err
}

func (r *SheetClipRepository) readAll(ctx context.Context) ([]model.Clip, error) {
	rows, err := r.store.ReadRange(ctx, sheet.Rows(r.sheetName))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := indexColumns(rows[0])
	if _, ok := cols[ColClipID]; !ok {
		return nil, ErrCatalogHeader
	}

	clips := make([]model.Clip, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if c, ok := r.parseRow(row, cols); ok {
			clips = append(clips, c)
		}
	}
	return clips, nil
}

func (r *SheetClipRepository) parseRow(row []string, cols map[string]int) (model.Clip, bool) {
	get := func(name string) string {
		idx, ok := cols[name]
		if !ok {
			return ""
		}
		return strings.TrimSpace(sheet.Value(row, idx))
	}

	c := model.Clip{
		ExamCode:        get(ColExamCode),
		ClipID:          get(ColClipID),
		Title:           get(ColVideoTitle),
		HasIntervention: ParseFlag(get(ColHasIntervention)),
		Active:          ParseFlag(get(ColIsActive)),
		MediaRef:        DrivePreviewURL(get(ColDriveLink)),
	}
	// A clip named like a ledger field would write into that field.
	if c.ClipID == "" || model.ReservedFieldName(c.ClipID) {
		return model.Clip{}, false
	}
	if c.ExamCode == "" {
		c.ExamCode = r.defaultExamCode
	}
	if c.HasIntervention {
		if t, err := ParseClipTime(get(ColCorrectTime)); err == nil {
			c.CorrectTime = &t
		}
	}
	return c, true
}

func indexColumns(header []string) map[string]int {
	known := make(map[string]string, len(CatalogColumns))
	for _, name := range CatalogColumns {
		known[normalizeColumn(name)] = name
	}

	cols := make(map[string]int)
	for i, h := range header {
		if name, ok := known[normalizeColumn(h)]; ok {
			if _, dup := cols[name]; !dup {
				cols[name] = i
			}
		}
	}
	return cols
}

func normalizeColumn(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "")
	return strings.ReplaceAll(s, " ", "")
}

// ParseFlag reads YES/TRUE (any case) as true.
func ParseFlag(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "TRUE":
		return true
	}
	return false
}

func formatFlag(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// ParseClipTime reads a clip offset as MM:SS (seconds may be fractional) or
// as decimal seconds.
func ParseClipTime(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty clip time")
	}

	if minutes, seconds, ok := strings.Cut(s, ":"); ok {
		m, err := strconv.Atoi(strings.TrimSpace(minutes))
		if err != nil || m < 0 {
			return 0, fmt.Errorf("invalid minutes in %q", s)
		}
		sec, err := strconv.ParseFloat(strings.TrimSpace(seconds), 64)
		if err != nil || math.IsNaN(sec) || sec < 0 || sec >= 60 {
			return 0, fmt.Errorf("invalid seconds in %q", s)
		}
		return float64(m)*60 + sec, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid clip time %q", s)
	}
	return v, nil
}

// DrivePreviewURL rewrites a Google Drive file link to its embeddable preview
// URL. Other links are returned unchanged.
func DrivePreviewURL(link string) string {
	if !strings.Contains(link, "drive.google.com") {
		return link
	}
	m := driveFileID.FindStringSubmatch(link)
	if m == nil {
		return link
	}
	return "https://drive.google.com/file/d/" + m[1] + "/preview"
}
