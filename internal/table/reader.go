package table

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	apperrors "tenderscope/internal/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Loader reads item tables from CSV or XLSX sources.
type Loader struct {
	columns   []ColumnSpec
	overrides map[Field]string
	sheet     string
	logger    *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithColumns replaces the default column specs.
func WithColumns(specs []ColumnSpec) LoaderOption {
	return func(l *Loader) { l.columns = specs }
}

// WithOverrides pins fields to explicit header names.
func WithOverrides(overrides map[Field]string) LoaderOption {
	return func(l *Loader) { l.overrides = overrides }
}

// WithSheet selects the XLSX sheet; the first sheet is used otherwise.
func WithSheet(name string) LoaderOption {
	return func(l *Loader) { l.sheet = name }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{columns: DefaultColumns, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// LoadFile reads path, choosing the reader by extension.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewStageError(apperrors.ErrTypeInput, apperrors.StageIngest, "open input", err).
			WithContext("path", path)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return l.ReadXLSX(ctx, f, path)
	default:
		return l.ReadCSV(ctx, f, path)
	}
}

// ReadCSV reads a delimited text table. The delimiter is sniffed from the
// header line among ';' ',' '|' and tab. A UTF-8 BOM is skipped and input
// that is not valid UTF-8 is decoded as Windows-1252.
func (l *Loader) ReadCSV(ctx context.Context, r io.Reader, source string) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.NewStageError(apperrors.ErrTypeInput, apperrors.StageIngest, "read csv", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		decoded, derr := charmap.Windows1252.NewDecoder().Bytes(data)
		if derr == nil {
			l.logger.DebugContext(ctx, "decoded csv as windows-1252", "source", source)
			data = decoded
		}
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = sniffDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, apperrors.NewStageError(apperrors.ErrTypeInput, apperrors.StageIngest, "parse csv", err).
			WithContext("source", source)
	}
	if len(records) == 0 {
		return nil, apperrors.NewInputError(apperrors.StageIngest, "table has no header")
	}
	return l.FromRecords(ctx, records[0], records[1:], source)
}

// ReadXLSX reads the configured (or first) sheet of a workbook.
func (l *Loader) ReadXLSX(ctx context.Context, r io.Reader, source string) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.NewStageError(apperrors.ErrTypeInput, apperrors.StageIngest, "open workbook", err)
	}
	defer f.Close()

	sheet := l.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, apperrors.NewInputError(apperrors.StageIngest, "workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, apperrors.NewStageError(apperrors.ErrTypeInput, apperrors.StageIngest, "read sheet", err).
			WithContext("sheet", sheet)
	}
	if len(rows) == 0 {
		return nil, apperrors.NewInputError(apperrors.StageIngest, "table has no header")
	}
	l.logger.DebugContext(ctx, "read workbook", "source", source, "sheet", sheet, "rows", len(rows))
	return l.FromRecords(ctx, rows[0], rows[1:], source)
}

// FromRecords builds a table from a header row and data rows. Blank rows are
// skipped. Numeric columns get a per-column locale decision before parsing.
func (l *Loader) FromRecords(ctx context.Context, headers []string, rows [][]string, source string) (*Table, error) {
	res, err := ResolveColumns(headers, l.columns, l.overrides)
	if err != nil {
		return nil, err
	}
	if missing := res.Unresolved(l.columns); len(missing) > 0 {
		l.logger.WarnContext(ctx, "columns unresolved, fields will be null",
			"source", source, "fields", missing)
	}

	var data [][]string
	for _, row := range rows {
		if !blank(row) {
			data = append(data, row)
		}
	}
	if len(data) == 0 {
		return nil, apperrors.NewInputError(apperrors.StageIngest, "table has no rows").
			WithContext("source", source)
	}

	cell := func(row []string, f Field) string {
		idx, ok := res.Index[f]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	comma := make(map[Field]bool)
	for _, f := range []Field{FieldQuantity, FieldEstimatedPrice, FieldAdjudicatedPrice} {
		if !res.Has(f) {
			continue
		}
		values := make([]string, len(data))
		for i, row := range data {
			values[i] = cell(row, f)
		}
		comma[f] = DecimalComma(values)
	}

	items := make([]Item, len(data))
	for i, row := range data {
		it := NewItem()
		it.RowID = i
		it.ProcessID = cell(row, FieldProcessID)
		if y, ok := ParseInt(cell(row, FieldYear)); ok {
			it.Year = y
		}
		it.Modality = cell(row, FieldModality)
		it.ProcuringUnit = cell(row, FieldProcuringUnit)
		it.Lot = cell(row, FieldLot)
		it.ItemNumber = cell(row, FieldItemNumber)
		it.Description = cell(row, FieldDescription)
		it.Quantity = ParseNumber(cell(row, FieldQuantity), comma[FieldQuantity])
		it.EstimatedPrice = ParseNumber(cell(row, FieldEstimatedPrice), comma[FieldEstimatedPrice])
		it.AdjudicatedPrice = ParseNumber(cell(row, FieldAdjudicatedPrice), comma[FieldAdjudicatedPrice])
		it.SupplierID = cell(row, FieldSupplierID)
		it.SupplierName = cell(row, FieldSupplierName)
		if p, ok := ParseInt(cell(row, FieldProposals)); ok {
			it.Proposals = float64(p)
		}
		items[i] = it
	}

	l.logger.InfoContext(ctx, "table loaded",
		"source", source,
		"rows", len(items),
		"description_column", res.Header[FieldDescription])

	return &Table{Source: source, Columns: res, Items: items}, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{';', ',', '|', '\t'} {
		if c := bytes.Count(line, []byte(string(d))); c > bestCount {
			best, bestCount = d, c
		}
	}
	return best
}

// String describes the table for logs.
func (t *Table) String() string {
	return fmt.Sprintf("table(%s, %d items)", t.Source, t.Len())
}
