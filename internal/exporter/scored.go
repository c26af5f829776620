package exporter

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"tenderscope/internal/baseline"
	apperrors "tenderscope/internal/errors"
	"tenderscope/internal/scoring"
	"tenderscope/internal/table"
)

// ScoredHeaders are the columns of a scored-items export. The feature
// columns after triggered_rules let an explanation be rendered from the
// file alone.
var ScoredHeaders = []string{
	"rank",
	"row_id",
	"process_id",
	"description",
	"supplier_id",
	"composite_score",
	"model_score",
	"rule_score",
	"anomalous",
	"triggered_rules",
	"rule_points",
	"group_key",
	"adjusted_price",
	"estimated_price",
	"proposals",
	"group_count",
	"group_mean",
	"group_median",
	"group_std",
	"group_q25",
	"group_q75",
	"group_iqr",
	"z_price",
	"iqr_score",
	"discount",
	"supplier_concentration",
}

// ScoredRecords converts items to CSV rows in ScoredHeaders order.
func ScoredRecords(items []scoring.ScoredItem) [][]string {
	out := make([][]string, len(items))
	for i, it := range items {
		f := it.Features
		points := make([]string, len(it.Triggered))
		for j, name := range it.Triggered {
			points[j] = formatFloat(it.Contributions[name])
		}
		out[i] = []string{
			formatInt(it.Rank),
			formatInt(it.RowID),
			it.ProcessID,
			it.Description,
			it.SupplierID,
			formatFloat(it.Composite),
			formatFloat(it.ModelScore),
			formatFloat(it.RuleScore),
			formatBool(it.Anomalous),
			formatList(it.Triggered),
			formatList(points),
			f.GroupKey,
			formatFloat(f.Price),
			formatFloat(f.EstimatedPrice),
			formatFloat(f.Proposals),
			formatInt(f.GroupCount),
			formatFloat(f.GroupMean),
			formatFloat(f.GroupMedian),
			formatFloat(f.GroupStd),
			formatFloat(f.GroupQ25),
			formatFloat(f.GroupQ75),
			formatFloat(f.GroupIQR),
			formatFloat(f.ZPrice),
			formatFloat(f.IQRScore),
			formatFloat(f.Discount),
			formatFloat(f.SupplierConcentration),
		}
	}
	return out
}

// WriteScored writes items as CSV to out.
func WriteScored(out io.Writer, items []scoring.ScoredItem, bom bool) error {
	return Encode(out, WriteOptions{Headers: ScoredHeaders, Records: ScoredRecords(items), BOMPrefix: bom})
}

// ExportScored writes items to filePath and returns the full path.
func (w *CSVWriter) ExportScored(filePath string, items []scoring.ScoredItem) (string, error) {
	return w.WriteSimpleCSV(filePath, ScoredHeaders, ScoredRecords(items))
}

// ReadScored parses a scored-items export. Columns are matched by header
// name, so extra columns are ignored; row_id is required.
func ReadScored(r io.Reader) ([]scoring.ScoredItem, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	headers, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperrors.NewInputError(apperrors.StageExplain, "scored file is empty")
	}
	if err != nil {
		return nil, apperrors.NewStageError(apperrors.ErrTypeInput, apperrors.StageExplain, "failed to read scored file", err)
	}
	col := make(map[string]int, len(headers))
	for i, h := range headers {
		col[strings.TrimPrefix(strings.TrimSpace(h), string(utf8BOM))] = i
	}
	if _, ok := col["row_id"]; !ok {
		return nil, apperrors.NewInputError(apperrors.StageExplain, "scored file has no row_id column")
	}

	var items []scoring.ScoredItem
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.NewStageError(apperrors.ErrTypeInput, apperrors.StageExplain,
				fmt.Sprintf("failed to read scored file line %d", line), err)
		}
		it, err := parseScored(rec, col)
		if err != nil {
			return nil, apperrors.NewStageError(apperrors.ErrTypeInput, apperrors.StageExplain,
				fmt.Sprintf("invalid scored row on line %d", line), err)
		}
		items = append(items, it)
	}
	return items, nil
}

func parseScored(rec []string, col map[string]int) (scoring.ScoredItem, error) {
	cell := func(name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	num := func(name string) float64 {
		return table.ParseNumber(cell(name), false)
	}

	rowID, ok := table.ParseInt(cell("row_id"))
	if !ok {
		return scoring.ScoredItem{}, fmt.Errorf("row_id %q is not an integer", cell("row_id"))
	}
	rank, _ := table.ParseInt(cell("rank"))
	groupCount, _ := table.ParseInt(cell("group_count"))

	it := scoring.ScoredItem{
		RowID:       rowID,
		Rank:        rank,
		ProcessID:   cell("process_id"),
		Description: cell("description"),
		SupplierID:  cell("supplier_id"),
		Composite:   num("composite_score"),
		ModelScore:  num("model_score"),
		RuleScore:   num("rule_score"),
		Anomalous:   strings.EqualFold(cell("anomalous"), "true"),
		Triggered:   parseList(cell("triggered_rules")),
		Features: baseline.Row{
			RowID:                 rowID,
			GroupKey:              cell("group_key"),
			Price:                 num("adjusted_price"),
			EstimatedPrice:        num("estimated_price"),
			Proposals:             num("proposals"),
			GroupCount:            groupCount,
			GroupMean:             num("group_mean"),
			GroupMedian:           num("group_median"),
			GroupStd:              num("group_std"),
			GroupQ25:              num("group_q25"),
			GroupQ75:              num("group_q75"),
			GroupIQR:              num("group_iqr"),
			ZPrice:                num("z_price"),
			IQRScore:              num("iqr_score"),
			Discount:              num("discount"),
			SupplierConcentration: num("supplier_concentration"),
		},
	}

	points := parseList(cell("rule_points"))
	it.Contributions = make(map[string]float64, len(it.Triggered))
	for i, name := range it.Triggered {
		if i < len(points) {
			it.Contributions[name] = table.ParseNumber(points[i], false)
		}
	}
	return it, nil
}
