package exporter

import (
	"fmt"
	"io"
	"math"

	"github.com/xuri/excelize/v2"

	"tenderscope/internal/association"
	"tenderscope/internal/scoring"
)

// Workbook sheet names.
const (
	SheetScores   = "scores"
	SheetRules    = "rules"
	SheetItemsets = "itemsets"
)

// WriteWorkbook writes a spreadsheet with the scored items and, when res
// is not nil, the mined rules and itemsets on their own sheets. Numeric
// columns are stored as numbers and nulls as empty cells.
func WriteWorkbook(out io.Writer, items []scoring.ScoredItem, res *association.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetScores); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := writeSheet(f, SheetScores, ScoredHeaders, scoredCells(items)); err != nil {
		return err
	}

	if res != nil {
		for _, s := range []struct {
			name    string
			headers []string
			rows    [][]interface{}
		}{
			{SheetRules, RuleHeaders, ruleCells(res.Rules)},
			{SheetItemsets, ItemsetHeaders, itemsetCells(res.Itemsets)},
		} {
			if _, err := f.NewSheet(s.name); err != nil {
				return fmt.Errorf("failed to create sheet %s: %w", s.name, err)
			}
			if err := writeSheet(f, s.name, s.headers, s.rows); err != nil {
				return err
			}
		}
	}

	if err := f.Write(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]interface{}) error {
	head := make([]interface{}, len(headers))
	for i, h := range headers {
		head[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// number maps nulls to an empty cell.
func number(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func scoredCells(items []scoring.ScoredItem) [][]interface{} {
	out := make([][]interface{}, len(items))
	for i, it := range items {
		f := it.Features
		points := make([]string, len(it.Triggered))
		for j, name := range it.Triggered {
			points[j] = formatFloat(it.Contributions[name])
		}
		out[i] = []interface{}{
			it.Rank,
			it.RowID,
			it.ProcessID,
			it.Description,
			it.SupplierID,
			number(it.Composite),
			number(it.ModelScore),
			number(it.RuleScore),
			it.Anomalous,
			formatList(it.Triggered),
			formatList(points),
			f.GroupKey,
			number(f.Price),
			number(f.EstimatedPrice),
			number(f.Proposals),
			f.GroupCount,
			number(f.GroupMean),
			number(f.GroupMedian),
			number(f.GroupStd),
			number(f.GroupQ25),
			number(f.GroupQ75),
			number(f.GroupIQR),
			number(f.ZPrice),
			number(f.IQRScore),
			number(f.Discount),
			number(f.SupplierConcentration),
		}
	}
	return out
}

func ruleCells(rules []association.Rule) [][]interface{} {
	out := make([][]interface{}, len(rules))
	for i, r := range rules {
		out[i] = []interface{}{
			formatList(r.Antecedents),
			formatList(r.Consequents),
			r.AntecedentSupport,
			r.ConsequentSupport,
			r.Support,
			r.Confidence,
			r.Lift,
		}
	}
	return out
}

func itemsetCells(sets []association.Itemset) [][]interface{} {
	out := make([][]interface{}, len(sets))
	for i, s := range sets {
		out[i] = []interface{}{formatList(s.Items), len(s.Items), s.Count, s.Support}
	}
	return out
}
