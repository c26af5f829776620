package exporter

import (
	"io"

	"tenderscope/internal/table"
)

// SupplierHeaders are the columns of a supplier leaderboard export.
var SupplierHeaders = []string{"supplier_id", "supplier_name", "wins", "processes", "items", "share_pct"}

// SupplierRecords converts the leaderboard to CSV rows in SupplierHeaders order.
func SupplierRecords(rows []table.SupplierWins) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{
			r.SupplierID,
			r.SupplierName,
			formatInt(r.Wins),
			formatInt(r.Processes),
			formatInt(r.Items),
			formatFloat(r.Share),
		}
	}
	return out
}

// WriteSuppliers writes the leaderboard as CSV to out.
func WriteSuppliers(out io.Writer, rows []table.SupplierWins, bom bool) error {
	return Encode(out, WriteOptions{Headers: SupplierHeaders, Records: SupplierRecords(rows), BOMPrefix: bom})
}

// ExportSuppliers writes the leaderboard to filePath.
func (w *CSVWriter) ExportSuppliers(filePath string, rows []table.SupplierWins) (string, error) {
	return w.WriteSimpleCSV(filePath, SupplierHeaders, SupplierRecords(rows))
}
