// Package exporter writes scoring results for people and spreadsheets.
//
// CSVWriter is the file-level writer: it resolves relative paths inside
// the configured output directory and prefixes a UTF-8 BOM so Excel opens
// accented descriptions correctly.
//
// The scored-items export carries every baseline feature next to the
// scores, so ReadScored can rebuild the items and an explanation can be
// rendered from the file and the run snapshot alone. Association rules and
// frequent itemsets have their own exports, and WriteWorkbook puts all of
// them on separate sheets of one XLSX workbook.
//
// Example usage:
//
//	writer := exporter.NewCSVWriter(cfg.Paths, logger)
//	path, err := writer.ExportScored("scored.csv", out.Items)
//
//	items, err := exporter.ReadScored(file)
package exporter
