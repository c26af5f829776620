package exporter

import (
	"io"

	"tenderscope/internal/association"
)

// RuleHeaders are the columns of an association-rules export.
var RuleHeaders = []string{
	"antecedents",
	"consequents",
	"antecedent_support",
	"consequent_support",
	"support",
	"confidence",
	"lift",
}

// ItemsetHeaders are the columns of a frequent-itemsets export.
var ItemsetHeaders = []string{"items", "size", "count", "support"}

// RuleRecords converts rules to CSV rows in RuleHeaders order.
func RuleRecords(rules []association.Rule) [][]string {
	out := make([][]string, len(rules))
	for i, r := range rules {
		out[i] = []string{
			formatList(r.Antecedents),
			formatList(r.Consequents),
			formatFloat(r.AntecedentSupport),
			formatFloat(r.ConsequentSupport),
			formatFloat(r.Support),
			formatFloat(r.Confidence),
			formatFloat(r.Lift),
		}
	}
	return out
}

// ItemsetRecords converts itemsets to CSV rows in ItemsetHeaders order.
func ItemsetRecords(sets []association.Itemset) [][]string {
	out := make([][]string, len(sets))
	for i, s := range sets {
		out[i] = []string{
			formatList(s.Items),
			formatInt(len(s.Items)),
			formatInt(s.Count),
			formatFloat(s.Support),
		}
	}
	return out
}

// WriteRules writes rules as CSV to out.
func WriteRules(out io.Writer, rules []association.Rule, bom bool) error {
	return Encode(out, WriteOptions{Headers: RuleHeaders, Records: RuleRecords(rules), BOMPrefix: bom})
}

// ExportRules writes the rules and itemsets of res next to each other:
// filePath receives the rules and itemsetsPath the frequent itemsets.
// An empty itemsetsPath skips the itemsets file.
func (w *CSVWriter) ExportRules(filePath, itemsetsPath string, res *association.Result) ([]string, error) {
	var written []string
	path, err := w.WriteSimpleCSV(filePath, RuleHeaders, RuleRecords(res.Rules))
	if err != nil {
		return nil, err
	}
	written = append(written, path)

	if itemsetsPath != "" {
		path, err = w.WriteSimpleCSV(itemsetsPath, ItemsetHeaders, ItemsetRecords(res.Itemsets))
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
