package scoring

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"text/template"

	"tenderscope/internal/baseline"
)

// DefaultTopDeviations is the number of robust deviations listed.
const DefaultTopDeviations = 10

// ErrNoSnapshot is returned when an Explainer is built without a snapshot.
var ErrNoSnapshot = errors.New("explainer requires a baseline snapshot")

// DefaultTemplate renders the plain-text explanation of one item.
const DefaultTemplate = `Item {{.RowID}}{{with .Description}} "{{.}}"{{end}}{{with .ProcessID}} in process {{.}}{{end}} (rank {{.Rank}})
Adjusted unit price: {{money .Price}} (group median {{money .GroupMedian}})
Discount vs estimate: {{pct .Discount}}
Proposals: {{count .Proposals}}
Supplier wins at this unit: {{count .SupplierWins}}
Triggered rules:{{range .Rules}}
  - {{.Name}}: +{{score .Points}} pts{{else}} none{{end}}
Rule score: {{score .RuleScore}}
Model score: {{if .ModelAvailable}}{{score .ModelScore}} ({{.ModelName}}){{else}}unavailable{{with .ModelReason}} ({{.}}){{end}}{{end}}
Composite: {{if .ModelAvailable}}{{weight .WModel}} x {{score .ModelScore}} + {{weight .WRules}} x {{score .RuleScore}} = {{score .Composite}}{{else}}n/a{{end}}
{{- if .Deviations}}
Largest robust deviations ((value - median) / IQR):{{range .Deviations}}
  - {{.Feature}}: {{signed .Score}} ({{.Direction}} median {{money .Median}}){{end}}
{{- end}}
`

// Deviation is the robust deviation of one feature from its dataset median.
type Deviation struct {
	Feature   string  `json:"feature"`
	Value     float64 `json:"value"`
	Median    float64 `json:"median"`
	IQR       float64 `json:"iqr"`
	Score     float64 `json:"score"`
	Direction string  `json:"direction"`
}

// RuleLine is one triggered rule in an explanation.
type RuleLine struct {
	Name   string
	Points float64
}

// Explanation is the data handed to the template.
type Explanation struct {
	RowID       int
	Rank        int
	ProcessID   string
	Description string

	Price        float64
	GroupMedian  float64
	Discount     float64
	Proposals    float64
	SupplierWins float64

	Rules []RuleLine

	RuleScore      float64
	ModelScore     float64
	Composite      float64
	ModelAvailable bool
	ModelName      string
	ModelReason    string
	WModel         float64
	WRules         float64

	Deviations []Deviation
}

// Explainer renders explanations against an immutable snapshot so the
// text means the same thing no matter when it is produced.
type Explainer struct {
	snap *baseline.Snapshot
	tmpl *template.Template
	top  int
}

// ExplainerOption configures an Explainer.
type ExplainerOption func(*explainerOptions)

type explainerOptions struct {
	template string
	top      int
}

// WithTemplate replaces the default text/template source.
func WithTemplate(src string) ExplainerOption {
	return func(o *explainerOptions) { o.template = src }
}

// WithTopDeviations sets how many robust deviations are listed; 0 disables them.
func WithTopDeviations(n int) ExplainerOption {
	return func(o *explainerOptions) { o.top = n }
}

// NewExplainer parses the template and binds it to snap.
func NewExplainer(snap *baseline.Snapshot, opts ...ExplainerOption) (*Explainer, error) {
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	o := explainerOptions{template: DefaultTemplate, top: DefaultTopDeviations}
	for _, opt := range opts {
		opt(&o)
	}
	tmpl, err := template.New("explanation").Funcs(templateFuncs).Parse(o.template)
	if err != nil {
		return nil, fmt.Errorf("parse explanation template: %w", err)
	}
	return &Explainer{snap: snap, tmpl: tmpl, top: o.top}, nil
}

// Snapshot returns the bound snapshot.
func (e *Explainer) Snapshot() *baseline.Snapshot {
	return e.snap
}

// Explain renders the explanation text of item.
func (e *Explainer) Explain(item ScoredItem) (string, error) {
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, e.Data(item)); err != nil {
		return "", fmt.Errorf("render explanation for row %d: %w", item.RowID, err)
	}
	return buf.String(), nil
}

// Data assembles the template input of item.
func (e *Explainer) Data(item ScoredItem) Explanation {
	f := item.Features
	groupMedian, ok := e.snap.GroupMedian(f.GroupKey)
	if !ok {
		groupMedian = f.GroupMedian
	}

	weights := e.snap.CompositeWeights
	ex := Explanation{
		RowID:          item.RowID,
		Rank:           item.Rank,
		ProcessID:      item.ProcessID,
		Description:    item.Description,
		Price:          f.Price,
		GroupMedian:    groupMedian,
		Discount:       f.Discount,
		Proposals:      f.Proposals,
		SupplierWins:   f.SupplierConcentration,
		RuleScore:      item.RuleScore,
		ModelScore:     item.ModelScore,
		Composite:      item.Composite,
		ModelAvailable: item.HasModelScore(),
		ModelName:      e.snap.Model.Name,
		ModelReason:    e.snap.Model.Reason,
		WModel:         weights.Model,
		WRules:         weights.Rules,
		Deviations:     e.Deviations(item),
	}
	for _, name := range item.Triggered {
		ex.Rules = append(ex.Rules, RuleLine{Name: name, Points: item.Contributions[name]})
	}
	return ex
}

// Deviations returns the largest robust deviations (value - median)/IQR of
// the snapshot features, by absolute value. Null values are imputed with
// the median; features without a positive IQR are skipped.
func (e *Explainer) Deviations(item ScoredItem) []Deviation {
	if e.top <= 0 {
		return nil
	}
	var out []Deviation
	for _, feature := range e.snap.FeaturesUsed {
		med, ok := e.snap.Median(feature)
		if !ok {
			continue
		}
		iqr, ok := e.snap.IQROf(feature)
		if !ok || iqr <= 0 {
			continue
		}
		v := item.Features.Value(feature)
		if baseline.IsNull(v) {
			v = med
		}
		score := (v - med) / iqr
		out = append(out, Deviation{
			Feature:   feature,
			Value:     v,
			Median:    med,
			IQR:       iqr,
			Score:     score,
			Direction: direction(score),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Score), math.Abs(out[j].Score)
		if ai != aj {
			return ai > aj
		}
		return out[i].Feature < out[j].Feature
	})
	if len(out) > e.top {
		out = out[:e.top]
	}
	return out
}

func direction(score float64) string {
	switch {
	case score > 0:
		return "above"
	case score < 0:
		return "below"
	}
	return "at"
}

var templateFuncs = template.FuncMap{
	"score":  formatScore,
	"money":  func(v float64) string { return formatFloat(v, 2) },
	"weight": func(v float64) string { return formatFloat(v, 2) },
	"count":  func(v float64) string { return formatFloat(v, 0) },
	"pct": func(v float64) string {
		if baseline.IsNull(v) {
			return "n/a"
		}
		return fmt.Sprintf("%.1f%%", v*100)
	},
	"signed": func(v float64) string {
		if baseline.IsNull(v) {
			return "n/a"
		}
		return fmt.Sprintf("%+.2f", v)
	},
}

// formatScore renders a score with one decimal, the display precision of
// every score.
func formatScore(v float64) string {
	return formatFloat(v, 1)
}

func formatFloat(v float64, decimals int) string {
	if baseline.IsNull(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.*f", decimals, v)
}
