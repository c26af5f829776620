// Package rules evaluates the weighted deterministic anomaly rules.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tenderscope/internal/baseline"
)

// ErrInvalidWeights is returned for negative weights or a non-positive sum.
var ErrInvalidWeights = errors.New("invalid rule weights")

// ErrInvalidThresholds is returned for NaN or negative rule thresholds.
var ErrInvalidThresholds = errors.New("invalid rule thresholds")

// Flag is the outcome of one rule for one item.
type Flag struct {
	Rule      string  `json:"rule"`
	Triggered bool    `json:"triggered"`
	Weight    float64 `json:"weight"`
	// Points is the rule's contribution to the 0-100 rule score.
	Points float64 `json:"points"`
}

// FlagSet holds every rule outcome for one item plus its rule score.
type FlagSet struct {
	RowID int     `json:"row_id"`
	Flags []Flag  `json:"flags"`
	Score float64 `json:"score"`
}

// Triggered returns the names of triggered rules in evaluation order.
func (f FlagSet) Triggered() []string {
	var out []string
	for _, fl := range f.Flags {
		if fl.Triggered {
			out = append(out, fl.Rule)
		}
	}
	return out
}

// Contributions maps each triggered rule to its points.
func (f FlagSet) Contributions() map[string]float64 {
	out := make(map[string]float64)
	for _, fl := range f.Flags {
		if fl.Triggered {
			out[fl.Rule] = fl.Points
		}
	}
	return out
}

// Engine evaluates rules against baseline features. It never fails on
// missing data; each rule has a fixed null policy.
type Engine struct {
	weights    Weights
	thresholds Thresholds
	logger     *slog.Logger
}

// NewEngine validates the weights and creates an Engine.
func NewEngine(weights Weights, thresholds Thresholds, logger *slog.Logger) (*Engine, error) {
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("create rule engine: %w", err)
	}
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("create rule engine: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		weights:    weights,
		thresholds: thresholds,
		logger:     logger.With("component", "rules"),
	}, nil
}

// Weights returns the engine weights.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Evaluate flags every row. The supplier-concentration rule compares each
// row against the median of the non-null concentrations of rows.
func (e *Engine) Evaluate(ctx context.Context, rows []baseline.Row) []FlagSet {
	conc := make([]float64, len(rows))
	for i, r := range rows {
		conc[i] = r.SupplierConcentration
	}
	concMedian := baseline.Median(conc)

	out := make([]FlagSet, len(rows))
	triggered := make(map[string]int, len(Names))
	for i, r := range rows {
		fired := e.conditions(r, concMedian)
		out[i] = e.score(r.RowID, fired)
		for _, name := range out[i].Triggered() {
			triggered[name]++
		}
	}

	e.logger.InfoContext(ctx, "rules evaluated",
		"rows", len(rows),
		"concentration_median", concMedian,
		"triggered", triggered)
	return out
}

// Score computes the flag set for an explicit set of triggered rules.
func (e *Engine) Score(rowID int, triggered map[string]bool) FlagSet {
	return e.score(rowID, triggered)
}

func (e *Engine) conditions(r baseline.Row, concMedian float64) map[string]bool {
	th := e.thresholds

	// Null comparisons are false, so a null deviation never triggers.
	price := r.IQRScore > th.IQRScore || r.ZPrice > th.ZPrice

	proposals := r.Proposals
	if baseline.IsNull(proposals) {
		proposals = th.MissingProposals
	}

	discount := r.Discount
	if baseline.IsNull(discount) {
		discount = th.MissingDiscount
	}

	conc := r.SupplierConcentration
	if baseline.IsNull(conc) {
		conc = 0
	}

	return map[string]bool{
		RulePriceAboveGroupNorm:   price,
		RuleLowCompetition:        proposals <= th.MaxProposals,
		RuleNegligibleDiscount:    discount < th.MinDiscount,
		RuleSupplierConcentration: conc > concMedian,
	}
}

func (e *Engine) score(rowID int, triggered map[string]bool) FlagSet {
	sum := e.weights.Sum()
	fs := FlagSet{RowID: rowID, Flags: make([]Flag, len(Names))}
	var hit float64
	for i, name := range Names {
		w := e.weights.Of(name)
		fl := Flag{Rule: name, Weight: w, Triggered: triggered[name]}
		if fl.Triggered {
			fl.Points = 100 * w / sum
			hit += w
		}
		fs.Flags[i] = fl
	}
	fs.Score = 100 * hit / sum
	return fs
}
