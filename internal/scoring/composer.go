// Package scoring composes rule and model sub-scores into a ranked table
// and renders on-demand explanations against a baseline snapshot.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"tenderscope/internal/baseline"
	apperrors "tenderscope/internal/errors"
	"tenderscope/internal/outlier"
	"tenderscope/internal/rules"
	"tenderscope/internal/table"
)

// ErrInvalidWeights is returned for negative or non-finite composite weights.
var ErrInvalidWeights = errors.New("invalid composite weights")

// Default composite weights.
const (
	DefaultModelWeight = 0.6
	DefaultRulesWeight = 0.4
)

// ScoredItem is the anomaly record of one item. ModelScore and Composite
// are NaN when the model was unavailable for the run.
type ScoredItem struct {
	RowID       int
	ProcessID   string
	Description string
	SupplierID  string
	Features    baseline.Row

	RuleScore     float64
	ModelScore    float64
	Composite     float64
	Triggered     []string
	Contributions map[string]float64
	Anomalous     bool
	Rank          int
}

// HasModelScore reports whether the model scored this item.
func (s ScoredItem) HasModelScore() bool {
	return !baseline.IsNull(s.ModelScore)
}

// HasComposite reports whether a composite score exists.
func (s ScoredItem) HasComposite() bool {
	return !baseline.IsNull(s.Composite)
}

// DefaultWeights returns the 0.6/0.4 model/rules multipliers.
func DefaultWeights() baseline.CompositeWeights {
	return baseline.CompositeWeights{Model: DefaultModelWeight, Rules: DefaultRulesWeight}
}

// ValidateWeights checks composite weights. They are literal multipliers
// and need not sum to 1.
func ValidateWeights(w baseline.CompositeWeights) error {
	check := func(name string, v float64) error {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s weight is %v", ErrInvalidWeights, name, v)
		}
		return nil
	}
	if err := check("model", w.Model); err != nil {
		return err
	}
	return check("rules", w.Rules)
}

// Composer joins rule flags and model scores by RowID.
type Composer struct {
	weights baseline.CompositeWeights
	logger  *slog.Logger
}

// NewComposer creates a Composer with validated weights.
func NewComposer(weights baseline.CompositeWeights, logger *slog.Logger) (*Composer, error) {
	if err := ValidateWeights(weights); err != nil {
		return nil, fmt.Errorf("create composer: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		weights: weights,
		logger:  logger.With("component", "composer"),
	}, nil
}

// Weights returns the composer weights.
func (c *Composer) Weights() baseline.CompositeWeights {
	return c.weights
}

// Composite returns w_model*model + w_rules*rules, or NaN without a model score.
func (c *Composer) Composite(model, rule float64) float64 {
	if baseline.IsNull(model) {
		return math.NaN()
	}
	return c.weights.Model*model + c.weights.Rules*rule
}

// Compose builds the ranked scored table. scores may be nil when the
// model was unavailable; every row must have a rule flag set.
func (c *Composer) Compose(ctx context.Context, t *table.Table, rows []baseline.Row, flags []rules.FlagSet, scores *outlier.Scores) ([]ScoredItem, error) {
	byFlag := make(map[int]rules.FlagSet, len(flags))
	for _, f := range flags {
		byFlag[f.RowID] = f
	}
	var items map[int]table.Item
	if t != nil {
		items = t.ByRowID()
	}

	out := make([]ScoredItem, 0, len(rows))
	missingModel := 0
	for _, r := range rows {
		fs, ok := byFlag[r.RowID]
		if !ok {
			return nil, apperrors.NewStageError(apperrors.ErrTypeValidation, apperrors.StageCompose,
				fmt.Sprintf("no rule flags for row %d", r.RowID), nil)
		}

		model := math.NaN()
		anomalous := false
		if scores != nil {
			if v, ok := scores.Values[r.RowID]; ok {
				model = v
				anomalous = scores.Anomalous[r.RowID]
			} else {
				missingModel++
			}
		}

		s := ScoredItem{
			RowID:         r.RowID,
			Features:      r,
			RuleScore:     fs.Score,
			ModelScore:    model,
			Composite:     c.Composite(model, fs.Score),
			Triggered:     fs.Triggered(),
			Contributions: fs.Contributions(),
			Anomalous:     anomalous,
		}
		if it, ok := items[r.RowID]; ok {
			s.ProcessID = it.ProcessID
			s.Description = it.Description
			s.SupplierID = it.SupplierID
		}
		out = append(out, s)
	}

	if missingModel > 0 {
		c.logger.WarnContext(ctx, "model scores missing for some rows", "rows", missingModel)
	}

	Rank(out)
	c.logger.DebugContext(ctx, "scores composed",
		"rows", len(out),
		"model_available", scores != nil,
		"w_model", c.weights.Model,
		"w_rules", c.weights.Rules,
	)
	return out, nil
}

// Rank sorts items in place and assigns 1-based ranks: non-null composites
// descending, then items without a composite by rule score descending,
// ties by RowID.
func Rank(items []ScoredItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.HasComposite() != b.HasComposite() {
			return a.HasComposite()
		}
		if a.HasComposite() && a.Composite != b.Composite {
			return a.Composite > b.Composite
		}
		if !a.HasComposite() && a.RuleScore != b.RuleScore {
			return a.RuleScore > b.RuleScore
		}
		return a.RowID < b.RowID
	})
	for i := range items {
		items[i].Rank = i + 1
	}
}

// Top returns the first n ranked items, or all of them when n <= 0.
func Top(items []ScoredItem, n int) []ScoredItem {
	if n <= 0 || n >= len(items) {
		return items
	}
	return items[:n]
}

// Find returns the item with the given RowID.
func Find(items []ScoredItem, rowID int) (ScoredItem, bool) {
	for _, it := range items {
		if it.RowID == rowID {
			return it, true
		}
	}
	return ScoredItem{}, false
}
