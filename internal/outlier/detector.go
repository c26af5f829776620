// Package outlier scores items with interchangeable unsupervised anomaly
// models. Every model maps a standardized feature matrix to per-row scores
// in [0,100], higher meaning more anomalous, keyed by RowID.
package outlier

import (
	"context"
	"errors"
	"fmt"
	"math"
)

const (
	ModelIsolationForest = "isolation_forest"
	ModelLOF             = "lof"
	ModelPCA             = "pca"
	ModelEnsemble        = "ensemble"
)

// DefaultContamination applies when contamination is automatic and the
// dataset has at least smallDatasetRows rows.
const DefaultContamination = 0.05

const smallDatasetRows = 100

var (
	// ErrDegenerateMatrix is returned when the matrix has fewer than two rows
	// or no varying column.
	ErrDegenerateMatrix = errors.New("degenerate feature matrix")
	// ErrUnknownModel is returned by New for an unsupported model name.
	ErrUnknownModel = errors.New("unknown outlier model")
	// ErrInvalidParams is returned for out-of-range hyper-parameters.
	ErrInvalidParams = errors.New("invalid model parameters")
	// ErrTooFewMembers is returned by an ensemble left with fewer than two
	// scoring members.
	ErrTooFewMembers = errors.New("too few ensemble members scored")
)

// Detector produces per-row anomaly scores from a prepared matrix.
type Detector interface {
	Name() string
	Params() map[string]float64
	Score(ctx context.Context, m *Matrix) (*Scores, error)
}

// Scores is the output of one detector. Values and Anomalous are keyed by
// RowID and carry no positional meaning.
type Scores struct {
	Model         string
	Values        map[int]float64
	Anomalous     map[int]bool
	Contamination float64
	Threshold     float64
}

// Len returns the number of scored rows.
func (s *Scores) Len() int { return len(s.Values) }

// AnomalyCount returns how many rows are labelled anomalous.
func (s *Scores) AnomalyCount() int {
	var n int
	for _, a := range s.Anomalous {
		if a {
			n++
		}
	}
	return n
}

// AutoContamination returns the expected anomaly fraction for n rows:
// max(0.02, min(0.15, 10/max(20,n))) below 100 rows, DefaultContamination
// otherwise.
func AutoContamination(n int) float64 {
	if n >= smallDatasetRows {
		return DefaultContamination
	}
	return math.Max(0.02, math.Min(0.15, 10/math.Max(20, float64(n))))
}

// resolveContamination returns the configured value, or the automatic one
// when configured is 0.
func resolveContamination(configured float64, n int) float64 {
	if configured > 0 {
		return configured
	}
	return AutoContamination(n)
}

func validateContamination(c float64) error {
	if math.IsNaN(c) || c < 0 || c >= 0.5 {
		return fmt.Errorf("%w: contamination %v must be in [0, 0.5)", ErrInvalidParams, c)
	}
	return nil
}

// finalize min-max normalizes raw scores (higher = more anomalous) and
// labels rows at or above the contamination quantile.
func finalize(model string, m *Matrix, raw []float64, contamination float64) *Scores {
	return label(model, m.RowIDs, MinMax(raw), resolveContamination(contamination, len(raw)))
}

func label(model string, rowIDs []int, values []float64, contamination float64) *Scores {
	s := &Scores{
		Model:         model,
		Values:        make(map[int]float64, len(values)),
		Anomalous:     make(map[int]bool, len(values)),
		Contamination: contamination,
		Threshold:     Threshold(values, contamination),
	}
	for i, id := range rowIDs {
		s.Values[id] = values[i]
		s.Anomalous[id] = values[i] >= s.Threshold
	}
	return s
}

func degenerate(model string, m *Matrix) error {
	if m.Degenerate() {
		return fmt.Errorf("%s on %d rows: %w", model, m.Rows(), ErrDegenerateMatrix)
	}
	return nil
}
