package outlier

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// lrdEpsilon keeps local reachability density finite for duplicate points.
const lrdEpsilon = 1e-10

// LOFConfig holds local outlier factor hyper-parameters.
type LOFConfig struct {
	Neighbors int `json:"neighbors" yaml:"neighbors" envconfig:"NEIGHBORS" validate:"gte=1"`
}

// DefaultLOFConfig returns a 20-neighbor configuration.
func DefaultLOFConfig() LOFConfig {
	return LOFConfig{Neighbors: 20}
}

// LOF scores rows by the ratio of their neighbors' local density to their
// own. Distances are Euclidean on the standardized matrix and computed
// exhaustively, O(n²) in the row count.
type LOF struct {
	cfg           LOFConfig
	contamination float64
	logger        *slog.Logger
}

// NewLOF validates cfg and creates the detector.
func NewLOF(cfg LOFConfig, contamination float64, logger *slog.Logger) (*LOF, error) {
	if cfg.Neighbors < 1 {
		return nil, fmt.Errorf("%w: neighbors must be positive, got %d", ErrInvalidParams, cfg.Neighbors)
	}
	if err := validateContamination(contamination); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LOF{cfg: cfg, contamination: contamination, logger: logger}, nil
}

// Name returns the model name.
func (l *LOF) Name() string { return ModelLOF }

// Params returns the hyper-parameters for the snapshot.
func (l *LOF) Params() map[string]float64 {
	return map[string]float64{
		"neighbors":     float64(l.cfg.Neighbors),
		"contamination": l.contamination,
	}
}

type neighbor struct {
	index int
	dist  float64
}

// Score computes the local outlier factor of every row. The neighborhood is
// capped at n-1 rows.
func (l *LOF) Score(ctx context.Context, m *Matrix) (*Scores, error) {
	if err := degenerate(l.Name(), m); err != nil {
		return nil, err
	}

	n := m.Rows()
	k := l.cfg.Neighbors
	if k > n-1 {
		k = n - 1
	}

	knn := make([][]neighbor, n)
	kdist := make([]float64, n)
	for i := 0; i < n; i++ {
		all := make([]neighbor, 0, n-1)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			all = append(all, neighbor{index: j, dist: floats.Distance(m.Data[i], m.Data[j], 2)})
		}
		sort.SliceStable(all, func(a, b int) bool { return all[a].dist < all[b].dist })
		knn[i] = all[:k]
		kdist[i] = all[k-1].dist
	}

	lrd := make([]float64, n)
	for i := 0; i < n; i++ {
		var reach float64
		for _, nb := range knn[i] {
			if kdist[nb.index] > nb.dist {
				reach += kdist[nb.index]
			} else {
				reach += nb.dist
			}
		}
		lrd[i] = 1 / (reach/float64(k) + lrdEpsilon)
	}

	raw := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for _, nb := range knn[i] {
			sum += lrd[nb.index]
		}
		raw[i] = sum / float64(k) / lrd[i]
	}

	scores := finalize(l.Name(), m, raw, l.contamination)
	l.logger.DebugContext(ctx, "lof scored", "rows", n, "neighbors", k, "threshold", scores.Threshold)
	return scores, nil
}
