package outlier

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const eulerGamma = 0.5772156649

// IsolationForestConfig holds isolation forest hyper-parameters.
type IsolationForestConfig struct {
	Trees      int   `json:"trees" yaml:"trees" envconfig:"TREES" validate:"gte=1"`
	SampleSize int   `json:"sample_size" yaml:"sample_size" envconfig:"SAMPLE_SIZE" validate:"gte=2"`
	Seed       int64 `json:"seed" yaml:"seed" envconfig:"SEED"`
	// Workers bounds concurrent tree fitting; 0 uses GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers" envconfig:"WORKERS" validate:"gte=0"`
}

// DefaultIsolationForestConfig returns 300 trees of 256 samples, seed 42.
func DefaultIsolationForestConfig() IsolationForestConfig {
	return IsolationForestConfig{Trees: 300, SampleSize: 256, Seed: 42}
}

// IsolationForest scores rows by the average path length needed to isolate
// them in random partitioning trees; shorter paths are more anomalous.
type IsolationForest struct {
	cfg           IsolationForestConfig
	contamination float64
	logger        *slog.Logger
}

// NewIsolationForest validates cfg and creates the detector. A contamination
// of 0 selects the automatic value.
func NewIsolationForest(cfg IsolationForestConfig, contamination float64, logger *slog.Logger) (*IsolationForest, error) {
	if cfg.Trees < 1 {
		return nil, fmt.Errorf("%w: trees must be positive, got %d", ErrInvalidParams, cfg.Trees)
	}
	if cfg.SampleSize < 2 {
		return nil, fmt.Errorf("%w: sample size must be at least 2, got %d", ErrInvalidParams, cfg.SampleSize)
	}
	if err := validateContamination(contamination); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IsolationForest{cfg: cfg, contamination: contamination, logger: logger}, nil
}

// Name returns the model name.
func (f *IsolationForest) Name() string { return ModelIsolationForest }

// Params returns the hyper-parameters for the snapshot.
func (f *IsolationForest) Params() map[string]float64 {
	return map[string]float64{
		"trees":         float64(f.cfg.Trees),
		"sample_size":   float64(f.cfg.SampleSize),
		"seed":          float64(f.cfg.Seed),
		"contamination": f.contamination,
	}
}

type itreeNode struct {
	feature     int
	split       float64
	size        int
	left, right *itreeNode
}

// Score fits the forest on m and scores every row of m. Trees are fitted
// concurrently; tree t draws from its own source seeded with Seed+t so the
// result does not depend on scheduling.
func (f *IsolationForest) Score(ctx context.Context, m *Matrix) (*Scores, error) {
	if err := degenerate(f.Name(), m); err != nil {
		return nil, err
	}

	n := m.Rows()
	psi := f.cfg.SampleSize
	if psi > n {
		psi = n
	}
	limit := int(math.Ceil(math.Log2(float64(psi))))

	workers := f.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]*itreeNode, f.cfg.Trees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for t := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(f.cfg.Seed + int64(t)))
			sample := rng.Perm(n)[:psi]
			trees[t] = buildITree(m.Data, sample, 0, limit, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fit isolation forest: %w", err)
	}

	norm := averagePathLength(psi)
	raw := make([]float64, n)
	for i, x := range m.Data {
		var total float64
		for _, tree := range trees {
			total += pathLength(tree, x, 0)
		}
		mean := total / float64(len(trees))
		raw[i] = math.Pow(2, -mean/norm)
	}

	scores := finalize(f.Name(), m, raw, f.contamination)
	f.logger.DebugContext(ctx, "isolation forest scored",
		"rows", n,
		"trees", len(trees),
		"sample_size", psi,
		"threshold", scores.Threshold)
	return scores, nil
}

func buildITree(data [][]float64, idx []int, depth, limit int, rng *rand.Rand) *itreeNode {
	node := &itreeNode{size: len(idx)}
	if depth >= limit || len(idx) <= 1 {
		return node
	}

	d := len(data[idx[0]])
	var candidates []int
	lo := make([]float64, d)
	hi := make([]float64, d)
	for j := 0; j < d; j++ {
		lo[j], hi[j] = math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			lo[j] = math.Min(lo[j], data[i][j])
			hi[j] = math.Max(hi[j], data[i][j])
		}
		if hi[j] > lo[j] {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return node
	}

	feature := candidates[rng.Intn(len(candidates))]
	split := lo[feature] + rng.Float64()*(hi[feature]-lo[feature])

	var left, right []int
	for _, i := range idx {
		if data[i][feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	node.feature = feature
	node.split = split
	node.left = buildITree(data, left, depth+1, limit, rng)
	node.right = buildITree(data, right, depth+1, limit, rng)
	return node
}

func pathLength(node *itreeNode, x []float64, depth int) float64 {
	if node.left == nil {
		return float64(depth) + averagePathLength(node.size)
	}
	if x[node.feature] < node.split {
		return pathLength(node.left, x, depth+1)
	}
	return pathLength(node.right, x, depth+1)
}

// averagePathLength is the expected path length of an unsuccessful search
// in a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
