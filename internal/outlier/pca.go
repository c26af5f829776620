package outlier

import (
	"context"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCAConfig holds reconstruction-error model hyper-parameters.
type PCAConfig struct {
	Components int `json:"components" yaml:"components" envconfig:"COMPONENTS" validate:"gte=1"`
}

// DefaultPCAConfig keeps three principal components.
func DefaultPCAConfig() PCAConfig {
	return PCAConfig{Components: 3}
}

// PCA scores rows by the squared residual after projecting onto the leading
// principal components and reconstructing.
type PCA struct {
	cfg           PCAConfig
	contamination float64
	logger        *slog.Logger
}

// NewPCA validates cfg and creates the detector.
func NewPCA(cfg PCAConfig, contamination float64, logger *slog.Logger) (*PCA, error) {
	if cfg.Components < 1 {
		return nil, fmt.Errorf("%w: components must be positive, got %d", ErrInvalidParams, cfg.Components)
	}
	if err := validateContamination(contamination); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PCA{cfg: cfg, contamination: contamination, logger: logger}, nil
}

// Name returns the model name.
func (p *PCA) Name() string { return ModelPCA }

// Params returns the hyper-parameters for the snapshot.
func (p *PCA) Params() map[string]float64 {
	return map[string]float64{
		"components":    float64(p.cfg.Components),
		"contamination": p.contamination,
	}
}

// Score projects m onto min(Components, available) components and scores
// each row by its squared reconstruction error.
func (p *PCA) Score(ctx context.Context, m *Matrix) (*Scores, error) {
	if err := degenerate(p.Name(), m); err != nil {
		return nil, err
	}

	n, d := m.Rows(), m.Cols()
	x := mat.NewDense(n, d, nil)
	for i, row := range m.Data {
		x.SetRow(i, row)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, fmt.Errorf("pca decomposition failed: %w", ErrDegenerateMatrix)
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	_, avail := vecs.Dims()
	k := p.cfg.Components
	if k > avail {
		k = avail
	}
	basis := vecs.Slice(0, d, 0, k)

	centered := mat.NewDense(n, d, nil)
	for j := 0; j < d; j++ {
		mean := stat.Mean(m.column(j), nil)
		for i := 0; i < n; i++ {
			centered.Set(i, j, m.Data[i][j]-mean)
		}
	}

	var proj, recon mat.Dense
	proj.Mul(centered, basis)
	recon.Mul(&proj, basis.T())

	raw := make([]float64, n)
	for i := 0; i < n; i++ {
		var sq float64
		for j := 0; j < d; j++ {
			r := centered.At(i, j) - recon.At(i, j)
			sq += r * r
		}
		raw[i] = sq
	}

	scores := finalize(p.Name(), m, raw, p.contamination)
	p.logger.DebugContext(ctx, "pca scored", "rows", n, "components", k, "threshold", scores.Threshold)
	return scores, nil
}
