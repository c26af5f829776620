package outlier

import (
	"fmt"
	"log/slog"
)

// Config selects and parameterizes the outlier model.
type Config struct {
	// Model is one of isolation_forest, lof, pca or ensemble.
	Model string `json:"model" yaml:"model" envconfig:"MODEL" validate:"oneof=isolation_forest lof pca ensemble"`
	// Contamination is the expected anomaly fraction; 0 selects it
	// automatically from the row count.
	Contamination   float64               `json:"contamination" yaml:"contamination" envconfig:"CONTAMINATION" validate:"gte=0,lt=0.5"`
	IsolationForest IsolationForestConfig `json:"isolation_forest" yaml:"isolation_forest" envconfig:"IFOREST"`
	LOF             LOFConfig             `json:"lof" yaml:"lof" envconfig:"LOF"`
	PCA             PCAConfig             `json:"pca" yaml:"pca" envconfig:"PCA"`
	// Members lists the ensemble members.
	Members []string `json:"members" yaml:"members" envconfig:"MEMBERS"`
}

// DefaultConfig selects an isolation forest with automatic contamination.
func DefaultConfig() Config {
	return Config{
		Model:           ModelIsolationForest,
		IsolationForest: DefaultIsolationForestConfig(),
		LOF:             DefaultLOFConfig(),
		PCA:             DefaultPCAConfig(),
		Members:         []string{ModelIsolationForest, ModelLOF, ModelPCA},
	}
}

// New builds the detector named by cfg.Model.
func New(cfg Config, logger *slog.Logger) (Detector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "outlier")

	switch cfg.Model {
	case ModelIsolationForest, ModelLOF, ModelPCA:
		return single(cfg.Model, cfg, logger)
	case ModelEnsemble:
		members := make([]Detector, 0, len(cfg.Members))
		for _, name := range cfg.Members {
			if name == ModelEnsemble {
				return nil, fmt.Errorf("%w: ensemble cannot contain itself", ErrInvalidParams)
			}
			d, err := single(name, cfg, logger)
			if err != nil {
				return nil, err
			}
			members = append(members, d)
		}
		ens, err := NewEnsemble(members, cfg.Contamination, logger)
		if err != nil {
			return nil, fmt.Errorf("create ensemble: %w", err)
		}
		return ens, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, cfg.Model)
}

func single(name string, cfg Config, logger *slog.Logger) (Detector, error) {
	var (
		d   Detector
		err error
	)
	switch name {
	case ModelIsolationForest:
		d, err = NewIsolationForest(cfg.IsolationForest, cfg.Contamination, logger)
	case ModelLOF:
		d, err = NewLOF(cfg.LOF, cfg.Contamination, logger)
	case ModelPCA:
		d, err = NewPCA(cfg.PCA, cfg.Contamination, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	return d, nil
}
