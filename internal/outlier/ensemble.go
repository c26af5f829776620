package outlier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Ensemble averages the normalized scores of its members. A member that
// fails is left out of the average; the ensemble fails when fewer than two
// members score.
type Ensemble struct {
	members       []Detector
	contamination float64
	logger        *slog.Logger
}

// NewEnsemble composes at least two detectors.
func NewEnsemble(members []Detector, contamination float64, logger *slog.Logger) (*Ensemble, error) {
	if len(members) < 2 {
		return nil, fmt.Errorf("%w: ensemble needs at least two members, got %d", ErrInvalidParams, len(members))
	}
	if err := validateContamination(contamination); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ensemble{members: members, contamination: contamination, logger: logger}, nil
}

// Name returns the model name.
func (e *Ensemble) Name() string { return ModelEnsemble }

// Params reports member parameters prefixed by member name.
func (e *Ensemble) Params() map[string]float64 {
	out := map[string]float64{
		"members":       float64(len(e.members)),
		"contamination": e.contamination,
	}
	for _, mem := range e.members {
		for k, v := range mem.Params() {
			out[mem.Name()+"."+k] = v
		}
	}
	return out
}

// Members returns the member model names.
func (e *Ensemble) Members() []string {
	names := make([]string, len(e.members))
	for i, mem := range e.members {
		names[i] = mem.Name()
	}
	return names
}

// Score runs every member concurrently and averages their scores per row.
func (e *Ensemble) Score(ctx context.Context, m *Matrix) (*Scores, error) {
	results := make([]*Scores, len(e.members))
	errs := make([]error, len(e.members))

	var g errgroup.Group
	for i, mem := range e.members {
		g.Go(func() error {
			results[i], errs[i] = mem.Score(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	var ok []*Scores
	var failed []error
	for i, r := range results {
		if errs[i] != nil {
			e.logger.WarnContext(ctx, "ensemble member failed",
				"member", e.members[i].Name(),
				"error", errs[i])
			failed = append(failed, fmt.Errorf("%s: %w", e.members[i].Name(), errs[i]))
			continue
		}
		ok = append(ok, r)
	}
	if len(ok) == 0 {
		return nil, fmt.Errorf("every ensemble member failed: %w", errors.Join(failed...))
	}
	if len(ok) < 2 {
		return nil, fmt.Errorf("%w: %d of %d, %w", ErrTooFewMembers, len(ok), len(e.members), errors.Join(failed...))
	}

	values := make([]float64, m.Rows())
	for i, id := range m.RowIDs {
		var sum float64
		for _, r := range ok {
			sum += r.Values[id]
		}
		values[i] = sum / float64(len(ok))
	}

	scores := label(e.Name(), m.RowIDs, values, resolveContamination(e.contamination, m.Rows()))
	e.logger.DebugContext(ctx, "ensemble scored", "members", len(ok), "failed", len(failed))
	return scores, nil
}

