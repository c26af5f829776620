package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"tenderscope/internal/association"
	"tenderscope/internal/baseline"
	apperrors "tenderscope/internal/errors"
	"tenderscope/internal/pipeline"
	"tenderscope/internal/scoring"
	"tenderscope/internal/snapshot"
	"tenderscope/internal/table"
)

// ScoringService runs the pipeline on uploaded tables and answers
// follow-up queries on the stored runs.
type ScoringService struct {
	pipeline *pipeline.Pipeline
	runs     *RunStore
	store    snapshot.Store
	loader   *table.Loader
	explain  []scoring.ExplainerOption
	now      func() time.Time
	logger   *slog.Logger
}

// NewScoringService creates a scoring service. store may be nil, in which
// case explanations use the in-memory snapshot of the run.
func NewScoringService(p *pipeline.Pipeline, runs *RunStore, store snapshot.Store, loader *table.Loader, logger *slog.Logger) *ScoringService {
	if logger == nil {
		logger = slog.Default()
	}
	if runs == nil {
		runs = NewRunStore(DefaultMaxRuns)
	}
	if loader == nil {
		loader = table.NewLoader(table.WithLogger(logger))
	}
	return &ScoringService{
		pipeline: p,
		runs:     runs,
		store:    store,
		loader:   loader,
		now:      time.Now,
		logger:   logger.With("service", "scoring"),
	}
}

// WithExplainerOptions sets the options of every explainer the service builds.
func (s *ScoringService) WithExplainerOptions(opts ...scoring.ExplainerOption) *ScoringService {
	s.explain = opts
	return s
}

// Score runs the pipeline on t, persists the snapshot and stores the run.
func (s *ScoringService) Score(ctx context.Context, t *table.Table) (*Run, error) {
	out, err := s.pipeline.Run(ctx, t)
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		if err := s.store.Save(ctx, out.Snapshot); err != nil {
			// the run stays usable with its in-memory snapshot
			s.logger.WarnContext(ctx, "failed to persist snapshot",
				"run_id", out.RunID,
				"error", err,
			)
		}
	}

	run := &Run{
		ID:        out.RunID,
		CreatedAt: s.now(),
		Table:     t,
		Output:    out,
	}
	for _, id := range s.runs.Put(run) {
		s.logger.DebugContext(ctx, "evicted run", "run_id", id)
	}
	return run, nil
}

// ScoreFile loads path and scores it.
func (s *ScoringService) ScoreFile(ctx context.Context, path string) (*Run, error) {
	t, err := s.loader.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.Score(ctx, t)
}

// ScoreReader reads an upload and scores it. The format follows the
// extension of filename; names without one are read as CSV.
func (s *ScoringService) ScoreReader(ctx context.Context, r io.Reader, filename string) (*Run, error) {
	var (
		t   *table.Table
		err error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt", "":
		t, err = s.loader.ReadCSV(ctx, r, filename)
	case ".xlsx", ".xlsm":
		t, err = s.loader.ReadXLSX(ctx, r, filename)
	default:
		return nil, apperrors.NewStageError(apperrors.ErrTypeInput, apperrors.StageIngest,
			fmt.Sprintf("cannot read %q", filename), ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}
	return s.Score(ctx, t)
}

// GetRun returns a stored run.
func (s *ScoringService) GetRun(ctx context.Context, runID string) (*Run, error) {
	return s.runs.Get(runID)
}

// ListRuns returns the stored runs, newest first.
func (s *ScoringService) ListRuns(ctx context.Context) []RunSummary {
	return s.runs.List()
}

// DeleteRun drops a run and its persisted snapshot.
func (s *ScoringService) DeleteRun(ctx context.Context, runID string) error {
	if err := s.runs.Delete(runID); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.Delete(ctx, runID); err != nil && !apperrors.IsType(err, apperrors.ErrTypeNotFound) {
			return fmt.Errorf("delete run %s: %w", runID, err)
		}
	}
	s.logger.InfoContext(ctx, "run deleted", "run_id", runID)
	return nil
}

// Items returns the ranked items of a run; top > 0 keeps only the first top.
func (s *ScoringService) Items(ctx context.Context, runID string, top int) ([]scoring.ScoredItem, error) {
	run, err := s.runs.Get(runID)
	if err != nil {
		return nil, err
	}
	if top > 0 {
		return scoring.Top(run.Output.Items, top), nil
	}
	return run.Output.Items, nil
}

// Item returns one scored item of a run.
func (s *ScoringService) Item(ctx context.Context, runID string, rowID int) (scoring.ScoredItem, error) {
	run, err := s.runs.Get(runID)
	if err != nil {
		return scoring.ScoredItem{}, err
	}
	item, ok := run.Output.Item(rowID)
	if !ok {
		return scoring.ScoredItem{}, apperrors.NewNotFoundError("item").
			WithContext("run_id", runID).
			WithContext("row_id", rowID)
	}
	return item, nil
}

// Snapshot returns the persisted snapshot of a run. Runs still in memory
// fall back to their own snapshot when the store has none.
func (s *ScoringService) Snapshot(ctx context.Context, runID string) (*baseline.Snapshot, error) {
	var storeErr error
	if s.store != nil {
		snap, err := s.store.Load(ctx, runID)
		if err == nil {
			return snap, nil
		}
		storeErr = err
	}
	run, err := s.runs.Get(runID)
	if err != nil {
		if storeErr != nil {
			return nil, storeErr
		}
		return nil, err
	}
	if storeErr != nil && !apperrors.IsType(storeErr, apperrors.ErrTypeNotFound) {
		s.logger.WarnContext(ctx, "snapshot store unavailable, using in-memory snapshot",
			"run_id", runID,
			"error", storeErr,
		)
	}
	return run.Output.Snapshot, nil
}

// Explain renders the explanation of one item against the run snapshot.
func (s *ScoringService) Explain(ctx context.Context, runID string, rowID int) (string, error) {
	explainer, item, err := s.explainer(ctx, runID, rowID)
	if err != nil {
		return "", err
	}
	text, err := explainer.Explain(item)
	if err != nil {
		return "", fmt.Errorf("explain row %d of run %s: %w", rowID, runID, err)
	}
	return text, nil
}

// ExplainData returns the structured explanation of one item.
func (s *ScoringService) ExplainData(ctx context.Context, runID string, rowID int) (scoring.Explanation, error) {
	explainer, item, err := s.explainer(ctx, runID, rowID)
	if err != nil {
		return scoring.Explanation{}, err
	}
	return explainer.Data(item), nil
}

func (s *ScoringService) explainer(ctx context.Context, runID string, rowID int) (*scoring.Explainer, scoring.ScoredItem, error) {
	item, err := s.Item(ctx, runID, rowID)
	if err != nil {
		return nil, scoring.ScoredItem{}, err
	}
	snap, err := s.Snapshot(ctx, runID)
	if err != nil {
		return nil, scoring.ScoredItem{}, err
	}
	explainer, err := scoring.NewExplainer(snap, s.explain...)
	if err != nil {
		return nil, scoring.ScoredItem{}, fmt.Errorf("build explainer: %w", err)
	}
	return explainer, item, nil
}

// ExplainStored renders explanations for items read back from a scored
// export, using the snapshot persisted under runID. It needs a store.
func (s *ScoringService) ExplainStored(ctx context.Context, runID string, items []scoring.ScoredItem) ([]string, error) {
	if s.store == nil {
		return nil, ErrNoSnapshotStore
	}
	snap, err := s.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	explainer, err := scoring.NewExplainer(snap, s.explain...)
	if err != nil {
		return nil, fmt.Errorf("build explainer: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		text, err := explainer.Explain(item)
		if err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, nil
}

// Suppliers returns the winning-supplier leaderboard of a run.
func (s *ScoringService) Suppliers(ctx context.Context, runID string, top int) ([]table.SupplierWins, error) {
	run, err := s.runs.Get(runID)
	if err != nil {
		return nil, err
	}
	return s.pipeline.Suppliers(ctx, run.Table, top), nil
}

// Associations mines association rules over the processes flagger selects
// in a run and keeps the result on the run.
func (s *ScoringService) Associations(ctx context.Context, runID string, flagger pipeline.Flagger) (*association.Result, error) {
	run, err := s.runs.Get(runID)
	if err != nil {
		return nil, err
	}
	res, err := s.pipeline.MineFlagged(ctx, run.Table, run.Output.Items, flagger)
	if err != nil {
		return nil, err
	}
	if err := s.runs.SetAssociations(runID, res); err != nil {
		// evicted while mining; the result is still valid
		s.logger.DebugContext(ctx, "run evicted before associations were stored", "run_id", runID)
	}
	s.logger.InfoContext(ctx, "association rules mined",
		"run_id", runID,
		"flagger", fmt.Sprint(flagger),
		"status", res.Status,
		"rules", len(res.Rules),
	)
	return res, nil
}
