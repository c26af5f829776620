package http

import (
	"context"
	"io"

	"tenderscope/internal/association"
	"tenderscope/internal/baseline"
	"tenderscope/internal/pipeline"
	"tenderscope/internal/scoring"
	"tenderscope/internal/services"
	"tenderscope/internal/table"
)

// ScoringServiceInterface defines the scoring operations the handlers use
type ScoringServiceInterface interface {
	Score(ctx context.Context, t *table.Table) (*services.Run, error)
	ScoreReader(ctx context.Context, r io.Reader, filename string) (*services.Run, error)
	GetRun(ctx context.Context, runID string) (*services.Run, error)
	ListRuns(ctx context.Context) []services.RunSummary
	DeleteRun(ctx context.Context, runID string) error

	Items(ctx context.Context, runID string, top int) ([]scoring.ScoredItem, error)
	Item(ctx context.Context, runID string, rowID int) (scoring.ScoredItem, error)
	Snapshot(ctx context.Context, runID string) (*baseline.Snapshot, error)
	Explain(ctx context.Context, runID string, rowID int) (string, error)
	ExplainData(ctx context.Context, runID string, rowID int) (scoring.Explanation, error)

	Associations(ctx context.Context, runID string, flagger pipeline.Flagger) (*association.Result, error)
	Suppliers(ctx context.Context, runID string, top int) ([]table.SupplierWins, error)
}

var _ ScoringServiceInterface = (*services.ScoringService)(nil)
