// Package snapshot persists the baseline snapshot of every scoring run so
// explanations can be rendered later against the exact statistics the run
// used.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"tenderscope/internal/baseline"
	"tenderscope/internal/config"
	apperrors "tenderscope/internal/errors"
)

// Store saves and loads run snapshots. Implementations are safe for
// concurrent use.
type Store interface {
	Save(ctx context.Context, snap *baseline.Snapshot) error
	Load(ctx context.Context, runID string) (*baseline.Snapshot, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, runID string) error
	Close() error
}

// Summary describes a stored snapshot without its statistics.
type Summary struct {
	RunID     string    `json:"run_id"`
	BaseTable string    `json:"base_table"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

func summarize(s *baseline.Snapshot) Summary {
	return Summary{
		RunID:     s.RunID,
		BaseTable: s.BaseTable,
		Model:     s.Model.Name,
		CreatedAt: s.CreatedAt,
	}
}

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// validRunID rejects ids that could escape the snapshot directory.
func validRunID(runID string) error {
	if !runIDPattern.MatchString(runID) {
		return apperrors.NewStageError(apperrors.ErrTypeValidation, apperrors.StageSnapshot,
			fmt.Sprintf("invalid run id %q", runID), nil)
	}
	return nil
}

func validSnapshot(snap *baseline.Snapshot) error {
	if snap == nil {
		return apperrors.NewStageError(apperrors.ErrTypeValidation, apperrors.StageSnapshot, "snapshot is nil", nil)
	}
	return validRunID(snap.RunID)
}

func notFound(runID string) error {
	return apperrors.NewNotFoundError("snapshot").WithContext("run_id", runID)
}

// Open builds the store selected by cfg. File snapshots live in
// paths.SnapshotDir.
func Open(cfg config.SnapshotConfig, paths config.PathsConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(paths, logger)
	case "sql":
		return NewSQLStore(cfg.DSN, logger)
	}
	return nil, apperrors.NewConfigError(fmt.Sprintf("unknown snapshot backend %q", cfg.Backend), nil)
}
