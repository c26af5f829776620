package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"tenderscope/internal/baseline"
	"tenderscope/internal/config"
	apperrors "tenderscope/internal/errors"
)

// FileStore keeps one JSON document per run in a directory.
type FileStore struct {
	paths  config.PathsConfig
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewFileStore creates the snapshot directory if needed.
func NewFileStore(paths config.PathsConfig, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if paths.SnapshotDir == "" {
		return nil, apperrors.NewConfigError("snapshot directory is not configured", nil)
	}
	if err := os.MkdirAll(paths.SnapshotDir, 0o755); err != nil {
		return nil, apperrors.NewStorageError("failed to create snapshot directory", err)
	}
	return &FileStore{paths: paths, logger: logger.With("component", "snapshot_file")}, nil
}

// Save writes the snapshot through a temp file so readers never see a
// partial document.
func (s *FileStore) Save(ctx context.Context, snap *baseline.Snapshot) error {
	if err := validSnapshot(snap); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return apperrors.NewStorageError("failed to marshal snapshot", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.paths.SnapshotPath(snap.RunID)
	tmp, err := os.CreateTemp(s.paths.SnapshotDir, ".snapshot-*")
	if err != nil {
		return apperrors.NewStorageError("failed to create snapshot file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.NewStorageError("failed to write snapshot file", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewStorageError("failed to write snapshot file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperrors.NewStorageError("failed to write snapshot file", err)
	}

	s.logger.DebugContext(ctx, "snapshot saved", "run_id", snap.RunID, "path", path)
	return nil
}

// Load reads the snapshot of runID.
func (s *FileStore) Load(ctx context.Context, runID string) (*baseline.Snapshot, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(s.paths.SnapshotPath(runID), runID)
}

func (s *FileStore) read(path, runID string) (*baseline.Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("failed to read snapshot file", err)
	}
	var snap baseline.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("corrupt snapshot file %s", filepath.Base(path)), err)
	}
	return &snap, nil
}

// List returns every stored snapshot, newest first. Unreadable files are
// skipped with a warning.
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.paths.SnapshotDir, config.SnapshotFilePrefix+"*.json"))
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list snapshots", err)
	}

	out := make([]Summary, 0, len(matches))
	for _, path := range matches {
		runID := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), config.SnapshotFilePrefix), ".json")
		snap, err := s.read(path, runID)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable snapshot", "path", path, "error", err)
			continue
		}
		out = append(out, summarize(snap))
	}
	sortSummaries(out)
	return out, nil
}

// Delete removes the snapshot of runID.
func (s *FileStore) Delete(ctx context.Context, runID string) error {
	if err := validRunID(runID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.paths.SnapshotPath(runID))
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(runID)
	}
	if err != nil {
		return apperrors.NewStorageError("failed to delete snapshot file", err)
	}
	s.logger.DebugContext(ctx, "snapshot deleted", "run_id", runID)
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func sortSummaries(out []Summary) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].RunID < out[j].RunID
	})
}
