package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"tenderscope/internal/baseline"
	apperrors "tenderscope/internal/errors"
)

// snapshotRecord is the table row of one snapshot. The snapshot itself is
// stored as a JSON document; the other columns serve listing.
type snapshotRecord struct {
	RunID     string    `gorm:"primaryKey;size:64"`
	BaseTable string    `gorm:"size:512"`
	Model     string    `gorm:"size:64"`
	CreatedAt time.Time `gorm:"index"`
	Payload   string    `gorm:"type:text;not null"`
}

// TableName implements gorm's tabler.
func (snapshotRecord) TableName() string { return "run_snapshots" }

// SQLStore keeps snapshots in a sqlite database through gorm.
type SQLStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewSQLStore opens (or creates) the sqlite database at dsn and migrates
// the snapshot table. ":memory:" gives a private in-memory database.
func NewSQLStore(dsn string, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dsn == "" {
		return nil, apperrors.NewConfigError("snapshot database dsn is empty", nil)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, apperrors.NewStorageError("failed to open snapshot database", err)
	}
	if dsn == ":memory:" {
		// each pooled connection would get its own empty database
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if err := db.AutoMigrate(&snapshotRecord{}); err != nil {
		return nil, apperrors.NewStorageError("failed to migrate snapshot table", err)
	}
	return NewSQLStoreFromDB(db, logger), nil
}

// NewSQLStoreFromDB wraps an open, migrated database.
func NewSQLStoreFromDB(db *gorm.DB, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, logger: logger.With("component", "snapshot_sql")}
}

// Save inserts the snapshot or replaces the stored one with the same run id.
func (s *SQLStore) Save(ctx context.Context, snap *baseline.Snapshot) error {
	if err := validSnapshot(snap); err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return apperrors.NewStorageError("failed to marshal snapshot", err)
	}
	rec := snapshotRecord{
		RunID:     snap.RunID,
		BaseTable: snap.BaseTable,
		Model:     snap.Model.Name,
		CreatedAt: snap.CreatedAt,
		Payload:   string(payload),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return apperrors.NewStorageError("failed to save snapshot", err)
	}
	s.logger.DebugContext(ctx, "snapshot saved", "run_id", snap.RunID)
	return nil
}

// Load reads the snapshot of runID.
func (s *SQLStore) Load(ctx context.Context, runID string) (*baseline.Snapshot, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	var rec snapshotRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("failed to load snapshot", err)
	}
	var snap baseline.Snapshot
	if err := json.Unmarshal([]byte(rec.Payload), &snap); err != nil {
		return nil, apperrors.NewStorageError("corrupt snapshot record", err)
	}
	return &snap, nil
}

// List returns every stored snapshot, newest first.
func (s *SQLStore) List(ctx context.Context) ([]Summary, error) {
	var recs []snapshotRecord
	err := s.db.WithContext(ctx).
		Select("run_id", "base_table", "model", "created_at").
		Order("created_at desc").Order("run_id").
		Find(&recs).Error
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list snapshots", err)
	}
	out := make([]Summary, len(recs))
	for i, r := range recs {
		out[i] = Summary{RunID: r.RunID, BaseTable: r.BaseTable, Model: r.Model, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

// Delete removes the snapshot of runID.
func (s *SQLStore) Delete(ctx context.Context, runID string) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Where("run_id = ?", runID).Delete(&snapshotRecord{})
	if res.Error != nil {
		return apperrors.NewStorageError("failed to delete snapshot", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(runID)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
