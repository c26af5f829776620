package services

import "errors"

// Scoring service errors
var (
	// ErrUnsupportedFormat is returned for uploads that are neither CSV nor XLSX.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrNoSnapshotStore is returned when explanations need a persisted
	// snapshot but no store is configured.
	ErrNoSnapshotStore = errors.New("snapshot store not configured")
)
