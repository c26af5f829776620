package config

// Application constants
const (
	AppName    = "tenderscope"
	AppVersion = "0.4.0"

	// DefaultFlagThreshold is the composite score from which a process
	// counts as flagged when no external flag list is supplied.
	DefaultFlagThreshold = 60.0

	// SnapshotFilePrefix names persisted snapshot files
	// (modelmeta-<run id>.json).
	SnapshotFilePrefix = "modelmeta-"
)
