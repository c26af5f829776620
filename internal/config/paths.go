package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir     string `yaml:"data_dir" envconfig:"DATA_DIR"`
	SnapshotDir string `yaml:"snapshot_dir" envconfig:"SNAPSHOT_DIR"`
	OutputDir   string `yaml:"output_dir" envconfig:"OUTPUT_DIR"`
	LogsDir     string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// Resolve returns a copy with every relative path joined onto base.
// Absolute paths are kept as they are.
func (p PathsConfig) Resolve(base string) PathsConfig {
	abs := func(path string) string {
		if path == "" || filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(base, path)
	}
	return PathsConfig{
		DataDir:     abs(p.DataDir),
		SnapshotDir: abs(p.SnapshotDir),
		OutputDir:   abs(p.OutputDir),
		LogsDir:     abs(p.LogsDir),
	}
}

// EnsureDirectories creates every configured directory
func (p PathsConfig) EnsureDirectories() error {
	for _, dir := range []string{p.DataDir, p.SnapshotDir, p.OutputDir, p.LogsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SnapshotPath returns the file a FileStore uses for runID.
func (p PathsConfig) SnapshotPath(runID string) string {
	return filepath.Join(p.SnapshotDir, SnapshotFilePrefix+runID+".json")
}

// OutputPath returns filename inside the output directory.
func (p PathsConfig) OutputPath(filename string) string {
	return filepath.Join(p.OutputDir, filename)
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
