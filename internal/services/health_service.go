package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"tenderscope/internal/config"
	"tenderscope/internal/snapshot"
)

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	paths     config.PathsConfig
	store     snapshot.Store
	runs      *RunStore
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const (
	statusReady    = "ready"
	statusNotReady = "not_ready"
)

// NewHealthService creates a new health service. store and runs may be nil.
func NewHealthService(version, buildTime string, paths config.PathsConfig, store snapshot.Store, runs *RunStore, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("component", "health")
	logger.Debug("health service initialized",
		slog.String("version", version),
		slog.String("build_time", buildTime))

	return &HealthService{
		version:   version,
		buildTime: buildTime,
		paths:     paths,
		store:     store,
		runs:      runs,
		startTime: time.Now(),
		logger:    logger,
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.DebugContext(ctx, "health check",
		slog.String("uptime", time.Since(hs.startTime).String()))

	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck reports whether the data and output directories are
// writable and the snapshot store answers. The output check is skipped when
// no output directory is configured.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    statusReady,
		Timestamp: time.Now(),
		Version:   hs.version,
		Services: map[string]ServiceHealth{
			"data":      writableDir("data", hs.paths.DataDir),
			"snapshots": hs.checkSnapshotHealth(ctx),
		},
	}
	if hs.paths.OutputDir != "" {
		status.Services["output"] = writableDir("output", hs.paths.OutputDir)
	}

	for name, service := range status.Services {
		if service.Status != statusReady {
			status.Status = statusNotReady
			hs.logger.WarnContext(ctx, "service not ready",
				slog.String("service", name),
				slog.String("message", service.Message))
		}
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	rt := map[string]interface{}{
		"uptime":     time.Since(hs.startTime).Seconds(),
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
	}
	if hs.runs != nil {
		rt["runs"] = hs.runs.Len()
	}
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime:   rt,
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"version":      hs.version,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
		"current_time": time.Now().Format(time.RFC3339),
	}
	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	return result
}

// writableDir checks that dir exists and accepts a new file.
func writableDir(label, dir string) ServiceHealth {
	if dir == "" {
		return ServiceHealth{Status: statusNotReady, Message: label + " directory not configured"}
	}
	if _, err := os.Stat(dir); err != nil {
		return ServiceHealth{
			Status:  statusNotReady,
			Message: fmt.Sprintf("%s directory not found: %s", label, dir),
		}
	}

	probe, err := os.CreateTemp(dir, ".ready-*")
	if err != nil {
		return ServiceHealth{
			Status:  statusNotReady,
			Message: fmt.Sprintf("cannot write to %s directory: %v", label, err),
		}
	}
	probe.Close()
	os.Remove(filepath.Clean(probe.Name()))

	return ServiceHealth{Status: statusReady, Message: label + " directory is writable"}
}

// checkSnapshotHealth lists the snapshot store
func (hs *HealthService) checkSnapshotHealth(ctx context.Context) ServiceHealth {
	if hs.store == nil {
		return ServiceHealth{Status: statusReady, Message: "snapshot store disabled"}
	}
	summaries, err := hs.store.List(ctx)
	if err != nil {
		return ServiceHealth{
			Status:  statusNotReady,
			Message: fmt.Sprintf("snapshot store error: %v", err),
		}
	}
	return ServiceHealth{
		Status:  statusReady,
		Message: fmt.Sprintf("%d snapshots stored", len(summaries)),
	}
}
