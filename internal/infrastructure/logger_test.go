package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderscope/internal/config"
)

func decodeLines(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "log line is not JSON: %s", line)
		out = append(out, entry)
	}
	return out
}

func TestInitializeLogger_File(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logsDir := filepath.Join(t.TempDir(), "nested")
	logger, err := InitializeLogger(config.LoggingConfig{Level: "info", Output: "file", FilePath: "logs/app.log"}, logsDir)
	require.NoError(t, err)
	require.NotNil(t, logger)

	again, err := InitializeLogger(config.LoggingConfig{Output: "stderr"}, "")
	require.NoError(t, err)
	assert.Same(t, logger, again, "later calls keep the first logger")

	logger.Info("test message", "key", "value")
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(filepath.Join(logsDir, "app.log"))
	require.NoError(t, err)
	entries := decodeLines(t, content)
	require.Len(t, entries, 1)
	assert.Equal(t, "test message", entries[0]["msg"])
	assert.Equal(t, "value", entries[0]["key"])
	assert.Equal(t, "INFO", entries[0]["level"])
}

func TestLogFilePath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "x.log")
	tests := []struct {
		name     string
		filePath string
		logsDir  string
		want     string
	}{
		{name: "default name", filePath: "", logsDir: "/var/log/ts", want: filepath.Join("/var/log/ts", DefaultLogFile)},
		{name: "relative moved into logs dir", filePath: "logs/a.log", logsDir: "/srv/logs", want: filepath.Join("/srv/logs", "a.log")},
		{name: "absolute kept", filePath: abs, logsDir: "/srv/logs", want: abs},
		{name: "no logs dir", filePath: "a.log", logsDir: "", want: "a.log"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogFilePath(tt.filePath, tt.logsDir))
		})
	}
}

func TestContextIDsInjected(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "debug")

	ctx := WithStage(WithRunID(WithTraceID(context.Background(), "trace-123"), "run-9"), "baseline")
	logger.With("component", "test").InfoContext(ctx, "with ids")
	logger.InfoContext(context.Background(), "without ids")

	entries := decodeLines(t, buf.Bytes())
	require.Len(t, entries, 2)
	assert.Equal(t, "trace-123", entries[0]["trace_id"])
	assert.Equal(t, "run-9", entries[0]["run_id"])
	assert.Equal(t, "baseline", entries[0]["stage"])
	assert.Equal(t, "test", entries[0]["component"])
	assert.NotContains(t, entries[1], "trace_id")
	assert.NotContains(t, entries[1], "run_id")
	assert.NotContains(t, entries[1], "stage")
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{"debug", []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{"info", []string{"INFO", "WARN", "ERROR"}},
		{"warning", []string{"WARN", "ERROR"}},
		{"error", []string{"ERROR"}},
		{"bogus", []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(&buf, tt.level)
			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			var got []string
			for _, e := range decodeLines(t, buf.Bytes()) {
				got = append(got, e["level"].(string))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetRunID(ctx))
	assert.Empty(t, GetStage(ctx))

	ctx = WithRunID(WithTraceID(ctx, "t-1"), "r1")
	assert.Equal(t, "t-1", GetTraceID(ctx))
	assert.Equal(t, "r1", GetRunID(ctx))
	assert.Equal(t, "rules", GetStage(WithStage(ctx, "rules")))
	assert.Nil(t, contextAttrs(nil))
}
