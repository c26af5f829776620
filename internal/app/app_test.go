package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderscope/internal/config"
	"tenderscope/internal/shared/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths = cfg.Paths.Resolve(dir)
	cfg.Logging.Output = "stderr"
	cfg.Security.RateLimit.Enabled = false
	cfg.Telemetry.Environment = "test"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*Application, *testutil.BufferedSlogHandler) {
	t.Helper()
	logger, logs := testutil.NewTestLogger(t)
	app, err := NewApplication(cfg, WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(context.Background()) })
	return app, logs
}

func do(t *testing.T, app *Application, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	return rec
}

func TestNewApplication(t *testing.T) {
	cfg := testConfig(t)
	app, logs := newTestApp(t, cfg)

	assert.NotNil(t, app.Router)
	assert.NotNil(t, app.Server)
	assert.NotNil(t, app.Pipeline)
	assert.NotNil(t, app.Snapshots)
	assert.NotNil(t, app.ScoringService)
	assert.NotNil(t, app.HealthService)
	assert.NotNil(t, app.Metrics)
	assert.Equal(t, ":8080", app.Server.Addr)
	assert.Equal(t, cfg.Server.WriteTimeout, app.Server.WriteTimeout)

	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.SnapshotDir, cfg.Paths.OutputDir, cfg.Paths.LogsDir} {
		assert.DirExists(t, dir)
	}
	testutil.AssertLogContains(t, logs, slog.LevelInfo, "Application starting")
}

func TestNewApplication_InitializationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{
			name:   "unknown trace exporter",
			mutate: func(cfg *config.Config) { cfg.Telemetry.TraceExporter = "jaeger" },
		},
		{
			name: "unknown snapshot backend",
			mutate: func(cfg *config.Config) {
				cfg.Snapshot.Backend = "s3"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			logger, _ := testutil.NewTestLogger(t)
			_, err := NewApplication(cfg, WithLogger(logger))
			assert.Error(t, err)
		})
	}
}

func TestApplication_HealthRoutes(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t))

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{path: "/healthz", wantStatus: http.StatusOK, wantBody: `"status":"alive"`},
		{path: "/api/health", wantStatus: http.StatusOK, wantBody: `"status":"ok"`},
		{path: "/api/health/ready", wantStatus: http.StatusOK, wantBody: `"status":"ready"`},
		{path: "/api/health/live", wantStatus: http.StatusOK, wantBody: `"status":"alive"`},
		{path: "/api/version", wantStatus: http.StatusOK, wantBody: `"version":"` + VERSION + `"`},
		{path: "/api/metrics/summary", wantStatus: http.StatusOK, wantBody: `"runs":0`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, app, http.MethodGet, tt.path, nil, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestApplication_NotFound(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t))

	rec := do(t, app, http.MethodGet, "/api/nowhere", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Not Found")

	rec = do(t, app, http.MethodGet, "/api/v1/runs/unknown-run", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApplication_ScoringRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	app, _ := newTestApp(t, cfg)

	rec := do(t, app, http.MethodPost, "/api/v1/runs?filename=licitacoes.csv&top=3",
		strings.NewReader(testutil.ScenarioACSV), map[string]string{"Content-Type": "text/csv"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		RunID string `json:"run_id"`
		Items int    `json:"items"`
		Top   []struct {
			RowID     int      `json:"row_id"`
			ProcessID string   `json:"process_id"`
			Triggered []string `json:"triggered_rules"`
		} `json:"top"`
		Model struct {
			Available bool `json:"available"`
		} `json:"model"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.RunID)
	assert.Equal(t, 5, created.Items)
	assert.Len(t, created.Top, 3)
	assert.Equal(t, "/api/v1/runs/"+created.RunID, rec.Header().Get("Location"))

	runPath := "/api/v1/runs/" + created.RunID

	t.Run("snapshot persisted", func(t *testing.T) {
		assert.FileExists(t, cfg.Paths.SnapshotPath(created.RunID))
	})

	t.Run("run listed", func(t *testing.T) {
		rec := do(t, app, http.MethodGet, "/api/v1/runs", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), created.RunID)
	})

	t.Run("explanation text", func(t *testing.T) {
		rec := do(t, app, http.MethodGet, runPath+"/items/4/explanation?format=text", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), "P3")
	})

	t.Run("items csv", func(t *testing.T) {
		rec := do(t, app, http.MethodGet, runPath+"/items?format=csv", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")
		assert.Contains(t, rec.Body.String(), "row_id")
	})

	t.Run("associations", func(t *testing.T) {
		rec := do(t, app, http.MethodGet, runPath+"/associations", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = do(t, app, http.MethodPost, runPath+"/associations",
			strings.NewReader(`{"process_ids":["P1","P2"]}`), map[string]string{"Content-Type": "application/json"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"status"`)

		rec = do(t, app, http.MethodGet, runPath+"/associations", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("summary counts the run", func(t *testing.T) {
		rec := do(t, app, http.MethodGet, "/api/metrics/summary", nil, nil)
		assert.Contains(t, rec.Body.String(), `"runs":1`)
		assert.Contains(t, rec.Body.String(), `"items":5`)
	})

	t.Run("prometheus exposes pipeline metrics", func(t *testing.T) {
		rec := do(t, app, http.MethodGet, "/metrics", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "pipeline_items_scored")
	})

	t.Run("delete", func(t *testing.T) {
		rec := do(t, app, http.MethodDelete, runPath, nil, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = do(t, app, http.MethodGet, runPath, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestApplication_ScoreJSONItems(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t))

	body := `{"source":"portal","items":[
		{"process_id":"P1","description":"Cimento Portland","estimated_price":11.4,"adjusted_price":9.5,"supplier_id":"S1","proposals":4},
		{"process_id":"P1","description":"Cimento Portland","estimated_price":12.0,"adjusted_price":10.0,"supplier_id":"S1","proposals":4},
		{"process_id":"P2","description":"Cimento Portland","estimated_price":12.6,"adjusted_price":10.5,"supplier_id":"S1","proposals":4},
		{"process_id":"P2","description":"Cimento Portland","estimated_price":12.24,"adjusted_price":10.2,"supplier_id":"S1","proposals":4},
		{"process_id":"P3","description":"Cimento Portland","estimated_price":50,"adjusted_price":50,"supplier_id":"S1","proposals":1}
	]}`
	rec := do(t, app, http.MethodPost, "/api/v1/runs?top=5", strings.NewReader(body),
		map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Source string `json:"source"`
		Items  int    `json:"items"`
		Top    []struct {
			RowID     int      `json:"row_id"`
			ProcessID string   `json:"process_id"`
			Triggered []string `json:"triggered_rules"`
		} `json:"top"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "portal", created.Source)
	assert.Equal(t, 5, created.Items)
	require.Len(t, created.Top, 5)
	for _, it := range created.Top {
		if it.ProcessID == "P3" {
			assert.Equal(t, testutil.ScenarioAOutlierRow, it.RowID)
			assert.Len(t, it.Triggered, 3)
		} else {
			assert.Empty(t, it.Triggered, "row %d", it.RowID)
		}
	}
}

func TestApplication_UploadTooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxBodyBytes = 32
	app, _ := newTestApp(t, cfg)

	rec := do(t, app, http.MethodPost, "/api/v1/runs?filename=big.csv",
		strings.NewReader(testutil.ScenarioACSV), map[string]string{"Content-Type": "text/csv"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestApplication_RateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	app, _ := newTestApp(t, cfg)

	assert.Equal(t, http.StatusOK, do(t, app, http.MethodGet, "/api/health", nil, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, app, http.MethodGet, "/api/health", nil, nil).Code)
}

func TestApplication_getCORSConfig(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		enableCORS  bool
		origins     []string
		contains    []string
		excludes    []string
	}{
		{
			name:        "production same origin only",
			environment: "production",
			contains:    []string{"http://localhost:8080", "http://127.0.0.1:8080"},
			excludes:    []string{"http://localhost:3000"},
		},
		{
			name:        "development adds dev server",
			environment: "development",
			contains:    []string{"http://localhost:8080", "http://localhost:3000"},
		},
		{
			name:        "configured origins",
			environment: "production",
			enableCORS:  true,
			origins:     []string{"https://audit.example.org"},
			contains:    []string{"https://audit.example.org"},
		},
		{
			name:        "configured origins ignored when disabled",
			environment: "production",
			origins:     []string{"https://audit.example.org"},
			excludes:    []string{"https://audit.example.org"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GO_ENV", "")
			cfg := testConfig(t)
			cfg.Telemetry.Environment = tt.environment
			cfg.Security.EnableCORS = tt.enableCORS
			cfg.Security.AllowedOrigins = tt.origins
			app := &Application{Config: cfg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

			got := app.getCORSConfig()
			for _, o := range tt.contains {
				assert.Contains(t, got.AllowedOrigins, o)
			}
			for _, o := range tt.excludes {
				assert.NotContains(t, got.AllowedOrigins, o)
			}
			assert.Contains(t, got.ExposedHeaders, "Location")
		})
	}
}

func TestApplication_performStartupHealthCheck(t *testing.T) {
	cfg := testConfig(t)
	app, logs := newTestApp(t, cfg)

	require.NoError(t, app.performStartupHealthCheck(context.Background()))
	testutil.AssertLogContains(t, logs, slog.LevelInfo, "Startup health check passed")

	require.NoError(t, os.RemoveAll(cfg.Paths.OutputDir))
	err := app.performStartupHealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output: output directory not found")
}

func TestApplication_StartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	app, logs := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, app.Start(ctx, cancel))
	require.NoError(t, app.Stop(context.Background()))

	testutil.AssertLogContains(t, logs, slog.LevelInfo, "Application started successfully")
	testutil.AssertLogContains(t, logs, slog.LevelInfo, "Application shutdown complete")
}

func TestApplication_SQLSnapshots(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Backend = "sql"
	cfg.Snapshot.DSN = filepath.Join(t.TempDir(), "snapshots.db")
	app, _ := newTestApp(t, cfg)

	rec := do(t, app, http.MethodPost, "/api/v1/runs?filename=a.csv",
		strings.NewReader(testutil.ScenarioACSV), map[string]string{"Content-Type": "text/csv"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	snaps, err := app.Snapshots.List(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, created.RunID, snaps[0].RunID)
}
