package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	apierrors "tenderscope/internal/errors"
	"tenderscope/internal/infrastructure"
	"tenderscope/internal/shared/testutil"
)

func testLogger(t *testing.T) *slog.Logger {
	logger, _ := testutil.NewTestLogger(t)
	return logger
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{name: "generated", incoming: ""},
		{name: "propagated", incoming: "req-123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen, chiSeen, traceSeen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetReqID(r.Context())
				chiSeen = chimiddleware.GetReqID(r.Context())
				traceSeen = infrastructure.GetTraceID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.NotEmpty(t, seen)
			if tt.incoming != "" {
				assert.Equal(t, tt.incoming, seen)
			}
			assert.Equal(t, seen, chiSeen)
			assert.Equal(t, seen, traceSeen)
			assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestGetRequestID_FallsBackToTraceID(t *testing.T) {
	ctx := infrastructure.WithTraceID(context.Background(), "trace-1")
	assert.Equal(t, "trace-1", GetRequestID(ctx))
	assert.Equal(t, "", GetReqID(ctx))
}

func TestStructuredLogger(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	h := RequestID(StructuredLogger(logger)(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	testutil.AssertLogContains(t, handler, slog.LevelDebug, "request started")
	record, ok := handler.FindMessage("request completed")
	require.True(t, ok)
	assert.Equal(t, int64(http.StatusOK), record.Attrs["status"])
	assert.Equal(t, "/api/runs", record.Attrs["path"])
}

func TestRecoverer(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	h := Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"/errors/internal"`)
	assert.True(t, handler.ContainsMessage("panic recovered"))
}

func TestRecoverer_AbortHandlerRepanics(t *testing.T) {
	h := Recoverer(testLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRateLimiter(t *testing.T) {
	logger := testLogger(t)
	rl := NewRateLimiter(0.001, 2, logger)
	h := rl.Handler(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1000", rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, testLogger(t))
	h := rl.Handler(okHandler)

	request := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, request("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, request("10.0.0.1:5001"))
	assert.Equal(t, http.StatusOK, request("10.0.0.2:5000"))
	assert.Equal(t, 2, rl.Clients())
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1, testLogger(t))
	start := time.Now()

	assert.True(t, rl.allow("a", start))
	assert.True(t, rl.allow("b", start))
	require.Equal(t, 2, rl.Clients())

	later := start.Add(clientIdleTTL + time.Minute)
	assert.True(t, rl.allow("c", later))
	assert.Equal(t, 1, rl.Clients())
}

func TestRateLimiter_RetryAfter(t *testing.T) {
	tests := []struct {
		rps  float64
		want string
	}{
		{rps: 10, want: "1"},
		{rps: 0.5, want: "2"},
		{rps: 0.0001, want: "3600"},
		{rps: 0, want: "60"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, NewRateLimiter(tt.rps, 1, nil).retryAfter())
		})
	}
}

func TestStructuredLogger_RouteAttrs(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	r := chi.NewRouter()
	r.Use(StructuredLogger(logger))
	r.Get("/api/v1/runs/{runID}", okHandler)
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1", nil))
	record, ok := handler.FindMessage("request completed")
	require.True(t, ok)
	assert.Equal(t, "/api/v1/runs/{runID}", record.Attrs["route"])
	assert.Equal(t, "run-1", record.Attrs["run_id"])

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	testutil.AssertLogContains(t, handler, slog.LevelError, "request completed")
}

func TestTimeout(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := Timeout(time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	ok = false
	Timeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = r.Context().Deadline()
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestBodyLimit(t *testing.T) {
	readAll := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name          string
		body          string
		unknownLength bool
		wantStatus    int
	}{
		{name: "within limit", body: "short", wantStatus: http.StatusOK},
		{name: "declared too large", body: strings.Repeat("x", 32), wantStatus: http.StatusRequestEntityTooLarge},
		{name: "streamed too large", body: strings.Repeat("x", 32), unknownLength: true, wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.unknownLength {
				req.ContentLength = -1
			}
			rec := httptest.NewRecorder()
			BodyLimit(16)(readAll).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestCORS(t *testing.T) {
	cors := CORS(CORSConfig{AllowedOrigins: []string{"https://audit.example.org"}})

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{name: "allowed origin", method: http.MethodGet, origin: "https://audit.example.org", wantStatus: http.StatusOK, wantOrigin: "https://audit.example.org"},
		{name: "foreign origin", method: http.MethodGet, origin: "https://evil.example.com", wantStatus: http.StatusOK, wantOrigin: ""},
		{name: "preflight", method: http.MethodOptions, origin: "https://audit.example.org", wantStatus: http.StatusNoContent, wantOrigin: "https://audit.example.org"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			cors(okHandler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestOTelMiddleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() {
		mp.Shutdown(context.Background())
		tp.Shutdown(context.Background())
	})

	metrics, err := infrastructure.CreatePipelineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	om, err := NewOTelMiddleware(&infrastructure.OTelProviders{
		Tracer: tp.Tracer("test"),
		Logger: testLogger(t),
	}, metrics)
	require.NoError(t, err)

	var traceID string
	r := chi.NewRouter()
	r.Use(om.Handler)
	r.Get("/api/runs/{runID}", func(w http.ResponseWriter, r *http.Request) {
		traceID = infrastructure.GetTraceID(r.Context())
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, traceID, 32)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http_requests_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			route, _ := sum.DataPoints[0].Attributes.Value("http.route")
			status, _ := sum.DataPoints[0].Attributes.Value("http.status_code")
			assert.Equal(t, "/api/runs/{runID}", route.AsString())
			assert.Equal(t, int64(http.StatusNotFound), status.AsInt64())
			found = true
		}
	}
	assert.True(t, found, "http_requests_total not recorded")

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "GET /api/runs/{runID}", ended[0].Name())
	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "abc", attrs["tenderscope.run_id"])
	assert.Equal(t, "404", attrs["http.response.status_code"])
}

func TestNewOTelMiddleware_NilProviders(t *testing.T) {
	_, err := NewOTelMiddleware(nil, nil)
	assert.Error(t, err)
}

type uploadMeta struct {
	RunID     string   `json:"run_id" validate:"required,runid"`
	Sheet     string   `json:"sheet" validate:"omitempty,max=31"`
	Processes []string `json:"process_ids" validate:"dive,processid"`
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := NewValidator(nil)

	tests := []struct {
		name       string
		in         uploadMeta
		wantFields []string
	}{
		{name: "valid", in: uploadMeta{RunID: "3f2b9c1e-aa", Processes: []string{"P1"}}},
		{name: "bad run id", in: uploadMeta{RunID: "../etc"}, wantFields: []string{"run_id"}},
		{name: "missing run id and blank process", in: uploadMeta{Processes: []string{" "}}, wantFields: []string{"run_id", "process_ids[0]"}},
		{name: "sheet too long", in: uploadMeta{RunID: "r1", Sheet: strings.Repeat("s", 40)}, wantFields: []string{"sheet"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.in)
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			apiErr, ok := err.(*apierrors.APIError)
			require.True(t, ok)
			assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
			details := apiErr.Details.([]apierrors.ValidationError)
			fields := make([]string, 0, len(details))
			for _, d := range details {
				fields = append(fields, d.Field)
				assert.NotEmpty(t, d.Message)
			}
			assert.ElementsMatch(t, tt.wantFields, fields)
		})
	}
}

func TestContentTypeValidator(t *testing.T) {
	h := ContentTypeValidator("application/json")(okHandler)

	tests := []struct {
		name        string
		method      string
		contentType string
		wantStatus  int
	}{
		{name: "json post", method: http.MethodPost, contentType: "application/json; charset=utf-8", wantStatus: http.StatusOK},
		{name: "form post", method: http.MethodPost, contentType: "text/plain", wantStatus: http.StatusUnsupportedMediaType},
		{name: "get skips", method: http.MethodGet, contentType: "", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestQueryParamValidator(t *testing.T) {
	logger := testLogger(t)
	qv := NewQueryParamValidator(logger, apierrors.NewErrorHandler(logger, false))

	t.Run("int", func(t *testing.T) {
		tests := []struct {
			query  string
			want   int
			wantOK bool
		}{
			{query: "", want: 10, wantOK: true},
			{query: "top=5", want: 5, wantOK: true},
			{query: "top=abc", wantOK: false},
			{query: "top=500", wantOK: false},
		}
		for _, tt := range tests {
			rec := httptest.NewRecorder()
			got, ok := qv.ValidateInt(rec, httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil), "top", 0, 100, 10)
			assert.Equal(t, tt.wantOK, ok, tt.query)
			if tt.wantOK {
				assert.Equal(t, tt.want, got, tt.query)
			} else {
				assert.Equal(t, http.StatusBadRequest, rec.Code, tt.query)
			}
		}
	})

	t.Run("float", func(t *testing.T) {
		rec := httptest.NewRecorder()
		got, ok := qv.ValidateFloat(rec, httptest.NewRequest(http.MethodGet, "/?threshold=72.5", nil), "threshold", 0, 100, 60)
		require.True(t, ok)
		assert.Equal(t, 72.5, got)

		rec = httptest.NewRecorder()
		_, ok = qv.ValidateFloat(rec, httptest.NewRequest(http.MethodGet, "/?threshold=NaN", nil), "threshold", 0, 100, 60)
		assert.False(t, ok)
	})

	t.Run("enum", func(t *testing.T) {
		rec := httptest.NewRecorder()
		got, ok := qv.ValidateEnum(rec, httptest.NewRequest(http.MethodGet, "/", nil), "format", []string{"json", "csv"}, "json")
		require.True(t, ok)
		assert.Equal(t, "json", got)

		rec = httptest.NewRecorder()
		_, ok = qv.ValidateEnum(rec, httptest.NewRequest(http.MethodGet, "/?format=pdf", nil), "format", []string{"json", "csv"}, "json")
		assert.False(t, ok)
		assert.Contains(t, rec.Body.String(), "format must be one of: json, csv")
	})
}

func TestProblemFromStatus(t *testing.T) {
	p := ProblemFromStatus(http.StatusTeapot, "short and stout", "t-1")
	assert.Equal(t, "/errors/unknown", p.Type)
	assert.Equal(t, http.StatusText(http.StatusTeapot), p.Title)
	assert.Equal(t, "t-1", p.Trace)

	assert.Equal(t, "/errors/rate-limit", ProblemFromStatus(http.StatusTooManyRequests, "", "").Type)
}
