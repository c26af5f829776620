package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderscope/internal/shared/testutil"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{
			name:       "context deadline exceeded",
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
			wantType:   TypeTimeout,
		},
		{
			name:       "api error",
			err:        ErrPayloadTooLarge,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   TypePayloadTooLarge,
		},
		{
			name:       "missing run",
			err:        NewNotFoundError("run").WithContext("run_id", "x"),
			wantStatus: http.StatusNotFound,
			wantType:   TypeRunNotFound,
		},
		{
			name:       "wrapped input error",
			err:        fmt.Errorf("score: %w", NewInputError(StageIngest, "empty table")),
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   TypeInputUnusable,
		},
		{
			name:       "mining error",
			err:        NewStageError(ErrTypeMining, StageAssociation, "invalid max_len", nil),
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeMiningFailed,
		},
		{
			name:       "generic error",
			err:        fmt.Errorf("something went wrong"),
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logHandler := testutil.NewTestLogger(t)
			handler := NewErrorHandler(logger, false)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/v1/runs/x", nil)

			handler.HandleError(w, r, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeProblem(t, w)
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, float64(tt.wantStatus), body["status"])
			assert.Equal(t, "/api/v1/runs/x", body["instance"])
			assert.True(t, logHandler.ContainsMessage("request failed"))
		})
	}
}

func TestErrorHandler_HandleErrorNil(t *testing.T) {
	handler := NewErrorHandler(nil, false)
	w := httptest.NewRecorder()

	handler.HandleError(w, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Equal(t, 0, w.Body.Len())
}

func TestErrorHandler_NotFoundResources(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		err      *AppError
		wantType string
	}{
		{name: "run", resource: "run", err: NewNotFoundError("run").WithContext("run_id", "r-1"), wantType: TypeRunNotFound},
		{name: "item", resource: "item", err: NewNotFoundError("item").WithContext("row_id", 7), wantType: TypeItemNotFound},
		{name: "other", resource: "snapshot", err: NewNotFoundError("snapshot"), wantType: TypeNotFound},
	}

	handler := NewErrorHandler(nil, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := handler.ErrorToProblem(tt.err, httptest.NewRequest(http.MethodGet, "/api/v1/runs/r-1", nil))
			assert.Equal(t, http.StatusNotFound, problem.Status)
			assert.Equal(t, tt.wantType, problem.Type)
			assert.Equal(t, tt.resource, problem.Extensions["resource"])
		})
	}
}

func TestErrorHandler_ContextDoesNotOverrideMembers(t *testing.T) {
	handler := NewErrorHandler(nil, false)
	err := NewModelError("lof", "singular matrix", nil).WithContext("status", "bogus")

	problem := handler.ErrorToProblem(err, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))

	assert.Equal(t, TypeModelFailed, problem.Type)
	assert.Equal(t, "lof", problem.Extensions["model"])
	assert.NotContains(t, problem.Extensions, "status")
}

func TestErrorHandler_AppErrorStageExtension(t *testing.T) {
	handler := NewErrorHandler(nil, false)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)

	problem := handler.ErrorToProblem(NewInputError(StageIngest, "no rows"), r)

	assert.Equal(t, http.StatusUnprocessableEntity, problem.Status)
	assert.Equal(t, "ingest", problem.Extensions["stage"])
	assert.Contains(t, problem.Detail, "no rows")
}

func TestErrorHandler_LogLevelAndDebugStack(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		debug     bool
		wantLevel slog.Level
		wantStack bool
	}{
		{name: "client error", err: NotFoundError("associations"), debug: true, wantLevel: slog.LevelWarn},
		{name: "server error", err: fmt.Errorf("disk full"), wantLevel: slog.LevelError},
		{name: "server error in debug", err: fmt.Errorf("disk full"), debug: true, wantLevel: slog.LevelError, wantStack: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logHandler := testutil.NewTestLogger(t)
			handler := NewErrorHandler(logger, tt.debug)

			w := httptest.NewRecorder()
			handler.HandleError(w, httptest.NewRequest(http.MethodGet, "/boom", nil), tt.err)

			testutil.AssertLogContains(t, logHandler, tt.wantLevel, "request failed")
			_, hasStack := decodeProblem(t, w)["stack"]
			assert.Equal(t, tt.wantStack, hasStack)
		})
	}
}

func TestErrorHandler_RunIDFromRoute(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, false)

	r := chi.NewRouter()
	r.Get("/api/v1/runs/{runID}", func(w http.ResponseWriter, r *http.Request) {
		handler.HandleError(w, r, NewNotFoundError("run"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-7", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "run-7", decodeProblem(t, w)["run_id"])
	testutil.AssertLogAttr(t, logHandler, "run_id", "run-7")
}

func TestErrorHandler_NotFoundAndMethodNotAllowed(t *testing.T) {
	handler := NewErrorHandler(nil, false)

	w := httptest.NewRecorder()
	handler.NotFound(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, TypeNotFound, decodeProblem(t, w)["type"])

	w = httptest.NewRecorder()
	handler.MethodNotAllowed(w, httptest.NewRequest(http.MethodDelete, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "Method DELETE is not allowed for this endpoint", decodeProblem(t, w)["detail"])
}

func TestProblemDetails_MarshalJSON(t *testing.T) {
	pd := NewProblemDetails(http.StatusBadRequest, TypeValidation, "Bad Request", "", "/x").
		WithExtension("error_code", "VALIDATION_FAILED")

	data, err := json.Marshal(pd)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "VALIDATION_FAILED", body["error_code"])
	assert.NotContains(t, body, "detail")
}
