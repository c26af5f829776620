package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tenderscope/internal/association"
	"tenderscope/internal/baseline"
	apierrors "tenderscope/internal/errors"
	"tenderscope/internal/pipeline"
	"tenderscope/internal/scoring"
	"tenderscope/internal/services"
	"tenderscope/internal/shared/testutil"
	"tenderscope/internal/table"
)

// MockScoringService is a mock implementation of ScoringServiceInterface
type MockScoringService struct {
	mock.Mock
}

func (m *MockScoringService) Score(ctx context.Context, t *table.Table) (*services.Run, error) {
	args := m.Called(t)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Run), args.Error(1)
}

func (m *MockScoringService) ScoreReader(ctx context.Context, r io.Reader, filename string) (*services.Run, error) {
	body, _ := io.ReadAll(r)
	args := m.Called(string(body), filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Run), args.Error(1)
}

func (m *MockScoringService) GetRun(ctx context.Context, runID string) (*services.Run, error) {
	args := m.Called(runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Run), args.Error(1)
}

func (m *MockScoringService) ListRuns(ctx context.Context) []services.RunSummary {
	args := m.Called()
	return args.Get(0).([]services.RunSummary)
}

func (m *MockScoringService) DeleteRun(ctx context.Context, runID string) error {
	return m.Called(runID).Error(0)
}

func (m *MockScoringService) Items(ctx context.Context, runID string, top int) ([]scoring.ScoredItem, error) {
	args := m.Called(runID, top)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]scoring.ScoredItem), args.Error(1)
}

func (m *MockScoringService) Item(ctx context.Context, runID string, rowID int) (scoring.ScoredItem, error) {
	args := m.Called(runID, rowID)
	return args.Get(0).(scoring.ScoredItem), args.Error(1)
}

func (m *MockScoringService) Snapshot(ctx context.Context, runID string) (*baseline.Snapshot, error) {
	args := m.Called(runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*baseline.Snapshot), args.Error(1)
}

func (m *MockScoringService) Explain(ctx context.Context, runID string, rowID int) (string, error) {
	args := m.Called(runID, rowID)
	return args.String(0), args.Error(1)
}

func (m *MockScoringService) ExplainData(ctx context.Context, runID string, rowID int) (scoring.Explanation, error) {
	args := m.Called(runID, rowID)
	return args.Get(0).(scoring.Explanation), args.Error(1)
}

func (m *MockScoringService) Associations(ctx context.Context, runID string, flagger pipeline.Flagger) (*association.Result, error) {
	args := m.Called(runID, flagger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*association.Result), args.Error(1)
}

func (m *MockScoringService) Suppliers(ctx context.Context, runID string, top int) ([]table.SupplierWins, error) {
	args := m.Called(runID, top)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]table.SupplierWins), args.Error(1)
}

func sampleItems() []scoring.ScoredItem {
	nan := math.NaN()
	return []scoring.ScoredItem{
		{
			RowID: 0, ProcessID: "P1", Description: "caneta azul",
			Features: baseline.Row{GroupKey: "caneta azul", Price: 50, EstimatedPrice: nan, Proposals: 1, GroupMedian: 10, GroupStd: nan, GroupIQR: 0, ZPrice: nan, IQRScore: nan, Discount: nan, SupplierConcentration: nan, GroupMean: 20},
			RuleScore: 85, ModelScore: nan, Composite: nan,
			Triggered: []string{"single_bid", "overprice_group"}, Contributions: map[string]float64{"single_bid": 40, "overprice_group": 45},
			Rank: 1,
		},
		{
			RowID: 1, ProcessID: "P2", Description: "papel a4",
			Features: baseline.Row{GroupKey: "papel a4", Price: 10, EstimatedPrice: nan, Proposals: 4, GroupMedian: 10, GroupStd: nan, GroupIQR: nan, ZPrice: nan, IQRScore: nan, Discount: nan, SupplierConcentration: nan, GroupMean: 10},
			RuleScore: 0, ModelScore: nan, Composite: nan,
			Rank: 2,
		},
	}
}

func sampleRun(id string) *services.Run {
	items := sampleItems()
	return &services.Run{
		ID:        id,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Output: &pipeline.Output{
			RunID:  id,
			Source: "bids.csv",
			Items:  items,
			Groups: map[string]baseline.GroupStats{"caneta azul": {Key: "caneta azul", Count: 1}},
			Model:  pipeline.ModelStatus{Name: "iforest", Available: false, Reason: "too few rows"},
		},
	}
}

func newTestRouter(t *testing.T, svc ScoringServiceInterface, maxBody int64) http.Handler {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	handler := NewScoringHandler(svc, logger, apierrors.NewErrorHandler(logger, false), maxBody)
	r := chi.NewRouter()
	r.Mount("/api/v1/runs", handler.Routes())
	return r
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestScoringHandler_CreateRunRawBody(t *testing.T) {
	tests := []struct {
		name           string
		setupMock      func(*MockScoringService)
		url            string
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "scores csv body",
			setupMock: func(m *MockScoringService) {
				m.On("ScoreReader", "processo,descricao\n", "bids.csv").Return(sampleRun("run-1"), nil)
			},
			url:            "/api/v1/runs?filename=bids.csv&top=1",
			body:           "processo,descricao\n",
			expectedStatus: http.StatusCreated,
			expectedBody:   `"run_id":"run-1"`,
		},
		{
			name: "unusable input",
			setupMock: func(m *MockScoringService) {
				m.On("ScoreReader", "x", "bids.csv").
					Return(nil, apierrors.NewInputError(apierrors.StageIngest, "table has no rows"))
			},
			url:            "/api/v1/runs?filename=bids.csv",
			body:           "x",
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `"stage":"ingest"`,
		},
		{
			name:           "empty body",
			setupMock:      func(m *MockScoringService) {},
			url:            "/api/v1/runs",
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"VALIDATION_FAILED"`,
		},
		{
			name:           "invalid top",
			setupMock:      func(m *MockScoringService) {},
			url:            "/api/v1/runs?top=-1",
			body:           "x",
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `top must be between`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScoringService)
			tt.setupMock(mockService)
			router := newTestRouter(t, mockService, 0)

			var body io.Reader = http.NoBody
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(http.MethodPost, tt.url, body)
			req.Header.Set("Content-Type", "text/csv")
			rec := serve(router, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
		})
	}
}

func TestScoringHandler_CreateRunLocationAndTop(t *testing.T) {
	mockService := new(MockScoringService)
	mockService.On("ScoreReader", "data", "bids.csv").Return(sampleRun("run-1"), nil)
	router := newTestRouter(t, mockService, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs?filename=bids.csv&top=1", strings.NewReader("data"))
	rec := serve(router, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/api/v1/runs/run-1", rec.Header().Get("Location"))

	var resp struct {
		RunID string                   `json:"run_id"`
		Items int                      `json:"items"`
		Top   []map[string]interface{} `json:"top"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, 2, resp.Items)
	require.Len(t, resp.Top, 1)
	assert.Nil(t, resp.Top[0]["model_score"])
	assert.Nil(t, resp.Top[0]["composite_score"])
	assert.Equal(t, 85.0, resp.Top[0]["rule_score"])
}

func TestScoringHandler_CreateRunJSON(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		scored         bool
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "scores items",
			body: `{"source":"portal","items":[
				{"process_id":"P1","description":"Cimento","adjusted_price":9.5,"estimated_price":11.4,"proposals":4},
				{"process_id":"P2","description":"Areia"}
			]}`,
			scored:         true,
			expectedStatus: http.StatusCreated,
			expectedBody:   `"run_id":"run-json"`,
		},
		{
			name:           "no items",
			body:           `{"items":[]}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"field":"items"`,
		},
		{
			name:           "item without description",
			body:           `{"items":[{"process_id":"P1"}]}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"field":"items[0].description"`,
		},
		{
			name:           "negative proposals",
			body:           `{"items":[{"process_id":"P1","description":"x","proposals":-1}]}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"field":"items[0].proposals"`,
		},
		{
			name:           "malformed",
			body:           `{"items":`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScoringService)
			var got *table.Table
			if tt.scored {
				mockService.On("Score", mock.Anything).
					Run(func(args mock.Arguments) { got = args.Get(0).(*table.Table) }).
					Return(sampleRun("run-json"), nil)
			}
			router := newTestRouter(t, mockService, 1<<20)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := serve(router, req)

			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
			if !tt.scored {
				mockService.AssertNotCalled(t, "Score", mock.Anything)
				return
			}

			require.NotNil(t, got)
			assert.Equal(t, "portal", got.Source)
			require.Len(t, got.Items, 2)
			assert.Equal(t, 1, got.Items[1].RowID)
			assert.Equal(t, 9.5, got.Items[0].AdjudicatedPrice)
			assert.Equal(t, 4.0, got.Items[0].Proposals)
			assert.True(t, math.IsNaN(got.Items[1].AdjudicatedPrice))
			assert.True(t, math.IsNaN(got.Items[1].Proposals))
		})
	}
}

func TestScoringHandler_CreateRunMultipart(t *testing.T) {
	tests := []struct {
		name           string
		field          string
		setupMock      func(*MockScoringService)
		expectedStatus int
	}{
		{
			name:  "file part",
			field: "file",
			setupMock: func(m *MockScoringService) {
				m.On("ScoreReader", "processo;descricao\n", "licitacoes.csv").Return(sampleRun("run-2"), nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing file part",
			field:          "upload",
			setupMock:      func(m *MockScoringService) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScoringService)
			tt.setupMock(mockService)
			router := newTestRouter(t, mockService, 1<<20)

			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			part, err := mw.CreateFormFile(tt.field, "licitacoes.csv")
			require.NoError(t, err)
			_, err = part.Write([]byte("processo;descricao\n"))
			require.NoError(t, err)
			require.NoError(t, mw.Close())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			rec := serve(router, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestScoringHandler_CreateRunTooLarge(t *testing.T) {
	mockService := new(MockScoringService)
	router := newTestRouter(t, mockService, 8)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs?filename=bids.csv", strings.NewReader("a much longer body than allowed"))
	rec := serve(router, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	mockService.AssertNotCalled(t, "ScoreReader", mock.Anything, mock.Anything)
}

func TestScoringHandler_RunRoutes(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		url            string
		setupMock      func(*MockScoringService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "list runs",
			method: http.MethodGet,
			url:    "/api/v1/runs",
			setupMock: func(m *MockScoringService) {
				m.On("ListRuns").Return([]services.RunSummary{{ID: "run-1", Items: 2}})
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"count":1`,
		},
		{
			name:   "get run",
			method: http.MethodGet,
			url:    "/api/v1/runs/run-1",
			setupMock: func(m *MockScoringService) {
				m.On("GetRun", "run-1").Return(sampleRun("run-1"), nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"reason":"too few rows"`,
		},
		{
			name:   "run not found",
			method: http.MethodGet,
			url:    "/api/v1/runs/missing",
			setupMock: func(m *MockScoringService) {
				m.On("GetRun", "missing").Return(nil, apierrors.NewNotFoundError("run"))
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `"Resource Not Found"`,
		},
		{
			name:           "invalid run id",
			method:         http.MethodGet,
			url:            "/api/v1/runs/-bad",
			setupMock:      func(m *MockScoringService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `Invalid run id`,
		},
		{
			name:   "delete run",
			method: http.MethodDelete,
			url:    "/api/v1/runs/run-1",
			setupMock: func(m *MockScoringService) {
				m.On("DeleteRun", "run-1").Return(nil)
			},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:   "snapshot",
			method: http.MethodGet,
			url:    "/api/v1/runs/run-1/snapshot",
			setupMock: func(m *MockScoringService) {
				m.On("Snapshot", "run-1").Return(&baseline.Snapshot{
					RunID:   "run-1",
					Key:     "descricao",
					Medians: map[string]float64{"adjusted_price": 10},
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"medians":{"adjusted_price":10}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScoringService)
			tt.setupMock(mockService)
			router := newTestRouter(t, mockService, 0)

			rec := serve(router, httptest.NewRequest(tt.method, tt.url, nil))

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
		})
	}
}

func TestScoringHandler_GetItems(t *testing.T) {
	tests := []struct {
		name           string
		url            string
		setupMock      func(*MockScoringService)
		expectedStatus int
		expectedType   string
		expectedBody   string
	}{
		{
			name: "json with nulls",
			url:  "/api/v1/runs/run-1/items",
			setupMock: func(m *MockScoringService) {
				m.On("Items", "run-1", 0).Return(sampleItems(), nil)
			},
			expectedStatus: http.StatusOK,
			expectedType:   "application/json",
			expectedBody:   `"model_score":null`,
		},
		{
			name: "csv export",
			url:  "/api/v1/runs/run-1/items?format=csv&top=1",
			setupMock: func(m *MockScoringService) {
				m.On("Items", "run-1", 1).Return(sampleItems()[:1], nil)
			},
			expectedStatus: http.StatusOK,
			expectedType:   "text/csv",
			expectedBody:   "rank,row_id,process_id",
		},
		{
			name: "xlsx export",
			url:  "/api/v1/runs/run-1/items?format=xlsx",
			setupMock: func(m *MockScoringService) {
				m.On("Items", "run-1", 0).Return(sampleItems(), nil)
				m.On("GetRun", "run-1").Return(sampleRun("run-1"), nil)
			},
			expectedStatus: http.StatusOK,
			expectedType:   "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			expectedBody:   "PK",
		},
		{
			name: "min composite drops unscored items",
			url:  "/api/v1/runs/run-1/items?min_composite=1",
			setupMock: func(m *MockScoringService) {
				m.On("Items", "run-1", 0).Return(sampleItems(), nil)
			},
			expectedStatus: http.StatusOK,
			expectedType:   "application/json",
			expectedBody:   `"count":0`,
		},
		{
			name:           "min composite out of range",
			url:            "/api/v1/runs/run-1/items?min_composite=101",
			setupMock:      func(m *MockScoringService) {},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "application/json",
			expectedBody:   `min_composite must be a number between 0 and 100`,
		},
		{
			name:           "unknown format",
			url:            "/api/v1/runs/run-1/items?format=pdf",
			setupMock:      func(m *MockScoringService) {},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "application/json",
			expectedBody:   `format must be one of: json, csv, xlsx`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScoringService)
			tt.setupMock(mockService)
			router := newTestRouter(t, mockService, 0)

			rec := serve(router, httptest.NewRequest(http.MethodGet, tt.url, nil))

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), tt.expectedType)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
		})
	}
}

func TestScoringHandler_GetItem(t *testing.T) {
	mockService := new(MockScoringService)
	mockService.On("Item", "run-1", 0).Return(sampleItems()[0], nil)
	mockService.On("Item", "run-1", 9).Return(scoring.ScoredItem{}, apierrors.NewNotFoundError("item"))
	router := newTestRouter(t, mockService, 0)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/items/0", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var item map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, "P1", item["process_id"])
	assert.ElementsMatch(t, []interface{}{"single_bid", "overprice_group"}, item["triggered_rules"])
	features := item["features"].(map[string]interface{})
	assert.Equal(t, 50.0, features["adjusted_price"])
	assert.Nil(t, features["z_price"])

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/items/9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/items/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	mockService.AssertExpectations(t)
}

func TestScoringHandler_GetExplanation(t *testing.T) {
	nan := math.NaN()
	text := "Item 0 (rank 1)\nRule score: 85.0\n"
	data := scoring.Explanation{
		RowID: 0, Rank: 1, ProcessID: "P1", Description: "caneta azul",
		Price: 50, GroupMedian: 10, Discount: nan, Proposals: 1, SupplierWins: nan,
		Rules:     []scoring.RuleLine{{Name: "single_bid", Points: 40}},
		RuleScore: 85, ModelScore: nan, Composite: nan,
		ModelName: "iforest", ModelReason: "too few rows",
		WModel: 0.6, WRules: 0.4,
		Deviations: []scoring.Deviation{{Feature: "adjusted_price", Value: 50, Median: 10, IQR: nan, Score: nan, Direction: "n/a"}},
	}

	tests := []struct {
		name         string
		url          string
		setupMock    func(*MockScoringService)
		expectedType string
		check        func(t *testing.T, body []byte)
	}{
		{
			name: "json",
			url:  "/api/v1/runs/run-1/items/0/explanation",
			setupMock: func(m *MockScoringService) {
				m.On("Explain", "run-1", 0).Return(text, nil)
				m.On("ExplainData", "run-1", 0).Return(data, nil)
			},
			expectedType: "application/json",
			check: func(t *testing.T, body []byte) {
				var resp map[string]interface{}
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, text, resp["text"])
				assert.Equal(t, 0.6, resp["w_model"])
				assert.Nil(t, resp["model_score"])
				assert.Equal(t, "too few rows", resp["model_reason"])
				devs := resp["deviations"].([]interface{})
				require.Len(t, devs, 1)
				assert.Nil(t, devs[0].(map[string]interface{})["score"])
			},
		},
		{
			name: "text",
			url:  "/api/v1/runs/run-1/items/0/explanation?format=text",
			setupMock: func(m *MockScoringService) {
				m.On("Explain", "run-1", 0).Return(text, nil)
			},
			expectedType: "text/plain",
			check: func(t *testing.T, body []byte) {
				assert.Equal(t, text, string(body))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScoringService)
			tt.setupMock(mockService)
			router := newTestRouter(t, mockService, 0)

			rec := serve(router, httptest.NewRequest(http.MethodGet, tt.url, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), tt.expectedType)
			tt.check(t, rec.Body.Bytes())
			mockService.AssertExpectations(t)
		})
	}
}

func TestScoringHandler_MineAssociations(t *testing.T) {
	result := &association.Result{
		Status:  association.StatusOK,
		Baskets: 2,
		Rules: []association.Rule{{
			Antecedents: []string{"caneta"}, Consequents: []string{"papel"},
			Antecedent: "caneta", Consequent: "papel",
			Support: 1, Confidence: 1, Lift: 1,
		}},
	}

	tests := []struct {
		name           string
		body           string
		contentType    string
		setupMock      func(*MockScoringService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:        "threshold",
			body:        `{"threshold": 70}`,
			contentType: "application/json",
			setupMock: func(m *MockScoringService) {
				m.On("Associations", "run-1", pipeline.ThresholdFlagger{Threshold: 70}).Return(result, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"antecedent":"caneta"`,
		},
		{
			name:        "process list",
			body:        `{"process_ids": ["P1", "P2"]}`,
			contentType: "application/json",
			setupMock: func(m *MockScoringService) {
				m.On("Associations", "run-1", pipeline.ListFlagger{IDs: []string{"P1", "P2"}}).Return(result, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"baskets":2`,
		},
		{
			name:           "neither selector",
			body:           `{}`,
			contentType:    "application/json",
			setupMock:      func(m *MockScoringService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"field":"threshold"`,
		},
		{
			name:           "threshold out of range",
			body:           `{"threshold": 150}`,
			contentType:    "application/json",
			setupMock:      func(m *MockScoringService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `threshold must be less than or equal to 100`,
		},
		{
			name:           "blank process id",
			body:           `{"process_ids": ["P1", "  "]}`,
			contentType:    "application/json",
			setupMock:      func(m *MockScoringService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `non-blank process id`,
		},
		{
			name:           "malformed json",
			body:           `{"threshold":`,
			contentType:    "application/json",
			setupMock:      func(m *MockScoringService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"INVALID_REQUEST"`,
		},
		{
			name:           "wrong content type",
			body:           `threshold=70`,
			contentType:    "application/x-www-form-urlencoded",
			setupMock:      func(m *MockScoringService) {},
			expectedStatus: http.StatusUnsupportedMediaType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScoringService)
			tt.setupMock(mockService)
			router := newTestRouter(t, mockService, 0)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run-1/associations", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := serve(router, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
		})
	}
}

func TestScoringHandler_GetAssociations(t *testing.T) {
	mined := sampleRun("run-1")
	mined.Associations = &association.Result{
		Status: association.StatusOK,
		Rules: []association.Rule{{
			Antecedents: []string{"caneta"}, Consequents: []string{"papel"},
			Antecedent: "caneta", Consequent: "papel",
			Support: 0.5, Confidence: 1, Lift: 2,
		}},
	}

	tests := []struct {
		name           string
		url            string
		run            *services.Run
		expectedStatus int
		expectedBody   string
	}{
		{name: "not mined yet", url: "/api/v1/runs/run-1/associations", run: sampleRun("run-1"), expectedStatus: http.StatusNotFound, expectedBody: "associations not found"},
		{name: "json", url: "/api/v1/runs/run-1/associations", run: mined, expectedStatus: http.StatusOK, expectedBody: `"lift":2`},
		{name: "csv", url: "/api/v1/runs/run-1/associations?format=csv", run: mined, expectedStatus: http.StatusOK, expectedBody: "caneta"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScoringService)
			mockService.On("GetRun", "run-1").Return(tt.run, nil)
			router := newTestRouter(t, mockService, 0)

			rec := serve(router, httptest.NewRequest(http.MethodGet, tt.url, nil))

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			mockService.AssertExpectations(t)
		})
	}
}

func TestScoringHandler_GetSuppliers(t *testing.T) {
	rows := []table.SupplierWins{
		{SupplierID: "111", SupplierName: "Alfa Ltda", Wins: 3, Processes: 2, Items: 4, Share: 75},
		{SupplierID: "222", Wins: 1, Processes: 1, Items: 1, Share: 25},
	}

	tests := []struct {
		name           string
		url            string
		setupMock      func(*MockScoringService)
		expectedStatus int
		expectedBody   []string
	}{
		{
			name: "default top",
			url:  "/api/v1/runs/run-1/suppliers",
			setupMock: func(m *MockScoringService) {
				m.On("Suppliers", "run-1", 20).Return(rows, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   []string{`"count":2`, `"supplier_id":"111"`, `"wins":3`, `"share_pct":75`},
		},
		{
			name: "csv",
			url:  "/api/v1/runs/run-1/suppliers?format=csv&top=1",
			setupMock: func(m *MockScoringService) {
				m.On("Suppliers", "run-1", 1).Return(rows[:1], nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   []string{"supplier_id,supplier_name,wins", "111,Alfa Ltda,3,2,4,75"},
		},
		{
			name:           "negative top",
			url:            "/api/v1/runs/run-1/suppliers?top=-1",
			setupMock:      func(m *MockScoringService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown run",
			url:  "/api/v1/runs/run-9/suppliers",
			setupMock: func(m *MockScoringService) {
				m.On("Suppliers", "run-9", 20).Return(nil, apierrors.NewNotFoundError("run").WithContext("run_id", "run-9"))
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   []string{"run not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScoringService)
			tt.setupMock(mockService)
			router := newTestRouter(t, mockService, 0)

			rec := serve(router, httptest.NewRequest(http.MethodGet, tt.url, nil))

			assert.Equal(t, tt.expectedStatus, rec.Code)
			for _, want := range tt.expectedBody {
				assert.Contains(t, rec.Body.String(), want)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestAtLeast(t *testing.T) {
	items := []scoring.ScoredItem{
		{RowID: 3, Composite: 91},
		{RowID: 1, Composite: 60},
		{RowID: 0, Composite: 59.9},
		{RowID: 2, Composite: math.NaN()},
	}

	kept := atLeast(items, 60)
	require.Len(t, kept, 2)
	assert.Equal(t, 3, kept[0].RowID)
	assert.Equal(t, 1, kept[1].RowID)
	assert.Empty(t, atLeast(items, 95))
}
