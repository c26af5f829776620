package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "tenderscope/internal/errors"
	"tenderscope/internal/exporter"
	"tenderscope/internal/middleware"
	"tenderscope/internal/scoring"
	"tenderscope/internal/services"
)

const (
	defaultUploadTop   = 10
	defaultSupplierTop = 20
	maxTop           = 100000
	multipartMemory  = 8 << 20
)

type ctxKey string

const runIDKey ctxKey = "run_id"

// ScoringHandler serves scoring runs, their ranked items, explanations and
// association rules.
type ScoringHandler struct {
	service      ScoringServiceInterface
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
	validator    *middleware.Validator
	query        *middleware.QueryParamValidator
	maxBody      int64
}

// NewScoringHandler creates a scoring handler. maxBody caps uploads; zero
// disables the cap.
func NewScoringHandler(service ScoringServiceInterface, logger *slog.Logger, errorHandler *apierrors.ErrorHandler, maxBody int64) *ScoringHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	return &ScoringHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "scoring_handler")),
		errorHandler: errorHandler,
		validator:    middleware.NewValidator(logger),
		query:        middleware.NewQueryParamValidator(logger, errorHandler),
		maxBody:      maxBody,
	}
}

// Routes returns the run routes
func (h *ScoringHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(middleware.BodyLimit(h.maxBody)).Post("/", h.CreateRun)
	r.Get("/", h.ListRuns)

	r.Route("/{runID}", func(r chi.Router) {
		r.Use(h.RunCtx)
		r.Get("/", h.GetRun)
		r.Delete("/", h.DeleteRun)
		r.Get("/snapshot", h.GetSnapshot)

		r.Get("/items", h.GetItems)
		r.Get("/items/{rowID}", h.GetItem)
		r.Get("/items/{rowID}/explanation", h.GetExplanation)

		r.With(middleware.ContentTypeValidator("application/json")).Post("/associations", h.MineAssociations)
		r.Get("/associations", h.GetAssociations)

		r.Get("/suppliers", h.GetSuppliers)
	})

	return r
}

// RunCtx validates the run id path parameter
func (h *ScoringHandler) RunCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")
		if !middleware.ValidRunID(runID) {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("runID", "Invalid run id"))
			return
		}
		ctx := context.WithValue(r.Context(), runIDKey, runID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func runIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(runIDKey).(string); ok {
		return id
	}
	return chi.URLParam(r, "runID")
}

// CreateRun handles POST /api/v1/runs. The table is a JSON item list, the
// "file" part of a multipart form or the raw request body, named by
// ?filename=.
func (h *ScoringHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	reqID := chimiddleware.GetReqID(r.Context())

	top, ok := h.query.ValidateInt(w, r, "top", 0, maxTop, defaultUploadTop)
	if !ok {
		return
	}

	var (
		run *services.Run
		err error
	)
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/json" {
		run, err = h.scoreJSON(r, reqID)
	} else {
		run, err = h.scoreUpload(r, reqID)
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.errorHandler.HandleError(w, r, apierrors.ErrPayloadTooLarge)
			return
		}
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("%s/%s", strings.TrimSuffix(r.URL.Path, "/"), run.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, newRunResponse(run, top))
}

func (h *ScoringHandler) scoreJSON(r *http.Request, reqID string) (*services.Run, error) {
	var req ScoreRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, apierrors.InvalidRequestWithError(err)
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return nil, err
	}

	h.logger.InfoContext(r.Context(), "scoring json items",
		slog.String("request_id", reqID),
		slog.Int("items", len(req.Items)),
	)
	source := "request"
	if reqID != "" {
		source += ":" + reqID
	}
	return h.service.Score(r.Context(), req.table(source))
}

func (h *ScoringHandler) scoreUpload(r *http.Request, reqID string) (*services.Run, error) {
	body, filename, cleanup, err := h.upload(r)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	h.logger.InfoContext(r.Context(), "scoring upload",
		slog.String("request_id", reqID),
		slog.String("filename", filename),
	)
	return h.service.ScoreReader(r.Context(), body, filename)
}

func (h *ScoringHandler) upload(r *http.Request) (io.Reader, string, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if r.Body == nil || r.Body == http.NoBody {
			return nil, "", noop, apierrors.ErrValidation("body", "Request body is empty")
		}
		return r.Body, r.URL.Query().Get("filename"), noop, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, "", noop, apierrors.ErrPayloadTooLarge
		}
		return nil, "", noop, apierrors.InvalidRequestWithError(err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", noop, apierrors.ErrValidation("file", "Multipart field \"file\" is required")
	}
	cleanup := func() {
		file.Close()
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}
	return file, header.Filename, cleanup, nil
}

// ListRuns handles GET /api/v1/runs
func (h *ScoringHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.service.ListRuns(r.Context())
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   runs,
		"count":  len(runs),
	})
}

// GetRun handles GET /api/v1/runs/{runID}
func (h *ScoringHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	top, ok := h.query.ValidateInt(w, r, "top", 0, maxTop, 0)
	if !ok {
		return
	}
	run, err := h.service.GetRun(r.Context(), runIDFrom(r))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, newRunResponse(run, top))
}

// DeleteRun handles DELETE /api/v1/runs/{runID}
func (h *ScoringHandler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRun(r.Context(), runIDFrom(r)); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSnapshot handles GET /api/v1/runs/{runID}/snapshot
func (h *ScoringHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context(), runIDFrom(r))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, snap)
}

// GetItems handles GET /api/v1/runs/{runID}/items. format=csv and format=xlsx
// stream the ranked export instead of JSON. min_composite drops items below
// the given composite score.
func (h *ScoringHandler) GetItems(w http.ResponseWriter, r *http.Request) {
	top, ok := h.query.ValidateInt(w, r, "top", 0, maxTop, 0)
	if !ok {
		return
	}
	format, ok := h.query.ValidateEnum(w, r, "format", []string{"json", "csv", "xlsx"}, "json")
	if !ok {
		return
	}
	minComposite, ok := h.query.ValidateFloat(w, r, "min_composite", 0, 100, 0)
	if !ok {
		return
	}

	runID := runIDFrom(r)
	items, err := h.service.Items(r.Context(), runID, top)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if minComposite > 0 {
		items = atLeast(items, minComposite)
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", runID+"_scored.csv"))
		if err := exporter.WriteScored(w, items, true); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to stream scored csv",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	case "xlsx":
		run, err := h.service.GetRun(r.Context(), runID)
		if err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", runID+"_scored.xlsx"))
		if err := exporter.WriteWorkbook(w, items, run.Associations); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to stream workbook",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	default:
		render.JSON(w, r, map[string]interface{}{
			"status": "success",
			"run_id": runID,
			"data":   newItemResponses(items),
			"count":  len(items),
		})
	}
}

func (h *ScoringHandler) rowID(w http.ResponseWriter, r *http.Request) (int, bool) {
	rowID, err := strconv.Atoi(chi.URLParam(r, "rowID"))
	if err != nil || rowID < 0 {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("rowID", "rowID must be a non-negative integer"))
		return 0, false
	}
	return rowID, true
}

// GetItem handles GET /api/v1/runs/{runID}/items/{rowID}
func (h *ScoringHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	rowID, ok := h.rowID(w, r)
	if !ok {
		return
	}
	item, err := h.service.Item(r.Context(), runIDFrom(r), rowID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, newItemResponse(item))
}

// GetExplanation handles GET /api/v1/runs/{runID}/items/{rowID}/explanation.
// format=text returns the rendered explanation as plain text.
func (h *ScoringHandler) GetExplanation(w http.ResponseWriter, r *http.Request) {
	rowID, ok := h.rowID(w, r)
	if !ok {
		return
	}
	format, ok := h.query.ValidateEnum(w, r, "format", []string{"json", "text"}, "json")
	if !ok {
		return
	}

	runID := runIDFrom(r)
	text, err := h.service.Explain(r.Context(), runID, rowID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if format == "text" {
		render.PlainText(w, r, text)
		return
	}

	data, err := h.service.ExplainData(r.Context(), runID, rowID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, newExplanationResponse(runID, data, text))
}

// MineAssociations handles POST /api/v1/runs/{runID}/associations
func (h *ScoringHandler) MineAssociations(w http.ResponseWriter, r *http.Request) {
	var req AssociationsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	res, err := h.service.Associations(r.Context(), runIDFrom(r), req.flagger())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

// GetAssociations handles GET /api/v1/runs/{runID}/associations, returning the
// last mined result. format=csv streams the rules table.
func (h *ScoringHandler) GetAssociations(w http.ResponseWriter, r *http.Request) {
	format, ok := h.query.ValidateEnum(w, r, "format", []string{"json", "csv"}, "json")
	if !ok {
		return
	}

	runID := runIDFrom(r)
	run, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if run.Associations == nil {
		h.errorHandler.HandleError(w, r, apierrors.NotFoundError("associations"))
		return
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", runID+"_rules.csv"))
		if err := exporter.WriteRules(w, run.Associations.Rules, true); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to stream rules csv",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	render.JSON(w, r, run.Associations)
}

// GetSuppliers handles GET /api/v1/runs/{runID}/suppliers, the suppliers
// ranked by lots won. top=0 returns every supplier.
func (h *ScoringHandler) GetSuppliers(w http.ResponseWriter, r *http.Request) {
	top, ok := h.query.ValidateInt(w, r, "top", 0, maxTop, defaultSupplierTop)
	if !ok {
		return
	}
	format, ok := h.query.ValidateEnum(w, r, "format", []string{"json", "csv"}, "json")
	if !ok {
		return
	}

	runID := runIDFrom(r)
	rows, err := h.service.Suppliers(r.Context(), runID, top)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", runID+"_suppliers.csv"))
		if err := exporter.WriteSuppliers(w, rows, true); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to stream suppliers csv",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"run_id": runID,
		"data":   rows,
		"count":  len(rows),
	})
}

// atLeast keeps the items whose composite score reaches min, in rank order.
// Items without a composite never qualify.
func atLeast(items []scoring.ScoredItem, min float64) []scoring.ScoredItem {
	kept := make([]scoring.ScoredItem, 0, len(items))
	for _, it := range items {
		if !math.IsNaN(it.Composite) && it.Composite >= min {
			kept = append(kept, it)
		}
	}
	return kept
}
