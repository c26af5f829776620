package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Common error types following RFC 7807
const (
	TypeValidation       = "/errors/validation"
	TypeNotFound         = "/errors/not-found"
	TypeRateLimit        = "/errors/rate-limit"
	TypeInternal         = "/errors/internal"
	TypeTimeout          = "/errors/timeout"
	TypePayloadTooLarge  = "/errors/payload-too-large"
	TypeMethodNotAllowed = "/errors/method-not-allowed"
)

// Domain-specific error types
const (
	TypeRunNotFound   = "/errors/run/not-found"
	TypeItemNotFound  = "/errors/item/not-found"
	TypeInputUnusable = "/errors/input/unusable"
	TypeModelFailed   = "/errors/model/failed"
	TypeMiningFailed  = "/errors/mining/failed"
	TypeStorageFailed = "/errors/storage/failed"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger *slog.Logger
	debug  bool
}

// NewErrorHandler creates a new error handler. In debug mode server
// errors carry a stack trace.
func NewErrorHandler(logger *slog.Logger, debug bool) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{
		logger: logger.With(slog.String("component", "error_handler")),
		debug:  debug,
	}
}

// HandleError converts any error to RFC 7807 format and responds. Client
// errors are logged as warnings, server errors as errors.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", reqID)

	attrs := []any{
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	}
	if runID := chi.URLParam(r, "runID"); runID != "" {
		attrs = append(attrs, slog.String("run_id", runID))
		problem.WithExtension("run_id", runID)
	}

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
		if h.debug {
			problem.WithExtension("stack", getStackTrace())
		}
	}
	h.logger.Log(ctx, level, "request failed", attrs...)

	render.Render(w, r, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			r.URL.Path,
		)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return h.apiErrorToProblem(apiErr, r)
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return h.appErrorToProblem(appErr, r)
	}

	return NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred while processing your request",
		r.URL.Path,
	)
}

// appErrorToProblem maps domain errors raised by the pipeline stages. The
// error context (run_id, row_id, model) is exposed as extensions.
func (h *ErrorHandler) appErrorToProblem(appErr *AppError, r *http.Request) *ProblemDetails {
	status, problemType, title := http.StatusInternalServerError, TypeInternal, "Internal Server Error"
	switch appErr.Type {
	case ErrTypeInput:
		status, problemType, title = http.StatusUnprocessableEntity, TypeInputUnusable, "Input Unusable"
	case ErrTypeValidation, ErrTypeConfig:
		status, problemType, title = http.StatusBadRequest, TypeValidation, "Validation Failed"
	case ErrTypeNotFound:
		status, problemType, title = http.StatusNotFound, TypeNotFound, "Resource Not Found"
		switch appErr.Context["resource"] {
		case "run":
			problemType = TypeRunNotFound
		case "item":
			problemType = TypeItemNotFound
		}
	case ErrTypeModel, ErrTypeNumeric:
		problemType, title = TypeModelFailed, "Model Failed"
	case ErrTypeMining:
		problemType, title = TypeMiningFailed, "Association Mining Failed"
	case ErrTypeStorage:
		problemType, title = TypeStorageFailed, "Storage Failed"
	}

	problem := NewProblemDetails(status, problemType, title, appErr.Error(), r.URL.Path)
	if appErr.Stage != "" {
		problem.WithExtension("stage", string(appErr.Stage))
	}
	for key, value := range appErr.Context {
		if _, reserved := problemFields[key]; !reserved {
			problem.WithExtension(key, value)
		}
	}
	return problem
}

// problemFields are the members an extension must not overwrite.
var problemFields = map[string]struct{}{
	"type": {}, "title": {}, "status": {}, "detail": {}, "instance": {},
	"stage": {}, "trace_id": {},
}

// apiErrorToProblem converts APIError to ProblemDetails
func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.ErrorCode {
	case "VALIDATION_FAILED", "INVALID_REQUEST":
		problemType = TypeValidation
	case "NOT_FOUND":
		problemType = TypeNotFound
	case "PAYLOAD_TOO_LARGE":
		problemType = TypePayloadTooLarge
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}

	return problem
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeMethodNotAllowed,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
