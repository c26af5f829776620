package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "tenderscope/internal/errors"
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Validator checks request DTOs against their validate struct tags and
// reports failures with JSON field names.
type Validator struct {
	validator *validator.Validate
	logger    *slog.Logger
}

// NewValidator creates a request validator.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()

	v.RegisterValidation("runid", isRunID)
	v.RegisterValidation("processid", isProcessID)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validator: v,
		logger:    logger.With(slog.String("component", "validation")),
	}
}

// ValidateStruct validates a struct and returns an API error listing every
// failed field.
func (m *Validator) ValidateStruct(v interface{}) error {
	err := m.validator.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.InvalidRequestWithError(err)
	}

	validationErrors := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		validationErrors = append(validationErrors, apierrors.ValidationError{
			Field:   fieldPath(fe),
			Message: formatValidationError(fe),
		})
	}
	return apierrors.NewValidationErrors(validationErrors)
}

// fieldPath is the JSON path of the failed field without the root type,
// e.g. items[0].description.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// ContentTypeValidator ensures requests with a body have an allowed content type
func ContentTypeValidator(contentTypes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead ||
				r.Method == http.MethodDelete || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			contentType := r.Header.Get("Content-Type")
			valid := false
			for _, allowed := range contentTypes {
				if strings.HasPrefix(contentType, allowed) {
					valid = true
					break
				}
			}
			if !valid {
				writeProblem(w, ProblemFromStatus(
					http.StatusUnsupportedMediaType,
					fmt.Sprintf("content type %q is not one of: %s", contentType, strings.Join(contentTypes, ", ")),
					GetRequestID(r.Context()),
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_without":
		return fmt.Sprintf("%s is required when %s is absent", field, param)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "runid":
		return fmt.Sprintf("%s must be a valid run id", field)
	case "processid":
		return fmt.Sprintf("%s must be a non-blank process id", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

// ValidRunID reports whether id has the shape of a run id.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

func isRunID(fl validator.FieldLevel) bool {
	return ValidRunID(fl.Field().String())
}

func isProcessID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	return strings.TrimSpace(id) != "" && len(id) <= 128
}

// QueryParamValidator parses optional query parameters. On a bad value it
// writes the validation problem and reports false; handlers then return.
type QueryParamValidator struct {
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewQueryParamValidator creates a query parameter validator.
func NewQueryParamValidator(logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *QueryParamValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryParamValidator{
		logger:       logger.With(slog.String("component", "query_validator")),
		errorHandler: errorHandler,
	}
}

func (v *QueryParamValidator) reject(w http.ResponseWriter, r *http.Request, param, value, msg string) {
	v.logger.DebugContext(r.Context(), "query parameter rejected",
		"param", param,
		"value", value,
	)
	v.errorHandler.HandleError(w, r, apierrors.ErrValidation(param, msg))
}

// ValidateInt parses an integer in [min, max], e.g. top.
func (v *QueryParamValidator) ValidateInt(w http.ResponseWriter, r *http.Request, param string, min, max int, defaultValue int) (int, bool) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return defaultValue, true
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		v.reject(w, r, param, value, fmt.Sprintf("%s must be a valid integer", param))
		return 0, false
	}
	if n < min || n > max {
		v.reject(w, r, param, value, fmt.Sprintf("%s must be between %d and %d", param, min, max))
		return 0, false
	}
	return n, true
}

// ValidateFloat parses a score bound in [min, max]. NaN is rejected.
func (v *QueryParamValidator) ValidateFloat(w http.ResponseWriter, r *http.Request, param string, min, max float64, defaultValue float64) (float64, bool) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return defaultValue, true
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || f < min || f > max {
		v.reject(w, r, param, value, fmt.Sprintf("%s must be a number between %g and %g", param, min, max))
		return 0, false
	}
	return f, true
}

// ValidateEnum accepts one of the allowed values, e.g. an export format.
func (v *QueryParamValidator) ValidateEnum(w http.ResponseWriter, r *http.Request, param string, allowed []string, defaultValue string) (string, bool) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return defaultValue, true
	}
	for _, a := range allowed {
		if value == a {
			return value, true
		}
	}
	v.reject(w, r, param, value, fmt.Sprintf("%s must be one of: %s", param, strings.Join(allowed, ", ")))
	return "", false
}
