package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeInput      ErrorType = "INPUT"
	ErrTypeNumeric    ErrorType = "NUMERIC"
	ErrTypeModel      ErrorType = "MODEL"
	ErrTypeMining     ErrorType = "MINING"
	ErrTypeStorage    ErrorType = "STORAGE"
	ErrTypeValidation ErrorType = "VALIDATION"
	ErrTypeNotFound   ErrorType = "NOT_FOUND"
	ErrTypeConfig     ErrorType = "CONFIG"
)

// Stage names the pipeline stage an error originated from.
type Stage string

const (
	StageIngest      Stage = "ingest"
	StageBaseline    Stage = "baseline"
	StageRules       Stage = "rules"
	StageModel       Stage = "model"
	StageCompose     Stage = "compose"
	StageExplain     Stage = "explain"
	StageAssociation Stage = "association"
	StageSnapshot    Stage = "snapshot"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Stage   Stage
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Type)
	if e.Stage != "" {
		prefix = fmt.Sprintf("[%s] %s:", e.Type, e.Stage)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewStageError creates an error attributed to a pipeline stage.
func NewStageError(errType ErrorType, stage Stage, message string, cause error) *AppError {
	e := NewAppError(errType, message, cause)
	e.Stage = stage
	return e
}

// NewInputError creates a fatal input-shape error for the given stage
func NewInputError(stage Stage, message string) *AppError {
	return NewStageError(ErrTypeInput, stage, message, nil)
}

// NewModelError creates a model-fitting error
func NewModelError(model, message string, cause error) *AppError {
	return NewStageError(ErrTypeModel, StageModel, message, cause).WithContext("model", model)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewStageError(ErrTypeStorage, StageSnapshot, message, cause)
}

// NewAppValidationError creates a validation error for AppError type
func NewAppValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewNotFoundError creates a not found error. The resource is kept in the
// context so handlers can pick a specific problem type.
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil).
		WithContext("resource", resource)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// IsType reports whether err (or anything it wraps) is an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// StageOf returns the stage recorded on err, or "" when none is attached.
func StageOf(err error) Stage {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Stage
	}
	return ""
}
