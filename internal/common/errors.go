package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrValidation   = errors.New("validation failed")

	// Pipeline error classes.
	ErrProviderFailure  = errors.New("provider failure")
	ErrSchemaViolation  = errors.New("schema violation")
	ErrResolution       = errors.New("location resolution degraded")
	ErrCacheUnavailable = errors.New("cache unavailable")

	// Session and job errors.
	ErrProtocol  = errors.New("protocol error")
	ErrCancelled = errors.New("job cancelled")
	ErrQueueFull = errors.New("queue full")
)

// Wire codes for job errors.
const (
	CodeProviderFailure = "provider_failure"
	CodeSchemaViolation = "schema_violation"
	CodeCancelled       = "cancelled"
	CodeQueueFull       = "queue_full"
	CodeInternal        = "internal"
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ProviderFailure classifies err as an external provider failure.
func ProviderFailure(message string, cause error) error {
	return NewAppError(CodeProviderFailure, message, errors.Join(ErrProviderFailure, cause))
}

// SchemaViolation classifies a provider payload whose required fields could
// not be recovered. It escalates to a provider failure as well.
func SchemaViolation(message string, cause error) error {
	if cause == nil {
		return NewAppError(CodeSchemaViolation, message, errors.Join(ErrSchemaViolation, ErrProviderFailure))
	}
	return NewAppError(CodeSchemaViolation, message, errors.Join(ErrSchemaViolation, ErrProviderFailure, cause))
}

// JobErrorCode maps an error onto the wire code reported in job snapshots.
func JobErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	case errors.Is(err, ErrSchemaViolation):
		return CodeSchemaViolation
	case errors.Is(err, ErrProviderFailure):
		return CodeProviderFailure
	case errors.Is(err, ErrQueueFull):
		return CodeQueueFull
	default:
		return CodeInternal
	}
}
