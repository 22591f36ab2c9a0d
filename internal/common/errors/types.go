// Package errors provides structured error types shared across the service.
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeValidation represents malformed input (bad JSON, missing fields)
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeVerification represents a failed signature or identifier check
	ErrTypeVerification ErrorType = "verification"
	// ErrTypeStale represents a notification outside the freshness window
	ErrTypeStale ErrorType = "stale"
	// ErrTypeDuplicate represents an already-processed notification
	ErrTypeDuplicate ErrorType = "duplicate"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error type to the HTTP status sent to the caller.
// Staleness maps to 400 here; the high-retry platform overrides that to a
// 200 acknowledgement at the handler.
func (e *AppError) HTTPStatus() int {
	switch e.Type {
	case ErrTypeValidation, ErrTypeStale:
		return http.StatusBadRequest
	case ErrTypeVerification:
		return http.StatusForbidden
	case ErrTypeDuplicate:
		return http.StatusOK
	case ErrTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{Type: ErrTypeValidation, Message: msg}
}

// VerificationError creates a new verification error
func VerificationError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeVerification, Message: msg, Cause: cause}
}

// StaleError creates a new staleness error
func StaleError(msg string) *AppError {
	return &AppError{Type: ErrTypeStale, Message: msg}
}

// DuplicateError creates a new duplicate error
func DuplicateError(msg string) *AppError {
	return &AppError{Type: ErrTypeDuplicate, Message: msg}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{Type: ErrTypeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{Type: ErrTypeConfig, Message: msg}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return &AppError{Type: ErrTypeTimeout, Message: fmt.Sprintf("timeout during %s", operation)}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeInternal, Message: msg, Cause: cause}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	appErr, ok := err.(*AppError)
	if !ok {
		return ErrTypeInternal
	}
	return appErr.Type
}
