// Package errors defines unified error types for AI completion operations.
// All provider-specific failures are mapped to these standard error types so
// that callers can decide whether an operation is worth retrying.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ProviderError represents a standardized error from the AI completion provider.
// It contains all necessary information for error handling, logging, and retry
// decisions.
type ProviderError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Model      string `json:"model"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (model=%s, code=%d)",
		e.Type, e.Message, e.Model, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *ProviderError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Common error types as constants for consistency.
const (
	TypeAuthentication     = "authentication_error"
	TypePermission         = "permission_error"
	TypeRateLimit          = "rate_limit_error"
	TypeTimeout            = "timeout_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternalError      = "internal_error"
)

// NewAuthenticationError creates an authentication error (401). Not retryable.
func NewAuthenticationError(model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Type:       TypeAuthentication,
		Model:      model,
		Retryable:  false,
	}
}

// NewPermissionError creates a permission error (403). Not retryable.
func NewPermissionError(model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusForbidden,
		Message:    message,
		Type:       TypePermission,
		Model:      model,
		Retryable:  false,
	}
}

// NewRateLimitError creates a rate limit error (429). Retryable.
func NewRateLimitError(model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Model:      model,
		Retryable:  true,
	}
}

// NewTimeoutError creates a timeout error (408). Retryable.
func NewTimeoutError(model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusRequestTimeout,
		Message:    message,
		Type:       TypeTimeout,
		Model:      model,
		Retryable:  true,
	}
}

// NewServiceUnavailableError creates a service unavailable error (503). Retryable.
func NewServiceUnavailableError(model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
		Model:      model,
		Retryable:  true,
	}
}

// NewInternalError creates an internal error (500). Not retryable by default:
// the failure mode is unknown, so repeating the request is not assumed safe.
func NewInternalError(model, message string) *ProviderError {
	return &ProviderError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
		Model:      model,
		Retryable:  false,
	}
}

// FromStatusCode maps an HTTP status code from the provider to a classified error.
func FromStatusCode(statusCode int, model, message string) *ProviderError {
	switch {
	case statusCode == http.StatusUnauthorized:
		return NewAuthenticationError(model, message)
	case statusCode == http.StatusForbidden:
		return NewPermissionError(model, message)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(model, message)
	case statusCode == http.StatusRequestTimeout:
		return NewTimeoutError(model, message)
	case statusCode >= 500:
		return NewServiceUnavailableError(model, message)
	default:
		return &ProviderError{
			StatusCode: statusCode,
			Message:    message,
			Type:       TypeInternalError,
			Model:      model,
			Retryable:  false,
		}
	}
}

// IsRetryable reports whether the error is worth retrying. Unclassified errors
// are treated as retryable so that transient network failures are not dropped.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}
