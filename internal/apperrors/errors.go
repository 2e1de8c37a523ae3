// Package apperrors defines the error taxonomy shared across Kestrel:
// validation, auth, transient infrastructure and data integrity errors,
// each with a stable machine-readable code and an HTTP status mapping.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies an error for retry and HTTP mapping decisions.
type Kind int

const (
	// KindInternal is an unclassified failure (500, not retried by callers).
	KindInternal Kind = iota

	// KindValidation is malformed input or output. Never retried, 4xx.
	KindValidation

	// KindAuth is a missing or invalid credential. Never retried, 401.
	KindAuth

	// KindTransient is a timeout, network blip, or upstream rate limit.
	// Retried with backoff, then surfaced as 408/429/500.
	KindTransient

	// KindIntegrity is a data-integrity failure such as insufficient
	// history for generation. Never retried, 422.
	KindIntegrity

	// KindNotFound is a missing tenant-scoped record. 404.
	KindNotFound

	// KindRateLimit is a client-facing rate limit. 429, retryable by the
	// caller after backing off.
	KindRateLimit
)

// Stable error codes surfaced in API responses.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeInvalidRule      = "INVALID_RULE"
	CodeInvalidCondition = "INVALID_CONDITION"
	CodeOracleResponse   = "ORACLE_RESPONSE_INVALID"
	CodeMissingAuth      = "MISSING_AUTH"
	CodeInvalidAuth      = "INVALID_AUTH"
	CodeMissingTenant    = "MISSING_TENANT"
	CodeTimeout          = "UPSTREAM_TIMEOUT"
	CodeUnavailable      = "UPSTREAM_UNAVAILABLE"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL"
)

// Error is the taxonomy-aware error type. It wraps an optional cause
// and carries the stable code surfaced to API clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation creates a validation error (never retried).
func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Auth creates an authentication error.
func Auth(code, message string) *Error {
	return &Error{Kind: KindAuth, Code: code, Message: message}
}

// Transient wraps a retryable infrastructure failure.
func Transient(code, message string, err error) *Error {
	return &Error{Kind: KindTransient, Code: code, Message: message, Err: err}
}

// Integrity creates a data-integrity error (422, never retried).
func Integrity(code, format string, args ...any) *Error {
	return &Error{Kind: KindIntegrity, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found error for a tenant-scoped record.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// RateLimited creates a client-facing rate limit error.
func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimit, Code: CodeRateLimited, Message: message}
}

// Internal wraps an unclassified failure.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message, Err: err}
}

// KindOf extracts the Kind from any error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf extracts the stable code from any error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsTransient reports whether an error should trigger a retry. Context
// deadline expiry and network errors count as transient even when they
// arrive untagged from a driver.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// HTTPStatus maps an error to its response status per the API contract:
// 401 auth, 400 validation, 404 not found, 408 timeout, 422 integrity,
// 429 rate limit, 500 unclassified.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindIntegrity:
		return http.StatusUnprocessableEntity
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindTransient:
		if e.Code == CodeTimeout {
			return http.StatusRequestTimeout
		}
		if e.Code == CodeRateLimited {
			return http.StatusTooManyRequests
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
