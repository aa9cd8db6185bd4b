package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation is returned when an event fails client-side or server-side validation.
	ErrValidation = errors.New("event validation failed")

	// ErrDuplicateEvent is returned when an event with the same ID was enqueued recently.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrUnauthorized is returned when the API key is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited is returned when the API rejects the request because of rate limiting.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is returned when the API responds with a non-2xx status code.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("API error: %s (status=%d, request_id=%s)", e.Message, e.StatusCode, e.RequestID)
	}
	return fmt.Sprintf("API error: %s (status=%d)", e.Message, e.StatusCode)
}

// Is implements support for errors.Is with the sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrValidation:
		return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity
	default:
		return false
	}
}

// Retryable returns true if the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout
}

// ValidationError is returned when an event fails client-side validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event validation failed: %s %s", e.Field, e.Message)
}

// Is implements support for errors.Is.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NetworkError wraps errors that happen before a response is received.
type NetworkError struct {
	// Operation that failed
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error returned by EventsPost is transient.
// Network errors, timeouts, and API errors with status 408, 429 or 5xx are retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
