package ingestserver

import (
	"fmt"
	"net/http"
)

// ApiError is an error response returned by the server.
// It's serialized as `{"error": {"code": "...", "message": "..."}}`.
type ApiError struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`

	httpStatus int
}

// Errors returned by the server.
var (
	ErrUnauthorized     = NewApiError("unauthorized", http.StatusUnauthorized, "Missing or invalid API key")
	ErrInvalidBody      = NewApiError("invalid_request", http.StatusBadRequest, "Request body is not a valid event")
	ErrBodyTooLarge     = NewApiError("request_too_large", http.StatusRequestEntityTooLarge, "Request body is too large")
	ErrValidationFailed = NewApiError("validation_error", http.StatusBadRequest, "Event failed validation")
	ErrSinkFailed       = NewApiError("internal_error", http.StatusInternalServerError, "Failed to store event")
)

// NewApiError creates a new ApiError with the specified code, HTTP status, and message.
func NewApiError(code string, httpStatus int, message string) *ApiError {
	return &ApiError{
		Code:    code,
		Message: message,

		httpStatus: httpStatus,
	}
}

// StatusCode returns the HTTP status code of the response.
func (e ApiError) StatusCode() int {
	return e.httpStatus
}

// WriteResponse writes the ApiError as a JSON response.
func (e ApiError) WriteResponse(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, r, e.httpStatus, struct {
		Error ApiError `json:"error"`
	}{Error: e})
}

// Clone returns a copy of the ApiError, applying the modifications in with.
func (e ApiError) Clone(with ...func(*ApiError)) *ApiError {
	cloned := &ApiError{
		Code:    e.Code,
		Message: e.Message,

		httpStatus: e.httpStatus,
	}

	for _, w := range with {
		w(cloned)
	}

	return cloned
}

// WithMessage returns a function that replaces the message of an ApiError.
// It's used with Clone.
func WithMessage(msg string) func(*ApiError) {
	return func(e *ApiError) {
		e.Message = msg
	}
}

// WithMetadata returns a function that sets the metadata of an ApiError.
// It's used with Clone.
func WithMetadata(metadata map[string]string) func(*ApiError) {
	return func(e *ApiError) {
		e.Metadata = metadata
	}
}

// Error implements the error interface.
func (e ApiError) Error() string {
	return fmt.Sprintf("API error (%s): %s", e.Code, e.Message)
}

// Is returns true if target is an ApiError with the same code.
func (e ApiError) Is(target error) bool {
	switch t := target.(type) {
	case ApiError:
		return t.Code == e.Code
	case *ApiError:
		return t != nil && t.Code == e.Code
	default:
		return false
	}
}
