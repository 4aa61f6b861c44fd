// Package errors provides error response utilities.
package errors

import (
	"errors"
)

// ErrorResponse is the decoded form of the JSON error body, mostly useful
// in tests and clients.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Type      ErrorType              `json:"type"`
	RequestID string                 `json:"request_id"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// As is a wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is a wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// New is a wrapper around errors.New so callers importing this package do
// not also need the standard one.
func New(text string) error {
	return errors.New(text)
}

// FromError converts any error into an *AppError. Errors already carrying an
// *AppError in their chain keep it; anything else becomes an InternalError.
func FromError(err error, requestID string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.WithRequestID(requestID)
	}
	return NewInternalError(requestID, err)
}
