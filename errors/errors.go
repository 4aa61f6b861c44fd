// Package errors provides the error taxonomy shared by every econochat
// component, the JSON error body written at the HTTP boundary, and
// zap-integrated logging helpers.
//
// Components return *AppError values built with the constructors in
// types.go. The HTTP layer stamps the request ID on them and writes them
// with WriteError:
//
//	errors.WriteError(w, errors.NewValidationError(requestID, "El mensaje no puede estar vacío.", nil))
//
// The JSON body always carries the human readable message under "error",
// so browser clients can display it directly:
//
//	{"error": "...", "type": "validation_error", "request_id": "..."}
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the package-wide zap logger used by WriteError and the
// panic handler when no logger is injected. It can be replaced with SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger replaces DefaultLogger. A nil logger is ignored.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType categorizes an error and drives its HTTP status code.
type ErrorType string

const (
	// ConfigError is a missing or invalid provider credential. It is fatal
	// for the current request and never retried.
	ConfigError ErrorType = "config_error"

	// UpstreamError is a transport failure of the completion provider or an
	// empty completion.
	UpstreamError ErrorType = "upstream_error"

	// ValidationError is malformed or empty caller input.
	ValidationError ErrorType = "validation_error"

	// ClassificationError is a completion that violates the structured
	// output contract.
	ClassificationError ErrorType = "classification_error"

	// NotFoundError is an unknown endpoint.
	NotFoundError ErrorType = "not_found"

	// RateLimitError is a client over its request budget.
	RateLimitError ErrorType = "rate_limit_error"

	// UnavailableError is a request shed because the server is saturated.
	UnavailableError ErrorType = "unavailable_error"

	// InternalError is anything unexpected.
	InternalError ErrorType = "internal_error"
)

// AppError is the error value carried from components to the HTTP boundary.
type AppError struct {
	// Type categorizes the error for client handling
	Type ErrorType `json:"type"`

	// Message is safe to show to end users
	Message string `json:"error"`

	// Code is the HTTP status code (not exposed in JSON)
	Code int `json:"-"`

	// RequestID links the error to a specific request
	RequestID string `json:"request_id,omitempty"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	err error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.err
}

// Is matches any *AppError of the same Type, so callers can write
// errors.Is(err, &AppError{Type: ConfigError}).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithRequestID returns a copy of e stamped with requestID.
func (e *AppError) WithRequestID(requestID string) *AppError {
	cp := *e
	cp.RequestID = requestID
	return &cp
}

// WriteError writes err as a JSON body with its status code.
func WriteError(w http.ResponseWriter, err *AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	if encErr := json.NewEncoder(w).Encode(err); encErr != nil {
		DefaultLogger.Warn("failed to encode error response", zap.Error(encErr))
	}
}

// Error is a drop-in replacement for http.Error that writes an
// InternalError-typed JSON body.
func Error(w http.ResponseWriter, message string, code int) {
	ErrorWithType(w, message, InternalError, code)
}

// ErrorWithType is like Error but lets the caller choose the type.
func ErrorWithType(w http.ResponseWriter, message string, errType ErrorType, code int) {
	WriteError(w, &AppError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: w.Header().Get("X-Request-ID"),
	})
}
