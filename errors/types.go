package errors

import (
	"net/http"
)

// Generic messages for errors whose cause must not reach the client.
const (
	MessageConfig   = "El servicio de IA no está configurado correctamente."
	MessageInternal = "internal server error"
	MessageNotFound = "endpoint not found"
)

// NewError creates an AppError with full control over every field. Prefer
// the specialized constructors below.
//
// Example:
//
//	err := NewError(InternalError, "store unavailable", 500, "req_123", nil, dbErr)
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *AppError {
	return &AppError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewConfigError reports a missing or invalid provider credential. The
// client only ever sees MessageConfig; the cause stays in logs.
func NewConfigError(requestID string, err error) *AppError {
	return &AppError{
		Type:      ConfigError,
		Message:   MessageConfig,
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}

// NewUpstreamError reports a provider failure or an empty completion.
//
// Example:
//
//	err := NewUpstreamError("req_123", "El modelo no devolvió contenido.", nil)
func NewUpstreamError(requestID, message string, err error) *AppError {
	return &AppError{
		Type:      UpstreamError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewValidationError reports bad caller input, such as:
//   - empty chat messages or texts
//   - CSV files without columns or without usable rows
//   - uploads with the wrong extension
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *AppError {
	return &AppError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

// NewClassificationError reports a completion that could not be parsed as a
// structured object. It is surfaced as 502 because the provider broke the
// output contract.
func NewClassificationError(requestID, message string, err error) *AppError {
	return &AppError{
		Type:      ClassificationError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewNotFoundError reports an unknown API endpoint.
func NewNotFoundError(requestID string) *AppError {
	return &AppError{
		Type:      NotFoundError,
		Message:   MessageNotFound,
		Code:      http.StatusNotFound,
		RequestID: requestID,
	}
}

// NewRateLimitError reports a client over its request budget.
func NewRateLimitError(requestID string, retryAfter int) *AppError {
	return &AppError{
		Type:      RateLimitError,
		Message:   "Rate limit exceeded",
		Code:      http.StatusTooManyRequests,
		RequestID: requestID,
		Details: map[string]interface{}{
			"retry_after": retryAfter,
		},
	}
}

// NewUnavailableError reports a request rejected by the admission queue.
func NewUnavailableError(requestID, message string) *AppError {
	return &AppError{
		Type:      UnavailableError,
		Message:   message,
		Code:      http.StatusServiceUnavailable,
		RequestID: requestID,
	}
}

// NewInternalError reports an unexpected failure with a generic message.
func NewInternalError(requestID string, err error) *AppError {
	return &AppError{
		Type:      InternalError,
		Message:   MessageInternal,
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}
