// Package handlers provides the HTTP handlers of the econochat API: the
// conversational assistant and the single-text and CSV sentiment endpoints.
//
// The package follows these design principles:
// 1. Consistent error handling using the errors package
// 2. Structured logging with request IDs
// 3. Request bodies are decoded leniently and then validated
// 4. Handlers only translate HTTP; the domain packages do the work
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/teilomillet/econochat/errors"
	"github.com/teilomillet/econochat/server/middleware"
	"go.uber.org/zap"
)

// maxJSONBody caps JSON request bodies. Longer bodies decode as empty and
// are rejected by validation.
const maxJSONBody = 1 << 20

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}

// writeFailure converts err to an AppError stamped with the request ID,
// logs it and writes it.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	requestID := middleware.GetRequestID(r.Context())
	appErr := errors.FromError(err, requestID)
	errors.LogError(logger, appErr, requestID)
	errors.WriteError(w, appErr)
}
