package errors

import (
	"net/http"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"
)

// APIPrefix is the path prefix whose failures are reported as JSON. Other
// paths get plain text.
const APIPrefix = "/api/"

// ErrorHandler recovers panics from next, logs them with the stack and
// answers 500 in the format matching the request path.
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					requestID := w.Header().Get("X-Request-ID")
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.ByteString("stacktrace", debug.Stack()),
						zap.String("request_id", requestID),
						zap.String("path", r.URL.Path),
					)
					if IsAPIPath(r.URL.Path) {
						WriteError(w, NewInternalError(requestID, nil))
						return
					}
					http.Error(w, MessageInternal, http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// NotFoundHandler answers unknown routes, JSON under APIPrefix and plain
// text elsewhere.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	if IsAPIPath(r.URL.Path) {
		WriteError(w, NewNotFoundError(w.Header().Get("X-Request-ID")))
		return
	}
	http.Error(w, "not found", http.StatusNotFound)
}

// IsAPIPath reports whether path is served by the JSON API.
func IsAPIPath(path string) bool {
	return strings.HasPrefix(path, APIPrefix) || path == strings.TrimSuffix(APIPrefix, "/")
}

// LogError logs err with its context. Server-side errors are logged at
// error level, caller mistakes at info.
func LogError(logger *zap.Logger, err error, requestID string) {
	if appErr, ok := err.(*AppError); ok {
		fields := []zap.Field{
			zap.String("error_type", string(appErr.Type)),
			zap.String("message", appErr.Message),
			zap.Int("code", appErr.Code),
			zap.String("request_id", requestID),
			zap.Any("details", appErr.Details),
		}
		if cause := appErr.Unwrap(); cause != nil {
			fields = append(fields, zap.NamedError("cause", cause))
		}
		if appErr.Code >= http.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Info("request rejected", fields...)
		}
		return
	}
	logger.Error("unexpected error",
		zap.Error(err),
		zap.String("request_id", requestID),
	)
}
