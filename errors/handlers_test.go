package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestErrorHandler(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name         string
		path         string
		handler      http.Handler
		expectedCode int
		expectJSON   bool
	}{
		{
			name: "normal handler",
			path: "/api/chat",
			handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}),
			expectedCode: http.StatusOK,
		},
		{
			name: "panicking api handler",
			path: "/api/chat",
			handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic("test panic")
			}),
			expectedCode: http.StatusInternalServerError,
			expectJSON:   true,
		},
		{
			name: "panicking page handler",
			path: "/chat",
			handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic("test panic")
			}),
			expectedCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			rr := httptest.NewRecorder()
			rr.Header().Set("X-Request-ID", "test-request-id")

			ErrorHandler(logger)(tt.handler).ServeHTTP(rr, req)

			if rr.Code != tt.expectedCode {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedCode)
			}
			if tt.expectedCode != http.StatusInternalServerError {
				return
			}
			if tt.expectJSON {
				var body ErrorResponse
				if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if body.Error != MessageInternal {
					t.Errorf("error = %q, want %q", body.Error, MessageInternal)
				}
				if body.RequestID != "test-request-id" {
					t.Errorf("request_id = %q", body.RequestID)
				}
			} else if !strings.Contains(rr.Body.String(), MessageInternal) {
				t.Errorf("plain body = %q", rr.Body.String())
			}
		})
	}
}

func TestNotFoundHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	NotFoundHandler(rr, httptest.NewRequest("GET", "/api/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != MessageNotFound {
		t.Errorf("error = %q", body.Error)
	}

	rr = httptest.NewRecorder()
	NotFoundHandler(rr, httptest.NewRequest("GET", "/elsewhere", nil))
	if rr.Code != http.StatusNotFound || rr.Header().Get("Content-Type") == "application/json" {
		t.Errorf("expected plain text 404, got %d %q", rr.Code, rr.Header().Get("Content-Type"))
	}
}

func TestLogError(t *testing.T) {
	logger := zap.NewNop()
	requestID := "test-request-id"

	LogError(logger, NewValidationError(requestID, "test error", nil), requestID)
	LogError(logger, NewInternalError(requestID, nil), requestID)
	LogError(logger, New("plain"), requestID)
}
