package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/econochat/config"
	"github.com/teilomillet/econochat/errors"
	"github.com/teilomillet/econochat/server/metrics"
	"github.com/teilomillet/econochat/server/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest("POST", "/api/chat", nil)
	req.RemoteAddr = ip + ":1234"
	return req
}

func TestRateLimitMetrics(t *testing.T) {
	m := metrics.NewMetrics()
	limiter := middleware.NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             10,
	}, m)
	handler := limiter.Handler(okHandler())

	testIP := "127.0.0.1"

	// Make 11 requests (1 more than burst)
	for i := 0; i < 11; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom(testIP))

		if i < 10 {
			assert.Equal(t, http.StatusOK, rec.Code, "request %d", i)
			continue
		}

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))

		var body errors.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, errors.RateLimitError, body.Type)
		assert.EqualValues(t, 60, body.Details["retry_after"])

		assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitHits.WithLabelValues(testIP)))
	}
}

func TestRateLimitPerClient(t *testing.T) {
	limiter := middleware.NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             1,
	}, nil)
	handler := limiter.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.2"))
	assert.Equal(t, http.StatusOK, rec.Code, "another client has its own bucket")

	assert.Equal(t, 2, limiter.Len())
}

func TestRateLimitDisabled(t *testing.T) {
	limiter := middleware.NewRateLimiter(config.RateLimitConfig{Enabled: false}, nil)
	handler := limiter.Handler(okHandler())

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Zero(t, limiter.Len())
}

func TestRateLimitUpdate(t *testing.T) {
	limiter := middleware.NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             1,
	}, nil)
	handler := limiter.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	limiter.Update(config.RateLimitConfig{Enabled: false})

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitRefills(t *testing.T) {
	limiter := middleware.NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 6000,
		Burst:             1,
	}, nil)
	handler := limiter.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
	require.Equal(t, http.StatusOK, rec.Code)

	// 100 tokens per second
	time.Sleep(30 * time.Millisecond)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.1"))
	assert.Equal(t, http.StatusOK, rec.Code)
}
