package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/teilomillet/econochat/config"
	"github.com/teilomillet/econochat/errors"
	"github.com/teilomillet/econochat/server/metrics"
	"golang.org/x/time/rate"
)

// visitorTTL is how long an idle client keeps its limiter.
const visitorTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client IP with a token bucket. Its
// settings can be replaced at runtime with Update.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	enabled   bool
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewRateLimiter creates a limiter from cfg. m may be nil.
func NewRateLimiter(cfg config.RateLimitConfig, m *metrics.Metrics) *RateLimiter {
	l := &RateLimiter{
		visitors: make(map[string]*visitor),
		metrics:  m,
		now:      time.Now,
	}
	l.Update(cfg)
	return l
}

// Update applies cfg and forgets every client bucket.
func (l *RateLimiter) Update(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.enabled = cfg.Enabled && cfg.RequestsPerMinute > 0 && cfg.Burst > 0
	l.limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	l.burst = cfg.Burst
	l.visitors = make(map[string]*visitor)
}

// allow reports whether client may proceed, and if not, how many seconds it
// should wait.
func (l *RateLimiter) allow(client string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return true, 0
	}

	now := l.now()
	if now.Sub(l.lastSweep) > visitorTTL {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(l.visitors, key)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[client] = v
	}
	v.lastSeen = now

	if v.limiter.AllowN(now, 1) {
		return true, 0
	}
	return false, int(math.Ceil(1 / float64(l.limit)))
}

// Handler rejects clients over their budget with a 429 JSON error.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		ok, retryAfter := l.allow(client)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		if l.metrics != nil {
			l.metrics.RateLimitHits.WithLabelValues(client).Inc()
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		errors.WriteError(w, errors.NewRateLimitError(GetRequestID(r.Context()), retryAfter))
	})
}

// Len returns the number of tracked clients.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
