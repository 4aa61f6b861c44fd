package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/eapache/queue/v2"
	apperrors "github.com/teilomillet/econochat/errors"
	"github.com/teilomillet/econochat/server/metrics"
)

// MessageBusy is returned when the admission queue is full.
const MessageBusy = "El servidor está ocupado. Inténtalo de nuevo en unos segundos."

var errQueueFull = errors.New("admission queue full")

// waiter is one request parked in the admission queue. ready is closed when
// it is granted a slot; cancelled waiters are skipped on dispatch.
type waiter struct {
	ready     chan struct{}
	granted   bool
	cancelled bool
}

// Queue bounds the number of requests processed at once. Requests over the
// limit wait in FIFO order; once maxQueued are waiting, new ones are shed
// with 503.
//
// Every completion call is slow and paid for, so this keeps a burst of
// uploads from fanning out into an unbounded number of provider calls.
type Queue struct {
	mu          sync.Mutex
	waiting     *queue.Queue[*waiter]
	queued      int
	inFlight    int
	maxInFlight int
	maxQueued   int
	metrics     *metrics.Metrics
}

// NewQueue creates an admission queue. maxInFlight <= 0 disables it. m may
// be nil.
func NewQueue(maxInFlight, maxQueued int, m *metrics.Metrics) *Queue {
	return &Queue{
		waiting:     queue.New[*waiter](),
		maxInFlight: maxInFlight,
		maxQueued:   maxQueued,
		metrics:     m,
	}
}

// SetLimits replaces both limits. Raising maxInFlight admits waiters
// immediately.
func (q *Queue) SetLimits(maxInFlight, maxQueued int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxInFlight = maxInFlight
	q.maxQueued = maxQueued
	q.dispatchLocked()
}

// Stats returns the number of requests in flight and waiting.
func (q *Queue) Stats() (inFlight, queued int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight, q.queued
}

func (q *Queue) acquire(ctx context.Context) error {
	q.mu.Lock()
	if q.maxInFlight <= 0 || (q.inFlight < q.maxInFlight && q.queued == 0) {
		q.inFlight++
		q.mu.Unlock()
		return nil
	}
	if q.queued >= q.maxQueued {
		q.mu.Unlock()
		return errQueueFull
	}

	w := &waiter{ready: make(chan struct{})}
	q.waiting.Add(w)
	q.queued++
	q.observeLocked()
	q.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		defer q.mu.Unlock()
		if w.granted {
			q.inFlight--
			q.dispatchLocked()
		} else {
			w.cancelled = true
			q.queued--
			q.observeLocked()
		}
		return ctx.Err()
	}
}

func (q *Queue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight--
	q.dispatchLocked()
}

// dispatchLocked hands free slots to waiters in arrival order.
func (q *Queue) dispatchLocked() {
	for q.waiting.Length() > 0 && (q.maxInFlight <= 0 || q.inFlight < q.maxInFlight) {
		w := q.waiting.Remove()
		if w.cancelled {
			continue
		}
		w.granted = true
		q.queued--
		q.inFlight++
		close(w.ready)
	}
	q.observeLocked()
}

func (q *Queue) observeLocked() {
	if q.metrics != nil {
		q.metrics.ActiveRequests.WithLabelValues("queued").Set(float64(q.queued))
	}
}

// Handler admits requests through the queue.
func (q *Queue) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := q.acquire(r.Context()); err != nil {
			// A cancelled waiter has no one left to answer.
			if errors.Is(err, errQueueFull) {
				if q.metrics != nil {
					q.metrics.ErrorsTotal.WithLabelValues("queue_full").Inc()
				}
				apperrors.WriteError(w, apperrors.NewUnavailableError(GetRequestID(r.Context()), MessageBusy))
			}
			return
		}
		defer q.release()

		next.ServeHTTP(w, r)
	})
}
