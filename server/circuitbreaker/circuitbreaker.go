// Package circuitbreaker guards the completion provider with a
// sony/gobreaker breaker and reports its state to Prometheus.
package circuitbreaker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config holds configuration for the circuit breaker
type Config struct {
	Name             string
	FailureThreshold uint32        // Consecutive failures before opening
	Timeout          time.Duration // Time spent open before probing again
	Interval         time.Duration // Closed-state period after which counts reset
	MaxRequests      uint32        // Requests allowed through while half-open

	// Ignore, when set, marks errors that must not count as failures.
	Ignore func(error) bool
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
	gauge  prometheus.Gauge
}

// New creates a breaker. state may be nil; when given it receives the
// numeric gobreaker state under the breaker's name.
func New(cfg Config, logger *zap.Logger, state *prometheus.GaugeVec) *CircuitBreaker {
	b := &CircuitBreaker{logger: logger}
	if state != nil {
		b.gauge = state.WithLabelValues(cfg.Name)
		b.gauge.Set(float64(gobreaker.StateClosed))
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: b.onStateChange,
	}
	if cfg.Ignore != nil {
		ignore := cfg.Ignore
		settings.IsSuccessful = func(err error) bool {
			return err == nil || ignore(err)
		}
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Execute runs f unless the breaker is open. ErrCircuitOpen is returned
// when the call was rejected.
func (b *CircuitBreaker) Execute(f func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, f()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return ErrCircuitOpen
	}
	return err
}

// State returns the current state of the breaker.
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the breaker's counters for the current generation.
func (b *CircuitBreaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

func (b *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	if b.gauge != nil {
		b.gauge.Set(float64(to))
	}
	if to == gobreaker.StateOpen {
		b.logger.Warn("Circuit breaker tripped",
			zap.String("name", name),
			zap.String("from", from.String()),
		)
		return
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}
