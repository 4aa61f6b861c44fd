package provider

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/teilomillet/econochat/config"
	"github.com/teilomillet/econochat/errors"
	"github.com/teilomillet/econochat/server/circuitbreaker"
	"github.com/teilomillet/econochat/server/metrics"
	"go.uber.org/zap"
)

// WithBreaker routes calls through cb. Credential errors and caller
// cancellations do not count as provider failures. A rejected call is an
// upstream_error.
func WithBreaker(next Client, cb *circuitbreaker.CircuitBreaker) Client {
	return ClientFunc(func(ctx context.Context, req Request) (string, error) {
		var out string
		err := cb.Execute(func() error {
			var err error
			out, err = next.Complete(ctx, req)
			return err
		})
		if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return "", errors.NewUpstreamError("", MessageUnavailable, err)
		}
		return out, err
	})
}

// BreakerConfig translates the configuration section into breaker settings.
func BreakerConfig(cfg config.CircuitBreakerConfig) circuitbreaker.Config {
	return circuitbreaker.Config{
		Name:             "completion_provider",
		FailureThreshold: cfg.FailureThreshold,
		Timeout:          cfg.Timeout,
		Interval:         cfg.Interval,
		MaxRequests:      cfg.MaxRequests,
		Ignore: func(err error) bool {
			return IsCredentialError(err) || stderrors.Is(err, context.Canceled)
		},
	}
}

// Instrument records every call made through next in m. backend names the
// active provider at call time.
func Instrument(next Client, backend func() string, m *metrics.Metrics) Client {
	return ClientFunc(func(ctx context.Context, req Request) (string, error) {
		start := time.Now()
		out, err := next.Complete(ctx, req)

		name := backend()
		m.ProviderRequests.WithLabelValues(name, req.Model).Inc()
		m.ProviderDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			m.ProviderErrors.WithLabelValues(errorKind(err)).Inc()
		}
		return out, err
	})
}

func errorKind(err error) string {
	if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return "circuit_open"
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return string(appErr.Type)
	}
	return "unknown"
}

// Dynamic forwards to a backend that is rebuilt whenever the LLM settings
// change, so a credential added to the configuration file takes effect
// without a restart.
type Dynamic struct {
	current atomic.Pointer[dynamicBackend]
	logger  *zap.Logger
	build   func(config.LLMConfig, *zap.Logger) Client
}

type dynamicBackend struct {
	cfg    config.LLMConfig
	client Client
}

// NewDynamic builds the initial backend from cfg.
func NewDynamic(cfg config.LLMConfig, logger *zap.Logger) *Dynamic {
	d := &Dynamic{logger: logger, build: New}
	d.current.Store(&dynamicBackend{cfg: cfg, client: d.build(cfg, logger)})
	return d
}

// Update swaps the backend when cfg differs from the active settings.
// Calls already in flight finish on the old backend.
func (d *Dynamic) Update(cfg config.LLMConfig) {
	if d.current.Load().cfg == cfg {
		return
	}
	d.current.Store(&dynamicBackend{cfg: cfg, client: d.build(cfg, d.logger)})
	d.logger.Info("completion provider reconfigured",
		zap.String("provider", cfg.Provider),
		zap.Bool("credential", cfg.APIKey != ""),
	)
}

// Backend returns the active provider name.
func (d *Dynamic) Backend() string {
	return d.current.Load().cfg.Provider
}

// Complete implements Client.
func (d *Dynamic) Complete(ctx context.Context, req Request) (string, error) {
	return d.current.Load().client.Complete(ctx, req)
}
