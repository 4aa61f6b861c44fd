// Package provider abstracts the external completion service.
//
// A Client performs one blocking completion call. Backends exist for the
// OpenAI API (go-openai) and for every provider gollm understands; wrappers
// add a circuit breaker, Prometheus instrumentation and hot reload. None of
// them retries: every failure surfaces to the caller as an *errors.AppError,
// either a config_error (missing or rejected credential) or an
// upstream_error.
package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/teilomillet/econochat/config"
	"github.com/teilomillet/econochat/errors"
	"go.uber.org/zap"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User facing messages for upstream failures.
const (
	MessageUpstream        = "Error al contactar con el servicio de IA."
	MessageEmptyCompletion = "El modelo no devolvió contenido."
	MessageUnavailable     = "El servicio de IA no está disponible temporalmente."
)

var (
	// ErrMissingCredential is the cause of the config_error returned when no
	// API key is available for the configured provider.
	ErrMissingCredential = stderrors.New("provider credential is not configured")

	// ErrEmptyCompletion is the cause of the upstream_error returned when the
	// provider answers without content.
	ErrEmptyCompletion = stderrors.New("completion has no content")
)

// Message is one role-tagged entry of a prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single completion call.
type Request struct {
	Model       string
	Temperature float64
	Messages    []Message

	// JSON asks the provider to answer with a single JSON object.
	JSON bool
}

// Client performs completion calls.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// New builds the backend selected by cfg.Provider: "openai" uses go-openai,
// anything else is handed to gollm. A positive cfg.Timeout bounds each call.
func New(cfg config.LLMConfig, logger *zap.Logger) Client {
	var c Client
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		c = NewOpenAI(cfg, logger)
	default:
		c = NewGollm(cfg, logger)
	}
	if cfg.Timeout > 0 {
		c = WithTimeout(c, cfg.Timeout)
	}
	return c
}

// WithTimeout bounds every call made through next.
func WithTimeout(next Client, d time.Duration) Client {
	return ClientFunc(func(ctx context.Context, req Request) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next.Complete(ctx, req)
	})
}

// MissingCredential returns the config_error reported when envVar, the
// conventional variable for the provider key, is not set.
func MissingCredential(envVar string) *errors.AppError {
	return errors.NewConfigError("", fmt.Errorf("%w: set %s or llm.api_key", ErrMissingCredential, envVar))
}

// Upstream wraps a provider failure. Errors that already are an AppError
// are returned unchanged.
func Upstream(err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	return errors.NewUpstreamError("", MessageUpstream, err)
}

// EmptyCompletion returns the upstream_error for a reply without content.
func EmptyCompletion() *errors.AppError {
	return errors.NewUpstreamError("", MessageEmptyCompletion, ErrEmptyCompletion)
}

// IsCredentialError reports whether err is a config_error, which is never
// the provider's fault and must not count against its health.
func IsCredentialError(err error) bool {
	return stderrors.Is(err, &errors.AppError{Type: errors.ConfigError})
}
