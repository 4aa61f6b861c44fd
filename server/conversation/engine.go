// Package conversation runs one chat exchange against the completion
// provider and keeps the session history consistent.
//
// A user turn and the assistant reply are committed together or not at all:
// when the provider fails or answers with nothing, the stored history is
// left exactly as it was before the call.
package conversation

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/teilomillet/econochat/config"
	"github.com/teilomillet/econochat/errors"
	"github.com/teilomillet/econochat/server/metrics"
	"github.com/teilomillet/econochat/server/provider"
	"github.com/teilomillet/econochat/server/session"
	"github.com/teilomillet/econochat/server/validation"
	"go.uber.org/zap"
)

// Turn is one message of a conversation.
type Turn = session.Turn

// Validation messages.
const (
	MessageEmpty   = "El mensaje no puede estar vacío."
	MessageTooLong = "El mensaje es demasiado largo."
)

// Settings are the hot-reloadable chat parameters.
type Settings struct {
	Model          string
	Temperature    float64
	SystemPrompt   string
	MaxInputTokens int
}

// SettingsFrom extracts Settings from the chat configuration section.
func SettingsFrom(cfg config.ChatConfig) Settings {
	return Settings{
		Model:          cfg.Model,
		Temperature:    cfg.Temperature,
		SystemPrompt:   cfg.SystemPrompt,
		MaxInputTokens: cfg.MaxInputTokens,
	}
}

// Exchange is the outcome of a successful Converse call.
type Exchange struct {
	Reply   string `json:"reply"`
	History []Turn `json:"history"`
}

// Engine orchestrates chat exchanges. It is safe for concurrent use;
// exchanges on the same session are serialized.
type Engine struct {
	client   provider.Client
	store    session.Store
	locker   *session.Locker
	logger   *zap.Logger
	metrics  *metrics.Metrics
	settings atomic.Pointer[Settings]

	tokensMu    sync.Mutex
	tokens      *validation.TokenCounter
	tokensModel string
	tokensFixed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records exchange outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLocker shares a session locker with other components.
func WithLocker(l *session.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithTokenCounter sets the counter used for MaxInputTokens instead of one
// derived from the model.
func WithTokenCounter(tc *validation.TokenCounter) Option {
	return func(e *Engine) {
		e.tokens = tc
		e.tokensFixed = true
	}
}

// New creates an Engine.
func New(client provider.Client, store session.Store, settings Settings, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		client: client,
		store:  store,
		locker: session.NewLocker(),
		logger: logger,
	}
	e.settings.Store(&settings)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UpdateSettings replaces the chat settings. Exchanges already running keep
// the settings they started with.
func (e *Engine) UpdateSettings(s Settings) {
	e.settings.Store(&s)
}

// Settings returns the active settings.
func (e *Engine) Settings() Settings {
	return *e.settings.Load()
}

// History returns the stored turns of sessionID, empty when unknown.
func (e *Engine) History(ctx context.Context, sessionID string) ([]Turn, error) {
	history, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, errors.NewInternalError("", err)
	}
	return history, nil
}

// Reset drops the history of sessionID.
func (e *Engine) Reset(ctx context.Context, sessionID string) error {
	unlock := e.locker.Lock(sessionID)
	defer unlock()

	if err := e.store.Clear(ctx, sessionID); err != nil {
		return errors.NewInternalError("", err)
	}
	return nil
}

// Converse sends message on behalf of sessionID and commits the user turn
// together with the reply.
func (e *Engine) Converse(ctx context.Context, sessionID, message string) (*Exchange, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errors.NewValidationError("", MessageEmpty, nil)
	}

	s := e.settings.Load()
	if err := e.checkLength(message, s); err != nil {
		return nil, err
	}

	unlock := e.locker.Lock(sessionID)
	defer unlock()

	history, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, errors.NewInternalError("", err)
	}

	// history is a private copy, so the candidate can be built in place.
	candidate := append(history, Turn{Role: provider.RoleUser, Content: message})

	messages := make([]provider.Message, 0, len(candidate)+1)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: s.SystemPrompt})
	for _, t := range candidate {
		messages = append(messages, provider.Message{Role: t.Role, Content: t.Content})
	}

	reply, err := e.client.Complete(ctx, provider.Request{
		Model:       s.Model,
		Temperature: s.Temperature,
		Messages:    messages,
	})
	if err != nil {
		e.discarded(sessionID, err)
		return nil, provider.Upstream(err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		err := provider.EmptyCompletion()
		e.discarded(sessionID, err)
		return nil, err
	}

	committed := append(candidate, Turn{Role: provider.RoleAssistant, Content: reply})
	if err := e.store.Set(ctx, sessionID, committed); err != nil {
		return nil, errors.NewInternalError("", err)
	}

	if e.metrics != nil {
		e.metrics.ChatTurns.WithLabelValues("committed").Inc()
	}
	e.logger.Debug("chat exchange committed",
		zap.String("session_id", sessionID),
		zap.Int("turns", len(committed)),
	)

	return &Exchange{Reply: reply, History: committed}, nil
}

func (e *Engine) discarded(sessionID string, err error) {
	if e.metrics != nil {
		e.metrics.ChatTurns.WithLabelValues("discarded").Inc()
	}
	e.logger.Info("chat exchange discarded",
		zap.String("session_id", sessionID),
		zap.Error(err),
	)
}

func (e *Engine) checkLength(message string, s *Settings) error {
	if s.MaxInputTokens <= 0 {
		return nil
	}

	tc, err := e.counter(s.Model)
	if err != nil {
		e.logger.Warn("token counter unavailable, skipping length check", zap.Error(err))
		return nil
	}
	if err := tc.Check(message, s.MaxInputTokens); err != nil {
		return errors.NewValidationError("", MessageTooLong, map[string]interface{}{
			"max_input_tokens": s.MaxInputTokens,
			"reason":           err.Error(),
		})
	}
	return nil
}

// counter returns a token counter for model, built on first use because
// tiktoken loads its encoding tables lazily.
func (e *Engine) counter(model string) (*validation.TokenCounter, error) {
	e.tokensMu.Lock()
	defer e.tokensMu.Unlock()

	if e.tokens != nil && (e.tokensFixed || e.tokensModel == model) {
		return e.tokens, nil
	}
	tc, err := validation.NewTokenCounter(model)
	if err != nil {
		return nil, err
	}
	e.tokens, e.tokensModel = tc, model
	return tc, nil
}
