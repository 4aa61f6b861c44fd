// Package server assembles the econochat HTTP server: it builds every
// component from the configuration, mounts the API on a chi router and
// applies configuration reloads while running.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/teilomillet/econochat/config"
	"github.com/teilomillet/econochat/errors"
	"github.com/teilomillet/econochat/server/batch"
	"github.com/teilomillet/econochat/server/circuitbreaker"
	"github.com/teilomillet/econochat/server/conversation"
	"github.com/teilomillet/econochat/server/handlers"
	"github.com/teilomillet/econochat/server/metrics"
	"github.com/teilomillet/econochat/server/middleware"
	"github.com/teilomillet/econochat/server/provider"
	"github.com/teilomillet/econochat/server/sentiment"
	"github.com/teilomillet/econochat/server/session"
	"github.com/teilomillet/econochat/server/validation"
	"go.uber.org/zap"
)

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     chi.Router
	watcher    config.Watcher
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu  sync.RWMutex
	cfg *config.Config

	store      session.Store
	provider   *provider.Dynamic // nil when the client is injected
	engine     *conversation.Engine
	classifier *sentiment.Classifier
	pipeline   *batch.Pipeline
	chat       *handlers.ChatHandler
	sentiment  *handlers.SentimentHandler
	limiter    *middleware.RateLimiter
	queue      *middleware.Queue
}

type options struct {
	client  provider.Client
	store   session.Store
	metrics *metrics.Metrics
}

// Option customizes NewServer, mostly for tests.
type Option func(*options)

// WithClient replaces the configured completion provider. Provider
// settings are then ignored on reload.
func WithClient(c provider.Client) Option {
	return func(o *options) { o.client = c }
}

// WithStore replaces the configured session store.
func WithStore(s session.Store) Option {
	return func(o *options) { o.store = s }
}

// WithMetrics uses m instead of a fresh registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewServer creates a server from the watcher's current configuration and
// subscribes to its updates.
func NewServer(ctx context.Context, watcher config.Watcher, logger *zap.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := watcher.GetCurrentConfig()
	if cfg == nil {
		return nil, fmt.Errorf("watcher has no configuration")
	}

	m := o.metrics
	if m == nil {
		m = metrics.NewMetrics()
	}

	store := o.store
	if store == nil {
		var err error
		store, err = session.Open(ctx, cfg.Session)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
	}

	s := &Server{
		watcher: watcher,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		store:   store,
	}

	client := o.client
	backend := func() string { return "custom" }
	if client == nil {
		s.provider = provider.NewDynamic(cfg.LLM, logger.Named("provider"))
		client = s.provider
		backend = s.provider.Backend
	}
	if cfg.CircuitBreaker.Enabled {
		cb := circuitbreaker.New(provider.BreakerConfig(cfg.CircuitBreaker), logger, m.BreakerState)
		client = provider.WithBreaker(client, cb)
	}
	client = provider.Instrument(client, backend, m)

	v := validation.New()
	s.engine = conversation.New(client, store, conversation.SettingsFrom(cfg.Chat), logger.Named("chat"),
		conversation.WithMetrics(m))
	s.classifier = sentiment.NewClassifier(client, cfg.Sentiment.Model, logger.Named("sentiment"), m)
	s.pipeline = batch.New(s.classifier, batchOptions(cfg.Batch), logger.Named("batch"), m)

	codec := session.NewCodec(cfg.Session.Secret, cfg.Session.CookieName, cfg.Session.CookieSecure)
	s.chat = handlers.NewChatHandler(s.engine, codec, v, logger)
	s.sentiment = handlers.NewSentimentHandler(s.classifier, s.pipeline, v, cfg.Server.MaxUploadBytes, logger)
	s.limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, m)
	s.queue = middleware.NewQueue(cfg.Server.MaxInFlight, cfg.Server.MaxQueued, m)

	s.router = s.routes(cfg)
	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        s.router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go s.watchConfig(watcher.Subscribe())

	return s, nil
}

func batchOptions(cfg config.BatchConfig) batch.Options {
	return batch.Options{Concurrency: cfg.Concurrency, MaxRows: cfg.MaxRows}
}

func (s *Server) routes(cfg *config.Config) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger))
	r.Use(errors.ErrorHandler(s.logger))
	r.Use(middleware.PrometheusMetrics(s.metrics))
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	// Set before mounting /api so the subrouter inherits them.
	r.NotFound(errors.NotFoundHandler)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/health", s.health)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Handler)
		r.Use(s.queue.Handler)

		r.Get("/chat/history", s.chat.History)
		r.Post("/chat", s.chat.Send)
		r.Post("/chat/reset", s.chat.Reset)
		r.Post("/sentiment/text", s.sentiment.Text)
		r.Post("/sentiment/csv", s.sentiment.CSV)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		s.logger.Warn("failed to encode health response", zap.Error(err))
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	if errors.IsAPIPath(r.URL.Path) {
		errors.ErrorWithType(w, "method not allowed", errors.ValidationError, http.StatusMethodNotAllowed)
		return
	}
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Config returns the configuration currently applied.
func (s *Server) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Server) watchConfig(updates <-chan *config.Config) {
	for cfg := range updates {
		if cfg != nil {
			s.applyConfig(cfg)
		}
	}
}

// applyConfig pushes a reloaded configuration into the running components.
// Listener, session, breaker, CORS and logging settings are only read at
// startup; changing them is reported but not applied.
func (s *Server) applyConfig(cfg *config.Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if s.provider != nil {
		s.provider.Update(cfg.LLM)
	}
	s.engine.UpdateSettings(conversation.SettingsFrom(cfg.Chat))
	s.classifier.SetModel(cfg.Sentiment.Model)
	s.pipeline.SetOptions(batchOptions(cfg.Batch))
	s.sentiment.SetMaxUpload(cfg.Server.MaxUploadBytes)
	if cfg.Server.RateLimit != old.Server.RateLimit {
		s.limiter.Update(cfg.Server.RateLimit)
	}
	s.queue.SetLimits(cfg.Server.MaxInFlight, cfg.Server.MaxQueued)

	if pending := restartOnly(old, cfg); len(pending) > 0 {
		s.logger.Warn("configuration changes require a restart",
			zap.Strings("settings", pending),
		)
	}

	s.logger.Info("configuration applied",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("chat_model", cfg.Chat.Model),
		zap.String("sentiment_model", cfg.Sentiment.Model),
		zap.Int("batch_concurrency", cfg.Batch.Concurrency),
	)
}

func restartOnly(old, cfg *config.Config) []string {
	var changed []string
	if old.Server.Port != cfg.Server.Port ||
		old.Server.ReadTimeout != cfg.Server.ReadTimeout ||
		old.Server.WriteTimeout != cfg.Server.WriteTimeout ||
		old.Server.MaxHeaderBytes != cfg.Server.MaxHeaderBytes {
		changed = append(changed, "server.listener")
	}
	if !slices.Equal(old.Server.AllowedOrigins, cfg.Server.AllowedOrigins) {
		changed = append(changed, "server.allowed_origins")
	}
	if old.Session != cfg.Session {
		changed = append(changed, "session")
	}
	if old.CircuitBreaker != cfg.CircuitBreaker {
		changed = append(changed, "circuit_breaker")
	}
	if old.Logging != cfg.Logging {
		changed = append(changed, "logging")
	}
	return changed
}

// Start listens on the configured port and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then drains in-flight requests for
// at most server.shutdown_timeout and closes the session store.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("server started", zap.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		timeout := s.Config().Server.ShutdownTimeout
		shutdownCtx, cancel := context.WithCancel(context.Background())
		if timeout > 0 {
			shutdownCtx, cancel = context.WithTimeout(context.Background(), timeout)
		}
		defer cancel()

		s.logger.Info("shutting down server", zap.Duration("timeout", timeout))
		err := s.httpServer.Shutdown(shutdownCtx)
		if closeErr := s.store.Close(); closeErr != nil {
			s.logger.Warn("failed to close session store", zap.Error(closeErr))
		}
		if err != nil {
			return fmt.Errorf("error during server shutdown: %w", err)
		}
		return nil

	case err := <-errChan:
		return err
	}
}
