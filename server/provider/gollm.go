package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/teilomillet/econochat/config"
	"github.com/teilomillet/gollm"
	"go.uber.org/zap"
)

// keylessProviders run locally and need no credential.
var keylessProviders = map[string]bool{
	"ollama": true,
}

// LLMFactory creates a gollm model instance. It is replaced in tests.
type LLMFactory func(provider, model, apiKey string) (gollm.LLM, error)

func defaultLLMFactory(provider, model, apiKey string) (gollm.LLM, error) {
	if apiKey == "" {
		return gollm.NewLLM(
			gollm.SetProvider(provider),
			gollm.SetModel(model),
		)
	}
	return gollm.NewLLM(
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetAPIKey(apiKey),
	)
}

// GollmClient serves every provider supported by gollm. One gollm.LLM is
// kept per model; options on it are shared state, so each call holds the
// model's lock while it sets the temperature and generates.
type GollmClient struct {
	provider string
	apiKey   string
	baseURL  string
	factory  LLMFactory
	logger   *zap.Logger

	mu     sync.Mutex
	models map[string]*gollmModel
}

type gollmModel struct {
	mu  sync.Mutex
	llm gollm.LLM
}

// NewGollm creates a gollm backed client for cfg.
func NewGollm(cfg config.LLMConfig, logger *zap.Logger) *GollmClient {
	return NewGollmWithFactory(cfg, logger, defaultLLMFactory)
}

// NewGollmWithFactory is NewGollm with a custom model factory.
func NewGollmWithFactory(cfg config.LLMConfig, logger *zap.Logger, factory LLMFactory) *GollmClient {
	return &GollmClient{
		provider: strings.ToLower(cfg.Provider),
		apiKey:   cfg.APIKey,
		baseURL:  cfg.BaseURL,
		factory:  factory,
		logger:   logger,
		models:   make(map[string]*gollmModel),
	}
}

// Complete implements Client.
func (c *GollmClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" && !keylessProviders[c.provider] {
		return "", MissingCredential(config.APIKeyEnv(c.provider))
	}

	m, err := c.model(req.Model)
	if err != nil {
		return "", Upstream(err)
	}

	prompt := &gollm.Prompt{Messages: make([]gollm.PromptMessage, 0, len(req.Messages))}
	for _, msg := range req.Messages {
		prompt.Messages = append(prompt.Messages, gollm.PromptMessage{Role: msg.Role, Content: msg.Content})
	}

	m.mu.Lock()
	m.llm.SetOption("temperature", req.Temperature)
	out, err := m.llm.Generate(ctx, prompt)
	m.mu.Unlock()

	if err != nil {
		c.logger.Warn("gollm completion failed",
			zap.String("provider", c.provider),
			zap.String("model", req.Model),
			zap.Error(err))
		return "", Upstream(err)
	}

	if req.JSON {
		out = gollm.CleanResponse(out)
	}
	if strings.TrimSpace(out) == "" {
		return "", EmptyCompletion()
	}
	return out, nil
}

func (c *GollmClient) model(name string) (*gollmModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.models[name]; ok {
		return m, nil
	}

	llm, err := c.factory(c.provider, name, c.apiKey)
	if err != nil {
		return nil, fmt.Errorf("create %s model %q: %w", c.provider, name, err)
	}
	if c.baseURL != "" && c.provider == "ollama" {
		if err := llm.SetOllamaEndpoint(c.baseURL); err != nil {
			return nil, fmt.Errorf("set ollama endpoint: %w", err)
		}
	}

	m := &gollmModel{llm: llm}
	c.models[name] = m
	return m, nil
}
