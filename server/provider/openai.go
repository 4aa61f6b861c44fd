package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/teilomillet/econochat/config"
	"github.com/teilomillet/econochat/errors"
	"go.uber.org/zap"
)

// OpenAIClient calls the chat completions API.
type OpenAIClient struct {
	client *openai.Client
	apiKey string
	envVar string
	logger *zap.Logger
}

// NewOpenAI creates a client for cfg. An empty key is accepted here and
// reported on every call instead.
func NewOpenAI(cfg config.LLMConfig, logger *zap.Logger) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		apiKey: cfg.APIKey,
		envVar: config.APIKeyEnv("openai"),
		logger: logger,
	}
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", MissingCredential(c.envVar)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	// Temperature is omitempty in the request type; a literal zero would be
	// dropped and the API default of 1 used instead.
	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: temperature,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", c.classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", EmptyCompletion()
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", EmptyCompletion()
	}
	return content, nil
}

// classify maps go-openai failures. A rejected key is a credential problem,
// everything else is upstream.
func (c *OpenAIClient) classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case stderrors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case stderrors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	c.logger.Warn("openai completion failed", zap.Int("status", status), zap.Error(err))

	if status == http.StatusUnauthorized {
		return errors.NewConfigError("", fmt.Errorf("openai rejected the credential: %w", err))
	}
	if status != 0 {
		return errors.NewUpstreamError("", fmt.Sprintf("%s (HTTP %d)", strings.TrimSuffix(MessageUpstream, "."), status), err)
	}
	return Upstream(err)
}
