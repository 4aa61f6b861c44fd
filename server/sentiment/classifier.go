// Package sentiment classifies Spanish text as positive, negative or
// neutral through the completion provider.
//
// Classification is two staged: Parse rejects completions that are not a
// JSON object, Normalize then coerces each field into range and cannot
// fail.
package sentiment

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/teilomillet/econochat/errors"
	"github.com/teilomillet/econochat/server/metrics"
	"github.com/teilomillet/econochat/server/provider"
	"go.uber.org/zap"
)

// Instruction is the system message of every classification call.
const Instruction = "Analiza el sentimiento de un texto en español y devuelve SOLO JSON " +
	"válido con las claves: sentimiento (positivo|negativo|neutro), " +
	"confianza (número entre 0 y 100), explicacion (máx 2 frases)."

// MessageEmptyText is returned for blank input.
const MessageEmptyText = "Debes proporcionar un texto para analizar."

// Classifier classifies single texts. It is safe for concurrent use.
type Classifier struct {
	client  provider.Client
	model   atomic.Value
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewClassifier creates a Classifier using model. m may be nil.
func NewClassifier(client provider.Client, model string, logger *zap.Logger, m *metrics.Metrics) *Classifier {
	c := &Classifier{client: client, logger: logger, metrics: m}
	c.model.Store(model)
	return c
}

// SetModel switches the model used by later calls.
func (c *Classifier) SetModel(model string) {
	c.model.Store(model)
}

// Model returns the active model.
func (c *Classifier) Model() string {
	return c.model.Load().(string)
}

// Classify asks the provider for a structured judgement of text and
// normalizes it. Provider failures and malformed completions are returned
// as errors; field level anomalies are defaulted.
func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, errors.NewValidationError("", MessageEmptyText, nil)
	}

	completion, err := c.client.Complete(ctx, provider.Request{
		Model:       c.Model(),
		Temperature: 0,
		JSON:        true,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: Instruction},
			{Role: provider.RoleUser, Content: text},
		},
	})
	if err != nil {
		return Result{}, provider.Upstream(err)
	}

	raw, err := Parse(completion)
	if err != nil {
		c.logger.Warn("malformed classification",
			zap.String("completion", truncate(completion, 200)),
			zap.Error(err),
		)
		return Result{}, err
	}

	result := Normalize(raw)
	if c.metrics != nil {
		c.metrics.Classifications.WithLabelValues(string(result.Label)).Inc()
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
