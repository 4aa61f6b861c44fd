package providertest

import (
	"context"
	"sync"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
	"github.com/teilomillet/gollm/utils"
)

// MockLLM implements gollm.LLM without network access. GenerateFunc decides
// the reply; options set through SetOption are recorded.
//
// Example usage:
//
//	mockLLM := NewMockLLM(func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
//	    return `{"sentimiento": "positivo"}`, nil
//	})
type MockLLM struct {
	GenerateFunc func(context.Context, *gollm.Prompt) (string, error)
	Provider     string
	Model        string

	mu       sync.Mutex
	options  map[string]interface{}
	endpoint string
}

// NewMockLLM creates a MockLLM. A nil generateFunc makes Generate return an
// empty string.
func NewMockLLM(generateFunc func(context.Context, *gollm.Prompt) (string, error)) *MockLLM {
	return &MockLLM{
		GenerateFunc: generateFunc,
		Provider:     "mock",
		Model:        "mock-model",
		options:      make(map[string]interface{}),
	}
}

// Generate calls GenerateFunc.
func (m *MockLLM) Generate(ctx context.Context, prompt *gollm.Prompt, opts ...llm.GenerateOption) (string, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "", nil
}

// Option returns the last value set for key.
func (m *MockLLM) Option(key string) interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.options[key]
}

// Endpoint returns the endpoint set through SetOllamaEndpoint.
func (m *MockLLM) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

func (m *MockLLM) SetOption(key string, value interface{}) {
	m.mu.Lock()
	m.options[key] = value
	m.mu.Unlock()
}

func (m *MockLLM) SetOllamaEndpoint(endpoint string) error {
	m.mu.Lock()
	m.endpoint = endpoint
	m.mu.Unlock()
	return nil
}

func (m *MockLLM) Debug(format string, args ...interface{}) {}

func (m *MockLLM) GetPromptJSONSchema(opts ...gollm.SchemaOption) ([]byte, error) {
	return []byte(`{}`), nil
}

func (m *MockLLM) GetProvider() string { return m.Provider }

func (m *MockLLM) GetModel() string { return m.Model }

func (m *MockLLM) GetLogLevel() gollm.LogLevel { return gollm.LogLevelInfo }

func (m *MockLLM) UpdateLogLevel(level gollm.LogLevel) {}

func (m *MockLLM) SetLogLevel(level gollm.LogLevel) {}

func (m *MockLLM) GetLogger() utils.Logger { return nil }

func (m *MockLLM) NewPrompt(text string) *gollm.Prompt {
	return &gollm.Prompt{
		Messages: []gollm.PromptMessage{
			{Role: "user", Content: text},
		},
	}
}

func (m *MockLLM) SetEndpoint(endpoint string) {}

func (m *MockLLM) SupportsJSONSchema() bool { return true }

func (m *MockLLM) GenerateWithSchema(ctx context.Context, prompt *gollm.Prompt, schema interface{}, opts ...llm.GenerateOption) (string, error) {
	return m.Generate(ctx, prompt)
}

func (m *MockLLM) SetSystemPrompt(prompt string, cacheType llm.CacheType) {}
