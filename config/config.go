// Package config provides configuration management for the econochat server.
// It covers the HTTP server, the completion provider, the chat and sentiment
// features, session storage and logging.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt is the chat preamble. It is injected at prompt build
// time and never stored in a session history.
const DefaultSystemPrompt = "Eres un asistente experto en economía española. Responde de forma clara, " +
	"rigurosa y útil para público general y profesional. Cuando sea relevante, " +
	"incluye contexto de España y matices."

// Config represents the complete server configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	LLM            LLMConfig            `yaml:"llm"`
	Chat           ChatConfig           `yaml:"chat"`
	Sentiment      SentimentConfig      `yaml:"sentiment"`
	Batch          BatchConfig          `yaml:"batch"`
	Session        SessionConfig        `yaml:"session"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// ServerConfig holds server-specific configuration for the HTTP server.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 5000)
	Port int `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing the response. Batch requests issue one
	// provider call per row, so this is 0 (unlimited) by default.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxHeaderBytes limits request header size (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// ShutdownTimeout is how long in-flight requests get on shutdown (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxUploadBytes caps CSV uploads (default: 10MB)
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// AllowedOrigins lists CORS origins; empty disables CORS headers
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxInFlight caps concurrent /api requests; 0 means unlimited.
	// Requests over the cap wait in FIFO order, up to MaxQueued of them.
	MaxInFlight int `yaml:"max_in_flight"`
	MaxQueued   int `yaml:"max_queued"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures the per-client limiter on /api routes.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// LLMConfig describes how to reach the completion provider.
type LLMConfig struct {
	// Provider is "openai" (served by go-openai) or any provider name gollm
	// understands, e.g. "anthropic" or "ollama".
	Provider string `yaml:"provider"`

	// APIKey is the provider credential. Use ${OPENAI_API_KEY} in YAML; when
	// empty, the provider's conventional environment variable is used.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint (optional)
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single completion call. 0 means no timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// ChatConfig configures the conversational assistant.
type ChatConfig struct {
	Model        string  `yaml:"model"`
	Temperature  float64 `yaml:"temperature"`
	SystemPrompt string  `yaml:"system_prompt"`

	// MaxInputTokens rejects longer user messages. 0 disables the check.
	MaxInputTokens int `yaml:"max_input_tokens"`
}

// SentimentConfig configures the classifier.
type SentimentConfig struct {
	Model string `yaml:"model"`
}

// BatchConfig configures the CSV pipeline.
type BatchConfig struct {
	// Concurrency is the number of rows classified at once. 1 keeps the
	// strictly sequential behaviour.
	Concurrency int `yaml:"concurrency"`

	// MaxRows rejects larger files. 0 means unlimited.
	MaxRows int `yaml:"max_rows"`
}

// SessionConfig configures chat history storage and the session cookie.
type SessionConfig struct {
	// Backend is one of "memory", "bolt" or "postgres"
	Backend      string `yaml:"backend"`
	Secret       string `yaml:"secret"`
	CookieName   string `yaml:"cookie_name"`
	CookieSecure bool   `yaml:"cookie_secure"`
	BoltPath     string `yaml:"bolt_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`
}

// CircuitBreakerConfig configures the breaker in front of the provider.
type CircuitBreakerConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxRequests is the number of requests allowed through when half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for clearing counts
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of consecutive failures that trips it
	FailureThreshold uint32 `yaml:"failure_threshold"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level"`

	// Format specifies log output format: json or text
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file is given:
// gpt-4o-mini on OpenAI, chat temperature 0.4 and in-memory sessions.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  10 << 20,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 60,
				Burst:             10,
			},
		},
		LLM: LLMConfig{
			Provider: "openai",
		},
		Chat: ChatConfig{
			Model:        "gpt-4o-mini",
			Temperature:  0.4,
			SystemPrompt: DefaultSystemPrompt,
		},
		Sentiment: SentimentConfig{
			Model: "gpt-4o-mini",
		},
		Batch: BatchConfig{
			Concurrency: 1,
		},
		Session: SessionConfig{
			Backend:    "memory",
			Secret:     "dev-secret-change-me",
			CookieName: "econochat_session",
			BoltPath:   "data/sessions.bolt",
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          false,
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFile loads configuration from a YAML file.
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// LoadDefault returns DefaultConfig with environment fallbacks applied. It
// is used when no configuration file exists.
func LoadDefault() (*Config, error) {
	cfg := DefaultConfig()
	cfg.ApplyEnvFallbacks()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars resolves ${VAR} and ${VAR:-default} references. Nested
// references are expanded until the string stops changing.
//
// Examples:
//   - "${OPENAI_API_KEY}" → "sk-..."
//   - "${PORT:-5000}" → "5000" (if PORT is unset)
func expandEnvVars(s string) (string, error) {
	if strings.Count(s, "${") > strings.Count(s, "}") {
		return "", fmt.Errorf("invalid syntax: unterminated variable reference")
	}

	resolve := func(key string) string {
		if i := strings.Index(key, ":-"); i >= 0 {
			if val := os.Getenv(key[:i]); val != "" {
				return val
			}
			return key[i+2:]
		}
		return os.Getenv(key)
	}

	result := os.Expand(s, resolve)
	for prev := ""; prev != result; {
		prev = result
		result = os.Expand(result, resolve)
	}
	return result, nil
}

// Load loads configuration from an io.Reader. The YAML is decoded on top of
// DefaultConfig, environment fallbacks are applied and the result validated.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	config := DefaultConfig()

	dec := yaml.NewDecoder(strings.NewReader(expandedData))
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	config.ApplyEnvFallbacks()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// ApplyEnvFallbacks fills settings left empty from the conventional
// environment variables: the provider API key, SESSION_SECRET and PORT.
func (c *Config) ApplyEnvFallbacks() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv(APIKeyEnv(c.LLM.Provider))
	}
	if secret := os.Getenv("SESSION_SECRET"); secret != "" && c.Session.Secret == DefaultConfig().Session.Secret {
		c.Session.Secret = secret
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
}

// APIKeyEnv returns the environment variable conventionally holding the
// credential for provider.
func APIKeyEnv(provider string) string {
	if provider == "" {
		provider = "openai"
	}
	return strings.ToUpper(provider) + "_API_KEY"
}

// Validate checks if the configuration is valid. A missing API key is not a
// configuration error here: it is reported per request so the server can
// start and pick the key up on reload.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout: %v", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("negative write timeout: %v", c.Server.WriteTimeout)
	}
	if c.Server.MaxHeaderBytes < 0 {
		return fmt.Errorf("negative max header bytes: %d", c.Server.MaxHeaderBytes)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("negative shutdown timeout: %v", c.Server.ShutdownTimeout)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive: %d", c.Server.MaxUploadBytes)
	}
	if c.Server.MaxInFlight < 0 || c.Server.MaxQueued < 0 {
		return fmt.Errorf("negative admission limits: max_in_flight=%d max_queued=%d", c.Server.MaxInFlight, c.Server.MaxQueued)
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RequestsPerMinute <= 0 || c.Server.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests_per_minute and burst")
	}

	if c.LLM.Provider == "" {
		return fmt.Errorf("empty LLM provider")
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("negative LLM timeout: %v", c.LLM.Timeout)
	}

	if c.Chat.Model == "" {
		return fmt.Errorf("empty chat model")
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		return fmt.Errorf("chat temperature out of range [0, 2]: %v", c.Chat.Temperature)
	}
	if strings.TrimSpace(c.Chat.SystemPrompt) == "" {
		return fmt.Errorf("empty chat system prompt")
	}
	if c.Chat.MaxInputTokens < 0 {
		return fmt.Errorf("negative max input tokens: %d", c.Chat.MaxInputTokens)
	}
	if c.Sentiment.Model == "" {
		return fmt.Errorf("empty sentiment model")
	}

	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch concurrency must be at least 1: %d", c.Batch.Concurrency)
	}
	if c.Batch.MaxRows < 0 {
		return fmt.Errorf("negative batch max rows: %d", c.Batch.MaxRows)
	}

	switch c.Session.Backend {
	case "memory":
	case "bolt":
		if c.Session.BoltPath == "" {
			return fmt.Errorf("bolt session backend requires bolt_path")
		}
	case "postgres":
		if c.Session.PostgresDSN == "" {
			return fmt.Errorf("postgres session backend requires postgres_dsn")
		}
	default:
		return fmt.Errorf("invalid session backend: %s", c.Session.Backend)
	}
	if c.Session.Secret == "" {
		return fmt.Errorf("empty session secret")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("empty session cookie name")
	}

	if c.CircuitBreaker.Enabled && c.CircuitBreaker.FailureThreshold == 0 {
		return fmt.Errorf("circuit breaker failure threshold must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
