package validation

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer defines the interface for token counting
type Tokenizer interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

// TokenCounter counts tokens the way the chat model does.
type TokenCounter struct {
	encoding Tokenizer
}

// fallbackEncoding is used for models tiktoken does not know, e.g. models
// served through gollm.
const fallbackEncoding = "cl100k_base"

// NewTokenCounter creates a new token counter for the specified model
func NewTokenCounter(model string) (*TokenCounter, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding for model %s: %w", model, err)
		}
	}
	return &TokenCounter{encoding: encoding}, nil
}

// NewTokenCounterWith wraps an existing tokenizer.
func NewTokenCounterWith(t Tokenizer) *TokenCounter {
	return &TokenCounter{encoding: t}
}

// Count returns the number of tokens in text.
func (tc *TokenCounter) Count(text string) int {
	return len(tc.encoding.Encode(text, nil, nil))
}

// Check fails when text is longer than limit tokens. A limit of 0 or less
// disables the check.
func (tc *TokenCounter) Check(text string, limit int) error {
	if limit <= 0 {
		return nil
	}
	if n := tc.Count(text); n > limit {
		return fmt.Errorf("message has %d tokens, limit is %d", n, limit)
	}
	return nil
}
