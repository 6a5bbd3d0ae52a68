package ai

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates prompt sizes in tokens. Encodings are loaded lazily
// and cached per model; an unknown model falls back to cl100k_base.
type TokenCounter struct {
	model string

	once sync.Once
	tkm  *tiktoken.Tiktoken
	err  error
}

// NewTokenCounter creates a counter using the encoding of model.
func NewTokenCounter(model string) *TokenCounter {
	return &TokenCounter{model: model}
}

func (c *TokenCounter) load() {
	// 1. Get the encoding for the model (e.g., gpt-4 uses 'cl100k_base')
	c.tkm, c.err = tiktoken.EncodingForModel(c.model)
	if c.err != nil {
		c.tkm, c.err = tiktoken.GetEncoding("cl100k_base")
	}
	if c.err != nil {
		c.err = fmt.Errorf("load token encoding: %w", c.err)
	}
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) (int, error) {
	c.once.Do(c.load)
	if c.err != nil {
		return 0, c.err
	}
	return len(c.tkm.Encode(text, nil, nil)), nil
}
