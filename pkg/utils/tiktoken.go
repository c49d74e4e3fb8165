// Package utils provides token counting, secret redaction and file helpers
// shared by the mailbox and the invocation strategies.
package utils

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts prompt tokens. Every backend is approximated with the
// GPT-4 encoding; the counts feed budgets and metrics, not billing.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		// 4 chars ≈ 1 token
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// TruncateToTokenLimit trims text so it fits in limit tokens, keeping the head.
// The cut is proportional to character count with a safety margin.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	currentTokens := tc.CountTokens(text)
	if currentTokens <= limit || limit <= 0 {
		return text
	}

	ratio := float64(limit) / float64(currentTokens)
	runes := []rune(text)
	charLimit := int(float64(len(runes)) * ratio * 0.9)
	if charLimit >= len(runes) {
		return text
	}
	return string(runes[:charLimit]) + "..."
}
