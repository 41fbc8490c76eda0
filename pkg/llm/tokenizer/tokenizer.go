// Package tokenizer counts and trims text by model tokens.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding is the tiktoken encoding used for all counts.
const Encoding = "cl100k_base"

var (
	sharedEncoder *tiktoken.Tiktoken
	encoderOnce   sync.Once
	encoderErr    error
)

// Tokenizer counts tokens with tiktoken, falling back to a length estimate
// when the encoding cannot be loaded (for example without network access).
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New returns a tokenizer. The returned tokenizer is always usable; a non-nil
// error signals that counts are estimates.
func New() (*Tokenizer, error) {
	encoderOnce.Do(func() {
		sharedEncoder, encoderErr = tiktoken.GetEncoding(Encoding)
	})
	if encoderErr != nil {
		return &Tokenizer{}, encoderErr
	}
	return &Tokenizer{enc: sharedEncoder}, nil
}

// Exact reports whether counts come from the real encoding.
func (t *Tokenizer) Exact() bool {
	return t != nil && t.enc != nil
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if !t.Exact() {
		return estimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate cuts text to at most maxTokens tokens. The second result reports
// whether anything was removed. maxTokens <= 0 disables truncation.
func (t *Tokenizer) Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || text == "" {
		return text, false
	}

	if !t.Exact() {
		limit := maxTokens * 4
		if len(text) <= limit {
			return text, false
		}
		return text[:limit], true
	}

	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, false
	}
	return t.enc.Decode(tokens[:maxTokens]), true
}

// estimateTokens approximates four characters per token.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
