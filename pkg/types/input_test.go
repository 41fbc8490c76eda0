package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCancelInput(t *testing.T) {
	input := NewCancelInput()
	assert.True(t, input.IsCancel())
	assert.False(t, input.IsResume())
	assert.NotNil(t, input.Metadata)
}

func TestNewResumeInput(t *testing.T) {
	input := NewResumeInput("captcha solved").WithMetadata("source", "cli")
	assert.True(t, input.IsResume())
	assert.Equal(t, "captcha solved", input.Note)
	assert.Equal(t, "cli", input.Metadata["source"])
}

func TestWithMetadataInitializesMap(t *testing.T) {
	input := &Input{Type: InputTypeResume}
	input.WithMetadata("k", 1)
	assert.Equal(t, 1, input.Metadata["k"])
}
