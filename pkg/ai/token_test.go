package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Encodings are fetched on first use; skip when they cannot be loaded.
func counter(t *testing.T, model string) *TokenCounter {
	t.Helper()
	tc := NewTokenCounter(model)
	if _, err := tc.Count("warm up"); err != nil {
		t.Skipf("token encoding unavailable: %v", err)
	}
	return tc
}

func TestTokenCounter_Count(t *testing.T) {
	tc := counter(t, "gpt-4")

	n, err := tc.Count("hello world")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = tc.Count("")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTokenCounter_UnknownModelFallsBack(t *testing.T) {
	tc := counter(t, "gemini-2.5-flash")

	n, err := tc.Count("Suggest a price for the pro tier")
	require.NoError(t, err)
	assert.Positive(t, n)
}
