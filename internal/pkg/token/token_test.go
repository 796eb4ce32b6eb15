package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LengthAndUniqueness(t *testing.T) {
	a, err := New(32)
	require.NoError(t, err)
	b, err := New(32)
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestHash_Stable(t *testing.T) {
	assert.Equal(t, Hash("abc"), Hash("abc"))
	assert.NotEqual(t, Hash("abc"), Hash("abd"))
	assert.Len(t, Hash("abc"), 64)
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "abcd...", Prefix("abcdefgh", 4))
	assert.Equal(t, "ab", Prefix("ab", 4))
}
