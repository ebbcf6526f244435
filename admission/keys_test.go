package admission

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	t.Run("without client key", func(t *testing.T) {
		dk, err := DeriveKey("create_org", "acme", "")
		require.NoError(t, err)
		assert.Equal(t, "create_org:acme", dk.FullKey)
		assert.Len(t, dk.DisplaySuffix, 8)
	})

	t.Run("with client key", func(t *testing.T) {
		dk, err := DeriveKey("create_org", "acme", "retry-token-1")
		require.NoError(t, err)
		assert.Equal(t, "create_org:acme:retry-token-1", dk.FullKey)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := DeriveKey("create_org", "acme", "k1")
		require.NoError(t, err)
		b, err := DeriveKey("create_org", "acme", "k1")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("suffix varies with inputs", func(t *testing.T) {
		a, err := DeriveKey("create_org", "acme", "")
		require.NoError(t, err)
		b, err := DeriveKey("create_org", "globex", "")
		require.NoError(t, err)
		assert.NotEqual(t, a.DisplaySuffix, b.DisplaySuffix)
	})

	t.Run("suffix does not leak the full key", func(t *testing.T) {
		dk, err := DeriveKey("create_org", "acme", "")
		require.NoError(t, err)
		assert.NotContains(t, dk.FullKey, dk.DisplaySuffix)
	})

	t.Run("trims whitespace", func(t *testing.T) {
		dk, err := DeriveKey(" create_org ", " acme ", " k1 ")
		require.NoError(t, err)
		assert.Equal(t, "create_org:acme:k1", dk.FullKey)
	})

	t.Run("empty action rejected", func(t *testing.T) {
		_, err := DeriveKey("", "acme", "")
		assert.ErrorIs(t, err, ErrAmbiguousKey)
	})

	t.Run("empty scope rejected", func(t *testing.T) {
		_, err := DeriveKey("create_org", "  ", "")
		assert.ErrorIs(t, err, ErrAmbiguousKey)
	})

	t.Run("oversized client key rejected", func(t *testing.T) {
		_, err := DeriveKey("create_org", "acme", strings.Repeat("x", MaxClientKeyLen+1))
		assert.ErrorIs(t, err, ErrClientKeyTooLong)
	})
}
