package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	h := NewHasher(DefaultParams)

	encoded, err := h.Hash("ward-pass-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	ok, err := h.Verify("ward-pass-1", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong-pass", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	h := NewHasher(DefaultParams)

	a, err := h.Hash("same-password")
	require.NoError(t, err)
	b, err := h.Hash("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	h := NewHasher(DefaultParams)

	_, err := h.Verify("pw", "not-an-encoded-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = h.Verify("pw", "$argon2id$v=18$m=65536,t=3,p=2$c2FsdA$a2V5")
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestZeroParamsFallBackToDefaults(t *testing.T) {
	h := NewHasher(Argon2Params{})

	encoded, err := h.Hash("pw")
	require.NoError(t, err)

	ok, err := h.Verify("pw", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}
