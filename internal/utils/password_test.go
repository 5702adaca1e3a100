package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndVerify(t *testing.T) {
	t.Parallel()

	h := NewHasher(bcrypt.MinCost)
	hash, err := h.Hash("pw123!")
	require.NoError(t, err)

	assert.NotEqual(t, "pw123!", hash)
	assert.True(t, h.Verify(hash, "pw123!"))
	assert.False(t, h.Verify(hash, "pw123?"))
	assert.False(t, h.Verify("not-a-hash", "pw123!"))

	again, err := h.Hash("pw123!")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "salted")
}

func TestNewHasher_ClampsCost(t *testing.T) {
	t.Parallel()

	assert.Equal(t, bcrypt.DefaultCost, NewHasher(0).Cost())
	assert.Equal(t, bcrypt.MinCost, NewHasher(1).Cost())
	assert.Equal(t, bcrypt.MaxCost, NewHasher(99).Cost())
	assert.Equal(t, 12, NewHasher(12).Cost())
}
