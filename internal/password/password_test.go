package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	hasher := NewHasher(4)

	hash, err := hasher.Hash("Passw0rd!")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	assert.NotContains(t, hash, "Passw0rd!")

	assert.True(t, hasher.Verify("Passw0rd!", hash))
	assert.False(t, hasher.Verify("passw0rd!", hash))
	assert.False(t, hasher.Verify("", hash))
}

func TestHashesAreSalted(t *testing.T) {
	hasher := NewHasher(4)

	first, err := hasher.Hash("Passw0rd!")
	require.NoError(t, err)
	second, err := hasher.Hash("Passw0rd!")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestNewHasherClampsCost(t *testing.T) {
	assert.Equal(t, DefaultCost, NewHasher(0).cost)
	assert.Equal(t, DefaultCost, NewHasher(99).cost)
	assert.Equal(t, 10, NewHasher(10).cost)
}

func TestValidatePolicy(t *testing.T) {
	assert.Empty(t, Validate("Passw0rd!"))
	assert.Empty(t, Validate("abcdefg1"))

	assert.NotEmpty(t, Validate("Ab1"))
	assert.NotEmpty(t, Validate("onlyletters"))
	assert.NotEmpty(t, Validate("12345678"))

	reasons := Validate(strings.Repeat("!", 3))
	assert.Len(t, reasons, 3)
}
