package user

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	plain, err := ParsePlainPassword("correct horse battery")
	require.NoError(t, err)

	a, err := h.Hash(plain)
	require.NoError(t, err)
	b, err := h.Hash(plain)
	require.NoError(t, err)

	require.NotEqual(t, a, b, "salt must differ per call")
	require.True(t, a.Verify("correct horse battery"))
	require.True(t, b.Verify("correct horse battery"))
	require.False(t, a.Verify("Correct horse battery"))
}

func TestBcryptHasher_TooLong(t *testing.T) {
	plain, err := ParsePlainPassword(strings.Repeat("x", 73))
	require.NoError(t, err)

	_, err = NewBcryptHasher(bcrypt.MinCost).Hash(plain)
	requireInvalid(t, err, "password")
}

func TestNewBcryptHasher_CostFallback(t *testing.T) {
	require.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).cost)
	require.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(bcrypt.MaxCost+1).cost)
	require.Equal(t, bcrypt.MinCost, NewBcryptHasher(bcrypt.MinCost).cost)
}
