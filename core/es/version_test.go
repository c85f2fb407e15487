package es

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	var v Version
	require.Equal(t, Version(3), v.Next(3))
	require.Equal(t, uint64(5), Version(5).Uint64())

	data, err := json.Marshal(Version(7))
	require.NoError(t, err)
	require.Equal(t, `7`, string(data))

	var x Version
	require.NoError(t, json.Unmarshal([]byte("1234"), &x))
	require.Equal(t, Version(1234), x)

	require.Equal(t, "version", x.SlogAttr().Key)
	require.Equal(t, "expected", x.SlogAttrWithKey("expected").Key)
}

func TestConcurrencyConflictError(t *testing.T) {
	err := NewConcurrencyConflict("user", "u1", 0, 1)
	require.ErrorIs(t, err, ErrConcurrencyConflict)
	require.NotErrorIs(t, err, ErrUnknownEventType)
	require.Contains(t, err.Error(), "expected version 0, got 1")
}
