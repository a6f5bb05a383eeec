package dbkey

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveRejectsShortPasswords(t *testing.T) {
	_, err := Derive("short")
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestDeriveIsDeterministic(t *testing.T) {
	a, err := Derive("correct horse battery staple")
	require.NoError(t, err)
	b, err := Derive("correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 32)
}

func TestDeriveDiffersByPassword(t *testing.T) {
	a, err := Derive("password number one")
	require.NoError(t, err)
	b, err := Derive("password number two")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyOrCreateFirstOpenerThenMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.keytag")

	keyA, err := Derive("first opener password")
	require.NoError(t, err)
	require.NoError(t, VerifyOrCreate(path, keyA))

	// Same key on a subsequent open succeeds.
	require.NoError(t, VerifyOrCreate(path, keyA))

	keyB, err := Derive("different opener password")
	require.NoError(t, err)
	err = VerifyOrCreate(path, keyB)
	require.ErrorIs(t, err, ErrKeyMismatch)
}
