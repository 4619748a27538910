package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionTokenLifecycle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "home", "session.token")

	token, err := LoadSessionToken(path)
	require.NoError(t, err)
	require.Empty(t, token)

	require.NoError(t, SaveSessionToken(path, "a.b.c"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	token, err = LoadSessionToken(path)
	require.NoError(t, err)
	require.Equal(t, "a.b.c", token)

	require.NoError(t, DeleteSessionToken(path))
	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	// Deleting twice is fine.
	require.NoError(t, DeleteSessionToken(path))
}
