package tokenstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "admin_token")
	store := NewFileStoreAt(path)

	// Empty before any save
	token, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, store.Save("gxr_abc123"))

	token, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "gxr_abc123", token)

	// Survives a new store instance (simulated restart)
	token, err = NewFileStoreAt(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "gxr_abc123", token)

	// File is private to the user
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin_token")
	store := NewFileStoreAt(path)

	require.NoError(t, store.Save("gxr_abc123"))
	require.NoError(t, store.Clear())

	token, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, token)

	// Clearing twice is fine
	require.NoError(t, store.Clear())
}

func TestFileStoreOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin_token")
	store := NewFileStoreAt(path)

	require.NoError(t, store.Save("gxr_first"))
	require.NoError(t, store.Save("gxr_second"))

	token, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "gxr_second", token)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	require.NoError(t, store.Save("gxr_abc"))
	token, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "gxr_abc", token)

	require.NoError(t, store.Clear())
	token, err = store.Load()
	require.NoError(t, err)
	assert.Empty(t, token)
}
