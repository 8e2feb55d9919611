package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.Save("C1", "S1"))

	got, err := store.Load("C1")
	require.NoError(t, err)
	require.Equal(t, "S1", got)
}

func TestStoreLoadMissingFileIsNotError(t *testing.T) {
	store := NewStore(t.TempDir())

	got, err := store.Load("no-such-channel")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStoreClearRemovesFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, store.Save("C1", "S1"))

	require.NoError(t, store.Clear("C1"))

	got, err := store.Load("C1")
	require.NoError(t, err)
	require.Empty(t, got)

	// Clearing an already-absent file is not an error.
	require.NoError(t, store.Clear("C1"))
}

func TestStoreFileNaming(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, store.Save("C1", "S1"))

	require.FileExists(t, filepath.Join(dir, "C1-session.txt"))
}
