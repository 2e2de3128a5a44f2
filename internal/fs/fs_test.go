package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.json")

	require.NoError(t, WriteNew(path, []byte("one"), 0o644))
	require.ErrorIs(t, WriteNew(path, []byte("two"), 0o644), os.ErrExist)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "one", string(data))
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.json", "a.json", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, EnsureDir(filepath.Join(dir, "sub.json"), 0o755))

	files, err := ListFiles(dir, ".json")
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")}, files)

	files, err = ListFiles(filepath.Join(dir, "missing"), ".json")
	require.NoError(t, err)
	require.Empty(t, files)
}
