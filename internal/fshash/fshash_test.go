package fshash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestTreeHashDeterministic(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	}
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	writeTree(t, dir1, files)
	writeTree(t, dir2, files)

	h1, err := TreeHash(dir1, nil)
	require.NoError(t, err)
	h2, err := TreeHash(dir2, nil)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func TestTreeHashDetectsContentChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.txt": "alpha"})
	before, err := TreeHash(dir, nil)
	require.NoError(t, err)

	writeTree(t, dir, map[string]string{"a.txt": "ALPHA"})
	after, err := TreeHash(dir, nil)
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}

func TestTreeHashIgnoresPatterns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.txt": "alpha"})
	base, err := TreeHash(dir, nil)
	require.NoError(t, err)

	// Ignored names do not perturb the hash.
	writeTree(t, dir, map[string]string{
		".git/config":        "noise",
		"cache.pyc":          "noise",
		"node_modules/x.js":  "noise",
		"__pycache__/m.pyc":  "noise",
		".venv/lib/site.txt": "noise",
	})
	same, err := TreeHash(dir, nil)
	require.NoError(t, err)
	require.Equal(t, base, same)

	// A real file does.
	writeTree(t, dir, map[string]string{"b.txt": "beta"})
	changed, err := TreeHash(dir, nil)
	require.NoError(t, err)
	require.NotEqual(t, base, changed)
}

func TestEmptyTreeHashes(t *testing.T) {
	t.Parallel()

	h, err := TreeHash(t.TempDir(), nil)
	require.NoError(t, err)
	require.Len(t, h, 64)
}
