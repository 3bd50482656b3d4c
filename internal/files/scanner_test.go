package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, paths map[string]string) {
	t.Helper()
	for rel, content := range paths {
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func TestScanFiltersAndOrders(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"song.strdl":            "note(1)",
		"lib/util.js":           "x",
		"notes.md":              "# hi",
		"binary.wav":            "nope",
		".git/config":           "nope",
		".strudel/logs/x.strdl": "nope",
		".github/a.strdl":       "hidden but allowlisted",
	})

	s := NewScanner(root, []string{".strdl", ".js", ".md"}, 0)
	entries, err := s.Scan(context.Background())
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{
		filepath.Join(".github", "a.strdl"),
		filepath.Join("lib", "util.js"),
		"notes.md",
		"song.strdl",
	}, paths)

	got, ok := entriesByPath(entries)["song.strdl"]
	require.True(t, ok)
	assert.Equal(t, "note(1)", got.Content)
	assert.Equal(t, "song.strdl", got.Name)
	assert.False(t, got.IsVirtual)
	assert.False(t, got.LastModified.IsZero())
}

func TestScanSkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"small.strdl": "ok",
		"big.strdl":   "0123456789",
	})

	s := NewScanner(root, []string{".strdl"}, 5)
	entries, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "small.strdl", entries[0].Path)
}

func entriesByPath(entries []Entry) map[string]Entry {
	out := make(map[string]Entry, len(entries))
	for _, e := range entries {
		out[e.Path] = e
	}
	return out
}
