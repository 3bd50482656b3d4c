package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWatcherUpsertsOnWrite(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	scanner := NewScanner(root, []string{".strdl"}, 0)

	w, err := NewWatcher(store, scanner, root)
	require.NoError(t, err)
	w.debounceDur = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(root, "live.strdl")
	require.NoError(t, os.WriteFile(path, []byte("note(1)"), 0o644))

	require.Eventually(t, func() bool {
		e, ok := store.Get("live.strdl")
		return ok && e.Content == "note(1)"
	}, 3*time.Second, 25*time.Millisecond, "watcher never indexed the new file")

	// A later write replaces the content through the same path.
	require.NoError(t, os.WriteFile(path, []byte("note(2)"), 0o644))
	require.Eventually(t, func() bool {
		e, ok := store.Get("live.strdl")
		return ok && e.Content == "note(2)"
	}, 3*time.Second, 25*time.Millisecond)
}

func TestWatcherIgnoresNonMatchingFiles(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	scanner := NewScanner(root, []string{".strdl"}, 0)

	w, err := NewWatcher(store, scanner, root)
	require.NoError(t, err)
	w.debounceDur = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "noise.wav"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	require.Zero(t, store.Count())
	require.Zero(t, w.Stats().FilesCreated)
}

func TestWatcherRemoveKeepsEntry(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	scanner := NewScanner(root, []string{".strdl"}, 0)

	path := filepath.Join(root, "keep.strdl")
	require.NoError(t, os.WriteFile(path, []byte("note(1)"), 0o644))
	store.Upsert(Entry{Path: "keep.strdl", Name: "keep.strdl", Content: "note(1)"})

	w, err := NewWatcher(store, scanner, root)
	require.NoError(t, err)
	w.debounceDur = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		return w.Stats().FilesRemoved > 0
	}, 3*time.Second, 25*time.Millisecond)

	// Entries leave the index only on a full replacement scan.
	_, ok := store.Get("keep.strdl")
	require.True(t, ok)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	scanner := NewScanner(root, []string{".strdl"}, 0)

	w, err := NewWatcher(store, scanner, root)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.True(t, w.IsRunning())

	w.Stop()
	w.Stop()
	require.False(t, w.IsRunning())
}
