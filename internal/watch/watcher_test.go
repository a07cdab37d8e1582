package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/sift/internal/config"
	"github.com/standardbeagle/sift/internal/fileservice"
	"github.com/standardbeagle/sift/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu  sync.Mutex
	ids []types.FileID
}

func (r *recorder) InvalidateFile(id types.FileID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return true
}

func (r *recorder) seen(id types.FileID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.ids {
		if got == id {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, root string, target Invalidator) (*Watcher, chan []types.FileID) {
	t.Helper()
	cfg := config.Default(root)
	cfg.Watch.Enabled = true
	cfg.Watch.DebounceMs = 50

	w, err := New(cfg, fileservice.NewScanner(cfg), target)
	require.NoError(t, err)
	batches := make(chan []types.FileID, 16)
	w.onBatch = func(ids []types.FileID) { batches <- ids }
	require.NoError(t, w.Start())
	t.Cleanup(func() { assert.NoError(t, w.Stop()) })
	return w, batches
}

func nextBatch(t *testing.T, batches chan []types.FileID) []types.FileID {
	t.Helper()
	select {
	case ids := <-batches:
		return ids
	case <-time.After(5 * time.Second):
		t.Fatal("no batch flushed")
		return nil
	}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.txt"), "one")
	rec := &recorder{}
	w, batches := startWatcher(t, root, rec)

	for _, content := range []string{"two", "three", "four"} {
		write(t, filepath.Join(root, "a.txt"), content)
	}

	assert.Equal(t, []types.FileID{"a.txt"}, nextBatch(t, batches))
	assert.True(t, rec.seen("a.txt"))

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.EventsProcessed)
	assert.Equal(t, int64(1), stats.Invalidations)
	assert.True(t, stats.IsActive)
}

func TestWatcher_NewDirectory(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	_, batches := startWatcher(t, root, rec)

	write(t, filepath.Join(root, "pkg", "sub", "b.go"), "package sub\n")

	require.Eventually(t, func() bool {
		select {
		case <-batches:
		default:
		}
		return rec.seen("pkg/sub/b.go")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresExcluded(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "node_modules", "lib", "index.js"), "x")
	rec := &recorder{}
	w, batches := startWatcher(t, root, rec)

	write(t, filepath.Join(root, "node_modules", "lib", "index.js"), "y")
	write(t, filepath.Join(root, "main.go"), "package main\n")

	ids := nextBatch(t, batches)
	assert.Equal(t, []types.FileID{"main.go"}, ids)
	assert.False(t, rec.seen("node_modules/lib/index.js"))

	assert.True(t, w.ignored("node_modules", true))
	assert.False(t, w.ignored("src", true))
}

func TestWatcher_Disabled(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default(root)
	w, err := New(cfg, fileservice.NewScanner(cfg), &recorder{})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	assert.False(t, w.Stats().IsActive)
}
