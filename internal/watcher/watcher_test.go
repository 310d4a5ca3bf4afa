package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) record(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) seen(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.paths {
		if p == path {
			return true
		}
	}
	return false
}

func TestWatcherReportsRemoval(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.faiss")
	other := filepath.Join(dir, "b.faiss")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(other, []byte("y"), 0o600))

	rec := &recorder{}
	w, err := New(rec.record, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(target))
	assert.True(t, w.Watching(target))

	require.NoError(t, os.Remove(other))
	require.NoError(t, os.Remove(target))

	require.Eventually(t, func() bool { return rec.seen(target) }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, rec.seen(other))
}

func TestWatcherReportsReplacement(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.hnsw")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))

	rec := &recorder{}
	w, err := New(rec.record, nil)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch(target))

	tmp := filepath.Join(dir, ".a.hnsw.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("new"), 0o600))
	require.NoError(t, os.Rename(tmp, target))

	require.Eventually(t, func() bool { return rec.seen(target) }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcherUnwatchAndClose(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.faiss")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))

	rec := &recorder{}
	w, err := New(rec.record, nil)
	require.NoError(t, err)
	require.NoError(t, w.Watch(target))
	require.NoError(t, w.Watch(target))
	w.Unwatch(target)
	assert.False(t, w.Watching(target))

	require.NoError(t, os.Remove(target))
	time.Sleep(100 * time.Millisecond)
	assert.False(t, rec.seen(target))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWatchMissingDirectory(t *testing.T) {
	w, err := New(func(string) {}, nil)
	require.NoError(t, err)
	defer w.Close()
	assert.Error(t, w.Watch(filepath.Join(t.TempDir(), "missing", "a.faiss")))
}
