// Package watcher reports changes to individual files. It watches parent
// directories because fsnotify cannot watch a file that is about to be
// replaced by rename.
package watcher

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher calls onChange when a watched file is removed, renamed, rewritten
// or replaced.
type Watcher struct {
	fsw      *fsnotify.Watcher
	onChange func(path string)
	logger   *slog.Logger

	mu    sync.Mutex
	dirs  map[string]int
	files map[string]struct{}

	wg     sync.WaitGroup
	closed bool
}

// New starts a watcher. logger may be nil.
func New(onChange func(path string), logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		onChange: onChange,
		logger:   logger,
		dirs:     make(map[string]int),
		files:    make(map[string]struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Watch starts reporting changes to path.
func (w *Watcher) Watch(path string) error {
	path = filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[path]; ok {
		return nil
	}
	dir := filepath.Dir(path)
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.files[path] = struct{}{}
	return nil
}

// Unwatch stops reporting changes to path.
func (w *Watcher) Unwatch(path string) {
	path = filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[path]; !ok {
		return
	}
	delete(w.files, path)
	dir := filepath.Dir(path)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if err := w.fsw.Remove(dir); err != nil && w.logger != nil {
			w.logger.Debug("unwatch directory", "dir", dir, "error", err)
		}
	}
}

// Watching reports whether path is watched.
func (w *Watcher) Watching(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[filepath.Clean(path)]
	return ok
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

const changeOps = fsnotify.Remove | fsnotify.Rename | fsnotify.Write | fsnotify.Create

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&changeOps == 0 {
				continue
			}
			path := filepath.Clean(event.Name)
			if !w.Watching(path) {
				continue
			}
			if w.logger != nil {
				w.logger.Debug("watched file changed", "path", path, "op", event.Op.String())
			}
			w.onChange(path)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("file watcher error", "error", err)
			}
		}
	}
}
