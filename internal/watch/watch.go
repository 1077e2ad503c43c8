// Package watch optionally detects external changes to a cache's data
// source file so Settings.Reconfigure can be invoked automatically
// (SPEC_FULL.md §A.3). Adapted from the teacher's cmd/bd/list.go
// fsnotify + debounce pattern used to watch issues.jsonl/*.db for
// external writers.
package watch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceInterval coalesces bursts of filesystem events (e.g. a
// snapshot restore that touches the file several times in quick
// succession) into a single callback.
const DebounceInterval = 250 * time.Millisecond

// Watcher calls OnChange, debounced, whenever the watched file is
// written or replaced.
type Watcher struct {
	fsw      *fsnotify.Watcher
	done     chan struct{}
	onChange func()

	mu    sync.Mutex
	timer *time.Timer
}

// New starts watching path's containing directory (so renames/replaces
// of path itself, not just in-place writes, are observed) and invokes
// onChange, debounced by DebounceInterval, whenever path is written.
func New(path string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{}), onChange: onChange}
	base := filepath.Base(path)
	go w.loop(base)
	return w, nil
}

func (w *Watcher) loop(base string) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)) {
				continue
			}
			w.debounce()
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(DebounceInterval, w.onChange)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
