// Package watcher turns raw filesystem notifications into per-directory
// refresh signals. Bursts of events (a bulk copy landing, an unpacking
// archive) are debounced so each visible directory refreshes once per
// quiet period instead of once per file.
package watcher

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/macg4dave/duopane/pkg/fsatomic"
	"github.com/macg4dave/duopane/pkg/plog"
)

// DefaultDebounce is the quiet period before a changed directory is
// reported.
const DefaultDebounce = 250 * time.Millisecond

// Watcher emits the paths of directories whose contents changed.
type Watcher struct {
	fsw      *fsnotify.Watcher
	refresh  chan string
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a watcher. A non-positive debounce selects DefaultDebounce.
func New(debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		refresh:  make(chan string, 16),
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		closed:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Refreshes returns the signal channel. Each value is a directory whose
// listing should be rebuilt.
func (w *Watcher) Refreshes() <-chan string { return w.refresh }

// Watch starts watching dir. Watching is not recursive; each visible pane
// directory is registered separately.
func (w *Watcher) Watch(dir string) error { return w.fsw.Add(dir) }

// Unwatch stops watching dir, e.g. when a pane navigates away.
func (w *Watcher) Unwatch(dir string) error { return w.fsw.Remove(dir) }

// Close stops the watcher. Pending debounce timers are dropped.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		w.mu.Lock()
		for dir, t := range w.timers {
			t.Stop()
			delete(w.timers, dir)
		}
		w.mu.Unlock()
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// In-flight temporary artifacts churn constantly during a
			// copy; the rename that commits them triggers the refresh.
			if strings.HasPrefix(filepath.Base(ev.Name), fsatomic.TempPrefix) {
				continue
			}
			w.schedule(filepath.Dir(ev.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			plog.Warn("Filesystem watcher error", "error", err)
		case <-w.closed:
			return
		}
	}
}

// schedule arms (or re-arms) the debounce timer for dir. The refresh fires
// once dir has been quiet for the full debounce window.
func (w *Watcher) schedule(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[dir]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[dir] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, dir)
		w.mu.Unlock()

		select {
		case w.refresh <- dir:
		case <-w.closed:
		}
	})
}
