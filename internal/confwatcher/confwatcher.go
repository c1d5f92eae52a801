// Package confwatcher signals when the configuration file changes on
// disk, so the integration layer can tell the operator a restart is
// needed.
package confwatcher

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce is how long to wait after the first event before signaling,
// coalescing the burst of writes an editor save or atomic rename
// produces into a single notification.
const debounce = 500 * time.Millisecond

// Watcher reports modifications of a single configuration file. The
// parent directory is watched rather than the file itself, so editors
// that replace the file by rename (vim, sed -i) keep being tracked.
type Watcher struct {
	inner    *fsnotify.Watcher
	confPath string

	changed chan struct{}
	done    chan struct{}
}

// New allocates a Watcher for the file at confPath.
func New(confPath string) (*Watcher, error) {
	abs, err := filepath.Abs(confPath)
	if err != nil {
		return nil, err
	}

	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := inner.Add(filepath.Dir(abs)); err != nil {
		inner.Close() //nolint:errcheck
		return nil, err
	}

	w := &Watcher{
		inner:    inner,
		confPath: abs,
		changed:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher; the Changed channel is closed as a result.
func (w *Watcher) Close() {
	w.inner.Close() //nolint:errcheck
	<-w.done
}

// Changed returns a channel that receives one value per detected change
// and is closed when the watcher stops.
func (w *Watcher) Changed() <-chan struct{} {
	return w.changed
}

func (w *Watcher) run() {
	defer close(w.done)
	defer close(w.changed)

	var pending <-chan time.Time

	for {
		select {
		case ev, ok := <-w.inner.Events:
			if !ok {
				return
			}
			if w.concernsConf(ev) && pending == nil {
				pending = time.After(debounce)
			}

		case <-pending:
			pending = nil
			select {
			case w.changed <- struct{}{}:
			default:
				// a notification is already queued; one is enough.
			}

		case _, ok := <-w.inner.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) concernsConf(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	p, err := filepath.Abs(ev.Name)
	return err == nil && p == w.confPath
}
