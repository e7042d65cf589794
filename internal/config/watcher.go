package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debouncePeriod coalesces the burst of events editors emit per save.
const debouncePeriod = time.Second

// Watcher reports on-disk edits to the configuration file. The thread
// topology cannot be re-applied to a running session, so the caller's
// onChange typically just logs that a restart is required.
type Watcher struct {
	logger  *zap.Logger
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the directory containing path; many editors replace the
// file on save, which a direct file watch would lose.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		logger:  logger,
		path:    path,
		watcher: fw,
		done:    make(chan struct{}),
	}, nil
}

// Start begins delivering debounced change notifications to onChange.
func (w *Watcher) Start(onChange func()) {
	go w.loop(onChange)
}

func (w *Watcher) loop(onChange func()) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(onChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule(onChange func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debouncePeriod, onChange)
}

// Stop ends the watch. Pending debounced notifications are dropped.
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}
