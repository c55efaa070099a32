// Package watcher observes the gateway's config file for changes and
// delivers debounced, pre-validated snapshots to the reconfiguration
// controller.
package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/HyphaGroup/mcphub/internal/config"
	"github.com/HyphaGroup/mcphub/internal/logger"
)

// debounceWindow collapses a burst of filesystem events closer together
// than this into a single reload, matching the original implementation's
// ConfigChangeHandler (spec.md §4.6).
const debounceWindow = 500 * time.Millisecond

// Watcher watches the directory containing a config file and calls a
// reload callback with each successfully parsed Config. It never calls the
// callback with an invalid snapshot: parse failures are logged and dropped.
type Watcher struct {
	path     string
	dir      string
	fw       *fsnotify.Watcher
	onReload func(*config.Config)

	mu        sync.Mutex
	timer     *time.Timer
	stopCh    chan struct{}
	stoppedWG sync.WaitGroup
}

// New creates a Watcher for path. onReload is invoked from the debounce
// timer's goroutine, not the caller's; callers that mutate shared state from it must synchronise
// themselves (the reconfiguration controller already serialises Apply).
func New(path string, onReload func(*config.Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	return &Watcher{
		path:     path,
		dir:      dir,
		fw:       fw,
		onReload: onReload,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start runs the watch loop in a background goroutine. It handles direct
// modifications as well as atomic-rename writes (remove+create or
// rename+create of the target file), matching editors that write a config
// file via a temp-file-and-rename sequence.
func (w *Watcher) Start() {
	w.stoppedWG.Add(1)
	go w.loop()
}

func (w *Watcher) loop() {
	defer w.stoppedWG.Done()
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				w.scheduleReload()
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logger.Slog().Error("config watcher error", "error", err)
		case <-w.stopCh:
			return
		}
	}
}

// scheduleReload debounces a cluster of events into a single reload,
// restarting the timer on every new event within the window.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWindow, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		logger.Slog().Warn("dropping invalid config snapshot", "path", w.path, "error", err)
		return
	}
	w.onReload(cfg)
}

// Close halts the watch loop and releases the underlying fsnotify watcher.
// It satisfies lifecycle.Closer so the supervisor can track a Watcher
// alongside the other resources it shuts down on exit.
func (w *Watcher) Close() error {
	close(w.stopCh)
	err := w.fw.Close()
	w.stoppedWG.Wait()
	return err
}
