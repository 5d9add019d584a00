// Package watch observes the session directory trees and signals
// per-session activity, debounced so bursts of appends collapse into
// one notification.
package watch

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/fleet/internal/debounce"
	"github.com/haasonsaas/fleet/internal/scanner"
)

// Watcher recursively watches base paths for session file writes.
// One activity callback fires per session id per quiet period.
type Watcher struct {
	basePaths []string
	onActive  func(sessionID string)
	logger    *slog.Logger

	trigger *debounce.Trigger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	paths   map[string]struct{}
	stopped bool
	wg      sync.WaitGroup
}

// New builds a watcher. debounceDelay <= 0 disables coalescing and
// fires the callback inline on every write.
func New(basePaths []string, debounceDelay time.Duration, onActive func(sessionID string), logger *slog.Logger) *Watcher {
	w := &Watcher{
		basePaths: basePaths,
		onActive:  onActive,
		logger:    logger.With("component", "watch"),
		paths:     make(map[string]struct{}),
	}
	w.trigger = debounce.NewTrigger(debounceDelay, w.fire)
	return w
}

func (w *Watcher) fire(sessionID string) {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}
	w.onActive(sessionID)
}

// Start begins watching every base path and its project directories.
// Missing base paths are skipped with a warning.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsw
	w.mu.Unlock()

	for _, base := range w.basePaths {
		w.addTree(base)
	}

	w.wg.Add(1)
	go w.loop(fsw)
	return nil
}

// addTree watches dir and each direct child directory. Session files
// live exactly one level below a base path, so one level of recursion
// suffices; deeper directories are picked up when created.
func (w *Watcher) addTree(dir string) {
	if _, err := os.Stat(dir); err != nil {
		w.logger.Warn("skipping missing base path", "path", dir, "error", err)
		return
	}
	w.addPath(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("cannot list base path", "path", dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addPath(filepath.Join(dir, e.Name()))
		}
	}
}

func (w *Watcher) addPath(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	if _, ok := w.paths[path]; ok {
		return
	}
	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("cannot watch path", "path", path, "error", err)
		return
	}
	w.paths[path] = struct{}{}
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addPath(event.Name)
			return
		}
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	sessionID := scanner.SessionIDFromFile(filepath.Base(event.Name))
	if sessionID == "" {
		return
	}
	w.trigger.Signal(sessionID)
}

// Stop cancels pending debounce timers and closes all watches. Safe to
// call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	fsw := w.watcher
	w.watcher = nil
	w.paths = make(map[string]struct{})
	w.mu.Unlock()

	w.trigger.Stop()
	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()
}
