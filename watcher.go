package main

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchDebounce = 500 * time.Millisecond

// WatcherManager rescans the plugins directory when plugin files change.
// It watches the directory itself and each plugin directory below it.
type WatcherManager struct {
	watcher  *fsnotify.Watcher
	root     string
	log      *zap.SugaredLogger
	rescan   func()
	watching map[string]bool
	timer    *time.Timer
	mu       sync.Mutex
	running  bool
}

// NewWatcherManager creates a watcher over the app's plugins directory
func NewWatcherManager(app *App) (*WatcherManager, error) {
	return newWatcher(app.pluginsDir(), app.log, func() {
		if _, err := app.pluginManager.Discover(); err != nil {
			app.log.Warnf("Failed to rescan plugins: %v", err)
		}
	})
}

func newWatcher(root string, log *zap.SugaredLogger, rescan func()) (*WatcherManager, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &WatcherManager{
		watcher:  watcher,
		root:     root,
		log:      log,
		rescan:   rescan,
		watching: make(map[string]bool),
	}, nil
}

// Start begins watching
func (w *WatcherManager) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	go w.handleEvents()

	return w.refreshWatches()
}

// Stop stops all watching
func (w *WatcherManager) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
	}
	w.watcher.Close()
}

// refreshWatches adds the root and every plugin directory not yet watched.
func (w *WatcherManager) refreshWatches() error {
	dirs := []string{w.root}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, filepath.Join(w.root, e.Name()))
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, dir := range dirs {
		if w.watching[dir] {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			w.log.Warnf("Failed to watch %s: %v", dir, err)
			continue
		}
		w.watching[dir] = true
		w.log.Debugf("Started watching: %s", dir)
	}
	return nil
}

// handleEvents processes fsnotify events
func (w *WatcherManager) handleEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if event.Op&fsnotify.Remove != 0 {
				w.mu.Lock()
				delete(w.watching, event.Name)
				w.mu.Unlock()
			}
			w.debounce()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnf("Watcher error: %v", err)
		}
	}
}

// relevant reports whether event can change the set of plugins: a plugin
// directory appearing or going away, or a *Plugin.lua file changing.
func (w *WatcherManager) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if filepath.Dir(event.Name) == w.root {
		return true
	}
	return strings.HasSuffix(name, "Plugin.lua")
}

// debounce rescans once events have been quiet for watchDebounce.
func (w *WatcherManager) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, func() {
		if err := w.refreshWatches(); err != nil {
			w.log.Warnf("Failed to refresh plugin watches: %v", err)
		}
		w.rescan()
	})
}
