package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of fsnotify events a single save
// produces into one reload, mirroring internal/skills.Manager's watch
// debounce.
const reloadDebounce = 200 * time.Millisecond

// Watcher hot-reloads the non-critical fields of a Config (rate-limit and
// circuit-breaker thresholds) whenever the backing YAML file changes,
// without restarting the process.
type Watcher struct {
	path    string
	mu      sync.RWMutex
	current *Config
	onLoad  func(*Config, error)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching path for changes, seeding the current config
// via Load(path). onLoad, if non-nil, is called after each reload attempt.
func NewWatcher(path string, onLoad func(*Config, error)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: path, current: cfg, onLoad: onLoad, done: make(chan struct{})}
	if path == "" {
		return w, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	w.watcher = fw
	go w.watchLoop()
	return w, nil
}

func (w *Watcher) watchLoop() {
	var timer *time.Timer
	for {
		select {
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, w.reload)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err == nil {
		w.mu.Lock()
		w.current = cfg
		w.mu.Unlock()
	}
	if w.onLoad != nil {
		w.onLoad(cfg, err)
	}
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watch loop.
func (w *Watcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
