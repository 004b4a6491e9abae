package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ReloadFunc receives the freshly loaded configuration after the
// watched file changes.
type ReloadFunc func(*Config)

// Watcher reloads the configuration file when it changes on disk.
// Editors and configmap mounts replace files rather than writing in
// place, so the watcher tracks the parent directory and filters events
// down to the configured file name.
type Watcher struct {
	path    string
	log     logrus.FieldLogger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	onReload []ReloadFunc
}

// NewWatcher creates a watcher for the given configuration file.
func NewWatcher(path string, log logrus.FieldLogger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config watcher requires a file path")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	return &Watcher{
		path:    path,
		log:     log,
		watcher: fsw,
	}, nil
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// Run processes filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watcher error")
		}
	}
}

// Close stops watching the configuration file.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// reload parses the file again and fans out to the registered
// callbacks. A file that fails to load keeps the previous
// configuration in effect.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.WithError(err).Error("config reload failed, keeping previous configuration")
		return
	}

	w.mu.Lock()
	callbacks := make([]ReloadFunc, len(w.onReload))
	copy(callbacks, w.onReload)
	w.mu.Unlock()

	w.log.WithField("path", w.path).Info("configuration reloaded")
	for _, fn := range callbacks {
		fn(cfg)
	}
}
