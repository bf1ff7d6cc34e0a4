package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/vinayprograms/gatekeeper/internal/logging"
)

// Watcher keeps the latest valid snapshot of a config file. A run takes a
// snapshot once at start; reloads only affect later runs. An invalid edit
// is logged and the previous snapshot stays current.
type Watcher struct {
	path     string
	current  atomic.Pointer[Config]
	watcher  *fsnotify.Watcher
	logger   *logging.Logger
	onReload func(*Config, error)
}

// NewWatcher loads path and prepares to watch it. onReload, when set, is
// called after every reload attempt.
func NewWatcher(path string, logger *logging.Logger, onReload func(*Config, error)) (*Watcher, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors often replace the file on save.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		watcher:  fw,
		logger:   logger.WithComponent("config"),
		onReload: onReload,
	}
	w.current.Store(cfg)
	return w, nil
}

// Current returns the latest valid snapshot.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Start processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", map[string]interface{}{"error": err.Error()})
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	w.Reload()
}

// Reload re-reads the file. The snapshot is replaced only when the new
// file parses and validates.
func (w *Watcher) Reload() (*Config, error) {
	cfg, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", map[string]interface{}{"path": w.path, "error": err.Error()})
	} else {
		w.current.Store(cfg)
		w.logger.Info("config reloaded", map[string]interface{}{"path": w.path})
	}
	if w.onReload != nil {
		w.onReload(cfg, err)
	}
	return cfg, err
}

// Stop releases the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
