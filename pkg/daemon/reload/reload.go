// Package reload watches the config file and hands every successfully
// reloaded configuration to a callback.
package reload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/powerbias/pkg/powerbias/config"
	"github.com/jamesainslie/powerbias/pkg/powerbias/logging"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// LoadFunc reads and validates a config file.
type LoadFunc func(path string) (*config.Config, error)

// Watcher watches a single config file.
type Watcher struct {
	path     string
	load     LoadFunc
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu     sync.Mutex
	closed bool
}

// New starts watching path. The parent directory is watched so that
// editors replacing the file by rename are seen too.
func New(path string, load LoadFunc) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if load == nil {
		load = config.Load
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(absPath), err)
	}

	return &Watcher{
		path:     absPath,
		load:     load,
		watcher:  fsw,
		debounce: DefaultDebounce,
	}, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Run blocks until ctx is cancelled or the watcher is closed. After each
// change to the file settles, it is reloaded; a file that fails to load
// is logged and the previous configuration stays in effect.
func (w *Watcher) Run(ctx context.Context, onReload func(*config.Config)) {
	log := logging.Get("reload")

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			log.Trace("config file event", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error("watcher error", "error", err)

		case <-timer.C:
			cfg, err := w.load(w.path)
			if err != nil {
				log.Warn("config reload failed, keeping previous settings", "path", w.path, "error", err)
				continue
			}
			log.Info("config reloaded", "path", w.path)
			if onReload != nil {
				onReload(cfg)
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create) != 0
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.watcher.Close()
}
