// Package watcher reports changes to the pantry database made by other
// processes. It watches the directory holding each file so that SQLite's
// -wal and -journal siblings, and files created after startup, are covered.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounceDuration is the default window for batching rapid changes.
const DefaultDebounceDuration = 1 * time.Second

// Config holds file watcher configuration.
type Config struct {
	Files            []string      // database files to watch
	DebounceDuration time.Duration // batch window; zero means DefaultDebounceDuration
	OnChange         func()        // called once per batch of changes
	Logger           zerolog.Logger
}

// Watcher monitors database files and calls OnChange after a quiet window.
type Watcher struct {
	cfg   Config
	fsw   *fsnotify.Watcher
	files map[string]bool // clean absolute paths

	mu      sync.Mutex
	started bool
}

// New creates a watcher for cfg.Files. The parent directories must exist.
func New(cfg Config) (*Watcher, error) {
	if cfg.DebounceDuration <= 0 {
		cfg.DebounceDuration = DefaultDebounceDuration
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{cfg: cfg, fsw: fsw, files: make(map[string]bool)}
	dirs := make(map[string]bool)
	for _, f := range cfg.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("resolve %q: %w", f, err)
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
		}
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
		}
	}
	return w, nil
}

// matches reports whether name is a watched file or one of its SQLite
// sidecar files.
func (w *Watcher) matches(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if w.files[abs] {
		return true
	}
	for _, suffix := range []string{"-wal", "-journal"} {
		if base, ok := strings.CutSuffix(abs, suffix); ok && w.files[base] {
			return true
		}
	}
	return false
}

// Run processes events until ctx is done, then releases the watcher. It can
// only be called once.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.started = true
	w.mu.Unlock()
	defer func() { _ = w.fsw.Close() }()

	timer := time.NewTimer(w.cfg.DebounceDuration)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !w.matches(event.Name) {
				continue
			}
			w.cfg.Logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("database changed")
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.cfg.DebounceDuration)
			pending = true

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.cfg.Logger.Warn().Err(err).Msg("file watcher error")

		case <-timer.C:
			pending = false
			if w.cfg.OnChange != nil {
				w.cfg.OnChange()
			}
		}
	}
}
