package fixtures

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Holder serves the current fixtures and swaps them atomically on reload.
type Holder struct {
	current atomic.Pointer[Fixtures]
	reloads atomic.Int64
}

// NewHolder returns a holder serving f (the defaults when f is nil).
func NewHolder(f *Fixtures) *Holder {
	if f == nil {
		f = Default()
	}
	h := &Holder{}
	h.current.Store(f)
	return h
}

// Get returns the fixtures in effect. The result must be treated as read-only.
func (h *Holder) Get() *Fixtures {
	return h.current.Load()
}

// Set replaces the fixtures.
func (h *Holder) Set(f *Fixtures) {
	h.current.Store(f)
	h.reloads.Add(1)
}

// Reloads returns how many times the fixtures were replaced.
func (h *Holder) Reloads() int64 {
	return h.reloads.Load()
}

// Watch reloads path into h whenever it changes, until ctx is done. The
// parent directory is watched so editors that save by rename are picked up.
// A file that fails to load is logged and the previous fixtures stay.
func (h *Holder) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go h.run(ctx, watcher, abs, logger)
	return nil
}

const debounce = 200 * time.Millisecond

func (h *Holder) run(ctx context.Context, watcher *fsnotify.Watcher, path string, logger *slog.Logger) {
	defer watcher.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("fixtures watcher error", "error", err)

		case <-pending:
			pending = nil
			f, err := Load(path)
			if err != nil {
				logger.Error("fixtures reload failed, keeping previous", "path", path, "error", err)
				continue
			}
			h.Set(f)
			logger.Info("fixtures reloaded", "path", path)
		}
	}
}
