// Notifies when another process rewrites the document file.

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// Watcher reports changes to one file.
//
// The parent directory is watched rather than the file itself so that
// atomic rename-over saves are seen.
type Watcher struct {
	path    string
	w       *fsnotify.Watcher
	limiter *rate.Limiter
}

// NewWatcher starts watching path. Change notifications are delivered at
// most once per interval; changes arriving faster are coalesced.
func NewWatcher(path string, interval time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, w: w, limiter: rate.NewLimiter(rate.Every(interval), 1)}, nil
}

// Run calls fn after the file changes until ctx is canceled. It closes the
// watcher before returning.
func (w *Watcher) Run(ctx context.Context, fn func()) error {
	defer func() { _ = w.w.Close() }()
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			slog.DebugContext(ctx, "File changed", "path", w.path, "op", event.Op.String())
			if fire == nil {
				fire = time.After(w.limiter.Reserve().Delay())
			}
		case <-fire:
			fire = nil
			fn()
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Error watching file", "path", w.path, "err", err)
		}
	}
}

// Close stops watching without running.
func (w *Watcher) Close() error {
	return w.w.Close()
}
