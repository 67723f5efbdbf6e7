package responder

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce batches the burst of events editors emit on save.
const DefaultReloadDebounce = 250 * time.Millisecond

// WatchRules reloads the rules file at path into sel whenever it changes,
// until ctx is cancelled. The parent directory is watched so that editors
// which replace the file on save are still seen. A file that fails to load
// is logged and the previous rules stay active.
func WatchRules(ctx context.Context, path string, sel *Selector, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating rules watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	slog.Info("watching rules file", "path", path)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("rules watcher error", "error", err)

		case <-timer.C:
			rs, err := LoadRules(path)
			if err != nil {
				slog.Warn("rules reload failed, keeping previous rules", "path", path, "error", err)
				continue
			}
			sel.SetRules(rs)
			slog.Info("rules reloaded", "path", path)
		}
	}
}
