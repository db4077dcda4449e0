package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchForChanges watches the contents/ directory tree for on-disk edits and
// triggers a debounced Refresh, enabling hot-editing without waiting for the
// background timer. Watch failures are logged and otherwise ignored — the
// background timer remains the refresh path of record.
func (c *Cache) WatchForChanges(ctx context.Context, contentsDir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dirs := []string{
		contentsDir,
		filepath.Join(contentsDir, "apps"),
		filepath.Join(contentsDir, "models"),
		filepath.Join(contentsDir, "tools"),
		filepath.Join(contentsDir, "sources"),
		filepath.Join(contentsDir, "config"),
	}
	for _, d := range dirs {
		// Best effort: a directory that does not exist yet (e.g. no per-id
		// apps/ directory because apps.json is used instead) is simply skipped.
		_ = watcher.Add(d)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		pending := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, func() {
					select {
					case pending <- struct{}{}:
					default:
					}
				})
			case <-pending:
				if err := c.refreshAll(ctx); err != nil {
					c.logger.Warn(ctx, "fsnotify-triggered refresh failed", "err", err)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn(ctx, "config watcher error", "err", werr)
			}
		}
	}()
	return nil
}
