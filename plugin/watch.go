package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is how long Watch waits for the plugins directory
// to settle before refreshing.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watch refreshes the host whenever a plugin directory is added, removed,
// or has its files changed. Bursts of events are coalesced into one
// Refresh after debounce of quiet. Watch blocks until ctx is done and then
// returns nil; running plugins are left to Close.
func (h *Host) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if err := os.MkdirAll(h.pluginsDir, 0o755); err != nil {
		return fmt.Errorf("creating plugins directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := addPluginDirs(watcher, h.pluginsDir); err != nil {
		return fmt.Errorf("watching plugins directory: %w", err)
	}
	h.logger.Info("watching plugins directory", "dir", h.pluginsDir, "debounce", debounce)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	resetTimer := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if ctx.Err() != nil {
				return
			}
			if err := h.Refresh(ctx); err != nil {
				h.logger.Warn("refresh after change finished with errors", "error", err)
			}
		})
	}
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			// New plugin directories are watched too.
			if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == filepath.Clean(h.pluginsDir) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			h.logger.Debug("plugins directory changed", "path", event.Name, "op", event.Op.String())
			resetTimer()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("watch error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}

// addPluginDirs watches root and each immediate subdirectory, where
// plugin manifests live.
func addPluginDirs(watcher *fsnotify.Watcher, root string) error {
	if err := watcher.Add(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := watcher.Add(filepath.Join(root, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
