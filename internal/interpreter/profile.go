package interpreter

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const profileDebounce = 100 * time.Millisecond

// WatchProfile reloads the classifier profile at path into store whenever
// the file changes, until ctx is done. A profile that fails to parse or
// compile is logged and the previous rules stay active. The returned
// channel receives one value per successful reload and is closed when the
// watcher stops.
func WatchProfile(ctx context.Context, path string, store *RuleStore, logger *slog.Logger) (<-chan struct{}, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create profile watcher: %w", err)
	}
	// Watch the directory: editors often replace the file rather than write it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	reloaded := make(chan struct{}, 1)

	go func() {
		var (
			mu     sync.Mutex
			timer  *time.Timer
			closed bool
		)
		defer func() {
			mu.Lock()
			closed = true
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			_ = watcher.Close()
			close(reloaded)
		}()

		reload := func() {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			rs, err := LoadRulesFile(path)
			if err != nil {
				logger.Warn("Classifier profile reload failed, keeping previous rules", "path", path, "error", err)
				return
			}
			store.Store(rs)
			logger.Info("Classifier profile reloaded", "path", path)
			select {
			case reloaded <- struct{}{}:
			default:
			}
		}

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
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(profileDebounce, reload)
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Classifier profile watcher error", "error", err)
			}
		}
	}()

	return reloaded, nil
}
