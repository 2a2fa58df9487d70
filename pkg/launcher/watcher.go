package launcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
)

const DefaultWatchDebounce = 500 * time.Millisecond

// watchConfigFile signals on the returned channel when the file changes.
// The parent directory is watched since editors often replace files by rename.
// Bursts of events within debounce produce one signal.
func watchConfigFile(ctx context.Context, path string, debounce time.Duration, logger logging.Logger) (<-chan struct{}, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.NewIOError("failed to resolve configuration path", err).WithContext("path", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewIOError("failed to create file watcher", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, errors.NewIOError("failed to watch configuration directory", err).WithContext("path", absPath)
	}

	changed := make(chan struct{}, 1)

	go func() {
		defer watcher.Close()

		var debounceTimer *time.Timer
		var fire <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				logger.Debugf("Configuration file event, path: %s, op: %s", event.Name, event.Op)
				if debounceTimer == nil {
					debounceTimer = time.NewTimer(debounce)
				} else {
					if !debounceTimer.Stop() {
						select {
						case <-debounceTimer.C:
						default:
						}
					}
					debounceTimer.Reset(debounce)
				}
				fire = debounceTimer.C

			case <-fire:
				fire = nil
				select {
				case changed <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("Configuration watcher error, path: %s, error: %v", absPath, err)
			}
		}
	}()

	return changed, nil
}
