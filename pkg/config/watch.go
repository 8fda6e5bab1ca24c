package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/notcontrolos/hinata/internal/logger"
)

// debounceWindow coalesces the burst of filesystem events most editors
// produce on save (truncate, write, chmod, rename).
const debounceWindow = 250 * time.Millisecond

// Watch monitors the configuration file and invokes onChange with the
// freshly loaded configuration whenever it changes on disk.
//
// The parent directory is watched rather than the file itself because many
// editors replace files by rename, which would silently drop a file-level
// watch. Reloads that fail to parse or validate are logged and skipped; the
// previous configuration stays in effect.
//
// The returned stop function releases the watcher. It is safe to call once.
func Watch(path string, onChange func(*Config)) (func(), error) {
	if path == "" {
		path = GetDefaultConfigPath()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	stopCh := make(chan struct{})

	go func() {
		var timer *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceWindow, func() {
					reload(abs, onChange)
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Config watcher error", "error", err)

			case <-stopCh:
				if timer != nil {
					timer.Stop()
				}
				return
			}
		}
	}()

	logger.Debug("Watching configuration file", "path", abs)

	return func() {
		close(stopCh)
		watcher.Close()
	}, nil
}

// reload loads and validates the changed file, keeping the old configuration
// on any failure.
func reload(path string, onChange func(*Config)) {
	cfg, err := Load(path)
	if err != nil {
		logger.Warn("Ignoring invalid configuration reload", "path", path, "error", err)
		return
	}

	logger.Info("Configuration reloaded", "path", path)
	onChange(cfg)
}
