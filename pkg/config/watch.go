package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/trellis/pkg/observability"
)

// Watch reloads the configuration whenever the overlay file at path changes
// and hands every valid result to fn. Invalid reloads are logged and
// dropped, so fn only ever sees a config that passed Validate. Watch blocks
// until ctx is done.
//
// The parent directory is watched rather than the file, because editors and
// config-map mounts replace the file instead of writing it in place.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	logger := observability.FromContext(ctx).WithField("config_file", abs)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			cfg, err := Load(abs)
			if err != nil {
				logger.WithError(err).Warn("Ignoring invalid config reload")
				continue
			}
			logger.Info("Configuration reloaded")
			fn(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Config watcher error")
		}
	}
}
