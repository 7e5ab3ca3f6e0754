package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the configuration file when it changes on disk and hands
// the validated result to a callback. Invalid or unreadable reloads are
// logged and skipped, keeping the last good configuration in effect.
type Watcher struct {
	path     string
	logger   zerolog.Logger
	onChange func(*Config)
	debounce time.Duration
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(path string, logger zerolog.Logger, onChange func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		logger:   logger.With().Str("module", "config").Logger(),
		onChange: onChange,
		debounce: 200 * time.Millisecond,
	}
}

// Run watches until ctx is done. The parent directory is watched rather
// than the file itself so atomic editor saves (write to temp, rename over)
// are observed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	// Editors fire several events per save; coalesce them before reloading.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("config watcher error")

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to reload config, keeping current")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn().Err(err).Msg("reloaded config is invalid, keeping current")
		return
	}

	w.logger.Info().Str("path", w.path).Msg("configuration reloaded")
	w.onChange(cfg)
}
