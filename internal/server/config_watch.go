package server

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher re-reads the config file when it changes on disk and
// applies the settings that can change at runtime: allowed origins,
// message size and rate limit. They take effect for new connections.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	logger  *slog.Logger
	done    chan struct{}

	// onReload, when set, is called after each successful reload.
	onReload func(Config)
}

// WatchConfig starts watching path. The directory is watched rather
// than the file so editors that replace the file on save are seen.
func WatchConfig(path string, logger *slog.Logger) (*ConfigWatcher, error) {
	return watchConfig(path, logger, nil)
}

func watchConfig(path string, logger *slog.Logger, onReload func(Config)) (*ConfigWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(absPath), err)
	}

	w := &ConfigWatcher{
		watcher: watcher,
		path:    absPath,
		logger:  logger.With("component", "config"),
		done:    make(chan struct{}),

		onReload: onReload,
	}
	go w.watchLoop()
	return w, nil
}

// Close stops the watcher and waits for its loop to exit.
func (w *ConfigWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *ConfigWatcher) watchLoop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if absName, _ := filepath.Abs(event.Name); absName != w.path {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *ConfigWatcher) reload() {
	loaded, err := LoadConfig(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping current settings", "path", w.path, "error", err)
		return
	}

	cfg := currentConfig()
	cfg.AllowedOrigins = loaded.AllowedOrigins
	cfg.MaxMessageSize = loaded.MaxMessageSize
	cfg.RateLimit = loaded.RateLimit
	SetConfig(&cfg)

	applied := currentConfig()
	w.logger.Info("config reloaded",
		"origins", applied.AllowedOrigins,
		"max_message_size", applied.MaxMessageSize,
		"rate_burst", applied.RateLimit.Burst,
		"rate_interval", applied.RateLimit.RefillInterval)

	if w.onReload != nil {
		w.onReload(applied)
	}
}
