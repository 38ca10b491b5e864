package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches a config file for changes and reloads it. The
// parent directory is watched so that editors replacing the file by rename
// are picked up.
type ConfigWatcher struct {
	path       string
	onChange   chan *Config
	onError    chan error
	debounce   time.Duration
	validate   func(*Config) error
	lastConfig *Config
	mu         sync.Mutex
	logger     logger.ILogger
}

// WatcherOption configures a ConfigWatcher.
type WatcherOption func(*ConfigWatcher)

// WithValidator makes the watcher drop reloaded configurations that fail
// validate. Rejected configurations are reported on Errors.
func WithValidator(validate func(*Config) error) WatcherOption {
	return func(w *ConfigWatcher) {
		w.validate = validate
	}
}

// WithDebounce sets how long the watcher waits for changes to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *ConfigWatcher) {
		w.debounce = d
	}
}

// NewConfigWatcher creates a new config file watcher.
func NewConfigWatcher(path string, log logger.ILogger, opts ...WatcherOption) *ConfigWatcher {
	w := &ConfigWatcher{
		path:     filepath.Clean(path),
		onChange: make(chan *Config, 1),
		onError:  make(chan error, 1),
		debounce: 100 * time.Millisecond,
		logger:   log.SubLogger("ConfigWatcher"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Changes returns channel that receives new configs on file changes.
func (w *ConfigWatcher) Changes() <-chan *Config {
	return w.onChange
}

// Errors returns channel that receives errors during reload.
func (w *ConfigWatcher) Errors() <-chan error {
	return w.onError
}

// Start begins watching the config file.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	w.logger.Debugf("started watching config file: %s", w.path)
	go w.watchLoop(ctx, watcher)
	return nil
}

// watchLoop handles file system events.
func (w *ConfigWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var debounceTimer *time.Timer
	var debounceChan <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			w.logger.Debug("config watcher stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debugf("config file change detected: op=%s", event.Op)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.debounce)
			debounceChan = debounceTimer.C

		case <-debounceChan:
			debounceChan = nil
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("fsnotify error: %v", err)
			w.sendError(err)
		}
	}
}

// reload loads and validates the config file and sends it on the change
// channel. A newer pending configuration replaces an unread one.
func (w *ConfigWatcher) reload() {
	cfg, err := Load(w.path)
	if err == nil && w.validate != nil {
		if verr := w.validate(cfg); verr != nil {
			err = fmt.Errorf("invalid configuration: %w", verr)
		}
	}
	if err != nil {
		w.logger.Errorf("failed to reload config: %v", err)
		w.sendError(err)
		return
	}

	w.mu.Lock()
	w.lastConfig = cfg
	w.mu.Unlock()

	w.logger.Infof("config reloaded: path=%s", w.path)

	for {
		select {
		case w.onChange <- cfg:
			return
		default:
		}
		select {
		case stale := <-w.onChange:
			w.logger.Warningf("replacing unapplied config update (%d pipelines)", len(stale.Pipelines))
		default:
		}
	}
}

func (w *ConfigWatcher) sendError(err error) {
	select {
	case w.onError <- err:
	default:
	}
}

// LastConfig returns the last successfully loaded config.
func (w *ConfigWatcher) LastConfig() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastConfig
}
