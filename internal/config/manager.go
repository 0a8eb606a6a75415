package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"
	"go.uber.org/zap"
)

// Watcher hot-reloads Config from disk and fans the new value out to
// registered callbacks. Adapted from the teacher's HFTConfigManager: same
// fsnotify watch-the-config-directory-and-debounce idiom and atomic.Value
// swap for lock-free reads, trimmed of the teacher's viper-driven defaults
// (LoadConfig already owns that) down to a pure reload-and-notify loop a
// caller layers on top of an already-loaded Config.
type Watcher struct {
	path string

	current atomic.Value // *Config

	fsWatcher *fsnotify.Watcher
	reload    chan struct{}

	cbLock    sync.RWMutex
	callbacks []func(*Config)

	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher starts watching the directory containing path (a config.yaml)
// for writes, reloading initial into Config on every change. initial is
// typically the result of a prior LoadConfig call.
func NewWatcher(path string, initial *Config, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:      path,
		fsWatcher: fsw,
		reload:    make(chan struct{}, 1),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	w.current.Store(initial)

	dir := filepathDir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		cancel()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	return w.current.Load().(*Config)
}

// OnReload registers a callback invoked (in its own goroutine) every time
// the watched file changes and is reloaded successfully.
func (w *Watcher) OnReload(cb func(*Config)) {
	w.cbLock.Lock()
	defer w.cbLock.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Name == w.path && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
				select {
				case w.reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logf("config watcher error", zap.Error(err))
		case <-w.reload:
			time.Sleep(100 * time.Millisecond) // debounce rapid writes
			if err := w.reloadFromDisk(); err != nil {
				w.logf("failed to reload config", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) reloadFromDisk() error {
	cfg, err := LoadConfigFromFile(w.path)
	if err != nil {
		return err
	}
	w.current.Store(cfg)

	w.cbLock.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.cbLock.RUnlock()
	for _, cb := range callbacks {
		go cb(cfg)
	}
	return nil
}

func (w *Watcher) logf(msg string, fields ...zap.Field) {
	if w.logger != nil {
		w.logger.Warn(msg, fields...)
	}
}

// Close stops the watch loop and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.cancel()
	w.wg.Wait()
	return w.fsWatcher.Close()
}

// LoadConfigFromFile reads a YAML file directly into a Config, bypassing
// viper's env-overlay — used by Watcher so a hot reload reflects exactly
// what is on disk.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	setDefaultsOn(cfg)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func filepathDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
