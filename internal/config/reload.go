package config

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ReloadableConfig watches the config file and atomically swaps in new
// versions. Scans already in flight keep the config they started with.
type ReloadableConfig struct {
	path      string
	current   atomic.Pointer[Config]
	mu        sync.RWMutex
	watchers  []func(old, new *Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	closeOnce sync.Once
	reloading atomic.Bool
}

// NewReloadable loads path and starts watching it for writes.
func NewReloadable(path string) (*ReloadableConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("initial config load: %w", err)
	}

	r := &ReloadableConfig{
		path:   path,
		stopCh: make(chan struct{}),
	}
	r.current.Store(cfg)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}

	r.watcher = watcher
	go r.watchLoop()

	return r, nil
}

// Get returns the current configuration.
func (r *ReloadableConfig) Get() *Config {
	return r.current.Load()
}

// Watch registers a callback run after every successful reload.
func (r *ReloadableConfig) Watch(fn func(old, new *Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}

// Reload forces a config reload from disk.
func (r *ReloadableConfig) Reload() error {
	if !r.reloading.CompareAndSwap(false, true) {
		return fmt.Errorf("reload already in progress")
	}
	defer r.reloading.Store(false)

	newCfg, err := Load(r.path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	oldCfg := r.Get()
	if err := validateTransition(oldCfg, newCfg); err != nil {
		return fmt.Errorf("validate transition: %w", err)
	}

	r.current.Store(newCfg)

	r.mu.RLock()
	watchers := make([]func(old, new *Config), len(r.watchers))
	copy(watchers, r.watchers)
	r.mu.RUnlock()

	for _, fn := range watchers {
		go fn(oldCfg, newCfg)
	}
	return nil
}

// validateTransition rejects changes that need a process restart.
func validateTransition(old, new *Config) error {
	if old.Output.Dir != new.Output.Dir {
		return fmt.Errorf("output.dir change requires restart: %s -> %s", old.Output.Dir, new.Output.Dir)
	}
	if old.Metrics.Listen != new.Metrics.Listen {
		return fmt.Errorf("metrics.listen change requires restart")
	}
	if old.Metrics.AuthToken != new.Metrics.AuthToken {
		return fmt.Errorf("metrics.auth_token change requires restart")
	}
	return nil
}

func (r *ReloadableConfig) watchLoop() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				if err := r.Reload(); err != nil {
					log.Printf("config reload failed: %v", err)
				}
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher error: %v", err)
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the file watcher. It is safe to call more than once.
func (r *ReloadableConfig) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		err = r.watcher.Close()
	})
	return err
}
