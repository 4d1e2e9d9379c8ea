package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mantonx/cadenza/internal/events"
	"github.com/mantonx/cadenza/internal/logger"
)

// FileWatcher watches the configuration file and reloads it on change.
// Editors tend to fire several events per save, so reloads are debounced.
type FileWatcher struct {
	manager  *ConfigManager
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	timers   map[string]*time.Timer
	running  bool
	cancelFn context.CancelFunc
}

// NewFileWatcher creates a watcher bound to the given config manager
func NewFileWatcher(manager *ConfigManager) *FileWatcher {
	return &FileWatcher{
		manager:  manager,
		debounce: 500 * time.Millisecond,
		timers:   make(map[string]*time.Timer),
	}
}

// Start begins watching the config file's directory for changes
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("config watcher already running")
	}

	configPath := fw.manager.ConfigPath()
	if configPath == "" {
		return fmt.Errorf("no config file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the containing directory: many editors replace the file on
	// save, which drops the watch if it is placed on the file itself.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	fw.watcher = watcher
	fw.cancelFn = cancel
	fw.running = true

	go fw.watchLoop(watchCtx, configPath)

	logger.Info("👁️ Watching config file for changes: %s", configPath)
	return nil
}

// Stop stops watching for config changes
func (fw *FileWatcher) Stop() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.running {
		return
	}

	fw.cancelFn()
	fw.watcher.Close()
	for _, timer := range fw.timers {
		timer.Stop()
	}
	fw.timers = make(map[string]*time.Timer)
	fw.running = false
}

func (fw *FileWatcher) watchLoop(ctx context.Context, configPath string) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fw.scheduleReload(configPath)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Config watcher error: %v", err)
		}
	}
}

func (fw *FileWatcher) scheduleReload(configPath string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if timer, exists := fw.timers[configPath]; exists {
		timer.Stop()
	}

	fw.timers[configPath] = time.AfterFunc(fw.debounce, func() {
		fw.mu.Lock()
		delete(fw.timers, configPath)
		fw.mu.Unlock()

		fw.reload(configPath)
	})
}

// reload re-reads the config file and announces the new configuration
// on the event bus
func (fw *FileWatcher) reload(configPath string) {
	logger.Info("🔄 Config file changed, reloading: %s", configPath)
	if err := fw.manager.LoadConfig(configPath); err != nil {
		logger.Error("Failed to reload config: %v", err)
		return
	}

	if bus := events.GetGlobalEventBus(); bus != nil {
		bus.PublishAsync(events.NewEventWithData(events.EventConfigReloaded,
			"system.config", "Configuration Reloaded",
			fmt.Sprintf("Reloaded configuration from %s", configPath),
			map[string]interface{}{"path": configPath}))
	}
}
