package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/cadenza/internal/events"
)

type watcherBusLogger struct{}

func (watcherBusLogger) Debug(msg string, fields ...interface{}) {}
func (watcherBusLogger) Info(msg string, fields ...interface{})  {}
func (watcherBusLogger) Warn(msg string, fields ...interface{})  {}
func (watcherBusLogger) Error(msg string, fields ...interface{}) {}

func newWatcherBus(t *testing.T) events.EventBus {
	t.Helper()
	cfg := events.DefaultEventBusConfig()
	cfg.EnablePersistence = false
	cfg.EnableMetrics = false

	bus := events.NewEventBus(cfg, watcherBusLogger{}, nil, nil)
	require.NoError(t, bus.Start(context.Background()))

	events.SetGlobalEventBus(bus)
	t.Cleanup(func() {
		events.SetGlobalEventBus(nil)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		bus.Stop(ctx)
	})
	return bus
}

func writeConfigFile(t *testing.T, path string, batchSize string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path,
		[]byte("sync:\n  batch_size: "+batchSize+"\n"), 0644))
}

func reloadedCount(bus events.EventBus) int64 {
	return bus.GetStats().EventsByType[string(events.EventConfigReloaded)]
}

func TestReloadAppliesChangesAndPublishesEvent(t *testing.T) {
	bus := newWatcherBus(t)

	path := filepath.Join(t.TempDir(), "cadenza.yaml")
	writeConfigFile(t, path, "25")

	manager := NewConfigManager()
	require.NoError(t, manager.LoadConfig(path))
	require.Equal(t, 25, manager.GetConfig().Sync.BatchSize)

	writeConfigFile(t, path, "75")
	fw := NewFileWatcher(manager)
	fw.reload(path)

	assert.Equal(t, 75, manager.GetConfig().Sync.BatchSize)
	require.Eventually(t, func() bool {
		return reloadedCount(bus) == 1
	}, 2*time.Second, 10*time.Millisecond)

	found, _, err := bus.GetEvents(events.EventFilter{
		Types: []events.EventType{events.EventConfigReloaded},
	}, 10, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, path, found[0].Data["path"])
}

func TestReloadFailureKeepsConfigAndStaysQuiet(t *testing.T) {
	bus := newWatcherBus(t)

	path := filepath.Join(t.TempDir(), "cadenza.yaml")
	writeConfigFile(t, path, "25")

	manager := NewConfigManager()
	require.NoError(t, manager.LoadConfig(path))

	require.NoError(t, os.WriteFile(path, []byte("sync: [not a mapping"), 0644))
	fw := NewFileWatcher(manager)
	fw.reload(path)

	assert.Equal(t, 25, manager.GetConfig().Sync.BatchSize, "bad file leaves the old config in place")
	assert.EqualValues(t, 0, reloadedCount(bus), "no event for a failed reload")
}

func TestFileWatcherPicksUpEdits(t *testing.T) {
	bus := newWatcherBus(t)

	path := filepath.Join(t.TempDir(), "cadenza.yaml")
	writeConfigFile(t, path, "25")

	manager := NewConfigManager()
	require.NoError(t, manager.LoadConfig(path))

	fw := NewFileWatcher(manager)
	fw.debounce = 50 * time.Millisecond
	require.NoError(t, fw.Start(context.Background()))
	t.Cleanup(fw.Stop)

	writeConfigFile(t, path, "75")

	require.Eventually(t, func() bool {
		return manager.GetConfig().Sync.BatchSize == 75 && reloadedCount(bus) >= 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFileWatcherRequiresALoadedFile(t *testing.T) {
	fw := NewFileWatcher(NewConfigManager())
	assert.Error(t, fw.Start(context.Background()), "nothing to watch without a config path")
}
