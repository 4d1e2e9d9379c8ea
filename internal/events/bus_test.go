package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Debug(msg string, fields ...interface{}) {}
func (testLogger) Info(msg string, fields ...interface{})  {}
func (testLogger) Warn(msg string, fields ...interface{})  {}
func (testLogger) Error(msg string, fields ...interface{}) {}

func newTestBus(t *testing.T) EventBus {
	t.Helper()
	cfg := DefaultEventBusConfig()
	cfg.EnablePersistence = false
	cfg.EnableMetrics = false

	bus := NewEventBus(cfg, testLogger{}, nil, nil)
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		bus.Stop(ctx)
	})
	return bus
}

func TestEventBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := newTestBus(t)

	var scans, all int32
	_, err := bus.Subscribe(context.Background(),
		EventFilter{Types: []EventType{EventScanStarted}},
		func(Event) error { atomic.AddInt32(&scans, 1); return nil })
	require.NoError(t, err)
	_, err = bus.Subscribe(context.Background(), EventFilter{},
		func(Event) error { atomic.AddInt32(&all, 1); return nil })
	require.NoError(t, err)

	require.NoError(t, bus.PublishAsync(NewScanEvent(EventScanStarted, 1, 1, "scan started")))
	require.NoError(t, bus.PublishAsync(NewSystemEvent(EventSystemStarted, "Up", "system up")))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&all) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&scans), "filter excludes the system event")
}

func TestEventBusKeepsRecentEventsAndStats(t *testing.T) {
	bus := newTestBus(t)

	require.NoError(t, bus.PublishAsync(NewScanEvent(EventScanCompleted, 1, 1, "done")))

	require.Eventually(t, func() bool {
		return bus.GetStats().TotalEvents == 1
	}, 2*time.Second, 10*time.Millisecond)

	events, total, err := bus.GetEvents(EventFilter{Types: []EventType{EventScanCompleted}}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, EventScanCompleted, events[0].Type)

	stats := bus.GetStats()
	assert.EqualValues(t, 1, stats.EventsByType[string(EventScanCompleted)])
}

func TestEventBusRejectsPublishWhenStopped(t *testing.T) {
	cfg := DefaultEventBusConfig()
	cfg.EnablePersistence = false
	cfg.EnableMetrics = false
	bus := NewEventBus(cfg, testLogger{}, nil, nil)

	require.NoError(t, bus.Start(context.Background()))
	require.NoError(t, bus.Stop(context.Background()))

	assert.Error(t, bus.PublishAsync(NewSystemEvent(EventInfo, "Late", "after stop")))
	assert.Error(t, bus.Publish(context.Background(), NewSystemEvent(EventInfo, "Late", "after stop")))
}

// Publishers racing a shutdown must never panic: a goroutine that passed
// the running check can still be sending while Stop runs.
func TestEventBusStopIsSafeUnderConcurrentPublish(t *testing.T) {
	cfg := DefaultEventBusConfig()
	cfg.EnablePersistence = false
	cfg.EnableMetrics = false
	bus := NewEventBus(cfg, testLogger{}, nil, nil)
	require.NoError(t, bus.Start(context.Background()))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					bus.PublishAsync(NewSystemEvent(EventInfo, "Racer", "spin"))
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, bus.Stop(context.Background()))

	close(stop)
	wg.Wait()
}
