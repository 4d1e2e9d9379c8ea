package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottlerStartsUnthrottled(t *testing.T) {
	th := NewThrottler(80, 85)
	assert.Equal(t, time.Duration(0), th.Delay())

	cpuPct, memPct := th.Load()
	assert.Zero(t, cpuPct)
	assert.Zero(t, memPct)
}

func TestThrottlerWaitWithZeroDelayReturnsImmediately(t *testing.T) {
	th := NewThrottler(80, 85)

	start := time.Now()
	require.NoError(t, th.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestThrottlerWaitHonorsCancellation(t *testing.T) {
	th := NewThrottler(80, 85)
	th.mu.Lock()
	th.delay = time.Minute
	th.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, th.Wait(ctx), context.Canceled)
}

func TestThrottlerEmergencyBrake(t *testing.T) {
	th := NewThrottler(80, 85)
	th.mu.Lock()
	th.delay = 50 * time.Millisecond
	th.mem = emergencyMemory + 1
	th.mu.Unlock()

	assert.Equal(t, time.Second, th.Delay(), "critical memory overrides the ramp")

	th.mu.Lock()
	th.mem = emergencyMemory - 10
	th.mu.Unlock()
	assert.Equal(t, 50*time.Millisecond, th.Delay())
}

func TestThrottlerStartStop(t *testing.T) {
	th := NewThrottler(80, 85)
	th.Start()
	th.Stop()
}

func TestCurrentSettingsHasSaneFallbacks(t *testing.T) {
	s := CurrentSettings()

	assert.Greater(t, s.BatchSize, 0)
	assert.Greater(t, s.ProgressInterval, time.Duration(0))
	assert.GreaterOrEqual(t, s.MaxConcurrentScans, 1)
	assert.Greater(t, s.CPUThreshold, 0.0)
	assert.Greater(t, s.MemoryThreshold, 0.0)
}
