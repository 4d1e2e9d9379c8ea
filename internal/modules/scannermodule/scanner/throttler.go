package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/mantonx/cadenza/internal/logger"
)

const (
	sampleInterval = 3 * time.Second
	maxDelay       = 500 * time.Millisecond
	delayStep      = 25 * time.Millisecond
	// emergencyMemory is the memory usage above which the walk pauses a
	// full second per directory regardless of the gradual ramp
	emergencyMemory = 95.0
)

// Throttler paces a reconciliation walk against system load. It samples
// CPU and memory via gopsutil and ramps an inter-directory delay up or
// down in small steps, so a scan backs off while the machine is busy
// and speeds back up when it quiets down.
type Throttler struct {
	cpuThreshold float64
	memThreshold float64

	mu    sync.RWMutex
	delay time.Duration
	cpu   float64
	mem   float64

	stop chan struct{}
	done chan struct{}
}

// NewThrottler creates a throttler with the given load thresholds,
// expressed as percentages
func NewThrottler(cpuThreshold, memThreshold float64) *Throttler {
	return &Throttler{
		cpuThreshold: cpuThreshold,
		memThreshold: memThreshold,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the background sampling loop
func (t *Throttler) Start() {
	go t.sampleLoop()
}

// Stop terminates the sampling loop
func (t *Throttler) Stop() {
	close(t.stop)
	<-t.done
}

func (t *Throttler) sampleLoop() {
	defer close(t.done)

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.sample()
		}
	}
}

func (t *Throttler) sample() {
	var cpuPct, memPct float64

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cpu = cpuPct
	t.mem = memPct

	overloaded := cpuPct > t.cpuThreshold || memPct > t.memThreshold
	old := t.delay
	if overloaded {
		t.delay += delayStep
		if t.delay > maxDelay {
			t.delay = maxDelay
		}
	} else if t.delay > 0 {
		t.delay -= delayStep
		if t.delay < 0 {
			t.delay = 0
		}
	}

	if t.delay != old {
		logger.Debug("Scan throttle adjusted to %v (cpu %.1f%%, mem %.1f%%)", t.delay, cpuPct, memPct)
	}
}

// Delay returns the current inter-directory delay
func (t *Throttler) Delay() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.mem > emergencyMemory {
		return time.Second
	}
	return t.delay
}

// Load returns the most recent CPU and memory samples
func (t *Throttler) Load() (cpuPct, memPct float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cpu, t.mem
}

// Wait sleeps for the current delay, honoring cancellation. A zero
// delay returns immediately without touching the timer.
func (t *Throttler) Wait(ctx context.Context) error {
	d := t.Delay()
	if d == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
