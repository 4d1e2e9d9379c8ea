package scanner

import (
	"sync"
	"time"
)

// ProgressEstimator turns raw walk counters into a stable percentage
// and ETA. The total is seeded from the tracked directory count, which
// undercounts on first scans, so the estimate is capped short of 100
// until the pass actually finishes.
type ProgressEstimator struct {
	mu        sync.RWMutex
	startTime time.Time

	totalDirs   int
	visitedDirs int
	files       int
	bytes       int64

	samples []rateSample
}

type rateSample struct {
	timestamp time.Time
	dirs      int
}

const maxRateSamples = 8

// NewProgressEstimator creates an estimator
func NewProgressEstimator() *ProgressEstimator {
	return &ProgressEstimator{startTime: time.Now()}
}

// SetTotalDirs seeds the expected directory count. On a first scan no
// rows exist yet and the total stays zero; Percent then reports zero
// until completion rather than inventing numbers.
func (pe *ProgressEstimator) SetTotalDirs(n int) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	pe.totalDirs = n
}

// Update records the walk counters as of now
func (pe *ProgressEstimator) Update(visitedDirs, files int, bytes int64) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	pe.visitedDirs = visitedDirs
	pe.files = files
	pe.bytes = bytes

	pe.samples = append(pe.samples, rateSample{timestamp: time.Now(), dirs: visitedDirs})
	if len(pe.samples) > maxRateSamples {
		pe.samples = pe.samples[len(pe.samples)-maxRateSamples:]
	}
}

// Percent returns the current completion estimate in [0, 99]. The last
// point is reserved for the caller marking the pass finished.
func (pe *ProgressEstimator) Percent() float64 {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	if pe.totalDirs <= 0 {
		return 0
	}
	pct := float64(pe.visitedDirs) / float64(pe.totalDirs) * 100
	if pct > 99 {
		pct = 99
	}
	return pct
}

// Rate returns directories per second over the recent sample window
func (pe *ProgressEstimator) Rate() float64 {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	if len(pe.samples) < 2 {
		return 0
	}
	first := pe.samples[0]
	last := pe.samples[len(pe.samples)-1]
	elapsed := last.timestamp.Sub(first.timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.dirs-first.dirs) / elapsed
}

// ETA returns the estimated remaining duration, or zero when unknown
func (pe *ProgressEstimator) ETA() time.Duration {
	rate := pe.Rate()

	pe.mu.RLock()
	defer pe.mu.RUnlock()

	if rate <= 0 || pe.totalDirs <= 0 {
		return 0
	}
	remaining := pe.totalDirs - pe.visitedDirs
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/rate) * time.Second
}

// Elapsed returns the time since the estimator was created
func (pe *ProgressEstimator) Elapsed() time.Duration {
	pe.mu.RLock()
	defer pe.mu.RUnlock()
	return time.Since(pe.startTime)
}

// Counters returns the raw walk counters
func (pe *ProgressEstimator) Counters() (visitedDirs, files int, bytes int64) {
	pe.mu.RLock()
	defer pe.mu.RUnlock()
	return pe.visitedDirs, pe.files, pe.bytes
}
