package scanner

import (
	"time"

	"github.com/mantonx/cadenza/internal/config"
)

// Settings is the slice of application configuration the scan engine
// consumes, resolved with fallbacks so a zeroed config still scans
type Settings struct {
	BatchSize          int
	ProgressInterval   time.Duration
	MaxConcurrentScans int
	ThrottlingEnabled  bool
	CPUThreshold       float64
	MemoryThreshold    float64
	UntrackCascade     bool
}

// CurrentSettings resolves scan settings from the live configuration
func CurrentSettings() Settings {
	cfg := config.Get()

	s := Settings{
		BatchSize:          cfg.Sync.BatchSize,
		ProgressInterval:   cfg.Sync.ProgressInterval,
		MaxConcurrentScans: cfg.Performance.MaxConcurrentScans,
		ThrottlingEnabled:  cfg.Performance.EnableAdaptiveThrottling,
		CPUThreshold:       cfg.Performance.CPUThreshold,
		MemoryThreshold:    cfg.Performance.MemoryThreshold,
		UntrackCascade:     cfg.Sync.UntrackCascade,
	}

	if s.BatchSize <= 0 {
		s.BatchSize = 50
	}
	if s.ProgressInterval <= 0 {
		s.ProgressInterval = 2 * time.Second
	}
	if s.MaxConcurrentScans <= 0 {
		s.MaxConcurrentScans = 1
	}
	if s.CPUThreshold <= 0 {
		s.CPUThreshold = 80
	}
	if s.MemoryThreshold <= 0 {
		s.MemoryThreshold = 85
	}
	return s
}
