// Package events provides the event bus used for scan lifecycle
// notifications, auditing, and live progress streaming.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

// System-wide event types
const (
	// Scan lifecycle events
	EventScanStarted   EventType = "scan.started"
	EventScanProgress  EventType = "scan.progress"
	EventScanCompleted EventType = "scan.completed"
	EventScanFailed    EventType = "scan.failed"
	EventScanPaused    EventType = "scan.paused"
	EventScanResumed   EventType = "scan.resumed"

	// Import pipeline events
	EventImportStarted   EventType = "import.started"
	EventImportCompleted EventType = "import.completed"

	// Export events
	EventExportCompleted EventType = "export.completed"

	// Track events
	EventTrackCreated EventType = "track.created"
	EventTrackUpdated EventType = "track.updated"

	// Media source events
	EventSourceFound    EventType = "source.found"
	EventSourceOrphaned EventType = "source.orphaned"
	EventSourcePurged   EventType = "source.purged"

	// Directory tracking events
	EventDirectoryTracked   EventType = "directory.tracked"
	EventDirectoryUntracked EventType = "directory.untracked"

	// Asset events
	EventAssetCreated EventType = "asset.created"
	EventAssetRemoved EventType = "asset.removed"

	// Library lifecycle events
	EventMediaLibraryCreated EventType = "library.created"
	EventMediaLibraryDeleted EventType = "library.deleted"

	// System events
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"
	EventConfigReloaded EventType = "config.reloaded"

	// General events
	EventError   EventType = "error"
	EventWarning EventType = "warning"
	EventInfo    EventType = "info"
)

// EventPriority represents the priority level of an event
type EventPriority int

const (
	PriorityLow      EventPriority = 1
	PriorityNormal   EventPriority = 5
	PriorityHigh     EventPriority = 10
	PriorityCritical EventPriority = 20
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // system, module:id, etc.
	Target    string                 `json:"target"` // specific target if applicable
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Priority  EventPriority          `json:"priority"`
	Tags      []string               `json:"tags"`
	Timestamp time.Time              `json:"timestamp"`
	TTL       *time.Duration         `json:"ttl,omitempty"` // Time to live
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter represents filters for event subscriptions
type EventFilter struct {
	Types    []EventType    `json:"types,omitempty"`
	Sources  []string       `json:"sources,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Priority *EventPriority `json:"priority,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID            string       `json:"id"`
	Filter        EventFilter  `json:"filter"`
	Handler       EventHandler `json:"-"`
	Subscriber    string       `json:"subscriber"`
	Created       time.Time    `json:"created"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64        `json:"trigger_count"`
}

// EventStats represents statistics about events
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	EventsBySource      map[string]int64 `json:"events_by_source"`
	EventsByPriority    map[string]int64 `json:"events_by_priority"`
	RecentEvents        []Event          `json:"recent_events"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// EventBusConfig represents configuration for the event bus
type EventBusConfig struct {
	BufferSize        int           `json:"buffer_size"`
	MaxEventAge       time.Duration `json:"max_event_age"`
	MaxStoredEvents   int           `json:"max_stored_events"`
	EnablePersistence bool          `json:"enable_persistence"`
	EnableMetrics     bool          `json:"enable_metrics"`
	LogLevel          string        `json:"log_level"`
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		BufferSize:        1000,
		MaxEventAge:       24 * time.Hour,
		MaxStoredEvents:   10000,
		EnablePersistence: true,
		EnableMetrics:     true,
		LogLevel:          "info",
	}
}

// =============================================================================
// PREDEFINED EVENT DATA STRUCTURES
// =============================================================================

// ScanProgressData represents data for scan progress events
type ScanProgressData struct {
	JobID          uint32  `json:"job_id"`
	LibraryID      uint32  `json:"library_id"`
	Progress       float64 `json:"progress"`
	DirsVisited    int     `json:"dirs_visited"`
	FilesProcessed int     `json:"files_processed"`
	BytesProcessed int64   `json:"bytes_processed"`
	ErrorCount     int     `json:"error_count,omitempty"`
	CurrentPath    string  `json:"current_path,omitempty"`
}

// ScanCompletedData represents data for scan.completed events
type ScanCompletedData struct {
	JobID        uint32 `json:"job_id"`
	LibraryID    uint32 `json:"library_id"`
	DurationMs   int64  `json:"duration_ms"`
	DirsCurrent  int    `json:"dirs_current"`
	DirsAdded    int    `json:"dirs_added"`
	DirsModified int    `json:"dirs_modified"`
	DirsOrphaned int    `json:"dirs_orphaned"`
	DirsSkipped  int    `json:"dirs_skipped"`
	Aborted      bool   `json:"aborted"`
}

// SourceFoundData represents data for source.found events
type SourceFoundData struct {
	Path      string    `json:"path"`
	LibraryID uint32    `json:"library_id"`
	Size      int64     `json:"size"`
	Hash      string    `json:"hash"`
	MimeType  string    `json:"mime_type"`
	ModTime   time.Time `json:"mod_time"`
}

// ImportCompletedData represents data for import.completed events
type ImportCompletedData struct {
	LibraryID  uint32 `json:"library_id"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Unchanged  int    `json:"unchanged"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
	DryRun     bool   `json:"dry_run"`
}

// ExportCompletedData represents data for export.completed events
type ExportCompletedData struct {
	LibraryID  uint32 `json:"library_id"`
	TargetRoot string `json:"target_root"`
	Copied     int    `json:"copied"`
	Skipped    int    `json:"skipped"`
	Purged     int    `json:"purged"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
}

// TrackChangedData represents data for track.created and track.updated events
type TrackChangedData struct {
	TrackID   string `json:"track_id"`
	LibraryID uint32 `json:"library_id"`
	Path      string `json:"path"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Album     string `json:"album"`
	Revision  uint32 `json:"revision"`
}

// SourcePurgedData represents data for source.purged events
type SourcePurgedData struct {
	LibraryID   uint32 `json:"library_id"`
	PurgedCount int64  `json:"purged_count"`
}
