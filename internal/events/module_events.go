package events

import (
	"fmt"
	"time"
)

// Module lifecycle event types, published by the module registry and
// the modules' own Init hooks
const (
	EventModuleInitialized EventType = "module.initialized"
	EventModuleStarted     EventType = "module.started"
	EventModuleStopped     EventType = "module.stopped"
	EventModuleError       EventType = "module.error"
)

// ModuleLifecycleData represents data for module lifecycle events
type ModuleLifecycleData struct {
	ModuleID   string    `json:"module_id"`
	ModuleName string    `json:"module_name"`
	State      string    `json:"state"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Helper functions to create module events

// NewModuleLifecycleEvent creates a new module lifecycle event
func NewModuleLifecycleEvent(eventType EventType, moduleID, moduleName, state string) Event {
	return Event{
		ID:       fmt.Sprintf("mod-lc-%d", time.Now().UnixNano()),
		Type:     eventType,
		Source:   fmt.Sprintf("module:%s", moduleID),
		Title:    "Module Lifecycle",
		Message:  fmt.Sprintf("Module '%s' %s", moduleName, state),
		Priority: PriorityNormal,
		Tags:     []string{"module", "lifecycle", state},
		Data: map[string]interface{}{
			"module_id":   moduleID,
			"module_name": moduleName,
			"state":       state,
		},
		Timestamp: time.Now(),
	}
}

// NewScanEvent creates a scan lifecycle event
func NewScanEvent(eventType EventType, jobID, libraryID uint32, message string) Event {
	return Event{
		ID:       fmt.Sprintf("scan-%d-%d", jobID, time.Now().UnixNano()),
		Type:     eventType,
		Source:   "module:system.scanner",
		Title:    "Library Scan",
		Message:  message,
		Priority: PriorityNormal,
		Tags:     []string{"scan", "library"},
		Data: map[string]interface{}{
			"job_id":     jobID,
			"library_id": libraryID,
		},
		Timestamp: time.Now(),
	}
}

// NewTrackEvent creates a track change event
func NewTrackEvent(eventType EventType, data TrackChangedData) Event {
	return Event{
		ID:       fmt.Sprintf("track-%d", time.Now().UnixNano()),
		Type:     eventType,
		Source:   "module:system.media",
		Title:    "Track Changed",
		Message:  fmt.Sprintf("Track '%s' by '%s' at revision %d", data.Title, data.Artist, data.Revision),
		Priority: PriorityNormal,
		Tags:     []string{"track", "media"},
		Data: map[string]interface{}{
			"track_id":   data.TrackID,
			"library_id": data.LibraryID,
			"path":       data.Path,
			"title":      data.Title,
			"artist":     data.Artist,
			"album":      data.Album,
			"revision":   data.Revision,
		},
		Timestamp: time.Now(),
	}
}

// NewImportCompletedEvent creates an import completion event
func NewImportCompletedEvent(data ImportCompletedData) Event {
	return Event{
		ID:       fmt.Sprintf("import-%d", time.Now().UnixNano()),
		Type:     EventImportCompleted,
		Source:   "module:system.media",
		Title:    "Import Completed",
		Message:  fmt.Sprintf("Imported library %d: %d created, %d updated, %d failed", data.LibraryID, data.Created, data.Updated, data.Failed),
		Priority: PriorityNormal,
		Tags:     []string{"import", "media"},
		Data: map[string]interface{}{
			"library_id": data.LibraryID,
			"created":    data.Created,
			"updated":    data.Updated,
			"unchanged":  data.Unchanged,
			"skipped":    data.Skipped,
			"failed":     data.Failed,
			"dry_run":    data.DryRun,
		},
		Timestamp: time.Now(),
	}
}

// NewExportCompletedEvent creates an export completion event
func NewExportCompletedEvent(data ExportCompletedData) Event {
	return Event{
		ID:       fmt.Sprintf("export-%d", time.Now().UnixNano()),
		Type:     EventExportCompleted,
		Source:   "module:system.media",
		Title:    "Export Completed",
		Message:  fmt.Sprintf("Exported library %d to %s: %d copied, %d purged", data.LibraryID, data.TargetRoot, data.Copied, data.Purged),
		Priority: PriorityNormal,
		Tags:     []string{"export", "media"},
		Data: map[string]interface{}{
			"library_id":  data.LibraryID,
			"target_root": data.TargetRoot,
			"copied":      data.Copied,
			"skipped":     data.Skipped,
			"purged":      data.Purged,
			"failed":      data.Failed,
		},
		Timestamp: time.Now(),
	}
}

// NewSourcePurgedEvent creates a source purge event
func NewSourcePurgedEvent(libraryID uint32, purgedCount int64) Event {
	return Event{
		ID:       fmt.Sprintf("purge-%d", time.Now().UnixNano()),
		Type:     EventSourcePurged,
		Source:   "module:system.media",
		Title:    "Media Sources Purged",
		Message:  fmt.Sprintf("Purged %d orphaned media sources from library %d", purgedCount, libraryID),
		Priority: PriorityNormal,
		Tags:     []string{"source", "purge"},
		Data: map[string]interface{}{
			"library_id":   libraryID,
			"purged_count": purgedCount,
		},
		Timestamp: time.Now(),
	}
}
