package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MediaLibrary represents a root directory whose audio files are kept in
// sync with the database
type MediaLibrary struct {
	ID           uint32    `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"not null" json:"name"`
	Path         string    `gorm:"not null" json:"path"`
	Type         string    `gorm:"not null;default:'music'" json:"type"`
	ExcludePaths string    `gorm:"type:text" json:"exclude_paths"` // JSON array of library-relative paths
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ExcludeList parses the ExcludePaths column into a slice of
// library-relative paths
func (ml *MediaLibrary) ExcludeList() ([]string, error) {
	if ml.ExcludePaths == "" {
		return nil, nil
	}
	var paths []string
	if err := json.Unmarshal([]byte(ml.ExcludePaths), &paths); err != nil {
		return nil, fmt.Errorf("invalid exclude paths for library %d: %w", ml.ID, err)
	}
	return paths, nil
}

// SetExcludeList stores a slice of library-relative paths into the
// ExcludePaths column
func (ml *MediaLibrary) SetExcludeList(paths []string) error {
	if len(paths) == 0 {
		ml.ExcludePaths = ""
		return nil
	}
	data, err := json.Marshal(paths)
	if err != nil {
		return err
	}
	ml.ExcludePaths = string(data)
	return nil
}

// MediaLibraryRequest represents the request to create a new media library
type MediaLibraryRequest struct {
	Name         string   `json:"name" binding:"required"`
	Path         string   `json:"path" binding:"required"`
	Type         string   `json:"type" binding:"omitempty,oneof=music"`
	ExcludePaths []string `json:"exclude_paths"`
}

// DirectoryStatus enum for tracked_directories.status
//
// Every tracked directory is in exactly one of these states. Added,
// Modified and Current are assigned by reconciliation; Orphaned marks
// directories no longer present on disk; Outdated is requested
// externally to force re-evaluation on the next scan.
type DirectoryStatus string

const (
	DirectoryStatusCurrent  DirectoryStatus = "current"
	DirectoryStatusOutdated DirectoryStatus = "outdated"
	DirectoryStatusAdded    DirectoryStatus = "added"
	DirectoryStatusModified DirectoryStatus = "modified"
	DirectoryStatusOrphaned DirectoryStatus = "orphaned"
)

func (ds DirectoryStatus) Value() (driver.Value, error) {
	return string(ds), nil
}

func (ds *DirectoryStatus) Scan(value interface{}) error {
	if value == nil {
		*ds = ""
		return nil
	}
	switch s := value.(type) {
	case string:
		*ds = DirectoryStatus(s)
	case []byte:
		*ds = DirectoryStatus(s)
	default:
		return fmt.Errorf("cannot scan %T into DirectoryStatus", value)
	}
	return nil
}

// Valid reports whether the status is one of the known values
func (ds DirectoryStatus) Valid() bool {
	switch ds {
	case DirectoryStatusCurrent, DirectoryStatusOutdated, DirectoryStatusAdded,
		DirectoryStatusModified, DirectoryStatusOrphaned:
		return true
	}
	return false
}

// =============================================================================
// DIRECTORY TRACKING TABLE
// =============================================================================

// TrackedDirectory records the last known digest and lifecycle status of
// a directory under a library root. Paths are stored library-relative so
// rows survive a library being remounted at a different absolute location.
type TrackedDirectory struct {
	ID            uint32          `gorm:"primaryKey" json:"id"`
	LibraryID     uint32          `gorm:"not null;uniqueIndex:idx_tracked_dirs_library_path" json:"library_id"`
	Path          string          `gorm:"not null;uniqueIndex:idx_tracked_dirs_library_path" json:"path"`
	Status        DirectoryStatus `gorm:"type:text;not null;index" json:"status"`
	Digest        string          `gorm:"type:char(64);not null" json:"digest"` // Hex-encoded SHA-256
	LastScannedAt *time.Time      `json:"last_scanned_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// =============================================================================
// MEDIA SOURCE TABLE
// =============================================================================

// MediaSource represents an imported file underneath a library root.
// There is at most one row per (library, path) pair.
type MediaSource struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	LibraryID      uint32    `gorm:"not null;uniqueIndex:idx_media_sources_library_path;index:idx_media_sources_library_dir" json:"library_id"`
	Path           string    `gorm:"not null;uniqueIndex:idx_media_sources_library_path" json:"path"`  // Library-relative
	Directory      string    `gorm:"not null;index:idx_media_sources_library_dir" json:"directory"`    // Library-relative parent, "" for root
	Hash           string    `gorm:"type:char(64);not null;index" json:"hash"`                         // Hex-encoded SHA-256 of file content
	MimeType       string    `gorm:"not null" json:"mime_type"`
	SizeBytes      int64     `gorm:"not null" json:"size_bytes"`
	LastModifiedAt time.Time `gorm:"not null" json:"last_modified_at"` // Filesystem mtime when last imported
	ScanJobID      *uint32   `gorm:"index" json:"scan_job_id,omitempty"`
	LastSeenAt     time.Time `gorm:"not null" json:"last_seen_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// =============================================================================
// TRACK TABLE
// =============================================================================

// Track holds the decoded audio metadata for a media source. Revision
// increments by one on every accepted update; writers must present the
// revision they read, and a mismatch rejects the write.
type Track struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	LibraryID     uint32    `gorm:"not null;index" json:"library_id"`
	MediaSourceID string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"media_source_id"`
	Revision      uint32    `gorm:"not null;default:0" json:"revision"`
	Title         string    `gorm:"not null;index" json:"title"`
	Artist        string    `gorm:"index" json:"artist"`
	Album         string    `gorm:"index" json:"album"`
	AlbumArtist   string    `json:"album_artist"`
	Composer      string    `json:"composer"`
	Genre         string    `json:"genre"`
	TrackNumber   int       `json:"track_number"`
	TrackTotal    int       `json:"track_total"`
	DiscNumber    int       `json:"disc_number"`
	DiscTotal     int       `json:"disc_total"`
	Year          int       `json:"year"`
	DurationMs    int       `json:"duration_ms"`
	Lyrics        string    `gorm:"type:text" json:"lyrics"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// =============================================================================
// ASSET TABLE
// =============================================================================

// MediaAsset handles artwork extracted from audio files or found as
// sidecar images next to them
type MediaAsset struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	EntityType string    `gorm:"type:text;not null;index" json:"entity_type"` // track, album
	EntityID   string    `gorm:"type:varchar(36);not null;index" json:"entity_id"`
	Type       string    `gorm:"not null;index" json:"type"`   // cover, thumbnail
	Source     string    `gorm:"not null;index" json:"source"` // embedded, sidecar
	Path       string    `gorm:"not null" json:"path"`
	Format     string    `json:"format"` // jpeg, png, webp
	Width      int       `gorm:"default:0" json:"width"`
	Height     int       `gorm:"default:0" json:"height"`
	Preferred  bool      `gorm:"default:false" json:"preferred"`
	SizeBytes  int64     `gorm:"default:0" json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// =============================================================================
// SCAN JOB
// =============================================================================

// ScanJob represents a background reconciliation run over a library
type ScanJob struct {
	ID             uint32       `gorm:"primaryKey" json:"id"`
	LibraryID      uint32       `gorm:"not null;index:idx_scan_jobs_library_id" json:"library_id"`
	Library        MediaLibrary `gorm:"foreignKey:LibraryID" json:"library,omitempty"`
	Status         string       `gorm:"not null;default:'pending'" json:"status"` // pending, running, paused, completed, failed
	Progress       float64      `gorm:"default:0" json:"progress"`                // 0.0-100.0
	DirsCurrent    int          `gorm:"default:0" json:"dirs_current"`
	DirsAdded      int          `gorm:"default:0" json:"dirs_added"`
	DirsModified   int          `gorm:"default:0" json:"dirs_modified"`
	DirsOrphaned   int          `gorm:"default:0" json:"dirs_orphaned"`
	DirsSkipped    int          `gorm:"default:0" json:"dirs_skipped"`
	FilesFound     int          `gorm:"default:0" json:"files_found"`
	FilesProcessed int          `gorm:"default:0" json:"files_processed"`
	BytesProcessed int64        `gorm:"default:0" json:"bytes_processed"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	StatusMessage  string       `json:"status_message,omitempty"` // Informational, e.g. recovery notes
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	ResumedAt      *time.Time   `json:"resumed_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
