package mediamodule

import (
	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/errors"
)

// SourceRepository provides access to media sources and their tracks. The
// handle it wraps may be the base connection or an open transaction;
// callers pass whichever scope they are working in.
type SourceRepository struct {
	db *gorm.DB
}

// NewSourceRepository creates a repository over the given handle
func NewSourceRepository(db *gorm.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// GetByID retrieves a media source by its ID
func (r *SourceRepository) GetByID(id string) (*database.MediaSource, error) {
	var source database.MediaSource
	if err := r.db.Where("id = ?", id).First(&source).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewNotFoundError("media source")
		}
		return nil, errors.NewStorageError("failed to get media source", err)
	}
	return &source, nil
}

// GetByPath retrieves the media source registered for a content path, or
// nil when the path has never been imported
func (r *SourceRepository) GetByPath(libraryID uint32, path string) (*database.MediaSource, error) {
	var source database.MediaSource
	err := r.db.Where("library_id = ? AND path = ?", libraryID, path).First(&source).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorageError("failed to get media source by path", err)
	}
	return &source, nil
}

// GetTrackForSource retrieves the track owned by a media source, or nil
// when no track exists yet
func (r *SourceRepository) GetTrackForSource(sourceID string) (*database.Track, error) {
	var track database.Track
	err := r.db.Where("media_source_id = ?", sourceID).First(&track).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorageError("failed to get track for media source", err)
	}
	return &track, nil
}

// GetTrackByID retrieves a track by its ID
func (r *SourceRepository) GetTrackByID(id string) (*database.Track, error) {
	var track database.Track
	if err := r.db.Where("id = ?", id).First(&track).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewNotFoundError("track")
		}
		return nil, errors.NewStorageError("failed to get track", err)
	}
	return &track, nil
}

// ListByDirectory retrieves all sources whose file sits directly inside
// the given directory, keyed by content path
func (r *SourceRepository) ListByDirectory(libraryID uint32, directory string) (map[string]*database.MediaSource, error) {
	var rows []database.MediaSource
	err := r.db.Where("library_id = ? AND directory = ?", libraryID, directory).Find(&rows).Error
	if err != nil {
		return nil, errors.NewStorageError("failed to list media sources", err)
	}
	byPath := make(map[string]*database.MediaSource, len(rows))
	for i := range rows {
		byPath[rows[i].Path] = &rows[i]
	}
	return byPath, nil
}

// ListByPrefix retrieves sources whose content path sits at or below the
// given prefix, ordered by path. An empty prefix selects the whole library.
func (r *SourceRepository) ListByPrefix(libraryID uint32, prefix string, limit, offset int) ([]database.MediaSource, error) {
	q := r.db.Where("library_id = ?", libraryID)
	if prefix != "" {
		q = q.Where("path = ? OR path LIKE ?", prefix, prefix+"/%")
	}
	q = q.Order("path")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var rows []database.MediaSource
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.NewStorageError("failed to list media sources", err)
	}
	return rows, nil
}

// CountOptions controls the directory aggregation query
type CountOptions struct {
	// PathPrefix restricts counting to directories at or below the
	// prefix. Empty means the whole library.
	PathPrefix string
	// OrderBy is "path" (default) or "count"
	OrderBy string
	// Descending reverses the sort order
	Descending bool
	Limit      int
	Offset     int
}

// DirectoryCount is one row of the per-directory aggregation
type DirectoryCount struct {
	Path        string `json:"path"`
	SourceCount int64  `json:"source_count"`
}

// CountByDirectory aggregates media sources per containing directory.
// Only directories that actually hold sources appear in the result.
func (r *SourceRepository) CountByDirectory(libraryID uint32, opts CountOptions) ([]DirectoryCount, error) {
	q := r.db.Model(&database.MediaSource{}).
		Select("directory AS path, COUNT(*) AS source_count").
		Where("library_id = ?", libraryID).
		Group("directory")
	if opts.PathPrefix != "" {
		q = q.Where("directory = ? OR directory LIKE ?", opts.PathPrefix, opts.PathPrefix+"/%")
	}

	order := "path"
	if opts.OrderBy == "count" {
		order = "source_count"
	}
	if opts.Descending {
		order += " DESC"
	}
	q = q.Order(order)

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var counts []DirectoryCount
	if err := q.Scan(&counts).Error; err != nil {
		return nil, errors.NewStorageError("failed to count media sources", err)
	}
	return counts, nil
}

// DeleteWithTracks removes the given sources and the tracks they own.
// Returns the number of source rows deleted. Must run inside a write
// transaction so sources and tracks disappear together.
func (r *SourceRepository) DeleteWithTracks(sourceIDs []string) (int64, error) {
	if len(sourceIDs) == 0 {
		return 0, nil
	}
	if err := r.db.Where("media_source_id IN ?", sourceIDs).Delete(&database.Track{}).Error; err != nil {
		return 0, errors.NewStorageError("failed to delete tracks", err)
	}
	res := r.db.Where("id IN ?", sourceIDs).Delete(&database.MediaSource{})
	if res.Error != nil {
		return 0, errors.NewStorageError("failed to delete media sources", res.Error)
	}
	return res.RowsAffected, nil
}
