package scanner

import (
	"time"

	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/errors"
)

// DirectoryStore provides access to the tracked directory rows of a
// library. Like the media source repository, it wraps whatever handle
// the caller is working in, base connection or open transaction.
type DirectoryStore struct {
	db *gorm.DB
}

// NewDirectoryStore creates a store over the given handle
func NewDirectoryStore(db *gorm.DB) *DirectoryStore {
	return &DirectoryStore{db: db}
}

// Get retrieves the tracking row for a directory, or nil when the
// directory has never been observed
func (s *DirectoryStore) Get(libraryID uint32, path string) (*database.TrackedDirectory, error) {
	var dir database.TrackedDirectory
	err := s.db.Where("library_id = ? AND path = ?", libraryID, path).First(&dir).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorageError("failed to get tracked directory", err)
	}
	return &dir, nil
}

// ListUnder retrieves every tracking row at or below a prefix, ordered
// by path. An empty prefix selects the whole library.
func (s *DirectoryStore) ListUnder(libraryID uint32, prefix string) ([]database.TrackedDirectory, error) {
	q := s.db.Where("library_id = ?", libraryID)
	if prefix != "" {
		q = q.Where("path = ? OR path LIKE ?", prefix, prefix+"/%")
	}
	var dirs []database.TrackedDirectory
	if err := q.Order("path").Find(&dirs).Error; err != nil {
		return nil, errors.NewStorageError("failed to list tracked directories", err)
	}
	return dirs, nil
}

// ListByStatus retrieves tracking rows under a prefix restricted to the
// given statuses
func (s *DirectoryStore) ListByStatus(libraryID uint32, prefix string, statuses []database.DirectoryStatus) ([]database.TrackedDirectory, error) {
	q := s.db.Where("library_id = ? AND status IN ?", libraryID, statuses)
	if prefix != "" {
		q = q.Where("path = ? OR path LIKE ?", prefix, prefix+"/%")
	}
	var dirs []database.TrackedDirectory
	if err := q.Order("path").Find(&dirs).Error; err != nil {
		return nil, errors.NewStorageError("failed to list tracked directories", err)
	}
	return dirs, nil
}

// Create inserts a tracking row for a newly observed directory
func (s *DirectoryStore) Create(dir *database.TrackedDirectory) error {
	if err := s.db.Create(dir).Error; err != nil {
		return errors.NewStorageError("failed to create tracked directory", err).
			WithContext("path", dir.Path)
	}
	return nil
}

// SetDigestAndStatus records a new digest and status for a directory
func (s *DirectoryStore) SetDigestAndStatus(id uint32, digestHex string, status database.DirectoryStatus) error {
	now := time.Now()
	err := s.db.Model(&database.TrackedDirectory{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"digest":          digestHex,
			"status":          status,
			"last_scanned_at": &now,
		}).Error
	if err != nil {
		return errors.NewStorageError("failed to update tracked directory", err)
	}
	return nil
}

// MarkOrphaned flips the given rows to orphaned. Rows already orphaned
// are left alone so their original scan timestamp survives.
func (s *DirectoryStore) MarkOrphaned(libraryID uint32, ids []uint32) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.Model(&database.TrackedDirectory{}).
		Where("library_id = ? AND id IN ? AND status <> ?", libraryID, ids, database.DirectoryStatusOrphaned).
		Update("status", database.DirectoryStatusOrphaned)
	if res.Error != nil {
		return 0, errors.NewStorageError("failed to mark directories orphaned", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkOutdated flags a subtree for forced re-evaluation on the next
// scan, regardless of digest match. Orphaned rows are excluded; they
// already force re-evaluation if the directory reappears.
func (s *DirectoryStore) MarkOutdated(libraryID uint32, prefix string) (int64, error) {
	q := s.db.Model(&database.TrackedDirectory{}).
		Where("library_id = ? AND status <> ?", libraryID, database.DirectoryStatusOrphaned)
	if prefix != "" {
		q = q.Where("path = ? OR path LIKE ?", prefix, prefix+"/%")
	}
	res := q.Update("status", database.DirectoryStatusOutdated)
	if res.Error != nil {
		return 0, errors.NewStorageError("failed to mark directories outdated", res.Error)
	}
	return res.RowsAffected, nil
}

// Untrack deletes tracking rows under a prefix, optionally restricted
// to the given statuses, and returns the paths that were removed so the
// caller can cascade to their media sources.
func (s *DirectoryStore) Untrack(libraryID uint32, prefix string, statuses []database.DirectoryStatus) ([]string, error) {
	q := s.db.Where("library_id = ?", libraryID)
	if prefix != "" {
		q = q.Where("path = ? OR path LIKE ?", prefix, prefix+"/%")
	}
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}

	var paths []string
	if err := q.Model(&database.TrackedDirectory{}).Pluck("path", &paths).Error; err != nil {
		return nil, errors.NewStorageError("failed to list directories to untrack", err)
	}
	if len(paths) == 0 {
		return nil, nil
	}

	del := s.db.Where("library_id = ? AND path IN ?", libraryID, paths).
		Delete(&database.TrackedDirectory{})
	if del.Error != nil {
		return nil, errors.NewStorageError("failed to untrack directories", del.Error)
	}
	return paths, nil
}

// StatusCounts aggregates tracking rows under a prefix per status.
// Statuses with no rows are present with a zero count so callers always
// see the full enumeration.
func (s *DirectoryStore) StatusCounts(libraryID uint32, prefix string) (map[database.DirectoryStatus]int64, error) {
	type row struct {
		Status database.DirectoryStatus
		N      int64
	}
	q := s.db.Model(&database.TrackedDirectory{}).
		Select("status, COUNT(*) AS n").
		Where("library_id = ?", libraryID).
		Group("status")
	if prefix != "" {
		q = q.Where("path = ? OR path LIKE ?", prefix, prefix+"/%")
	}
	var rows []row
	if err := q.Scan(&rows).Error; err != nil {
		return nil, errors.NewStorageError("failed to count directory statuses", err)
	}

	counts := map[database.DirectoryStatus]int64{
		database.DirectoryStatusCurrent:  0,
		database.DirectoryStatusOutdated: 0,
		database.DirectoryStatusAdded:    0,
		database.DirectoryStatusModified: 0,
		database.DirectoryStatusOrphaned: 0,
	}
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
