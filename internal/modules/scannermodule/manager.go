package scannermodule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/contentpath"
	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/errors"
	"github.com/mantonx/cadenza/internal/events"
	"github.com/mantonx/cadenza/internal/logger"
	"github.com/mantonx/cadenza/internal/modules/databasemodule"
	"github.com/mantonx/cadenza/internal/modules/mediamodule"
	"github.com/mantonx/cadenza/internal/modules/scannermodule/scanner"
)

// Scan job statuses persisted in scan_jobs.status
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusPaused    = "paused"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// ScanRequest carries the caller-tunable parts of a scan
type ScanRequest struct {
	RootOverride string                     `json:"root_override,omitempty"`
	StatusFilter []database.DirectoryStatus `json:"status_filter,omitempty"`
	DryRun       bool                       `json:"dry_run,omitempty"`
}

// Manager owns scan job lifecycle: it launches reconciliation passes as
// background jobs, persists their progress, and supports pause, resume
// and recovery after a restart. Reconciliation is naturally resumable
// because every committed directory transition survives in the store.
type Manager struct {
	db         *gorm.DB
	eventBus   events.EventBus
	txMgr      *databasemodule.TransactionManager
	reconciler *scanner.Reconciler
	throttler  *scanner.Throttler

	mu     sync.RWMutex
	active map[uint32]*activeScan
	wg     sync.WaitGroup
}

type activeScan struct {
	jobID     uint32
	libraryID uint32
	cancel    context.CancelFunc
	estimator *scanner.ProgressEstimator
	paused    bool
}

// NewManager creates a scan manager
func NewManager(db *gorm.DB, eventBus events.EventBus, txMgr *databasemodule.TransactionManager, importer *mediamodule.Importer) *Manager {
	return &Manager{
		db:         db,
		eventBus:   eventBus,
		txMgr:      txMgr,
		reconciler: scanner.NewReconciler(db, txMgr, importer),
		active:     make(map[uint32]*activeScan),
	}
}

// SetThrottler attaches an adaptive throttler used by every scan
func (m *Manager) SetThrottler(t *scanner.Throttler) {
	m.throttler = t
}

// StartScan creates a scan job for a library and runs it in the
// background. At most one job per library runs at a time, and the
// configured concurrent scan limit applies across libraries.
func (m *Manager) StartScan(libraryID uint32, req ScanRequest) (*database.ScanJob, error) {
	var library database.MediaLibrary
	if err := m.db.First(&library, libraryID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewNotFoundError("media library")
		}
		return nil, errors.NewStorageError("failed to load media library", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	settings := scanner.CurrentSettings()
	if len(m.active) >= settings.MaxConcurrentScans {
		return nil, errors.NewValidationError(
			fmt.Sprintf("concurrent scan limit reached (%d)", settings.MaxConcurrentScans))
	}
	for _, a := range m.active {
		if a.libraryID == libraryID {
			return nil, errors.NewConflictError(
				fmt.Sprintf("library %d already has a running scan (job %d)", libraryID, a.jobID), nil)
		}
	}

	job := &database.ScanJob{
		LibraryID: libraryID,
		Status:    JobStatusPending,
	}
	if err := m.db.Create(job).Error; err != nil {
		return nil, errors.NewStorageError("failed to create scan job", err)
	}

	m.launchLocked(job, req)

	logger.Info("🔄 Scan job %d started for library %d", job.ID, libraryID)
	return job, nil
}

// launchLocked starts the background goroutine for a job. Caller holds
// m.mu.
func (m *Manager) launchLocked(job *database.ScanJob, req ScanRequest) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &activeScan{
		jobID:     job.ID,
		libraryID: job.LibraryID,
		cancel:    cancel,
		estimator: scanner.NewProgressEstimator(),
	}
	m.active[job.ID] = a

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runScan(ctx, a, req)
	}()
}

// runScan executes one reconciliation pass and records its outcome on
// the job row
func (m *Manager) runScan(ctx context.Context, a *activeScan, req ScanRequest) {
	started := time.Now()
	settings := scanner.CurrentSettings()

	now := time.Now()
	m.updateJob(a.jobID, map[string]interface{}{
		"status":     JobStatusRunning,
		"started_at": &now,
	})
	m.publishScanEvent(events.EventScanStarted, a, "Scan started")

	// Seed the estimator with the tracked directory count; a first scan
	// has no rows yet and simply reports completion at the end.
	var trackedDirs int64
	m.db.Model(&database.TrackedDirectory{}).
		Where("library_id = ?", a.libraryID).Count(&trackedDirs)
	a.estimator.SetTotalDirs(int(trackedDirs))

	lastProgress := time.Time{}
	opts := scanner.ScanOptions{
		RootOverride: req.RootOverride,
		StatusFilter: req.StatusFilter,
		ImportFiles:  true,
		DryRun:       req.DryRun,
		ScanJobID:    &a.jobID,
		Throttler:    m.throttler,
		OnProgress: func(p scanner.Progress) {
			a.estimator.Update(p.DirsVisited, p.FilesSeen, p.BytesSeen)
			if time.Since(lastProgress) < settings.ProgressInterval {
				return
			}
			lastProgress = time.Now()
			m.recordProgress(a, p)
		},
	}

	result, err := m.reconciler.Scan(ctx, a.libraryID, opts)

	m.mu.Lock()
	paused := a.paused
	delete(m.active, a.jobID)
	m.mu.Unlock()

	switch {
	case err != nil:
		logger.Error("❌ Scan job %d failed: %v", a.jobID, err)
		updates := map[string]interface{}{
			"status":        JobStatusFailed,
			"error_message": err.Error(),
		}
		if result != nil {
			addSummaryColumns(updates, result)
		}
		m.updateJob(a.jobID, updates)
		m.publishScanEvent(events.EventScanFailed, a, err.Error())

	case result.Summary.Completion == mediamodule.CompletionAborted && paused:
		logger.Info("⏸️ Scan job %d paused", a.jobID)
		updates := map[string]interface{}{
			"status":         JobStatusPaused,
			"status_message": "Paused by request; committed progress is kept",
		}
		addSummaryColumns(updates, result)
		m.updateJob(a.jobID, updates)
		m.publishScanEvent(events.EventScanPaused, a, "Scan paused")

	case result.Summary.Completion == mediamodule.CompletionAborted:
		logger.Warn("Scan job %d aborted", a.jobID)
		updates := map[string]interface{}{
			"status":        JobStatusFailed,
			"error_message": "scan aborted",
		}
		addSummaryColumns(updates, result)
		m.updateJob(a.jobID, updates)
		m.publishScanEvent(events.EventScanFailed, a, "Scan aborted")

	default:
		done := time.Now()
		updates := map[string]interface{}{
			"status":       JobStatusCompleted,
			"progress":     100.0,
			"completed_at": &done,
		}
		addSummaryColumns(updates, result)
		m.updateJob(a.jobID, updates)
		m.publishCompleted(a, result, time.Since(started))
		logger.Info("✅ Scan job %d completed in %s: %d current, %d added, %d modified, %d orphaned, %d skipped",
			a.jobID, time.Since(started).Round(time.Millisecond),
			result.Summary.Current, result.Summary.Added, result.Summary.Modified,
			result.Summary.Orphaned, result.Summary.Skipped)
	}
}

func addSummaryColumns(updates map[string]interface{}, result *scanner.ScanResult) {
	updates["dirs_current"] = result.Summary.Current
	updates["dirs_added"] = result.Summary.Added
	updates["dirs_modified"] = result.Summary.Modified
	updates["dirs_orphaned"] = result.Summary.Orphaned
	updates["dirs_skipped"] = result.Summary.Skipped
	updates["files_found"] = result.Summary.FilesSeen
	updates["files_processed"] = result.Import.Created + result.Import.Updated +
		result.Import.Unchanged + result.Import.Skipped + result.Import.Failed +
		result.Import.NotImported
	updates["bytes_processed"] = result.Summary.BytesSeen
}

// recordProgress persists walk counters onto the job row and publishes
// a progress event for live listeners
func (m *Manager) recordProgress(a *activeScan, p scanner.Progress) {
	pct := a.estimator.Percent()
	m.updateJob(a.jobID, map[string]interface{}{
		"progress":        pct,
		"files_found":     p.FilesSeen,
		"files_processed": p.FilesProcessed,
		"bytes_processed": p.BytesSeen,
	})

	if m.eventBus == nil {
		return
	}
	event := events.NewEventWithData(events.EventScanProgress,
		"module:system.scanner", "Scan Progress",
		fmt.Sprintf("Scan job %d at %.1f%%", a.jobID, pct),
		map[string]interface{}{
			"job_id":          a.jobID,
			"library_id":      a.libraryID,
			"progress":        pct,
			"dirs_visited":    p.DirsVisited,
			"files_processed": p.FilesProcessed,
			"bytes_processed": p.BytesSeen,
			"current_path":    p.CurrentPath,
			"eta_seconds":     int(a.estimator.ETA().Seconds()),
		})
	m.eventBus.PublishAsync(event)
}

// PauseScan cancels a running job's walk. Committed transitions stay,
// so resuming continues where the pass left off.
func (m *Manager) PauseScan(jobID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.active[jobID]
	if !ok {
		return errors.NewNotFoundError("running scan job")
	}
	a.paused = true
	a.cancel()
	return nil
}

// ResumeScan relaunches a paused job
func (m *Manager) ResumeScan(jobID uint32) error {
	var job database.ScanJob
	if err := m.db.First(&job, jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return errors.NewNotFoundError("scan job")
		}
		return errors.NewStorageError("failed to load scan job", err)
	}
	if job.Status != JobStatusPaused {
		return errors.NewValidationError(
			fmt.Sprintf("scan job %d is %s, not paused", jobID, job.Status))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.active[jobID]; running {
		return errors.NewConflictError(fmt.Sprintf("scan job %d is already running", jobID), nil)
	}
	for _, a := range m.active {
		if a.libraryID == job.LibraryID {
			return errors.NewConflictError(
				fmt.Sprintf("library %d already has a running scan (job %d)", job.LibraryID, a.jobID), nil)
		}
	}

	now := time.Now()
	m.updateJob(jobID, map[string]interface{}{
		"status":     JobStatusRunning,
		"resumed_at": &now,
	})
	m.launchLocked(&job, ScanRequest{})

	if m.eventBus != nil {
		m.eventBus.PublishAsync(events.NewScanEvent(events.EventScanResumed,
			jobID, job.LibraryID, fmt.Sprintf("Resumed scan job %d", jobID)))
	}
	logger.Info("🔄 Scan job %d resumed for library %d", jobID, job.LibraryID)
	return nil
}

// RecoverOrphanedJobs pauses jobs left running by an unclean shutdown
// and resumes the ones that had made progress
func (m *Manager) RecoverOrphanedJobs() error {
	var orphaned []database.ScanJob
	if err := m.db.Where("status = ?", JobStatusRunning).Find(&orphaned).Error; err != nil {
		return errors.NewStorageError("failed to query orphaned scan jobs", err)
	}
	if len(orphaned) == 0 {
		return nil
	}

	logger.Info("Found %d scan jobs orphaned by restart, recovering", len(orphaned))
	for _, job := range orphaned {
		m.updateJob(job.ID, map[string]interface{}{
			"status":         JobStatusPaused,
			"status_message": "Recovered after restart; committed progress is kept",
			"error_message":  "",
		})

		// A pass that had started walking resumes on its own; untouched
		// jobs wait for an explicit resume.
		if job.FilesProcessed > 0 || job.Progress > 0 {
			if err := m.ResumeScan(job.ID); err != nil {
				logger.Warn("Failed to auto-resume scan job %d: %v", job.ID, err)
			}
		}
	}
	return nil
}

// GetJob retrieves one scan job
func (m *Manager) GetJob(jobID uint32) (*database.ScanJob, error) {
	var job database.ScanJob
	if err := m.db.First(&job, jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewNotFoundError("scan job")
		}
		return nil, errors.NewStorageError("failed to load scan job", err)
	}
	return &job, nil
}

// ListJobs retrieves scan jobs, newest first, optionally restricted to
// one library
func (m *Manager) ListJobs(libraryID uint32) ([]database.ScanJob, error) {
	q := m.db.Order("id DESC").Limit(100)
	if libraryID != 0 {
		q = q.Where("library_id = ?", libraryID)
	}
	var jobs []database.ScanJob
	if err := q.Find(&jobs).Error; err != nil {
		return nil, errors.NewStorageError("failed to list scan jobs", err)
	}
	return jobs, nil
}

// QueryStatus aggregates tracked directory counts per status
func (m *Manager) QueryStatus(ctx context.Context, libraryID uint32, rootOverride string) (map[database.DirectoryStatus]int64, error) {
	prefix, err := m.resolvePrefix(libraryID, rootOverride)
	if err != nil {
		return nil, err
	}

	var counts map[database.DirectoryStatus]int64
	err = m.txMgr.WithReadTx(ctx, func(tx *gorm.DB) error {
		var e error
		counts, e = scanner.NewDirectoryStore(tx).StatusCounts(libraryID, prefix)
		return e
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// MarkOutdated flags a subtree for forced re-evaluation on the next
// scan regardless of digest match
func (m *Manager) MarkOutdated(ctx context.Context, libraryID uint32, rootOverride string) (int64, error) {
	prefix, err := m.resolvePrefix(libraryID, rootOverride)
	if err != nil {
		return 0, err
	}

	var n int64
	err = m.txMgr.WithWriteTx(ctx, func(tx *gorm.DB) error {
		var e error
		n, e = scanner.NewDirectoryStore(tx).MarkOutdated(libraryID, prefix)
		return e
	})
	if err != nil {
		return 0, err
	}
	logger.Info("Marked %d directories outdated in library %d", n, libraryID)
	return n, nil
}

// UntrackDirectories removes tracking rows under a subtree. With
// untrack cascade configured, the media sources and tracks inside the
// untracked directories go with them in the same transaction.
func (m *Manager) UntrackDirectories(ctx context.Context, libraryID uint32, rootOverride string, statusFilter []database.DirectoryStatus) (int64, error) {
	prefix, err := m.resolvePrefix(libraryID, rootOverride)
	if err != nil {
		return 0, err
	}
	cascade := scanner.CurrentSettings().UntrackCascade

	var untracked int64
	err = m.txMgr.WithWriteTx(ctx, func(tx *gorm.DB) error {
		paths, err := scanner.NewDirectoryStore(tx).Untrack(libraryID, prefix, statusFilter)
		if err != nil {
			return err
		}
		untracked = int64(len(paths))
		if !cascade || len(paths) == 0 {
			return nil
		}

		ids, err := sourceIDsInDirectories(tx, libraryID, paths)
		if err != nil {
			return err
		}
		_, err = mediamodule.NewSourceRepository(tx).DeleteWithTracks(ids)
		return err
	})
	if err != nil {
		return 0, err
	}

	if m.eventBus != nil && untracked > 0 {
		m.eventBus.PublishAsync(events.NewEventWithData(events.EventDirectoryUntracked,
			"module:system.scanner", "Directories Untracked",
			fmt.Sprintf("Untracked %d directories in library %d", untracked, libraryID),
			map[string]interface{}{
				"library_id":      libraryID,
				"untracked_count": untracked,
				"cascade":         cascade,
			}))
	}
	logger.Info("Untracked %d directories in library %d (cascade: %v)", untracked, libraryID, cascade)
	return untracked, nil
}

// PurgeOrphanedSources deletes the media sources and tracks of orphaned
// directories. Path predicates are content-path prefixes; an empty list
// selects every orphaned directory.
func (m *Manager) PurgeOrphanedSources(ctx context.Context, libraryID uint32, pathPredicates []string) (int64, error) {
	if _, _, err := mediamodule.ResolveLibrary(m.db, libraryID); err != nil {
		return 0, err
	}

	predicates := make([]string, 0, len(pathPredicates))
	for _, p := range pathPredicates {
		c, err := contentpath.Canonicalize(p)
		if err != nil {
			return 0, errors.NewValidationError("invalid path predicate: " + err.Error())
		}
		predicates = append(predicates, c)
	}

	var purged int64
	err := m.txMgr.WithWriteTx(ctx, func(tx *gorm.DB) error {
		orphans, err := scanner.NewDirectoryStore(tx).ListByStatus(libraryID, "",
			[]database.DirectoryStatus{database.DirectoryStatusOrphaned})
		if err != nil {
			return err
		}

		var paths []string
		for _, dir := range orphans {
			if matchesAnyPrefix(dir.Path, predicates) {
				paths = append(paths, dir.Path)
			}
		}
		if len(paths) == 0 {
			return nil
		}

		ids, err := sourceIDsInDirectories(tx, libraryID, paths)
		if err != nil {
			return err
		}
		purged, err = mediamodule.NewSourceRepository(tx).DeleteWithTracks(ids)
		return err
	})
	if err != nil {
		return 0, err
	}

	if m.eventBus != nil && purged > 0 {
		m.eventBus.PublishAsync(events.NewSourcePurgedEvent(libraryID, purged))
	}
	logger.Info("Purged %d orphaned media sources in library %d", purged, libraryID)
	return purged, nil
}

// Shutdown cancels running scans and waits for their goroutines
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, a := range m.active {
		a.paused = true
		a.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// resolvePrefix validates the library's resolver configuration and
// canonicalizes an optional root override
func (m *Manager) resolvePrefix(libraryID uint32, rootOverride string) (string, error) {
	_, _, err := mediamodule.ResolveLibrary(m.db, libraryID)
	if err != nil {
		return "", err
	}
	if rootOverride == "" {
		return "", nil
	}
	prefix, err := contentpath.Canonicalize(rootOverride)
	if err != nil {
		return "", errors.NewValidationError("invalid root override: " + err.Error())
	}
	return prefix, nil
}

// updateJob applies column updates to a job row outside any caller
// transaction
func (m *Manager) updateJob(jobID uint32, updates map[string]interface{}) {
	if err := m.db.Model(&database.ScanJob{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		logger.Warn("Failed to update scan job %d: %v", jobID, err)
	}
}

func (m *Manager) publishScanEvent(eventType events.EventType, a *activeScan, message string) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.PublishAsync(events.NewScanEvent(eventType, a.jobID, a.libraryID, message))
}

func (m *Manager) publishCompleted(a *activeScan, result *scanner.ScanResult, took time.Duration) {
	if m.eventBus == nil {
		return
	}
	event := events.NewEventWithData(events.EventScanCompleted,
		"module:system.scanner", "Scan Completed",
		fmt.Sprintf("Scan job %d finished", a.jobID),
		map[string]interface{}{
			"job_id":        a.jobID,
			"library_id":    a.libraryID,
			"duration_ms":   took.Milliseconds(),
			"dirs_current":  result.Summary.Current,
			"dirs_added":    result.Summary.Added,
			"dirs_modified": result.Summary.Modified,
			"dirs_orphaned": result.Summary.Orphaned,
			"dirs_skipped":  result.Summary.Skipped,
			"aborted":       result.Summary.Completion == mediamodule.CompletionAborted,
		})
	m.eventBus.PublishAsync(event)
}

// sourceIDsInDirectories collects media source IDs whose file sits
// directly inside any of the given directories
func sourceIDsInDirectories(tx *gorm.DB, libraryID uint32, dirPaths []string) ([]string, error) {
	var ids []string
	const chunk = 200
	for start := 0; start < len(dirPaths); start += chunk {
		end := start + chunk
		if end > len(dirPaths) {
			end = len(dirPaths)
		}
		var page []string
		err := tx.Model(&database.MediaSource{}).
			Where("library_id = ? AND directory IN ?", libraryID, dirPaths[start:end]).
			Pluck("id", &page).Error
		if err != nil {
			return nil, errors.NewStorageError("failed to list sources for directories", err)
		}
		ids = append(ids, page...)
	}
	return ids, nil
}

// matchesAnyPrefix reports whether a content path equals or sits under
// any of the prefixes. An empty prefix list matches everything.
func matchesAnyPrefix(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if p == "" || path == p || len(path) > len(p) && path[:len(p)] == p && path[len(p)] == '/' {
			return true
		}
	}
	return false
}
