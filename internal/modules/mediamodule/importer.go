package mediamodule

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/config"
	"github.com/mantonx/cadenza/internal/contentpath"
	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/digest"
	"github.com/mantonx/cadenza/internal/errors"
	"github.com/mantonx/cadenza/internal/events"
	"github.com/mantonx/cadenza/internal/logger"
	"github.com/mantonx/cadenza/internal/metadata"
	"github.com/mantonx/cadenza/internal/modules/databasemodule"
	"github.com/mantonx/cadenza/internal/utils"
)

// Completion says whether a batch operation ran to the end or stopped
// early. Aborted summaries still reflect every chunk that committed.
type Completion string

const (
	CompletionFinished Completion = "finished"
	CompletionAborted  Completion = "aborted"
)

// ImportOptions controls a single import run
type ImportOptions struct {
	// RootOverride restricts the import to one subtree, given as a
	// content path. Empty imports the whole library.
	RootOverride string
	// StatusFilter selects which directory states are candidates.
	// Defaults to added, modified and outdated.
	StatusFilter []database.DirectoryStatus
	// BatchSize caps how many files share one transaction. Zero uses
	// the configured default.
	BatchSize int
	// DryRun computes outcomes without writing anything
	DryRun bool
	// ScanJobID stamps imported sources with the scan that found them
	ScanJobID *uint32
}

// ImportSummary tallies what one import run did. When Completion is
// aborted the counts cover only the transactions that committed.
type ImportSummary struct {
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	Unchanged   int        `json:"unchanged"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	Removed     int        `json:"removed"`
	NotImported int        `json:"not_imported"`
	Completion  Completion `json:"completion"`
}

// UntrackedFiles lists importable files that have no media source yet
type UntrackedFiles struct {
	ContentPaths []string   `json:"content_paths"`
	Completion   Completion `json:"completion"`
}

// Importer walks directories flagged by reconciliation and drives each
// file through the replace pipeline. Work is committed in per-directory
// chunks: a directory only flips back to current in the transaction that
// finishes its last files, so an aborted run leaves the remainder
// flagged for the next one.
type Importer struct {
	db       *gorm.DB
	txMgr    *databasemodule.TransactionManager
	pipeline *ReplacePipeline
	eventBus events.EventBus

	artworkSink ArtworkSink
}

// ArtworkSink receives embedded artwork for a track once the
// transaction that wrote the track has committed. Sink failures never
// affect import outcomes.
type ArtworkSink interface {
	SaveTrackArtwork(track *database.Track, art *metadata.Artwork) error
}

// SetArtworkSink attaches an artwork sink. Pass nil to detach.
func (im *Importer) SetArtworkSink(s ArtworkSink) {
	im.artworkSink = s
}

// NewImporter creates an importer
func NewImporter(db *gorm.DB, txMgr *databasemodule.TransactionManager, pipeline *ReplacePipeline, eventBus events.EventBus) *Importer {
	return &Importer{
		db:       db,
		txMgr:    txMgr,
		pipeline: pipeline,
		eventBus: eventBus,
	}
}

// ImportFiles imports every candidate directory of a library. Candidates
// are the directories the most recent scan left in a non-current state;
// ImportOptions can narrow them further. Per-file failures are counted
// and skipped while storage failures abort the run; either way the
// returned summary covers exactly the work that committed.
func (im *Importer) ImportFiles(ctx context.Context, libraryID uint32, opts ImportOptions) (*ImportSummary, error) {
	started := time.Now()

	_, resolver, err := ResolveLibrary(im.db, libraryID)
	if err != nil {
		return nil, err
	}
	if err := RequireRoot(resolver); err != nil {
		return nil, err
	}

	statuses := opts.StatusFilter
	if len(statuses) == 0 {
		statuses = []database.DirectoryStatus{
			database.DirectoryStatusAdded,
			database.DirectoryStatusModified,
			database.DirectoryStatusOutdated,
		}
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = config.Get().Sync.BatchSize
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	rootFilter := ""
	if opts.RootOverride != "" {
		rootFilter, err = contentpath.Canonicalize(opts.RootOverride)
		if err != nil {
			return nil, errors.NewValidationError("invalid root override: " + err.Error())
		}
	}

	summary := &ImportSummary{Completion: CompletionFinished}

	var dirs []database.TrackedDirectory
	err = im.txMgr.WithReadTx(ctx, func(tx *gorm.DB) error {
		q := tx.Where("library_id = ? AND status IN ?", libraryID, statuses)
		if rootFilter != "" {
			q = q.Where("path = ? OR path LIKE ?", rootFilter, rootFilter+"/%")
		}
		if err := q.Order("path").Find(&dirs).Error; err != nil {
			return errors.NewStorageError("failed to list candidate directories", err)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			summary.Completion = CompletionAborted
			return summary, nil
		}
		summary.Completion = CompletionAborted
		return summary, err
	}

	logger.Info("📥 Importing library %d: %d candidate directories (dry run: %v)",
		libraryID, len(dirs), opts.DryRun)

	for i := range dirs {
		if ctx.Err() != nil {
			summary.Completion = CompletionAborted
			break
		}
		if err := im.importDirectory(ctx, resolver, &dirs[i], opts, batchSize, summary); err != nil {
			summary.Completion = CompletionAborted
			im.publishCompleted(libraryID, summary, opts.DryRun, started)
			return summary, err
		}
		if summary.Completion == CompletionAborted {
			break
		}
	}

	im.publishCompleted(libraryID, summary, opts.DryRun, started)
	logger.Info("✅ Import of library %d %s: %d created, %d updated, %d unchanged, %d skipped, %d failed, %d removed",
		libraryID, summary.Completion, summary.Created, summary.Updated, summary.Unchanged,
		summary.Skipped, summary.Failed, summary.Removed)
	return summary, nil
}

// ImportDirectory runs the replace pipeline over the files of a single
// tracked directory, committing in chunks like a full import run. The
// reconciler uses this to import added and modified directories inline
// during a scan pass. Outcomes accumulate into summary; a nil return
// with summary.Completion set to aborted means the context was
// cancelled.
func (im *Importer) ImportDirectory(ctx context.Context, resolver *contentpath.Resolver, dir *database.TrackedDirectory, opts ImportOptions, summary *ImportSummary) error {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = config.Get().Sync.BatchSize
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return im.importDirectory(ctx, resolver, dir, opts, batchSize, summary)
}

// importDirectory processes a single tracked directory. A nil return
// with summary.Completion set to aborted means the context was
// cancelled; a non-nil return is a storage failure.
func (im *Importer) importDirectory(ctx context.Context, resolver *contentpath.Resolver, dir *database.TrackedDirectory, opts ImportOptions, batchSize int, summary *ImportSummary) error {
	cfg := config.Get().Sync

	absDir := resolver.Resolve(dir.Path)
	entries, err := os.ReadDir(absDir)
	if err != nil {
		// Unreadable directory: record one failure and leave its status
		// alone so the next scan reconsiders it.
		logger.Warn("Cannot read directory %s: %v", absDir, err)
		summary.Failed++
		return nil
	}

	var existing map[string]*database.MediaSource
	err = im.txMgr.WithReadTx(ctx, func(tx *gorm.DB) error {
		var e error
		existing, e = NewSourceRepository(tx).ListByDirectory(dir.LibraryID, dir.Path)
		return e
	})
	if err != nil {
		if ctx.Err() != nil {
			summary.Completion = CompletionAborted
			return nil
		}
		return err
	}

	seen := make(map[string]bool, len(entries))
	var requests []ReplaceRequest

	for _, entry := range entries {
		if ctx.Err() != nil {
			summary.Completion = CompletionAborted
			return nil
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if utils.IsIgnoredName(name, cfg.IgnorePatterns) {
			continue
		}
		cp := contentpath.Join(dir.Path, name)
		if resolver.IsExcluded(cp) {
			continue
		}
		seen[cp] = true

		// Sidecars, playlists and partial downloads are never content,
		// whatever decoders are registered
		if utils.IsSkippedFile(name) {
			summary.Skipped++
			continue
		}
		if !metadata.Supported(name) {
			summary.Skipped++
			continue
		}
		info, err := entry.Info()
		if err != nil {
			logger.Warn("Cannot stat %s: %v", cp, err)
			summary.Failed++
			continue
		}
		if cfg.MaxFileSize > 0 && info.Size() > cfg.MaxFileSize {
			summary.Skipped++
			continue
		}
		mimeType := utils.GetContentType(name)
		if !utils.MatchesMimeFilter(mimeType, cfg.AllowedMimeTypes) {
			summary.Skipped++
			continue
		}

		prior := existing[cp]
		// Matching size and mtime means the content did not change, so
		// the file is unchanged without rehashing it.
		if prior != nil && prior.SizeBytes == info.Size() && prior.LastModifiedAt.Equal(info.ModTime()) {
			summary.Unchanged++
			continue
		}

		req, err := im.buildRequest(resolver.Resolve(cp), cp, mimeType, info, prior, dir.LibraryID, opts)
		if err != nil {
			logger.Warn("Cannot read %s: %v", cp, err)
			summary.Failed++
			continue
		}
		if req == nil {
			summary.Unchanged++
			continue
		}
		requests = append(requests, *req)
	}

	// Sources whose file disappeared from the directory
	var stale []string
	for cp, src := range existing {
		if !seen[cp] {
			stale = append(stale, src.ID)
		}
	}

	chunks := splitRequests(requests, batchSize)
	for ci, chunk := range chunks {
		if ctx.Err() != nil {
			summary.Completion = CompletionAborted
			return nil
		}
		final := ci == len(chunks)-1
		if err := im.applyChunk(ctx, dir, chunk, final, stale, opts, summary); err != nil {
			return err
		}
		if summary.Completion == CompletionAborted {
			return nil
		}
	}
	return nil
}

// buildRequest hashes one file and decodes its tags. Returns (nil, nil)
// when the stored digest already matches, so the caller can count the
// file unchanged without opening a transaction.
func (im *Importer) buildRequest(absPath, cp, mimeType string, info fs.FileInfo, prior *database.MediaSource, libraryID uint32, opts ImportOptions) (*ReplaceRequest, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, errors.NewIOError("failed to open file", err)
	}
	defer f.Close()

	d, err := digest.FromReader(f)
	if err != nil {
		return nil, errors.NewIOError("failed to hash file", err)
	}

	if prior != nil && prior.Hash == d.Hex() {
		return nil, nil
	}
	logger.Debug("Hashed %s: %s", cp, d.Short())

	req := &ReplaceRequest{
		LibraryID: libraryID,
		Path:      cp,
		Digest:    d,
		MimeType:  mimeType,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
		ScanJobID: opts.ScanJobID,
		DryRun:    opts.DryRun,
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.NewIOError("failed to rewind file", err)
	}
	if dec, ok := metadata.DecoderFor(cp); ok {
		meta, decErr := dec.Decode(f)
		if decErr != nil {
			req.DecodeErr = decErr
		} else {
			if meta.Title == "" {
				name := contentpath.Base(cp)
				meta.Title = strings.TrimSuffix(name, filepath.Ext(name))
			}
			req.Metadata = meta
		}
	}
	return req, nil
}

// applyChunk commits one transaction's worth of work. The final chunk of
// a directory also deletes stale sources and flips the directory back to
// current, so partial progress never marks a directory clean.
func (im *Importer) applyChunk(ctx context.Context, dir *database.TrackedDirectory, chunk []ReplaceRequest, final bool, stale []string, opts ImportOptions, summary *ImportSummary) error {
	var results []ReplaceResult
	var removed int64

	apply := func(tx *gorm.DB) error {
		for i := range chunk {
			res, err := im.pipeline.Replace(tx, chunk[i])
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		if final && !opts.DryRun {
			var err error
			removed, err = NewSourceRepository(tx).DeleteWithTracks(stale)
			if err != nil {
				return err
			}
			now := time.Now()
			err = tx.Model(&database.TrackedDirectory{}).
				Where("id = ?", dir.ID).
				Updates(map[string]interface{}{
					"status":          database.DirectoryStatusCurrent,
					"last_scanned_at": &now,
				}).Error
			if err != nil {
				return errors.NewStorageError("failed to update directory status", err)
			}
		}
		return nil
	}

	var err error
	if opts.DryRun {
		// A dry run never writes, so read admission is enough
		err = im.txMgr.WithReadTx(ctx, apply)
	} else {
		err = im.txMgr.WithWriteTx(ctx, apply)
	}
	if err != nil {
		if ctx.Err() != nil {
			summary.Completion = CompletionAborted
			return nil
		}
		return err
	}

	for i := range results {
		res := &results[i]
		switch res.Outcome {
		case OutcomeCreated:
			summary.Created++
		case OutcomeUpdated:
			summary.Updated++
		case OutcomeUnchanged:
			summary.Unchanged++
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeNotImported:
			summary.NotImported++
		case OutcomeFailed:
			summary.Failed++
			logger.Warn("Import failed for %s: %v", chunk[i].Path, res.Err)
		}
		im.publishTrackEvent(res)

		if im.artworkSink != nil && res.Track != nil &&
			(res.Outcome == OutcomeCreated || res.Outcome == OutcomeUpdated) &&
			chunk[i].Metadata != nil && chunk[i].Metadata.Artwork != nil {
			if err := im.artworkSink.SaveTrackArtwork(res.Track, chunk[i].Metadata.Artwork); err != nil {
				logger.Warn("Artwork extraction failed for %s: %v", chunk[i].Path, err)
			}
		}
	}
	if final {
		if opts.DryRun {
			summary.Removed += len(stale)
		} else {
			summary.Removed += int(removed)
		}
	}
	return nil
}

// FindUntrackedFiles walks a library subtree and reports importable
// files that have no media source row. The imported set is snapshotted
// before the walk, so a concurrent import can at worst produce a stale
// positive, never hide a file.
func (im *Importer) FindUntrackedFiles(ctx context.Context, libraryID uint32, rootOverride string) (*UntrackedFiles, error) {
	_, resolver, err := ResolveLibrary(im.db, libraryID)
	if err != nil {
		return nil, err
	}
	if err := RequireRoot(resolver); err != nil {
		return nil, err
	}

	rootFilter := ""
	if rootOverride != "" {
		rootFilter, err = contentpath.Canonicalize(rootOverride)
		if err != nil {
			return nil, errors.NewValidationError("invalid root override: " + err.Error())
		}
	}
	walkRoot := resolver.Resolve(rootFilter)
	if _, err := os.Stat(walkRoot); err != nil {
		return nil, errors.NewPreconditionError("root override is not accessible", err).
			WithContext("path", rootFilter)
	}

	tracked := make(map[string]bool)
	err = im.txMgr.WithReadTx(ctx, func(tx *gorm.DB) error {
		var paths []string
		q := tx.Model(&database.MediaSource{}).Where("library_id = ?", libraryID)
		if rootFilter != "" {
			q = q.Where("path = ? OR path LIKE ?", rootFilter, rootFilter+"/%")
		}
		if err := q.Pluck("path", &paths).Error; err != nil {
			return errors.NewStorageError("failed to list imported paths", err)
		}
		for _, p := range paths {
			tracked[p] = true
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return &UntrackedFiles{Completion: CompletionAborted}, nil
		}
		return nil, err
	}

	cfg := config.Get().Sync
	result := &UntrackedFiles{Completion: CompletionFinished}

	err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			logger.Warn("Skipping %s: %v", path, walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path == walkRoot {
				return nil
			}
			if utils.IsIgnoredName(name, cfg.IgnorePatterns) {
				return fs.SkipDir
			}
			if _, err := resolver.Relativize(path); err != nil {
				return fs.SkipDir
			}
			return nil
		}
		if utils.IsIgnoredName(name, cfg.IgnorePatterns) {
			return nil
		}
		if utils.IsSkippedFile(name) {
			return nil
		}
		// Audio by extension counts as untracked content even when no
		// decoder claims it; the listing reports what sits on disk.
		if !utils.IsAudioFile(name) && !metadata.Supported(name) {
			return nil
		}
		cp, err := resolver.Relativize(path)
		if err != nil {
			return nil
		}
		if !tracked[cp] {
			result.ContentPaths = append(result.ContentPaths, cp)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			result.Completion = CompletionAborted
			return result, nil
		}
		return nil, errors.NewIOError("failed to walk library", err)
	}
	return result, nil
}

func (im *Importer) publishTrackEvent(res *ReplaceResult) {
	if im.eventBus == nil || res.Track == nil || res.Source == nil {
		return
	}
	var eventType events.EventType
	switch res.Outcome {
	case OutcomeCreated:
		eventType = events.EventTrackCreated
	case OutcomeUpdated:
		eventType = events.EventTrackUpdated
	default:
		return
	}
	im.eventBus.PublishAsync(events.NewTrackEvent(eventType, events.TrackChangedData{
		TrackID:   res.Track.ID,
		LibraryID: res.Track.LibraryID,
		Path:      res.Source.Path,
		Title:     res.Track.Title,
		Artist:    res.Track.Artist,
		Album:     res.Track.Album,
		Revision:  res.Track.Revision,
	}))
}

func (im *Importer) publishCompleted(libraryID uint32, summary *ImportSummary, dryRun bool, started time.Time) {
	if im.eventBus == nil {
		return
	}
	im.eventBus.PublishAsync(events.NewImportCompletedEvent(events.ImportCompletedData{
		LibraryID:  libraryID,
		Created:    summary.Created,
		Updated:    summary.Updated,
		Unchanged:  summary.Unchanged,
		Skipped:    summary.Skipped,
		Failed:     summary.Failed,
		DurationMs: time.Since(started).Milliseconds(),
		DryRun:     dryRun,
	}))
}

// splitRequests slices requests into transaction-sized chunks. There is
// always at least one chunk, possibly empty, so directory bookkeeping
// runs even when no file needs work.
func splitRequests(requests []ReplaceRequest, batchSize int) [][]ReplaceRequest {
	if len(requests) == 0 {
		return [][]ReplaceRequest{nil}
	}
	var chunks [][]ReplaceRequest
	for start := 0; start < len(requests); start += batchSize {
		end := start + batchSize
		if end > len(requests) {
			end = len(requests)
		}
		chunks = append(chunks, requests[start:end])
	}
	return chunks
}
