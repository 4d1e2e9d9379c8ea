// Package scanner implements the reconciliation engine: the walk that
// compares a library's file tree against its tracked directory rows,
// drives the directory status transitions, and hands changed
// directories to the import pipeline.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/config"
	"github.com/mantonx/cadenza/internal/contentpath"
	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/digest"
	"github.com/mantonx/cadenza/internal/errors"
	"github.com/mantonx/cadenza/internal/logger"
	"github.com/mantonx/cadenza/internal/modules/databasemodule"
	"github.com/mantonx/cadenza/internal/modules/mediamodule"
	"github.com/mantonx/cadenza/internal/utils"
)

// Summary tallies the directory transitions of one scan pass. When
// Completion is aborted the counts cover exactly the transitions that
// were committed before the cancellation was observed.
type Summary struct {
	Current    int                    `json:"current"`
	Added      int                    `json:"added"`
	Modified   int                    `json:"modified"`
	Orphaned   int                    `json:"orphaned"`
	Skipped    int                    `json:"skipped"`
	FilesSeen  int                    `json:"files_seen"`
	BytesSeen  int64                  `json:"bytes_seen"`
	Completion mediamodule.Completion `json:"completion"`
}

// ScanResult combines the directory summary with the import work the
// scan performed inline on added and modified directories
type ScanResult struct {
	Summary Summary                   `json:"summary"`
	Import  mediamodule.ImportSummary `json:"import"`
}

// Progress is a point-in-time snapshot reported to the progress callback
type Progress struct {
	CurrentPath    string
	DirsVisited    int
	FilesSeen      int
	FilesProcessed int
	BytesSeen      int64
}

// ScanOptions controls a single reconciliation pass
type ScanOptions struct {
	// RootOverride restricts the pass to one subtree, given as a content
	// path. Empty scans the whole library.
	RootOverride string
	// StatusFilter, when non-empty, applies transitions only to
	// directories whose current status is in the filter. Directories
	// with no prior record are admitted only when the filter includes
	// the added status. Everything else is counted skipped.
	StatusFilter []database.DirectoryStatus
	// ImportFiles runs the replace pipeline over the files of added and
	// modified directories as part of the pass. When false the
	// directories keep their flagged status for a later import run.
	ImportFiles bool
	// DryRun computes transitions and import decisions without writing
	DryRun bool
	// ScanJobID stamps imported sources with the scan that found them
	ScanJobID *uint32
	// OnProgress, when set, is called between directory entries
	OnProgress func(Progress)
	// Throttler, when set, paces the walk between directories
	Throttler *Throttler
}

// Reconciler walks a library subtree and reconciles it against the
// directory tracking store. Digests decide staleness: a directory whose
// digest matches its stored one is current and its children are not
// re-read, so an unchanged library scans without touching file content.
type Reconciler struct {
	db       *gorm.DB
	txMgr    *databasemodule.TransactionManager
	importer *mediamodule.Importer
}

// NewReconciler creates a reconciler. The importer may be nil when scan
// passes never import inline.
func NewReconciler(db *gorm.DB, txMgr *databasemodule.TransactionManager, importer *mediamodule.Importer) *Reconciler {
	return &Reconciler{db: db, txMgr: txMgr, importer: importer}
}

// sourceStat is the per-file slice of a media source row used to avoid
// rehashing files whose size and mtime have not moved
type sourceStat struct {
	sizeBytes int64
	modTime   time.Time
	digestHex string
}

// walkState carries the mutable state of one scan pass
type walkState struct {
	ctx      context.Context
	resolver *contentpath.Resolver
	library  *database.MediaLibrary
	opts     ScanOptions

	tracked map[string]*database.TrackedDirectory
	sources map[string]sourceStat
	ignore  []string

	visited map[string]bool
	result  *ScanResult
	aborted bool
}

// Scan runs one reconciliation pass. The returned error is reserved for
// precondition and storage failures; cancellation is reported through
// the summary's completion marker with the counts that committed.
func (r *Reconciler) Scan(ctx context.Context, libraryID uint32, opts ScanOptions) (*ScanResult, error) {
	library, resolver, err := mediamodule.ResolveLibrary(r.db, libraryID)
	if err != nil {
		return nil, err
	}
	if err := mediamodule.RequireRoot(resolver); err != nil {
		return nil, err
	}

	rootFilter := ""
	if opts.RootOverride != "" {
		rootFilter, err = contentpath.Canonicalize(opts.RootOverride)
		if err != nil {
			return nil, errors.NewValidationError("invalid root override: " + err.Error())
		}
		if resolver.IsExcluded(rootFilter) {
			return nil, errors.NewPreconditionError("scan root is excluded from the library", nil).
				WithContext("path", rootFilter)
		}
	}
	walkRoot := resolver.Resolve(rootFilter)
	if info, err := os.Stat(walkRoot); err != nil || !info.IsDir() {
		return nil, errors.NewPreconditionError("scan root is not a readable directory", err).
			WithContext("path", rootFilter)
	}

	st := &walkState{
		ctx:      ctx,
		resolver: resolver,
		library:  library,
		opts:     opts,
		visited:  make(map[string]bool),
		ignore:   config.Get().Sync.IgnorePatterns,
		result: &ScanResult{
			Summary: Summary{Completion: mediamodule.CompletionFinished},
			Import:  mediamodule.ImportSummary{Completion: mediamodule.CompletionFinished},
		},
	}

	// The persisted state is authoritative and re-read per pass; nothing
	// from a previous pass is cached in memory.
	err = r.txMgr.WithReadTx(ctx, func(tx *gorm.DB) error {
		dirs, err := NewDirectoryStore(tx).ListUnder(libraryID, rootFilter)
		if err != nil {
			return err
		}
		st.tracked = make(map[string]*database.TrackedDirectory, len(dirs))
		for i := range dirs {
			st.tracked[dirs[i].Path] = &dirs[i]
		}

		var rows []database.MediaSource
		q := tx.Where("library_id = ?", libraryID)
		if rootFilter != "" {
			q = q.Where("path = ? OR path LIKE ?", rootFilter, rootFilter+"/%")
		}
		if err := q.Find(&rows).Error; err != nil {
			return errors.NewStorageError("failed to load media source index", err)
		}
		st.sources = make(map[string]sourceStat, len(rows))
		for i := range rows {
			st.sources[rows[i].Path] = sourceStat{
				sizeBytes: rows[i].SizeBytes,
				modTime:   rows[i].LastModifiedAt,
				digestHex: rows[i].Hash,
			}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			st.markAborted()
			return st.result, nil
		}
		return nil, err
	}

	logger.Info("🔍 Scanning library %d under %q: %d tracked directories, %d known sources",
		libraryID, rootFilter, len(st.tracked), len(st.sources))

	if _, err := r.visit(st, rootFilter); err != nil {
		st.markAborted()
		if ctx.Err() != nil {
			return st.result, nil
		}
		return st.result, err
	}

	if !st.aborted {
		if err := r.markUnvisitedOrphaned(st, rootFilter); err != nil {
			st.markAborted()
			if ctx.Err() != nil {
				return st.result, nil
			}
			return st.result, err
		}
	}

	if st.aborted {
		st.markAborted()
	}
	return st.result, nil
}

// visit reconciles one directory and, recursively, its subtree. It
// returns the directory's computed digest, which the parent folds into
// its own listing digest.
func (r *Reconciler) visit(st *walkState, dirPath string) (digest.Digest, error) {
	if err := st.ctx.Err(); err != nil {
		st.aborted = true
		return digest.Digest{}, err
	}
	if st.opts.Throttler != nil {
		if err := st.opts.Throttler.Wait(st.ctx); err != nil {
			st.aborted = true
			return digest.Digest{}, err
		}
	}

	absDir := st.resolver.Resolve(dirPath)
	osEntries, err := os.ReadDir(absDir)
	if err != nil {
		// An unreadable directory is skipped rather than orphaned; its
		// row keeps whatever status it had and the next pass retries.
		logger.Warn("Cannot read directory %s: %v", absDir, err)
		st.visited[dirPath] = true
		st.result.Summary.Skipped++
		return digest.Digest{}, nil
	}

	var entries []digest.Entry
	for _, entry := range osEntries {
		if err := st.ctx.Err(); err != nil {
			st.aborted = true
			return digest.Digest{}, err
		}
		name := entry.Name()
		if utils.IsIgnoredName(name, st.ignore) {
			continue
		}
		childPath := contentpath.Join(dirPath, name)
		if st.resolver.IsExcluded(childPath) {
			continue
		}

		if entry.IsDir() {
			childDigest, err := r.visit(st, childPath)
			if err != nil {
				return digest.Digest{}, err
			}
			entries = append(entries, digest.Entry{Name: name, Kind: digest.KindDir, Digest: childDigest})
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logger.Warn("Cannot stat %s: %v", childPath, err)
			continue
		}
		fileDigest, err := r.fileDigest(st, childPath, absDir, name, info)
		if err != nil {
			logger.Warn("Cannot hash %s: %v", childPath, err)
			continue
		}
		entries = append(entries, digest.Entry{Name: name, Kind: digest.KindFile, Digest: fileDigest})
		st.result.Summary.FilesSeen++
		st.result.Summary.BytesSeen += info.Size()
	}

	dirDigest := digest.Directory(entries)
	st.visited[dirPath] = true

	if err := r.transition(st, dirPath, dirDigest); err != nil {
		return digest.Digest{}, err
	}

	if st.opts.OnProgress != nil {
		st.opts.OnProgress(Progress{
			CurrentPath:    dirPath,
			DirsVisited:    len(st.visited),
			FilesSeen:      st.result.Summary.FilesSeen,
			FilesProcessed: importedCount(&st.result.Import),
			BytesSeen:      st.result.Summary.BytesSeen,
		})
	}
	return dirDigest, nil
}

// fileDigest returns the content digest of one file, reusing the stored
// digest when size and mtime match the imported values. The stored
// scheme is always the full-content hash; the stat check only avoids
// recomputing it.
func (r *Reconciler) fileDigest(st *walkState, childPath, absDir, name string, info fs.FileInfo) (digest.Digest, error) {
	if prior, ok := st.sources[childPath]; ok &&
		prior.sizeBytes == info.Size() && prior.modTime.Equal(info.ModTime()) {
		if d, err := digest.Parse(prior.digestHex); err == nil {
			return d, nil
		}
	}
	return digest.File(absDir + string(os.PathSeparator) + name)
}

// transition applies the state machine to one visited directory and, for
// directories that end up flagged, runs the inline import.
func (r *Reconciler) transition(st *walkState, dirPath string, dirDigest digest.Digest) error {
	prior := st.tracked[dirPath]

	if len(st.opts.StatusFilter) > 0 && !statusAdmitted(prior, st.opts.StatusFilter) {
		st.result.Summary.Skipped++
		return nil
	}

	switch {
	case prior == nil:
		row := &database.TrackedDirectory{
			LibraryID: st.library.ID,
			Path:      dirPath,
			Status:    database.DirectoryStatusAdded,
			Digest:    dirDigest.Hex(),
		}
		if !st.opts.DryRun {
			now := time.Now()
			row.LastScannedAt = &now
			err := r.txMgr.WithWriteTx(st.ctx, func(tx *gorm.DB) error {
				return NewDirectoryStore(tx).Create(row)
			})
			if err != nil {
				return err
			}
		}
		st.result.Summary.Added++
		return r.importDirectory(st, row)

	case prior.Status == database.DirectoryStatusOutdated,
		prior.Status == database.DirectoryStatusOrphaned:
		// Outdated is an explicit invalidation; a reappearing orphan may
		// have had its sources purged. Both force re-evaluation even
		// when the digest still matches.
		if err := r.flagModified(st, prior, dirDigest); err != nil {
			return err
		}
		return r.importDirectory(st, prior)

	case prior.Digest != dirDigest.Hex():
		if err := r.flagModified(st, prior, dirDigest); err != nil {
			return err
		}
		return r.importDirectory(st, prior)

	case prior.Status == database.DirectoryStatusAdded,
		prior.Status == database.DirectoryStatusModified:
		// Digest matches but a previous pass never finished importing
		// this directory. Keep the flag and retry the import.
		switch prior.Status {
		case database.DirectoryStatusAdded:
			st.result.Summary.Added++
		default:
			st.result.Summary.Modified++
		}
		return r.importDirectory(st, prior)

	default:
		st.result.Summary.Current++
		return nil
	}
}

// flagModified records the new digest and flips the row to modified
func (r *Reconciler) flagModified(st *walkState, dir *database.TrackedDirectory, d digest.Digest) error {
	if !st.opts.DryRun {
		err := r.txMgr.WithWriteTx(st.ctx, func(tx *gorm.DB) error {
			return NewDirectoryStore(tx).SetDigestAndStatus(dir.ID, d.Hex(), database.DirectoryStatusModified)
		})
		if err != nil {
			return err
		}
	}
	dir.Digest = d.Hex()
	dir.Status = database.DirectoryStatusModified
	st.result.Summary.Modified++
	return nil
}

// importDirectory runs the replace pipeline over one flagged directory.
// On success the import flips the row back to current in the
// transaction that commits its last files.
func (r *Reconciler) importDirectory(st *walkState, dir *database.TrackedDirectory) error {
	if !st.opts.ImportFiles || r.importer == nil {
		return nil
	}
	opts := mediamodule.ImportOptions{
		DryRun:    st.opts.DryRun,
		ScanJobID: st.opts.ScanJobID,
	}
	if err := r.importer.ImportDirectory(st.ctx, st.resolver, dir, opts, &st.result.Import); err != nil {
		return err
	}
	if st.result.Import.Completion == mediamodule.CompletionAborted {
		st.aborted = true
	}
	return nil
}

// markUnvisitedOrphaned flips every tracked directory the walk did not
// reach to orphaned. Only complete passes run this; an aborted walk
// cannot tell missing from unvisited.
func (r *Reconciler) markUnvisitedOrphaned(st *walkState, rootFilter string) error {
	var ids []uint32
	for path, dir := range st.tracked {
		if !st.visited[path] {
			ids = append(ids, dir.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if st.opts.DryRun {
		st.result.Summary.Orphaned += len(ids)
		return nil
	}

	batch := config.Get().Sync.BatchSize
	if batch <= 0 {
		batch = 50
	}
	for start := 0; start < len(ids); start += batch {
		if err := st.ctx.Err(); err != nil {
			st.aborted = true
			return nil
		}
		end := start + batch
		if end > len(ids) {
			end = len(ids)
		}
		var n int64
		err := r.txMgr.WithWriteTx(st.ctx, func(tx *gorm.DB) error {
			var e error
			n, e = NewDirectoryStore(tx).MarkOrphaned(st.library.ID, ids[start:end])
			return e
		})
		if err != nil {
			if st.ctx.Err() != nil {
				st.aborted = true
				return nil
			}
			return err
		}
		st.result.Summary.Orphaned += int(n)
	}
	logger.Info("Marked %d directories orphaned under %q in library %d",
		st.result.Summary.Orphaned, rootFilter, st.library.ID)
	return nil
}

func (st *walkState) markAborted() {
	st.result.Summary.Completion = mediamodule.CompletionAborted
	st.result.Import.Completion = mediamodule.CompletionAborted
}

// statusAdmitted reports whether the filter admits a directory with the
// given prior record. Untracked directories count as added.
func statusAdmitted(prior *database.TrackedDirectory, filter []database.DirectoryStatus) bool {
	status := database.DirectoryStatusAdded
	if prior != nil {
		status = prior.Status
	}
	for _, s := range filter {
		if s == status {
			return true
		}
	}
	return false
}

func importedCount(im *mediamodule.ImportSummary) int {
	return im.Created + im.Updated + im.Unchanged + im.Skipped + im.Failed + im.NotImported
}
