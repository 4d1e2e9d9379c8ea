package mediamodule

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/config"
	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/digest"
	"github.com/mantonx/cadenza/internal/errors"
	"github.com/mantonx/cadenza/internal/events"
	"github.com/mantonx/cadenza/internal/logger"
	"github.com/mantonx/cadenza/internal/modules/databasemodule"
	"github.com/mantonx/cadenza/internal/utils"
)

// MatchMode decides how the exporter recognizes an up-to-date target file
type MatchMode string

const (
	// MatchModeStat compares file size and modification time against the
	// imported values. Cheap, and sufficient unless targets are edited
	// in place.
	MatchModeStat MatchMode = "stat"
	// MatchModeDigest hashes the target file and compares it with the
	// imported digest
	MatchModeDigest MatchMode = "digest"
)

// ExportOptions controls a single export run
type ExportOptions struct {
	// TargetRoot is the absolute directory to mirror into
	TargetRoot string
	// PathPrefix restricts the export to one subtree, given as a
	// content path. Empty exports the whole library.
	PathPrefix string
	// MatchMode defaults to stat
	MatchMode MatchMode
	// PurgeOtherFiles removes files under the target that no media
	// source accounts for
	PurgeOtherFiles bool
	// BatchSize is the database page size. Zero uses the configured
	// default.
	BatchSize int
}

// ExportSummary tallies what one export run did
type ExportSummary struct {
	Copied     int        `json:"copied"`
	UpToDate   int        `json:"up_to_date"`
	Removed    int        `json:"removed"`
	Failed     int        `json:"failed"`
	Completion Completion `json:"completion"`
}

// Exporter mirrors imported files into a second directory tree. It is a
// pure reader of the database: per-file problems are counted and skipped,
// and the target is only ever touched through atomic copies.
type Exporter struct {
	db       *gorm.DB
	txMgr    *databasemodule.TransactionManager
	eventBus events.EventBus
}

// NewExporter creates an exporter
func NewExporter(db *gorm.DB, txMgr *databasemodule.TransactionManager, eventBus events.EventBus) *Exporter {
	return &Exporter{db: db, txMgr: txMgr, eventBus: eventBus}
}

// ExportFiles mirrors a library's imported sources under opts.TargetRoot.
// Files already matching per the configured MatchMode are left alone.
// With PurgeOtherFiles set, files under the target that no source
// accounts for are deleted afterwards.
func (ex *Exporter) ExportFiles(ctx context.Context, libraryID uint32, opts ExportOptions) (*ExportSummary, error) {
	started := time.Now()

	_, resolver, err := ResolveLibrary(ex.db, libraryID)
	if err != nil {
		return nil, err
	}
	if err := RequireRoot(resolver); err != nil {
		return nil, err
	}

	target := filepath.Clean(opts.TargetRoot)
	if opts.TargetRoot == "" || !filepath.IsAbs(target) {
		return nil, errors.NewPreconditionError("target root must be an absolute path", nil).
			WithContext("target_root", opts.TargetRoot)
	}
	if pathsOverlap(resolver.Root(), target) {
		return nil, errors.NewPreconditionError("target root overlaps the library root", nil).
			WithContext("target_root", target).
			WithContext("library_root", resolver.Root())
	}
	if err := utils.EnsureDir(target); err != nil {
		return nil, errors.NewIOError("failed to create target root", err)
	}

	mode := opts.MatchMode
	if mode == "" {
		mode = MatchModeStat
	}
	pageSize := opts.BatchSize
	if pageSize <= 0 {
		pageSize = config.Get().Sync.BatchSize
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	summary := &ExportSummary{Completion: CompletionFinished}
	expected := make(map[string]bool)

	offset := 0
	for {
		if ctx.Err() != nil {
			summary.Completion = CompletionAborted
			break
		}

		var page []database.MediaSource
		err := ex.txMgr.WithReadTx(ctx, func(tx *gorm.DB) error {
			var e error
			page, e = NewSourceRepository(tx).ListByPrefix(libraryID, opts.PathPrefix, pageSize, offset)
			return e
		})
		if err != nil {
			if ctx.Err() != nil {
				summary.Completion = CompletionAborted
				break
			}
			summary.Completion = CompletionAborted
			ex.publishCompleted(libraryID, target, summary, started)
			return summary, err
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)

		for i := range page {
			if ctx.Err() != nil {
				summary.Completion = CompletionAborted
				break
			}
			ex.exportOne(resolver.Resolve(page[i].Path), target, &page[i], mode, summary)
			expected[page[i].Path] = true
		}
	}

	if summary.Completion == CompletionFinished && opts.PurgeOtherFiles {
		ex.purgeOthers(ctx, target, opts.PathPrefix, expected, summary)
	}

	ex.publishCompleted(libraryID, target, summary, started)
	logger.Info("📤 Export of library %d %s: %d copied, %d up to date, %d removed, %d failed",
		libraryID, summary.Completion, summary.Copied, summary.UpToDate, summary.Removed, summary.Failed)
	return summary, nil
}

// exportOne brings a single target file up to date with its source row
func (ex *Exporter) exportOne(srcAbs, target string, source *database.MediaSource, mode MatchMode, summary *ExportSummary) {
	dstAbs := filepath.Join(target, filepath.FromSlash(source.Path))

	match, err := ex.targetMatches(dstAbs, source, mode)
	if err != nil {
		logger.Warn("Cannot check %s: %v", dstAbs, err)
		summary.Failed++
		return
	}
	if match {
		summary.UpToDate++
		return
	}

	if err := utils.CopyFile(srcAbs, dstAbs); err != nil {
		logger.Warn("Cannot copy %s: %v", source.Path, err)
		summary.Failed++
		return
	}
	summary.Copied++
}

// targetMatches reports whether the target file already reflects the
// imported source. A missing target never matches.
func (ex *Exporter) targetMatches(dstAbs string, source *database.MediaSource, mode MatchMode) (bool, error) {
	info, err := os.Stat(dstAbs)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch mode {
	case MatchModeDigest:
		d, err := digest.File(dstAbs)
		if err != nil {
			return false, err
		}
		return d.Hex() == source.Hash, nil
	default:
		return info.Size() == source.SizeBytes && info.ModTime().Equal(source.LastModifiedAt), nil
	}
}

// purgeOthers deletes files under the target subtree that no exported
// source accounts for
func (ex *Exporter) purgeOthers(ctx context.Context, target, prefix string, expected map[string]bool, summary *ExportSummary) {
	walkRoot := target
	if prefix != "" {
		walkRoot = filepath.Join(target, filepath.FromSlash(prefix))
	}

	err := filepath.WalkDir(walkRoot, func(path string, d os.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(target, path)
		if err != nil {
			return nil
		}
		cp := filepath.ToSlash(rel)
		if expected[cp] {
			return nil
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("Cannot remove %s: %v", path, err)
			summary.Failed++
			return nil
		}
		summary.Removed++
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			summary.Completion = CompletionAborted
			return
		}
		logger.Warn("Purge walk failed: %v", err)
		summary.Failed++
	}
}

func (ex *Exporter) publishCompleted(libraryID uint32, target string, summary *ExportSummary, started time.Time) {
	if ex.eventBus == nil {
		return
	}
	ex.eventBus.PublishAsync(events.NewExportCompletedEvent(events.ExportCompletedData{
		LibraryID:  libraryID,
		TargetRoot: target,
		Copied:     summary.Copied,
		Skipped:    summary.UpToDate,
		Purged:     summary.Removed,
		Failed:     summary.Failed,
		DurationMs: time.Since(started).Milliseconds(),
	}))
}

// pathsOverlap reports whether one absolute path equals or contains the
// other. Exporting into the library itself would let a purge eat the
// originals, so overlapping roots are rejected up front.
func pathsOverlap(a, b string) bool {
	if a == b {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(a, b+sep) || strings.HasPrefix(b, a+sep)
}
