package mediamodule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/contentpath"
	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/digest"
	"github.com/mantonx/cadenza/internal/errors"
	"github.com/mantonx/cadenza/internal/logger"
	"github.com/mantonx/cadenza/internal/metadata"
	"github.com/mantonx/cadenza/internal/modules/databasemodule"
)

// Outcome classifies what a replace call did to the database
type Outcome string

const (
	// OutcomeCreated means a new source and track were written
	OutcomeCreated Outcome = "created"
	// OutcomeUpdated means the existing track advanced one revision
	OutcomeUpdated Outcome = "updated"
	// OutcomeUnchanged means the stored digest already matched; nothing
	// was written, not even bookkeeping columns
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeSkipped means the file is not eligible for import
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means this file could not be processed; the error is
	// carried in the result and existing rows are untouched
	OutcomeFailed Outcome = "failed"
	// OutcomeNotImported is the dry-run outcome: the write that would
	// have happened is reported in WouldBe
	OutcomeNotImported Outcome = "not_imported"
)

// ReplaceRequest carries everything the pipeline needs to decide what to
// do with one file. Digest and Metadata are produced by the caller, which
// owns file IO; the pipeline itself only touches the database.
type ReplaceRequest struct {
	LibraryID uint32
	// Path is the library-relative content path of the file
	Path   string
	Digest digest.Digest
	// Metadata holds the decoded tags. Nil together with a non-nil
	// DecodeErr when the decoder rejected the file.
	Metadata  *metadata.TrackMetadata
	DecodeErr error
	MimeType  string
	SizeBytes int64
	ModTime   time.Time
	ScanJobID *uint32
	// PresentedRevision, when set, must match the stored track revision
	// or the replace is rejected as a conflict
	PresentedRevision *uint32
	DryRun            bool
}

// ReplaceResult reports the outcome for one file
type ReplaceResult struct {
	Outcome Outcome
	// WouldBe carries the hypothetical outcome when Outcome is
	// OutcomeNotImported
	WouldBe Outcome
	Source  *database.MediaSource
	Track   *database.Track
	// Err holds the per-file failure when Outcome is OutcomeFailed
	Err error
}

// ReplacePipeline applies one file observation to the source and track
// tables. Decisions follow the stored digest: an equal digest is a strict
// no-op, a differing digest advances the track by exactly one revision,
// and a revision mismatch rejects the write instead of overwriting it.
type ReplacePipeline struct {
	txMgr *databasemodule.TransactionManager
}

// NewReplacePipeline creates a pipeline. The transaction manager is only
// used by UpdateTrack; Replace runs inside transactions owned by the
// caller.
func NewReplacePipeline(txMgr *databasemodule.TransactionManager) *ReplacePipeline {
	return &ReplacePipeline{txMgr: txMgr}
}

// Replace applies a single file observation inside the caller's
// transaction. The returned error is reserved for storage failures, which
// must abort the whole transaction; everything that concerns only this
// file (decode failures, revision conflicts) is reported through
// ReplaceResult.Err with OutcomeFailed so the caller can carry on.
//
// In dry-run mode Replace performs no writes and reports the outcome the
// wet run would have had.
func (p *ReplacePipeline) Replace(tx *gorm.DB, req ReplaceRequest) (ReplaceResult, error) {
	repo := NewSourceRepository(tx)

	source, err := repo.GetByPath(req.LibraryID, req.Path)
	if err != nil {
		return ReplaceResult{}, err
	}

	// An equal digest means the database already reflects this exact
	// content. Nothing is written so an import over a clean library is a
	// pure read.
	if source != nil && source.Hash == req.Digest.Hex() {
		return ReplaceResult{Outcome: OutcomeUnchanged, Source: source}, nil
	}

	if req.DecodeErr != nil {
		err := req.DecodeErr
		if !errors.IsIO(err) && !errors.IsDecode(err) {
			err = errors.NewDecodeError(fmt.Sprintf("failed to decode %s", req.Path), err)
		}
		return ReplaceResult{Outcome: OutcomeFailed, Source: source, Err: err}, nil
	}

	if req.Metadata == nil {
		err := errors.NewDecodeError(fmt.Sprintf("no metadata available for %s", req.Path), nil)
		return ReplaceResult{Outcome: OutcomeFailed, Source: source, Err: err}, nil
	}

	if source == nil {
		return p.create(tx, req)
	}
	return p.update(tx, repo, source, req)
}

func (p *ReplacePipeline) create(tx *gorm.DB, req ReplaceRequest) (ReplaceResult, error) {
	if req.DryRun {
		return ReplaceResult{Outcome: OutcomeNotImported, WouldBe: OutcomeCreated}, nil
	}

	now := time.Now()
	source := &database.MediaSource{
		ID:             uuid.NewString(),
		LibraryID:      req.LibraryID,
		Path:           req.Path,
		Directory:      contentpath.Parent(req.Path),
		Hash:           req.Digest.Hex(),
		MimeType:       req.MimeType,
		SizeBytes:      req.SizeBytes,
		LastModifiedAt: req.ModTime,
		ScanJobID:      req.ScanJobID,
		LastSeenAt:     now,
	}
	if err := tx.Create(source).Error; err != nil {
		return ReplaceResult{}, errors.NewStorageError("failed to create media source", err).
			WithContext("path", req.Path)
	}

	track := newTrack(source, req.Metadata)
	if err := tx.Create(track).Error; err != nil {
		return ReplaceResult{}, errors.NewStorageError("failed to create track", err).
			WithContext("path", req.Path)
	}

	return ReplaceResult{Outcome: OutcomeCreated, Source: source, Track: track}, nil
}

func (p *ReplacePipeline) update(tx *gorm.DB, repo *SourceRepository, source *database.MediaSource, req ReplaceRequest) (ReplaceResult, error) {
	track, err := repo.GetTrackForSource(source.ID)
	if err != nil {
		return ReplaceResult{}, err
	}

	if req.DryRun {
		return ReplaceResult{Outcome: OutcomeNotImported, WouldBe: OutcomeUpdated, Source: source}, nil
	}

	if track == nil {
		// A source without its track means an earlier run was interrupted
		// between the two writes. Recreate the track at revision zero.
		logger.Warn("Media source %s has no track, recreating", source.ID)
		track = newTrack(source, req.Metadata)
		if err := tx.Create(track).Error; err != nil {
			return ReplaceResult{}, errors.NewStorageError("failed to recreate track", err).
				WithContext("path", req.Path)
		}
	} else {
		if req.PresentedRevision != nil && *req.PresentedRevision != track.Revision {
			conflict := errors.NewConflictError(
				fmt.Sprintf("track %s is at revision %d, not %d", track.ID, track.Revision, *req.PresentedRevision), nil).
				WithContext("path", req.Path)
			return ReplaceResult{Outcome: OutcomeFailed, Source: source, Track: track, Err: conflict}, nil
		}

		updates := trackColumns(req.Metadata)
		updates["revision"] = track.Revision + 1
		res := tx.Model(&database.Track{}).
			Where("id = ? AND revision = ?", track.ID, track.Revision).
			Updates(updates)
		if res.Error != nil {
			return ReplaceResult{}, errors.NewStorageError("failed to update track", res.Error).
				WithContext("path", req.Path)
		}
		if res.RowsAffected == 0 {
			conflict := errors.NewConflictError(
				fmt.Sprintf("track %s was updated concurrently", track.ID), nil).
				WithContext("path", req.Path)
			return ReplaceResult{Outcome: OutcomeFailed, Source: source, Track: track, Err: conflict}, nil
		}
		track.Revision++
		applyMetadata(track, req.Metadata)
	}

	sourceUpdates := map[string]interface{}{
		"hash":             req.Digest.Hex(),
		"mime_type":        req.MimeType,
		"size_bytes":       req.SizeBytes,
		"last_modified_at": req.ModTime,
		"last_seen_at":     time.Now(),
		"scan_job_id":      req.ScanJobID,
	}
	if err := tx.Model(&database.MediaSource{}).Where("id = ?", source.ID).Updates(sourceUpdates).Error; err != nil {
		return ReplaceResult{}, errors.NewStorageError("failed to update media source", err).
			WithContext("path", req.Path)
	}
	source.Hash = req.Digest.Hex()
	source.MimeType = req.MimeType
	source.SizeBytes = req.SizeBytes
	source.LastModifiedAt = req.ModTime

	return ReplaceResult{Outcome: OutcomeUpdated, Source: source, Track: track}, nil
}

// UpdateTrack applies a manual metadata edit to a track. The caller must
// present the revision it read; a mismatch rejects the edit with a
// conflict and leaves the row untouched. On success the track advances
// exactly one revision.
func (p *ReplacePipeline) UpdateTrack(ctx context.Context, trackID string, presentedRevision uint32, meta *metadata.TrackMetadata) (*database.Track, error) {
	if meta == nil {
		return nil, errors.NewValidationError("no metadata provided")
	}

	var updated *database.Track
	err := p.txMgr.WithWriteTx(ctx, func(tx *gorm.DB) error {
		repo := NewSourceRepository(tx)
		track, err := repo.GetTrackByID(trackID)
		if err != nil {
			return err
		}
		if presentedRevision != track.Revision {
			return errors.NewConflictError(
				fmt.Sprintf("track %s is at revision %d, not %d", track.ID, track.Revision, presentedRevision), nil)
		}

		updates := trackColumns(meta)
		updates["revision"] = track.Revision + 1
		res := tx.Model(&database.Track{}).
			Where("id = ? AND revision = ?", track.ID, track.Revision).
			Updates(updates)
		if res.Error != nil {
			return errors.NewStorageError("failed to update track", res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.NewConflictError(
				fmt.Sprintf("track %s was updated concurrently", track.ID), nil)
		}

		track.Revision++
		applyMetadata(track, meta)
		updated = track
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func newTrack(source *database.MediaSource, meta *metadata.TrackMetadata) *database.Track {
	track := &database.Track{
		ID:            uuid.NewString(),
		LibraryID:     source.LibraryID,
		MediaSourceID: source.ID,
		Revision:      0,
	}
	applyMetadata(track, meta)
	return track
}

// trackColumns builds the update map for a metadata write. A map keeps
// zero values in play, so a tag cleared in the file is cleared in the row.
func trackColumns(meta *metadata.TrackMetadata) map[string]interface{} {
	return map[string]interface{}{
		"title":        meta.Title,
		"artist":       meta.Artist,
		"album":        meta.Album,
		"album_artist": meta.AlbumArtist,
		"composer":     meta.Composer,
		"genre":        meta.Genre,
		"track_number": meta.TrackNumber,
		"track_total":  meta.TrackTotal,
		"disc_number":  meta.DiscNumber,
		"disc_total":   meta.DiscTotal,
		"year":         meta.Year,
		"duration_ms":  meta.DurationMs,
		"lyrics":       meta.Lyrics,
	}
}

func applyMetadata(track *database.Track, meta *metadata.TrackMetadata) {
	track.Title = meta.Title
	track.Artist = meta.Artist
	track.Album = meta.Album
	track.AlbumArtist = meta.AlbumArtist
	track.Composer = meta.Composer
	track.Genre = meta.Genre
	track.TrackNumber = meta.TrackNumber
	track.TrackTotal = meta.TrackTotal
	track.DiscNumber = meta.DiscNumber
	track.DiscTotal = meta.DiscTotal
	track.Year = meta.Year
	track.DurationMs = meta.DurationMs
	track.Lyrics = meta.Lyrics
}
