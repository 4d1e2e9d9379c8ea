package mediamodule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/digest"
	"github.com/mantonx/cadenza/internal/errors"
	"github.com/mantonx/cadenza/internal/metadata"
	"github.com/mantonx/cadenza/internal/modules/databasemodule"
)

type mediaEnv struct {
	db       *gorm.DB
	txMgr    *databasemodule.TransactionManager
	pipeline *ReplacePipeline
	lib      *database.MediaLibrary
	root     string
}

func newMediaEnv(t *testing.T) *mediaEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// In-memory sqlite lives and dies with its connection, so the pool
	// must never hand work a second one.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&database.MediaLibrary{},
		&database.TrackedDirectory{},
		&database.MediaSource{},
		&database.Track{},
	))

	gate := databasemodule.NewGate()
	exec := databasemodule.NewExecutor(2)
	exec.Start()
	t.Cleanup(func() {
		exec.Stop()
		gate.Close()
	})
	txMgr := databasemodule.NewTransactionManager(db, gate, exec)

	root := t.TempDir()
	lib := &database.MediaLibrary{Name: "Test Library", Path: root, Type: "music"}
	require.NoError(t, db.Create(lib).Error)

	return &mediaEnv{
		db:       db,
		txMgr:    txMgr,
		pipeline: NewReplacePipeline(txMgr),
		lib:      lib,
		root:     root,
	}
}

// replace runs one request through the pipeline inside its own write
// transaction, the way the importer does
func (e *mediaEnv) replace(t *testing.T, req ReplaceRequest) ReplaceResult {
	t.Helper()
	var res ReplaceResult
	err := e.txMgr.WithWriteTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		res, err = e.pipeline.Replace(tx, req)
		return err
	})
	require.NoError(t, err)
	return res
}

func (e *mediaEnv) request(path, content string, meta *metadata.TrackMetadata) ReplaceRequest {
	return ReplaceRequest{
		LibraryID: e.lib.ID,
		Path:      path,
		Digest:    digest.Bytes([]byte(content)),
		Metadata:  meta,
		MimeType:  "audio/mpeg",
		SizeBytes: int64(len(content)),
		ModTime:   time.Now().Truncate(time.Second),
	}
}

func (e *mediaEnv) trackByTitle(t *testing.T, title string) *database.Track {
	t.Helper()
	var track database.Track
	require.NoError(t, e.db.Where("title = ?", title).First(&track).Error)
	return &track
}

func TestReplaceCreatesSourceAndTrackAtRevisionZero(t *testing.T) {
	e := newMediaEnv(t)

	res := e.replace(t, e.request("a/01.mp3", "v1", &metadata.TrackMetadata{
		Title:  "Opening",
		Artist: "Artist A",
		Album:  "Album One",
	}))

	assert.Equal(t, OutcomeCreated, res.Outcome)
	require.NotNil(t, res.Source)
	require.NotNil(t, res.Track)
	assert.Equal(t, "a", res.Source.Directory)
	assert.EqualValues(t, 0, res.Track.Revision)

	track := e.trackByTitle(t, "Opening")
	assert.Equal(t, res.Source.ID, track.MediaSourceID)
	assert.Equal(t, "Artist A", track.Artist)
}

func TestReplaceEqualDigestIsAStrictNoop(t *testing.T) {
	e := newMediaEnv(t)
	e.replace(t, e.request("a/01.mp3", "v1", &metadata.TrackMetadata{Title: "Opening"}))

	// Same content, different tags in the request: the stored digest wins
	// and nothing is written.
	res := e.replace(t, e.request("a/01.mp3", "v1", &metadata.TrackMetadata{Title: "Renamed"}))

	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	track := e.trackByTitle(t, "Opening")
	assert.EqualValues(t, 0, track.Revision)
}

func TestReplaceAdvancesExactlyOneRevision(t *testing.T) {
	e := newMediaEnv(t)
	e.replace(t, e.request("a/01.mp3", "v1", &metadata.TrackMetadata{Title: "Opening"}))

	res := e.replace(t, e.request("a/01.mp3", "v2", &metadata.TrackMetadata{Title: "Opening (Remaster)"}))

	assert.Equal(t, OutcomeUpdated, res.Outcome)
	track := e.trackByTitle(t, "Opening (Remaster)")
	assert.EqualValues(t, 1, track.Revision)

	var source database.MediaSource
	require.NoError(t, e.db.Where("path = ?", "a/01.mp3").First(&source).Error)
	assert.Equal(t, digest.Bytes([]byte("v2")).Hex(), source.Hash)
}

func TestReplaceClearsTagsDroppedFromTheFile(t *testing.T) {
	e := newMediaEnv(t)
	e.replace(t, e.request("a/01.mp3", "v1", &metadata.TrackMetadata{
		Title: "Opening",
		Genre: "Ambient",
		Year:  2014,
	}))

	e.replace(t, e.request("a/01.mp3", "v2", &metadata.TrackMetadata{Title: "Opening"}))

	track := e.trackByTitle(t, "Opening")
	assert.Empty(t, track.Genre, "a tag cleared in the file is cleared in the row")
	assert.Zero(t, track.Year)
}

func TestReplaceRevisionMismatchIsRejected(t *testing.T) {
	e := newMediaEnv(t)
	e.replace(t, e.request("a/01.mp3", "v1", &metadata.TrackMetadata{Title: "Opening"}))
	e.replace(t, e.request("a/01.mp3", "v2", &metadata.TrackMetadata{Title: "Opening"}))

	stale := uint32(0)
	req := e.request("a/01.mp3", "v3", &metadata.TrackMetadata{Title: "Stomped"})
	req.PresentedRevision = &stale
	res := e.replace(t, req)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, errors.IsConflict(res.Err))

	track := e.trackByTitle(t, "Opening")
	assert.EqualValues(t, 1, track.Revision, "the rejected write changed nothing")
}

func TestReplaceMatchingPresentedRevisionSucceeds(t *testing.T) {
	e := newMediaEnv(t)
	e.replace(t, e.request("a/01.mp3", "v1", &metadata.TrackMetadata{Title: "Opening"}))

	current := uint32(0)
	req := e.request("a/01.mp3", "v2", &metadata.TrackMetadata{Title: "Opening II"})
	req.PresentedRevision = &current
	res := e.replace(t, req)

	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.EqualValues(t, 1, e.trackByTitle(t, "Opening II").Revision)
}

func TestReplaceDecodeFailureIsPerFile(t *testing.T) {
	e := newMediaEnv(t)

	req := e.request("a/01.mp3", "v1", nil)
	req.DecodeErr = errors.NewDecodeError("unreadable tags", nil)
	res := e.replace(t, req)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, errors.IsDecode(res.Err))

	var n int64
	require.NoError(t, e.db.Model(&database.MediaSource{}).Count(&n).Error)
	assert.EqualValues(t, 0, n)
}

func TestReplaceMissingMetadataFails(t *testing.T) {
	e := newMediaEnv(t)

	res := e.replace(t, e.request("a/01.mp3", "v1", nil))

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, errors.IsDecode(res.Err))
}

func TestReplaceDryRunReportsWithoutWriting(t *testing.T) {
	e := newMediaEnv(t)

	req := e.request("a/01.mp3", "v1", &metadata.TrackMetadata{Title: "Opening"})
	req.DryRun = true
	res := e.replace(t, req)
	assert.Equal(t, OutcomeNotImported, res.Outcome)
	assert.Equal(t, OutcomeCreated, res.WouldBe)

	var n int64
	require.NoError(t, e.db.Model(&database.MediaSource{}).Count(&n).Error)
	assert.EqualValues(t, 0, n)

	// Against an existing row the dry run predicts an update
	e.replace(t, e.request("a/01.mp3", "v1", &metadata.TrackMetadata{Title: "Opening"}))
	req = e.request("a/01.mp3", "v2", &metadata.TrackMetadata{Title: "Opening"})
	req.DryRun = true
	res = e.replace(t, req)
	assert.Equal(t, OutcomeNotImported, res.Outcome)
	assert.Equal(t, OutcomeUpdated, res.WouldBe)
}

func TestReplaceRecreatesMissingTrack(t *testing.T) {
	e := newMediaEnv(t)
	created := e.replace(t, e.request("a/01.mp3", "v1", &metadata.TrackMetadata{Title: "Opening"}))

	// Simulate an earlier run interrupted between the source and track
	// writes
	require.NoError(t, e.db.Where("media_source_id = ?", created.Source.ID).
		Delete(&database.Track{}).Error)

	res := e.replace(t, e.request("a/01.mp3", "v2", &metadata.TrackMetadata{Title: "Opening"}))

	assert.Equal(t, OutcomeUpdated, res.Outcome)
	require.NotNil(t, res.Track)
	assert.EqualValues(t, 0, res.Track.Revision, "recreated tracks restart at zero")
}

func TestUpdateTrackManualEdit(t *testing.T) {
	e := newMediaEnv(t)
	ctx := context.Background()
	created := e.replace(t, e.request("a/01.mp3", "v1", &metadata.TrackMetadata{
		Title: "Opening",
		Genre: "Ambient",
	}))

	updated, err := e.pipeline.UpdateTrack(ctx, created.Track.ID, 0, &metadata.TrackMetadata{
		Title:  "Opening (Live)",
		Artist: "Artist A",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated.Revision)
	assert.Equal(t, "Opening (Live)", updated.Title)
	assert.Empty(t, updated.Genre, "fields absent from the edit are cleared")

	// The stale revision is now rejected
	_, err = e.pipeline.UpdateTrack(ctx, created.Track.ID, 0, &metadata.TrackMetadata{Title: "Late"})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	track := e.trackByTitle(t, "Opening (Live)")
	assert.EqualValues(t, 1, track.Revision)
}

func TestUpdateTrackValidation(t *testing.T) {
	e := newMediaEnv(t)
	ctx := context.Background()

	_, err := e.pipeline.UpdateTrack(ctx, "no-such-track", 0, &metadata.TrackMetadata{Title: "X"})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = e.pipeline.UpdateTrack(ctx, "whatever", 0, nil)
	require.Error(t, err)
}
