package mediamodule

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/metadata"
)

func (e *mediaEnv) importer() *Importer {
	return NewImporter(e.db, e.txMgr, e.pipeline, nil)
}

func (e *mediaEnv) writeFile(t *testing.T, rel string, data []byte) {
	t.Helper()
	abs := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, data, 0644))
}

func (e *mediaEnv) trackDir(t *testing.T, path string, status database.DirectoryStatus) *database.TrackedDirectory {
	t.Helper()
	dir := &database.TrackedDirectory{
		LibraryID: e.lib.ID,
		Path:      path,
		Status:    status,
		Digest:    strings.Repeat("0", 64),
	}
	require.NoError(t, e.db.Create(dir).Error)
	return dir
}

func (e *mediaEnv) dirStatus(t *testing.T, path string) database.DirectoryStatus {
	t.Helper()
	var dir database.TrackedDirectory
	require.NoError(t, e.db.Where("library_id = ? AND path = ?", e.lib.ID, path).First(&dir).Error)
	return dir.Status
}

func (e *mediaEnv) sourceCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&database.MediaSource{}).
		Where("library_id = ?", e.lib.ID).Count(&n).Error)
	return n
}

// taggedMP3 produces a minimal ID3v2.3 file the decoder accepts
func taggedMP3(title, artist string) []byte {
	frame := func(id, text string) []byte {
		body := append([]byte{0x00}, []byte(text)...)
		f := make([]byte, 0, 10+len(body))
		f = append(f, id...)
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(body)))
		f = append(f, size[:]...)
		f = append(f, 0x00, 0x00)
		return append(f, body...)
	}
	body := append(frame("TIT2", title), frame("TPE1", artist)...)
	n := len(body)
	header := []byte{
		'I', 'D', '3', 0x03, 0x00, 0x00,
		byte(n >> 21 & 0x7f), byte(n >> 14 & 0x7f), byte(n >> 7 & 0x7f), byte(n & 0x7f),
	}
	return append(header, body...)
}

func TestImportFilesSettlesAMixedDirectory(t *testing.T) {
	e := newMediaEnv(t)
	e.writeFile(t, "artist/01.mp3", taggedMP3("Opening", "Artist A"))
	e.writeFile(t, "artist/notes.txt", []byte("liner notes"))
	e.writeFile(t, "artist/01.mp3.part", []byte("half a download"))
	e.writeFile(t, "artist/broken.mp3", []byte("not really an mp3"))
	e.trackDir(t, "artist", database.DirectoryStatusAdded)

	summary, err := e.importer().ImportFiles(context.Background(), e.lib.ID, ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 2, summary.Skipped, "the text file and the partial download")
	assert.Equal(t, 1, summary.Failed, "the undecodable mp3")
	assert.Equal(t, CompletionFinished, summary.Completion)

	// Per-file failures do not stop the directory from settling; the
	// broken file simply stays out of the database.
	assert.Equal(t, database.DirectoryStatusCurrent, e.dirStatus(t, "artist"))
	assert.EqualValues(t, 1, e.sourceCount(t))

	var track database.Track
	require.NoError(t, e.db.Where("title = ?", "Opening").First(&track).Error)
	assert.Equal(t, "Artist A", track.Artist)
}

func TestImportFilesStatShortcutSkipsRehash(t *testing.T) {
	e := newMediaEnv(t)
	e.writeFile(t, "artist/01.mp3", taggedMP3("Opening", "Artist A"))
	dir := e.trackDir(t, "artist", database.DirectoryStatusAdded)

	ctx := context.Background()
	_, err := e.importer().ImportFiles(ctx, e.lib.ID, ImportOptions{})
	require.NoError(t, err)

	require.NoError(t, e.db.Model(dir).Update("status", database.DirectoryStatusModified).Error)

	summary, err := e.importer().ImportFiles(ctx, e.lib.ID, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unchanged)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, database.DirectoryStatusCurrent, e.dirStatus(t, "artist"))
}

func TestImportFilesRemovesStaleSources(t *testing.T) {
	e := newMediaEnv(t)
	e.writeFile(t, "artist/01.mp3", taggedMP3("Opening", "Artist A"))
	e.trackDir(t, "artist", database.DirectoryStatusAdded)

	// A leftover row for a file that no longer exists in the directory
	ghost := &database.MediaSource{
		ID:             uuid.NewString(),
		LibraryID:      e.lib.ID,
		Path:           "artist/gone.mp3",
		Directory:      "artist",
		Hash:           strings.Repeat("a", 64),
		MimeType:       "audio/mpeg",
		SizeBytes:      10,
		LastModifiedAt: time.Now(),
		LastSeenAt:     time.Now(),
	}
	require.NoError(t, e.db.Create(ghost).Error)
	require.NoError(t, e.db.Create(&database.Track{
		ID:            uuid.NewString(),
		LibraryID:     e.lib.ID,
		MediaSourceID: ghost.ID,
		Title:         "Gone",
	}).Error)

	summary, err := e.importer().ImportFiles(context.Background(), e.lib.ID, ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Removed)
	assert.EqualValues(t, 1, e.sourceCount(t))

	var orphanTracks int64
	require.NoError(t, e.db.Model(&database.Track{}).
		Where("title = ?", "Gone").Count(&orphanTracks).Error)
	assert.EqualValues(t, 0, orphanTracks, "the track goes with its source")
}

func TestImportFilesDryRunLeavesEverythingFlagged(t *testing.T) {
	e := newMediaEnv(t)
	e.writeFile(t, "artist/01.mp3", taggedMP3("Opening", "Artist A"))
	e.trackDir(t, "artist", database.DirectoryStatusAdded)

	summary, err := e.importer().ImportFiles(context.Background(), e.lib.ID, ImportOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.NotImported)
	assert.Equal(t, 0, summary.Created)
	assert.EqualValues(t, 0, e.sourceCount(t))
	assert.Equal(t, database.DirectoryStatusAdded, e.dirStatus(t, "artist"))
}

func TestImportFilesUnreadableDirectoryKeepsItsFlag(t *testing.T) {
	e := newMediaEnv(t)
	e.trackDir(t, "ghost", database.DirectoryStatusAdded)

	summary, err := e.importer().ImportFiles(context.Background(), e.lib.ID, ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, database.DirectoryStatusAdded, e.dirStatus(t, "ghost"),
		"the next scan reconsiders it")
}

func TestImportFilesOnlyVisitsFlaggedDirectories(t *testing.T) {
	e := newMediaEnv(t)
	e.writeFile(t, "flagged/01.mp3", taggedMP3("In", "A"))
	e.writeFile(t, "settled/02.mp3", taggedMP3("Out", "B"))
	e.trackDir(t, "flagged", database.DirectoryStatusModified)
	e.trackDir(t, "settled", database.DirectoryStatusCurrent)

	summary, err := e.importer().ImportFiles(context.Background(), e.lib.ID, ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	var paths []string
	require.NoError(t, e.db.Model(&database.MediaSource{}).Pluck("path", &paths).Error)
	assert.Equal(t, []string{"flagged/01.mp3"}, paths)
}

func TestImportFilesRootOverride(t *testing.T) {
	e := newMediaEnv(t)
	e.writeFile(t, "a/01.mp3", taggedMP3("One", "A"))
	e.writeFile(t, "b/02.mp3", taggedMP3("Two", "B"))
	e.trackDir(t, "a", database.DirectoryStatusAdded)
	e.trackDir(t, "b", database.DirectoryStatusAdded)

	summary, err := e.importer().ImportFiles(context.Background(), e.lib.ID, ImportOptions{RootOverride: "a"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, database.DirectoryStatusCurrent, e.dirStatus(t, "a"))
	assert.Equal(t, database.DirectoryStatusAdded, e.dirStatus(t, "b"))
}

func TestFindUntrackedFiles(t *testing.T) {
	e := newMediaEnv(t)
	e.writeFile(t, "artist/01.mp3", taggedMP3("Opening", "Artist A"))
	e.trackDir(t, "artist", database.DirectoryStatusAdded)

	ctx := context.Background()
	_, err := e.importer().ImportFiles(ctx, e.lib.ID, ImportOptions{})
	require.NoError(t, err)

	e.writeFile(t, "artist/03.mp3", taggedMP3("New", "Artist A"))
	e.writeFile(t, "artist/cover.jpg", []byte("not audio"))
	e.writeFile(t, "artist/album.nfo", []byte("sidecar"))
	e.writeFile(t, "artist/rip.wav", []byte("audio without a decoder"))
	e.writeFile(t, ".cache/tmp.mp3", []byte("ignored"))

	found, err := e.importer().FindUntrackedFiles(ctx, e.lib.ID, "")
	require.NoError(t, err)

	// The wav has no registered decoder but is still untracked audio on
	// disk; the artwork and sidecar never count as content.
	assert.Equal(t, CompletionFinished, found.Completion)
	assert.ElementsMatch(t, []string{"artist/03.mp3", "artist/rip.wav"}, found.ContentPaths)
}

// artworkRecorder captures sink invocations
type artworkRecorder struct {
	tracks []string
	arts   []*metadata.Artwork
}

func (r *artworkRecorder) SaveTrackArtwork(track *database.Track, art *metadata.Artwork) error {
	r.tracks = append(r.tracks, track.Title)
	r.arts = append(r.arts, art)
	return nil
}

// coverDecoder stands in for a format whose tags carry embedded artwork
type coverDecoder struct{}

func (coverDecoder) Name() string { return "cover-stub" }

func (coverDecoder) Supports(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".aiff")
}

func (coverDecoder) Decode(r io.ReadSeeker) (*metadata.TrackMetadata, error) {
	return &metadata.TrackMetadata{
		Title: "With Cover",
		Artwork: &metadata.Artwork{
			Data:     []byte{0x89, 'P', 'N', 'G'},
			MIMEType: "image/png",
			Ext:      "png",
		},
	}, nil
}

func TestImportFilesForwardsEmbeddedArtwork(t *testing.T) {
	metadata.Register(coverDecoder{})

	e := newMediaEnv(t)
	e.writeFile(t, "artist/01.aiff", []byte("audio bytes"))
	e.trackDir(t, "artist", database.DirectoryStatusAdded)

	sink := &artworkRecorder{}
	importer := e.importer()
	importer.SetArtworkSink(sink)

	summary, err := importer.ImportFiles(context.Background(), e.lib.ID, ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	require.Len(t, sink.tracks, 1)
	assert.Equal(t, "With Cover", sink.tracks[0])
	assert.Equal(t, "image/png", sink.arts[0].MIMEType)
}
