package mediamodule

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/cadenza/internal/database"
)

func (e *mediaEnv) seedSourceRow(t *testing.T, path string) *database.MediaSource {
	t.Helper()
	dir := ""
	if i := strings.LastIndex(path, "/"); i >= 0 {
		dir = path[:i]
	}
	source := &database.MediaSource{
		ID:             uuid.NewString(),
		LibraryID:      e.lib.ID,
		Path:           path,
		Directory:      dir,
		Hash:           strings.Repeat("0", 64),
		MimeType:       "audio/mpeg",
		SizeBytes:      1,
		LastModifiedAt: time.Now(),
		LastSeenAt:     time.Now(),
	}
	require.NoError(t, e.db.Create(source).Error)
	return source
}

func TestRepositoryGetByPathMissingIsNil(t *testing.T) {
	e := newMediaEnv(t)
	repo := NewSourceRepository(e.db)

	source, err := repo.GetByPath(e.lib.ID, "never/imported.mp3")
	require.NoError(t, err)
	assert.Nil(t, source)
}

func TestRepositoryListByPrefixExcludesSiblings(t *testing.T) {
	e := newMediaEnv(t)
	repo := NewSourceRepository(e.db)
	e.seedSourceRow(t, "a/01.mp3")
	e.seedSourceRow(t, "a/sub/02.mp3")
	e.seedSourceRow(t, "ab/03.mp3")

	rows, err := repo.ListByPrefix(e.lib.ID, "a", 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a/01.mp3", rows[0].Path)
	assert.Equal(t, "a/sub/02.mp3", rows[1].Path)

	page, err := repo.ListByPrefix(e.lib.ID, "", 2, 1)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestRepositoryCountByDirectory(t *testing.T) {
	e := newMediaEnv(t)
	repo := NewSourceRepository(e.db)
	e.seedSourceRow(t, "a/01.mp3")
	e.seedSourceRow(t, "a/02.mp3")
	e.seedSourceRow(t, "b/03.mp3")
	e.seedSourceRow(t, "04.mp3")

	counts, err := repo.CountByDirectory(e.lib.ID, CountOptions{})
	require.NoError(t, err)
	require.Len(t, counts, 3)
	assert.Equal(t, DirectoryCount{Path: "", SourceCount: 1}, counts[0])
	assert.Equal(t, DirectoryCount{Path: "a", SourceCount: 2}, counts[1])
	assert.Equal(t, DirectoryCount{Path: "b", SourceCount: 1}, counts[2])

	byCount, err := repo.CountByDirectory(e.lib.ID, CountOptions{OrderBy: "count", Descending: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, byCount, 1)
	assert.Equal(t, "a", byCount[0].Path)
}

func TestRepositoryDeleteWithTracks(t *testing.T) {
	e := newMediaEnv(t)
	repo := NewSourceRepository(e.db)
	keep := e.seedSourceRow(t, "a/01.mp3")
	drop := e.seedSourceRow(t, "a/02.mp3")
	for _, src := range []*database.MediaSource{keep, drop} {
		require.NoError(t, e.db.Create(&database.Track{
			ID:            uuid.NewString(),
			LibraryID:     e.lib.ID,
			MediaSourceID: src.ID,
			Title:         src.Path,
		}).Error)
	}

	n, err := repo.DeleteWithTracks([]string{drop.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var sources, tracks int64
	require.NoError(t, e.db.Model(&database.MediaSource{}).Count(&sources).Error)
	require.NoError(t, e.db.Model(&database.Track{}).Count(&tracks).Error)
	assert.EqualValues(t, 1, sources)
	assert.EqualValues(t, 1, tracks)

	n, err = repo.DeleteWithTracks(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
