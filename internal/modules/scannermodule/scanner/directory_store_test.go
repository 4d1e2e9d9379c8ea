package scanner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/cadenza/internal/database"
)

func seedDir(t *testing.T, e *testEnv, path string, status database.DirectoryStatus) *database.TrackedDirectory {
	t.Helper()
	dir := &database.TrackedDirectory{
		LibraryID: e.lib.ID,
		Path:      path,
		Status:    status,
		Digest:    strings.Repeat("0", 64),
	}
	require.NoError(t, NewDirectoryStore(e.db).Create(dir))
	return dir
}

func TestDirectoryStoreGetMissingIsNil(t *testing.T) {
	e := newTestEnv(t)

	dir, err := NewDirectoryStore(e.db).Get(e.lib.ID, "never/seen")
	require.NoError(t, err)
	assert.Nil(t, dir)
}

func TestDirectoryStoreListUnderPrefix(t *testing.T) {
	e := newTestEnv(t)
	store := NewDirectoryStore(e.db)
	seedDir(t, e, "", database.DirectoryStatusCurrent)
	seedDir(t, e, "a", database.DirectoryStatusCurrent)
	seedDir(t, e, "a/b", database.DirectoryStatusAdded)
	seedDir(t, e, "ab", database.DirectoryStatusCurrent)

	dirs, err := store.ListUnder(e.lib.ID, "a")
	require.NoError(t, err)
	require.Len(t, dirs, 2, "\"ab\" is a sibling, not a child")
	assert.Equal(t, "a", dirs[0].Path)
	assert.Equal(t, "a/b", dirs[1].Path)

	all, err := store.ListUnder(e.lib.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestDirectoryStoreListByStatus(t *testing.T) {
	e := newTestEnv(t)
	store := NewDirectoryStore(e.db)
	seedDir(t, e, "a", database.DirectoryStatusAdded)
	seedDir(t, e, "b", database.DirectoryStatusModified)
	seedDir(t, e, "c", database.DirectoryStatusCurrent)

	dirs, err := store.ListByStatus(e.lib.ID, "", []database.DirectoryStatus{
		database.DirectoryStatusAdded,
		database.DirectoryStatusModified,
	})
	require.NoError(t, err)
	require.Len(t, dirs, 2)
	assert.Equal(t, "a", dirs[0].Path)
	assert.Equal(t, "b", dirs[1].Path)
}

func TestDirectoryStoreSetDigestAndStatus(t *testing.T) {
	e := newTestEnv(t)
	store := NewDirectoryStore(e.db)
	dir := seedDir(t, e, "a", database.DirectoryStatusAdded)

	newDigest := strings.Repeat("f", 64)
	require.NoError(t, store.SetDigestAndStatus(dir.ID, newDigest, database.DirectoryStatusModified))

	got := e.dirRow(t, "a")
	require.NotNil(t, got)
	assert.Equal(t, newDigest, got.Digest)
	assert.Equal(t, database.DirectoryStatusModified, got.Status)
	assert.NotNil(t, got.LastScannedAt)
}

func TestDirectoryStoreMarkOrphanedSkipsAlreadyOrphaned(t *testing.T) {
	e := newTestEnv(t)
	store := NewDirectoryStore(e.db)
	a := seedDir(t, e, "a", database.DirectoryStatusCurrent)
	b := seedDir(t, e, "b", database.DirectoryStatusOrphaned)

	n, err := store.MarkOrphaned(e.lib.ID, []uint32{a.ID, b.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, database.DirectoryStatusOrphaned, e.dirStatus(t, "a"))

	n, err = store.MarkOrphaned(e.lib.ID, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestDirectoryStoreMarkOutdatedExcludesOrphans(t *testing.T) {
	e := newTestEnv(t)
	store := NewDirectoryStore(e.db)
	seedDir(t, e, "a", database.DirectoryStatusCurrent)
	seedDir(t, e, "a/b", database.DirectoryStatusModified)
	seedDir(t, e, "a/c", database.DirectoryStatusOrphaned)
	seedDir(t, e, "d", database.DirectoryStatusCurrent)

	n, err := store.MarkOutdated(e.lib.ID, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, database.DirectoryStatusOutdated, e.dirStatus(t, "a"))
	assert.Equal(t, database.DirectoryStatusOutdated, e.dirStatus(t, "a/b"))
	assert.Equal(t, database.DirectoryStatusOrphaned, e.dirStatus(t, "a/c"))
	assert.Equal(t, database.DirectoryStatusCurrent, e.dirStatus(t, "d"))
}

func TestDirectoryStoreUntrackReturnsRemovedPaths(t *testing.T) {
	e := newTestEnv(t)
	store := NewDirectoryStore(e.db)
	seedDir(t, e, "a", database.DirectoryStatusOrphaned)
	seedDir(t, e, "a/b", database.DirectoryStatusOrphaned)
	seedDir(t, e, "a/keep", database.DirectoryStatusCurrent)
	seedDir(t, e, "d", database.DirectoryStatusOrphaned)

	paths, err := store.Untrack(e.lib.ID, "a", []database.DirectoryStatus{database.DirectoryStatusOrphaned})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "a/b"}, paths)

	assert.Nil(t, e.dirRow(t, "a"))
	assert.NotNil(t, e.dirRow(t, "a/keep"))
	assert.NotNil(t, e.dirRow(t, "d"), "outside the prefix")
}

func TestDirectoryStoreUntrackNothingMatches(t *testing.T) {
	e := newTestEnv(t)
	store := NewDirectoryStore(e.db)
	seedDir(t, e, "a", database.DirectoryStatusCurrent)

	paths, err := store.Untrack(e.lib.ID, "a", []database.DirectoryStatus{database.DirectoryStatusOrphaned})
	require.NoError(t, err)
	assert.Empty(t, paths)
	assert.NotNil(t, e.dirRow(t, "a"))
}

func TestDirectoryStoreStatusCountsEnumerateEveryStatus(t *testing.T) {
	e := newTestEnv(t)
	store := NewDirectoryStore(e.db)
	seedDir(t, e, "a", database.DirectoryStatusCurrent)
	seedDir(t, e, "b", database.DirectoryStatusCurrent)
	seedDir(t, e, "c", database.DirectoryStatusAdded)

	counts, err := store.StatusCounts(e.lib.ID, "")
	require.NoError(t, err)
	require.Len(t, counts, 5, "every status is present, matched or not")
	assert.EqualValues(t, 2, counts[database.DirectoryStatusCurrent])
	assert.EqualValues(t, 1, counts[database.DirectoryStatusAdded])
	assert.EqualValues(t, 0, counts[database.DirectoryStatusOrphaned])
	assert.EqualValues(t, 0, counts[database.DirectoryStatusModified])
	assert.EqualValues(t, 0, counts[database.DirectoryStatusOutdated])
}
