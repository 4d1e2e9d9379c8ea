package mediamodule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/digest"
)

// seedSourceFile writes a file into the library and registers its media
// source row, as a finished import would have left it
func (e *mediaEnv) seedSourceFile(t *testing.T, rel string, data []byte) *database.MediaSource {
	t.Helper()
	e.writeFile(t, rel, data)

	info, err := os.Stat(filepath.Join(e.root, filepath.FromSlash(rel)))
	require.NoError(t, err)

	source := &database.MediaSource{
		ID:             uuid.NewString(),
		LibraryID:      e.lib.ID,
		Path:           rel,
		Directory:      filepath.ToSlash(filepath.Dir(rel)),
		Hash:           digest.Bytes(data).Hex(),
		MimeType:       "audio/mpeg",
		SizeBytes:      info.Size(),
		LastModifiedAt: info.ModTime(),
		LastSeenAt:     time.Now(),
	}
	if source.Directory == "." {
		source.Directory = ""
	}
	require.NoError(t, e.db.Create(source).Error)
	return source
}

func TestExportFilesMirrorsTheLibrary(t *testing.T) {
	e := newMediaEnv(t)
	e.seedSourceFile(t, "artist/01.mp3", taggedMP3("One", "A"))
	e.seedSourceFile(t, "artist/02.mp3", taggedMP3("Two", "A"))
	target := t.TempDir()

	exporter := NewExporter(e.db, e.txMgr, nil)
	summary, err := exporter.ExportFiles(context.Background(), e.lib.ID, ExportOptions{TargetRoot: target})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Copied)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, CompletionFinished, summary.Completion)

	copied, err := os.ReadFile(filepath.Join(target, "artist", "01.mp3"))
	require.NoError(t, err)
	assert.Equal(t, taggedMP3("One", "A"), copied)

	// The copy preserves mtime, so a second run matches by stat
	summary, err = exporter.ExportFiles(context.Background(), e.lib.ID, ExportOptions{TargetRoot: target})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Copied)
	assert.Equal(t, 2, summary.UpToDate)
}

func TestExportFilesDigestModeDetectsEditedTargets(t *testing.T) {
	e := newMediaEnv(t)
	src := e.seedSourceFile(t, "artist/01.mp3", taggedMP3("One", "A"))
	target := t.TempDir()
	exporter := NewExporter(e.db, e.txMgr, nil)
	ctx := context.Background()

	_, err := exporter.ExportFiles(ctx, e.lib.ID, ExportOptions{TargetRoot: target})
	require.NoError(t, err)

	// Corrupt the target copy in place, keeping size and mtime
	dst := filepath.Join(target, "artist", "01.mp3")
	edited := make([]byte, src.SizeBytes)
	require.NoError(t, os.WriteFile(dst, edited, 0644))
	require.NoError(t, os.Chtimes(dst, src.LastModifiedAt, src.LastModifiedAt))

	summary, err := exporter.ExportFiles(ctx, e.lib.ID, ExportOptions{
		TargetRoot: target,
		MatchMode:  MatchModeStat,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.UpToDate, "stat mode cannot see the edit")

	summary, err = exporter.ExportFiles(ctx, e.lib.ID, ExportOptions{
		TargetRoot: target,
		MatchMode:  MatchModeDigest,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Copied, "digest mode repairs it")

	restored, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, taggedMP3("One", "A"), restored)
}

func TestExportFilesPurgeRemovesUnaccountedFiles(t *testing.T) {
	e := newMediaEnv(t)
	e.seedSourceFile(t, "artist/01.mp3", taggedMP3("One", "A"))
	target := t.TempDir()
	exporter := NewExporter(e.db, e.txMgr, nil)
	ctx := context.Background()

	_, err := exporter.ExportFiles(ctx, e.lib.ID, ExportOptions{TargetRoot: target})
	require.NoError(t, err)

	stray := filepath.Join(target, "artist", "leftover.mp3")
	require.NoError(t, os.WriteFile(stray, []byte("stray"), 0644))

	summary, err := exporter.ExportFiles(ctx, e.lib.ID, ExportOptions{
		TargetRoot:      target,
		PurgeOtherFiles: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Removed)

	_, err = os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(target, "artist", "01.mp3"))
	assert.NoError(t, err, "accounted files survive the purge")
}

func TestExportFilesPathPrefix(t *testing.T) {
	e := newMediaEnv(t)
	e.seedSourceFile(t, "a/01.mp3", taggedMP3("One", "A"))
	e.seedSourceFile(t, "b/02.mp3", taggedMP3("Two", "B"))
	target := t.TempDir()

	summary, err := NewExporter(e.db, e.txMgr, nil).ExportFiles(context.Background(), e.lib.ID, ExportOptions{
		TargetRoot: target,
		PathPrefix: "a",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Copied)
	_, err = os.Stat(filepath.Join(target, "b", "02.mp3"))
	assert.True(t, os.IsNotExist(err))
}

func TestExportFilesRejectsOverlappingRoots(t *testing.T) {
	e := newMediaEnv(t)
	exporter := NewExporter(e.db, e.txMgr, nil)
	ctx := context.Background()

	_, err := exporter.ExportFiles(ctx, e.lib.ID, ExportOptions{TargetRoot: e.root})
	assert.Error(t, err, "target equals the library root")

	_, err = exporter.ExportFiles(ctx, e.lib.ID, ExportOptions{
		TargetRoot: filepath.Join(e.root, "mirror"),
	})
	assert.Error(t, err, "target inside the library root")

	_, err = exporter.ExportFiles(ctx, e.lib.ID, ExportOptions{TargetRoot: "relative/dir"})
	assert.Error(t, err, "relative target")
}
