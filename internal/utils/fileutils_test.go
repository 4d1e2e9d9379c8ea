package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAudioFile(t *testing.T) {
	assert.True(t, IsAudioFile("artist/01.mp3"))
	assert.True(t, IsAudioFile("rip.WAV"), "extension match is case-insensitive")
	assert.True(t, IsAudioFile("take.aiff"))

	assert.False(t, IsAudioFile("cover.jpg"))
	assert.False(t, IsAudioFile("notes.txt"))
	assert.False(t, IsAudioFile("noext"))
}

func TestIsSkippedFile(t *testing.T) {
	assert.True(t, IsSkippedFile("album.nfo"))
	assert.True(t, IsSkippedFile("playlist.m3u"))
	assert.True(t, IsSkippedFile("cover.PNG"))
	assert.True(t, IsSkippedFile("01.mp3.part"), "partial download, not the mp3 itself")

	assert.False(t, IsSkippedFile("01.mp3"))
	assert.False(t, IsSkippedFile("noext"))
}

func TestIsIgnoredName(t *testing.T) {
	patterns := []string{".*", "Thumbs.db", ""}

	assert.True(t, IsIgnoredName(".DS_Store", patterns))
	assert.True(t, IsIgnoredName(".cache", patterns))
	assert.True(t, IsIgnoredName("Thumbs.db", patterns))
	assert.False(t, IsIgnoredName("album", patterns))

	// Malformed patterns never match
	assert.False(t, IsIgnoredName("anything", []string{"[unclosed"}))
}

func TestGetContentType(t *testing.T) {
	assert.Equal(t, "audio/mpeg", GetContentType("artist/01.mp3"))
	assert.Equal(t, "audio/flac", GetContentType("01.FLAC"))
	assert.Equal(t, "application/octet-stream", GetContentType("mystery.bin"))
}

func TestMatchesMimeFilter(t *testing.T) {
	assert.True(t, MatchesMimeFilter("audio/flac", nil), "empty list allows everything")
	assert.True(t, MatchesMimeFilter("audio/flac", []string{"audio/*"}))
	assert.True(t, MatchesMimeFilter("audio/flac", []string{"audio/flac"}))
	assert.False(t, MatchesMimeFilter("image/png", []string{"audio/*"}))
	assert.False(t, MatchesMimeFilter("audio/flac", []string{"audio/mpeg"}))
}

func TestCopyFilePreservesContentAndModTime(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp3")
	dst := filepath.Join(dir, "nested", "dst.mp3")

	require.NoError(t, os.WriteFile(src, []byte("audio bytes"), 0644))
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(src, past, past))

	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("audio bytes"), data)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(past), "mtime carries over for stat matching")

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCopyFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := CopyFile(filepath.Join(dir, "nope.mp3"), filepath.Join(dir, "dst.mp3"))
	assert.Error(t, err)
}
