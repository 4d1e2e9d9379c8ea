// Package utils provides filesystem helpers shared by the sync engine:
// audio file detection, content type lookup, ignore-pattern matching and
// atomic file copies.
package utils

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// AudioExtensions contains the file extensions the importer considers
// audio content. Detection is extension-based; the decoder registry has
// the final say on whether a file's tags can actually be read.
var AudioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".oga":  true,
	".opus": true,
	".m4a":  true,
	".m4b":  true,
	".m4p":  true,
	".mp4":  true,
	".aac":  true,
	".wav":  true,
	".aiff": true,
	".wma":  true,
	".alac": true,
	".ape":  true,
	".dsf":  true,
}

// SkippedExtensions contains extensions that should never be treated as
// library content: sidecar metadata, playlists, artwork and partial
// downloads commonly found inside music directories.
var SkippedExtensions = map[string]bool{
	// Sidecar metadata
	".nfo":  true,
	".cue":  true,
	".m3u":  true,
	".m3u8": true,
	".pls":  true,
	".xml":  true,
	".json": true,
	".txt":  true,
	".log":  true,
	".lrc":  true, // Synced lyrics files

	// Artwork (handled by the asset pipeline, not the importer)
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,

	// Partial or temporary files
	".part":       true,
	".tmp":        true,
	".temp":       true,
	".crdownload": true,
	".download":   true,
	".bak":        true,
	".old":        true,
}

// IsAudioFile checks if a file has a supported audio extension
func IsAudioFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	return AudioExtensions[ext]
}

// IsSkippedFile returns true if a file should be skipped during scanning
// based on its extension
func IsSkippedFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	return SkippedExtensions[ext]
}

// IsIgnoredName reports whether a file or directory name matches one of
// the configured ignore patterns. Patterns use path.Match syntax, so
// ".*" covers dotfiles and "Thumbs.db" matches literally. Malformed
// patterns never match.
func IsIgnoredName(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// GetContentType returns the MIME content type for a file path. The
// platform MIME table is consulted first, with fallbacks for the audio
// formats it commonly misses.
func GetContentType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))

	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}

	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".opus":
		return "audio/opus"
	case ".m4a", ".m4b", ".m4p":
		return "audio/mp4"
	case ".aac":
		return "audio/aac"
	case ".wav":
		return "audio/wav"
	case ".aiff":
		return "audio/aiff"
	case ".wma":
		return "audio/x-ms-wma"
	case ".ape":
		return "audio/x-ape"
	case ".dsf":
		return "audio/x-dsf"
	default:
		return "application/octet-stream"
	}
}

// MatchesMimeFilter reports whether a content type passes the configured
// allow list. Entries are either exact types ("audio/flac") or prefix
// wildcards ("audio/*"). An empty list allows everything.
func MatchesMimeFilter(contentType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, entry := range allowed {
		if entry == contentType {
			return true
		}
		if strings.HasSuffix(entry, "/*") &&
			strings.HasPrefix(contentType, strings.TrimSuffix(entry, "*")) {
			return true
		}
	}
	return false
}

// EnsureDir creates a directory and any missing parents
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// CopyFile copies src to dst atomically: content is written to a
// temporary file in dst's directory and renamed into place, so readers
// never observe a half-written file. The destination keeps src's
// modification time.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".cadenza-copy-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to copy content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	return CopyTimes(dst, info.ModTime())
}

// CopyTimes sets a file's access and modification times
func CopyTimes(path string, modTime time.Time) error {
	return os.Chtimes(path, modTime, modTime)
}
