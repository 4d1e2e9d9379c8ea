// Package contentpath maps library-relative content paths to absolute
// filesystem locations and back. Content paths are canonical relative
// paths: forward-slash separated, no leading slash, and no "." or ".."
// segments. The empty path denotes the library root itself.
//
// All operations are pure string manipulation; the package never
// touches the filesystem.
package contentpath

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/mantonx/cadenza/internal/errors"
)

var (
	// ErrNotUnderRoot is returned when an absolute location falls
	// outside the library root.
	ErrNotUnderRoot = errors.NewValidationError("path is not under the library root")

	// ErrExcluded is returned when a path is covered by the
	// resolver's exclusion set.
	ErrExcluded = errors.NewValidationError("path is excluded from the library")
)

// Resolver translates between content paths and absolute locations for
// a single library root
type Resolver struct {
	root       string
	exclusions []string
}

// NewResolver creates a resolver for the given absolute root. Exclusion
// entries are content paths; a path is excluded when it equals an entry
// or lies underneath one. A relative or empty root makes the whole
// library unusable, so it is rejected up front.
func NewResolver(root string, exclusions []string) (*Resolver, error) {
	cleaned := filepath.Clean(root)
	if root == "" || !filepath.IsAbs(cleaned) {
		return nil, errors.NewPreconditionError("library root must be an absolute path", nil).
			WithContext("root", root)
	}

	canonical := make([]string, 0, len(exclusions))
	for _, ex := range exclusions {
		c, err := Canonicalize(ex)
		if err != nil {
			return nil, errors.NewPreconditionError("invalid exclusion path", err).
				WithContext("exclusion", ex)
		}
		if c == "" {
			return nil, errors.NewPreconditionError("exclusion cannot cover the library root", nil)
		}
		canonical = append(canonical, c)
	}

	return &Resolver{
		root:       cleaned,
		exclusions: canonical,
	}, nil
}

// Root returns the absolute library root
func (r *Resolver) Root() string {
	return r.root
}

// Exclusions returns the canonical exclusion set
func (r *Resolver) Exclusions() []string {
	out := make([]string, len(r.exclusions))
	copy(out, r.exclusions)
	return out
}

// Resolve joins a content path onto the library root, producing an
// absolute location in the platform's separator convention
func (r *Resolver) Resolve(contentPath string) string {
	if contentPath == "" {
		return r.root
	}
	return filepath.Join(r.root, filepath.FromSlash(contentPath))
}

// Relativize converts an absolute location back into a content path.
// It fails with ErrNotUnderRoot for locations outside the root and
// with ErrExcluded for locations covered by the exclusion set.
func (r *Resolver) Relativize(absolute string) (string, error) {
	cleaned := filepath.Clean(absolute)
	if !filepath.IsAbs(cleaned) {
		return "", ErrNotUnderRoot
	}

	if cleaned == r.root {
		if r.IsExcluded("") {
			return "", ErrExcluded
		}
		return "", nil
	}

	prefix := r.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(cleaned, prefix) {
		return "", ErrNotUnderRoot
	}

	rel := filepath.ToSlash(cleaned[len(prefix):])
	if r.IsExcluded(rel) {
		return "", ErrExcluded
	}

	return rel, nil
}

// IsExcluded reports whether a content path equals an exclusion entry
// or lies underneath one
func (r *Resolver) IsExcluded(contentPath string) bool {
	for _, ex := range r.exclusions {
		if contentPath == ex || strings.HasPrefix(contentPath, ex+"/") {
			return true
		}
	}
	return false
}

// Canonicalize normalizes a relative path into content path form.
// Backslashes are treated as separators, redundant segments are
// collapsed, and paths escaping upward are rejected.
func Canonicalize(p string) (string, error) {
	normalized := strings.ReplaceAll(p, "\\", "/")
	normalized = strings.TrimPrefix(normalized, "./")
	if strings.HasPrefix(normalized, "/") {
		return "", errors.NewValidationError("content path must be relative").
			WithContext("path", p)
	}

	cleaned := path.Clean(normalized)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.NewValidationError("content path escapes the library root").
			WithContext("path", p)
	}

	return cleaned, nil
}

// Join combines content path segments into a single canonical path.
// Empty segments are ignored.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return path.Join(parts...)
}

// Parent returns the content path of the containing directory, and ""
// for top-level entries and the root itself
func Parent(contentPath string) string {
	if contentPath == "" {
		return ""
	}
	dir := path.Dir(contentPath)
	if dir == "." {
		return ""
	}
	return dir
}

// Base returns the final path segment
func Base(contentPath string) string {
	if contentPath == "" {
		return ""
	}
	return path.Base(contentPath)
}
