// Package digest computes the content digests used to decide whether a
// directory needs rescanning. File digests hash the file's bytes;
// directory digests hash the ordered (name, kind, digest) tuples of the
// directory's immediate children, so any change below a directory
// propagates up through every ancestor digest.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
)

// Size is the digest length in bytes
const Size = sha256.Size

// HexLength is the length of a hex-encoded digest
const HexLength = Size * 2

// Digest is a fixed-size content digest
type Digest [Size]byte

// Hex returns the lowercase hex encoding of the digest
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements fmt.Stringer
func (d Digest) String() string {
	return d.Hex()
}

// Short returns a truncated hex form suitable for log lines
func (d Digest) Short() string {
	return d.Hex()[:12]
}

// IsZero reports whether the digest is the zero value
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Parse decodes a hex-encoded digest
func Parse(s string) (Digest, error) {
	var d Digest
	if len(s) != HexLength {
		return d, fmt.Errorf("invalid digest length %d, expected %d", len(s), HexLength)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("invalid digest encoding: %w", err)
	}
	copy(d[:], raw)
	return d, nil
}

// FromReader hashes everything readable from r
func FromReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// File hashes the content of the file at path. The file is streamed, so
// large audio files do not load into memory.
func File(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	return FromReader(f)
}

// Bytes hashes a byte slice
func Bytes(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// EntryKind distinguishes files from subdirectories in a directory
// digest
type EntryKind byte

const (
	KindFile EntryKind = 'f'
	KindDir  EntryKind = 'd'
)

// Entry is one immediate child of a directory as seen by the digest
type Entry struct {
	Name   string
	Kind   EntryKind
	Digest Digest
}

// Directory computes a directory's digest from its immediate children.
// Entries are hashed in lexicographic name order, with each name
// length-prefixed so adjacent tuples cannot run together. The digest of
// an empty directory is therefore stable and distinct from a file's.
func Directory(entries []Entry) Digest {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	h := sha256.New()
	var lenBuf [binary.MaxVarintLen64]byte
	for _, e := range sorted {
		n := binary.PutUvarint(lenBuf[:], uint64(len(e.Name)))
		h.Write(lenBuf[:n])
		h.Write([]byte(e.Name))
		h.Write([]byte{byte(e.Kind)})
		h.Write(e.Digest[:])
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}
