// Package metadata defines the canonical decoded form of an audio file's
// tags and the capability interface for producing it. Container formats are
// never parsed here; decoders register themselves at init time and callers
// pick one by file path through the registry.
package metadata

import (
	"io"
	"sync"
)

// TrackMetadata is the canonical track-metadata record produced by a
// decoder. Zero values mean "not present in the file's tags".
type TrackMetadata struct {
	Title       string   `json:"title"`
	Artist      string   `json:"artist"`
	Album       string   `json:"album"`
	AlbumArtist string   `json:"album_artist"`
	Composer    string   `json:"composer"`
	Genre       string   `json:"genre"`
	TrackNumber int      `json:"track_number"`
	TrackTotal  int      `json:"track_total"`
	DiscNumber  int      `json:"disc_number"`
	DiscTotal   int      `json:"disc_total"`
	Year        int      `json:"year"`
	DurationMs  int      `json:"duration_ms"`
	Lyrics      string   `json:"lyrics,omitempty"`
	Artwork     *Artwork `json:"artwork,omitempty"`
}

// Artwork is a picture embedded in an audio file's tags.
type Artwork struct {
	Data        []byte `json:"-"`
	MIMEType    string `json:"mime_type"`
	Ext         string `json:"ext"`
	Description string `json:"description,omitempty"`
}

// Decoder is the tag-decoding capability. Implementations parse one or more
// container formats and produce a TrackMetadata record from file bytes.
type Decoder interface {
	// Name identifies the decoder in logs and diagnostics.
	Name() string

	// Supports reports whether the decoder can handle the file at path,
	// judged by its extension alone. It must not touch the filesystem.
	Supports(path string) bool

	// Decode reads tags from r, which is positioned at the start of the
	// file. Implementations may seek freely.
	Decode(r io.ReadSeeker) (*TrackMetadata, error)
}

// Registry holds the set of registered decoders. The first registered
// decoder claiming a path wins, so more specific decoders should register
// before general ones.
type Registry struct {
	mu       sync.RWMutex
	decoders []Decoder
}

// NewRegistry creates an empty decoder registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends d to the capability set.
func (r *Registry) Register(d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders = append(r.decoders, d)
}

// DecoderFor returns the first registered decoder that supports path.
func (r *Registry) DecoderFor(path string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.decoders {
		if d.Supports(path) {
			return d, true
		}
	}
	return nil, false
}

// Supported reports whether any registered decoder supports path.
func (r *Registry) Supported(path string) bool {
	_, ok := r.DecoderFor(path)
	return ok
}

// Names lists the registered decoders in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.decoders))
	for _, d := range r.decoders {
		names = append(names, d.Name())
	}
	return names
}

// defaultRegistry is the process-wide capability set. Decoders built into
// the binary register themselves here from init().
var defaultRegistry = NewRegistry()

// Register adds d to the process-wide registry.
func Register(d Decoder) {
	defaultRegistry.Register(d)
}

// DecoderFor returns a decoder for path from the process-wide registry.
func DecoderFor(path string) (Decoder, bool) {
	return defaultRegistry.DecoderFor(path)
}

// Supported reports whether the process-wide registry can decode path.
func Supported(path string) bool {
	return defaultRegistry.Supported(path)
}

// Names lists the decoders in the process-wide registry.
func Names() []string {
	return defaultRegistry.Names()
}
