package metadata

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

// tagFileExtensions lists the container formats github.com/dhowden/tag can
// parse. WAV and AIFF are audio but carry no tag chunk the library reads,
// so they are deliberately absent.
var tagFileExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".oga":  true,
	".opus": true,
	".m4a":  true,
	".m4b":  true,
	".m4p":  true,
	".mp4":  true,
	".dsf":  true,
}

// TagDecoder decodes ID3v1/ID3v2, MP4 atom, FLAC and OGG comment metadata
// via github.com/dhowden/tag.
type TagDecoder struct{}

// NewTagDecoder creates the dhowden/tag backed decoder.
func NewTagDecoder() *TagDecoder {
	return &TagDecoder{}
}

func (d *TagDecoder) Name() string {
	return "dhowden-tag"
}

func (d *TagDecoder) Supports(path string) bool {
	return tagFileExtensions[strings.ToLower(filepath.Ext(path))]
}

func (d *TagDecoder) Decode(r io.ReadSeeker) (*TrackMetadata, error) {
	m, err := tag.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}

	meta := &TrackMetadata{
		Title:       strings.TrimSpace(m.Title()),
		Artist:      strings.TrimSpace(m.Artist()),
		Album:       strings.TrimSpace(m.Album()),
		AlbumArtist: strings.TrimSpace(m.AlbumArtist()),
		Composer:    strings.TrimSpace(m.Composer()),
		Genre:       strings.TrimSpace(m.Genre()),
		Year:        m.Year(),
		Lyrics:      m.Lyrics(),
	}
	meta.TrackNumber, meta.TrackTotal = m.Track()
	meta.DiscNumber, meta.DiscTotal = m.Disc()

	if pic := m.Picture(); pic != nil && len(pic.Data) > 0 {
		meta.Artwork = &Artwork{
			Data:        pic.Data,
			MIMEType:    pic.MIMEType,
			Ext:         pic.Ext,
			Description: pic.Description,
		}
	}

	return meta, nil
}

func init() {
	Register(NewTagDecoder())
}
