package metadata

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDecoder struct {
	name string
	ext  string
}

func (s *stubDecoder) Name() string { return s.name }

func (s *stubDecoder) Supports(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), s.ext)
}

func (s *stubDecoder) Decode(r io.ReadSeeker) (*TrackMetadata, error) {
	return &TrackMetadata{Title: s.name}, nil
}

func TestRegistryFirstMatchWins(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubDecoder{name: "first", ext: ".mod"})
	reg.Register(&stubDecoder{name: "second", ext: ".mod"})

	d, ok := reg.DecoderFor("/music/song.mod")
	require.True(t, ok)
	assert.Equal(t, "first", d.Name())
	assert.Equal(t, []string{"first", "second"}, reg.Names())
}

func TestRegistryUnsupportedPath(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubDecoder{name: "mod", ext: ".mod"})

	_, ok := reg.DecoderFor("/music/readme.txt")
	assert.False(t, ok)
	assert.False(t, reg.Supported("/music/readme.txt"))
	assert.True(t, reg.Supported("/music/song.MOD"))
}

func TestDefaultRegistryHasTagDecoder(t *testing.T) {
	d, ok := DecoderFor("/music/album/track.mp3")
	require.True(t, ok)
	assert.Equal(t, "dhowden-tag", d.Name())
	assert.Contains(t, Names(), "dhowden-tag")
}

func TestTagDecoderSupports(t *testing.T) {
	d := NewTagDecoder()

	assert.True(t, d.Supports("a.mp3"))
	assert.True(t, d.Supports("b.FLAC"))
	assert.True(t, d.Supports("/music/c.m4a"))
	assert.True(t, d.Supports("d.ogg"))
	assert.False(t, d.Supports("e.wav"))
	assert.False(t, d.Supports("f.txt"))
	assert.False(t, d.Supports("noext"))
}

// id3v23Frame builds a single ID3v2.3 text frame with ISO-8859-1 encoding.
func id3v23Frame(id, text string) []byte {
	body := append([]byte{0x00}, []byte(text)...)
	frame := make([]byte, 0, 10+len(body))
	frame = append(frame, id...)
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(body)))
	frame = append(frame, size[:]...)
	frame = append(frame, 0x00, 0x00)
	return append(frame, body...)
}

// id3v23File wraps frames in an ID3v2.3 header with a synchsafe size.
func id3v23File(frames ...[]byte) []byte {
	var body []byte
	for _, f := range frames {
		body = append(body, f...)
	}
	n := len(body)
	header := []byte{
		'I', 'D', '3', 0x03, 0x00, 0x00,
		byte(n >> 21 & 0x7f), byte(n >> 14 & 0x7f), byte(n >> 7 & 0x7f), byte(n & 0x7f),
	}
	return append(header, body...)
}

func TestTagDecoderDecodeID3v2(t *testing.T) {
	data := id3v23File(
		id3v23Frame("TIT2", "Night Drive"),
		id3v23Frame("TPE1", "The Field"),
		id3v23Frame("TALB", "Looping State"),
		id3v23Frame("TRCK", "3/9"),
		id3v23Frame("TYER", "2014"),
	)

	meta, err := NewTagDecoder().Decode(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, "Night Drive", meta.Title)
	assert.Equal(t, "The Field", meta.Artist)
	assert.Equal(t, "Looping State", meta.Album)
	assert.Equal(t, 3, meta.TrackNumber)
	assert.Equal(t, 9, meta.TrackTotal)
	assert.Equal(t, 2014, meta.Year)
	assert.Empty(t, meta.AlbumArtist)
	assert.Nil(t, meta.Artwork)
}

func TestTagDecoderDecodeGarbage(t *testing.T) {
	_, err := NewTagDecoder().Decode(bytes.NewReader([]byte("definitely not an audio file")))
	assert.Error(t, err)
}
