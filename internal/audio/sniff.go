// Package audio identifies recording formats and normalizes them for the
// transcription service.
package audio

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Codec is a detected container/codec.
type Codec string

const (
	CodecUnknown Codec = ""
	CodecWAV     Codec = "wav"
	CodecMP3     Codec = "mp3"
	CodecOpus    Codec = "opus" // Ogg or WebM/Matroska carrying Opus
	CodecOgg     Codec = "ogg"
	CodecWebM    Codec = "webm"
	CodecFLAC    Codec = "flac"
	CodecM4A     Codec = "m4a"
)

// opusScanWindow bounds the search for an OpusHead or codec ID.
const opusScanWindow = 4096

var (
	magicEBML   = []byte{0x1A, 0x45, 0xDF, 0xA3}
	magicOgg    = []byte("OggS")
	magicRIFF   = []byte("RIFF")
	magicWAVE   = []byte("WAVE")
	magicID3    = []byte("ID3")
	magicFLAC   = []byte("fLaC")
	magicFtyp   = []byte("ftyp")
	opusHead    = []byte("OpusHead")
	webmOpusTag = []byte("A_OPUS")
)

// Sniff detects the codec from leading bytes.
func Sniff(data []byte) Codec {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], magicRIFF) && bytes.Equal(data[8:12], magicWAVE):
		return CodecWAV
	case bytes.HasPrefix(data, magicOgg):
		if bytes.Contains(head(data), opusHead) {
			return CodecOpus
		}
		return CodecOgg
	case bytes.HasPrefix(data, magicEBML):
		if bytes.Contains(head(data), webmOpusTag) {
			return CodecOpus
		}
		return CodecWebM
	case bytes.HasPrefix(data, magicFLAC):
		return CodecFLAC
	case bytes.HasPrefix(data, magicID3):
		return CodecMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return CodecMP3
	case len(data) >= 8 && bytes.Equal(data[4:8], magicFtyp):
		return CodecM4A
	}
	return CodecUnknown
}

// IsOpus reports whether the data is Opus in an Ogg or WebM container.
func IsOpus(data []byte) bool {
	return Sniff(data) == CodecOpus
}

func head(data []byte) []byte {
	if len(data) > opusScanWindow {
		return data[:opusScanWindow]
	}
	return data
}

// Extension returns the file extension, without dot, that fits the codec.
// Unknown data falls back to the extension of name.
func Extension(c Codec, name string) string {
	switch c {
	case CodecOpus:
		return "ogg"
	case CodecUnknown:
		return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	}
	return string(c)
}

var knownExtensions = map[string]bool{
	"wav": true, "mp3": true, "ogg": true, "opus": true,
	"webm": true, "flac": true, "m4a": true, "mp4": true,
}

// IsAudioFile reports whether the filename has an audio extension.
func IsAudioFile(name string) bool {
	return knownExtensions[strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))]
}
