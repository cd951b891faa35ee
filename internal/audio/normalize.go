package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// Normalizer prepares a recording for upload.
type Normalizer interface {
	// Normalize returns the bytes to upload and the filename to send them as.
	Normalize(ctx context.Context, data []byte, filename string) ([]byte, string, error)
}

// Passthrough uploads recordings unchanged.
type Passthrough struct{}

func (Passthrough) Normalize(_ context.Context, data []byte, filename string) ([]byte, string, error) {
	return data, filename, nil
}

// FFmpegNormalizer converts Opus, Ogg, WebM and M4A recordings to mono
// 48 kHz WAV, which the transcription models accept. WAV, MP3 and FLAC
// pass through.
type FFmpegNormalizer struct {
	Path   string
	Logger *slog.Logger
}

// NewFFmpegNormalizer returns a normalizer using the given binary, or
// "ffmpeg" from PATH.
func NewFFmpegNormalizer(path string, logger *slog.Logger) *FFmpegNormalizer {
	if path == "" {
		path = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegNormalizer{Path: path, Logger: logger}
}

// Available checks that the binary can be found.
func (n *FFmpegNormalizer) Available() error {
	if _, err := exec.LookPath(n.Path); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}

func (n *FFmpegNormalizer) Normalize(ctx context.Context, data []byte, filename string) ([]byte, string, error) {
	codec := Sniff(data)
	if !NeedsConversion(codec) {
		return data, filename, nil
	}

	// -i pipe:0: read input from stdin
	// -ac 1 -ar 48000: mono, 48 kHz
	// -f wav pipe:1: write wav to stdout
	cmd := exec.CommandContext(ctx, n.Path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", "48000",
		"-f", "wav",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, stderr.String())
	}

	out := replaceExt(filename, "wav")
	n.Logger.Debug("converted recording", "file", filename, "codec", codec, "in_bytes", len(data), "out_bytes", stdout.Len())
	return stdout.Bytes(), out, nil
}

// NeedsConversion reports whether a codec must be converted before upload.
func NeedsConversion(c Codec) bool {
	switch c {
	case CodecOpus, CodecOgg, CodecWebM, CodecM4A:
		return true
	}
	return false
}

func replaceExt(name, ext string) string {
	for i := len(name) - 1; i >= 0 && name[i] != '/'; i-- {
		if name[i] == '.' {
			return name[:i] + "." + ext
		}
	}
	return name + "." + ext
}
