// Package ffmpeg provides an audio.Slicer backed by the ffmpeg binary.
//
// Clips are decoded to mono 16 kHz 16-bit PCM, the input format both
// transcription passes expect. Seeking happens after decode (-ss placed after
// -i): fast input seeking would snap to container keyframes and shift the
// window against the first-pass word timestamps.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MrWong99/rescribe/pkg/audio"
)

// DefaultBinary is the executable resolved via PATH when no explicit path is
// configured.
const DefaultBinary = "ffmpeg"

// Slicer shells out to ffmpeg for clip extraction.
type Slicer struct {
	binary string
}

// Option is a functional option for Slicer.
type Option func(*Slicer)

// WithBinary overrides the ffmpeg executable. Empty values are ignored so the
// option can be fed straight from optional configuration.
func WithBinary(path string) Option {
	return func(s *Slicer) {
		if path != "" {
			s.binary = path
		}
	}
}

// New creates a Slicer. The binary is not resolved until first use; call
// Check to verify it is available.
func New(opts ...Option) *Slicer {
	s := &Slicer{binary: DefaultBinary}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Slice implements audio.Slicer. A negative start is clamped to zero; a
// window end past the file end is clamped by ffmpeg itself, which simply
// emits a shorter clip.
func (s *Slicer) Slice(ctx context.Context, inputPath, outputPath string, start, duration float64) error {
	if duration <= 0 {
		return fmt.Errorf("ffmpeg: duration must be positive, got %v", duration)
	}
	if start < 0 {
		start = 0
	}

	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-ss", seconds(start),
		"-t", seconds(duration),
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, s.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// Check implements audio.Slicer. It verifies the configured binary can be
// resolved without running it.
func (s *Slicer) Check(ctx context.Context) error {
	if _, err := exec.LookPath(s.binary); err != nil {
		return fmt.Errorf("ffmpeg: binary %q not found: %w", s.binary, err)
	}
	return nil
}

// seconds renders a position argument with millisecond precision.
func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// Ensure Slicer implements audio.Slicer at compile time.
var _ audio.Slicer = (*Slicer)(nil)
