package audio

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// Slicer extracts a window of an audio file into a standalone clip suitable
// for a second listening pass: mono, 16 kHz, 16-bit PCM WAV.
type Slicer interface {
	// Slice decodes inputPath and writes the [start, start+duration) window
	// to outputPath. Seeking must be sample-accurate so that clip boundaries
	// line up with first-pass word timestamps.
	Slice(ctx context.Context, inputPath, outputPath string, start, duration float64) error

	// Check verifies the slicer's external tooling is available.
	Check(ctx context.Context) error
}

// ClipPath returns the file name for a clip covering [start, end), placed in
// dir. The wall-clock suffix keeps names unique when the same window is cut
// twice, e.g. after a crash and requeue.
func ClipPath(dir string, start, end float64) string {
	name := fmt.Sprintf("clip_%.2f_%.2f_%d.wav", start, end, time.Now().UnixNano())
	return filepath.Join(dir, name)
}
