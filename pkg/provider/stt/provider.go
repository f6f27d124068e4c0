// Package stt defines the Provider interface for the first transcription pass.
//
// A provider wraps a batch speech recognizer (e.g., a Whisper-compatible
// server) that takes a complete recording and returns the full transcript
// with word-level timestamps and confidence. The correction pipeline consumes
// the per-word confidence to decide which regions deserve a second listen.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/rescribe/pkg/types"
)

// Provider is the abstraction over the first-pass recognizer.
type Provider interface {
	// TranscribeFile submits the audio file at path and returns the complete
	// transcription with its word-level timeline. A recognizer that cannot
	// produce word timestamps is unusable as a first pass; an empty timeline
	// for genuinely silent audio is not an error.
	//
	// Errors (network, non-2xx, malformed response) are returned without
	// retry; the caller decides job-level failure policy.
	TranscribeFile(ctx context.Context, path string) (*types.Transcription, error)
}
