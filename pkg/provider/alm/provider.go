// Package alm defines the provider-agnostic interface for audio language
// models: multimodal chat models that accept raw audio alongside text.
//
// The pipeline uses an audio language model as its second pass. Short clips
// around low-confidence regions of the first-pass transcript are re-heard by
// the model, and its answer competes with the original words during
// reconciliation. Implementations live in subpackages (openaicompat for
// OpenAI-compatible chat completion servers); mock provides a scriptable test
// double.
package alm

import "context"

// Unintelligible is the sentinel an audio language model is instructed to
// return when it cannot make out any speech in a clip. Reconciliation
// discards candidates that reduce to this marker.
const Unintelligible = "[unintelligible]"

// Provider transcribes short audio clips with an audio language model.
//
// Implementations must return the model's transcription with conversational
// preambles stripped and surrounding whitespace trimmed, leaving
// capitalization and internal punctuation untouched. Errors are returned as
// is; callers decide whether a failed clip aborts or merely skips a
// correction.
type Provider interface {
	// TranscribeClip submits a WAV clip and returns the model's transcription
	// of it.
	TranscribeClip(ctx context.Context, wav []byte) (string, error)
}
