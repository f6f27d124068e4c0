// Package types defines the shared types used across all Rescribe packages.
//
// These types form the lingua franca between providers, the correction
// pipeline, the store, and the HTTP API. They are intentionally minimal — each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import "time"

// Word is a single recognized word from the first transcription pass.
// Offsets are absolute seconds from the start of the recording.
type Word struct {
	// Text is the recognized word, including any punctuation the recognizer
	// attached to it.
	Text string

	// Start is the word onset in seconds.
	Start float64

	// End is the word offset in seconds.
	End float64

	// Probability is the recognizer's confidence in this word (0.0–1.0).
	Probability float64
}

// Duration returns the length of the word in seconds.
func (w Word) Duration() float64 { return w.End - w.Start }

// Transcription is the complete first-pass result for one recording.
type Transcription struct {
	// Text is the full transcript as returned by the recognizer.
	Text string

	// Language is the detected (or requested) language code, e.g. "en".
	Language string

	// Duration is the length of the recording in seconds.
	Duration float64

	// Words is the word-level timeline in recording order. The correction
	// pipeline depends on per-word confidence, so a recognizer that cannot
	// produce word timestamps is not usable as a first pass.
	Words []Word
}

// JobStatus enumerates the lifecycle states of a transcription job.
type JobStatus string

const (
	// StatusPending marks a job queued and waiting for the worker.
	StatusPending JobStatus = "PENDING"

	// StatusProcessing marks a job currently claimed by the worker.
	StatusProcessing JobStatus = "PROCESSING"

	// StatusCompleted marks a job whose final transcript has been written.
	StatusCompleted JobStatus = "COMPLETED"

	// StatusFailed marks a job that ended with an error.
	StatusFailed JobStatus = "FAILED"
)

// IsValid reports whether s is one of the known job states.
func (s JobStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the job has finished, successfully or not.
// Terminal jobs are never picked up again.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one transcription request moving through the pipeline.
type Job struct {
	// ID is the job's unique identifier (UUID).
	ID string

	// UserID identifies who submitted the job.
	UserID string

	// Status is the current lifecycle state.
	Status JobStatus

	// AudioPath is the filesystem path of the stored upload.
	AudioPath string

	// OriginalFilename is the client-supplied name of the upload.
	OriginalFilename string

	// Transcript is the final corrected transcript. Empty until the job
	// completes.
	Transcript string

	// ErrorMessage describes the failure when Status is FAILED.
	ErrorMessage string

	// WebhookURL overrides the configured notification target for this job.
	// Empty means use the service default.
	WebhookURL string

	// ProcessingStarted is when the worker claimed the job. Zero until then.
	ProcessingStarted time.Time

	// ProcessingEnded is when the job reached a terminal state. Zero until then.
	ProcessingEnded time.Time

	// CreatedAt is when the job was submitted. Claim order follows this.
	CreatedAt time.Time

	// UpdatedAt is when the job row last changed.
	UpdatedAt time.Time
}

// Segment is one persisted word of a job's first-pass timeline.
type Segment struct {
	ID         int64
	JobID      string
	Text       string
	Start      float64
	End        float64
	Confidence float64
}

// AsWord converts the stored segment back into its pipeline form.
func (s Segment) AsWord() Word {
	return Word{Text: s.Text, Start: s.Start, End: s.End, Probability: s.Confidence}
}

// Correction is the audit record of one second-pass window: what the
// multimodal model heard for a low-confidence region and whether its
// suggestion was applied to the final transcript.
type Correction struct {
	// ID is the record's database identifier.
	ID int64

	// SegmentID references the stored segment nearest the window center.
	SegmentID int64

	// OriginalText is what the first pass heard inside the window.
	OriginalText string

	// CorrectedText is the second-pass suggestion for the same audio.
	CorrectedText string

	// TriggerConfidence is the average confidence of the cluster that
	// triggered this window.
	TriggerConfidence float64

	// ClipPath is where the extracted window audio was written. The clip is
	// removed after evaluation, so the path is for the audit trail only.
	ClipPath string

	// ClipStart and ClipEnd bound the window in recording seconds.
	ClipStart float64
	ClipEnd   float64

	// EditDistance is the Levenshtein distance between the cleaned original
	// and cleaned corrected texts.
	EditDistance int

	// Applied reports whether the suggestion made it into the final transcript.
	Applied bool

	// RejectReason explains why the suggestion was discarded. Empty when
	// Applied is true.
	RejectReason string

	// CreatedAt is when the window was evaluated.
	CreatedAt time.Time
}
