// Package mock provides an in-memory mock implementation of the
// [audio.Slicer] interface for use in unit tests.
//
// The mock is safe for concurrent use. It records every Slice call so that
// tests can assert on arguments, and on success it writes a small placeholder
// clip to the output path so that callers which read the clip back find real
// bytes.
//
// Typical usage:
//
//	s := &mock.Slicer{}
//	err := s.Slice(ctx, "in.wav", "out.wav", 0, 20)
//	if len(s.SliceCalls) != 1 { ... }
package mock

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/MrWong99/rescribe/pkg/audio"
)

// SliceCall records a single invocation of Slicer.Slice.
type SliceCall struct {
	// InputPath is the source file passed to Slice.
	InputPath string
	// OutputPath is the clip destination passed to Slice.
	OutputPath string
	// Start is the window start in seconds.
	Start float64
	// Duration is the window length in seconds.
	Duration float64
}

// Slicer is a mock implementation of [audio.Slicer].
// Set the exported Err fields before use; inspect SliceCalls after.
type Slicer struct {
	mu sync.Mutex

	// SliceErr, if non-nil, is returned as the error from Slice. No clip
	// file is written in that case.
	SliceErr error

	// CheckErr, if non-nil, is returned as the error from Check.
	CheckErr error

	// SliceCalls records every call to Slice.
	SliceCalls []SliceCall
}

// Slice records the call and, on success, writes a placeholder clip whose
// content names the window, so tests can tell clips apart.
func (s *Slicer) Slice(ctx context.Context, inputPath, outputPath string, start, duration float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SliceCalls = append(s.SliceCalls, SliceCall{
		InputPath:  inputPath,
		OutputPath: outputPath,
		Start:      start,
		Duration:   duration,
	})
	if s.SliceErr != nil {
		return s.SliceErr
	}
	content := fmt.Sprintf("FAKEWAV %s %.3f %.3f", inputPath, start, duration)
	return os.WriteFile(outputPath, []byte(content), 0o644)
}

// Check returns CheckErr.
func (s *Slicer) Check(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CheckErr
}

// CallCount returns the number of recorded Slice calls. Thread-safe.
func (s *Slicer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SliceCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (s *Slicer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SliceCalls = nil
}

// Ensure Slicer implements audio.Slicer at compile time.
var _ audio.Slicer = (*Slicer)(nil)
