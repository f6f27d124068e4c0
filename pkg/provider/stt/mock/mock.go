// Package mock provides a test double for the stt package interface.
//
// Use Provider to script the transcription returned for an audio file and to
// inspect which files the caller submitted.
//
// Example:
//
//	p := &mock.Provider{
//	    Transcription: &types.Transcription{
//	        Text:  "hello world",
//	        Words: []types.Word{{Text: "hello", Start: 0, End: 0.5, Probability: 0.9}},
//	    },
//	}
//	tr, _ := p.TranscribeFile(ctx, "/tmp/upload.wav")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rescribe/pkg/provider/stt"
	"github.com/MrWong99/rescribe/pkg/types"
)

// TranscribeFileCall records a single invocation of Provider.TranscribeFile.
type TranscribeFileCall struct {
	// Ctx is the context passed to TranscribeFile.
	Ctx context.Context
	// Path is the audio file path passed to TranscribeFile.
	Path string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcription is returned by TranscribeFile. If nil, an empty
	// transcription is returned instead.
	Transcription *types.Transcription

	// TranscribeFileErr, if non-nil, is returned as the error from
	// TranscribeFile.
	TranscribeFileErr error

	// TranscribeFileCalls records every call to TranscribeFile.
	TranscribeFileCalls []TranscribeFileCall
}

// TranscribeFile records the call and returns Transcription, TranscribeFileErr.
func (p *Provider) TranscribeFile(ctx context.Context, path string) (*types.Transcription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeFileCalls = append(p.TranscribeFileCalls, TranscribeFileCall{Ctx: ctx, Path: path})
	if p.TranscribeFileErr != nil {
		return nil, p.TranscribeFileErr
	}
	if p.Transcription != nil {
		tr := *p.Transcription
		tr.Words = append([]types.Word(nil), p.Transcription.Words...)
		return &tr, nil
	}
	return &types.Transcription{}, nil
}

// CallCount returns the number of recorded TranscribeFile calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeFileCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeFileCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
