// Package mock provides a test double for the alm package interface.
//
// Use Provider to script what the audio language model answers per clip and
// to inspect which clips the caller submitted.
//
// Example:
//
//	p := &mock.Provider{Texts: []string{"beautiful", "[unintelligible]"}}
//	first, _ := p.TranscribeClip(ctx, clipOne)  // "beautiful"
//	second, _ := p.TranscribeClip(ctx, clipTwo) // "[unintelligible]"
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rescribe/pkg/provider/alm"
)

// TranscribeClipCall records a single invocation of Provider.TranscribeClip.
type TranscribeClipCall struct {
	// Ctx is the context passed to TranscribeClip.
	Ctx context.Context
	// WAV is a copy of the clip bytes passed to TranscribeClip.
	WAV []byte
}

// Provider is a mock implementation of alm.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by every TranscribeClip call when Texts is empty.
	Text string

	// Texts, if non-empty, scripts answers per call in order. Calls beyond
	// the last entry keep returning the last entry.
	Texts []string

	// TranscribeClipErr, if non-nil, is returned as the error from
	// TranscribeClip.
	TranscribeClipErr error

	// TranscribeClipCalls records every call to TranscribeClip.
	TranscribeClipCalls []TranscribeClipCall
}

// TranscribeClip records the call and returns the scripted answer.
func (p *Provider) TranscribeClip(ctx context.Context, wav []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call := TranscribeClipCall{Ctx: ctx, WAV: append([]byte(nil), wav...)}
	p.TranscribeClipCalls = append(p.TranscribeClipCalls, call)
	if p.TranscribeClipErr != nil {
		return "", p.TranscribeClipErr
	}
	if len(p.Texts) > 0 {
		idx := len(p.TranscribeClipCalls) - 1
		if idx >= len(p.Texts) {
			idx = len(p.Texts) - 1
		}
		return p.Texts[idx], nil
	}
	return p.Text, nil
}

// CallCount returns the number of recorded TranscribeClip calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeClipCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeClipCalls = nil
}

// Ensure Provider implements alm.Provider at compile time.
var _ alm.Provider = (*Provider)(nil)
