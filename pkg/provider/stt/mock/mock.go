// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Text: "What is NDVI?"}
//	tr, _ := p.Transcribe(ctx, clip)
package mock

import (
	"context"
	"sync"

	"github.com/geova/livementor/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned as the transcript text when Err is nil.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// TranscribeFunc, if set, takes precedence over Text and Err.
	TranscribeFunc func(ctx context.Context, clip stt.Clip) (*stt.Transcript, error)

	// Clips records every clip passed to Transcribe, in order.
	Clips []stt.Clip
}

// Transcribe records the clip and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, clip stt.Clip) (*stt.Transcript, error) {
	p.mu.Lock()
	p.Clips = append(p.Clips, clip)
	fn, text, err := p.TranscribeFunc, p.Text, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, clip)
	}
	if err != nil {
		return nil, err
	}
	return &stt.Transcript{Text: text}, nil
}

// SetText changes the transcript returned by subsequent calls.
func (p *Provider) SetText(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Text = text
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Clips)
}

var _ stt.Provider = (*Provider)(nil)
