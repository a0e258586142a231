// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/geova/livementor/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Speech is returned by Synthesize when Err is nil.
	Speech *tts.Speech

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// SynthesizeCalls records every invocation in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns Speech, Err.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*tts.Speech, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.Speech, p.Err
}

// Calls returns a snapshot of the recorded calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

var _ tts.Provider = (*Provider)(nil)
