// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider turns one complete mentor reply into one encoded audio payload.
// Streaming to the client happens downstream by chunking that payload, so
// providers never need to expose partial audio.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/geova/livementor/pkg/audio"
)

// Speech is a synthesised payload together with its encoding.
type Speech struct {
	Data   []byte
	Format audio.Format
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice. An empty voice selects the
	// provider's default. Returns an error if ctx is cancelled first.
	Synthesize(ctx context.Context, text, voice string) (*Speech, error)
}
