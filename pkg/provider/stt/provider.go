// Package stt defines the Provider interface for speech-to-text backends.
//
// The mentor transcribes each inbound audio chunk independently, so the
// interface is a single batch call rather than a streaming session.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/geova/livementor/pkg/audio"
)

// Clip is one self-contained piece of participant speech.
type Clip struct {
	Data   []byte
	Format audio.Format
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in clip. A clip with no speech yields
	// a Transcript with empty Text and a nil error.
	Transcribe(ctx context.Context, clip Clip) (*Transcript, error)
}
