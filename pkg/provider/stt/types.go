package stt

import (
	"errors"
	"time"
)

// ErrEmptyClip is returned when Transcribe is called without audio data.
var ErrEmptyClip = errors.New("stt: clip has no audio data")

// Transcript is the result of transcribing one clip.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the detected or requested language, if the backend reports it.
	Language string

	// Duration is the length of the transcribed audio, if known.
	Duration time.Duration
}
