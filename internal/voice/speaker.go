// Package voice turns mentor text into paced audio events and student audio
// chunks into transcripts.
package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/geova/livementor/internal/observe"
	"github.com/geova/livementor/internal/protocol"
	"github.com/geova/livementor/pkg/audio"
	"github.com/geova/livementor/pkg/provider/tts"
)

// ErrNoAudio is returned when a backend produced, or a client sent, an empty
// audio payload.
var ErrNoAudio = errors.New("voice: no audio data")

// Sender delivers one event to a client. *session.Connection satisfies it.
type Sender interface {
	Send(ctx context.Context, ev protocol.Event) error
}

// Speaker synthesises text and streams it to a client as ordered
// response.audio.delta events followed by a single response.audio.done.
//
// Speaker is safe for concurrent use.
type Speaker struct {
	tts       tts.Provider
	provider  string
	chunkSize int
	interval  time.Duration
	timeout   time.Duration
	metrics   *observe.Metrics
}

// SpeakerOption configures a [Speaker].
type SpeakerOption func(*Speaker)

// WithChunkSize sets the raw byte size of each audio delta. Non-positive
// values keep [audio.DefaultChunkSize].
func WithChunkSize(n int) SpeakerOption {
	return func(s *Speaker) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithPacing sets the delay between consecutive deltas. Zero sends the
// chunks back to back.
func WithPacing(d time.Duration) SpeakerOption {
	return func(s *Speaker) { s.interval = d }
}

// WithSynthesisTimeout bounds the backend call. Zero disables the bound.
func WithSynthesisTimeout(d time.Duration) SpeakerOption {
	return func(s *Speaker) { s.timeout = d }
}

// WithSpeakerMetrics records latency and chunk counts on m.
func WithSpeakerMetrics(m *observe.Metrics) SpeakerOption {
	return func(s *Speaker) { s.metrics = m }
}

// WithSpeakerProvider sets the provider name used as a metric attribute.
func WithSpeakerProvider(name string) SpeakerOption {
	return func(s *Speaker) { s.provider = name }
}

// NewSpeaker returns a Speaker backed by p.
func NewSpeaker(p tts.Provider, opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		tts:       p,
		provider:  "tts",
		chunkSize: audio.DefaultChunkSize,
		interval:  100 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Speak synthesises text with voice and sends the audio to out. It returns
// the number of delta events sent. A synthesis failure is returned before any
// event is sent, so the caller can keep a text-only reply.
func (s *Speaker) Speak(ctx context.Context, out Sender, text, voice string) (int, error) {
	speech, err := s.synthesize(ctx, text, voice)
	if err != nil {
		return 0, err
	}

	chunks := audio.Split(speech.Data, s.chunkSize)
	for i, chunk := range chunks {
		if i > 0 && s.interval > 0 {
			if err := sleep(ctx, s.interval); err != nil {
				return i, err
			}
		}
		if err := out.Send(ctx, protocol.AudioDelta(base64.StdEncoding.EncodeToString(chunk), i)); err != nil {
			return i, fmt.Errorf("voice: send chunk %d: %w", i, err)
		}
	}
	if s.metrics != nil {
		s.metrics.AudioChunks.Add(ctx, int64(len(chunks)))
	}

	done := protocol.AudioDone(protocol.AudioFormat{
		Format:     string(speech.Format.Codec),
		SampleRate: speech.Format.SampleRate,
		Channels:   speech.Format.Channels,
		Chunks:     len(chunks),
	})
	if err := out.Send(ctx, done); err != nil {
		return len(chunks), fmt.Errorf("voice: send audio done: %w", err)
	}
	return len(chunks), nil
}

func (s *Speaker) synthesize(ctx context.Context, text, voice string) (*tts.Speech, error) {
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	callCtx, span := observe.StartSpan(callCtx, "voice.synthesize")
	defer span.End()

	start := time.Now()
	speech, err := s.tts.Synthesize(callCtx, text, voice)
	if s.metrics != nil {
		s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err == nil && (speech == nil || len(speech.Data) == 0) {
		err = ErrNoAudio
	}
	if err != nil {
		span.RecordError(err)
		if s.metrics != nil {
			s.metrics.RecordProviderRequest(ctx, s.provider, "tts", "error")
			s.metrics.RecordProviderError(ctx, s.provider, "tts")
		}
		return nil, fmt.Errorf("voice: synthesize: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordProviderRequest(ctx, s.provider, "tts", "ok")
	}
	return speech, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
