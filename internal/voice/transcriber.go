package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geova/livementor/internal/observe"
	"github.com/geova/livementor/internal/transcript"
	"github.com/geova/livementor/pkg/audio"
	"github.com/geova/livementor/pkg/provider/stt"
)

// Chunk is one student.audio_chunk payload.
type Chunk struct {
	// Data is the base64-encoded audio.
	Data string

	// MIMEType overrides the transcriber's default input type when set.
	MIMEType string

	// SampleRate and Channels describe headerless PCM input.
	SampleRate int
	Channels   int
}

// Transcriber decodes client audio chunks and transcribes them.
//
// Transcriber is safe for concurrent use.
type Transcriber struct {
	stt         stt.Provider
	provider    string
	defaultMIME string
	timeout     time.Duration
	metrics     *observe.Metrics
	corrector   *transcript.Corrector
}

// TranscriberOption configures a [Transcriber].
type TranscriberOption func(*Transcriber)

// WithInputMIME sets the media type assumed for chunks that carry none.
func WithInputMIME(mime string) TranscriberOption {
	return func(t *Transcriber) {
		if mime != "" {
			t.defaultMIME = mime
		}
	}
}

// WithTranscribeTimeout bounds each backend call. Zero disables the bound.
func WithTranscribeTimeout(d time.Duration) TranscriberOption {
	return func(t *Transcriber) { t.timeout = d }
}

// WithTranscriberMetrics records latency on m.
func WithTranscriberMetrics(m *observe.Metrics) TranscriberOption {
	return func(t *Transcriber) { t.metrics = m }
}

// WithTranscriberProvider sets the provider name used as a metric attribute.
func WithTranscriberProvider(name string) TranscriberOption {
	return func(t *Transcriber) { t.provider = name }
}

// WithCorrector snaps glossary near-misses in every transcript.
func WithCorrector(c *transcript.Corrector) TranscriberOption {
	return func(t *Transcriber) { t.corrector = c }
}

// NewTranscriber returns a Transcriber backed by p.
func NewTranscriber(p stt.Provider, opts ...TranscriberOption) *Transcriber {
	t := &Transcriber{
		stt:         p,
		provider:    "stt",
		defaultMIME: "audio/webm",
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Transcribe decodes c and returns the trimmed transcript. Headerless PCM is
// wrapped in a WAV container first since transcription backends sniff the
// container.
func (t *Transcriber) Transcribe(ctx context.Context, c Chunk) (string, error) {
	data, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		return "", fmt.Errorf("voice: decode audio chunk: %w", err)
	}
	if len(data) == 0 {
		return "", ErrNoAudio
	}

	mime := c.MIMEType
	if mime == "" {
		mime = t.defaultMIME
	}
	format := audio.Format{Codec: audio.CodecFromMIME(mime)}
	if format.Codec == audio.CodecPCM16 {
		if c.SampleRate <= 0 {
			return "", errors.New("voice: pcm chunk without sample rate")
		}
		channels := max(c.Channels, 1)
		data = audio.EncodeWAV(data, c.SampleRate, channels)
		format = audio.Format{Codec: audio.CodecWAV, SampleRate: c.SampleRate, Channels: channels}
	}

	callCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	callCtx, span := observe.StartSpan(callCtx, "voice.transcribe")
	defer span.End()

	start := time.Now()
	tr, err := t.stt.Transcribe(callCtx, stt.Clip{Data: data, Format: format})
	if t.metrics != nil {
		t.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		if t.metrics != nil {
			t.metrics.RecordProviderRequest(ctx, t.provider, "stt", "error")
			t.metrics.RecordProviderError(ctx, t.provider, "stt")
		}
		return "", fmt.Errorf("voice: transcribe: %w", err)
	}
	if t.metrics != nil {
		t.metrics.RecordProviderRequest(ctx, t.provider, "stt", "ok")
	}
	if tr == nil {
		return "", nil
	}
	text := strings.TrimSpace(tr.Text)
	if t.corrector != nil {
		var fixes []transcript.Correction
		if text, fixes = t.corrector.Correct(text); len(fixes) > 0 {
			observe.Logger(ctx).Debug("transcript corrected", "corrections", fixes)
		}
	}
	return text, nil
}
