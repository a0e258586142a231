// Package openai provides an STT provider backed by the OpenAI audio
// transcription endpoint (whisper-1 and the gpt-4o transcribe models).
package openai

import (
	"bytes"
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/geova/livementor/pkg/audio"
	"github.com/geova/livementor/pkg/provider/stt"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = "whisper-1"

// Provider implements stt.Provider using the OpenAI transcription API.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLanguage sets an ISO-639-1 language hint (e.g. "en").
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithRequestOptions replaces the SDK client options (base URL, HTTP client).
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(p *Provider) {
		p.client = oai.NewClient(opts...)
	}
}

// New constructs a Provider. An empty model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider. Headerless PCM is wrapped in a WAV
// container first; other codecs are uploaded as-is.
func (p *Provider) Transcribe(ctx context.Context, clip stt.Clip) (*stt.Transcript, error) {
	if len(clip.Data) == 0 {
		return nil, stt.ErrEmptyClip
	}

	data, f := clip.Data, clip.Format
	if f.Codec == audio.CodecPCM16 {
		data = audio.EncodeWAV(data, f.SampleRate, f.Channels)
		f = audio.Format{Codec: audio.CodecWAV}
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(data), audio.FileName(f.Codec), f.MIMEType()),
		Model: oai.AudioModel(p.model),
	}
	if p.language != "" {
		params.Language = param.NewOpt(p.language)
	}

	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcription: %w", err)
	}
	return &stt.Transcript{Text: res.Text, Language: p.language}, nil
}

var _ stt.Provider = (*Provider)(nil)
