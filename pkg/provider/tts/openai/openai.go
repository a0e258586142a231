// Package openai provides a TTS provider backed by the OpenAI speech endpoint.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/geova/livementor/pkg/audio"
	"github.com/geova/livementor/pkg/provider/tts"
)

const (
	DefaultModel  = "tts-1"
	DefaultVoice  = "nova"
	DefaultFormat = "mp3"

	// pcmSampleRate is fixed by the API for the "pcm" response format.
	pcmSampleRate = 24000
)

// Provider implements tts.Provider using the OpenAI audio speech API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	format string
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithVoice sets the default voice (e.g. "nova", "alloy").
func WithVoice(voice string) Option {
	return func(p *Provider) {
		if voice != "" {
			p.voice = voice
		}
	}
}

// WithResponseFormat selects the payload encoding: "mp3", "wav" or "pcm".
func WithResponseFormat(format string) Option {
	return func(p *Provider) {
		if format != "" {
			p.format = strings.ToLower(format)
		}
	}
}

// WithRequestOptions passes extra SDK options (base URL, HTTP client).
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(p *Provider) {
		p.client = oai.NewClient(opts...)
	}
}

// New constructs a Provider. An empty model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		voice:  DefaultVoice,
		format: DefaultFormat,
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := formatFor(p.format); err != nil {
		return nil, err
	}
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*tts.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}
	if voice == "" {
		voice = p.voice
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(p.format),
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai tts: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read body: %w", err)
	}

	f, _ := formatFor(p.format)
	return &tts.Speech{Data: data, Format: f}, nil
}

func formatFor(name string) (audio.Format, error) {
	switch name {
	case "mp3":
		return audio.Format{Codec: audio.CodecMP3}, nil
	case "wav":
		return audio.Format{Codec: audio.CodecWAV}, nil
	case "pcm":
		return audio.PCM16(pcmSampleRate, 1), nil
	case "opus":
		return audio.Format{Codec: audio.CodecOpus}, nil
	}
	return audio.Format{}, fmt.Errorf("openai tts: unsupported response format %q", name)
}

var _ tts.Provider = (*Provider)(nil)
