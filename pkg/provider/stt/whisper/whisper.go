// Package whisper provides an STT provider backed by a self-hosted
// whisper.cpp server (the whisper-server binary, POST /inference).
//
// whisper.cpp expects 16 kHz mono 16-bit PCM. PCM and WAV clips are converted
// locally before upload; compressed clips (webm, mp3, ogg) are forwarded as-is
// and require the server to run with --convert.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	tr, err := p.Transcribe(ctx, stt.Clip{Data: wav, Format: audio.Format{Codec: audio.CodecWAV}})
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/geova/livementor/pkg/audio"
	"github.com/geova/livementor/pkg/provider/stt"
)

const (
	// whisperSampleRate is the only sample rate whisper.cpp accepts.
	whisperSampleRate = 16000

	// defaultRMSThreshold is the RMS energy (16-bit PCM units) below which a
	// decoded clip is treated as silence and not sent to the server.
	defaultRMSThreshold = 300.0

	defaultLanguage = "en"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g., "base.en").
// When empty the server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSilenceThreshold sets the RMS level below which PCM clips are skipped.
// Zero disables the gate.
func WithSilenceThreshold(rms float64) Option {
	return func(p *Provider) {
		p.silenceRMS = rms
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	silenceRMS float64
	httpClient *http.Client
}

// New creates a Provider that talks to the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		silenceRMS: defaultRMSThreshold,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, clip stt.Clip) (*stt.Transcript, error) {
	if len(clip.Data) == 0 {
		return nil, stt.ErrEmptyClip
	}

	payload, name := clip.Data, audio.FileName(clip.Format.Codec)
	var duration time.Duration

	if pcm, f, ok, err := pcmOf(clip); err != nil {
		return nil, err
	} else if ok {
		mono, err := audio.ToMonoPCM16(pcm, f.SampleRate, f.Channels, whisperSampleRate)
		if err != nil {
			return nil, fmt.Errorf("whisper: %w", err)
		}
		if p.silenceRMS > 0 && computeRMS(mono) < p.silenceRMS {
			return &stt.Transcript{}, nil
		}
		duration = time.Duration(len(mono)/2) * time.Second / whisperSampleRate
		payload, name = audio.EncodeWAV(mono, whisperSampleRate, 1), "audio.wav"
	}

	text, err := p.infer(ctx, payload, name)
	if err != nil {
		return nil, err
	}
	return &stt.Transcript{Text: strings.TrimSpace(text), Language: p.language, Duration: duration}, nil
}

// pcmOf extracts raw PCM from WAV or headerless PCM clips. ok is false for
// compressed codecs.
func pcmOf(clip stt.Clip) (pcm []byte, f audio.Format, ok bool, err error) {
	switch clip.Format.Codec {
	case audio.CodecPCM16:
		f = clip.Format
		if f.SampleRate <= 0 || f.Channels <= 0 {
			return nil, f, false, fmt.Errorf("whisper: pcm clip without sample rate or channel count")
		}
		return clip.Data, f, true, nil
	case audio.CodecWAV:
		pcm, f, err = audio.DecodeWAV(clip.Data)
		if err != nil {
			return nil, f, false, fmt.Errorf("whisper: %w", err)
		}
		return pcm, f, true, nil
	}
	return nil, clip.Format, false, nil
}

// infer POSTs the payload to the whisper.cpp /inference endpoint as
// multipart/form-data and returns the transcribed text.
func (p *Provider) infer(ctx context.Context, payload []byte, filename string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(payload); err != nil {
		return "", fmt.Errorf("whisper: write audio data: %w", err)
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer, in sample units (0-32767).
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
