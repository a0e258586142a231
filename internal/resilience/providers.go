package resilience

import (
	"context"

	"github.com/geova/livementor/pkg/provider/llm"
	"github.com/geova/livementor/pkg/provider/stt"
	"github.com/geova/livementor/pkg/provider/tts"
)

// LLMChain is an [llm.Provider] that fails over across a [Chain].
type LLMChain struct{ *Chain[llm.Provider] }

// NewLLMChain returns an LLMChain with primary as the preferred backend.
func NewLLMChain(name string, primary llm.Provider, cfg CircuitBreakerConfig) LLMChain {
	return LLMChain{NewChain(name, primary, cfg)}
}

// Complete implements [llm.Provider].
func (c LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(ctx, c.Chain, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// TTSChain is a [tts.Provider] that fails over across a [Chain].
type TTSChain struct{ *Chain[tts.Provider] }

// NewTTSChain returns a TTSChain with primary as the preferred backend.
func NewTTSChain(name string, primary tts.Provider, cfg CircuitBreakerConfig) TTSChain {
	return TTSChain{NewChain(name, primary, cfg)}
}

// Synthesize implements [tts.Provider]. Voice identifiers are passed through
// unchanged, so fallbacks should accept the primary's voice names.
func (c TTSChain) Synthesize(ctx context.Context, text, voice string) (*tts.Speech, error) {
	return Do(ctx, c.Chain, func(ctx context.Context, p tts.Provider) (*tts.Speech, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// STTChain is an [stt.Provider] that fails over across a [Chain].
type STTChain struct{ *Chain[stt.Provider] }

// NewSTTChain returns an STTChain with primary as the preferred backend.
func NewSTTChain(name string, primary stt.Provider, cfg CircuitBreakerConfig) STTChain {
	return STTChain{NewChain(name, primary, cfg)}
}

// Transcribe implements [stt.Provider].
func (c STTChain) Transcribe(ctx context.Context, clip stt.Clip) (*stt.Transcript, error) {
	return Do(ctx, c.Chain, func(ctx context.Context, p stt.Provider) (*stt.Transcript, error) {
		return p.Transcribe(ctx, clip)
	})
}

var (
	_ llm.Provider = LLMChain{}
	_ tts.Provider = TTSChain{}
	_ stt.Provider = STTChain{}
)
