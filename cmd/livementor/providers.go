package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/openai/openai-go/option"

	"github.com/geova/livementor/internal/app"
	"github.com/geova/livementor/internal/config"
	"github.com/geova/livementor/internal/resilience"
	"github.com/geova/livementor/pkg/provider/llm"
	"github.com/geova/livementor/pkg/provider/llm/anyllm"
	oaillm "github.com/geova/livementor/pkg/provider/llm/openai"
	"github.com/geova/livementor/pkg/provider/stt"
	oaistt "github.com/geova/livementor/pkg/provider/stt/openai"
	"github.com/geova/livementor/pkg/provider/stt/whisper"
	"github.com/geova/livementor/pkg/provider/tts"
	"github.com/geova/livementor/pkg/provider/tts/elevenlabs"
	oaitts "github.com/geova/livementor/pkg/provider/tts/openai"
)

// breakerConfig is the template for every backend's circuit breaker.
var breakerConfig = resilience.CircuitBreakerConfig{
	MaxFailures:  5,
	ResetTimeout: 30 * time.Second,
	HalfOpenMax:  1,
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if user := optString(entry.Options, "user"); user != "" {
			opts = append(opts, oaillm.WithUser(user))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other any-llm vendor takes an optional key and base URL. The
	// native client above keeps "openai".
	for _, providerName := range anyllm.Vendors() {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithRequestOptions(option.WithBaseURL(entry.BaseURL)))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rms, ok := optFloat(entry.Options, "silence_threshold"); ok {
			opts = append(opts, whisper.WithSilenceThreshold(rms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, oaitts.WithVoice(voice))
		}
		if format := optString(entry.Options, "response_format"); format != "" {
			opts = append(opts, oaitts.WithResponseFormat(format))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithRequestOptions(option.WithBaseURL(entry.BaseURL)))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// A stage with fallbacks is wrapped in a failover chain; each backend gets its
// own circuit breaker.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{
		LLMName: cfg.Providers.LLM.Name,
		STTName: cfg.Providers.STT.Name,
		TTSName: cfg.Providers.TTS.Name,
	}

	llmP, err := build("llm", cfg.Providers.LLM, reg.CreateLLM,
		func(name string, p llm.Provider) chain[llm.Provider] {
			c := resilience.NewLLMChain(name, p, breakerConfig)
			return chain[llm.Provider]{value: c, add: c.Add}
		})
	if err != nil {
		return nil, err
	}
	ps.LLM = llmP

	sttP, err := build("stt", cfg.Providers.STT, reg.CreateSTT,
		func(name string, p stt.Provider) chain[stt.Provider] {
			c := resilience.NewSTTChain(name, p, breakerConfig)
			return chain[stt.Provider]{value: c, add: c.Add}
		})
	if err != nil {
		return nil, err
	}
	ps.STT = sttP

	ttsP, err := build("tts", cfg.Providers.TTS, reg.CreateTTS,
		func(name string, p tts.Provider) chain[tts.Provider] {
			c := resilience.NewTTSChain(name, p, breakerConfig)
			return chain[tts.Provider]{value: c, add: c.Add}
		})
	if err != nil {
		return nil, err
	}
	ps.TTS = ttsP

	return ps, nil
}

// chain adapts the typed resilience chains to [build].
type chain[T any] struct {
	value T
	add   func(name string, value T)
}

// build creates the provider for entry and its fallbacks. A fallback that
// cannot be created is skipped with a warning; the primary is required once
// named. The zero T is returned when entry names no provider.
func build[T any](kind string, entry config.ProviderEntry,
	create func(config.ProviderEntry) (T, error),
	wrap func(name string, primary T) chain[T],
) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}

	primary, err := create(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered; skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)

	c := wrap(entry.Name, primary)
	for i, fb := range entry.Fallbacks {
		p, err := create(fb)
		if err != nil {
			slog.Warn("fallback provider skipped", "kind", kind, "index", i, "name", fb.Name, "err", err)
			continue
		}
		c.add(fb.Name, p)
		slog.Info("fallback provider added", "kind", kind, "name", fb.Name)
	}
	return c.value, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a numeric option. YAML decodes integers as int.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
