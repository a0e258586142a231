package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "whisper"},
	"tts": {"openai", "elevenlabs"},
}

// Environment variables consulted by [ApplyEnv].
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvElevenLabsKey = "ELEVENLABS_API_KEY"
	EnvAvatarKey     = "DID_API_KEY"
	EnvPostgresDSN   = "LIVEMENTOR_POSTGRES_DSN"
)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := parse(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv builds a configuration from defaults and environment variables
// only. It is used when no config file is given.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parse(r, nil)
}

func parse(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills credentials that are empty in cfg from the environment.
// When no providers are configured and an OpenAI key is present, OpenAI is
// selected for all three stages.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(k string) string {
		v, _ := lookup(k)
		return v
	}

	openaiKey := get(EnvOpenAIKey)
	p := &cfg.Providers
	if openaiKey != "" && p.LLM.Name == "" && p.STT.Name == "" && p.TTS.Name == "" {
		p.LLM.Name, p.STT.Name, p.TTS.Name = "openai", "openai", "openai"
	}
	for _, e := range []*ProviderEntry{&p.LLM, &p.STT, &p.TTS} {
		fillKey(e, openaiKey, get(EnvElevenLabsKey))
		for i := range e.Fallbacks {
			fillKey(&e.Fallbacks[i], openaiKey, get(EnvElevenLabsKey))
		}
	}

	if cfg.Avatar.APIKey == "" {
		cfg.Avatar.APIKey = get(EnvAvatarKey)
	}
	if dsn := get(EnvPostgresDSN); dsn != "" && cfg.Ledger.PostgresDSN == "" {
		cfg.Ledger.PostgresDSN = dsn
	}
}

func fillKey(e *ProviderEntry, openaiKey, elevenKey string) {
	if e.APIKey != "" {
		return
	}
	switch e.Name {
	case "openai":
		e.APIKey = openaiKey
	case "elevenlabs":
		e.APIKey = elevenKey
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be within [0, 1]", r))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProvider(&errs, "llm", cfg.Providers.LLM)
	validateProvider(&errs, "stt", cfg.Providers.STT)
	validateProvider(&errs, "tts", cfg.Providers.TTS)
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; the mentor will not be able to respond")
	}

	// Mentor
	m := cfg.Mentor
	if m.Temperature < 0 || m.Temperature > 2 {
		errs = append(errs, fmt.Errorf("mentor.temperature %.2f is out of range [0, 2]", m.Temperature))
	}
	if m.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("mentor.max_tokens %d must not be negative", m.MaxTokens))
	}
	if m.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("mentor.history_turns %d must not be negative", m.HistoryTurns))
	}
	if m.HistoryTokens < 0 {
		errs = append(errs, fmt.Errorf("mentor.history_tokens %d must not be negative", m.HistoryTokens))
	}

	// Session
	s := cfg.Session
	if s.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("session.chunk_size %d must be positive", s.ChunkSize))
	}
	if s.ChunkInterval != nil && *s.ChunkInterval < 0 {
		errs = append(errs, fmt.Errorf("session.chunk_interval %s must not be negative", *s.ChunkInterval))
	}
	for name, d := range map[string]int64{
		"llm_timeout":   int64(s.LLMTimeout),
		"tts_timeout":   int64(s.TTSTimeout),
		"stt_timeout":   int64(s.STTTimeout),
		"write_timeout": int64(s.WriteTimeout),
		"idle_ttl":      int64(s.IdleTTL),
		"reap_interval": int64(s.ReapInterval),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("session.%s must not be negative", name))
		}
	}
	if s.UtteranceMode != "" && !s.UtteranceMode.IsValid() {
		errs = append(errs, fmt.Errorf("session.utterance_mode %q is invalid; valid values: punctuation, explicit", s.UtteranceMode))
	}
	if s.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("session.queue_size %d must not be negative", s.QueueSize))
	}

	return errors.Join(errs...)
}

func validateProvider(errs *[]error, kind string, e ProviderEntry) {
	validateProviderName(kind, e.Name)
	if e.Name == "" && len(e.Fallbacks) > 0 {
		*errs = append(*errs, fmt.Errorf("providers.%s has fallbacks but no primary name", kind))
	}
	for i, fb := range e.Fallbacks {
		if fb.Name == "" {
			*errs = append(*errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			*errs = append(*errs, fmt.Errorf("providers.%s.fallbacks[%d] must not declare nested fallbacks", kind, i))
		}
		validateProviderName(kind, fb.Name)
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
