package config

import "time"

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultMentorName      = "GEOVA"
	DefaultTemperature     = 0.8
	DefaultMaxTokens       = 2000
	DefaultHistoryTurns    = 10
	DefaultVoice           = "nova"
	DefaultChunkSize       = 3072
	DefaultChunkInterval   = 100 * time.Millisecond
	DefaultLLMTimeout      = 60 * time.Second
	DefaultTTSTimeout      = 30 * time.Second
	DefaultSTTTimeout      = 30 * time.Second
	DefaultWriteTimeout    = 5 * time.Second
	DefaultIdleTTL         = 30 * time.Minute
	DefaultReapInterval    = time.Minute
	DefaultInputMIME       = "audio/webm"
	DefaultQueueSize       = 32
	DefaultMaxMessageBytes = 4 << 20
	DefaultAvatarID        = "geova-mentor"
	DefaultLedgerQueueSize = 256
)

// ApplyDefaults fills zero values with their defaults. Temperature is only
// defaulted when the whole mentor section is absent so that an explicit 0 is
// kept.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	m := &cfg.Mentor
	if m.Name == "" && m.Temperature == 0 && m.MaxTokens == 0 {
		m.Temperature = DefaultTemperature
	}
	if m.Name == "" {
		m.Name = DefaultMentorName
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = DefaultMaxTokens
	}
	if m.HistoryTurns == 0 {
		m.HistoryTurns = DefaultHistoryTurns
	}
	if m.Voice == "" {
		m.Voice = DefaultVoice
	}

	s := &cfg.Session
	if s.ChunkSize == 0 {
		s.ChunkSize = DefaultChunkSize
	}
	if s.ChunkInterval == nil {
		d := DefaultChunkInterval
		s.ChunkInterval = &d
	}
	setDuration(&s.LLMTimeout, DefaultLLMTimeout)
	setDuration(&s.TTSTimeout, DefaultTTSTimeout)
	setDuration(&s.STTTimeout, DefaultSTTTimeout)
	setDuration(&s.WriteTimeout, DefaultWriteTimeout)
	setDuration(&s.IdleTTL, DefaultIdleTTL)
	setDuration(&s.ReapInterval, DefaultReapInterval)
	if s.UtteranceMode == "" {
		s.UtteranceMode = UtterancePunctuation
	}
	if s.InputMIME == "" {
		s.InputMIME = DefaultInputMIME
	}
	if s.QueueSize == 0 {
		s.QueueSize = DefaultQueueSize
	}
	if s.MaxMessageBytes == 0 {
		s.MaxMessageBytes = DefaultMaxMessageBytes
	}

	if cfg.Avatar.AvatarID == "" {
		cfg.Avatar.AvatarID = DefaultAvatarID
	}
	if cfg.Ledger.QueueSize == 0 {
		cfg.Ledger.QueueSize = DefaultLedgerQueueSize
	}
}

// Interval returns the configured chunk pacing.
func (s SessionConfig) Interval() time.Duration {
	if s.ChunkInterval == nil {
		return DefaultChunkInterval
	}
	return *s.ChunkInterval
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}
