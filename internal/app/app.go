// Package app wires all livementor subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and the background loops until its context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithLedger,
// WithMetrics, WithClock). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/geova/livementor/internal/config"
	"github.com/geova/livementor/internal/control"
	"github.com/geova/livementor/internal/gateway"
	"github.com/geova/livementor/internal/health"
	"github.com/geova/livementor/internal/ledger"
	"github.com/geova/livementor/internal/ledger/postgres"
	"github.com/geova/livementor/internal/mentor"
	"github.com/geova/livementor/internal/observe"
	"github.com/geova/livementor/internal/router"
	"github.com/geova/livementor/internal/session"
	"github.com/geova/livementor/internal/transcript"
	"github.com/geova/livementor/internal/voice"
	"github.com/geova/livementor/pkg/provider/llm"
	"github.com/geova/livementor/pkg/provider/stt"
	"github.com/geova/livementor/pkg/provider/tts"
)

// ErrNoLLM is returned by turns when no language model is configured.
var ErrNoLLM = errors.New("app: no llm provider configured")

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// Names label metrics and log lines. They default to the configured
	// provider names.
	LLMName string
	STTName string
	TTSName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	now       func() time.Time
	logLevel  *slog.LevelVar

	store    *session.MemStore
	sink     ledger.Sink
	recorder *ledger.Recorder
	router   *router.Router
	handler  http.Handler
	server   *http.Server

	// baseCancel ends every request context, including upgraded websockets
	// that http.Server.Shutdown does not track.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLedger injects a ledger sink instead of connecting to PostgreSQL.
func WithLedger(s ledger.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock overrides the clock of the session store.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithLogLevel lets configuration reloads adjust the level of the default
// logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Ledger ────────────────────────────────────────────────────────
	if err := a.initLedger(ctx); err != nil {
		return nil, fmt.Errorf("app: init ledger: %w", err)
	}

	// ── 2. Session store ─────────────────────────────────────────────────
	gauge := &sessionGauge{metrics: a.metrics}
	storeOpts := []session.MemStoreOption{
		session.WithObserver(a.recorder),
		session.WithObserver(gauge),
		session.WithHistoryLimits(cfg.Mentor.HistoryTurns, cfg.Mentor.HistoryTokens),
	}
	if a.now != nil {
		storeOpts = append(storeOpts, session.WithClock(a.now))
	}
	a.store = session.NewMemStore(storeOpts...)
	gauge.store = a.store

	// ── 3. Turn router ───────────────────────────────────────────────────
	a.router = a.buildRouter()

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.handler = a.buildHandler()
	a.baseCtx, a.baseCancel = context.WithCancel(context.WithoutCancel(ctx))
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return a.baseCtx },
	}

	return a, nil
}

func (a *App) initLedger(ctx context.Context) error {
	if a.sink == nil {
		if dsn := a.cfg.Ledger.PostgresDSN; dsn != "" {
			store, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.sink = store
			a.closers = append(a.closers, func() error { store.Close(); return nil })
		} else {
			a.sink = ledger.Nop{}
		}
	}

	a.recorder = ledger.NewRecorder(a.sink,
		ledger.WithQueueSize(a.cfg.Ledger.QueueSize),
		ledger.WithWriteTimeout(a.cfg.Session.WriteTimeout),
		ledger.WithDropHook(func(op string) {
			a.metrics.LedgerDropped.Add(context.Background(), 1, metric.WithAttributes(observe.Attr("op", op)))
		}),
	)
	return nil
}

func (a *App) buildRouter() *router.Router {
	cfg := a.cfg
	opts := []router.Option{
		router.WithLLMTimeout(cfg.Session.LLMTimeout),
		router.WithExplicitUtterances(cfg.Session.UtteranceMode == config.UtteranceExplicit),
		router.WithMetrics(a.metrics),
		router.WithLLMName(nameOr(a.providers.LLMName, cfg.Providers.LLM.Name)),
	}
	if cfg.Avatar.Enabled() {
		opts = append(opts, router.WithAvatar(cfg.Avatar.AvatarID))
	}
	if a.providers.TTS != nil {
		opts = append(opts, router.WithSpeaker(voice.NewSpeaker(a.providers.TTS,
			voice.WithChunkSize(cfg.Session.ChunkSize),
			voice.WithPacing(cfg.Session.Interval()),
			voice.WithSynthesisTimeout(cfg.Session.TTSTimeout),
			voice.WithSpeakerMetrics(a.metrics),
			voice.WithSpeakerProvider(nameOr(a.providers.TTSName, cfg.Providers.TTS.Name)),
		)))
	}
	if a.providers.STT != nil {
		topts := []voice.TranscriberOption{
			voice.WithInputMIME(cfg.Session.InputMIME),
			voice.WithTranscribeTimeout(cfg.Session.STTTimeout),
			voice.WithTranscriberMetrics(a.metrics),
			voice.WithTranscriberProvider(nameOr(a.providers.STTName, cfg.Providers.STT.Name)),
		}
		if cfg.Session.CorrectTranscripts {
			glossary := append(slices.Clone(transcript.DefaultGlossary), cfg.Session.Glossary...)
			topts = append(topts, voice.WithCorrector(transcript.New(glossary)))
		}
		opts = append(opts, router.WithTranscriber(voice.NewTranscriber(a.providers.STT, topts...)))
	}

	var model llm.Provider = unconfiguredLLM{}
	if a.providers.LLM != nil {
		model = a.providers.LLM
	}
	return router.New(a.store, model, SettingsFrom(cfg.Mentor), opts...)
}

func (a *App) buildHandler() http.Handler {
	cfg := a.cfg
	mux := http.NewServeMux()

	ws := gateway.New(a.router,
		gateway.WithOriginPatterns(cfg.Server.AllowedOrigins...),
		gateway.WithQueueSize(cfg.Session.QueueSize),
		gateway.WithWriteTimeout(cfg.Session.WriteTimeout),
		gateway.WithMaxMessageBytes(cfg.Session.MaxMessageBytes),
		gateway.WithMetrics(a.metrics),
	)
	// Browser clients upgrade on the same URL they use for control calls.
	mux.Handle("GET /api/session", ws)
	mux.Handle("GET /ws", ws)

	copts := []control.Option{control.WithOrigins(cfg.Server.AllowedOrigins...)}
	if rd, ok := a.sink.(ledger.Reader); ok {
		copts = append(copts, control.WithLedger(rd))
	}
	control.New(a.store, copts...).Register(mux)

	checks := []health.Checker{
		health.Configured("llm", func() bool { return a.providers.LLM != nil }),
	}
	if _, ok := a.sink.(ledger.Nop); !ok {
		checks = append(checks, health.PingCheck("ledger", a.sink))
	}
	health.New(a.store.Counts, checks...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// Handler returns the root HTTP handler. Tests serve it with httptest.
func (a *App) Handler() http.Handler { return a.handler }

// Store returns the live session store.
func (a *App) Store() session.Store { return a.store }

// Router returns the turn router.
func (a *App) Router() *router.Router { return a.router }

// Run serves HTTP, drains the ledger and reaps idle sessions until ctx is
// cancelled. It returns nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Stop, not cancellation, ends the recorder so queued records are flushed.
	g.Go(func() error { return a.recorder.Run(context.WithoutCancel(gctx)) })
	g.Go(func() error { a.reap(gctx); return nil })
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		a.baseCancel()
		if err := a.server.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
		a.recorder.Stop()
		return nil
	})

	slog.Info("app running", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}

func (a *App) reap(ctx context.Context) {
	t := time.NewTicker(a.cfg.Session.ReapInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ids := a.store.Reap(a.cfg.Session.IdleTTL); len(ids) > 0 {
				slog.Info("reaped idle sessions", "count", len(ids), "sessions", ids)
			}
		}
	}
}

// OnConfigChange applies a reloaded configuration. Only the mentor section and
// the log level take effect immediately.
func (a *App) OnConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.MentorChanged {
		a.router.SetSettings(SettingsFrom(d.Mentor))
		slog.Info("mentor settings reloaded", "settings", a.router.Settings())
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(LogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.baseCancel()
		a.recorder.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// SettingsFrom converts the mentor config section into router settings.
func SettingsFrom(m config.MentorConfig) router.Settings {
	return router.Settings{
		Persona: mentor.Persona{
			Name:              m.Name,
			ExtraInstructions: m.ExtraInstructions,
		},
		Temperature: m.Temperature,
		MaxTokens:   m.MaxTokens,
		Voice:       m.Voice,
	}
}

// LogLevel maps a config level to its slog level.
func LogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// unconfiguredLLM keeps the server up without a model; every turn fails and
// /readyz reports the gap.
type unconfiguredLLM struct{}

func (unconfiguredLLM) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, ErrNoLLM
}
