// Package router dispatches the events of one participant's duplex channel:
// joining a session, mentor turns for typed and spoken input, and the
// speaking acknowledgements.
//
// Each client's events are handled sequentially by the caller, so a single
// participant's turns never interleave. Turns of different participants run
// concurrently.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geova/livementor/internal/mentor"
	"github.com/geova/livementor/internal/observe"
	"github.com/geova/livementor/internal/protocol"
	"github.com/geova/livementor/internal/session"
	"github.com/geova/livementor/internal/voice"
	"github.com/geova/livementor/pkg/provider/llm"
)

// Client-facing error messages.
const (
	MsgBadPayload    = "Failed to process message"
	MsgGreetingFail  = "Failed to initialize AI mentor"
	MsgTurnFail      = "Failed to process your message"
	MsgNotJoined     = "Join a session before sending messages"
	MsgInvalidJoin   = "sessionId and userId are required"
	msgUnknownPrefix = "Unknown event type: "
)

// AvatarReadyMessage accompanies avatar.initialized.
const AvatarReadyMessage = "AI Avatar is ready to teach!"

// Settings are the mentor knobs that can change while the server runs.
type Settings struct {
	Persona     mentor.Persona
	Temperature float64
	MaxTokens   int
	Voice       string
}

// Router handles inbound events for every client. It is safe for concurrent
// use; per-client state lives in [Client].
type Router struct {
	store       session.Store
	llm         llm.Provider
	llmName     string
	speaker     *voice.Speaker
	transcriber *voice.Transcriber
	llmTimeout  time.Duration
	explicit    bool
	avatarID    string
	metrics     *observe.Metrics

	settings atomic.Pointer[Settings]
}

// Option configures a [Router].
type Option func(*Router)

// WithSpeaker enables spoken replies for voice-enabled participants.
func WithSpeaker(s *voice.Speaker) Option {
	return func(r *Router) { r.speaker = s }
}

// WithTranscriber enables student.audio_chunk handling.
func WithTranscriber(t *voice.Transcriber) Option {
	return func(r *Router) { r.transcriber = t }
}

// WithLLMTimeout bounds each language-model call. Zero disables the bound.
func WithLLMTimeout(d time.Duration) Option {
	return func(r *Router) { r.llmTimeout = d }
}

// WithExplicitUtterances makes student.end_utterance the only way spoken
// fragments are submitted. By default a fragment with sentence punctuation
// submits the pending utterance.
func WithExplicitUtterances(on bool) Option {
	return func(r *Router) { r.explicit = on }
}

// WithAvatar enables avatar events under the given avatar id. Without it
// avatar-enabled participants get no avatar events.
func WithAvatar(avatarID string) Option {
	return func(r *Router) { r.avatarID = avatarID }
}

// WithMetrics records turn and provider metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithLLMName sets the provider name used as a metric attribute.
func WithLLMName(name string) Option {
	return func(r *Router) { r.llmName = name }
}

// New returns a Router over store and the language model p.
func New(store session.Store, p llm.Provider, s Settings, opts ...Option) *Router {
	r := &Router{store: store, llm: p, llmName: "llm"}
	for _, o := range opts {
		o(r)
	}
	r.SetSettings(s)
	return r
}

// SetSettings replaces the mentor settings for subsequent turns.
func (r *Router) SetSettings(s Settings) {
	r.settings.Store(&s)
}

// Settings returns the current mentor settings.
func (r *Router) Settings() Settings {
	return *r.settings.Load()
}

// Client is the router's view of one open duplex channel.
type Client struct {
	transport session.Transport

	mu   sync.Mutex
	conn *session.Connection
}

// NewClient wraps an accepted transport.
func NewClient(t session.Transport) *Client {
	return &Client{transport: t}
}

// Connection returns the registry entry created by the last join, or nil.
func (c *Client) Connection() *session.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) setConnection(conn *session.Connection) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// send delivers ev on the client's own transport and logs failures.
func (c *Client) send(ctx context.Context, ev protocol.Event) {
	if err := c.transport.Send(ctx, ev); err != nil {
		observe.Logger(ctx).Debug("router: send failed", "type", ev.Type, "err", err)
	}
}

// Handle processes one inbound frame. Failures are answered with an error
// event; the channel stays open.
func (r *Router) Handle(ctx context.Context, c *Client, frame []byte) {
	in, err := protocol.Decode(frame)
	if err != nil {
		observe.Logger(ctx).Debug("router: bad frame", "err", err)
		c.send(ctx, protocol.Error(MsgBadPayload))
		return
	}
	if r.metrics != nil {
		r.metrics.RecordInbound(ctx, in.Type)
	}
	if conn := c.Connection(); conn != nil {
		ctx = observe.WithConnection(observe.WithParticipant(ctx, conn.SessionID(), conn.ParticipantID()), conn.InstanceID())
	}

	switch in.Type {
	case protocol.TypeJoinSession:
		r.join(ctx, c, in)
	case protocol.TypeStudentMsg:
		if conn := r.joined(ctx, c); conn != nil {
			r.message(ctx, conn, in.Message, in.IsQuestion, in.HandRaised)
		}
	case protocol.TypeStartSpeaking:
		c.send(ctx, protocol.SpeakingStarted())
	case protocol.TypeStopSpeaking:
		c.send(ctx, protocol.SpeakingStopped())
	case protocol.TypeAudioChunk:
		if conn := r.joined(ctx, c); conn != nil {
			r.audioChunk(ctx, conn, in)
		}
	case protocol.TypeEndUtterance:
		if conn := r.joined(ctx, c); conn != nil {
			r.submitPending(ctx, conn)
		}
	default:
		c.send(ctx, protocol.Error(msgUnknownPrefix+in.Type))
	}
}

// Leave releases the client's registry entry and tells the rest of the
// session. It is a no-op when the client never joined or was replaced by a
// newer connection.
func (r *Router) Leave(ctx context.Context, c *Client) {
	conn := c.Connection()
	if conn == nil {
		return
	}
	c.setConnection(nil)
	if !r.store.Release(conn) {
		return
	}
	session.Broadcast(ctx, r.store, conn.SessionID(), protocol.ParticipantLeft(conn.ParticipantID()), conn.ParticipantID())
}

func (r *Router) joined(ctx context.Context, c *Client) *session.Connection {
	conn := c.Connection()
	if conn == nil {
		c.send(ctx, protocol.Error(MsgNotJoined))
	}
	return conn
}

func (r *Router) join(ctx context.Context, c *Client, in protocol.Inbound) {
	if in.SessionID == "" || in.UserID == "" {
		c.send(ctx, protocol.Error(MsgInvalidJoin))
		return
	}
	var patch session.ConfigPatch
	if len(in.Config) > 0 && string(in.Config) != "null" {
		if err := json.Unmarshal(in.Config, &patch); err != nil {
			observe.Logger(ctx).Debug("router: bad join config", "err", err)
			c.send(ctx, protocol.Error(MsgBadPayload))
			return
		}
	}
	base := session.Config{}
	if sess, ok := r.store.Get(in.SessionID); ok {
		base = sess.Config
	}
	cfg := patch.Apply(base)

	// The same socket joining under another identity gives up the old one.
	if prev := c.Connection(); prev != nil && prev.ParticipantID() != in.UserID {
		r.Leave(ctx, c)
	}
	old, _ := r.store.Lookup(in.UserID)

	conn := r.store.Register(in.UserID, c.transport, in.SessionID, cfg)
	c.setConnection(conn)
	ctx = observe.WithConnection(observe.WithParticipant(ctx, in.SessionID, in.UserID), conn.InstanceID())

	// Register moved the identity out of its old session; tell the peers there.
	if old != nil && old.SessionID() != in.SessionID {
		session.Broadcast(ctx, r.store, old.SessionID(), protocol.ParticipantLeft(in.UserID), in.UserID)
	}

	status := r.store.Status(in.SessionID)
	log := observe.Logger(ctx)
	log.Info("participant joined", "participants", status.ParticipantCount, "session_type", cfg.SessionType)

	if err := conn.Send(ctx, protocol.SessionJoined(in.SessionID, status.ParticipantCount)); err != nil {
		log.Debug("router: send joined", "err", err)
	}

	r.greet(ctx, conn)

	session.Broadcast(ctx, r.store, in.SessionID, protocol.ParticipantJoined(protocol.Participant{
		ID:       in.UserID,
		Name:     fmt.Sprintf("Student %d", status.ParticipantCount),
		JoinedAt: conn.JoinedAt(),
	}), in.UserID)
}

// greet runs the opening turn for a freshly joined participant.
func (r *Router) greet(ctx context.Context, conn *session.Connection) {
	start := time.Now()
	s := r.Settings()
	cfg := conn.Config()
	prompt := s.Persona.GreetingPrompt(cfg.SessionType)

	ctx, span := observe.StartSpan(ctx, "router.greeting")
	defer span.End()

	reply, _, err := r.complete(ctx, s, cfg.SessionType, nil, prompt)
	if err != nil {
		span.RecordError(err)
		observe.Logger(ctx).Error("greeting failed", "err", err)
		r.send(ctx, conn, protocol.Error(MsgGreetingFail))
		r.recordTurn(ctx, "greeting", "error", start)
		return
	}
	conn.History().Add(prompt, reply)

	r.send(ctx, conn, protocol.TextDelta(reply))
	r.speak(ctx, conn, s, reply)
	if cfg.AvatarEnabled && r.avatarID != "" {
		r.send(ctx, conn, protocol.AvatarInitialized(r.avatarID, AvatarReadyMessage))
	}
	if cfg.WhiteboardEnabled {
		r.send(ctx, conn, protocol.WhiteboardAnnotation(mentor.WelcomePointer()))
	}
	r.recordTurn(ctx, "greeting", "ok", start)
}

// message runs one mentor turn for a student utterance.
func (r *Router) message(ctx context.Context, conn *session.Connection, text string, isQuestion, handRaised bool) {
	start := time.Now()
	s := r.Settings()
	cfg := conn.Config()

	ctx, span := observe.StartSpan(ctx, "router.message")
	defer span.End()

	instruction := mentor.TurnInstruction(text, isQuestion, handRaised)
	reply, cues, err := r.complete(ctx, s, cfg.SessionType, conn.History().Messages(), instruction)
	if err != nil {
		span.RecordError(err)
		observe.Logger(ctx).Error("turn failed", "err", err)
		r.send(ctx, conn, protocol.Error(MsgTurnFail))
		r.recordTurn(ctx, "message", "error", start)
		return
	}
	conn.History().Add(text, reply)

	r.send(ctx, conn, protocol.TextDelta(reply))
	r.speak(ctx, conn, s, reply)
	if cfg.AvatarEnabled && r.avatarID != "" {
		r.send(ctx, conn, protocol.AvatarUpdate(string(cues.Expression), string(cues.Gesture)))
	}
	if cfg.WhiteboardEnabled {
		if a, ok := mentor.Annotation(cues.Visual); ok {
			r.send(ctx, conn, protocol.WhiteboardAnnotation(a))
		}
	}
	r.recordTurn(ctx, "message", "ok", start)
}

// complete asks the model for a reply and splits off the cue trailer. The
// returned text is never empty.
func (r *Router) complete(ctx context.Context, s Settings, t session.Type, history []llm.Message, user string) (string, mentor.Cues, error) {
	callCtx := ctx
	if r.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.llmTimeout)
		defer cancel()
	}

	req := llm.CompletionRequest{
		SystemPrompt: s.Persona.SystemPrompt(t),
		Messages:     append(history, llm.Message{Role: llm.RoleUser, Content: user}),
		Temperature:  s.Temperature,
		MaxTokens:    s.MaxTokens,
	}

	start := time.Now()
	resp, err := r.llm.Complete(callCtx, req)
	if r.metrics != nil {
		r.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordProviderRequest(ctx, r.llmName, "llm", "error")
			r.metrics.RecordProviderError(ctx, r.llmName, "llm")
		}
		return "", mentor.NeutralCues, fmt.Errorf("router: complete: %w", err)
	}
	if r.metrics != nil {
		r.metrics.RecordProviderRequest(ctx, r.llmName, "llm", "ok")
	}

	var content string
	if resp != nil {
		content = resp.Content
		if resp.Truncated() {
			// The cue trailer is usually what gets cut.
			observe.Logger(ctx).Warn("reply hit the token limit", "max_tokens", s.MaxTokens)
		}
	}
	text, cues := mentor.ParseCues(content)
	if text == "" {
		text = mentor.FallbackReply
	}
	return text, cues, nil
}

// speak streams the reply as audio when the participant wants voice. A
// synthesis failure leaves the text-only reply in place.
func (r *Router) speak(ctx context.Context, conn *session.Connection, s Settings, text string) {
	if !conn.Config().VoiceEnabled || r.speaker == nil {
		return
	}
	if _, err := r.speaker.Speak(ctx, conn, text, s.Voice); err != nil {
		observe.Logger(ctx).Warn("speech failed, reply stays text-only", "err", err)
	}
}

func (r *Router) audioChunk(ctx context.Context, conn *session.Connection, in protocol.Inbound) {
	if r.transcriber == nil {
		observe.Logger(ctx).Debug("router: audio chunk without transcriber")
		return
	}
	text, err := r.transcriber.Transcribe(ctx, voice.Chunk{
		Data:       in.AudioChunk,
		MIMEType:   in.MimeType,
		SampleRate: in.SampleRate,
		Channels:   in.Channels,
	})
	if err != nil {
		observe.Logger(ctx).Warn("transcription failed, chunk dropped", "err", err)
		return
	}
	if text == "" {
		return
	}
	r.send(ctx, conn, protocol.Transcription(text))
	conn.AppendFragment(text)

	if !r.explicit && strings.ContainsAny(text, ".?!") {
		r.submitPending(ctx, conn)
	}
}

// submitPending sends the buffered spoken utterance through a message turn.
func (r *Router) submitPending(ctx context.Context, conn *session.Connection) {
	utterance := conn.TakeUtterance()
	if utterance == "" {
		return
	}
	r.message(ctx, conn, utterance, strings.Contains(utterance, "?"), false)
}

func (r *Router) send(ctx context.Context, conn *session.Connection, ev protocol.Event) {
	if err := conn.Send(ctx, ev); err != nil {
		observe.Logger(ctx).Debug("router: send failed", "type", ev.Type, "err", err)
	}
}

func (r *Router) recordTurn(ctx context.Context, kind, status string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordTurn(ctx, kind, status, time.Since(start))
	}
}

// LogValue lets a Settings value appear compactly in structured logs.
func (s Settings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", s.Persona.Name),
		slog.Float64("temperature", s.Temperature),
		slog.Int("max_tokens", s.MaxTokens),
		slog.String("voice", s.Voice),
	)
}
