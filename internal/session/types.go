package session

import (
	"context"
	"time"

	"github.com/geova/livementor/internal/protocol"
)

// Type selects the mentor's register for a session.
type Type string

const (
	TypeGroup   Type = "group"
	TypePrivate Type = "private"
)

// State is a session's lifecycle stage.
type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StateEnded   State = "ended"
)

// Config controls which modalities a connection receives. A session carries
// one as the default for connections that join without their own.
type Config struct {
	VoiceEnabled      bool `json:"voiceEnabled"`
	AvatarEnabled     bool `json:"avatarEnabled"`
	WhiteboardEnabled bool `json:"whiteboardEnabled"`
	SessionType       Type `json:"sessionType,omitempty"`
}

// Normalize fills the session type default.
func (c Config) Normalize() Config {
	if c.SessionType != TypePrivate {
		c.SessionType = TypeGroup
	}
	return c
}

// ConfigPatch is a partially specified [Config] as sent by clients. Absent
// fields inherit from the base it is applied to.
type ConfigPatch struct {
	VoiceEnabled      *bool `json:"voiceEnabled,omitempty"`
	AvatarEnabled     *bool `json:"avatarEnabled,omitempty"`
	WhiteboardEnabled *bool `json:"whiteboardEnabled,omitempty"`
	SessionType       *Type `json:"sessionType,omitempty"`
}

// Apply overlays p on base.
func (p ConfigPatch) Apply(base Config) Config {
	if p.VoiceEnabled != nil {
		base.VoiceEnabled = *p.VoiceEnabled
	}
	if p.AvatarEnabled != nil {
		base.AvatarEnabled = *p.AvatarEnabled
	}
	if p.WhiteboardEnabled != nil {
		base.WhiteboardEnabled = *p.WhiteboardEnabled
	}
	if p.SessionType != nil {
		base.SessionType = *p.SessionType
	}
	return base.Normalize()
}

// Session is a snapshot of a live tutoring room.
type Session struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	CreatedBy    string    `json:"createdBy"`
	Config       Config    `json:"config"`
	CreatedAt    time.Time `json:"createdAt"`
	Participants []string  `json:"participants"`
	State        State     `json:"state"`
	LastActivity time.Time `json:"lastActivity"`
}

// Status is the control channel's view of a session.
type Status struct {
	Session          *Session `json:"session"`
	IsActive         bool     `json:"isActive"`
	ParticipantCount int      `json:"participantCount"`
}

// Transport delivers events to one participant's client.
type Transport interface {
	// Send writes ev. It must be safe for concurrent use.
	Send(ctx context.Context, ev protocol.Event) error

	// Close terminates the channel. Calling Close more than once is allowed.
	Close(reason string) error
}

// Observer follows the session lifecycle. Callbacks run synchronously after
// the store has released its locks and must not block.
type Observer interface {
	OnSessionCreated(s Session)
	OnParticipantJoined(sessionID, participantID string, at time.Time)
	OnParticipantLeft(sessionID, participantID string, at time.Time)
	OnSessionEnded(sessionID string, at time.Time)
}

// Store is the registry of live connections and sessions.
type Store interface {
	Register(participantID string, t Transport, sessionID string, cfg Config) *Connection
	Unregister(participantID string) bool
	Release(c *Connection) bool
	Lookup(participantID string) (*Connection, bool)
	LookupBySession(sessionID string) []*Connection
	EndSession(ctx context.Context, sessionID string) bool
	CreateSession(sessionID, ownerID string, cfg Config) Session
	Get(sessionID string) (Session, bool)
	Status(sessionID string) Status
	Reap(idle time.Duration) []string
	Counts() (sessions, connections int)
}
