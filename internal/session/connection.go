package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geova/livementor/internal/protocol"
)

// Connection is one participant's live channel into a session.
type Connection struct {
	participantID string
	instanceID    string
	transport     Transport
	sessionID     string
	config        Config
	joinedAt      time.Time
	history       *History

	mu      sync.Mutex
	pending []string
}

func newConnection(participantID string, t Transport, sessionID string, cfg Config, at time.Time, h *History) *Connection {
	return &Connection{
		participantID: participantID,
		instanceID:    uuid.NewString(),
		transport:     t,
		sessionID:     sessionID,
		config:        cfg,
		joinedAt:      at,
		history:       h,
	}
}

// ParticipantID returns the participant identity.
func (c *Connection) ParticipantID() string { return c.participantID }

// InstanceID distinguishes successive connections of the same participant.
func (c *Connection) InstanceID() string { return c.instanceID }

// SessionID returns the session the connection joined.
func (c *Connection) SessionID() string { return c.sessionID }

// Config returns the effective modality configuration.
func (c *Connection) Config() Config { return c.config }

// JoinedAt returns the registration time.
func (c *Connection) JoinedAt() time.Time { return c.joinedAt }

// Transport returns the underlying transport.
func (c *Connection) Transport() Transport { return c.transport }

// History returns the connection's conversation log.
func (c *Connection) History() *History { return c.history }

// Send delivers ev over the connection's transport.
func (c *Connection) Send(ctx context.Context, ev protocol.Event) error {
	return c.transport.Send(ctx, ev)
}

// AppendFragment adds a transcribed fragment to the pending utterance.
func (c *Connection) AppendFragment(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, text)
	c.mu.Unlock()
}

// TakeUtterance returns the pending utterance and clears it.
func (c *Connection) TakeUtterance() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := strings.Join(c.pending, " ")
	c.pending = c.pending[:0]
	return s
}
