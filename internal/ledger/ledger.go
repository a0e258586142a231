// Package ledger persists the session lifecycle (start, participant joins and
// leaves, end) outside the live store. Writes are asynchronous: a slow or
// unavailable database never delays or fails a live session.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/geova/livementor/internal/session"
)

// ErrNotFound is returned by [Reader] implementations for unknown sessions.
var ErrNotFound = errors.New("ledger: session not found")

// Sink is a durable destination for lifecycle records.
type Sink interface {
	SessionStarted(ctx context.Context, s session.Session) error
	ParticipantJoined(ctx context.Context, sessionID, participantID string, at time.Time) error
	ParticipantLeft(ctx context.Context, sessionID, participantID string, at time.Time) error
	SessionEnded(ctx context.Context, sessionID string, at time.Time) error
	Ping(ctx context.Context) error
}

// Status is the recorded outcome of a session.
type Status string

const (
	StatusLive  Status = "live"
	StatusEnded Status = "ended"
)

// SessionRecord is one persisted session row.
type SessionRecord struct {
	ID        string
	Type      session.Type
	CreatedBy string
	Config    session.Config
	Status    Status
	StartedAt time.Time
	EndedAt   *time.Time
}

// ParticipantRecord is one persisted join. LeftAt is nil while connected.
type ParticipantRecord struct {
	SessionID     string
	ParticipantID string
	JoinedAt      time.Time
	LeftAt        *time.Time
}

// Reader exposes persisted records.
type Reader interface {
	Session(ctx context.Context, id string) (SessionRecord, error)
	Participants(ctx context.Context, sessionID string) ([]ParticipantRecord, error)
}

// Nop discards every record. It is used when no database is configured.
type Nop struct{}

var _ Sink = Nop{}

func (Nop) SessionStarted(context.Context, session.Session) error { return nil }
func (Nop) ParticipantJoined(context.Context, string, string, time.Time) error {
	return nil
}
func (Nop) ParticipantLeft(context.Context, string, string, time.Time) error { return nil }
func (Nop) SessionEnded(context.Context, string, time.Time) error           { return nil }
func (Nop) Ping(context.Context) error                                      { return nil }
