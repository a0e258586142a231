package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/geova/livementor/internal/protocol"
)

// Compile-time interface assertion.
var _ Store = (*MemStore)(nil)

// MemStore is the in-process [Store]. Transport I/O and observer callbacks
// always run after the lock is released.
//
// All methods are safe for concurrent use.
type MemStore struct {
	observers []Observer
	now       func() time.Time
	maxTurns  int
	maxTokens int

	mu       sync.RWMutex
	conns    map[string]*Connection
	sessions map[string]*Session
}

// MemStoreOption configures a [MemStore].
type MemStoreOption func(*MemStore)

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) MemStoreOption {
	return func(s *MemStore) { s.observers = append(s.observers, o) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemStoreOption {
	return func(s *MemStore) { s.now = now }
}

// WithHistoryLimits bounds each connection's conversation log.
func WithHistoryLimits(turns, tokens int) MemStoreOption {
	return func(s *MemStore) {
		s.maxTurns = turns
		s.maxTokens = tokens
	}
}

// NewMemStore returns an empty store.
func NewMemStore(opts ...MemStoreOption) *MemStore {
	s := &MemStore{
		now:      time.Now,
		maxTurns: 10,
		conns:    make(map[string]*Connection),
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register inserts or replaces the connection for participantID and adds it
// to sessionID, creating the session on first join. A replaced connection
// with a different transport is closed. A reconnect into the same session
// keeps the conversation log.
func (s *MemStore) Register(participantID string, t Transport, sessionID string, cfg Config) *Connection {
	now := s.now()
	cfg = cfg.Normalize()

	s.mu.Lock()
	old := s.conns[participantID]

	h := NewHistory(s.maxTurns, s.maxTokens)
	if old != nil && old.sessionID == sessionID {
		h = old.history
	}
	c := newConnection(participantID, t, sessionID, cfg, now, h)
	s.conns[participantID] = c

	if old != nil && old.sessionID != sessionID {
		if prev := s.sessions[old.sessionID]; prev != nil {
			prev.Participants = removeID(prev.Participants, participantID)
			prev.LastActivity = now
		}
	}

	var created *Session
	sess := s.sessions[sessionID]
	if sess == nil {
		sess = &Session{
			ID:        sessionID,
			Type:      cfg.SessionType,
			CreatedBy: participantID,
			Config:    cfg,
			CreatedAt: now,
			State:     StateCreated,
		}
		s.sessions[sessionID] = sess
		snap := sess.clone()
		created = &snap
	}
	if !slices.Contains(sess.Participants, participantID) {
		sess.Participants = append(sess.Participants, participantID)
	}
	sess.State = StateActive
	sess.LastActivity = now
	s.mu.Unlock()

	if old != nil && old.transport != t {
		if err := old.transport.Close("replaced by a newer connection"); err != nil {
			slog.Debug("session: close replaced transport", "participant", participantID, "err", err)
		}
	}
	if old != nil && old.sessionID != sessionID {
		s.notify(func(o Observer) { o.OnParticipantLeft(old.sessionID, participantID, now) })
	}
	if created != nil {
		s.notify(func(o Observer) { o.OnSessionCreated(*created) })
	}
	s.notify(func(o Observer) { o.OnParticipantJoined(sessionID, participantID, now) })
	return c
}

// Unregister removes the connection for participantID and drops the id from
// its session's participant list. It reports whether an entry existed.
func (s *MemStore) Unregister(participantID string) bool {
	s.mu.Lock()
	c, ok := s.conns[participantID]
	if ok {
		s.removeLocked(c)
	}
	s.mu.Unlock()

	if ok {
		s.left(c)
	}
	return ok
}

// Release behaves like [MemStore.Unregister] but only if c is still the live
// entry for its participant.
func (s *MemStore) Release(c *Connection) bool {
	if c == nil {
		return false
	}
	s.mu.Lock()
	cur, ok := s.conns[c.participantID]
	ok = ok && cur == c
	if ok {
		s.removeLocked(c)
	}
	s.mu.Unlock()

	if ok {
		s.left(c)
	}
	return ok
}

// Lookup returns the live connection for participantID.
func (s *MemStore) Lookup(participantID string) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[participantID]
	return c, ok
}

// LookupBySession returns the live connections of sessionID in join order.
func (s *MemStore) LookupBySession(sessionID string) []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess := s.sessions[sessionID]
	if sess == nil {
		return nil
	}
	out := make([]*Connection, 0, len(sess.Participants))
	for _, id := range sess.Participants {
		if c := s.conns[id]; c != nil && c.sessionID == sessionID {
			out = append(out, c)
		}
	}
	return out
}

// EndSession notifies and closes every connection of sessionID, then deletes
// the session. It reports whether the session existed. Unknown ids are a
// no-op.
func (s *MemStore) EndSession(ctx context.Context, sessionID string) bool {
	now := s.now()

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	var closing []*Connection
	if ok {
		for _, id := range sess.Participants {
			if c := s.conns[id]; c != nil && c.sessionID == sessionID {
				closing = append(closing, c)
				delete(s.conns, id)
			}
		}
		sess.State = StateEnded
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	ended := protocol.SessionEnded(sessionID)
	for _, c := range closing {
		if err := c.transport.Send(ctx, ended); err != nil {
			slog.Debug("session: notify end", "session", sessionID, "participant", c.participantID, "err", err)
		}
		if err := c.transport.Close("session ended"); err != nil {
			slog.Debug("session: close transport", "session", sessionID, "participant", c.participantID, "err", err)
		}
	}
	s.notify(func(o Observer) { o.OnSessionEnded(sessionID, now) })
	return true
}

// CreateSession records sessionID with the given owner and default config,
// overwriting any prior metadata. Participants already connected stay
// attached.
func (s *MemStore) CreateSession(sessionID, ownerID string, cfg Config) Session {
	now := s.now()
	cfg = cfg.Normalize()

	s.mu.Lock()
	sess := &Session{
		ID:           sessionID,
		Type:         cfg.SessionType,
		CreatedBy:    ownerID,
		Config:       cfg,
		CreatedAt:    now,
		State:        StateCreated,
		LastActivity: now,
	}
	if prev := s.sessions[sessionID]; prev != nil {
		sess.Participants = prev.Participants
		if len(sess.Participants) > 0 {
			sess.State = StateActive
		}
	}
	s.sessions[sessionID] = sess
	snap := sess.clone()
	s.mu.Unlock()

	s.notify(func(o Observer) { o.OnSessionCreated(snap) })
	return snap
}

// Get returns a snapshot of sessionID.
func (s *MemStore) Get(sessionID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Status reports whether sessionID exists and how many participants are
// connected.
func (s *MemStore) Status(sessionID string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Status{}
	}
	snap := sess.clone()
	return Status{
		Session:          &snap,
		IsActive:         true,
		ParticipantCount: len(sess.Participants),
	}
}

// Reap deletes sessions with no participants that have been idle for longer
// than idle and returns their ids.
func (s *MemStore) Reap(idle time.Duration) []string {
	now := s.now()

	s.mu.Lock()
	var reaped []string
	for id, sess := range s.sessions {
		if len(sess.Participants) == 0 && now.Sub(sess.LastActivity) > idle {
			delete(s.sessions, id)
			reaped = append(reaped, id)
		}
	}
	s.mu.Unlock()

	slices.Sort(reaped)
	for _, id := range reaped {
		s.notify(func(o Observer) { o.OnSessionEnded(id, now) })
	}
	return reaped
}

// Counts returns the number of sessions and live connections.
func (s *MemStore) Counts() (sessions, connections int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), len(s.conns)
}

// removeLocked must be called with s.mu held.
func (s *MemStore) removeLocked(c *Connection) {
	delete(s.conns, c.participantID)
	if sess := s.sessions[c.sessionID]; sess != nil {
		sess.Participants = removeID(sess.Participants, c.participantID)
		sess.LastActivity = s.now()
	}
}

func (s *MemStore) left(c *Connection) {
	at := s.now()
	s.notify(func(o Observer) { o.OnParticipantLeft(c.sessionID, c.participantID, at) })
}

func (s *MemStore) notify(fn func(Observer)) {
	for _, o := range s.observers {
		fn(o)
	}
}

func (sess *Session) clone() Session {
	out := *sess
	out.Participants = slices.Clone(sess.Participants)
	if out.Participants == nil {
		out.Participants = []string{}
	}
	return out
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(s string) bool { return s == id })
}
