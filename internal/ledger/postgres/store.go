package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geova/livementor/internal/ledger"
	"github.com/geova/livementor/internal/session"
)

// Compile-time interface checks.
var (
	_ ledger.Sink   = (*Store)(nil)
	_ ledger.Reader = (*Store)(nil)
)

// Store is the PostgreSQL session ledger. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ledger store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [ledger.Sink].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ledger store: ping: %w", err)
	}
	return nil
}

// SessionStarted implements [ledger.Sink]. Re-creating an id resets the row
// to live.
func (s *Store) SessionStarted(ctx context.Context, sess session.Session) error {
	const q = `
		INSERT INTO mentor_sessions (id, session_type, created_by, config, status, started_at, ended_at)
		VALUES ($1, $2, $3, $4::jsonb, 'live', $5, NULL)
		ON CONFLICT (id) DO UPDATE SET
		    session_type = EXCLUDED.session_type,
		    created_by   = EXCLUDED.created_by,
		    config       = EXCLUDED.config,
		    status       = 'live',
		    started_at   = EXCLUDED.started_at,
		    ended_at     = NULL`

	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("ledger store: encode config: %w", err)
	}
	if _, err := s.pool.Exec(ctx, q, sess.ID, string(sess.Type), sess.CreatedBy, string(cfg), sess.CreatedAt); err != nil {
		return fmt.Errorf("ledger store: session started: %w", err)
	}
	return nil
}

// ParticipantJoined implements [ledger.Sink].
func (s *Store) ParticipantJoined(ctx context.Context, sessionID, participantID string, at time.Time) error {
	const q = `
		INSERT INTO mentor_session_participants (session_id, participant_id, joined_at)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, q, sessionID, participantID, at); err != nil {
		return fmt.Errorf("ledger store: participant joined: %w", err)
	}
	return nil
}

// ParticipantLeft implements [ledger.Sink]. It closes the participant's most
// recent open row.
func (s *Store) ParticipantLeft(ctx context.Context, sessionID, participantID string, at time.Time) error {
	const q = `
		UPDATE mentor_session_participants SET left_at = $3
		WHERE id = (
		    SELECT id FROM mentor_session_participants
		    WHERE  session_id = $1 AND participant_id = $2 AND left_at IS NULL
		    ORDER  BY joined_at DESC
		    LIMIT  1
		)`

	if _, err := s.pool.Exec(ctx, q, sessionID, participantID, at); err != nil {
		return fmt.Errorf("ledger store: participant left: %w", err)
	}
	return nil
}

// SessionEnded implements [ledger.Sink]. Open participant rows are closed at
// the same instant.
func (s *Store) SessionEnded(ctx context.Context, sessionID string, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger store: session ended: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE mentor_sessions SET status = 'ended', ended_at = $2 WHERE id = $1 AND status = 'live'`,
		sessionID, at); err != nil {
		return fmt.Errorf("ledger store: session ended: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE mentor_session_participants SET left_at = $2 WHERE session_id = $1 AND left_at IS NULL`,
		sessionID, at); err != nil {
		return fmt.Errorf("ledger store: session ended: close participants: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger store: session ended: commit: %w", err)
	}
	return nil
}

// Session implements [ledger.Reader].
func (s *Store) Session(ctx context.Context, id string) (ledger.SessionRecord, error) {
	const q = `
		SELECT id, session_type, created_by, config, status, started_at, ended_at
		FROM   mentor_sessions
		WHERE  id = $1`

	var (
		rec     ledger.SessionRecord
		typ     string
		status  string
		rawConf []byte
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(&rec.ID, &typ, &rec.CreatedBy, &rawConf, &status, &rec.StartedAt, &rec.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.SessionRecord{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.SessionRecord{}, fmt.Errorf("ledger store: get session: %w", err)
	}
	if err := json.Unmarshal(rawConf, &rec.Config); err != nil {
		return ledger.SessionRecord{}, fmt.Errorf("ledger store: decode config: %w", err)
	}
	rec.Type = session.Type(typ)
	rec.Status = ledger.Status(status)
	return rec, nil
}

// Participants implements [ledger.Reader]. Rows are ordered by join time.
func (s *Store) Participants(ctx context.Context, sessionID string) ([]ledger.ParticipantRecord, error) {
	const q = `
		SELECT session_id, participant_id, joined_at, left_at
		FROM   mentor_session_participants
		WHERE  session_id = $1
		ORDER  BY joined_at, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ledger store: participants: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.ParticipantRecord, error) {
		var p ledger.ParticipantRecord
		err := row.Scan(&p.SessionID, &p.ParticipantID, &p.JoinedAt, &p.LeftAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger store: participants: scan: %w", err)
	}
	return out, nil
}
