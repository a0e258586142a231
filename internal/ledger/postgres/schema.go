// Package postgres provides a PostgreSQL-backed session ledger.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	rec := ledger.NewRecorder(store)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS mentor_sessions (
    id           TEXT         PRIMARY KEY,
    session_type TEXT         NOT NULL DEFAULT 'group',
    created_by   TEXT         NOT NULL DEFAULT '',
    config       JSONB        NOT NULL DEFAULT '{}'::jsonb,
    status       TEXT         NOT NULL DEFAULT 'live',
    started_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_mentor_sessions_status
    ON mentor_sessions (status);
`

const ddlParticipants = `
CREATE TABLE IF NOT EXISTS mentor_session_participants (
    id             BIGSERIAL    PRIMARY KEY,
    session_id     TEXT         NOT NULL,
    participant_id TEXT         NOT NULL,
    joined_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    left_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_mentor_participants_session
    ON mentor_session_participants (session_id, joined_at);

CREATE INDEX IF NOT EXISTS idx_mentor_participants_open
    ON mentor_session_participants (session_id, participant_id)
    WHERE left_at IS NULL;
`

// Migrate creates the ledger tables if they do not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []struct {
		name string
		sql  string
	}{
		{"mentor_sessions", ddlSessions},
		{"mentor_session_participants", ddlParticipants},
	} {
		if _, err := pool.Exec(ctx, stmt.sql); err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.name, err)
		}
	}
	return nil
}
