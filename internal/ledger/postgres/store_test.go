package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geova/livementor/internal/ledger"
	"github.com/geova/livementor/internal/ledger/postgres"
	"github.com/geova/livementor/internal/session"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if LIVEMENTOR_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("LIVEMENTOR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LIVEMENTOR_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS mentor_session_participants CASCADE",
		"DROP TABLE IF EXISTS mentor_sessions CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	sess := session.Session{
		ID:        "s1",
		Type:      session.TypePrivate,
		CreatedBy: "instructor",
		Config:    session.Config{VoiceEnabled: true, SessionType: session.TypePrivate},
		CreatedAt: t0,
	}
	if err := store.SessionStarted(ctx, sess); err != nil {
		t.Fatalf("SessionStarted: %v", err)
	}
	if err := store.ParticipantJoined(ctx, "s1", "alice", t0.Add(time.Minute)); err != nil {
		t.Fatalf("ParticipantJoined: %v", err)
	}
	if err := store.ParticipantJoined(ctx, "s1", "bob", t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("ParticipantJoined: %v", err)
	}
	if err := store.ParticipantLeft(ctx, "s1", "alice", t0.Add(3*time.Minute)); err != nil {
		t.Fatalf("ParticipantLeft: %v", err)
	}

	rec, err := store.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if rec.Status != ledger.StatusLive || rec.Type != session.TypePrivate || !rec.Config.VoiceEnabled {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.EndedAt != nil {
		t.Error("live session must not have an end time")
	}

	end := t0.Add(10 * time.Minute)
	if err := store.SessionEnded(ctx, "s1", end); err != nil {
		t.Fatalf("SessionEnded: %v", err)
	}
	rec, err = store.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if rec.Status != ledger.StatusEnded || rec.EndedAt == nil || !rec.EndedAt.Equal(end) {
		t.Errorf("unexpected ended record: %+v", rec)
	}

	parts, err := store.Participants(ctx, "s1")
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("expected 2 participant rows, got %d", len(parts))
	}
	if parts[0].ParticipantID != "alice" || parts[0].LeftAt == nil || !parts[0].LeftAt.Equal(t0.Add(3*time.Minute)) {
		t.Errorf("alice row = %+v", parts[0])
	}
	if parts[1].LeftAt == nil || !parts[1].LeftAt.Equal(end) {
		t.Errorf("bob row should be closed at session end: %+v", parts[1])
	}
}

func TestStore_SessionNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Session(context.Background(), "missing")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	dsn := testDSN(t)
	_ = newTestStore(t)
	second, err := postgres.NewStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("second NewStore: %v", err)
	}
	second.Close()
}
