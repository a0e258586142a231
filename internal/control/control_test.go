package control_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geova/livementor/internal/control"
	"github.com/geova/livementor/internal/ledger"
	"github.com/geova/livementor/internal/protocol"
	"github.com/geova/livementor/internal/session"
	"github.com/geova/livementor/internal/session/mock"
)

func newMux(store session.Store, origins ...string) *http.ServeMux {
	mux := http.NewServeMux()
	control.New(store, control.WithOrigins(origins...)).Register(mux)
	return mux
}

func post(t *testing.T, mux http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var m map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, m
}

func TestCreateThenStatus(t *testing.T) {
	t.Parallel()

	mux := newMux(session.NewMemStore())

	rec, body := post(t, mux, `{"action":"create_session","sessionId":"x","userId":"u1","config":{}}`)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("create = %d %v", rec.Code, body)
	}
	sess := body["session"].(map[string]any)
	if sess["id"] != "x" || sess["createdBy"] != "u1" || sess["type"] != "group" {
		t.Errorf("session = %v", sess)
	}

	_, status := post(t, mux, `{"action":"get_session_status","sessionId":"x"}`)
	if status["isActive"] != true || status["participantCount"] != float64(0) {
		t.Errorf("status = %v", status)
	}
}

func TestCreate_PrivateConfig(t *testing.T) {
	t.Parallel()

	store := session.NewMemStore()
	mux := newMux(store)
	post(t, mux, `{"action":"create_session","sessionId":"x","userId":"u1","config":{"sessionType":"private","voiceEnabled":true}}`)

	sess, ok := store.Get("x")
	if !ok {
		t.Fatal("session not stored")
	}
	if sess.Type != session.TypePrivate || !sess.Config.VoiceEnabled {
		t.Errorf("session = %+v", sess)
	}
}

func TestStatus_Unknown(t *testing.T) {
	t.Parallel()

	_, body := post(t, newMux(session.NewMemStore()), `{"action":"get_session_status","sessionId":"nope"}`)
	if body["isActive"] != false || body["session"] != nil || body["participantCount"] != float64(0) {
		t.Errorf("status = %v", body)
	}
}

// fakeLedger serves fixed records.
type fakeLedger struct {
	sessions     map[string]ledger.SessionRecord
	participants map[string][]ledger.ParticipantRecord
	err          error
}

func (f *fakeLedger) Session(_ context.Context, id string) (ledger.SessionRecord, error) {
	if f.err != nil {
		return ledger.SessionRecord{}, f.err
	}
	rec, ok := f.sessions[id]
	if !ok {
		return ledger.SessionRecord{}, ledger.ErrNotFound
	}
	return rec, nil
}

func (f *fakeLedger) Participants(_ context.Context, sessionID string) ([]ledger.ParticipantRecord, error) {
	return f.participants[sessionID], nil
}

func TestStatus_FromLedger(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ended := started.Add(time.Hour)
	leftA := started.Add(50 * time.Minute)
	rd := &fakeLedger{
		sessions: map[string]ledger.SessionRecord{
			"old": {
				ID:        "old",
				Type:      session.TypePrivate,
				CreatedBy: "instructor",
				Status:    ledger.StatusEnded,
				StartedAt: started,
				EndedAt:   &ended,
			},
		},
		participants: map[string][]ledger.ParticipantRecord{
			"old": {
				{SessionID: "old", ParticipantID: "a", JoinedAt: started, LeftAt: &leftA},
				{SessionID: "old", ParticipantID: "b", JoinedAt: started, LeftAt: &ended},
				{SessionID: "old", ParticipantID: "a", JoinedAt: started.Add(55 * time.Minute), LeftAt: &ended},
			},
		},
	}
	store := session.NewMemStore()
	mux := http.NewServeMux()
	control.New(store, control.WithLedger(rd)).Register(mux)

	_, body := post(t, mux, `{"action":"get_session_status","sessionId":"old"}`)
	if body["isActive"] != false || body["participantCount"] != float64(0) {
		t.Errorf("status = %v", body)
	}
	sess, ok := body["session"].(map[string]any)
	if !ok {
		t.Fatalf("session missing from status: %v", body)
	}
	if sess["id"] != "old" || sess["type"] != "private" || sess["createdBy"] != "instructor" || sess["state"] != "ended" {
		t.Errorf("session = %v", sess)
	}
	if got := sess["participants"].([]any); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("participants = %v", got)
	}
	if sess["lastActivity"] != ended.Format(time.RFC3339) {
		t.Errorf("lastActivity = %v, want %s", sess["lastActivity"], ended.Format(time.RFC3339))
	}

	// Live sessions are answered from the store, not the ledger.
	store.CreateSession("old", "u2", session.Config{})
	_, body = post(t, mux, `{"action":"get_session_status","sessionId":"old"}`)
	if body["isActive"] != true {
		t.Errorf("live status = %v", body)
	}

	_, body = post(t, mux, `{"action":"get_session_status","sessionId":"never"}`)
	if body["isActive"] != false || body["session"] != nil {
		t.Errorf("unknown status = %v", body)
	}
}

func TestStatus_LedgerUnavailable(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	control.New(session.NewMemStore(), control.WithLedger(&fakeLedger{err: errors.New("connection refused")})).Register(mux)

	rec, body := post(t, mux, `{"action":"get_session_status","sessionId":"old"}`)
	if rec.Code != http.StatusOK || body["isActive"] != false || body["session"] != nil {
		t.Errorf("status = %d %v", rec.Code, body)
	}
}

func TestEndSession_Idempotent(t *testing.T) {
	t.Parallel()

	store := session.NewMemStore()
	tr := &mock.Transport{}
	store.Register("a", tr, "s1", session.Config{})
	mux := newMux(store)

	for i := range 2 {
		rec, body := post(t, mux, `{"action":"end_session","sessionId":"s1"}`)
		if rec.Code != http.StatusOK || body["success"] != true {
			t.Fatalf("call %d: %d %v", i, rec.Code, body)
		}
	}
	if closed, _ := tr.Closed(); !closed {
		t.Error("participant transport not closed")
	}
	if types := tr.Types(); len(types) != 1 || types[0] != protocol.TypeSessionEnded {
		t.Errorf("events = %v", types)
	}
	if st := store.Status("s1"); st.IsActive {
		t.Error("session still active")
	}
	if _, ok := store.Lookup("a"); ok {
		t.Error("connection still registered")
	}
}

func TestBadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown action", `{"action":"dance","sessionId":"x"}`, "Invalid action"},
		{"malformed json", `{"action":`, "Invalid request body"},
		{"missing session", `{"action":"end_session"}`, "sessionId is required"},
		{"bad config", `{"action":"create_session","sessionId":"x","config":{"voiceEnabled":"yes"}}`, "Invalid session config"},
	}
	mux := newMux(session.NewMemStore())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, body := post(t, mux, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if body["error"] != true || body["message"] != tt.want {
				t.Errorf("body = %v, want message %q", body, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	t.Run("preflight open", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodOptions, "/api/session", nil)
		rec := httptest.NewRecorder()
		newMux(session.NewMemStore()).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("allow origin = %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
			t.Errorf("allow methods = %q", got)
		}
	})

	t.Run("restricted", func(t *testing.T) {
		t.Parallel()
		mux := newMux(session.NewMemStore(), "app.geova.example")

		req := httptest.NewRequest(http.MethodOptions, "/api/session", nil)
		req.Header.Set("Origin", "https://app.geova.example")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.geova.example" {
			t.Errorf("allowed origin header = %q", got)
		}

		req = httptest.NewRequest(http.MethodOptions, "/api/session", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("foreign origin got %q", got)
		}
	})

	t.Run("wildcard subdomain", func(t *testing.T) {
		t.Parallel()
		mux := newMux(session.NewMemStore(), "*.geova.example")

		tests := []struct {
			origin string
			want   string
		}{
			{"https://app.geova.example", "https://app.geova.example"},
			{"https://Class.GEOVA.example", "https://Class.GEOVA.example"},
			{"https://geova.example", ""},
			{"https://app.geova.example.evil", ""},
		}
		for _, tt := range tests {
			req := httptest.NewRequest(http.MethodOptions, "/api/session", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("origin %s: allow origin = %q, want %q", tt.origin, got, tt.want)
			}
		}
	})
}
