package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz_ReportsCounts(t *testing.T) {
	t.Parallel()

	h := New(func() (int, int) { return 2, 5 })
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode(t, rec)
	if body.Status != "ok" || body.Sessions == nil || *body.Sessions != 2 || *body.Connections != 5 {
		t.Errorf("body = %+v", body)
	}
}

func TestHealthz_NoStats(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	New(nil).Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))
	if body := decode(t, rec); body.Sessions != nil {
		t.Errorf("sessions = %v, want omitted", *body.Sessions)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestReadyz(t *testing.T) {
	t.Parallel()

	llmSet := false
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantChecks map[string]string
	}{
		{"no checkers", nil, http.StatusOK, nil},
		{
			"all pass",
			[]Checker{PingCheck("ledger", pinger{}), Configured("llm", func() bool { return true })},
			http.StatusOK,
			map[string]string{"ledger": "ok", "llm": "ok"},
		},
		{
			"one fails",
			[]Checker{PingCheck("ledger", pinger{errors.New("refused")}), Configured("llm", func() bool { return llmSet })},
			http.StatusServiceUnavailable,
			map[string]string{"ledger": "fail: refused", "llm": "fail: not configured"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			New(nil, tt.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decode(t, rec)
			for k, want := range tt.wantChecks {
				if got := body.Checks[k]; got != want {
					t.Errorf("check %q = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	slow := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(nil, Checker{"a", slow}, Checker{"b", slow}, Checker{"c", slow})

	start := time.Now()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if d := time.Since(start); d > 550*time.Millisecond {
		t.Errorf("readyz took %v; checks ran sequentially", d)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New(nil, Checker{Name: "blocked", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRegister_Routes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(nil).Register(mux)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
}
