// Package health serves the liveness and readiness probes of the mentor
// server.
//
//   - GET /healthz reports that the process serves HTTP, together with the
//     live session and connection counts.
//   - GET /readyz runs every [Checker] concurrently and returns 503 when any
//     of them fails.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe.
type Checker struct {
	// Name keys the result in the response, e.g. "ledger" or "llm".
	Name string

	// Check returns nil when the dependency is usable. It must honour ctx.
	Check func(ctx context.Context) error
}

// Pinger is satisfied by storage backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck returns a Checker that pings p.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// ErrNotConfigured is reported by [Configured] for a missing dependency.
var ErrNotConfigured = errors.New("not configured")

// Configured returns a Checker that fails while present reports false.
func Configured(name string, present func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !present() {
			return ErrNotConfigured
		}
		return nil
	}}
}

// Stats reports live session and connection counts.
type Stats func() (sessions, connections int)

type result struct {
	Status      string            `json:"status"`
	Sessions    *int              `json:"sessions,omitempty"`
	Connections *int              `json:"connections,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	stats    Stats
}

// New returns a Handler evaluating checkers on every readiness probe. stats
// may be nil.
func New(stats Stats, checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...), stats: stats}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := result{Status: "ok"}
	if h.stats != nil {
		s, c := h.stats()
		res.Sessions, res.Connections = &s, &c
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz answers 200 when every checker passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		failed bool
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
				return nil
			}
			checks[c.Name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	res, status := result{Status: "ok", Checks: checks}, http.StatusOK
	if failed {
		res.Status, status = "fail", http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("health: write response", "err", err)
	}
}
