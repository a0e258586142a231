// Package control serves the request/response session lifecycle API used by
// the class scheduler: creating, ending and inspecting sessions.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/geova/livementor/internal/ledger"
	"github.com/geova/livementor/internal/observe"
	"github.com/geova/livementor/internal/session"
)

// Actions accepted by POST /api/session.
const (
	ActionCreate = "create_session"
	ActionEnd    = "end_session"
	ActionStatus = "get_session_status"
)

const maxBodyBytes = 1 << 20

// request is the body of every control call.
type request struct {
	Action    string          `json:"action"`
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Config    json.RawMessage `json:"config"`
}

type createResponse struct {
	Success bool            `json:"success"`
	Session session.Session `json:"session"`
}

type endResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// Handler implements the control API over a [session.Store].
type Handler struct {
	store   session.Store
	origins []string
	ledger  ledger.Reader
}

// Option configures a [Handler].
type Option func(*Handler)

// WithOrigins restricts cross-site browser calls to origins whose host
// matches one of patterns. With none every origin is allowed.
func WithOrigins(patterns ...string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// WithLedger answers status requests for sessions that are no longer live
// from the persisted records in r.
func WithLedger(r ledger.Reader) Option {
	return func(h *Handler) { h.ledger = r }
}

// New returns a Handler serving store.
func New(store session.Store, opts ...Option) *Handler {
	h := &Handler{store: store}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the control routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/session", h.cors(http.HandlerFunc(h.serveSession)))
	mux.Handle("OPTIONS /api/session", h.cors(http.HandlerFunc(preflight)))
}

func (h *Handler) serveSession(w http.ResponseWriter, r *http.Request) {
	var req request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch req.Action {
	case ActionCreate, ActionEnd, ActionStatus:
	default:
		writeError(w, http.StatusBadRequest, "Invalid action")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	log := observe.Logger(r.Context()).With("action", req.Action, "session", req.SessionID)

	switch req.Action {
	case ActionCreate:
		cfg, err := decodeConfig(req.Config)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid session config")
			return
		}
		sess := h.store.CreateSession(req.SessionID, req.UserID, cfg)
		log.Info("session created", "owner", req.UserID, "session_type", sess.Type)
		writeJSON(w, http.StatusOK, createResponse{Success: true, Session: sess})

	case ActionEnd:
		existed := h.store.EndSession(r.Context(), req.SessionID)
		log.Info("session ended", "existed", existed)
		writeJSON(w, http.StatusOK, endResponse{Success: true})

	case ActionStatus:
		st := h.store.Status(req.SessionID)
		if !st.IsActive && h.ledger != nil {
			st = h.recorded(r.Context(), req.SessionID)
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// recorded builds an inactive status from the ledger. Sessions the ledger
// does not know, or cannot read, report as absent.
func (h *Handler) recorded(ctx context.Context, sessionID string) session.Status {
	rec, err := h.ledger.Session(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			observe.Logger(ctx).Warn("control: ledger lookup failed", "session", sessionID, "err", err)
		}
		return session.Status{}
	}
	parts, err := h.ledger.Participants(ctx, sessionID)
	if err != nil {
		observe.Logger(ctx).Warn("control: ledger participants failed", "session", sessionID, "err", err)
	}

	sess := session.Session{
		ID:           rec.ID,
		Type:         rec.Type,
		CreatedBy:    rec.CreatedBy,
		Config:       rec.Config,
		CreatedAt:    rec.StartedAt,
		Participants: []string{},
		State:        session.StateEnded,
		LastActivity: rec.StartedAt,
	}
	if rec.EndedAt != nil {
		sess.LastActivity = *rec.EndedAt
	}
	for _, p := range parts {
		if !slices.Contains(sess.Participants, p.ParticipantID) {
			sess.Participants = append(sess.Participants, p.ParticipantID)
		}
		if p.LeftAt != nil && p.LeftAt.After(sess.LastActivity) {
			sess.LastActivity = *p.LeftAt
		}
	}
	return session.Status{Session: &sess}
}

func decodeConfig(raw json.RawMessage) (session.Config, error) {
	var patch session.ConfigPatch
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &patch); err != nil {
			return session.Config{}, err
		}
	}
	return patch.Apply(session.Config{}), nil
}

// cors adds the headers browser clients need to call the API cross-site.
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(h.origins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && h.allowed(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		next.ServeHTTP(w, r)
	})
}

// allowed matches origin against the configured host patterns the same way
// the websocket gateway does: path.Match globs against the lower-cased host,
// so "*" matches any host and "*.example.com" any subdomain.
func (h *Handler) allowed(origin string) bool {
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host = strings.ToLower(host)
	return slices.ContainsFunc(h.origins, func(p string) bool {
		ok, err := path.Match(strings.ToLower(p), host)
		if err != nil {
			slog.Debug("control: bad origin pattern", "pattern", p, "err", err)
		}
		return ok
	})
}

func preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: true, Message: msg})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("control: write response", "err", err)
	}
}
