package app

import (
	"context"
	"sync"
	"time"

	"github.com/geova/livementor/internal/observe"
	"github.com/geova/livementor/internal/session"
)

// sessionGauge keeps the active-sessions gauge equal to the store's session
// count. It resamples on every lifecycle callback because CreateSession may
// overwrite an existing record.
type sessionGauge struct {
	store   *session.MemStore
	metrics *observe.Metrics

	mu   sync.Mutex
	last int64
}

var _ session.Observer = (*sessionGauge)(nil)

func (g *sessionGauge) sync() {
	if g.store == nil {
		return
	}
	n, _ := g.store.Counts()

	g.mu.Lock()
	defer g.mu.Unlock()
	if d := int64(n) - g.last; d != 0 {
		g.metrics.ActiveSessions.Add(context.Background(), d)
		g.last = int64(n)
	}
}

func (g *sessionGauge) OnSessionCreated(session.Session) { g.sync() }
func (g *sessionGauge) OnParticipantJoined(string, string, time.Time) { g.sync() }
func (g *sessionGauge) OnParticipantLeft(string, string, time.Time) { g.sync() }
func (g *sessionGauge) OnSessionEnded(string, time.Time) { g.sync() }
