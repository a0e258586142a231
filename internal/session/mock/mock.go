// Package mock provides a recording [session.Transport] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/geova/livementor/internal/protocol"
)

// Transport records every event sent and whether it was closed.
//
// All methods are safe for concurrent use.
type Transport struct {
	mu sync.Mutex

	// SendErr is returned from every Send call when non-nil.
	SendErr error

	events      []protocol.Event
	closed      bool
	closeReason string
}

// Send records ev unless SendErr is set.
func (t *Transport) Send(ctx context.Context, ev protocol.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.events = append(t.events, ev)
	return nil
}

// Close marks the transport closed.
func (t *Transport) Close(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.closeReason = reason
	return nil
}

// Events returns a copy of the recorded events.
func (t *Transport) Events() []protocol.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.Event, len(t.events))
	copy(out, t.events)
	return out
}

// Types returns the recorded event types in order.
func (t *Transport) Types() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.events))
	for i, ev := range t.events {
		out[i] = ev.Type
	}
	return out
}

// Closed reports whether Close was called and with which reason.
func (t *Transport) Closed() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.closeReason
}

// Reset clears recorded events.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}
