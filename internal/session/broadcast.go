package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/geova/livementor/internal/protocol"
)

// broadcastLimit caps concurrent sends per broadcast.
const broadcastLimit = 16

// Broadcast delivers ev to every live connection of sessionID except
// excludeParticipantID. Delivery is best effort: a failed send is logged and
// does not affect the other recipients or the caller. It returns the number
// of successful deliveries.
//
// Sends are detached from ctx's cancellation: a transport may tear down its
// channel when a write is cancelled mid-frame, so the sender going away must
// not reach its peers. Each transport bounds its own writes.
func Broadcast(ctx context.Context, store Store, sessionID string, ev protocol.Event, excludeParticipantID string) int {
	var (
		g         errgroup.Group
		delivered atomic.Int64
	)
	g.SetLimit(broadcastLimit)

	sendCtx := context.WithoutCancel(ctx)
	for _, c := range store.LookupBySession(sessionID) {
		if c.participantID == excludeParticipantID {
			continue
		}
		g.Go(func() error {
			if err := c.Send(sendCtx, ev); err != nil {
				slog.Warn("session: broadcast delivery failed",
					"session", sessionID,
					"participant", c.participantID,
					"event", ev.Type,
					"err", err,
				)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load())
}
