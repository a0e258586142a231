// Package gateway serves the participant duplex channel over WebSocket.
//
// Each accepted socket gets a reader goroutine that feeds a bounded queue and
// a handler goroutine that drains it through the [router.Router] one frame at
// a time. Closing the socket cancels the context of any turn still running.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/geova/livementor/internal/observe"
	"github.com/geova/livementor/internal/protocol"
	"github.com/geova/livementor/internal/router"
)

// Defaults applied by [New].
const (
	DefaultQueueSize       = 32
	DefaultWriteTimeout    = 5 * time.Second
	DefaultMaxMessageBytes = 4 << 20
)

// Handler upgrades HTTP requests to the duplex session channel.
type Handler struct {
	router          *router.Router
	origins         []string
	queueSize       int
	writeTimeout    time.Duration
	maxMessageBytes int64
	metrics         *observe.Metrics
}

// Option configures a [Handler].
type Option func(*Handler)

// WithOriginPatterns restricts the browser origins allowed to connect. With
// no patterns any origin is accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// WithQueueSize bounds the number of frames read ahead of the handler.
func WithQueueSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithWriteTimeout bounds each outbound frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithMaxMessageBytes caps the size of one inbound frame.
func WithMaxMessageBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxMessageBytes = n
		}
	}
}

// WithMetrics tracks open connections on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New returns a Handler dispatching to r.
func New(r *router.Router, opts ...Option) *Handler {
	h := &Handler{
		router:          r,
		queueSize:       DefaultQueueSize,
		writeTimeout:    DefaultWriteTimeout,
		maxMessageBytes: DefaultMaxMessageBytes,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.origins,
		InsecureSkipVerify: len(h.origins) == 0,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("gateway: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.maxMessageBytes)

	ctx := r.Context()
	if h.metrics != nil {
		h.metrics.ActiveConnections.Add(ctx, 1)
		defer h.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)
	}

	t := &transport{conn: conn, writeTimeout: h.writeTimeout}
	client := router.NewClient(t)

	err = h.serve(ctx, conn, client)

	leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.writeTimeout)
	h.router.Leave(leaveCtx, client)
	cancel()

	log := observe.Logger(ctx)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		log.Debug("gateway: connection closed")
	default:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Info("gateway: connection closed", "err", err)
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// serve runs the reader and the sequential handler until the socket closes.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, client *router.Client) error {
	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan []byte, h.queueSize)

	g.Go(func() error {
		defer close(queue)
		for {
			_, data, err := conn.Read(gctx)
			if err != nil {
				return err
			}
			select {
			case queue <- data:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for data := range queue {
			h.router.Handle(gctx, client, data)
		}
		return nil
	})

	return g.Wait()
}

// transport adapts a websocket connection to session.Transport. Writes are
// serialised so turns and broadcasts never interleave inside a frame.
type transport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func (t *transport) Send(ctx context.Context, ev protocol.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, t.writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, t.conn, ev)
}

func (t *transport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}
