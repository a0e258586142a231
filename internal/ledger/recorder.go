package ledger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geova/livementor/internal/session"
)

// Default recorder parameters.
const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
)

// Compile-time interface assertion.
var _ session.Observer = (*Recorder)(nil)

type op struct {
	name string
	fn   func(ctx context.Context, s Sink) error
}

// Recorder adapts a [Sink] to [session.Observer]. Observer callbacks enqueue
// and return immediately; [Recorder.Run] drains the queue on its own
// goroutine. When the queue is full records are dropped and counted.
type Recorder struct {
	sink    Sink
	timeout time.Duration
	onDrop  func(op string)

	queue    chan op
	stop     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
	failed   atomic.Int64
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithQueueSize sets the number of pending records.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan op, n)
		}
	}
}

// WithWriteTimeout bounds each sink call.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithDropHook is invoked for every record dropped because the queue is
// full or the recorder is stopped.
func WithDropHook(fn func(op string)) RecorderOption {
	return func(r *Recorder) { r.onDrop = fn }
}

// NewRecorder returns a recorder writing to sink.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:    sink,
		timeout: defaultWriteTimeout,
		queue:   make(chan op, defaultQueueSize),
		stop:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run writes queued records until ctx is cancelled or [Recorder.Stop] is
// called. After Stop, records already queued are flushed before returning.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case o := <-r.queue:
			r.exec(ctx, o)
		case <-r.stop:
			r.flush(ctx)
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop makes Run flush and return. Records offered afterwards are dropped.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Dropped returns the number of records that were never written.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Failed returns the number of sink writes that returned an error.
func (r *Recorder) Failed() int64 { return r.failed.Load() }

// OnSessionCreated implements [session.Observer].
func (r *Recorder) OnSessionCreated(s session.Session) {
	r.offer(op{"session_started", func(ctx context.Context, sink Sink) error {
		return sink.SessionStarted(ctx, s)
	}})
}

// OnParticipantJoined implements [session.Observer].
func (r *Recorder) OnParticipantJoined(sessionID, participantID string, at time.Time) {
	r.offer(op{"participant_joined", func(ctx context.Context, sink Sink) error {
		return sink.ParticipantJoined(ctx, sessionID, participantID, at)
	}})
}

// OnParticipantLeft implements [session.Observer].
func (r *Recorder) OnParticipantLeft(sessionID, participantID string, at time.Time) {
	r.offer(op{"participant_left", func(ctx context.Context, sink Sink) error {
		return sink.ParticipantLeft(ctx, sessionID, participantID, at)
	}})
}

// OnSessionEnded implements [session.Observer].
func (r *Recorder) OnSessionEnded(sessionID string, at time.Time) {
	r.offer(op{"session_ended", func(ctx context.Context, sink Sink) error {
		return sink.SessionEnded(ctx, sessionID, at)
	}})
}

func (r *Recorder) offer(o op) {
	select {
	case <-r.stop:
		r.drop(o.name)
		return
	default:
	}
	select {
	case r.queue <- o:
	default:
		r.drop(o.name)
	}
}

func (r *Recorder) drop(name string) {
	r.dropped.Add(1)
	if r.onDrop != nil {
		r.onDrop(name)
	}
	slog.Warn("ledger: record dropped", "op", name)
}

func (r *Recorder) flush(ctx context.Context) {
	for {
		select {
		case o := <-r.queue:
			r.exec(ctx, o)
		default:
			return
		}
	}
}

func (r *Recorder) exec(ctx context.Context, o op) {
	// Detach from cancellation so the final flush can still write.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := o.fn(wctx, r.sink); err != nil {
		r.failed.Add(1)
		slog.Warn("ledger: write failed", "op", o.name, "err", err)
	}
}
