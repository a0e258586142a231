package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/geova/livementor/internal/protocol"
	"github.com/geova/livementor/internal/session"
	"github.com/geova/livementor/internal/session/mock"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) add(s string) {
	o.mu.Lock()
	o.events = append(o.events, s)
	o.mu.Unlock()
}

func (o *recordingObserver) OnSessionCreated(s session.Session) { o.add("created:" + s.ID) }
func (o *recordingObserver) OnParticipantJoined(sid, pid string, _ time.Time) {
	o.add("joined:" + sid + "/" + pid)
}
func (o *recordingObserver) OnParticipantLeft(sid, pid string, _ time.Time) {
	o.add("left:" + sid + "/" + pid)
}
func (o *recordingObserver) OnSessionEnded(sid string, _ time.Time) { o.add("ended:" + sid) }

func (o *recordingObserver) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemStore_RegisterCreatesSessionLazily(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	s := session.NewMemStore(session.WithObserver(obs))

	c := s.Register("alice", &mock.Transport{}, "s1", session.Config{VoiceEnabled: true})
	if c.ParticipantID() != "alice" || c.SessionID() != "s1" {
		t.Fatalf("unexpected connection: %s/%s", c.ParticipantID(), c.SessionID())
	}
	if c.InstanceID() == "" {
		t.Error("expected a connection instance id")
	}
	if c.Config().SessionType != session.TypeGroup {
		t.Errorf("session type = %q, want group default", c.Config().SessionType)
	}

	sess, ok := s.Get("s1")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if sess.State != session.StateActive || sess.CreatedBy != "alice" {
		t.Errorf("unexpected session: %+v", sess)
	}

	want := []string{"created:s1", "joined:s1/alice"}
	got := obs.list()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("observer events = %v, want %v", got, want)
	}
}

func TestMemStore_RegisterSameParticipantTwice(t *testing.T) {
	t.Parallel()

	s := session.NewMemStore()
	t1, t2 := &mock.Transport{}, &mock.Transport{}
	first := s.Register("alice", t1, "s1", session.Config{})
	first.History().Add("q", "a")
	second := s.Register("alice", t2, "s1", session.Config{})

	if st := s.Status("s1"); st.ParticipantCount != 1 {
		t.Errorf("participant count = %d, want 1", st.ParticipantCount)
	}
	if closed, _ := t1.Closed(); !closed {
		t.Error("expected stale transport to be closed")
	}
	if closed, _ := t2.Closed(); closed {
		t.Error("new transport must stay open")
	}
	if got, _ := s.Lookup("alice"); got != second {
		t.Error("lookup should return the newest connection")
	}
	if second.History().Len() != 2 {
		t.Error("reconnect into the same session should keep the history")
	}

	// The stale socket closing later must not evict the new one.
	if s.Release(first) {
		t.Error("Release of a replaced connection should be a no-op")
	}
	if _, ok := s.Lookup("alice"); !ok {
		t.Error("live connection evicted by stale release")
	}
	if !s.Release(second) {
		t.Error("Release of the live connection should succeed")
	}
}

func TestMemStore_RegisterSameTransportDoesNotClose(t *testing.T) {
	t.Parallel()

	s := session.NewMemStore()
	tr := &mock.Transport{}
	s.Register("alice", tr, "s1", session.Config{})
	s.Register("alice", tr, "s1", session.Config{})
	if closed, _ := tr.Closed(); closed {
		t.Error("re-registering the same transport must not close it")
	}
}

func TestMemStore_RegisterMovesBetweenSessions(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	s := session.NewMemStore(session.WithObserver(obs))
	s.Register("alice", &mock.Transport{}, "s1", session.Config{})
	s.Register("alice", &mock.Transport{}, "s2", session.Config{})

	if n := s.Status("s1").ParticipantCount; n != 0 {
		t.Errorf("s1 participant count = %d, want 0", n)
	}
	if n := len(s.LookupBySession("s2")); n != 1 {
		t.Errorf("s2 connections = %d, want 1", n)
	}
	found := false
	for _, e := range obs.list() {
		if e == "left:s1/alice" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected left event for s1, got %v", obs.list())
	}
}

func TestMemStore_UnregisterDropsParticipant(t *testing.T) {
	t.Parallel()

	s := session.NewMemStore()
	s.Register("alice", &mock.Transport{}, "s1", session.Config{})
	s.Register("bob", &mock.Transport{}, "s1", session.Config{})

	if !s.Unregister("alice") {
		t.Fatal("Unregister returned false for a live participant")
	}
	if s.Unregister("alice") {
		t.Error("second Unregister should report false")
	}
	if s.Unregister("nobody") {
		t.Error("Unregister of unknown id should report false")
	}

	st := s.Status("s1")
	if st.ParticipantCount != 1 || !st.IsActive {
		t.Errorf("status = %+v, want one active participant", st)
	}
	conns := s.LookupBySession("s1")
	if len(conns) != 1 || conns[0].ParticipantID() != "bob" {
		t.Errorf("unexpected remaining connections: %d", len(conns))
	}
}

func TestMemStore_LookupBySessionJoinOrder(t *testing.T) {
	t.Parallel()

	s := session.NewMemStore()
	for _, id := range []string{"c", "a", "b"} {
		s.Register(id, &mock.Transport{}, "s1", session.Config{})
	}
	conns := s.LookupBySession("s1")
	if len(conns) != 3 {
		t.Fatalf("expected 3 connections, got %d", len(conns))
	}
	for i, want := range []string{"c", "a", "b"} {
		if conns[i].ParticipantID() != want {
			t.Errorf("conns[%d] = %s, want %s", i, conns[i].ParticipantID(), want)
		}
	}

	if got := s.LookupBySession("missing"); len(got) != 0 {
		t.Errorf("unknown session returned %d connections", len(got))
	}
}

func TestMemStore_EndSession(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	s := session.NewMemStore(session.WithObserver(obs))
	ta, tb, other := &mock.Transport{}, &mock.Transport{}, &mock.Transport{}
	s.Register("alice", ta, "s1", session.Config{})
	s.Register("bob", tb, "s1", session.Config{})
	s.Register("carol", other, "s2", session.Config{})

	if !s.EndSession(context.Background(), "s1") {
		t.Fatal("EndSession returned false for an existing session")
	}
	for name, tr := range map[string]*mock.Transport{"alice": ta, "bob": tb} {
		if closed, _ := tr.Closed(); !closed {
			t.Errorf("%s transport not closed", name)
		}
		types := tr.Types()
		if len(types) != 1 || types[0] != protocol.TypeSessionEnded {
			t.Errorf("%s received %v, want one session.ended", name, types)
		}
	}
	if closed, _ := other.Closed(); closed {
		t.Error("other session's transport must stay open")
	}
	if _, ok := s.Get("s1"); ok {
		t.Error("session should be deleted")
	}
	if st := s.Status("s1"); st.Session != nil || st.IsActive || st.ParticipantCount != 0 {
		t.Errorf("status after end = %+v", st)
	}
	if _, ok := s.Lookup("alice"); ok {
		t.Error("connection should be removed")
	}

	if s.EndSession(context.Background(), "s1") {
		t.Error("second EndSession should report false")
	}
	sessions, conns := s.Counts()
	if sessions != 1 || conns != 1 {
		t.Errorf("Counts() = %d, %d; want 1, 1", sessions, conns)
	}
}

func TestMemStore_CreateSessionOverwritesMetadata(t *testing.T) {
	t.Parallel()

	s := session.NewMemStore()
	first := s.CreateSession("s1", "instructor", session.Config{SessionType: session.TypePrivate})
	if first.State != session.StateCreated || first.Type != session.TypePrivate {
		t.Errorf("unexpected created session: %+v", first)
	}

	s.Register("alice", &mock.Transport{}, "s1", session.Config{})
	second := s.CreateSession("s1", "admin", session.Config{})
	if second.CreatedBy != "admin" || second.Type != session.TypeGroup {
		t.Errorf("metadata not overwritten: %+v", second)
	}
	if len(second.Participants) != 1 || second.State != session.StateActive {
		t.Errorf("live participants should carry over: %+v", second)
	}
}

func TestMemStore_GetReturnsSnapshot(t *testing.T) {
	t.Parallel()

	s := session.NewMemStore()
	s.Register("alice", &mock.Transport{}, "s1", session.Config{})
	snap, _ := s.Get("s1")
	snap.Participants[0] = "mallory"

	again, _ := s.Get("s1")
	if again.Participants[0] != "alice" {
		t.Error("Get must return an independent snapshot")
	}
}

func TestMemStore_Reap(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	obs := &recordingObserver{}
	s := session.NewMemStore(session.WithClock(clock.Now), session.WithObserver(obs))

	s.CreateSession("empty", "t", session.Config{})
	s.Register("alice", &mock.Transport{}, "busy", session.Config{})

	clock.Advance(10 * time.Minute)
	if got := s.Reap(30 * time.Minute); len(got) != 0 {
		t.Errorf("nothing should be reaped yet, got %v", got)
	}

	clock.Advance(25 * time.Minute)
	got := s.Reap(30 * time.Minute)
	if len(got) != 1 || got[0] != "empty" {
		t.Fatalf("Reap() = %v, want [empty]", got)
	}
	if _, ok := s.Get("busy"); !ok {
		t.Error("session with live participants must survive")
	}
}

func TestBroadcast_ExcludesSenderAndSurvivesFailures(t *testing.T) {
	t.Parallel()

	s := session.NewMemStore()
	sender := &mock.Transport{}
	ok1 := &mock.Transport{}
	broken := &mock.Transport{SendErr: errors.New("boom")}
	ok2 := &mock.Transport{}
	s.Register("sender", sender, "s1", session.Config{})
	s.Register("ok1", ok1, "s1", session.Config{})
	s.Register("broken", broken, "s1", session.Config{})
	s.Register("ok2", ok2, "s1", session.Config{})
	s.Register("elsewhere", &mock.Transport{}, "s2", session.Config{})

	n := session.Broadcast(context.Background(), s, "s1", protocol.TextDelta("hi"), "sender")
	if n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	if len(sender.Events()) != 0 {
		t.Error("sender must be excluded")
	}
	for _, tr := range []*mock.Transport{ok1, ok2} {
		if types := tr.Types(); len(types) != 1 || types[0] != protocol.TypeTextDelta {
			t.Errorf("recipient got %v", types)
		}
	}
}

func TestBroadcast_UnknownSession(t *testing.T) {
	t.Parallel()
	s := session.NewMemStore()
	if n := session.Broadcast(context.Background(), s, "nope", protocol.TextDelta("x"), ""); n != 0 {
		t.Errorf("delivered = %d, want 0", n)
	}
}

func TestMemStore_ConcurrentRegisterUnregister(t *testing.T) {
	t.Parallel()

	s := session.NewMemStore()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i%26))
			c := s.Register(id, &mock.Transport{}, "s1", session.Config{})
			session.Broadcast(context.Background(), s, "s1", protocol.TextDelta("x"), id)
			s.Release(c)
		}()
	}
	wg.Wait()
	if _, conns := s.Counts(); conns != 0 {
		t.Errorf("expected no live connections, got %d", conns)
	}
}

func TestConnection_PendingUtterance(t *testing.T) {
	t.Parallel()

	s := session.NewMemStore()
	c := s.Register("alice", &mock.Transport{}, "s1", session.Config{})
	c.AppendFragment("what is")
	c.AppendFragment("  ")
	c.AppendFragment("remote sensing?")
	if got := c.TakeUtterance(); got != "what is remote sensing?" {
		t.Errorf("TakeUtterance() = %q", got)
	}
	if got := c.TakeUtterance(); got != "" {
		t.Errorf("buffer not cleared: %q", got)
	}
}

func TestConfigPatch_Apply(t *testing.T) {
	t.Parallel()

	base := session.Config{VoiceEnabled: true, SessionType: session.TypePrivate}
	off := false
	on := true
	got := session.ConfigPatch{VoiceEnabled: &off, WhiteboardEnabled: &on}.Apply(base)
	want := session.Config{VoiceEnabled: false, WhiteboardEnabled: true, SessionType: session.TypePrivate}
	if got != want {
		t.Errorf("Apply() = %+v, want %+v", got, want)
	}

	bogus := session.Type("classroom")
	if got := (session.ConfigPatch{SessionType: &bogus}).Apply(base); got.SessionType != session.TypeGroup {
		t.Errorf("unknown session type should normalize to group, got %q", got.SessionType)
	}
}
