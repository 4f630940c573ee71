package realtime

import (
	"errors"
	"strconv"
	"sync"
	"testing"
)

type recordingListener struct {
	mu      sync.Mutex
	online  []PresenceRecord
	offline []PresenceRecord
	status  []PresenceRecord
}

func (l *recordingListener) IdentityOnline(rec PresenceRecord) {
	l.mu.Lock()
	l.online = append(l.online, rec)
	l.mu.Unlock()
}

func (l *recordingListener) IdentityOffline(rec PresenceRecord) {
	l.mu.Lock()
	l.offline = append(l.offline, rec)
	l.mu.Unlock()
}

func (l *recordingListener) IdentityStatus(rec PresenceRecord) {
	l.mu.Lock()
	l.status = append(l.status, rec)
	l.mu.Unlock()
}

func (l *recordingListener) statusChanges() []PresenceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]PresenceRecord(nil), l.status...)
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.online), len(l.offline)
}

func TestRegistry_RegisterRequiresIdentity(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)

	err := reg.Register(NewClient("c1", Identity{}, 8))
	if !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if reg.Count() != 0 {
		t.Fatalf("expected no registered connections, got %d", reg.Count())
	}
}

func TestRegistry_RegisterClosedClient(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	c := newTestClient("c1", "alice")
	c.Close()

	if err := reg.Register(c); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	if reg.IsOnline("alice") {
		t.Fatalf("closed client must not be online")
	}
}

func TestRegistry_PresenceIsEdgeTriggered(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	l := &recordingListener{}
	reg.SetListener(l)

	tab1 := newTestClient("c1", "alice")
	tab2 := newTestClient("c2", "alice")

	mustRegister(t, reg, tab1, tab2)
	if on, off := l.counts(); on != 1 || off != 0 {
		t.Fatalf("after two registers: online=%d offline=%d, want 1/0", on, off)
	}
	if got := len(reg.ConnectionsOf("alice")); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	if !reg.Deregister(tab1) {
		t.Fatalf("expected first deregister to report true")
	}
	if !reg.IsOnline("alice") {
		t.Fatalf("alice should still be online with one tab")
	}
	if _, off := l.counts(); off != 0 {
		t.Fatalf("offline must not fire while a connection remains")
	}

	reg.Deregister(tab2)
	if reg.IsOnline("alice") {
		t.Fatalf("alice should be offline")
	}
	on, off := l.counts()
	if on != 1 || off != 1 {
		t.Fatalf("final: online=%d offline=%d, want 1/1", on, off)
	}
	if l.offline[0].Status != StatusOffline || l.offline[0].UserID != "alice" {
		t.Fatalf("unexpected offline record: %+v", l.offline[0])
	}
}

func TestRegistry_DeregisterIsIdempotent(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	l := &recordingListener{}
	reg.SetListener(l)

	c := newTestClient("c1", "alice")
	mustRegister(t, reg, c)

	if !reg.Deregister(c) {
		t.Fatalf("expected true on first deregister")
	}
	if reg.Deregister(c) {
		t.Fatalf("expected false on second deregister")
	}
	if _, off := l.counts(); off != 1 {
		t.Fatalf("expected exactly one offline event, got %d", off)
	}
}

func TestRegistry_OnlineIdentitiesSorted(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	mustRegister(t, reg,
		newTestClient("c1", "carol"),
		newTestClient("c2", "alice"),
		newTestClient("c3", "bob"),
		newTestClient("c4", "alice"),
	)

	recs := reg.OnlineIdentities()
	if len(recs) != 3 {
		t.Fatalf("expected 3 identities, got %d", len(recs))
	}
	want := []string{"alice", "bob", "carol"}
	for i, rec := range recs {
		if rec.UserID != want[i] {
			t.Fatalf("record %d: got %s want %s", i, rec.UserID, want[i])
		}
		if rec.Status != StatusOnline {
			t.Fatalf("record %d: expected online status", i)
		}
	}
	if recs[0].Connections != 2 {
		t.Fatalf("alice should have 2 connections, got %d", recs[0].Connections)
	}
}

func TestRegistry_ConcurrentRegisterDeregister(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	l := &recordingListener{}
	reg.SetListener(l)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newTestClient("c"+strconv.Itoa(i), "alice")
			if err := reg.Register(c); err != nil {
				t.Errorf("register: %v", err)
				return
			}
			reg.Deregister(c)
		}(i)
	}
	wg.Wait()

	if reg.IsOnline("alice") {
		t.Fatalf("alice should end offline")
	}
	on, off := l.counts()
	if on != off {
		t.Fatalf("online/offline transitions must pair up, got %d/%d", on, off)
	}
}

func TestRegistry_SetStatus(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	l := &recordingListener{}
	reg.SetListener(l)

	tab1 := newTestClient("c1", "alice")
	tab2 := newTestClient("c2", "alice")
	mustRegister(t, reg, tab1, tab2)

	rec, err := reg.SetStatus("alice", " Away ")
	if err != nil {
		t.Fatalf("set away: %v", err)
	}
	if rec.Status != StatusAway || rec.Connections != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := reg.SetStatus("alice", "away"); err != nil {
		t.Fatalf("repeat away: %v", err)
	}
	if got := len(l.statusChanges()); got != 1 {
		t.Fatalf("repeating the same status must not notify, got %d changes", got)
	}
	if recs := reg.OnlineIdentities(); recs[0].Status != StatusAway {
		t.Fatalf("snapshot should carry away, got %s", recs[0].Status)
	}

	// Closing one tab keeps the chosen status.
	reg.Deregister(tab1)
	if recs := reg.OnlineIdentities(); recs[0].Status != StatusAway {
		t.Fatalf("status lost after closing one tab: %s", recs[0].Status)
	}

	reg.Deregister(tab2)
	mustRegister(t, reg, newTestClient("c3", "alice"))
	if recs := reg.OnlineIdentities(); recs[0].Status != StatusOnline {
		t.Fatalf("a new session starts online, got %s", recs[0].Status)
	}
}

func TestRegistry_SetStatusRejects(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	mustRegister(t, reg, newTestClient("c1", "alice"))

	cases := []struct {
		name, user, status, code string
	}{
		{"offline is not settable", "alice", "offline", CodeInvalidStatus},
		{"unknown status", "alice", "asleep", CodeInvalidStatus},
		{"identity without connection", "bob", "busy", CodeNotOnline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.SetStatus(tc.user, tc.status)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Code != tc.code {
				t.Fatalf("expected validation code %q, got %v", tc.code, err)
			}
		})
	}
}
