package realtime

import (
	"context"
	"errors"
	"sort"
	"testing"
)

type fakeMembers struct {
	allowed map[string]map[string]bool
	err     error
}

func (f fakeMembers) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.allowed[conversationID][userID], nil
}

func newTestRooms(allowed map[string]map[string]bool) *Rooms {
	return NewRooms(fakeMembers{allowed: allowed}, testLogger(), nil)
}

func TestRooms_JoinDeniesNonParticipant(t *testing.T) {
	rooms := newTestRooms(map[string]map[string]bool{"conv-1": {"alice": true, "bob": true}})
	carol := newTestClient("c1", "carol")

	_, err := rooms.Join(testCtx(t), carol, "conv-1")
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if rooms.IsMember(carol, "conv-1") || rooms.Count() != 0 {
		t.Fatalf("denied join must not create membership")
	}
}

func TestRooms_JoinValidation(t *testing.T) {
	rooms := newTestRooms(nil)
	_, err := rooms.Join(testCtx(t), newTestClient("c1", "alice"), "   ")

	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Code != CodeMissingConversation {
		t.Fatalf("expected missing_conversation validation error, got %v", err)
	}
}

func TestRooms_JoinStorageFailure(t *testing.T) {
	rooms := NewRooms(fakeMembers{err: errors.New("db down")}, testLogger(), nil)
	_, err := rooms.Join(testCtx(t), newTestClient("c1", "alice"), "conv-1")

	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if errorCode(err) != "storage_error" {
		t.Fatalf("unexpected code %q", errorCode(err))
	}
}

func TestRooms_JoinIsIdempotent(t *testing.T) {
	rooms := newTestRooms(map[string]map[string]bool{"conv-1": {"alice": true}})
	c := newTestClient("c1", "alice")

	added, err := rooms.Join(testCtx(t), c, "conv-1")
	if err != nil || !added {
		t.Fatalf("first join: added=%v err=%v", added, err)
	}
	added, err = rooms.Join(testCtx(t), c, "conv-1")
	if err != nil || added {
		t.Fatalf("second join: added=%v err=%v", added, err)
	}
	if got := len(rooms.MembersOf("conv-1")); got != 1 {
		t.Fatalf("expected 1 member, got %d", got)
	}
}

func TestRooms_JoinRefusesClosedClient(t *testing.T) {
	rooms := newTestRooms(map[string]map[string]bool{"conv-1": {"alice": true}})
	c := newTestClient("c1", "alice")
	c.Close()

	if _, err := rooms.Join(testCtx(t), c, "conv-1"); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestRooms_LeaveAllRemovesEveryMembership(t *testing.T) {
	rooms := newTestRooms(map[string]map[string]bool{
		"conv-1": {"alice": true, "bob": true},
		"conv-2": {"alice": true, "carol": true},
	})
	alice := newTestClient("a1", "alice")
	bob := newTestClient("b1", "bob")
	ctx := testCtx(t)

	for _, conv := range []string{"conv-1", "conv-2"} {
		if _, err := rooms.Join(ctx, alice, conv); err != nil {
			t.Fatalf("join %s: %v", conv, err)
		}
	}
	if _, err := rooms.Join(ctx, bob, "conv-1"); err != nil {
		t.Fatalf("bob join: %v", err)
	}

	left := rooms.LeaveAll(alice)
	sort.Strings(left)
	if len(left) != 2 || left[0] != "conv-1" || left[1] != "conv-2" {
		t.Fatalf("unexpected rooms left: %v", left)
	}
	if len(rooms.RoomsOf(alice)) != 0 {
		t.Fatalf("alice should not be in any room")
	}
	// conv-2 became empty and is gone; conv-1 still has bob.
	if rooms.Count() != 1 {
		t.Fatalf("expected 1 room, got %d", rooms.Count())
	}
	if members := rooms.MembersOf("conv-1"); len(members) != 1 || members[0].ID != "b1" {
		t.Fatalf("unexpected conv-1 members: %v", members)
	}
}

func TestRooms_LeaveRemovesEmptyRoom(t *testing.T) {
	rooms := newTestRooms(map[string]map[string]bool{"conv-1": {"alice": true}})
	c := newTestClient("c1", "alice")

	if _, err := rooms.Join(testCtx(t), c, "conv-1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if !rooms.Leave(c, "conv-1") {
		t.Fatalf("expected leave to report membership")
	}
	if rooms.Leave(c, "conv-1") {
		t.Fatalf("second leave should report false")
	}
	if rooms.Count() != 0 {
		t.Fatalf("empty room should be removed")
	}
}
