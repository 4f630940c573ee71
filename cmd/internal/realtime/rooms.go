package realtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// MembershipChecker is the slice of the storage collaborator the room manager needs.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Rooms maps conversations to the connections currently joined to them.
//
// A reverse index (connection -> rooms) keeps LeaveAll proportional to the rooms of the
// leaving connection. Empty rooms are removed.
type Rooms struct {
	log     *slog.Logger
	metrics *Metrics
	members MembershipChecker

	mu     sync.RWMutex
	rooms  map[string]map[string]*Client // conversation -> connection id -> client
	byConn map[string]map[string]struct{}
}

// NewRooms constructs a room manager that authorizes joins with members.
func NewRooms(members MembershipChecker, log *slog.Logger, metrics *Metrics) *Rooms {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Rooms{
		log:     log,
		metrics: metrics,
		members: members,
		rooms:   make(map[string]map[string]*Client),
		byConn:  make(map[string]map[string]struct{}),
	}
}

// Join adds c to the room of conversationID after checking participation.
// It reports whether c was newly added; joining twice is not an error.
func (r *Rooms) Join(ctx context.Context, c *Client, conversationID string) (bool, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return false, invalid(CodeMissingConversation, "conversation_id is required")
	}
	if c == nil || !c.Identity().Valid() {
		return false, ErrAuthRequired
	}
	if c.Closed() {
		return false, ErrConnectionClosed
	}

	// The membership answer is only used for this call; no lock is held across storage.
	ok, err := r.members.IsParticipant(ctx, conversationID, c.UserID())
	if err != nil {
		return false, &StorageError{Op: "is_participant", Err: err}
	}
	if !ok {
		return false, ErrAccessDenied
	}

	r.mu.Lock()
	// Re-check under the lock: cleanup closes the client before LeaveAll, so a join racing
	// with disconnect either lands before LeaveAll or is refused here.
	if c.Closed() {
		r.mu.Unlock()
		return false, ErrConnectionClosed
	}
	room := r.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Client, 2)
		r.rooms[conversationID] = room
	}
	if _, already := room[c.ID]; already {
		r.mu.Unlock()
		return false, nil
	}
	room[c.ID] = c
	joined := r.byConn[c.ID]
	if joined == nil {
		joined = make(map[string]struct{}, 1)
		r.byConn[c.ID] = joined
	}
	joined[conversationID] = struct{}{}
	n := len(r.rooms)
	r.mu.Unlock()

	r.metrics.Rooms.Set(float64(n))
	r.log.Debug("room.member.join", "conversation_id", conversationID, "connection_id", c.ID, "user_id", c.UserID())
	return true, nil
}

// Leave removes c from conversationID and reports whether it was a member.
func (r *Rooms) Leave(c *Client, conversationID string) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	left := r.removeLocked(c.ID, conversationID)
	n := len(r.rooms)
	r.mu.Unlock()

	if left {
		r.metrics.Rooms.Set(float64(n))
		r.log.Debug("room.member.leave", "conversation_id", conversationID, "connection_id", c.ID)
	}
	return left
}

// LeaveAll removes c from every room and returns the rooms it left.
func (r *Rooms) LeaveAll(c *Client) []string {
	if c == nil {
		return nil
	}
	r.mu.Lock()
	joined := r.byConn[c.ID]
	out := make([]string, 0, len(joined))
	for convID := range joined {
		out = append(out, convID)
	}
	for _, convID := range out {
		r.removeLocked(c.ID, convID)
	}
	n := len(r.rooms)
	r.mu.Unlock()

	r.metrics.Rooms.Set(float64(n))
	return out
}

func (r *Rooms) removeLocked(connID, conversationID string) bool {
	room := r.rooms[conversationID]
	if _, ok := room[connID]; !ok {
		return false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, conversationID)
	}
	if joined := r.byConn[connID]; joined != nil {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(r.byConn, connID)
		}
	}
	return true
}

// MembersOf returns a snapshot of the connections joined to conversationID.
func (r *Rooms) MembersOf(conversationID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[conversationID]
	out := make([]*Client, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// IsMember reports whether c is joined to conversationID.
func (r *Rooms) IsMember(c *Client, conversationID string) bool {
	if c == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[conversationID][c.ID]
	return ok
}

// RoomsOf returns the conversations c is joined to.
func (r *Rooms) RoomsOf(c *Client) []string {
	if c == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.byConn[c.ID]
	out := make([]string, 0, len(joined))
	for convID := range joined {
		out = append(out, convID)
	}
	return out
}

// Count returns the number of non-empty rooms.
func (r *Rooms) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
