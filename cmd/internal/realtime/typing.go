package realtime

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultTypingExpiry is how long a typing mark lives without being refreshed.
const DefaultTypingExpiry = 5 * time.Second

type typingKey struct {
	conversationID string
	userID         string
}

type typingMark struct {
	identity     Identity
	connectionID string
	gen          uint64
	timer        *time.Timer
}

// Typing tracks who is typing in which conversation and emits edge events to the other
// members of the room.
//
// Marks are keyed by (conversation, identity); the connection that last refreshed a mark
// owns it. Events are enqueued while mu is held so started/stopped for one key are never
// reordered; enqueueing never blocks.
type Typing struct {
	log     *slog.Logger
	metrics *Metrics
	rooms   *Rooms
	expiry  time.Duration

	mu    sync.Mutex
	gen   uint64
	marks map[typingKey]*typingMark
}

// NewTyping constructs a tracker whose marks expire after expiry.
func NewTyping(rooms *Rooms, expiry time.Duration, log *slog.Logger, metrics *Metrics) *Typing {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &Typing{
		log:     log,
		metrics: metrics,
		rooms:   rooms,
		expiry:  expiry,
		marks:   make(map[typingKey]*typingMark),
	}
}

// MarkTyping records that c is typing in conversationID. Only the rising edge emits
// user_typing; later marks refresh the expiry timer. c must be joined to the room.
func (t *Typing) MarkTyping(c *Client, conversationID string) (bool, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return false, invalid(CodeMissingConversation, "conversation_id is required")
	}
	if !t.rooms.IsMember(c, conversationID) {
		return false, ErrAccessDenied
	}
	key := typingKey{conversationID: conversationID, userID: c.UserID()}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen

	if m, ok := t.marks[key]; ok {
		m.timer.Stop()
		m.gen = gen
		m.connectionID = c.ID
		m.timer = time.AfterFunc(t.expiry, func() { t.expire(key, gen) })
		return false, nil
	}

	t.marks[key] = &typingMark{
		identity:     c.Identity(),
		connectionID: c.ID,
		gen:          gen,
		timer:        time.AfterFunc(t.expiry, func() { t.expire(key, gen) }),
	}
	t.emitLocked(UserTyping{ConversationID: conversationID, Identity: c.Identity()}, key)
	t.metrics.TypingEvents.WithLabelValues("start").Inc()
	return true, nil
}

// ClearTyping cancels c's identity mark in conversationID. It emits user_stopped_typing
// only when a mark existed.
func (t *Typing) ClearTyping(c *Client, conversationID string) bool {
	if c == nil {
		return false
	}
	return t.ClearUser(conversationID, c.UserID())
}

// ClearUser cancels userID's mark in conversationID regardless of which connection owns it.
func (t *Typing) ClearUser(conversationID, userID string) bool {
	key := typingKey{conversationID: strings.TrimSpace(conversationID), userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.clearLocked(key, "stop")
}

// ClearConnection clears every mark owned by c in conversationIDs (all of c's marks when
// conversationIDs is nil). Used when the connection closes.
func (t *Typing) ClearConnection(c *Client, conversationIDs []string) int {
	if c == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]typingKey, 0, len(conversationIDs))
	if conversationIDs == nil {
		for k, m := range t.marks {
			if m.connectionID == c.ID {
				keys = append(keys, k)
			}
		}
	} else {
		for _, convID := range conversationIDs {
			k := typingKey{conversationID: convID, userID: c.UserID()}
			if m, ok := t.marks[k]; ok && m.connectionID == c.ID {
				keys = append(keys, k)
			}
		}
	}

	n := 0
	for _, k := range keys {
		if t.clearLocked(k, "disconnect") {
			n++
		}
	}
	return n
}

// IsTyping reports whether userID has a live mark in conversationID.
func (t *Typing) IsTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.marks[typingKey{conversationID: conversationID, userID: userID}]
	return ok
}

func (t *Typing) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.marks[key]
	if !ok || m.gen != gen {
		// Refreshed or cleared since this timer was armed.
		return
	}
	t.clearLocked(key, "expire")
}

func (t *Typing) clearLocked(key typingKey, kind string) bool {
	m, ok := t.marks[key]
	if !ok {
		return false
	}
	m.timer.Stop()
	delete(t.marks, key)

	t.emitLocked(UserStoppedTyping{ConversationID: key.conversationID, Identity: m.identity}, key)
	t.metrics.TypingEvents.WithLabelValues(kind).Inc()
	return true
}

// emitLocked delivers ev to room members other than the typist's own connections.
func (t *Typing) emitLocked(ev Event, key typingKey) {
	members := t.rooms.MembersOf(key.conversationID)
	targets := members[:0:0]
	for _, c := range members {
		if c.UserID() != key.userID {
			targets = append(targets, c)
		}
	}
	t.metrics.deliver(ev, targets)
}
