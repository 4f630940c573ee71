package realtime

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultSendQueueSize = 64

// Client represents one authenticated websocket connection.
//
// Design notes:
// - The send queue is never closed; broadcasters may race with shutdown.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Client struct {
	ID        string
	CreatedAt time.Time

	identity Identity
	send     chan Event
	lastSeen atomic.Int64
	dropped  atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id string, identity Identity, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	now := time.Now().UTC()
	c := &Client{
		ID:        id,
		CreatedAt: now,
		identity:  identity,
		send:      make(chan Event, sendQueueSize),
		done:      make(chan struct{}),
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Identity returns the identity bound at construction.
func (c *Client) Identity() Identity { return c.identity }

// UserID is shorthand for Identity().ID.
func (c *Client) UserID() string { return c.identity.ID }

// Touch records inbound activity.
func (c *Client) Touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
}

// LastSeen returns the time of the last inbound frame or heartbeat.
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load()).UTC()
}

// Events returns the outbound queue consumed by the writer goroutine.
func (c *Client) Events() <-chan Event { return c.send }

// Enqueue offers ev without blocking. It reports false when the client is closed or the
// queue is full; a full queue counts as a drop.
func (c *Client) Enqueue(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close the send queue to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
