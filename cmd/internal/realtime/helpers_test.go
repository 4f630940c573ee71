package realtime

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/conversation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestClient(id, userID string) *Client {
	return NewClient(id, Identity{ID: userID, Name: userID}, 256)
}

// drain returns every event currently queued on c without blocking.
func drain(c *Client) []Event {
	var out []Event
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countType(evs []Event, typ string) int {
	n := 0
	for _, ev := range evs {
		if ev.Type() == typ {
			n++
		}
	}
	return n
}

// waitEvent blocks until c receives an event of typ, skipping others.
func waitEvent(t *testing.T, c *Client, typ string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case ev := <-c.Events():
			if ev.Type() == typ {
				return ev
			}
		case <-deadline.C:
			t.Fatalf("timed out waiting for %s on %s", typ, c.ID)
			return nil
		}
	}
}

func newTestEngine(t *testing.T, store conversation.Store) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{
		Store:        store,
		TypingExpiry: 200 * time.Millisecond,
		Log:          testLogger(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func mustConversation(t *testing.T, st conversation.Store, a, b string) conversation.Conversation {
	t.Helper()
	c, err := st.FindOrCreateConversation(context.Background(), a, b)
	if err != nil {
		t.Fatalf("find or create conversation: %v", err)
	}
	return c
}

func mustRegister(t *testing.T, reg *Registry, cs ...*Client) {
	t.Helper()
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			t.Fatalf("register %s: %v", c.ID, err)
		}
	}
}
