package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// storeFactory returns a fresh, empty Store for one subtest.
type storeFactory func(t *testing.T) Store

// runStoreContract exercises the behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("FindOrCreate_IsUnorderedPair", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)

		c1, err := st.FindOrCreateConversation(ctx, "bob", "alice")
		if err != nil {
			t.Fatalf("find or create: %v", err)
		}
		c2, err := st.FindOrCreateConversation(ctx, "alice", "bob")
		if err != nil {
			t.Fatalf("find or create (swapped): %v", err)
		}
		if c1.ID != c2.ID {
			t.Fatalf("expected same conversation, got %s and %s", c1.ID, c2.ID)
		}
		if c1.UserA != "alice" || c1.UserB != "bob" {
			t.Fatalf("expected canonical pair (alice, bob), got (%s, %s)", c1.UserA, c1.UserB)
		}
	})

	t.Run("FindOrCreate_RejectsSameUser", func(t *testing.T) {
		st := newStore(t)
		_, err := st.FindOrCreateConversation(testCtx(t), "alice", "alice")
		if !errors.Is(err, ErrSameParticipant) {
			t.Fatalf("expected ErrSameParticipant, got %v", err)
		}
	})

	t.Run("IsParticipant", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		c := mustConversation(t, st, "alice", "bob")

		for _, tc := range []struct {
			conv, user string
			want       bool
		}{
			{c.ID, "alice", true},
			{c.ID, "bob", true},
			{c.ID, "carol", false},
			{"missing", "alice", false},
			{c.ID, "", false},
		} {
			got, err := st.IsParticipant(ctx, tc.conv, tc.user)
			if err != nil {
				t.Fatalf("IsParticipant(%q,%q): %v", tc.conv, tc.user, err)
			}
			if got != tc.want {
				t.Fatalf("IsParticipant(%q,%q)=%v want %v", tc.conv, tc.user, got, tc.want)
			}
		}
	})

	t.Run("Append_UpdatesPointerAndRecipientUnread", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		c := mustConversation(t, st, "alice", "bob")

		now := time.Now().UTC().Truncate(time.Millisecond)
		res, err := st.AppendMessage(ctx, AppendMessageInput{
			ConversationID: c.ID,
			SenderID:       "alice",
			Body:           "Hola",
			Now:            now,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if res.Duplicated {
			t.Fatalf("expected Duplicated=false")
		}
		if res.RecipientID != "bob" {
			t.Fatalf("expected recipient bob, got %q", res.RecipientID)
		}
		if res.Message.Seq != 1 || res.Message.Type != TypeText || res.Message.ID == "" {
			t.Fatalf("unexpected message: %+v", res.Message)
		}

		got, err := st.GetConversation(ctx, c.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if got.UnreadFor("bob") != 1 || got.UnreadFor("alice") != 0 {
			t.Fatalf("unexpected unread: a=%d b=%d", got.UnreadA, got.UnreadB)
		}
		if got.LastMessageID == nil || *got.LastMessageID != res.Message.ID {
			t.Fatalf("last message pointer not moved: %v", got.LastMessageID)
		}
		if got.LastMessageAt == nil || !got.LastMessageAt.Equal(now) {
			t.Fatalf("last message time mismatch: %v want %v", got.LastMessageAt, now)
		}
	})

	t.Run("Append_RejectsOutsider", func(t *testing.T) {
		st := newStore(t)
		c := mustConversation(t, st, "alice", "bob")

		_, err := st.AppendMessage(testCtx(t), AppendMessageInput{ConversationID: c.ID, SenderID: "carol", Body: "hi"})
		if !errors.Is(err, ErrNotParticipant) {
			t.Fatalf("expected ErrNotParticipant, got %v", err)
		}
	})

	t.Run("Append_MissingConversation", func(t *testing.T) {
		st := newStore(t)
		_, err := st.AppendMessage(testCtx(t), AppendMessageInput{ConversationID: "nope", SenderID: "alice", Body: "hi"})
		if !IsNotFound(err) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Append_DedupeByClientMsgID", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		c := mustConversation(t, st, "alice", "bob")

		in := AppendMessageInput{ConversationID: c.ID, SenderID: "alice", Body: "hello", ClientMsgID: "cmsg-1"}
		first, err := st.AppendMessage(ctx, in)
		if err != nil {
			t.Fatalf("append first: %v", err)
		}
		second, err := st.AppendMessage(ctx, in)
		if err != nil {
			t.Fatalf("append duplicate: %v", err)
		}
		if !second.Duplicated || second.Message.ID != first.Message.ID || second.Message.Seq != first.Message.Seq {
			t.Fatalf("expected duplicate of %+v, got %+v", first, second)
		}

		got, err := st.GetConversation(ctx, c.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if got.UnreadFor("bob") != 1 {
			t.Fatalf("duplicate must not double-increment unread, got %d", got.UnreadFor("bob"))
		}
	})

	t.Run("ResetUnread_OnlyOwner", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		c := mustConversation(t, st, "alice", "bob")

		mustAppend(t, st, c.ID, "alice", "one")
		mustAppend(t, st, c.ID, "alice", "two")
		mustAppend(t, st, c.ID, "bob", "three")

		if err := st.ResetUnread(ctx, c.ID, "bob"); err != nil {
			t.Fatalf("reset: %v", err)
		}
		got, err := st.GetConversation(ctx, c.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if got.UnreadFor("bob") != 0 || got.UnreadFor("alice") != 1 {
			t.Fatalf("unexpected unread after reset: a=%d b=%d", got.UnreadA, got.UnreadB)
		}

		if err := st.ResetUnread(ctx, c.ID, "carol"); !errors.Is(err, ErrNotParticipant) {
			t.Fatalf("expected ErrNotParticipant, got %v", err)
		}
		if err := st.ResetUnread(ctx, "missing", "bob"); !IsNotFound(err) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("IncrementUnread", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		c := mustConversation(t, st, "alice", "bob")

		if err := st.IncrementUnread(ctx, c.ID, "alice"); err != nil {
			t.Fatalf("increment: %v", err)
		}
		got, err := st.GetConversation(ctx, c.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if got.UnreadFor("alice") != 1 || got.UnreadFor("bob") != 0 {
			t.Fatalf("unexpected unread: a=%d b=%d", got.UnreadA, got.UnreadB)
		}
	})

	t.Run("ListMessages_NewestFirst_Paging", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		c := mustConversation(t, st, "alice", "bob")

		for i := 0; i < 5; i++ {
			mustAppend(t, st, c.ID, "alice", fmt.Sprintf("m%d", i))
		}

		page, err := st.ListMessages(ctx, c.ID, 2, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page.Messages) != 2 || !page.HasMore {
			t.Fatalf("expected 2 messages with more, got %d more=%v", len(page.Messages), page.HasMore)
		}
		if page.Messages[0].Body != "m4" || page.Messages[1].Body != "m3" {
			t.Fatalf("expected [m4 m3], got [%s %s]", page.Messages[0].Body, page.Messages[1].Body)
		}

		page, err = st.ListMessages(ctx, c.ID, 2, 4)
		if err != nil {
			t.Fatalf("list offset: %v", err)
		}
		if len(page.Messages) != 1 || page.HasMore || page.Messages[0].Body != "m0" {
			t.Fatalf("unexpected last page: %+v", page)
		}

		page, err = st.ListMessages(ctx, c.ID, 0, 10)
		if err != nil {
			t.Fatalf("list past end: %v", err)
		}
		if len(page.Messages) != 0 || page.HasMore {
			t.Fatalf("expected empty page, got %+v", page)
		}
	})

	t.Run("ListConversations_ByActivity", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		older := mustConversation(t, st, "alice", "bob")
		newer := mustConversation(t, st, "alice", "carol")
		_ = mustConversation(t, st, "bob", "carol")

		mustAppend(t, st, newer.ID, "carol", "first")
		time.Sleep(5 * time.Millisecond)
		mustAppend(t, st, older.ID, "bob", "later")

		list, err := st.ListConversations(ctx, "alice")
		if err != nil {
			t.Fatalf("list conversations: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 conversations, got %d", len(list))
		}
		if list[0].ID != older.ID || list[1].ID != newer.ID {
			t.Fatalf("expected most recent activity first, got %s then %s", list[0].ID, list[1].ID)
		}
	})

	t.Run("MarkRead_And_ConversationRead", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		c := mustConversation(t, st, "alice", "bob")

		m1 := mustAppend(t, st, c.ID, "alice", "one")
		mustAppend(t, st, c.ID, "alice", "two")
		mustAppend(t, st, c.ID, "bob", "mine")

		if err := st.MarkRead(ctx, ReadReceipt{MessageID: m1.ID, ReaderID: "bob"}); err != nil {
			t.Fatalf("mark read: %v", err)
		}
		// Upsert.
		if err := st.MarkRead(ctx, ReadReceipt{MessageID: m1.ID, ReaderID: "bob"}); err != nil {
			t.Fatalf("mark read again: %v", err)
		}
		if err := st.MarkRead(ctx, ReadReceipt{MessageID: m1.ID, ReaderID: "carol"}); !errors.Is(err, ErrNotParticipant) {
			t.Fatalf("expected ErrNotParticipant, got %v", err)
		}
		if err := st.MarkRead(ctx, ReadReceipt{MessageID: "missing", ReaderID: "bob"}); !IsNotFound(err) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		n, err := st.MarkConversationRead(ctx, c.ID, "bob", time.Now().UTC())
		if err != nil {
			t.Fatalf("mark conversation read: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 new receipt (peer message not yet read), got %d", n)
		}

		got, err := st.GetMessage(ctx, m1.ID)
		if err != nil {
			t.Fatalf("get message: %v", err)
		}
		if got.Body != "one" || got.SenderID != "alice" {
			t.Fatalf("unexpected message: %+v", got)
		}
	})

	t.Run("Append_ConcurrentSeqIsDense", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		c := mustConversation(t, st, "alice", "bob")

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sender := "alice"
				if i%2 == 1 {
					sender = "bob"
				}
				_, err := st.AppendMessage(ctx, AppendMessageInput{ConversationID: c.ID, SenderID: sender, Body: fmt.Sprintf("c%d", i)})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent append: %v", err)
			}
		}

		page, err := st.ListMessages(ctx, c.ID, MaxHistoryLimit, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page.Messages) != n {
			t.Fatalf("expected %d messages, got %d", n, len(page.Messages))
		}
		for i, m := range page.Messages {
			if want := int64(n - i); m.Seq != want {
				t.Fatalf("expected dense seq %d at %d, got %d", want, i, m.Seq)
			}
		}

		got, err := st.GetConversation(ctx, c.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if got.UnreadA+got.UnreadB != n {
			t.Fatalf("expected unread total %d, got a=%d b=%d", n, got.UnreadA, got.UnreadB)
		}
	})

	t.Run("Edit_SenderOnly", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		c := mustConversation(t, st, "alice", "bob")
		m := mustAppend(t, st, c.ID, "alice", "helo")

		_, err := st.EditMessage(ctx, EditMessageInput{MessageID: m.ID, EditorID: "bob", Body: "hijack"})
		if !errors.Is(err, ErrNotSender) {
			t.Fatalf("expected ErrNotSender, got %v", err)
		}

		at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		got, err := st.EditMessage(ctx, EditMessageInput{MessageID: m.ID, EditorID: "alice", Body: "hello", Now: at})
		if err != nil {
			t.Fatalf("edit: %v", err)
		}
		if got.Body != "hello" || !got.Edited || got.EditedAt == nil || !got.EditedAt.Equal(at) {
			t.Fatalf("unexpected edited message: %+v", got)
		}
		if got.Seq != m.Seq || got.ID != m.ID {
			t.Fatalf("edit must keep identity, got id=%s seq=%d", got.ID, got.Seq)
		}

		stored, err := st.GetMessage(ctx, m.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Body != "hello" || !stored.Edited {
			t.Fatalf("edit not persisted: %+v", stored)
		}
	})

	t.Run("Edit_MissingMessage", func(t *testing.T) {
		st := newStore(t)
		_, err := st.EditMessage(testCtx(t), EditMessageInput{MessageID: "missing", EditorID: "alice", Body: "x"})
		if !IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("Delete_IsSoftAndIdempotent", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		c := mustConversation(t, st, "alice", "bob")
		keep := mustAppend(t, st, c.ID, "alice", "keep")
		gone := mustAppend(t, st, c.ID, "alice", "gone")

		if _, err := st.DeleteMessage(ctx, gone.ID, "bob", time.Time{}); !errors.Is(err, ErrNotSender) {
			t.Fatalf("expected ErrNotSender, got %v", err)
		}

		first, err := st.DeleteMessage(ctx, gone.ID, "alice", time.Time{})
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		if !first.Deleted || first.DeletedAt == nil {
			t.Fatalf("expected deleted with timestamp, got %+v", first)
		}
		again, err := st.DeleteMessage(ctx, gone.ID, "alice", time.Time{})
		if err != nil {
			t.Fatalf("second delete: %v", err)
		}
		if !again.Deleted || !again.DeletedAt.Equal(*first.DeletedAt) {
			t.Fatalf("second delete changed the message: %+v", again)
		}

		page, err := st.ListMessages(ctx, c.ID, 10, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page.Messages) != 1 || page.Messages[0].ID != keep.ID {
			t.Fatalf("expected only %s in history, got %+v", keep.ID, page.Messages)
		}

		stored, err := st.GetMessage(ctx, gone.ID)
		if err != nil {
			t.Fatalf("deleted message must stay addressable: %v", err)
		}
		if !stored.Deleted {
			t.Fatalf("expected stored row marked deleted")
		}

		_, err = st.EditMessage(ctx, EditMessageInput{MessageID: gone.ID, EditorID: "alice", Body: "back"})
		if !errors.Is(err, ErrMessageDeleted) {
			t.Fatalf("expected ErrMessageDeleted, got %v", err)
		}
	})

	t.Run("Search_ScopedToCallerConversations", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		ab := mustConversation(t, st, "alice", "bob")
		cd := mustConversation(t, st, "carol", "dave")

		base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		appendAt := func(convID, sender, body string, minute int) Message {
			t.Helper()
			res, err := st.AppendMessage(ctx, AppendMessageInput{
				ConversationID: convID, SenderID: sender, Body: body,
				Now: base.Add(time.Duration(minute) * time.Minute),
			})
			if err != nil {
				t.Fatalf("append %q: %v", body, err)
			}
			return res.Message
		}
		older := appendAt(ab.ID, "alice", "Lunch at noon?", 1)
		newer := appendAt(ab.ID, "bob", "lunch works", 2)
		removed := appendAt(ab.ID, "alice", "lunch cancelled", 3)
		appendAt(ab.ID, "bob", "100% sure", 4)
		appendAt(cd.ID, "carol", "lunch for us too", 5)

		if _, err := st.DeleteMessage(ctx, removed.ID, "alice", time.Time{}); err != nil {
			t.Fatalf("delete: %v", err)
		}

		got, err := st.SearchMessages(ctx, "bob", "LUNCH", 0)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(got) != 2 || got[0].ID != newer.ID || got[1].ID != older.ID {
			t.Fatalf("expected [%s %s], got %+v", newer.ID, older.ID, got)
		}

		got, err = st.SearchMessages(ctx, "alice", "%", 0)
		if err != nil {
			t.Fatalf("search literal percent: %v", err)
		}
		if len(got) != 1 || got[0].Body != "100% sure" {
			t.Fatalf("expected literal %% match only, got %+v", got)
		}

		got, err = st.SearchMessages(ctx, "alice", "lunch", 1)
		if err != nil {
			t.Fatalf("search limited: %v", err)
		}
		if len(got) != 1 || got[0].ID != newer.ID {
			t.Fatalf("expected limit to keep the newest match, got %+v", got)
		}

		if _, err := st.SearchMessages(ctx, "alice", "  ", 0); !IsInvalidInput(err) {
			t.Fatalf("expected invalid input for blank term, got %v", err)
		}
	})
}

// ---- test helpers ----

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustConversation(t *testing.T, st Store, a, b string) Conversation {
	t.Helper()
	c, err := st.FindOrCreateConversation(testCtx(t), a, b)
	if err != nil {
		t.Fatalf("find or create %s/%s: %v", a, b, err)
	}
	return c
}

func mustAppend(t *testing.T, st Store, convID, sender, body string) Message {
	t.Helper()
	res, err := st.AppendMessage(testCtx(t), AppendMessageInput{ConversationID: convID, SenderID: sender, Body: body})
	if err != nil {
		t.Fatalf("append %q: %v", body, err)
	}
	return res.Message
}
