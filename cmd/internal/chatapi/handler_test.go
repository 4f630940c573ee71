package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/conversation"
	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/realtime"
)

type apiFixture struct {
	store  *conversation.InMemoryStore
	engine *realtime.Engine
	srv    *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := conversation.NewInMemoryStore()

	engine, err := realtime.NewEngine(realtime.EngineConfig{Store: store, Log: log})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)

	tokens := realtime.AuthenticatorFunc(func(ctx context.Context, token string) (realtime.Identity, error) {
		user, ok := strings.CutPrefix(token, "tok-")
		if !ok || user == "" {
			return realtime.Identity{}, realtime.ErrAuthFailed
		}
		return realtime.Identity{ID: user, Name: strings.ToUpper(user[:1]) + user[1:]}, nil
	})

	h, err := NewHandler(log, Config{}, engine, tokens)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &apiFixture{store: store, engine: engine, srv: srv}
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body any) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer tok-"+user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() { _ = res.Body.Close() }()
	out, _ := io.ReadAll(res.Body)
	return res.StatusCode, out
}

func (f *apiFixture) conversation(t *testing.T, a, b string) conversation.Conversation {
	t.Helper()
	c, err := f.store.FindOrCreateConversation(context.Background(), a, b)
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	return c
}

func decodeInto(t *testing.T, b []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(b, dst); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func errorCodeOf(t *testing.T, b []byte) string {
	t.Helper()
	var e errorResponse
	decodeInto(t, b, &e)
	return e.Error.Code
}

func TestChatAPI_RequiresBearer(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/conversations", "", nil)
	if status != http.StatusUnauthorized || errorCodeOf(t, body) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d %s", status, body)
	}

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/me", nil)
	req.Header.Set("Authorization", "Bearer nope")
	res, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestChatAPI_Me(t *testing.T) {
	f := newAPIFixture(t)
	status, body := f.do(t, http.MethodGet, "/api/me", "alice", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, body)
	}
	var me meResponse
	decodeInto(t, body, &me)
	if me.UserID != "alice" || me.Name != "Alice" || me.Online {
		t.Fatalf("unexpected me: %+v", me)
	}
}

func TestChatAPI_CreateConversationIsFindOrCreate(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/conversations", "alice", createConversationRequest{PeerID: "bob"})
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, body)
	}
	var first conversationResponse
	decodeInto(t, body, &first)
	if first.ID == "" || first.PeerID != "bob" || first.Unread != 0 {
		t.Fatalf("unexpected conversation: %+v", first)
	}

	_, body = f.do(t, http.MethodPost, "/api/conversations", "bob", createConversationRequest{PeerID: "alice"})
	var second conversationResponse
	decodeInto(t, body, &second)
	if second.ID != first.ID || second.PeerID != "alice" {
		t.Fatalf("expected the same conversation from the other side, got %+v", second)
	}
}

func TestChatAPI_CreateConversationValidation(t *testing.T) {
	f := newAPIFixture(t)

	cases := []struct {
		name string
		body any
	}{
		{"empty peer", createConversationRequest{}},
		{"self", createConversationRequest{PeerID: "alice"}},
		{"unknown field", map[string]string{"peer": "bob"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodPost, "/api/conversations", "alice", tc.body)
			if status != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d %s", status, body)
			}
		})
	}
}

func TestChatAPI_ListConversationsShowsUnreadAndPresence(t *testing.T) {
	f := newAPIFixture(t)
	c := f.conversation(t, "alice", "bob")

	if _, err := f.engine.Router.SendAs(context.Background(), realtime.Identity{ID: "bob"}, realtime.SendInput{
		ConversationID: c.ID,
		Body:           "hola",
	}); err != nil {
		t.Fatalf("SendAs: %v", err)
	}
	bob := realtime.NewClient("b1", realtime.Identity{ID: "bob", Name: "Bob"}, 16)
	if err := f.engine.Registry.Register(bob); err != nil {
		t.Fatalf("register: %v", err)
	}

	status, body := f.do(t, http.MethodGet, "/api/conversations", "alice", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, body)
	}
	var res conversationsResponse
	decodeInto(t, body, &res)
	if len(res.Conversations) != 1 {
		t.Fatalf("expected one conversation, got %+v", res)
	}
	got := res.Conversations[0]
	if got.ID != c.ID || got.PeerID != "bob" || got.Unread != 1 || !got.PeerOnline || got.LastMessageID == nil {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestChatAPI_SendMessageFansOutToLiveSessions(t *testing.T) {
	f := newAPIFixture(t)
	c := f.conversation(t, "alice", "bob")

	bob := realtime.NewClient("b1", realtime.Identity{ID: "bob", Name: "Bob"}, 16)
	if err := f.engine.Registry.Register(bob); err != nil {
		t.Fatalf("register: %v", err)
	}

	status, body := f.do(t, http.MethodPost, "/api/conversations/"+c.ID+"/messages", "alice", sendMessageRequest{Body: "  hola  "})
	if status != http.StatusCreated {
		t.Fatalf("status %d: %s", status, body)
	}
	var created messageCreatedResponse
	decodeInto(t, body, &created)
	if created.Message.Body != "hola" || created.Message.SenderID != "alice" || created.Message.Type != "text" {
		t.Fatalf("unexpected message: %+v", created.Message)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-bob.Events():
			if mn, ok := ev.(realtime.MessageNew); ok {
				if mn.Message.ID != created.Message.ID {
					t.Fatalf("unexpected message id %q", mn.Message.ID)
				}
				return
			}
		case <-deadline:
			t.Fatalf("bob never received message_new")
		}
	}
}

func TestChatAPI_SendMessageErrors(t *testing.T) {
	f := newAPIFixture(t)
	c := f.conversation(t, "alice", "bob")

	status, body := f.do(t, http.MethodPost, "/api/conversations/"+c.ID+"/messages", "alice", sendMessageRequest{Body: "   "})
	if status != http.StatusBadRequest || errorCodeOf(t, body) != realtime.CodeEmptyBody {
		t.Fatalf("expected empty_body, got %d %s", status, body)
	}

	status, body = f.do(t, http.MethodPost, "/api/conversations/"+c.ID+"/messages", "carol", sendMessageRequest{Body: "hi"})
	if status != http.StatusForbidden || errorCodeOf(t, body) != "access_denied" {
		t.Fatalf("expected access_denied, got %d %s", status, body)
	}
}

func TestChatAPI_ListMessagesPaging(t *testing.T) {
	f := newAPIFixture(t)
	c := f.conversation(t, "alice", "bob")
	for _, b := range []string{"one", "two", "three"} {
		if _, err := f.engine.Router.SendAs(context.Background(), realtime.Identity{ID: "alice"}, realtime.SendInput{ConversationID: c.ID, Body: b}); err != nil {
			t.Fatalf("SendAs: %v", err)
		}
	}

	status, body := f.do(t, http.MethodGet, "/api/conversations/"+c.ID+"/messages?limit=2", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, body)
	}
	var page messagePageResponse
	decodeInto(t, body, &page)
	if len(page.Messages) != 2 || !page.HasMore || page.Messages[0].Body != "three" {
		t.Fatalf("unexpected first page: %+v", page)
	}

	_, body = f.do(t, http.MethodGet, "/api/conversations/"+c.ID+"/messages?limit=2&offset=2", "bob", nil)
	decodeInto(t, body, &page)
	if len(page.Messages) != 1 || page.HasMore || page.Messages[0].Body != "one" {
		t.Fatalf("unexpected second page: %+v", page)
	}

	if status, _ := f.do(t, http.MethodGet, "/api/conversations/"+c.ID+"/messages?offset=-1", "bob", nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative offset, got %d", status)
	}
	if status, _ := f.do(t, http.MethodGet, "/api/conversations/"+c.ID+"/messages", "carol", nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider, got %d", status)
	}
}

func TestChatAPI_ReadReceipts(t *testing.T) {
	f := newAPIFixture(t)
	c := f.conversation(t, "alice", "bob")
	var last conversation.Message
	for _, b := range []string{"a", "b"} {
		m, err := f.engine.Router.SendAs(context.Background(), realtime.Identity{ID: "alice"}, realtime.SendInput{ConversationID: c.ID, Body: b})
		if err != nil {
			t.Fatalf("SendAs: %v", err)
		}
		last = m
	}

	status, body := f.do(t, http.MethodPost, "/api/messages/"+last.ID+"/read", "bob", nil)
	if status != http.StatusNoContent {
		t.Fatalf("status %d: %s", status, body)
	}
	if _, ok := f.store.ReadAt(last.ID, "bob"); !ok {
		t.Fatalf("receipt not recorded")
	}

	if status, _ := f.do(t, http.MethodPost, "/api/messages/missing/read", "bob", nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown message, got %d", status)
	}

	status, body = f.do(t, http.MethodPost, "/api/conversations/"+c.ID+"/read", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, body)
	}
	var rr readResponse
	decodeInto(t, body, &rr)
	if rr.Receipts != 1 {
		t.Fatalf("expected one new receipt, got %d", rr.Receipts)
	}
	got, err := f.store.GetConversation(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.UnreadFor("bob") != 0 {
		t.Fatalf("expected unread reset, got %d", got.UnreadFor("bob"))
	}
}

func TestChatAPI_OnlineUsersAndRealtimeInfo(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.engine.Registry.Register(realtime.NewClient("a1", realtime.Identity{ID: "alice", Name: "Alice"}, 16)); err != nil {
		t.Fatalf("register: %v", err)
	}

	status, body := f.do(t, http.MethodGet, "/api/users/online", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, body)
	}
	var users onlineUsersResponse
	decodeInto(t, body, &users)
	if len(users.Users) != 1 || users.Users[0].UserID != "alice" || users.Users[0].Status != "online" {
		t.Fatalf("unexpected users: %+v", users)
	}

	_, body = f.do(t, http.MethodGet, "/api/realtime", "bob", nil)
	var info realtimeInfoResponse
	decodeInto(t, body, &info)
	if !strings.HasPrefix(info.URL, "ws://") || !strings.HasSuffix(info.URL, "/ws") || info.Subprotocol != "chat.realtime.v1" {
		t.Fatalf("unexpected realtime info: %+v", info)
	}
}

func TestChatAPI_EditAndDeleteMessage(t *testing.T) {
	f := newAPIFixture(t)
	c := f.conversation(t, "alice", "bob")

	status, body := f.do(t, http.MethodPost, "/api/conversations/"+c.ID+"/messages", "alice", sendMessageRequest{Body: "helo"})
	if status != http.StatusCreated {
		t.Fatalf("send: %d %s", status, body)
	}
	var created messageCreatedResponse
	decodeInto(t, body, &created)
	msgPath := "/api/messages/" + created.Message.ID

	status, body = f.do(t, http.MethodPatch, msgPath, "bob", editMessageRequest{Body: "hijack"})
	if status != http.StatusForbidden || errorCodeOf(t, body) != "not_sender" {
		t.Fatalf("expected 403 not_sender, got %d %s", status, body)
	}
	status, body = f.do(t, http.MethodPatch, msgPath, "carol", editMessageRequest{Body: "hijack"})
	if status != http.StatusForbidden || errorCodeOf(t, body) != "access_denied" {
		t.Fatalf("expected 403 access_denied, got %d %s", status, body)
	}

	status, body = f.do(t, http.MethodPatch, msgPath, "alice", editMessageRequest{Body: "hello"})
	if status != http.StatusOK {
		t.Fatalf("edit: %d %s", status, body)
	}
	var edited messageCreatedResponse
	decodeInto(t, body, &edited)
	if edited.Message.Body != "hello" || !edited.Message.Edited || edited.Message.EditedAt == nil {
		t.Fatalf("unexpected edited message: %+v", edited.Message)
	}

	status, body = f.do(t, http.MethodDelete, msgPath, "alice", nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete: %d %s", status, body)
	}
	status, _ = f.do(t, http.MethodDelete, msgPath, "alice", nil)
	if status != http.StatusNoContent {
		t.Fatalf("repeat delete should be a no-op, got %d", status)
	}

	status, body = f.do(t, http.MethodPatch, msgPath, "alice", editMessageRequest{Body: "back"})
	if status != http.StatusConflict || errorCodeOf(t, body) != realtime.CodeMessageDeleted {
		t.Fatalf("expected 409 message_deleted, got %d %s", status, body)
	}

	status, body = f.do(t, http.MethodGet, "/api/conversations/"+c.ID+"/messages", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("history: %d %s", status, body)
	}
	var page messagePageResponse
	decodeInto(t, body, &page)
	if len(page.Messages) != 0 {
		t.Fatalf("deleted message still listed: %+v", page.Messages)
	}

	status, body = f.do(t, http.MethodDelete, "/api/messages/missing", "alice", nil)
	if status != http.StatusNotFound || errorCodeOf(t, body) != realtime.CodeUnknownMessage {
		t.Fatalf("expected 404 unknown_message, got %d %s", status, body)
	}
}

func TestChatAPI_SearchMessages(t *testing.T) {
	f := newAPIFixture(t)
	ab := f.conversation(t, "alice", "bob")
	ac := f.conversation(t, "alice", "carol")

	for _, send := range []struct{ conv, user, body string }{
		{ab.ID, "alice", "Movie night?"},
		{ab.ID, "bob", "which movie"},
		{ac.ID, "carol", "movie for us"},
		{ac.ID, "alice", "no thanks"},
	} {
		if status, body := f.do(t, http.MethodPost, "/api/conversations/"+send.conv+"/messages", send.user, sendMessageRequest{Body: send.body}); status != http.StatusCreated {
			t.Fatalf("send %q: %d %s", send.body, status, body)
		}
	}

	status, body := f.do(t, http.MethodGet, "/api/messages/search?q=MOVIE", "alice", nil)
	if status != http.StatusOK {
		t.Fatalf("search: %d %s", status, body)
	}
	var res searchResponse
	decodeInto(t, body, &res)
	if len(res.Messages) != 3 || res.Limit != conversation.DefaultSearchLimit {
		t.Fatalf("expected 3 matches with default limit, got %+v", res)
	}

	status, body = f.do(t, http.MethodGet, "/api/messages/search?q=movie", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("search as bob: %d %s", status, body)
	}
	res = searchResponse{}
	decodeInto(t, body, &res)
	if len(res.Messages) != 2 {
		t.Fatalf("bob must only see his conversation, got %d matches", len(res.Messages))
	}

	status, body = f.do(t, http.MethodGet, "/api/messages/search?q=%20", "alice", nil)
	if status != http.StatusBadRequest || errorCodeOf(t, body) != realtime.CodeEmptyQuery {
		t.Fatalf("expected 400 empty_query, got %d %s", status, body)
	}
	status, _ = f.do(t, http.MethodGet, "/api/messages/search?q=movie&limit=-1", "alice", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", status)
	}
}

func TestChatAPI_SetStatus(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/me/status", "alice", setStatusRequest{Status: "busy"})
	if status != http.StatusConflict || errorCodeOf(t, body) != realtime.CodeNotOnline {
		t.Fatalf("expected 409 not_online without a session, got %d %s", status, body)
	}

	tab := realtime.NewClient("a1", realtime.Identity{ID: "alice", Name: "Alice"}, 16)
	if err := f.engine.Registry.Register(tab); err != nil {
		t.Fatalf("register: %v", err)
	}

	status, body = f.do(t, http.MethodPost, "/api/me/status", "alice", setStatusRequest{Status: "busy"})
	if status != http.StatusOK {
		t.Fatalf("set status: %d %s", status, body)
	}
	var rec presenceResponse
	decodeInto(t, body, &rec)
	if rec.UserID != "alice" || rec.Status != "busy" {
		t.Fatalf("unexpected presence: %+v", rec)
	}

	status, body = f.do(t, http.MethodGet, "/api/users/online", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("online users: %d %s", status, body)
	}
	var online onlineUsersResponse
	decodeInto(t, body, &online)
	if len(online.Users) != 1 || online.Users[0].Status != "busy" {
		t.Fatalf("online list should carry busy, got %+v", online.Users)
	}

	status, body = f.do(t, http.MethodPost, "/api/me/status", "alice", setStatusRequest{Status: "invisible"})
	if status != http.StatusBadRequest || errorCodeOf(t, body) != realtime.CodeInvalidStatus {
		t.Fatalf("expected 400 invalid_status, got %d %s", status, body)
	}
}

func TestChatAPI_DecodeErrors(t *testing.T) {
	f := newAPIFixture(t)
	c := f.conversation(t, "alice", "bob")
	path := "/api/conversations/" + c.ID + "/messages"

	status, body := f.do(t, http.MethodPost, path, "alice", map[string]string{"body": strings.Repeat("x", 70<<10)})
	if status != http.StatusRequestEntityTooLarge || errorCodeOf(t, body) != "body_too_large" {
		t.Fatalf("expected 413 body_too_large, got %d %s", status, body)
	}

	status, body = f.do(t, http.MethodPost, path, "alice", map[string]string{"body": "hi", "extra": "x"})
	if status != http.StatusBadRequest || errorCodeOf(t, body) != "invalid_json" {
		t.Fatalf("expected 400 invalid_json for unknown field, got %d %s", status, body)
	}

	status, body = f.do(t, http.MethodPost, path, "alice", nil)
	if status != http.StatusBadRequest || errorCodeOf(t, body) != "invalid_json" {
		t.Fatalf("expected 400 invalid_json for missing body, got %d %s", status, body)
	}
}

func TestWriteError_EchoesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set(requestIDHeader, "req-42")

	writeError(rec, http.StatusForbidden, "access_denied", "nope")

	var e errorResponse
	decodeInto(t, rec.Body.Bytes(), &e)
	if e.Error.RequestID != "req-42" || e.Error.Code != "access_denied" {
		t.Fatalf("unexpected error body: %+v", e.Error)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control: got %q", got)
	}
}
