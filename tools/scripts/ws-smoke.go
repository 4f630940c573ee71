// Package main provides a CI-friendly WebSocket smoke test for the chat realtime gateway.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack session establishment and the presence snapshot
//   - conversation creation over REST
//   - send -> ack, and message_new reaching a recipient that never joined
//   - typing fan-out to room members
//   - history fetch
//   - idempotent dedupe by client_msg_id
//   - bye -> user_offline for the peer
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/Joseph-Soncco/app-pruebas/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	token  string
	conn   *websocket.Conn
	userID string
	connID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		apiURL  = flag.String("api", "", "REST base URL (default: derived from -url)")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		tokenA  = flag.String("token-a", "dev:alice:Alice", "Access token for client A")
		tokenB  = flag.String("token-b", "dev:bob:Bob", "Access token for client B")
		text    = flag.String("text", "hola 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	base := *apiURL
	if base == "" {
		base = httpBaseFromWS(*wsURL)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *tokenA, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *tokenB, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s(%s) B=%s(%s) origin=%q\n", a.userID, a.connID, b.userID, b.connID, *origin)
	}

	convID := mustCreateConversation(root, base, a.token, b.userID, *timeout)
	if *verbose {
		fmt.Printf("conversation: %s\n", convID)
	}

	// Only A joins: B must still receive message_new as the recipient.
	mustJoin(root, a, convID, *timeout)

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())
	msg := mustSendAndAssertAck(root, a, convID, clientMsgID, *text, *timeout)
	mustAssertNew(root, b, msg, *timeout)

	mustJoin(root, b, convID, *timeout)
	mustSend(root, b, v1.TypeTypingStart, "B-typing", v1.ConversationRefPayload{ConversationID: convID}, *timeout)
	mustAssertTyping(root, a, convID, b.userID, *timeout)

	mustHistoryFetchContains(root, b, convID, msg, *timeout)

	again := mustSendAndAssertAck(root, a, convID, clientMsgID, *text, *timeout)
	if again.Seq != msg.Seq || again.ID != msg.ID {
		fatalf("dedupe: got id=%s seq=%d want id=%s seq=%d", again.ID, again.Seq, msg.ID, msg.Seq)
	}
	mustAssertNoType(root, b, v1.TypeMessageNew, 1200*time.Millisecond)

	mustSend(root, b, v1.TypeMessageRead, "B-read", v1.MessageReadPayload{MessageID: msg.ID}, *timeout)
	mustAssertNoType(root, b, v1.TypeError, 500*time.Millisecond)

	mustSend(root, b, v1.TypeBye, "B-bye", nil, *timeout)
	mustAssertOffline(root, a, b.userID, *timeout)

	fmt.Printf("OK: A=%s B=%s conv_id=%s seq=%d message_id=%s\n", a.userID, b.userID, convID, msg.Seq, msg.ID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func httpBaseFromWS(raw string) string {
	u, _ := url.Parse(raw)
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		token: token,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustSend(parent, c, v1.TypeHello, name+"-hello", v1.HelloPayload{Token: token}, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)
	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ConnectionID) == "" || strings.TrimSpace(p.UserID) == "" {
		fatalf("hello_ack missing connection_id or user_id (%s)", name)
	}
	c.connID, c.userID = p.ConnectionID, p.UserID

	c.mustReadUntilType(parent, v1.TypePresenceSnapshot, stepTimeout, nil)
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if env.V != v1.Version || env.Type == "" {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: v=%q type=%q", env.V, env.Type):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustCreateConversation(parent context.Context, base, token, peerID string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"peer_id": peerID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/conversations", bytes.NewReader(body))
	if err != nil {
		fatalf("build create conversation request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("create conversation: %v", err)
	}
	defer func() { _ = res.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxReadBytes))
	if res.StatusCode != http.StatusOK {
		fatalf("create conversation: status=%d body=%s", res.StatusCode, raw)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.ID == "" {
		fatalf("create conversation: bad response %s", raw)
	}
	return out.ID
}

func mustJoin(parent context.Context, c *smokeClient, convID string, stepTimeout time.Duration) {
	mustSend(parent, c, v1.TypeConversationJoin, c.name+"-join", v1.ConversationRefPayload{ConversationID: convID}, stepTimeout)

	skip := map[string]struct{}{v1.TypeMessageNew: {}, v1.TypeUserOnline: {}}
	joined := c.mustReadUntilType(parent, v1.TypeConversationJoined, stepTimeout, skip)

	var p v1.ConversationAckPayload
	if err := json.Unmarshal(joined.Payload, &p); err != nil {
		fatalf("unmarshal conversation_joined payload (%s): %v", c.name, err)
	}
	if p.ConversationID != convID {
		fatalf("joined conv_id mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, convID, clientMsgID, text string, stepTimeout time.Duration) v1.MessagePayload {
	mustSend(parent, c, v1.TypeMessageSend, c.name+"-send-"+clientMsgID, v1.MessageSendPayload{
		ConversationID: convID,
		ClientMsgID:    clientMsgID,
		Body:           text,
	}, stepTimeout)

	skip := map[string]struct{}{v1.TypeMessageNew: {}, v1.TypeUserOnline: {}}
	ack := c.mustReadUntilType(parent, v1.TypeMessageAck, stepTimeout, skip)

	var p v1.MessageAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal message_ack payload (%s): %v", c.name, err)
	}
	m := p.Message
	if m.ConversationID != convID {
		fatalf("ack conv_id mismatch (%s): got=%q want=%q", c.name, m.ConversationID, convID)
	}
	if m.ClientMsgID != clientMsgID {
		fatalf("ack client_msg_id mismatch (%s): got=%q want=%q", c.name, m.ClientMsgID, clientMsgID)
	}
	if strings.TrimSpace(m.ID) == "" {
		fatalf("ack missing message id (%s)", c.name)
	}
	if m.Seq <= 0 {
		fatalf("ack invalid seq (%s): %d", c.name, m.Seq)
	}
	return m
}

func mustAssertNew(parent context.Context, c *smokeClient, want v1.MessagePayload, stepTimeout time.Duration) {
	skip := map[string]struct{}{v1.TypeUserOnline: {}}
	env := c.mustReadUntilType(parent, v1.TypeMessageNew, stepTimeout, skip)

	var p v1.MessageNewPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message_new payload (%s): %v", c.name, err)
	}
	got := p.Message
	if got.ID != want.ID || got.Seq != want.Seq || got.SenderID != want.SenderID || got.Body != want.Body {
		fatalf("message_new mismatch (%s): got=%+v want=%+v", c.name, got, want)
	}
	if got.SentAt.IsZero() {
		fatalf("message_new sent_at missing/zero (%s)", c.name)
	}
}

func mustAssertTyping(parent context.Context, c *smokeClient, convID, userID string, stepTimeout time.Duration) {
	skip := map[string]struct{}{v1.TypeMessageNew: {}, v1.TypeUserOnline: {}}
	env := c.mustReadUntilType(parent, v1.TypeUserTyping, stepTimeout, skip)

	var p v1.TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal user_typing payload (%s): %v", c.name, err)
	}
	if p.ConversationID != convID || p.UserID != userID {
		fatalf("user_typing mismatch (%s): got=%+v", c.name, p)
	}
}

func mustHistoryFetchContains(parent context.Context, c *smokeClient, convID string, want v1.MessagePayload, stepTimeout time.Duration) {
	mustSend(parent, c, v1.TypeConversationHistoryFetch, c.name+"-history-fetch", v1.ConversationHistoryFetchPayload{
		ConversationID: convID,
		Limit:          50,
	}, stepTimeout)

	skip := map[string]struct{}{v1.TypeUserTyping: {}, v1.TypeUserStoppedTyping: {}}
	chunk := c.mustReadUntilType(parent, v1.TypeConversationHistoryChunk, stepTimeout, skip)

	var p v1.ConversationHistoryChunkPayload
	if err := json.Unmarshal(chunk.Payload, &p); err != nil {
		fatalf("unmarshal history chunk payload (%s): %v", c.name, err)
	}
	if p.ConversationID != convID {
		fatalf("history chunk conv_id mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
	for _, m := range p.Messages {
		if m.ID == want.ID && m.Seq == want.Seq && m.Body == want.Body {
			return
		}
	}
	fatalf("history chunk missing expected message (%s)", c.name)
}

func mustAssertOffline(parent context.Context, c *smokeClient, userID string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for user_offline of %s (%s)", userID, c.name)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for user_offline (%s)", c.name)
			}
			if env.Type != v1.TypeUserOffline {
				continue
			}
			var p v1.UserPresencePayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				fatalf("unmarshal user_offline payload (%s): %v", c.name, err)
			}
			if p.UserID == userID {
				return
			}
		}
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustSend(parent context.Context, c *smokeClient, typ, id string, payload any, stepTimeout time.Duration) {
	env := v1.Envelope{V: v1.Version, Type: typ, ID: id, TS: time.Now().UTC()}
	if payload != nil {
		env.Payload = mustJSON(payload)
	}

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed (%s): %v", c.name, err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
