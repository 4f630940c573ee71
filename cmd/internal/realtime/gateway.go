package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/Joseph-Soncco/app-pruebas/shared/contracts/realtime/v1"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default and only localhost is allowed (secure-by-default for dev).
	wsDefaultOriginRequired = true
)

var wsDefaultAllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}

// GatewayConfig holds the websocket hardening knobs.
type GatewayConfig struct {
	// DevInsecure disables websocket.Accept's origin verification. Dev only.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	SendQueueSize int
	WriteTimeout  time.Duration
	// ReadIdleTimeout closes a connection whose last inbound frame or answered ping is older
	// than this. Checked on every heartbeat tick.
	ReadIdleTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration

	AuthGrace time.Duration
}

// DefaultGatewayConfig returns the secure defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    wsDefaultOriginRequired,
		AllowedOrigins:    append([]string(nil), wsDefaultAllowedOrigins...),
		SendQueueSize:     wsDefaultSendQueueSize,
		WriteTimeout:      wsDefaultWriteTimeout,
		ReadIdleTimeout:   DefaultLivenessWindow,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
		AuthGrace:         authGracePeriod,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	d := DefaultGatewayConfig()
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.AuthGrace <= 0 {
		c.AuthGrace = d.AuthGrace
	}
	return c
}

// Gateway is the WebSocket entrypoint and the connection lifecycle handler:
// Connecting -> Authenticated -> Active -> Closed.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats, and routes
// validated envelopes to the Engine.
type Gateway struct {
	log    *slog.Logger
	engine *Engine
	auth   Authenticator
	cfg    GatewayConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// NewGateway constructs a gateway over engine using auth to resolve credentials.
func NewGateway(log *slog.Logger, engine *Engine, auth Authenticator, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Gateway{
		log:            log,
		engine:         engine,
		auth:           auth,
		cfg:            cfg,
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs it until it closes.
//
// A credential presented at handshake (Authorization: Bearer or ?token=) is verified before
// upgrading; a bad one yields 401. Without one the socket is upgraded in the Connecting state
// and must send hello{token} within the auth grace period.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var (
		identity Identity
		authed   bool
	)
	if token := credentialFromRequest(r); token != "" {
		id, err := g.resolve(r.Context(), token)
		if err != nil {
			g.engine.Metrics.AuthFailures.WithLabelValues("handshake").Inc()
			g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		identity, authed = id, true
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if !authed {
		id, ok := g.awaitHello(ctx, conn)
		if !ok {
			return
		}
		identity = id
	}

	now := time.Now().UTC()
	connID, err := NewConnectionID(now)
	if err != nil {
		g.log.Error("ws.connection_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	s := &session{
		g:      g,
		conn:   conn,
		client: NewClient(connID, identity, g.cfg.SendQueueSize),
		ctx:    ctx,
		cancel: cancel,
		rl:     NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow),
	}
	s.run()
}

func (g *Gateway) resolve(ctx context.Context, token string) (Identity, error) {
	if g.auth == nil {
		return Identity{}, ErrAuthFailed
	}
	id, err := g.auth.ResolveIdentity(ctx, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if !id.Valid() {
		return Identity{}, ErrAuthFailed
	}
	return id, nil
}

// awaitHello runs the Connecting state. It returns the resolved identity, or false after
// closing the connection.
func (g *Gateway) awaitHello(ctx context.Context, conn *websocket.Conn) (Identity, bool) {
	timer := time.AfterFunc(g.cfg.AuthGrace, func() {
		g.engine.Metrics.AuthFailures.WithLabelValues("timeout").Inc()
		g.log.Info("ws.auth.timeout")
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication timeout")
	})
	defer timer.Stop()

	for {
		data, err := readFrame(ctx, conn)
		if err != nil {
			return Identity{}, false
		}

		env, err := decodeEnvelope(data)
		if err != nil {
			g.writeDirect(ctx, conn, ErrorEvent{Code: v1.CodeBadJSON, Message: "invalid JSON"})
			continue
		}
		if err := env.Validate(); err != nil {
			g.writeDirect(ctx, conn, ErrorEvent{Code: v1.CodeBadEnvelope, Message: err.Error(), ReplyTo: env.ID})
			continue
		}
		if env.Type != v1.TypeHello {
			g.writeDirect(ctx, conn, ErrorEvent{Code: v1.CodeNotAuthed, Message: "send hello with a token first", ReplyTo: env.ID})
			continue
		}

		var p v1.HelloPayload
		if err := decodePayload(env.Payload, &p); err != nil || strings.TrimSpace(p.Token) == "" {
			g.engine.Metrics.AuthFailures.WithLabelValues("hello").Inc()
			g.writeDirect(ctx, conn, ErrorEvent{Code: v1.CodeAuthError, Message: "missing token", ReplyTo: env.ID})
			_ = conn.Close(websocket.StatusPolicyViolation, "authentication required")
			return Identity{}, false
		}

		id, err := g.resolve(ctx, strings.TrimSpace(p.Token))
		if err != nil {
			g.engine.Metrics.AuthFailures.WithLabelValues("hello").Inc()
			g.log.Info("ws.auth.fail", "err", err)
			g.writeDirect(ctx, conn, errorEventFor(err, env.ID))
			_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
			return Identity{}, false
		}
		return id, true
	}
}

// writeDirect writes ev synchronously; only used before the writer goroutine exists.
func (g *Gateway) writeDirect(ctx context.Context, conn *websocket.Conn, ev Event) {
	env, err := encodeEvent(ev, time.Now().UTC())
	if err != nil {
		g.log.Error("ws.encode.fail", "type", ev.Type(), "err", err)
		return
	}
	_ = writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout)
}

// session is one authenticated connection.
type session struct {
	g      *Gateway
	conn   *websocket.Conn
	client *Client
	ctx    context.Context
	cancel context.CancelFunc
	rl     *RateLimiter

	// active is set by the reader on the first successful join.
	active    atomic.Bool
	closeOnce sync.Once
}

func (s *session) run() {
	g, c := s.g, s.client
	e := g.engine
	log := g.log.With("connection_id", c.ID, "user_id", c.UserID())

	c.Enqueue(HelloAck{ConnectionID: c.ID, Identity: c.Identity()})
	if err := e.Registry.Register(c); err != nil {
		log.Error("ws.register.fail", "err", err)
		_ = s.conn.Close(websocket.StatusInternalError, "register failed")
		return
	}
	c.Enqueue(PresenceSnapshot{Records: e.Presence.Snapshot()})
	log.Info("ws.session.authenticated")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(log)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		s.heartbeatLoop(log)
	}()

	code, reason := s.readLoop(log)

	s.shutdown(code, reason)
	<-writerDone

	// The reader is the only goroutine that sets active and it has returned.
	if s.active.Load() {
		e.Metrics.ActiveSessions.Dec()
	}

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// shutdown is idempotent. Cleanup order: typing marks, then rooms, then registry (which
// emits the offline event). The client is closed before leaving rooms so a racing join is
// refused.
func (s *session) shutdown(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		e, c := s.g.engine, s.client

		e.Typing.ClearConnection(c, e.Rooms.RoomsOf(c))
		c.Close()
		e.Rooms.LeaveAll(c)
		e.Registry.Deregister(c)

		_ = s.conn.Close(code, reason)
		s.cancel()

		s.g.log.Info("ws.session.closed", "connection_id", c.ID, "user_id", c.UserID(), "code", code, "reason", reason)
	})
}

func (s *session) writeLoop(log *slog.Logger) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.client.Done():
			// Closed from outside the session (Engine.DisconnectAll); unblock the reader.
			s.shutdown(websocket.StatusGoingAway, "server shutting down")
			return
		case ev := <-s.client.Events():
			env, err := encodeEvent(ev, time.Now().UTC())
			if err != nil {
				log.Error("ws.encode.fail", "type", ev.Type(), "err", err)
				continue
			}
			if err := writeEnvelope(s.ctx, s.conn, env, s.g.cfg.WriteTimeout); err != nil {
				log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
				s.shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (s *session) heartbeatLoop(log *slog.Logger) {
	t := time.NewTicker(s.g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.client.Done():
			return
		case <-t.C:
			if idle := time.Since(s.client.LastSeen()); idle > s.g.cfg.ReadIdleTimeout {
				log.Info("ws.idle.timeout", "idle_ms", idle.Milliseconds())
				s.shutdown(websocket.StatusGoingAway, "idle timeout")
				return
			}

			hbCtx, hbCancel := context.WithTimeout(s.ctx, s.g.cfg.HeartbeatTimeout)
			err := s.conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				log.Info("ws.ping.fail", "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					s.shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
			s.client.Touch(time.Now().UTC())
			s.g.engine.Presence.Heartbeat(s.client)
		}
	}
}

func (s *session) readLoop(log *slog.Logger) (websocket.StatusCode, string) {
	for {
		// No per-read deadline: an expired Read context closes the conn, and pongs answered
		// inside Read would not extend it. heartbeatLoop enforces idleness instead.
		data, err := readFrame(s.ctx, s.conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				return websocket.StatusNormalClosure, "peer closed"
			case readErrCtxDone:
				return websocket.StatusNormalClosure, "context done"
			case readErrConnClosed:
				return websocket.StatusAbnormalClosure, "conn closed"
			default:
				log.Info("ws.read.fail", "err", err)
				return websocket.StatusAbnormalClosure, "read failed"
			}
		}

		now := time.Now().UTC()
		s.client.Touch(now)

		if !s.rl.Allow(now) {
			s.client.Enqueue(ErrorEvent{Code: v1.CodeRateLimited, Message: "too many events"})
			return websocket.StatusPolicyViolation, "rate limited"
		}

		env, err := decodeEnvelope(data)
		if err != nil {
			s.client.Enqueue(ErrorEvent{Code: v1.CodeBadJSON, Message: "invalid JSON"})
			continue
		}
		if err := env.Validate(); err != nil {
			s.client.Enqueue(ErrorEvent{Code: v1.CodeBadEnvelope, Message: err.Error(), ReplyTo: env.ID})
			continue
		}

		if env.Type == v1.TypeBye {
			return websocket.StatusNormalClosure, "bye"
		}

		if err := s.dispatch(env); err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				// Closed concurrently (shutdown or DisconnectAll); nothing left to reply to.
				return websocket.StatusGoingAway, "connection closed"
			}
			s.client.Enqueue(errorEventFor(err, env.ID))
			if errorCode(err) == v1.CodeAuthError {
				return websocket.StatusPolicyViolation, "authentication failed"
			}
		}
	}
}

func (s *session) dispatch(env v1.Envelope) error {
	switch env.Type {
	case v1.TypeHello:
		return s.onHello(env)
	case v1.TypeConversationJoin:
		return s.onJoin(env)
	case v1.TypeConversationLeave:
		return s.onLeave(env)
	case v1.TypeMessageSend:
		return s.onMessageSend(env)
	case v1.TypeTypingStart:
		return s.onTyping(env, true)
	case v1.TypeTypingStop:
		return s.onTyping(env, false)
	case v1.TypeMessageRead:
		return s.onMessageRead(env)
	case v1.TypeConversationHistoryFetch:
		return s.onHistoryFetch(env)
	case v1.TypeMessageEdit:
		return s.onMessageEdit(env)
	case v1.TypeMessageDelete:
		return s.onMessageDelete(env)
	case v1.TypePresenceSet:
		return s.onPresenceSet(env)
	default:
		return invalid(CodeInvalidPayload, fmt.Sprintf("unsupported type: %s", env.Type))
	}
}

// ---- handlers ----

// onHello re-acknowledges an authenticated session. A token for a different identity is
// rejected: the identity of a connection never changes.
func (s *session) onHello(env v1.Envelope) error {
	var p v1.HelloPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return err
	}
	if tok := strings.TrimSpace(p.Token); tok != "" {
		id, err := s.g.resolve(s.ctx, tok)
		if err != nil {
			return err
		}
		if id.ID != s.client.UserID() {
			return fmt.Errorf("%w: identity mismatch", ErrAuthFailed)
		}
	}
	s.client.Enqueue(HelloAck{ConnectionID: s.client.ID, Identity: s.client.Identity()})
	return nil
}

func (s *session) onJoin(env v1.Envelope) error {
	var p v1.ConversationRefPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return err
	}
	if err := s.g.engine.Router.Join(s.ctx, s.client, p.ConversationID); err != nil {
		return err
	}

	s.client.Enqueue(ConversationJoined{ConversationID: strings.TrimSpace(p.ConversationID), ReplyTo: env.ID})

	if s.active.CompareAndSwap(false, true) {
		s.g.engine.Metrics.ActiveSessions.Inc()
		s.g.log.Info("ws.session.active", "connection_id", s.client.ID, "user_id", s.client.UserID())
	}
	return nil
}

func (s *session) onLeave(env v1.Envelope) error {
	var p v1.ConversationRefPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return err
	}
	convID := strings.TrimSpace(p.ConversationID)
	if convID == "" {
		return invalid(CodeMissingConversation, "conversation_id is required")
	}
	s.g.engine.Router.Leave(s.client, convID)
	s.client.Enqueue(ConversationLeft{ConversationID: convID, ReplyTo: env.ID})
	return nil
}

func (s *session) onMessageSend(env v1.Envelope) error {
	var p v1.MessageSendPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return err
	}
	msg, err := s.g.engine.Router.Send(s.ctx, s.client, SendInput{
		ConversationID: p.ConversationID,
		Body:           p.Body,
		Type:           p.Type,
		ClientMsgID:    p.ClientMsgID,
	})
	if err != nil {
		return err
	}
	s.client.Enqueue(MessageAck{Message: msg, ReplyTo: env.ID})
	return nil
}

func (s *session) onTyping(env v1.Envelope, start bool) error {
	var p v1.ConversationRefPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return err
	}
	if !start {
		s.g.engine.Typing.ClearTyping(s.client, p.ConversationID)
		return nil
	}
	_, err := s.g.engine.Typing.MarkTyping(s.client, p.ConversationID)
	return err
}

func (s *session) onMessageRead(env v1.Envelope) error {
	var p v1.MessageReadPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return err
	}
	return s.g.engine.Router.MarkRead(s.ctx, s.client, p.MessageID)
}

func (s *session) onHistoryFetch(env v1.Envelope) error {
	var p v1.ConversationHistoryFetchPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return err
	}
	page, err := s.g.engine.Router.History(s.ctx, s.client, p.ConversationID, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	s.client.Enqueue(HistoryChunk{
		ConversationID: strings.TrimSpace(p.ConversationID),
		Page:           page,
		Offset:         offset,
		ReplyTo:        env.ID,
	})
	return nil
}

// The editor's own connections receive message_updated through the fan-out.
func (s *session) onMessageEdit(env v1.Envelope) error {
	var p v1.MessageEditPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return err
	}
	_, err := s.g.engine.Router.Edit(s.ctx, s.client, p.MessageID, p.Body)
	return err
}

func (s *session) onMessageDelete(env v1.Envelope) error {
	var p v1.MessageDeletePayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return err
	}
	_, err := s.g.engine.Router.Delete(s.ctx, s.client, p.MessageID)
	return err
}

// onPresenceSet answers the caller with user_status; everyone else hears it from Presence.
func (s *session) onPresenceSet(env v1.Envelope) error {
	var p v1.PresenceSetPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		return err
	}
	rec, err := s.g.engine.Registry.SetStatus(s.client.UserID(), p.Status)
	if err != nil {
		return err
	}
	s.client.Enqueue(UserStatus{Record: rec})
	return nil
}

// ---- envelope IO ----

func credentialFromRequest(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (v1.Envelope, error) {
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalid(CodeInvalidPayload, err.Error())
	}
	return nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins keeps websocket.Accept's own origin check in
// agreement with the allowlist: only hosts extracted from it are accepted ("*" matches any).
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
