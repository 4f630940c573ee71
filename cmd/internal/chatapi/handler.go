// Package chatapi exposes the REST surface next to the websocket gateway: conversations,
// paged history, message send/edit/delete/search, read receipts and presence.
package chatapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/conversation"
	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/realtime"
)

// Handler serves the chat REST endpoints for authenticated callers.
type Handler struct {
	log    *slog.Logger
	cfg    Config
	engine *realtime.Engine
	auth   realtime.Authenticator
}

// NewHandler constructs a Handler over engine. Every route resolves its caller through auth.
func NewHandler(log *slog.Logger, cfg Config, engine *realtime.Engine, auth realtime.Authenticator) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if engine == nil {
		return nil, errors.New("chatapi: nil engine")
	}
	if auth == nil {
		return nil, errors.New("chatapi: nil authenticator")
	}
	return &Handler{
		log:    log,
		cfg:    cfg.withDefaults(),
		engine: engine,
		auth:   auth,
	}, nil
}

// Register wires the chat routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("GET /api/me", h.handleMe)
	mux.HandleFunc("GET /api/users/online", h.handleOnlineUsers)
	mux.HandleFunc("GET /api/conversations", h.handleListConversations)
	mux.HandleFunc("POST /api/conversations", h.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.handleListMessages)
	mux.HandleFunc("POST /api/conversations/{id}/messages", h.handleSendMessage)
	mux.HandleFunc("POST /api/conversations/{id}/read", h.handleReadConversation)
	mux.HandleFunc("POST /api/messages/{id}/read", h.handleReadMessage)
	mux.HandleFunc("PATCH /api/messages/{id}", h.handleEditMessage)
	mux.HandleFunc("DELETE /api/messages/{id}", h.handleDeleteMessage)
	mux.HandleFunc("GET /api/messages/search", h.handleSearchMessages)
	mux.HandleFunc("POST /api/me/status", h.handleSetStatus)
	mux.HandleFunc("GET /api/realtime", h.handleRealtimeInfo)
}

// ---- handlers ----

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID: id.ID,
		Name:   id.DisplayName(),
		Online: h.engine.Registry.IsOnline(id.ID),
	})
}

func (h *Handler) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAuth(w, r); !ok {
		return
	}
	records := h.engine.Presence.Online(r.Context())
	users := make([]presenceResponse, 0, len(records))
	for _, rec := range records {
		users = append(users, toPresenceResponse(rec))
	}
	writeJSON(w, http.StatusOK, onlineUsersResponse{Users: users})
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	convs, err := h.engine.Store.ListConversations(ctx, id.ID)
	if err != nil {
		h.log.Error("chatapi.conversations.list.fail", "user_id", id.ID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "storage_error", "storage unavailable")
		return
	}

	online := h.onlineSet(r)
	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationResponse(c, id.ID, online))
	}
	writeJSON(w, http.StatusOK, conversationsResponse{Conversations: out})
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req createConversationRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	peer := strings.TrimSpace(req.PeerID)
	if peer == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "peer_id is required")
		return
	}
	if peer == id.ID {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot open a conversation with yourself")
		return
	}

	c, err := h.engine.Store.FindOrCreateConversation(r.Context(), id.ID, peer)
	if err != nil {
		if conversation.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid peer_id")
			return
		}
		h.log.Error("chatapi.conversations.create.fail", "user_id", id.ID, "peer_id", peer, "err", err)
		writeError(w, http.StatusServiceUnavailable, "storage_error", "storage unavailable")
		return
	}

	h.log.Info("chatapi.conversations.create.ok", "conversation_id", c.ID, "user_id", id.ID, "peer_id", peer)
	writeJSON(w, http.StatusOK, toConversationResponse(c, id.ID, h.onlineSet(r)))
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	limit, offset, ok := pageParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit and offset must be non-negative integers")
		return
	}
	limit = conversation.ClampLimit(limit)

	page, err := h.engine.Router.HistoryAs(r.Context(), id, r.PathValue("id"), limit, offset)
	if err != nil {
		h.writeEngineError(w, "chatapi.messages.list", err)
		return
	}

	msgs := make([]messageResponse, 0, len(page.Messages))
	for _, m := range page.Messages {
		msgs = append(msgs, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, messagePageResponse{
		Messages: msgs,
		HasMore:  page.HasMore,
		Limit:    limit,
		Offset:   offset,
	})
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	msg, err := h.engine.Router.SendAs(r.Context(), id, realtime.SendInput{
		ConversationID: r.PathValue("id"),
		Body:           req.Body,
		Type:           req.Type,
		ClientMsgID:    req.ClientMsgID,
	})
	if err != nil {
		h.writeEngineError(w, "chatapi.messages.send", err)
		return
	}
	writeJSON(w, http.StatusCreated, messageCreatedResponse{Message: toMessageResponse(msg)})
}

func (h *Handler) handleReadConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	n, err := h.engine.Router.ReadConversation(r.Context(), id, r.PathValue("id"))
	if err != nil {
		h.writeEngineError(w, "chatapi.conversations.read", err)
		return
	}
	writeJSON(w, http.StatusOK, readResponse{Receipts: n})
}

func (h *Handler) handleReadMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	if err := h.engine.Router.MarkReadAs(r.Context(), id, r.PathValue("id")); err != nil {
		h.writeEngineError(w, "chatapi.messages.read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req editMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	msg, err := h.engine.Router.EditAs(r.Context(), id, r.PathValue("id"), req.Body)
	if err != nil {
		h.writeEngineError(w, "chatapi.messages.edit", err)
		return
	}
	writeJSON(w, http.StatusOK, messageCreatedResponse{Message: toMessageResponse(msg)})
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	if _, err := h.engine.Router.DeleteAs(r.Context(), id, r.PathValue("id")); err != nil {
		h.writeEngineError(w, "chatapi.messages.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	limit, _, ok := pageParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
		return
	}
	limit = conversation.ClampSearchLimit(limit)

	msgs, err := h.engine.Router.SearchAs(r.Context(), id, r.URL.Query().Get("q"), limit)
	if err != nil {
		h.writeEngineError(w, "chatapi.messages.search", err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, searchResponse{Messages: out, Limit: limit})
}

// handleSetStatus changes the status of a caller that has at least one live websocket.
func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req setStatusRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	rec, err := h.engine.Registry.SetStatus(id.ID, req.Status)
	if err != nil {
		h.writeEngineError(w, "chatapi.me.status", err)
		return
	}
	writeJSON(w, http.StatusOK, toPresenceResponse(rec))
}

func (h *Handler) handleRealtimeInfo(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAuth(w, r); !ok {
		return
	}
	url := h.cfg.PublicWSURL
	if url == "" {
		scheme := "ws"
		if r.TLS != nil {
			scheme = "wss"
		}
		url = scheme + "://" + r.Host + h.cfg.WSPath
	}
	writeJSON(w, http.StatusOK, realtimeInfoResponse{URL: url, Subprotocol: h.cfg.Subprotocol})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (realtime.Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return realtime.Identity{}, false
	}
	id, err := h.auth.ResolveIdentity(r.Context(), token)
	if err != nil || !id.Valid() {
		h.engine.Metrics.AuthFailures.WithLabelValues("rest").Inc()
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return realtime.Identity{}, false
	}
	return id, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// onlineSet returns the ids of online identities (mirror when configured, else local).
func (h *Handler) onlineSet(r *http.Request) map[string]bool {
	records := h.engine.Presence.Online(r.Context())
	set := make(map[string]bool, len(records))
	for _, rec := range records {
		set[rec.UserID] = true
	}
	return set
}

func pageParams(r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		limit = n
	}
	if v := strings.TrimSpace(q.Get("offset")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
