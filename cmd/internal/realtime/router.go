package realtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/conversation"
)

// ReceiptRecorder persists read receipts, inline or through a background queue.
type ReceiptRecorder interface {
	Record(ctx context.Context, r conversation.ReadReceipt) error
}

// SendInput is a client's request to send a message.
type SendInput struct {
	ConversationID string
	Body           string
	Type           string
	ClientMsgID    string
}

// Router validates, persists and fans out messages, and serves the conversation-scoped
// operations of a connection (join, leave, history, read).
type Router struct {
	log      *slog.Logger
	metrics  *Metrics
	store    conversation.Store
	receipts ReceiptRecorder
	reg      *Registry
	rooms    *Rooms
	typing   *Typing

	// seq serializes append+fan-out per conversation so delivery order equals persistence
	// order. Distinct conversations never contend.
	seq *keyedMutex
	now func() time.Time
}

// NewRouter wires a Router. receipts may be nil, in which case receipts go straight to store.
func NewRouter(store conversation.Store, receipts ReceiptRecorder, reg *Registry, rooms *Rooms, typing *Typing, log *slog.Logger, metrics *Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if receipts == nil {
		receipts = storeRecorder{store: store}
	}
	return &Router{
		log:      log,
		metrics:  metrics,
		store:    store,
		receipts: receipts,
		reg:      reg,
		rooms:    rooms,
		typing:   typing,
		seq:      newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type storeRecorder struct{ store conversation.Store }

func (s storeRecorder) Record(ctx context.Context, r conversation.ReadReceipt) error {
	return s.store.MarkRead(ctx, r)
}

// Send validates in, appends it and delivers message_new to every room member, every
// connection of the sender and every connection of the recipient, once each.
// A duplicate client_msg_id returns the stored message without a second fan-out.
func (r *Router) Send(ctx context.Context, c *Client, in SendInput) (conversation.Message, error) {
	if c == nil {
		return conversation.Message{}, ErrAuthRequired
	}
	return r.SendAs(ctx, c.Identity(), in)
}

// SendAs is Send for callers without a websocket connection (the REST API). The message
// reaches the live sessions of both participants the same way.
func (r *Router) SendAs(ctx context.Context, sender Identity, in SendInput) (conversation.Message, error) {
	if !sender.Valid() {
		return conversation.Message{}, ErrAuthRequired
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		return conversation.Message{}, r.reject(invalid(CodeMissingConversation, "conversation_id is required"))
	}
	// Non-participants get AccessDenied whatever the payload.
	isMember, err := r.store.IsParticipant(ctx, convID, sender.ID)
	if err != nil {
		return conversation.Message{}, r.reject(&StorageError{Op: "is_participant", Err: err})
	}
	if !isMember {
		return conversation.Message{}, r.reject(ErrAccessDenied)
	}

	body, typ, err := validateBody(in.Body, in.Type)
	if err != nil {
		return conversation.Message{}, r.reject(err)
	}

	unlock := r.seq.Lock(convID)
	defer unlock()

	res, err := r.store.AppendMessage(ctx, conversation.AppendMessageInput{
		ConversationID: convID,
		SenderID:       sender.ID,
		Body:           body,
		Type:           typ,
		ClientMsgID:    strings.TrimSpace(in.ClientMsgID),
		Now:            r.now(),
	})
	if err != nil {
		if errors.Is(err, conversation.ErrNotParticipant) || conversation.IsNotFound(err) {
			return conversation.Message{}, r.reject(ErrAccessDenied)
		}
		r.log.Error("router.send.store.fail", "conversation_id", convID, "user_id", sender.ID, "err", err)
		return conversation.Message{}, r.reject(&StorageError{Op: "append_message", Err: err})
	}

	if res.Duplicated {
		r.metrics.MessagesRouted.WithLabelValues("duplicate").Inc()
		r.log.Debug("router.send.duplicate", "conversation_id", convID, "message_id", res.Message.ID)
		return res.Message, nil
	}

	targets := r.fanoutTargets(convID, sender.ID, res.RecipientID)
	delivered := r.metrics.deliver(MessageNew{Message: res.Message}, targets)

	r.typing.ClearUser(convID, sender.ID)

	r.metrics.MessagesRouted.WithLabelValues("ok").Inc()
	r.log.Info("router.send.ok",
		"conversation_id", convID,
		"message_id", res.Message.ID,
		"seq", res.Message.Seq,
		"targets", len(targets),
		"delivered", delivered,
	)
	return res.Message, nil
}

// Edit replaces the body of one of c's messages and delivers message_updated to the same
// targets a send reaches.
func (r *Router) Edit(ctx context.Context, c *Client, messageID, body string) (conversation.Message, error) {
	if c == nil {
		return conversation.Message{}, ErrAuthRequired
	}
	return r.EditAs(ctx, c.Identity(), messageID, body)
}

// EditAs is Edit for a caller identified without a connection.
func (r *Router) EditAs(ctx context.Context, editor Identity, messageID, body string) (conversation.Message, error) {
	m, err := r.ownedMessage(ctx, editor, messageID)
	if err != nil {
		return conversation.Message{}, err
	}
	if m.Deleted {
		return conversation.Message{}, invalid(CodeMessageDeleted, "message was deleted")
	}
	body, _, err = validateBody(body, string(m.Type))
	if err != nil {
		return conversation.Message{}, err
	}

	unlock := r.seq.Lock(m.ConversationID)
	defer unlock()

	updated, err := r.store.EditMessage(ctx, conversation.EditMessageInput{
		MessageID: m.ID,
		EditorID:  editor.ID,
		Body:      body,
		Now:       r.now(),
	})
	if err != nil {
		return conversation.Message{}, r.mutationError("edit_message", m, err)
	}

	delivered := r.publishUpdate(ctx, updated)
	r.log.Info("router.edit.ok", "conversation_id", updated.ConversationID, "message_id", updated.ID, "delivered", delivered)
	return updated, nil
}

// Delete soft-deletes one of c's messages. Deleting twice is a no-op that returns the stored
// message and delivers nothing.
func (r *Router) Delete(ctx context.Context, c *Client, messageID string) (conversation.Message, error) {
	if c == nil {
		return conversation.Message{}, ErrAuthRequired
	}
	return r.DeleteAs(ctx, c.Identity(), messageID)
}

// DeleteAs is Delete for a caller identified without a connection.
func (r *Router) DeleteAs(ctx context.Context, user Identity, messageID string) (conversation.Message, error) {
	m, err := r.ownedMessage(ctx, user, messageID)
	if err != nil {
		return conversation.Message{}, err
	}

	unlock := r.seq.Lock(m.ConversationID)
	defer unlock()

	// Re-read under the lock so two racing deletes fan out once.
	current, err := r.store.GetMessage(ctx, m.ID)
	if err != nil {
		return conversation.Message{}, r.mutationError("get_message", m, err)
	}
	if current.Deleted {
		return current, nil
	}

	deleted, err := r.store.DeleteMessage(ctx, m.ID, user.ID, r.now())
	if err != nil {
		return conversation.Message{}, r.mutationError("delete_message", m, err)
	}

	delivered := r.publishUpdate(ctx, deleted)
	r.log.Info("router.delete.ok", "conversation_id", deleted.ConversationID, "message_id", deleted.ID, "delivered", delivered)
	return deleted, nil
}

// ownedMessage loads messageID and checks that caller is a participant and the sender, in
// that order.
func (r *Router) ownedMessage(ctx context.Context, caller Identity, messageID string) (conversation.Message, error) {
	if !caller.Valid() {
		return conversation.Message{}, ErrAuthRequired
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return conversation.Message{}, invalid(CodeUnknownMessage, "message_id is required")
	}

	m, err := r.store.GetMessage(ctx, messageID)
	if conversation.IsNotFound(err) {
		return conversation.Message{}, invalid(CodeUnknownMessage, "message not found")
	}
	if err != nil {
		return conversation.Message{}, &StorageError{Op: "get_message", Err: err}
	}

	ok, err := r.store.IsParticipant(ctx, m.ConversationID, caller.ID)
	if err != nil {
		return conversation.Message{}, &StorageError{Op: "is_participant", Err: err}
	}
	if !ok {
		return conversation.Message{}, ErrAccessDenied
	}
	if m.SenderID != caller.ID {
		return conversation.Message{}, ErrNotSender
	}
	return m, nil
}

func (r *Router) mutationError(op string, m conversation.Message, err error) error {
	switch {
	case errors.Is(err, conversation.ErrNotSender):
		return ErrNotSender
	case errors.Is(err, conversation.ErrMessageDeleted):
		return invalid(CodeMessageDeleted, "message was deleted")
	case conversation.IsNotFound(err):
		return invalid(CodeUnknownMessage, "message not found")
	}
	r.log.Error("router."+op+".fail", "conversation_id", m.ConversationID, "message_id", m.ID, "err", err)
	return &StorageError{Op: op, Err: err}
}

// publishUpdate delivers message_updated for m. Caller holds the conversation's seq lock.
func (r *Router) publishUpdate(ctx context.Context, m conversation.Message) int {
	var peer string
	if conv, err := r.store.GetConversation(ctx, m.ConversationID); err == nil {
		peer = conv.Peer(m.SenderID)
	} else {
		r.log.Warn("router.update.peer.fail", "conversation_id", m.ConversationID, "err", err)
	}
	return r.metrics.deliver(MessageUpdated{Message: m}, r.fanoutTargets(m.ConversationID, m.SenderID, peer))
}

// SearchAs returns caller's newest messages whose body contains term, across every
// conversation caller belongs to. Deleted messages never match.
func (r *Router) SearchAs(ctx context.Context, caller Identity, term string, limit int) ([]conversation.Message, error) {
	if !caller.Valid() {
		return nil, ErrAuthRequired
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, invalid(CodeEmptyQuery, "search term is required")
	}
	if utf8.RuneCountInString(term) > maxMessageChars {
		return nil, invalid(CodeBodyTooLong, "search term exceeds 4000 characters")
	}

	out, err := r.store.SearchMessages(ctx, caller.ID, term, limit)
	if err != nil {
		return nil, &StorageError{Op: "search_messages", Err: err}
	}
	return out, nil
}

// validateBody trims body and checks it against the length limit and the message type set.
func validateBody(body, rawType string) (string, conversation.MessageType, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", "", invalid(CodeEmptyBody, "message body is empty")
	}
	if utf8.RuneCountInString(body) > maxMessageChars {
		return "", "", invalid(CodeBodyTooLong, "message exceeds 4000 characters")
	}
	typ, ok := conversation.ParseMessageType(rawType)
	if !ok {
		return "", "", invalid(CodeInvalidType, "unsupported message type")
	}
	return body, typ, nil
}

func (r *Router) reject(err error) error {
	r.metrics.MessagesRouted.WithLabelValues(errorCode(err)).Inc()
	return err
}

// fanoutTargets returns MembersOf(conv) ∪ ConnectionsOf(sender) ∪ ConnectionsOf(recipient),
// deduplicated by connection id.
func (r *Router) fanoutTargets(convID, senderID, recipientID string) []*Client {
	seen := make(map[string]struct{}, 8)
	out := make([]*Client, 0, 8)
	add := func(cs []*Client) {
		for _, c := range cs {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	add(r.rooms.MembersOf(convID))
	add(r.reg.ConnectionsOf(senderID))
	if recipientID != "" {
		add(r.reg.ConnectionsOf(recipientID))
	}
	return out
}

// Join adds c to the conversation room, resets the caller's unread counter and records
// receipts for every peer message. A reset failure is logged; the join stands.
func (r *Router) Join(ctx context.Context, c *Client, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if _, err := r.rooms.Join(ctx, c, conversationID); err != nil {
		return err
	}

	if err := r.store.ResetUnread(ctx, conversationID, c.UserID()); err != nil {
		r.log.Warn("router.join.reset_unread.fail", "conversation_id", conversationID, "user_id", c.UserID(), "err", err)
	}
	n, err := r.store.MarkConversationRead(ctx, conversationID, c.UserID(), r.now())
	if err != nil {
		r.log.Warn("router.join.mark_read.fail", "conversation_id", conversationID, "user_id", c.UserID(), "err", err)
	}

	r.log.Info("router.join.ok", "conversation_id", conversationID, "connection_id", c.ID, "user_id", c.UserID(), "receipts", n)
	return nil
}

// Leave removes c from the room and clears its typing mark there.
func (r *Router) Leave(c *Client, conversationID string) bool {
	conversationID = strings.TrimSpace(conversationID)
	r.typing.ClearTyping(c, conversationID)
	return r.rooms.Leave(c, conversationID)
}

// History returns a newest-first page of conversationID for a participant.
func (r *Router) History(ctx context.Context, c *Client, conversationID string, limit, offset int) (conversation.MessagePage, error) {
	if c == nil {
		return conversation.MessagePage{}, ErrAuthRequired
	}
	return r.HistoryAs(ctx, c.Identity(), conversationID, limit, offset)
}

// HistoryAs is History for a caller identified without a connection.
func (r *Router) HistoryAs(ctx context.Context, caller Identity, conversationID string, limit, offset int) (conversation.MessagePage, error) {
	if !caller.Valid() {
		return conversation.MessagePage{}, ErrAuthRequired
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return conversation.MessagePage{}, invalid(CodeMissingConversation, "conversation_id is required")
	}

	ok, err := r.store.IsParticipant(ctx, conversationID, caller.ID)
	if err != nil {
		return conversation.MessagePage{}, &StorageError{Op: "is_participant", Err: err}
	}
	if !ok {
		return conversation.MessagePage{}, ErrAccessDenied
	}

	page, err := r.store.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return conversation.MessagePage{}, &StorageError{Op: "list_messages", Err: err}
	}
	return page, nil
}

// MarkRead records that c's identity read messageID.
func (r *Router) MarkRead(ctx context.Context, c *Client, messageID string) error {
	if c == nil {
		return ErrAuthRequired
	}
	return r.MarkReadAs(ctx, c.Identity(), messageID)
}

// MarkReadAs is MarkRead for a caller identified without a connection.
func (r *Router) MarkReadAs(ctx context.Context, reader Identity, messageID string) error {
	if !reader.Valid() {
		return ErrAuthRequired
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return invalid(CodeUnknownMessage, "message_id is required")
	}

	m, err := r.store.GetMessage(ctx, messageID)
	if conversation.IsNotFound(err) {
		return invalid(CodeUnknownMessage, "message not found")
	}
	if err != nil {
		return &StorageError{Op: "get_message", Err: err}
	}

	ok, err := r.store.IsParticipant(ctx, m.ConversationID, reader.ID)
	if err != nil {
		return &StorageError{Op: "is_participant", Err: err}
	}
	if !ok {
		return ErrAccessDenied
	}

	if err := r.receipts.Record(ctx, conversation.ReadReceipt{
		MessageID: messageID,
		ReaderID:  reader.ID,
		ReadAt:    r.now(),
	}); err != nil {
		return &StorageError{Op: "mark_read", Err: err}
	}
	return nil
}

// ReadConversation zeroes reader's unread counter in conversationID and records receipts
// for every peer message, returning how many receipts were new.
func (r *Router) ReadConversation(ctx context.Context, reader Identity, conversationID string) (int, error) {
	if !reader.Valid() {
		return 0, ErrAuthRequired
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return 0, invalid(CodeMissingConversation, "conversation_id is required")
	}

	ok, err := r.store.IsParticipant(ctx, conversationID, reader.ID)
	if err != nil {
		return 0, &StorageError{Op: "is_participant", Err: err}
	}
	if !ok {
		return 0, ErrAccessDenied
	}

	if err := r.store.ResetUnread(ctx, conversationID, reader.ID); err != nil {
		return 0, &StorageError{Op: "reset_unread", Err: err}
	}
	n, err := r.store.MarkConversationRead(ctx, conversationID, reader.ID, r.now())
	if err != nil {
		return 0, &StorageError{Op: "mark_conversation_read", Err: err}
	}
	return n, nil
}
