package conversation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/ids"
)

const memMaxMessagesPerConversation = 10_000

// InMemoryStore is a dev fallback when no database is configured.
// Every operation runs under one mutex, so AppendMessage is a single critical section.
type InMemoryStore struct {
	mu sync.Mutex

	convs    map[string]*memConv
	pairs    map[[2]string]string // canonical pair -> conversation id
	msgIndex map[string]memMsgRef // message id -> location
	receipts map[string]map[string]time.Time
}

type memConv struct {
	conv   Conversation
	seq    int64
	dedupe map[string]Message // client_msg_id -> stored message
	msgs   []Message          // ordered by seq ASC
}

type memMsgRef struct {
	convID string
	seq    int64
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convs:    make(map[string]*memConv),
		pairs:    make(map[[2]string]string),
		msgIndex: make(map[string]memMsgRef),
		receipts: make(map[string]map[string]time.Time),
	}
}

// Close is a noop for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) FindOrCreateConversation(ctx context.Context, userA, userB string) (Conversation, error) {
	a, b, err := CanonicalPair(userA, userB)
	if err != nil {
		return Conversation{}, OpError{Op: "conversation.FindOrCreate", Kind: err}
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.pairs[[2]string{a, b}]; ok {
		return s.convs[id].conv, nil
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return Conversation{}, err
	}
	c := &memConv{
		conv:   Conversation{ID: id, UserA: a, UserB: b, CreatedAt: now},
		dedupe: make(map[string]Message),
	}
	s.convs[id] = c
	s.pairs[[2]string{a, b}] = id
	return c.conv, nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[strings.TrimSpace(id)]
	if c == nil {
		return Conversation{}, opErr("conversation.Get", ErrNotFound, "")
	}
	return c.conv, nil
}

func (s *InMemoryStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[strings.TrimSpace(conversationID)]
	if c == nil {
		return false, nil
	}
	return c.conv.Has(strings.TrimSpace(userID)), nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	const op = "conversation.AppendMessage"
	if err := validateAppend(op, &in); err != nil {
		return AppendMessageResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		return AppendMessageResult{}, opErr(op, ErrNotFound, in.ConversationID)
	}
	if !c.conv.Has(in.SenderID) {
		return AppendMessageResult{}, opErr(op, ErrNotParticipant, "")
	}
	recipient := c.conv.Peer(in.SenderID)

	if in.ClientMsgID != "" {
		if existing, ok := c.dedupe[in.ClientMsgID]; ok {
			return AppendMessageResult{Message: existing, RecipientID: recipient, Duplicated: true}, nil
		}
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return AppendMessageResult{}, err
	}

	c.seq++
	msg := Message{
		ID:             id,
		ConversationID: in.ConversationID,
		Seq:            c.seq,
		SenderID:       in.SenderID,
		Body:           in.Body,
		Type:           in.Type,
		ClientMsgID:    in.ClientMsgID,
		SentAt:         in.Now,
	}
	if in.ClientMsgID != "" {
		c.dedupe[in.ClientMsgID] = msg
	}
	c.msgs = append(c.msgs, msg)
	s.msgIndex[id] = memMsgRef{convID: in.ConversationID, seq: msg.Seq}

	if len(c.msgs) > memMaxMessagesPerConversation {
		for _, old := range c.msgs[:len(c.msgs)-memMaxMessagesPerConversation] {
			delete(s.msgIndex, old.ID)
			delete(s.receipts, old.ID)
		}
		c.msgs = c.msgs[len(c.msgs)-memMaxMessagesPerConversation:]
	}

	lastID := id
	lastAt := in.Now
	c.conv.LastMessageID = &lastID
	c.conv.LastMessageAt = &lastAt
	incrementUnreadLocked(&c.conv, recipient)

	return AppendMessageResult{Message: msg, RecipientID: recipient}, nil
}

func (s *InMemoryStore) IncrementUnread(ctx context.Context, conversationID, recipientID string) error {
	return s.mutateUnread(ctx, "conversation.IncrementUnread", conversationID, recipientID, incrementUnreadLocked)
}

func (s *InMemoryStore) ResetUnread(ctx context.Context, conversationID, userID string) error {
	return s.mutateUnread(ctx, "conversation.ResetUnread", conversationID, userID, func(c *Conversation, user string) {
		if c.UserA == user {
			c.UnreadA = 0
		} else {
			c.UnreadB = 0
		}
	})
}

func (s *InMemoryStore) mutateUnread(ctx context.Context, op, conversationID, userID string, fn func(*Conversation, string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[strings.TrimSpace(conversationID)]
	if c == nil {
		return opErr(op, ErrNotFound, conversationID)
	}
	if !c.conv.Has(userID) {
		return opErr(op, ErrNotParticipant, "")
	}
	fn(&c.conv, userID)
	return nil
}

func incrementUnreadLocked(c *Conversation, recipient string) {
	if c.UserA == recipient {
		c.UnreadA++
	} else if c.UserB == recipient {
		c.UnreadB++
	}
}

func (s *InMemoryStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) (MessagePage, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return MessagePage{}, opErr("conversation.ListMessages", ErrInvalidInput, "missing conversation_id")
	}
	if err := ctx.Err(); err != nil {
		return MessagePage{}, err
	}
	limit = ClampLimit(limit)
	offset = clampOffset(offset)

	s.mu.Lock()
	c := s.convs[conversationID]
	var snap []Message
	if c != nil {
		snap = make([]Message, 0, len(c.msgs))
		for _, m := range c.msgs {
			if !m.Deleted {
				snap = append(snap, m)
			}
		}
	}
	s.mu.Unlock()

	// Newest first.
	sort.Slice(snap, func(i, j int) bool { return snap[i].Seq > snap[j].Seq })

	if offset >= len(snap) {
		return MessagePage{}, nil
	}
	end := offset + limit
	hasMore := end < len(snap)
	if end > len(snap) {
		end = len(snap)
	}
	return MessagePage{Messages: snap[offset:end], HasMore: hasMore}, nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, opErr("conversation.ListConversations", ErrInvalidInput, "missing user_id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]Conversation, 0, 8)
	for _, c := range s.convs {
		if c.conv.Has(userID) {
			out = append(out, c.conv)
		}
	}
	s.mu.Unlock()

	sortConversations(out)
	return out, nil
}

func (s *InMemoryStore) GetMessage(ctx context.Context, id string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookupLocked(strings.TrimSpace(id))
	if !ok {
		return Message{}, opErr("conversation.GetMessage", ErrNotFound, id)
	}
	return m, nil
}

func (s *InMemoryStore) lookupLocked(id string) (Message, bool) {
	m := s.slotLocked(id)
	if m == nil {
		return Message{}, false
	}
	return *m, true
}

// slotLocked points at the stored message so callers can update it in place.
func (s *InMemoryStore) slotLocked(id string) *Message {
	ref, ok := s.msgIndex[id]
	if !ok {
		return nil
	}
	c := s.convs[ref.convID]
	if c == nil || len(c.msgs) == 0 {
		return nil
	}
	// msgs is dense by seq after trimming from the front.
	idx := int(ref.seq - c.msgs[0].Seq)
	if idx < 0 || idx >= len(c.msgs) {
		return nil
	}
	return &c.msgs[idx]
}

func (s *InMemoryStore) EditMessage(ctx context.Context, in EditMessageInput) (Message, error) {
	const op = "conversation.EditMessage"
	if err := validateEdit(op, &in); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutateMessageLocked(op, in.MessageID, in.EditorID, func(m *Message) {
		at := in.Now
		m.Body = in.Body
		m.Edited = true
		m.EditedAt = &at
	})
}

func (s *InMemoryStore) DeleteMessage(ctx context.Context, messageID, userID string, at time.Time) (Message, error) {
	const op = "conversation.DeleteMessage"
	messageID = strings.TrimSpace(messageID)
	userID = strings.TrimSpace(userID)
	if messageID == "" || userID == "" {
		return Message{}, opErr(op, ErrInvalidInput, "message_id and user_id are required")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookupLocked(messageID)
	if !ok {
		return Message{}, opErr(op, ErrNotFound, messageID)
	}
	if m.SenderID != userID {
		return Message{}, opErr(op, ErrNotSender, "")
	}
	if m.Deleted {
		return m, nil
	}
	return s.mutateMessageLocked(op, messageID, userID, func(m *Message) {
		m.Deleted = true
		m.DeletedAt = &at
	})
}

// mutateMessageLocked applies fn to the stored message and its dedupe entry.
func (s *InMemoryStore) mutateMessageLocked(op, messageID, userID string, fn func(*Message)) (Message, error) {
	m := s.slotLocked(messageID)
	if m == nil {
		return Message{}, opErr(op, ErrNotFound, messageID)
	}
	if err := checkMutable(op, *m, userID); err != nil {
		return Message{}, err
	}
	fn(m)
	if c := s.convs[m.ConversationID]; m.ClientMsgID != "" {
		c.dedupe[m.ClientMsgID] = *m
	}
	return *m, nil
}

func (s *InMemoryStore) SearchMessages(ctx context.Context, userID, term string, limit int) ([]Message, error) {
	const op = "conversation.SearchMessages"
	userID = strings.TrimSpace(userID)
	term = strings.ToLower(strings.TrimSpace(term))
	if userID == "" || term == "" {
		return nil, opErr(op, ErrInvalidInput, "user_id and term are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = ClampSearchLimit(limit)

	s.mu.Lock()
	out := make([]Message, 0, limit)
	for _, c := range s.convs {
		if !c.conv.Has(userID) {
			continue
		}
		for _, m := range c.msgs {
			if !m.Deleted && strings.Contains(strings.ToLower(m.Body), term) {
				out = append(out, m)
			}
		}
	}
	s.mu.Unlock()

	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) MarkRead(ctx context.Context, r ReadReceipt) error {
	const op = "conversation.MarkRead"
	r.MessageID = strings.TrimSpace(r.MessageID)
	r.ReaderID = strings.TrimSpace(r.ReaderID)
	if r.MessageID == "" || r.ReaderID == "" {
		return opErr(op, ErrInvalidInput, "message_id and reader_id are required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ReadAt.IsZero() {
		r.ReadAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookupLocked(r.MessageID)
	if !ok {
		return opErr(op, ErrNotFound, r.MessageID)
	}
	if !s.convs[m.ConversationID].conv.Has(r.ReaderID) {
		return opErr(op, ErrNotParticipant, "")
	}
	s.putReceiptLocked(r)
	return nil
}

func (s *InMemoryStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	const op = "conversation.MarkConversationRead"
	conversationID = strings.TrimSpace(conversationID)
	readerID = strings.TrimSpace(readerID)
	if conversationID == "" || readerID == "" {
		return 0, opErr(op, ErrInvalidInput, "conversation_id and reader_id are required")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return 0, opErr(op, ErrNotFound, conversationID)
	}
	if !c.conv.Has(readerID) {
		return 0, opErr(op, ErrNotParticipant, "")
	}

	n := 0
	for _, m := range c.msgs {
		if m.SenderID == readerID {
			continue
		}
		if _, seen := s.receipts[m.ID][readerID]; seen {
			continue
		}
		s.putReceiptLocked(ReadReceipt{MessageID: m.ID, ReaderID: readerID, ReadAt: at})
		n++
	}
	return n, nil
}

// ReadAt returns when readerID read messageID.
func (s *InMemoryStore) ReadAt(messageID, readerID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.receipts[messageID][readerID]
	return at, ok
}

func (s *InMemoryStore) putReceiptLocked(r ReadReceipt) {
	byReader := s.receipts[r.MessageID]
	if byReader == nil {
		byReader = make(map[string]time.Time, 2)
		s.receipts[r.MessageID] = byReader
	}
	byReader[r.ReaderID] = r.ReadAt
}

// sortNewestFirst orders by SentAt descending, then id descending.
func sortNewestFirst(ms []Message) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].SentAt.Equal(ms[j].SentAt) {
			return ms[i].SentAt.After(ms[j].SentAt)
		}
		return ms[i].ID > ms[j].ID
	})
}

// sortConversations orders by most recent activity, then newest conversation.
func sortConversations(cs []Conversation) {
	activity := func(c Conversation) time.Time {
		if c.LastMessageAt != nil {
			return *c.LastMessageAt
		}
		return c.CreatedAt
	}
	sort.SliceStable(cs, func(i, j int) bool {
		ai, aj := activity(cs[i]), activity(cs[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return cs[i].ID > cs[j].ID
	})
}
