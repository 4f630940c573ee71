// Package conversation persists two-party conversations, their messages, unread counters
// and read receipts. It is the storage collaborator of the realtime engine.
package conversation

import (
	"context"
	"strings"
	"time"
)

// History paging limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Search limits.
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// MessageType classifies a message body.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
	TypeAudio MessageType = "audio"
)

// ParseMessageType maps a wire value onto a MessageType. Empty defaults to text.
func ParseMessageType(s string) (MessageType, bool) {
	switch MessageType(strings.ToLower(strings.TrimSpace(s))) {
	case "", TypeText:
		return TypeText, true
	case TypeImage:
		return TypeImage, true
	case TypeFile:
		return TypeFile, true
	case TypeAudio:
		return TypeAudio, true
	default:
		return "", false
	}
}

// Conversation is a two-party conversation. UserA < UserB always holds.
type Conversation struct {
	ID            string
	UserA         string
	UserB         string
	LastMessageID *string
	LastMessageAt *time.Time
	UnreadA       int
	UnreadB       int
	CreatedAt     time.Time
}

// Has reports whether userID is one of the two participants.
func (c Conversation) Has(userID string) bool {
	return userID != "" && (c.UserA == userID || c.UserB == userID)
}

// Peer returns the other participant, or "" when userID is not a participant.
func (c Conversation) Peer(userID string) string {
	switch userID {
	case c.UserA:
		return c.UserB
	case c.UserB:
		return c.UserA
	default:
		return ""
	}
}

// UnreadFor returns the unread counter owned by userID.
func (c Conversation) UnreadFor(userID string) int {
	switch userID {
	case c.UserA:
		return c.UnreadA
	case c.UserB:
		return c.UnreadB
	default:
		return 0
	}
}

// Message is a persisted message. Seq is monotonic per conversation.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	SenderID       string
	Body           string
	Type           MessageType
	ClientMsgID    string
	SentAt         time.Time
	Edited         bool
	Deleted        bool
	EditedAt       *time.Time
	DeletedAt      *time.Time
}

// ReadReceipt records that ReaderID read MessageID.
type ReadReceipt struct {
	MessageID string
	ReaderID  string
	ReadAt    time.Time
}

// AppendMessageInput describes a message append request.
type AppendMessageInput struct {
	ConversationID string
	SenderID       string
	Body           string
	Type           MessageType
	ClientMsgID    string
	Now            time.Time
}

// EditMessageInput replaces the body of MessageID. Only the sender may edit.
type EditMessageInput struct {
	MessageID string
	EditorID  string
	Body      string
	Now       time.Time
}

// AppendMessageResult is the append operation result.
// RecipientID is the participant whose unread counter was incremented.
type AppendMessageResult struct {
	Message     Message
	RecipientID string
	Duplicated  bool
}

// MessagePage is a newest-first history window.
type MessagePage struct {
	Messages []Message
	HasMore  bool
}

// Store persists conversations and messages.
//
// Requirements:
//   - AppendMessage inserts the message, moves the last-message pointer and increments the
//     recipient's unread counter atomically.
//   - Idempotency per (conversation_id, client_msg_id) when a client id is supplied.
//   - Unread counters never go below zero.
//   - ListMessages is ordered newest first and skips deleted messages.
//   - EditMessage and DeleteMessage are allowed for the sender only; deletion is soft and
//     a repeated delete returns the stored message unchanged.
//   - SearchMessages matches case-insensitively over the user's conversations, newest first.
type Store interface {
	FindOrCreateConversation(ctx context.Context, userA, userB string) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error)
	IncrementUnread(ctx context.Context, conversationID, recipientID string) error
	ResetUnread(ctx context.Context, conversationID, userID string) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) (MessagePage, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	MarkRead(ctx context.Context, r ReadReceipt) error
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error)
	EditMessage(ctx context.Context, in EditMessageInput) (Message, error)
	DeleteMessage(ctx context.Context, messageID, userID string, at time.Time) (Message, error)
	SearchMessages(ctx context.Context, userID, term string, limit int) ([]Message, error)
	Close() error
}

// CanonicalPair orders a participant pair so (a, b) and (b, a) map to the same row.
func CanonicalPair(a, b string) (string, string, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", "", ErrInvalidInput
	}
	if a == b {
		return "", "", ErrSameParticipant
	}
	if b < a {
		a, b = b, a
	}
	return a, b, nil
}

// ClampLimit applies the history defaults.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func validateAppend(op string, in *AppendMessageInput) error {
	in.ConversationID = strings.TrimSpace(in.ConversationID)
	in.SenderID = strings.TrimSpace(in.SenderID)
	in.ClientMsgID = strings.TrimSpace(in.ClientMsgID)
	if in.ConversationID == "" || in.SenderID == "" {
		return opErr(op, ErrInvalidInput, "conversation_id and sender_id are required")
	}
	if in.Body == "" {
		return opErr(op, ErrInvalidInput, "empty body")
	}
	if in.Type == "" {
		in.Type = TypeText
	}
	if _, ok := ParseMessageType(string(in.Type)); !ok {
		return opErr(op, ErrInvalidInput, "unknown message type")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return nil
}

// ClampSearchLimit applies the search defaults.
func ClampSearchLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

func validateEdit(op string, in *EditMessageInput) error {
	in.MessageID = strings.TrimSpace(in.MessageID)
	in.EditorID = strings.TrimSpace(in.EditorID)
	if in.MessageID == "" || in.EditorID == "" {
		return opErr(op, ErrInvalidInput, "message_id and editor_id are required")
	}
	if in.Body == "" {
		return opErr(op, ErrInvalidInput, "empty body")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return nil
}

// checkMutable reports why userID may not change m, or nil.
func checkMutable(op string, m Message, userID string) error {
	if m.SenderID != userID {
		return opErr(op, ErrNotSender, "")
	}
	if m.Deleted {
		return opErr(op, ErrMessageDeleted, "")
	}
	return nil
}

// likePattern escapes LIKE metacharacters in term and wraps it for a substring match.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(term)) + "%"
}
