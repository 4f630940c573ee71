package v1

import "time"

// ---- client payloads ----

// HelloPayload carries the access token when it was not sent with the handshake.
type HelloPayload struct {
	Token string `json:"token,omitempty"`
}

// ConversationRefPayload names a conversation (join, leave, typing).
type ConversationRefPayload struct {
	ConversationID string `json:"conversation_id"`
}

// MessageSendPayload requests sending a message into a conversation.
// Type defaults to "text" when empty.
type MessageSendPayload struct {
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id,omitempty"`
	Body           string `json:"body"`
	Type           string `json:"type,omitempty"`
}

// MessageReadPayload marks a single message as read by the caller.
type MessageReadPayload struct {
	MessageID string `json:"message_id"`
}

// MessageEditPayload replaces the body of one of the caller's messages.
type MessageEditPayload struct {
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
}

// MessageDeletePayload soft-deletes one of the caller's messages.
type MessageDeletePayload struct {
	MessageID string `json:"message_id"`
}

// PresenceSetPayload sets the caller's status: online, away or busy.
type PresenceSetPayload struct {
	Status string `json:"status"`
}

// ConversationHistoryFetchPayload requests a newest-first page of history.
type ConversationHistoryFetchPayload struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}

// ---- server payloads ----

// HelloAckPayload confirms authentication.
type HelloAckPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	Name         string `json:"name,omitempty"`
}

// ConversationAckPayload confirms a join or leave.
type ConversationAckPayload struct {
	ConversationID string `json:"conversation_id"`
}

// MessagePayload is the wire shape of a persisted message.
type MessagePayload struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Seq            int64      `json:"seq"`
	SenderID       string     `json:"sender_id"`
	Body           string     `json:"body"`
	Type           string     `json:"type"`
	ClientMsgID    string     `json:"client_msg_id,omitempty"`
	SentAt         time.Time  `json:"sent_at"`
	Edited         bool       `json:"edited,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// MessageAckPayload acknowledges a send with the persisted message.
type MessageAckPayload struct {
	Message MessagePayload `json:"message"`
}

// MessageNewPayload is fanned out when a message is accepted.
type MessageNewPayload struct {
	Message MessagePayload `json:"message"`
}

// MessageUpdatedPayload is fanned out after an edit or delete. A deleted message has an empty body.
type MessageUpdatedPayload struct {
	Message MessagePayload `json:"message"`
}

// UserPresencePayload announces an identity going online or offline, or changing status.
type UserPresencePayload struct {
	UserID   string    `json:"user_id"`
	Name     string    `json:"name,omitempty"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceSnapshotPayload lists every identity online when the snapshot was taken.
type PresenceSnapshotPayload struct {
	Users []UserPresencePayload `json:"users"`
}

// TypingPayload announces a typing transition inside a conversation.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Name           string `json:"name,omitempty"`
}

// ConversationHistoryChunkPayload answers a history fetch (newest first).
type ConversationHistoryChunkPayload struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []MessagePayload `json:"messages"`
	Offset         int              `json:"offset"`
	HasMore        bool             `json:"has_more"`
}

// ErrorPayload is a structured error acknowledgement.
// RequestID echoes the envelope id of the request that failed, when known.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}
