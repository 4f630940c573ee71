package chatapi

import "time"

type createConversationRequest struct {
	PeerID string `json:"peer_id"`
}

type sendMessageRequest struct {
	Body        string `json:"body"`
	Type        string `json:"type"`
	ClientMsgID string `json:"client_msg_id"`
}

type editMessageRequest struct {
	Body string `json:"body"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type meResponse struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

type presenceResponse struct {
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	LastSeen    time.Time `json:"last_seen"`
	Connections int       `json:"connections"`
}

type onlineUsersResponse struct {
	Users []presenceResponse `json:"users"`
}

type conversationResponse struct {
	ID            string     `json:"id"`
	PeerID        string     `json:"peer_id"`
	PeerOnline    bool       `json:"peer_online"`
	Unread        int        `json:"unread"`
	LastMessageID *string    `json:"last_message_id"`
	LastMessageAt *time.Time `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

type conversationsResponse struct {
	Conversations []conversationResponse `json:"conversations"`
}

type messageResponse struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Seq            int64      `json:"seq"`
	SenderID       string     `json:"sender_id"`
	Body           string     `json:"body"`
	Type           string     `json:"type"`
	ClientMsgID    string     `json:"client_msg_id,omitempty"`
	SentAt         time.Time  `json:"sent_at"`
	Edited         bool       `json:"edited"`
	Deleted        bool       `json:"deleted"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

type messagePageResponse struct {
	Messages []messageResponse `json:"messages"`
	HasMore  bool              `json:"has_more"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type messageCreatedResponse struct {
	Message messageResponse `json:"message"`
}

type searchResponse struct {
	Messages []messageResponse `json:"messages"`
	Limit    int               `json:"limit"`
}

type readResponse struct {
	Receipts int `json:"receipts"`
}

type realtimeInfoResponse struct {
	URL         string `json:"url"`
	Subprotocol string `json:"subprotocol"`
}
