package chatapi

import (
	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/conversation"
	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/realtime"
)

// toMessageResponse drops the body of a deleted message.
func toMessageResponse(m conversation.Message) messageResponse {
	if m.Deleted {
		m.Body = ""
	}
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Type:           string(m.Type),
		ClientMsgID:    m.ClientMsgID,
		SentAt:         m.SentAt,
		Edited:         m.Edited,
		Deleted:        m.Deleted,
		EditedAt:       m.EditedAt,
		DeletedAt:      m.DeletedAt,
	}
}

func toConversationResponse(c conversation.Conversation, userID string, online map[string]bool) conversationResponse {
	peer := c.Peer(userID)
	return conversationResponse{
		ID:            c.ID,
		PeerID:        peer,
		PeerOnline:    online[peer],
		Unread:        c.UnreadFor(userID),
		LastMessageID: c.LastMessageID,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
	}
}

func toPresenceResponse(r realtime.PresenceRecord) presenceResponse {
	return presenceResponse{
		UserID:      r.UserID,
		Name:        r.Name,
		Status:      string(r.Status),
		LastSeen:    r.LastSeen,
		Connections: r.Connections,
	}
}
