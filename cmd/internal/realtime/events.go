package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/conversation"
	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/ids"
	v1 "github.com/Joseph-Soncco/app-pruebas/shared/contracts/realtime/v1"
)

// Event is an outbound server event. The set is closed: every implementation lives in this
// file and encodeEvent handles each one.
type Event interface {
	Type() string
	sealed()
}

type (
	HelloAck struct {
		ConnectionID string
		Identity     Identity
	}
	ConversationJoined struct {
		ConversationID string
		ReplyTo        string
	}
	ConversationLeft struct {
		ConversationID string
		ReplyTo        string
	}
	MessageAck struct {
		Message conversation.Message
		ReplyTo string
	}
	MessageNew struct {
		Message conversation.Message
	}
	MessageUpdated struct {
		Message conversation.Message
	}
	UserOnline struct {
		Record PresenceRecord
	}
	UserOffline struct {
		Record PresenceRecord
	}
	UserStatus struct {
		Record PresenceRecord
	}
	UserTyping struct {
		ConversationID string
		Identity       Identity
	}
	UserStoppedTyping struct {
		ConversationID string
		Identity       Identity
	}
	PresenceSnapshot struct {
		Records []PresenceRecord
	}
	HistoryChunk struct {
		ConversationID string
		Page           conversation.MessagePage
		Offset         int
		ReplyTo        string
	}
	ErrorEvent struct {
		Code    string
		Message string
		ReplyTo string
	}
)

func (HelloAck) Type() string           { return v1.TypeHelloAck }
func (ConversationJoined) Type() string { return v1.TypeConversationJoined }
func (ConversationLeft) Type() string   { return v1.TypeConversationLeft }
func (MessageAck) Type() string         { return v1.TypeMessageAck }
func (MessageNew) Type() string         { return v1.TypeMessageNew }
func (MessageUpdated) Type() string     { return v1.TypeMessageUpdated }
func (UserOnline) Type() string         { return v1.TypeUserOnline }
func (UserOffline) Type() string        { return v1.TypeUserOffline }
func (UserStatus) Type() string         { return v1.TypeUserStatus }
func (UserTyping) Type() string         { return v1.TypeUserTyping }
func (UserStoppedTyping) Type() string  { return v1.TypeUserStoppedTyping }
func (PresenceSnapshot) Type() string   { return v1.TypePresenceSnapshot }
func (HistoryChunk) Type() string       { return v1.TypeConversationHistoryChunk }
func (ErrorEvent) Type() string         { return v1.TypeError }

func (HelloAck) sealed()           {}
func (ConversationJoined) sealed() {}
func (ConversationLeft) sealed()   {}
func (MessageAck) sealed()         {}
func (MessageNew) sealed()         {}
func (MessageUpdated) sealed()     {}
func (UserOnline) sealed()         {}
func (UserOffline) sealed()        {}
func (UserStatus) sealed()         {}
func (UserTyping) sealed()         {}
func (UserStoppedTyping) sealed()  {}
func (PresenceSnapshot) sealed()   {}
func (HistoryChunk) sealed()       {}
func (ErrorEvent) sealed()         {}

// errorEventFor builds the error acknowledgement for err.
func errorEventFor(err error, replyTo string) ErrorEvent {
	return ErrorEvent{Code: errorCode(err), Message: errorMessage(err), ReplyTo: replyTo}
}

// encodeEvent renders ev as a v1 envelope.
func encodeEvent(ev Event, now time.Time) (v1.Envelope, error) {
	var payload any

	switch e := ev.(type) {
	case HelloAck:
		payload = v1.HelloAckPayload{ConnectionID: e.ConnectionID, UserID: e.Identity.ID, Name: e.Identity.Name}
	case ConversationJoined:
		payload = v1.ConversationAckPayload{ConversationID: e.ConversationID}
	case ConversationLeft:
		payload = v1.ConversationAckPayload{ConversationID: e.ConversationID}
	case MessageAck:
		payload = v1.MessageAckPayload{Message: messagePayload(e.Message)}
	case MessageNew:
		payload = v1.MessageNewPayload{Message: messagePayload(e.Message)}
	case MessageUpdated:
		payload = v1.MessageUpdatedPayload{Message: messagePayload(e.Message)}
	case UserOnline:
		payload = presencePayload(e.Record)
	case UserOffline:
		payload = presencePayload(e.Record)
	case UserStatus:
		payload = presencePayload(e.Record)
	case UserTyping:
		payload = v1.TypingPayload{ConversationID: e.ConversationID, UserID: e.Identity.ID, Name: e.Identity.Name}
	case UserStoppedTyping:
		payload = v1.TypingPayload{ConversationID: e.ConversationID, UserID: e.Identity.ID, Name: e.Identity.Name}
	case PresenceSnapshot:
		users := make([]v1.UserPresencePayload, 0, len(e.Records))
		for _, r := range e.Records {
			users = append(users, presencePayload(r))
		}
		payload = v1.PresenceSnapshotPayload{Users: users}
	case HistoryChunk:
		msgs := make([]v1.MessagePayload, 0, len(e.Page.Messages))
		for _, m := range e.Page.Messages {
			msgs = append(msgs, messagePayload(m))
		}
		payload = v1.ConversationHistoryChunkPayload{
			ConversationID: e.ConversationID,
			Messages:       msgs,
			Offset:         e.Offset,
			HasMore:        e.Page.HasMore,
		}
	case ErrorEvent:
		payload = v1.ErrorPayload{Code: e.Code, Message: e.Message, RequestID: e.ReplyTo}
	default:
		return v1.Envelope{}, fmt.Errorf("realtime: unknown event %T", ev)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("realtime: encode %s: %w", ev.Type(), err)
	}
	return newEnvelope(ev.Type(), raw, now), nil
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      ids.MustULID(ts),
		TS:      ts,
		Payload: payload,
	}
}

// messagePayload never carries the body of a deleted message.
func messagePayload(m conversation.Message) v1.MessagePayload {
	if m.Deleted {
		m.Body = ""
	}
	return v1.MessagePayload{
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

func presencePayload(r PresenceRecord) v1.UserPresencePayload {
	return v1.UserPresencePayload{
		UserID:   r.UserID,
		Name:     r.Name,
		Status:   string(r.Status),
		LastSeen: r.LastSeen,
	}
}
