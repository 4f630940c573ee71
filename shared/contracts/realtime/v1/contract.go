// Package v1 defines the chat realtime protocol v1 contract.
//
// It is shared between the server and clients so the wire format has a single source of truth.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol negotiated for this version.
const Subprotocol = "chat.realtime.v1"

// Client -> server types.
const (
	// TypeHello carries the credential when it was not supplied during the handshake.
	TypeHello = "hello"

	TypeConversationJoin         = "conversation_join"
	TypeConversationLeave        = "conversation_leave"
	TypeMessageSend              = "message_send"
	TypeMessageRead              = "message_read"
	TypeTypingStart              = "typing_start"
	TypeTypingStop               = "typing_stop"
	TypeConversationHistoryFetch = "conversation_history_fetch"

	// TypeMessageEdit and TypeMessageDelete are allowed for the original sender only.
	TypeMessageEdit   = "message_edit"
	TypeMessageDelete = "message_delete"

	// TypePresenceSet changes the caller's status between online, away and busy.
	TypePresenceSet = "presence_set"

	// TypeBye asks the server to close the session (explicit logout).
	TypeBye = "bye"
)

// Server -> client types.
const (
	TypeHelloAck                 = "hello_ack"
	TypeConversationJoined       = "conversation_joined"
	TypeConversationLeft         = "conversation_left"
	TypeMessageAck               = "message_ack"
	TypeMessageNew               = "message_new"
	TypeMessageUpdated           = "message_updated"
	TypeUserOnline               = "user_online"
	TypeUserOffline              = "user_offline"
	TypeUserStatus               = "user_status"
	TypeUserTyping               = "user_typing"
	TypeUserStoppedTyping        = "user_stopped_typing"
	TypePresenceSnapshot         = "presence_snapshot"
	TypeConversationHistoryChunk = "conversation_history_chunk"
	TypeError                    = "error"
)

// Error codes carried by ErrorPayload.Code.
const (
	CodeAuthError       = "auth_error"
	CodeAccessDenied    = "access_denied"
	CodeValidationError = "validation_error"
	CodeStorageError    = "storage_error"
	CodeBadJSON         = "bad_json"
	CodeBadEnvelope     = "bad_envelope"
	CodeRateLimited     = "rate_limited"
	CodeUnsupported     = "unsupported"
	CodeNotAuthed       = "not_authenticated"
	CodeConnClosed      = "connection_closed"
)

// Presence statuses carried by UserPresencePayload.Status.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for an inbound Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if !IsClientType(e.Type) {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}

// IsClientType reports whether typ may be sent by a client.
func IsClientType(typ string) bool {
	switch typ {
	case TypeHello,
		TypeConversationJoin,
		TypeConversationLeave,
		TypeMessageSend,
		TypeMessageRead,
		TypeTypingStart,
		TypeTypingStop,
		TypeConversationHistoryFetch,
		TypeMessageEdit,
		TypeMessageDelete,
		TypePresenceSet,
		TypeBye:
		return true
	default:
		return false
	}
}
