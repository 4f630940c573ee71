package realtime

import (
	"errors"
	"fmt"

	v1 "github.com/Joseph-Soncco/app-pruebas/shared/contracts/realtime/v1"
)

var (
	// ErrAuthRequired is returned when an operation needs a resolved identity.
	ErrAuthRequired = errors.New("realtime: authentication required")

	// ErrAuthFailed is returned when a credential cannot be resolved.
	ErrAuthFailed = errors.New("realtime: authentication failed")

	// ErrAccessDenied is returned when the identity is not a participant of the conversation.
	ErrAccessDenied = errors.New("realtime: access denied")

	// ErrNotSender is returned when someone other than the sender edits or deletes a message.
	// It matches ErrAccessDenied.
	ErrNotSender = fmt.Errorf("%w: not the sender", ErrAccessDenied)

	// ErrConnectionClosed is returned when acting on a closed connection.
	ErrConnectionClosed = errors.New("realtime: connection closed")
)

// Validation codes.
const (
	CodeEmptyBody           = "empty_body"
	CodeBodyTooLong         = "body_too_long"
	CodeInvalidType         = "invalid_type"
	CodeMissingConversation = "missing_conversation"
	CodeUnknownMessage      = "unknown_message"
	CodeInvalidPayload      = "invalid_payload"
	CodeMessageDeleted      = "message_deleted"
	CodeEmptyQuery          = "empty_query"
	CodeInvalidStatus       = "invalid_status"
	CodeNotOnline           = "not_online"
)

// ValidationError reports input rejected before it reached storage.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return "realtime: validation: " + e.Code
	}
	return fmt.Sprintf("realtime: validation: %s: %s", e.Code, e.Message)
}

func invalid(code, msg string) error {
	return &ValidationError{Code: code, Message: msg}
}

// StorageError wraps a failure of the storage collaborator.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("realtime: storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// errorCode maps an error onto the wire error code.
func errorCode(err error) string {
	var (
		ve *ValidationError
		se *StorageError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrAuthFailed):
		return v1.CodeAuthError
	case errors.Is(err, ErrAccessDenied):
		return v1.CodeAccessDenied
	case errors.Is(err, ErrConnectionClosed):
		return v1.CodeConnClosed
	case errors.As(err, &ve):
		return v1.CodeValidationError
	case errors.As(err, &se):
		return v1.CodeStorageError
	default:
		return v1.CodeStorageError
	}
}

// errorMessage returns the client-facing text for err. Storage details stay in the logs.
func errorMessage(err error) string {
	var (
		ve *ValidationError
		se *StorageError
	)
	switch {
	case errors.As(err, &ve):
		if ve.Message != "" {
			return ve.Code + ": " + ve.Message
		}
		return ve.Code
	case errors.As(err, &se):
		return "storage unavailable"
	case errors.Is(err, ErrNotSender):
		return "only the sender can change this message"
	case errors.Is(err, ErrAccessDenied):
		return "not a participant of this conversation"
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrAuthFailed):
		return "authentication failed"
	case errors.Is(err, ErrConnectionClosed):
		return "connection closed"
	default:
		return "internal error"
	}
}
