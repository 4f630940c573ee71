package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput reports malformed arguments (empty ids, unknown message type).
	ErrInvalidInput = errors.New("conversation: invalid input")

	// ErrNotFound reports a missing conversation or message.
	ErrNotFound = errors.New("conversation: not found")

	// ErrSameParticipant is returned when both sides of a pair are the same user.
	ErrSameParticipant = errors.New("conversation: participants must differ")

	// ErrNotParticipant is returned when a user acts on a conversation they do not belong to.
	ErrNotParticipant = errors.New("conversation: not a participant")

	// ErrNotSender is returned when someone other than the sender edits or deletes a message.
	ErrNotSender = errors.New("conversation: not the sender")

	// ErrMessageDeleted is returned when editing a message that was deleted.
	ErrMessageDeleted = errors.New("conversation: message deleted")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinels above when applicable.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

func opErr(op string, kind error, msg string) error {
	return OpError{Op: op, Kind: kind, Msg: msg}
}

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err represents ErrInvalidInput or ErrSameParticipant.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrSameParticipant)
}
