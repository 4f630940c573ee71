// Package ids provides the ULID primitives used for conversations, messages and connections.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs sort lexicographically by creation time, which keeps logs and ids ordered.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for call sites that cannot surface an error (envelope ids, test fixtures).
// crypto/rand failures are not recoverable, so it panics.
func MustULID(now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		panic("ids: ulid: " + err.Error())
	}
	return id
}

// IsULID reports whether s parses as a ULID.
func IsULID(s string) bool {
	if len(s) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}
