package realtime

import (
	"time"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/ids"
)

// NewConnectionID returns a ULID used as websocket connection id.
func NewConnectionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
