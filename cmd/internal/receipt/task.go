// Package receipt records read receipts, either inline against the store or through a
// background queue so the websocket read loop never waits on receipt writes.
package receipt

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/conversation"
)

// TaskTypeMarkRead is the queue task name for persisting one read receipt.
const TaskTypeMarkRead = "chat:mark_read"

// DefaultQueue is the asynq queue receipts are enqueued on.
const DefaultQueue = "receipts"

// MarkReadPayload is the JSON payload transported via the queue.
// Kept decoupled from store types so the wire shape is stable.
type MarkReadPayload struct {
	MessageID string    `json:"messageId"`
	ReaderID  string    `json:"readerId"`
	ReadAt    time.Time `json:"readAt"`
}

// NewMarkReadTask builds the task for r. The task id is derived from (message, reader) so a
// receipt that is still pending is never enqueued twice.
func NewMarkReadTask(r conversation.ReadReceipt) (*asynq.Task, error) {
	r.MessageID = strings.TrimSpace(r.MessageID)
	r.ReaderID = strings.TrimSpace(r.ReaderID)
	if r.MessageID == "" || r.ReaderID == "" {
		return nil, errors.New("receipt: message_id and reader_id are required")
	}
	b, err := json.Marshal(MarkReadPayload{MessageID: r.MessageID, ReaderID: r.ReaderID, ReadAt: r.ReadAt.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeMarkRead, b, asynq.TaskID(taskID(r))), nil
}

func taskID(r conversation.ReadReceipt) string {
	return "read:" + r.MessageID + ":" + r.ReaderID
}

// decodeMarkRead parses a task payload into a receipt.
func decodeMarkRead(payload []byte) (conversation.ReadReceipt, error) {
	var p MarkReadPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return conversation.ReadReceipt{}, err
	}
	if strings.TrimSpace(p.MessageID) == "" || strings.TrimSpace(p.ReaderID) == "" {
		return conversation.ReadReceipt{}, errors.New("receipt: incomplete payload")
	}
	return conversation.ReadReceipt{MessageID: p.MessageID, ReaderID: p.ReaderID, ReadAt: p.ReadAt}, nil
}
