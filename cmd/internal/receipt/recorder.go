package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/conversation"
	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/realtime"
)

// InlineRecorder writes receipts straight to the store.
type InlineRecorder struct {
	store conversation.Store
}

var _ realtime.ReceiptRecorder = (*InlineRecorder)(nil)

// NewInlineRecorder constructs an InlineRecorder over store.
func NewInlineRecorder(store conversation.Store) *InlineRecorder {
	return &InlineRecorder{store: store}
}

func (r *InlineRecorder) Record(ctx context.Context, rc conversation.ReadReceipt) error {
	return r.store.MarkRead(ctx, rc)
}

// QueueRecorder enqueues receipts on asynq; a Worker persists them.
type QueueRecorder struct {
	log      *slog.Logger
	client   *asynq.Client
	queue    string
	maxRetry int
}

var _ realtime.ReceiptRecorder = (*QueueRecorder)(nil)

// NewQueueRecorder connects to the redis at redisURL.
func NewQueueRecorder(log *slog.Logger, redisURL, queue string) (*QueueRecorder, error) {
	if log == nil {
		log = slog.Default()
	}
	redisURL = strings.TrimSpace(redisURL)
	if redisURL == "" {
		return nil, errors.New("asynq: redis url is required")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if strings.TrimSpace(queue) == "" {
		queue = DefaultQueue
	}
	return &QueueRecorder{
		log:      log,
		client:   asynq.NewClient(opt),
		queue:    queue,
		maxRetry: 5,
	}, nil
}

// Record enqueues rc. A receipt that is already pending counts as recorded.
func (r *QueueRecorder) Record(ctx context.Context, rc conversation.ReadReceipt) error {
	task, err := NewMarkReadTask(rc)
	if err != nil {
		return err
	}
	info, err := r.client.EnqueueContext(ctx, task, asynq.Queue(r.queue), asynq.MaxRetry(r.maxRetry))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("receipt: enqueue: %w", err)
	}
	r.log.Debug("receipt.enqueued", "task_id", info.ID, "message_id", rc.MessageID, "reader_id", rc.ReaderID)
	return nil
}

// Close releases the redis connection.
func (r *QueueRecorder) Close() error {
	return r.client.Close()
}
