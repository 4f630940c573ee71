package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Joseph-Soncco/app-pruebas/cmd/internal/conversation"
)

const handlerTimeout = 10 * time.Second

// WorkerConfig tunes the asynq server that persists queued receipts.
type WorkerConfig struct {
	Concurrency int
	// Queues is a CSV like "receipts=3,default=1".
	Queues string
}

// Worker consumes mark-read tasks.
type Worker struct {
	log    *slog.Logger
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker builds a worker over store consuming from the redis at redisURL.
func NewWorker(log *slog.Logger, redisURL string, cfg WorkerConfig, store conversation.Store) (*Worker, error) {
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

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	queues := map[string]int{DefaultQueue: 1}
	if parsed := parseQueueWeights(cfg.Queues); len(parsed) > 0 {
		queues = parsed
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
		Logger:      slogAsynqLogger{log: log.With("component", "asynq")},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Warn("receipt.task.fail", "type", task.Type(), "err", err)
		}),
	})

	mux := asynq.NewServeMux()
	RegisterHandlers(mux, store, log)
	return &Worker{log: log, server: srv, mux: mux}, nil
}

// RegisterHandlers binds the receipt task handlers to mux.
func RegisterHandlers(mux *asynq.ServeMux, store conversation.Store, log *slog.Logger) {
	mux.HandleFunc(TaskTypeMarkRead, markReadHandler(store, log))
}

func markReadHandler(store conversation.Store, log *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		r, err := decodeMarkRead(t.Payload())
		if err != nil {
			// Malformed payload: retrying cannot help.
			return fmt.Errorf("receipt: decode: %v: %w", err, asynq.SkipRetry)
		}

		ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()

		err = store.MarkRead(ctx, r)
		switch {
		case err == nil:
			log.Debug("receipt.recorded", "message_id", r.MessageID, "reader_id", r.ReaderID)
			return nil
		case conversation.IsNotFound(err), errors.Is(err, conversation.ErrNotParticipant), conversation.IsInvalidInput(err):
			return fmt.Errorf("receipt: %v: %w", err, asynq.SkipRetry)
		default:
			return err
		}
	}
}

// Run starts the worker and blocks until ctx is canceled, then shuts down gracefully.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.log.Info("receipt.worker.started")
	<-ctx.Done()
	w.server.Shutdown()
	w.log.Info("receipt.worker.stopped")
	return nil
}

// parseQueueWeights parses strings like "receipts=6,default=1" into a map.
func parseQueueWeights(s string) map[string]int {
	res := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, weight, hasWeight := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		w := 1
		if hasWeight {
			if i, err := strconv.Atoi(strings.TrimSpace(weight)); err == nil && i > 0 {
				w = i
			}
		}
		res[name] = w
	}
	return res
}

// slogAsynqLogger routes asynq's internal logging through slog.
type slogAsynqLogger struct {
	log *slog.Logger
}

func (l slogAsynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l slogAsynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l slogAsynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l slogAsynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l slogAsynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
