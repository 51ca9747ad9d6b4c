package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jobchat/cmd/internal/chat"

	"github.com/hibiken/asynq"
)

// TaskTypeNotify is the asynq task type carrying one push notification.
const TaskTypeNotify = "chat:push_notify"

const (
	defaultQueue       = "chat"
	defaultTaskTimeout = 30 * time.Second
)

type notifyPayload struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

// QueuedNotifier enqueues notifications instead of calling the provider inline.
// Tasks are never retried: a push is best-effort and the message stays in the store.
type QueuedNotifier struct {
	client *asynq.Client
	queue  string
}

var _ chat.Notifier = (*QueuedNotifier)(nil)

// NewQueuedNotifier connects an asynq client to the Redis at redisURL.
func NewQueuedNotifier(redisURL string) (*QueuedNotifier, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("push: parse redis url: %w", err)
	}
	return &QueuedNotifier{client: asynq.NewClient(opt), queue: defaultQueue}, nil
}

// Notify enqueues n.
func (q *QueuedNotifier) Notify(ctx context.Context, n chat.Notification) error {
	task, err := newNotifyTask(n)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queue),
		asynq.MaxRetry(0),
		asynq.Timeout(defaultTaskTimeout),
	); err != nil {
		return fmt.Errorf("push: enqueue: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (q *QueuedNotifier) Close() error { return q.client.Close() }

func newNotifyTask(n chat.Notification) (*asynq.Task, error) {
	b, err := json.Marshal(notifyPayload{Token: n.Token, Title: n.Title, Body: n.Body, Data: n.Data})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotify, b), nil
}

// Worker consumes TaskTypeNotify tasks and hands them to a provider Notifier.
type Worker struct {
	log      *slog.Logger
	server   *asynq.Server
	mux      *asynq.ServeMux
	notifier chat.Notifier
}

// NewWorker builds an asynq server on redisURL delivering through notifier.
func NewWorker(log *slog.Logger, redisURL string, notifier chat.Notifier, concurrency int) (*Worker, error) {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		return nil, errors.New("push: nil notifier")
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("push: parse redis url: %w", err)
	}

	w := &Worker{log: log, notifier: notifier, mux: asynq.NewServeMux()}
	w.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{defaultQueue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Warn("push.worker.task.fail", "type", task.Type(), "err", err)
		}),
	})
	w.mux.HandleFunc(TaskTypeNotify, w.HandleNotify)
	return w, nil
}

// HandleNotify delivers one queued notification.
func (w *Worker) HandleNotify(ctx context.Context, t *asynq.Task) error {
	var p notifyPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("push: bad payload: %v: %w", err, asynq.SkipRetry)
	}
	return w.notifier.Notify(ctx, chat.Notification{Token: p.Token, Title: p.Title, Body: p.Body, Data: p.Data})
}

// Run starts the server and blocks until ctx is canceled, then shuts down gracefully.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.log.Info("push.worker.start", "queue", defaultQueue)
	<-ctx.Done()
	w.server.Shutdown()
	w.log.Info("push.worker.stop")
	return nil
}
