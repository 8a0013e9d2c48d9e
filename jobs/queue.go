package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/ecclesia-app/ecclesia/internal/platform/httpx"
)

// ErrUnsupportedJob is returned by Trigger for task names it does not know.
var ErrUnsupportedJob = errors.New("jobs: unsupported job")

// Queue submits and inspects permission maintenance tasks.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewQueue connects a client and inspector to Redis.
func NewQueue(opts asynq.RedisClientOpt) *Queue {
	return &Queue{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases the client and inspector.
func (q *Queue) Close() error {
	return errors.Join(q.inspector.Close(), q.client.Close())
}

// Trigger enqueues the named task. Reconcile runs are deduplicated per minute.
func (q *Queue) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	switch name {
	case TaskPermissionsReconcile:
		return q.client.EnqueueContext(ctx, NewReconcileTask(), asynq.Unique(reconcileUniqueWindow))
	default:
		return nil, fmt.Errorf("%w %s", ErrUnsupportedJob, name)
	}
}

// QueueStats summarises QueueRBAC.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// Stats reports QueueRBAC counters. A queue that has never held a task
// reports zeros.
func (q *Queue) Stats() (QueueStats, error) {
	stats := QueueStats{Queue: QueueRBAC}
	info, err := q.inspector.GetQueueInfo(QueueRBAC)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return stats, nil
	}
	if err != nil {
		return QueueStats{}, err
	}
	stats.Pending = info.Pending
	stats.Active = info.Active
	stats.Scheduled = info.Scheduled
	stats.Retry = info.Retry
	stats.Archived = info.Archived
	return stats, nil
}

// Scheduled lists up to size tasks waiting for their process time.
func (q *Queue) Scheduled(size int) ([]*asynq.TaskInfo, error) {
	if size <= 0 {
		size = 10
	}
	tasks, err := q.inspector.ListScheduledTasks(QueueRBAC, asynq.PageSize(size), asynq.Page(1))
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, nil
	}
	return tasks, err
}

// StatsSource is the part of Queue the HTTP handler reads.
type StatsSource interface {
	Stats() (QueueStats, error)
}

// Handler exposes queue health over HTTP.
type Handler struct {
	stats  StatsSource
	logger *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(stats StatsSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{stats: stats, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats()
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}
