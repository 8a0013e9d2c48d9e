package jobs

import (
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueRBAC carries every permission maintenance task.
	QueueRBAC = "rbac"
	// TaskPermissionsReconcile compares stored principal access with the
	// audit trail.
	TaskPermissionsReconcile = "permissions:reconcile"

	reconcileUniqueWindow = time.Minute
)

// NewReconcileTask constructs the consistency check task.
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskPermissionsReconcile, nil, asynq.Queue(QueueRBAC), asynq.MaxRetry(3), asynq.Timeout(5*time.Minute))
}
