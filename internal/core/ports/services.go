package ports

import (
	"context"

	"github.com/tradedeck/backend/internal/domain"
)

// MonitorService is the task-monitoring surface consumed by the transport
// layer.
type MonitorService interface {
	// Watch starts monitoring a task id. Idempotent per id.
	Watch(taskID string) error
	// Unwatch stops the monitor for a task id without touching the task
	// itself. Idempotent, never invokes the completion path.
	Unwatch(taskID string)
	// TaskStatus returns the current merged record for a watched task.
	TaskStatus(taskID string) (domain.Task, bool)
	// Subscribe streams merged updates for a watched task. The returned
	// cancel func must be called when the consumer goes away.
	Subscribe(taskID string) (<-chan domain.Task, func(), error)
	// ActiveTasks returns the reconciled registry view.
	ActiveTasks() []domain.ActiveTask
	// History returns terminal task history, freshest first.
	History(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
	// StopTask asks the platform to cancel a task. Failures are surfaced.
	StopTask(ctx context.Context, taskID string) error
}
