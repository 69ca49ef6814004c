package ports

import (
	"context"

	"github.com/tradedeck/backend/internal/domain"
)

// TaskChannel is one live push channel for a single task id.
type TaskChannel interface {
	// ReadUpdate blocks until the next frame arrives and returns its raw
	// body. A clean close from the peer is reported as io.EOF; any other
	// error is an abnormal closure.
	ReadUpdate() ([]byte, error)
	// Close shuts the channel down with the caller-initiated normal code.
	Close() error
}

// ChannelDialer opens push channels to the platform.
type ChannelDialer interface {
	DialTask(ctx context.Context, taskID string) (TaskChannel, error)
}

// StatusFetcher pulls the current status of one task.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, taskID string) (domain.StatusUpdate, error)
}

// ActiveLister pulls the full list of currently running tasks.
type ActiveLister interface {
	FetchActive(ctx context.Context) ([]domain.ActiveTask, error)
}

// HistoryFetcher pulls terminal task history.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
}

// TaskStopper requests cancellation of a running task.
type TaskStopper interface {
	StopTask(ctx context.Context, taskID string) error
}

// PlatformClient bundles every upstream operation the dashboard consumes.
type PlatformClient interface {
	ChannelDialer
	StatusFetcher
	ActiveLister
	HistoryFetcher
	TaskStopper
}
