package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// TaskState is the normalized status class of a platform task. The platform
// reports free-form strings ("completed"/"success", "failed"/"error"); the
// dashboard only ever branches on the normalized class.
type TaskState string

const (
	StateInProgress TaskState = "IN_PROGRESS"
	StateCompleted  TaskState = "COMPLETED"
	StateFailed     TaskState = "FAILED"
)

// NormalizeStatus maps a raw platform status string to its TaskState class.
// Unknown and empty statuses count as in-progress.
func NormalizeStatus(raw string) TaskState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "success":
		return StateCompleted
	case "failed", "error":
		return StateFailed
	default:
		return StateInProgress
	}
}

// Terminal reports whether the state admits no further updates.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Task is the merged status record for one monitored platform job.
type Task struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Status    string          `json:"status"` // raw platform status
	State     TaskState       `json:"state"`  // normalized class
	Progress  int             `json:"progress"`
	Message   string          `json:"message"`
	Result    json.RawMessage `json:"result,omitempty"`
	Degraded  bool            `json:"degraded"` // push channel unavailable, polling only
	ConnError string          `json:"connectivity_error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (t Task) Terminal() bool {
	return t.State.Terminal()
}

// StatusUpdate is one partial update for a task, arriving either as a push
// frame or as a poll response. Absent fields must not erase known values,
// hence the pointers.
type StatusUpdate struct {
	Progress *int            `json:"progress,omitempty"`
	Status   *string         `json:"status,omitempty"`
	Message  *string         `json:"message,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// ActiveTask is the lightweight projection used by the active-list dashboard.
// Field names follow the platform's wire format.
type ActiveTask struct {
	TaskID    string `json:"task_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	StartedAt string `json:"time_start"`
	Worker    string `json:"worker"`
	Args      string `json:"args,omitempty"`
}

// HistoryEntry is one finished task as reported by the platform's history
// endpoint. Never persisted locally.
type HistoryEntry struct {
	TaskID    string    `json:"task_id"`
	Name      string    `json:"name"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
