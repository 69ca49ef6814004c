package dto

import (
	"encoding/json"
	"time"

	"github.com/tradedeck/backend/internal/domain"
)

type TaskResponse struct {
	ID        string           `json:"id"`
	Name      string           `json:"name,omitempty"`
	Status    string           `json:"status"`
	State     domain.TaskState `json:"state"`
	Progress  int              `json:"progress"`
	Message   string           `json:"message"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Degraded  bool             `json:"degraded"`
	ConnError string           `json:"connectivity_error,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func TaskToResponse(task domain.Task) TaskResponse {
	return TaskResponse{
		ID:        task.ID,
		Name:      task.Name,
		Status:    task.Status,
		State:     task.State,
		Progress:  task.Progress,
		Message:   task.Message,
		Result:    task.Result,
		Degraded:  task.Degraded,
		ConnError: task.ConnError,
		UpdatedAt: task.UpdatedAt,
	}
}

type ActiveListResponse struct {
	Results []domain.ActiveTask `json:"results"`
	Count   int                 `json:"count"`
}

type HistoryResponse struct {
	Results []domain.HistoryEntry `json:"results"`
	Count   int                   `json:"count"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}
