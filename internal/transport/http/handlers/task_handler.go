package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/tradedeck/backend/internal/core/ports"
	"github.com/tradedeck/backend/internal/core/services"
	"github.com/tradedeck/backend/internal/infrastructure/logger"
	"github.com/tradedeck/backend/internal/transport/http/dto"
)

type TaskHandler struct {
	service ports.MonitorService
	logger  *logger.Logger
}

func NewTaskHandler(service ports.MonitorService, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{service: service, logger: logger}
}

// Watch begins monitoring a task id. Idempotent.
func (h *TaskHandler) Watch(c *fiber.Ctx) error {
	taskID := c.Params("id")

	h.logger.Infow("task_watch_request", "task_id", taskID)
	if err := h.service.Watch(taskID); err != nil {
		if errors.Is(err, services.ErrInvalidTaskID) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: "invalid task id",
			})
		}
		h.logger.Errorw("task_watch_failed", "task_id", taskID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(dto.SuccessResponse{
		Message: "watching",
	})
}

// Unwatch cancels the monitor for a task id without touching the task.
func (h *TaskHandler) Unwatch(c *fiber.Ctx) error {
	taskID := c.Params("id")

	h.logger.Infow("task_unwatch_request", "task_id", taskID)
	h.service.Unwatch(taskID)

	return c.JSON(dto.SuccessResponse{
		Message: "stopped watching",
	})
}

// GetStatus returns the merged record for a task, starting a monitor on
// demand if none is live.
func (h *TaskHandler) GetStatus(c *fiber.Ctx) error {
	taskID := c.Params("id")

	task, ok := h.service.TaskStatus(taskID)
	if !ok {
		if err := h.service.Watch(taskID); err != nil {
			if errors.Is(err, services.ErrInvalidTaskID) {
				return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
					Error: "invalid task id",
				})
			}
			h.logger.Errorw("task_status_watch_failed", "task_id", taskID, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: err.Error(),
			})
		}
		task, _ = h.service.TaskStatus(taskID)
	}

	return c.JSON(dto.TaskToResponse(task))
}

// GetActive returns the reconciled active-task registry.
func (h *TaskHandler) GetActive(c *fiber.Ctx) error {
	tasks := h.service.ActiveTasks()

	h.logger.Debugw("tasks_active_request", "count", len(tasks))
	return c.JSON(dto.ActiveListResponse{
		Results: tasks,
		Count:   len(tasks),
	})
}

// GetHistory proxies terminal task history from the platform.
func (h *TaskHandler) GetHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)

	entries, err := h.service.History(c.Context(), limit)
	if err != nil {
		h.logger.Warnw("task_history_failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: err.Error(),
		})
	}

	return c.JSON(dto.HistoryResponse{
		Results: entries,
		Count:   len(entries),
	})
}

// StopTask proxies a cancellation request to the platform. Failures are
// surfaced, never swallowed: the user expects confirmation.
func (h *TaskHandler) StopTask(c *fiber.Ctx) error {
	taskID := c.Params("id")

	h.logger.Infow("task_stop_request", "task_id", taskID)
	if err := h.service.StopTask(c.Context(), taskID); err != nil {
		if errors.Is(err, services.ErrInvalidTaskID) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: "invalid task id",
			})
		}
		h.logger.Errorw("task_stop_failed", "task_id", taskID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: err.Error(),
		})
	}

	h.logger.Infow("task_stop_success", "task_id", taskID)
	return c.JSON(dto.SuccessResponse{
		Message: "stop requested",
	})
}
