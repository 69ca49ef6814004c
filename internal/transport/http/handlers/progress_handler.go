package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/tradedeck/backend/internal/core/ports"
	"github.com/tradedeck/backend/internal/infrastructure/logger"
	"github.com/tradedeck/backend/internal/transport/http/dto"
)

// ProgressHandler streams merged task updates to the dashboard UI over a
// websocket, mirroring the upstream push channel the monitor consumes.
type ProgressHandler struct {
	service ports.MonitorService
	logger  *logger.Logger
}

func NewProgressHandler(service ports.MonitorService, logger *logger.Logger) *ProgressHandler {
	return &ProgressHandler{service: service, logger: logger}
}

func (h *ProgressHandler) Handle(c *websocket.Conn) {
	taskID := c.Params("id")
	if taskID == "" {
		c.WriteJSON(dto.ErrorResponse{Error: "missing task id"})
		c.Close()
		return
	}

	if err := h.service.Watch(taskID); err != nil {
		h.logger.Warnw("progress_watch_failed", "task_id", taskID, "error", err)
		c.WriteJSON(dto.ErrorResponse{Error: err.Error()})
		c.Close()
		return
	}

	updates, cancel, err := h.service.Subscribe(taskID)
	if err != nil {
		h.logger.Warnw("progress_subscribe_failed", "task_id", taskID, "error", err)
		c.WriteJSON(dto.ErrorResponse{Error: err.Error()})
		c.Close()
		return
	}
	defer cancel()

	h.logger.Infow("progress_stream_opened", "task_id", taskID)

	// Current record first so the UI renders without waiting for a frame.
	if task, ok := h.service.TaskStatus(taskID); ok {
		if err := c.WriteJSON(dto.TaskToResponse(task)); err != nil {
			c.Close()
			return
		}
	}

	// Drain the client side to notice a disconnect.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case task, ok := <-updates:
			if !ok {
				// Task completed or monitor stopped.
				h.logger.Infow("progress_stream_closed", "task_id", taskID)
				c.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				c.Close()
				return
			}
			if err := c.WriteJSON(dto.TaskToResponse(task)); err != nil {
				c.Close()
				return
			}
		case <-clientGone:
			h.logger.Debugw("progress_client_disconnected", "task_id", taskID)
			c.Close()
			return
		}
	}
}
