package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/tradedeck/backend/internal/config"
	"github.com/tradedeck/backend/internal/core/monitor"
	"github.com/tradedeck/backend/internal/core/services"
	"github.com/tradedeck/backend/internal/infrastructure/logger"
	"github.com/tradedeck/backend/internal/infrastructure/platform"
	"github.com/tradedeck/backend/internal/transport/http/handlers"
	httpmw "github.com/tradedeck/backend/internal/transport/http/middleware"
)

type RouterConfig struct {
	Logger *logger.Logger
	Config *config.Config
}

// SetupRoutes wires the platform client, the monitoring core and the
// dashboard routes. The returned registry still needs its Run loop started.
func SetupRoutes(app *fiber.App, cfg RouterConfig) (*services.MonitorService, *monitor.ActiveRegistry) {
	client := platform.NewClient(platform.ClientConfig{
		BaseURL:   cfg.Config.Platform.BaseURL,
		WSBaseURL: cfg.Config.Platform.WSBaseURL,
		APIKey:    cfg.Config.Platform.APIKey,
		Timeout:   cfg.Config.Platform.Timeout,
		Logger:    cfg.Logger,
	})

	registry := monitor.NewActiveRegistry(client, cfg.Config.Monitor.RegistryInterval, cfg.Logger)

	monitorService := services.NewMonitorService(services.MonitorServiceConfig{
		Client:   client,
		Registry: registry,
		Monitor: monitor.Config{
			ConnectGrace:    cfg.Config.Monitor.ConnectGrace,
			PollInterval:    cfg.Config.Monitor.PollInterval,
			ReconnectBase:   cfg.Config.Monitor.ReconnectBase,
			ReconnectMax:    cfg.Config.Monitor.ReconnectMax,
			MaxReconnects:   cfg.Config.Monitor.MaxReconnects,
			CompletionDelay: cfg.Config.Monitor.CompletionDelay,
		},
		HistoryLimit: cfg.Config.Monitor.HistoryLimit,
		Logger:       cfg.Logger,
	})

	taskHandler := handlers.NewTaskHandler(monitorService, cfg.Logger)
	progressHandler := handlers.NewProgressHandler(monitorService, cfg.Logger)

	// Task progress stream for the UI
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})

	app.Get("/ws/tasks/:id", websocket.New(progressHandler.Handle))

	// API v1 routes
	api := app.Group("/api/v1")

	tasks := api.Group("/tasks", httpmw.AdminAuth(cfg.Config))
	tasks.Get("/active", taskHandler.GetActive)
	tasks.Get("/history", taskHandler.GetHistory)
	tasks.Post("/:id/watch", taskHandler.Watch)
	tasks.Delete("/:id/watch", taskHandler.Unwatch)
	tasks.Get("/:id/status", taskHandler.GetStatus)
	tasks.Post("/:id/stop", taskHandler.StopTask)

	return monitorService, registry
}
