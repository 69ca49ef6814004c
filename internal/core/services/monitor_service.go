package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tradedeck/backend/internal/core/monitor"
	"github.com/tradedeck/backend/internal/core/ports"
	"github.com/tradedeck/backend/internal/domain"
	"github.com/tradedeck/backend/internal/infrastructure/logger"
)

// MonitorService owns one monitor per watched task id and the shared
// active-task registry. It is the layer the transport handlers talk to.
type MonitorService struct {
	client       ports.PlatformClient
	registry     *monitor.ActiveRegistry
	cfg          monitor.Config
	historyLimit int
	logger       *logger.Logger

	mu       sync.Mutex
	monitors map[string]*monitor.Monitor

	histMu  sync.RWMutex
	history []domain.HistoryEntry
}

type MonitorServiceConfig struct {
	Client       ports.PlatformClient
	Registry     *monitor.ActiveRegistry
	Monitor      monitor.Config
	HistoryLimit int
	Logger       *logger.Logger
}

func NewMonitorService(cfg MonitorServiceConfig) *MonitorService {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 50
	}

	return &MonitorService{
		client:       cfg.Client,
		registry:     cfg.Registry,
		cfg:          cfg.Monitor,
		historyLimit: limit,
		logger:       cfg.Logger,
		monitors:     make(map[string]*monitor.Monitor),
	}
}

// Watch starts monitoring a task id. Watching an id that is already watched
// is a no-op.
func (s *MonitorService) Watch(taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return ErrInvalidTaskID
	}

	s.mu.Lock()
	if _, exists := s.monitors[taskID]; exists {
		s.mu.Unlock()
		return nil
	}

	m := monitor.New(taskID, s.client, s.cfg, s.handleCompletion, s.logger)
	s.monitors[taskID] = m
	s.mu.Unlock()

	s.logger.Infow("task_watch_started", "task_id", taskID)
	m.Start()
	return nil
}

// Unwatch cancels a monitor without completing it.
func (s *MonitorService) Unwatch(taskID string) {
	s.mu.Lock()
	m, exists := s.monitors[taskID]
	if exists {
		delete(s.monitors, taskID)
	}
	s.mu.Unlock()

	if exists {
		m.Stop()
		s.logger.Infow("task_watch_cancelled", "task_id", taskID)
	}
}

// TaskStatus returns the merged record for a watched task.
func (s *MonitorService) TaskStatus(taskID string) (domain.Task, bool) {
	s.mu.Lock()
	m, exists := s.monitors[taskID]
	s.mu.Unlock()
	if !exists {
		return domain.Task{}, false
	}
	return m.Current(), true
}

// Subscribe streams merged updates for a watched task.
func (s *MonitorService) Subscribe(taskID string) (<-chan domain.Task, func(), error) {
	s.mu.Lock()
	m, exists := s.monitors[taskID]
	s.mu.Unlock()
	if !exists {
		return nil, nil, ErrTaskNotWatched
	}
	ch, cancel := m.Subscribe()
	return ch, cancel, nil
}

// ActiveTasks returns the reconciled registry view.
func (s *MonitorService) ActiveTasks() []domain.ActiveTask {
	return s.registry.Snapshot()
}

// History fetches terminal task history from the platform, falling back to
// the last good copy when the platform is unreachable.
func (s *MonitorService) History(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}

	entries, err := s.client.FetchHistory(ctx, limit)
	if err != nil {
		s.logger.Warnw("task_history_fetch_failed", "error", err)
		s.histMu.RLock()
		cached := make([]domain.HistoryEntry, len(s.history))
		copy(cached, s.history)
		s.histMu.RUnlock()
		if len(cached) == 0 {
			return nil, ErrHistoryUnavailable
		}
		return cached, nil
	}

	s.histMu.Lock()
	s.history = entries
	s.histMu.Unlock()
	return entries, nil
}

// StopTask asks the platform to cancel a task. The error is surfaced to the
// caller; a stop is a direct user action expecting confirmation.
func (s *MonitorService) StopTask(ctx context.Context, taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return ErrInvalidTaskID
	}
	return s.client.StopTask(ctx, taskID)
}

// Shutdown stops every live monitor.
func (s *MonitorService) Shutdown() {
	s.mu.Lock()
	monitors := s.monitors
	s.monitors = make(map[string]*monitor.Monitor)
	s.mu.Unlock()

	for id, m := range monitors {
		m.Stop()
		s.logger.Debugw("task_watch_stopped", "task_id", id)
	}
}

// handleCompletion runs once per task, after the monitor's grace delay.
func (s *MonitorService) handleCompletion(final domain.Task) {
	s.mu.Lock()
	delete(s.monitors, final.ID)
	s.mu.Unlock()

	s.logger.Infow("task_watch_completed",
		"task_id", final.ID,
		"state", final.State,
		"progress", final.Progress,
	)

	// The task left the active set; drop it ahead of the next snapshot and
	// pick up its history entry.
	s.registry.Remove(final.ID)
	go s.refreshHistory()
}

func (s *MonitorService) refreshHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entries, err := s.client.FetchHistory(ctx, s.historyLimit)
	if err != nil {
		s.logger.Warnw("task_history_refresh_failed", "error", err)
		return
	}

	s.histMu.Lock()
	s.history = entries
	s.histMu.Unlock()
}
