package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/tradedeck/backend/internal/core/ports"
	"github.com/tradedeck/backend/internal/domain"
	"github.com/tradedeck/backend/internal/infrastructure/logger"
)

// Config holds every timing knob of the monitoring core. Defaults mirror the
// dashboard's production values.
type Config struct {
	ConnectGrace    time.Duration // push-channel grace before polling starts
	PollInterval    time.Duration // fallback poll cadence
	ReconnectBase   time.Duration // first reconnect delay
	ReconnectMax    time.Duration // reconnect backoff cap
	MaxReconnects   int           // reconnect budget per channel
	CompletionDelay time.Duration // grace between terminal update and callback
}

func DefaultConfig() Config {
	return Config{
		ConnectGrace:    3 * time.Second,
		PollInterval:    2 * time.Second,
		ReconnectBase:   time.Second,
		ReconnectMax:    30 * time.Second,
		MaxReconnects:   5,
		CompletionDelay: time.Second,
	}
}

// TaskSource is the slice of the platform client a single monitor needs.
type TaskSource interface {
	ports.ChannelDialer
	ports.StatusFetcher
}

// CompletionFunc receives the final merged record exactly once per task.
type CompletionFunc func(final domain.Task)

const subscriberBuffer = 16

// Monitor tracks one task to completion. It owns a ConnectionManager and a
// FallbackPoller, funnels updates from both through the same merge path and
// fires the completion callback exactly once.
type Monitor struct {
	taskID     string
	cfg        Config
	logger     *logger.Logger
	onComplete CompletionFunc

	conn   *ConnectionManager
	poller *FallbackPoller

	mu          sync.Mutex
	task        domain.Task
	done        bool // terminal transition consumed
	stopped     bool
	finishTimer *time.Timer
	subs        map[int]chan domain.Task
	nextSub     int
}

func New(taskID string, source TaskSource, cfg Config, onComplete CompletionFunc, log *logger.Logger) *Monitor {
	m := &Monitor{
		taskID:     taskID,
		cfg:        cfg,
		logger:     log,
		onComplete: onComplete,
		subs:       make(map[int]chan domain.Task),
		task: domain.Task{
			ID:     taskID,
			Status: "pending",
			State:  domain.StateInProgress,
		},
	}

	m.conn = NewConnectionManager(taskID, source, ConnectionConfig{
		MaxAttempts: cfg.MaxReconnects,
		BaseDelay:   cfg.ReconnectBase,
		MaxDelay:    cfg.ReconnectMax,
	}, ConnectionCallbacks{
		OnUpdate: m.applyUpdate,
		OnError:  m.handleError,
		OnPhase:  m.handlePhase,
	}, log)

	m.poller = NewFallbackPoller(taskID, source, m.applyUpdate, m.conn.Connected, cfg.ConnectGrace, cfg.PollInterval, log)

	return m
}

// Start opens the push channel and arms the fallback poller.
func (m *Monitor) Start() {
	m.conn.Open()
	m.poller.Start()
}

// Stop cancels monitoring without completing the task: closes the channel
// with the non-retry code, clears every timer and never invokes the
// completion callback. Synchronous and idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.finishTimer != nil {
		m.finishTimer.Stop()
		m.finishTimer = nil
	}
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	m.conn.Close()
	m.poller.Stop()
	for _, ch := range subs {
		close(ch)
	}
}

// Current returns a copy of the merged record.
func (m *Monitor) Current() domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.task
}

// Subscribe registers a consumer for merged updates. The channel is closed
// when the task completes or the monitor stops. Slow consumers lose updates
// rather than blocking the merge path.
func (m *Monitor) Subscribe() (<-chan domain.Task, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan domain.Task, subscriberBuffer)
	if m.subs == nil {
		close(ch)
		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// applyUpdate is the single merge path for push frames and poll snapshots.
func (m *Monitor) applyUpdate(update domain.StatusUpdate) {
	m.mu.Lock()
	if m.stopped || m.done {
		m.mu.Unlock()
		return
	}

	next, terminal := Apply(m.task, update)
	next.Degraded = !m.conn.Connected()
	next.UpdatedAt = time.Now()
	if terminal {
		m.done = true
	}
	m.task = next
	m.notifyLocked(next)
	m.mu.Unlock()

	if !terminal {
		return
	}

	m.logger.Infow("task_terminal", "task_id", m.taskID, "state", next.State, "progress", next.Progress)
	m.conn.Close()
	m.poller.Stop()

	m.mu.Lock()
	if !m.stopped {
		m.finishTimer = time.AfterFunc(m.cfg.CompletionDelay, func() { m.finish(next) })
	}
	m.mu.Unlock()
}

// finish fires after the completion grace delay.
func (m *Monitor) finish(final domain.Task) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.finishTimer = nil
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
	if m.onComplete != nil {
		m.onComplete(final)
	}
}

func (m *Monitor) handlePhase(phase Phase) {
	m.mu.Lock()
	if m.stopped || m.done {
		m.mu.Unlock()
		return
	}

	switch phase {
	case PhaseConnected:
		if m.task.Degraded || m.task.ConnError != "" {
			m.task.Degraded = false
			m.task.ConnError = ""
			m.notifyLocked(m.task)
		}
		m.mu.Unlock()
		// Push channel is live, the fallback must not run.
		m.poller.Stop()
	case PhaseDisconnected, PhaseReconnecting, PhaseFailed:
		m.mu.Unlock()
		// Channel is down; re-arm the fallback so polling resumes after
		// the grace window. A clean peer close before a terminal frame
		// lands here too: the channel never reopens, so polling carries
		// the task the rest of the way.
		m.poller.Start()
		// Stop or the terminal path may have torn down between the guard
		// above and the arm; the fresh timer must not outlive them.
		m.mu.Lock()
		dead := m.stopped || m.done
		m.mu.Unlock()
		if dead {
			m.poller.Stop()
		}
	default:
		m.mu.Unlock()
	}
}

func (m *Monitor) handleError(err error) {
	if !errors.Is(err, ErrChannelFailed) {
		// Malformed frames are logged by the connection manager and do not
		// change the record.
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.done {
		return
	}
	m.task.Degraded = true
	m.task.ConnError = err.Error()
	m.notifyLocked(m.task)
}

// notifyLocked fans a record out to subscribers. Callers hold m.mu.
func (m *Monitor) notifyLocked(task domain.Task) {
	for _, ch := range m.subs {
		select {
		case ch <- task:
		default:
		}
	}
}
