package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tradedeck/backend/internal/core/ports"
	"github.com/tradedeck/backend/internal/domain"
	"github.com/tradedeck/backend/internal/infrastructure/logger"
)

// Phase is the connection lifecycle state of one push channel.
type Phase string

const (
	PhaseDisconnected Phase = "DISCONNECTED"
	PhaseConnecting   Phase = "CONNECTING"
	PhaseConnected    Phase = "CONNECTED"
	PhaseReconnecting Phase = "RECONNECTING"
	PhaseFailed       Phase = "FAILED"
)

// ErrChannelFailed is reported once the reconnect budget is exhausted. The
// monitor keeps running on the polling path afterwards; this is degraded, not
// fatal.
var ErrChannelFailed = errors.New("monitor: push channel failed after reconnect budget")

// ConnectionConfig bounds the reconnect behaviour of one channel.
type ConnectionConfig struct {
	MaxAttempts int           // reconnect attempts before giving up
	BaseDelay   time.Duration // delay before the first reconnect
	MaxDelay    time.Duration // backoff cap
}

// ConnectionCallbacks receive channel events. All of them may be invoked from
// the channel's read goroutine or a timer goroutine.
type ConnectionCallbacks struct {
	OnUpdate func(domain.StatusUpdate)
	OnError  func(error)
	OnPhase  func(Phase)
}

// ConnectionManager owns the push-channel lifecycle for a single task id:
// the live channel, the reconnect timer and the attempt counter. Nothing
// else mutates them.
type ConnectionManager struct {
	taskID    string
	dialer    ports.ChannelDialer
	cfg       ConnectionConfig
	callbacks ConnectionCallbacks
	logger    *logger.Logger

	mu      sync.Mutex
	phase   Phase
	attempt int
	channel ports.TaskChannel
	retry   *time.Timer
	closed  bool
}

func NewConnectionManager(taskID string, dialer ports.ChannelDialer, cfg ConnectionConfig, cb ConnectionCallbacks, log *logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		taskID:    taskID,
		dialer:    dialer,
		cfg:       cfg,
		callbacks: cb,
		logger:    log,
		phase:     PhaseDisconnected,
	}
}

// Open starts the first connection attempt. It returns immediately; the
// outcome is reported through the callbacks.
func (c *ConnectionManager) Open() {
	c.mu.Lock()
	if c.closed || c.phase != PhaseDisconnected {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseConnecting
	c.mu.Unlock()

	c.notifyPhase(PhaseConnecting)
	go c.dial()
}

// Close tears the channel down with the caller-initiated normal code, cancels
// any pending reconnect and resets the attempt counter. Safe to call more
// than once and from any goroutine.
func (c *ConnectionManager) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	channel := c.channel
	c.channel = nil
	c.attempt = 0
	c.phase = PhaseDisconnected
	c.mu.Unlock()

	if channel != nil {
		if err := channel.Close(); err != nil {
			c.logger.Debugw("task_channel_close_error", "task_id", c.taskID, "error", err)
		}
	}
	c.notifyPhase(PhaseDisconnected)
}

// Connected reports whether the channel is currently established. The
// fallback poller keys off this signal.
func (c *ConnectionManager) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == PhaseConnected
}

func (c *ConnectionManager) CurrentPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *ConnectionManager) dial() {
	channel, err := c.dialer.DialTask(context.Background(), c.taskID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if err == nil {
			channel.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warnw("task_channel_dial_failed", "task_id", c.taskID, "attempt", c.attempt, "error", err)
		c.scheduleRetryLocked(err)
		return
	}

	c.channel = channel
	c.attempt = 0
	c.phase = PhaseConnected
	c.mu.Unlock()

	c.logger.Infow("task_channel_connected", "task_id", c.taskID)
	c.notifyPhase(PhaseConnected)
	go c.readLoop(channel)
}

func (c *ConnectionManager) readLoop(channel ports.TaskChannel) {
	for {
		data, err := channel.ReadUpdate()
		if err != nil {
			c.mu.Lock()
			if c.closed || c.channel != channel {
				c.mu.Unlock()
				return
			}
			c.channel = nil
			if errors.Is(err, io.EOF) {
				// Clean close from the peer, nothing left to stream.
				c.phase = PhaseDisconnected
				c.mu.Unlock()
				c.logger.Infow("task_channel_closed", "task_id", c.taskID)
				c.notifyPhase(PhaseDisconnected)
				return
			}
			c.logger.Warnw("task_channel_read_failed", "task_id", c.taskID, "error", err)
			c.scheduleRetryLocked(err)
			return
		}

		var update domain.StatusUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			// Malformed frame: report it, keep the channel open.
			c.logger.Warnw("task_channel_bad_frame", "task_id", c.taskID, "error", err)
			if c.callbacks.OnError != nil {
				c.callbacks.OnError(fmt.Errorf("monitor: malformed frame for task %s: %w", c.taskID, err))
			}
			continue
		}

		if c.callbacks.OnUpdate != nil {
			c.callbacks.OnUpdate(update)
		}
	}
}

// scheduleRetryLocked is called with c.mu held and releases it.
func (c *ConnectionManager) scheduleRetryLocked(cause error) {
	if c.attempt >= c.cfg.MaxAttempts {
		c.phase = PhaseFailed
		c.mu.Unlock()
		c.logger.Warnw("task_channel_failed", "task_id", c.taskID, "attempts", c.cfg.MaxAttempts)
		c.notifyPhase(PhaseFailed)
		if c.callbacks.OnError != nil {
			c.callbacks.OnError(fmt.Errorf("%w: %v", ErrChannelFailed, cause))
		}
		return
	}

	delay := reconnectDelay(c.attempt, c.cfg)
	c.attempt++
	c.phase = PhaseReconnecting
	c.retry = time.AfterFunc(delay, c.dial)
	c.mu.Unlock()

	c.logger.Infow("task_channel_reconnect_scheduled", "task_id", c.taskID, "attempt", c.attempt, "delay", delay)
	c.notifyPhase(PhaseReconnecting)
}

// reconnectDelay doubles the base delay per attempt, capped at MaxDelay.
func reconnectDelay(attempt int, cfg ConnectionConfig) time.Duration {
	delay := cfg.BaseDelay << uint(attempt)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	return delay
}

func (c *ConnectionManager) notifyPhase(phase Phase) {
	if c.callbacks.OnPhase != nil {
		c.callbacks.OnPhase(phase)
	}
}
