package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/tradedeck/backend/internal/core/ports"
	"github.com/tradedeck/backend/internal/domain"
	"github.com/tradedeck/backend/internal/infrastructure/logger"
)

// FallbackPoller pulls task status periodically while the push channel is
// unavailable. It arms itself a grace period after monitoring starts and
// never runs while the channel is connected.
type FallbackPoller struct {
	taskID     string
	fetcher    ports.StatusFetcher
	onSnapshot func(domain.StatusUpdate)
	connected  func() bool
	grace      time.Duration
	interval   time.Duration
	logger     *logger.Logger

	mu         sync.Mutex
	graceTimer *time.Timer
	stopCh     chan struct{}
	running    bool
}

func NewFallbackPoller(taskID string, fetcher ports.StatusFetcher, onSnapshot func(domain.StatusUpdate), connected func() bool, grace, interval time.Duration, log *logger.Logger) *FallbackPoller {
	return &FallbackPoller{
		taskID:     taskID,
		fetcher:    fetcher,
		onSnapshot: onSnapshot,
		connected:  connected,
		grace:      grace,
		interval:   interval,
		logger:     log,
	}
}

// Start arms the activation timer. If the channel connects before it fires,
// the poller never runs. Calling Start again after a Stop re-arms the timer,
// which is how polling resumes when the channel drops later on; the owning
// monitor stops re-arming once the task is terminal.
func (p *FallbackPoller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.graceTimer != nil {
		return
	}
	p.graceTimer = time.AfterFunc(p.grace, p.activate)
}

// Stop clears the activation timer and the poll loop. Idempotent; called
// both by the owning monitor on teardown and the moment the channel
// connects.
func (p *FallbackPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
	}
	if p.running {
		p.running = false
		close(p.stopCh)
		p.stopCh = nil
	}
}

// Active reports whether the poll loop is currently running.
func (p *FallbackPoller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *FallbackPoller) activate() {
	p.mu.Lock()
	p.graceTimer = nil
	if p.running || p.connected() {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	p.logger.Infow("task_poll_started", "task_id", p.taskID, "interval", p.interval)
	go p.loop(stopCh)
}

func (p *FallbackPoller) loop(stopCh chan struct{}) {
	p.poll()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.poll()
		case <-stopCh:
			p.logger.Infow("task_poll_stopped", "task_id", p.taskID)
			return
		}
	}
}

func (p *FallbackPoller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	update, err := p.fetcher.FetchStatus(ctx, p.taskID)
	if err != nil {
		// Not fatal, the next tick retries.
		p.logger.Warnw("task_poll_failed", "task_id", p.taskID, "error", err)
		return
	}
	p.onSnapshot(update)
}
