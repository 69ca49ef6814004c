package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/tradedeck/backend/internal/core/ports"
	"github.com/tradedeck/backend/internal/domain"
	"github.com/tradedeck/backend/internal/infrastructure/logger"
)

// ActiveRegistry maintains the reconciled, ordered list of currently running
// tasks from periodic full-list snapshots. It is the sole writer of the
// list; per-task monitors only ask for removal.
type ActiveRegistry struct {
	lister   ports.ActiveLister
	interval time.Duration
	logger   *logger.Logger

	mu      sync.RWMutex
	entries []domain.ActiveTask
}

func NewActiveRegistry(lister ports.ActiveLister, interval time.Duration, log *logger.Logger) *ActiveRegistry {
	return &ActiveRegistry{
		lister:   lister,
		interval: interval,
		logger:   log,
	}
}

// Run refreshes immediately and then on the configured cadence until ctx is
// cancelled. Refresh failures are logged and retried on the next tick.
func (r *ActiveRegistry) Run(ctx context.Context) {
	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Refresh pulls one snapshot and merges it in.
func (r *ActiveRegistry) Refresh(ctx context.Context) error {
	snapshot, err := r.lister.FetchActive(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.entries = reconcile(r.entries, snapshot)
	count := len(r.entries)
	r.mu.Unlock()

	r.logger.Debugw("active_registry_refreshed", "count", count)
	return nil
}

func (r *ActiveRegistry) refresh(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()
	if err := r.Refresh(reqCtx); err != nil {
		r.logger.Warnw("active_registry_refresh_failed", "error", err)
	}
}

// Snapshot returns a copy of the current list in registry order.
func (r *ActiveRegistry) Snapshot() []domain.ActiveTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ActiveTask, len(r.entries))
	copy(out, r.entries)
	return out
}

// Remove drops one task from the view, used when its monitor reports a
// terminal transition ahead of the next snapshot.
func (r *ActiveRegistry) Remove(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.TaskID == taskID {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// reconcile merges a fresh snapshot into the known ordered list:
//
//  1. entries missing from the snapshot are dropped,
//  2. retained entries take the snapshot's fields without regressing a
//     known field to unknown,
//  3. new ids are appended in snapshot order,
//  4. the result never contains duplicate ids (first occurrence wins).
func reconcile(existing, snapshot []domain.ActiveTask) []domain.ActiveTask {
	byID := make(map[string]domain.ActiveTask, len(snapshot))
	for _, s := range snapshot {
		if _, ok := byID[s.TaskID]; !ok {
			byID[s.TaskID] = s
		}
	}

	seen := make(map[string]bool, len(snapshot))
	out := make([]domain.ActiveTask, 0, len(snapshot))

	for _, e := range existing {
		s, ok := byID[e.TaskID]
		if !ok || seen[e.TaskID] {
			continue
		}
		seen[e.TaskID] = true
		out = append(out, mergeEntry(e, s))
	}

	for _, s := range snapshot {
		if seen[s.TaskID] {
			continue
		}
		seen[s.TaskID] = true
		out = append(out, s)
	}

	return out
}

// mergeEntry overlays a snapshot entry on a known one. Progress always comes
// from the snapshot; string fields keep their prior value when the snapshot
// omits them.
func mergeEntry(prior, snap domain.ActiveTask) domain.ActiveTask {
	next := snap
	if next.Status == "" {
		next.Status = prior.Status
	}
	if next.Name == "" {
		next.Name = prior.Name
	}
	if next.Message == "" {
		next.Message = prior.Message
	}
	if next.StartedAt == "" {
		next.StartedAt = prior.StartedAt
	}
	if next.Worker == "" {
		next.Worker = prior.Worker
	}
	if next.Args == "" {
		next.Args = prior.Args
	}
	return next
}
