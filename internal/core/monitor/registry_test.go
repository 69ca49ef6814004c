package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradedeck/backend/internal/domain"
	"github.com/tradedeck/backend/internal/infrastructure/logger"
)

type fakeLister struct {
	mu        sync.Mutex
	snapshots [][]domain.ActiveTask
	err       error
	calls     int
}

func (f *fakeLister) FetchActive(ctx context.Context) ([]domain.ActiveTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.snapshots) == 0 {
		return nil, nil
	}
	snap := f.snapshots[0]
	if len(f.snapshots) > 1 {
		f.snapshots = f.snapshots[1:]
	}
	return snap, nil
}

func active(id string, progress int) domain.ActiveTask {
	return domain.ActiveTask{TaskID: id, Name: "task-" + id, Status: "running", Progress: progress}
}

func TestReconcile_DropUpdateAppend(t *testing.T) {
	// Scenario: T1 finishes between snapshots, T3 appears.
	existing := []domain.ActiveTask{active("T1", 5), active("T2", 50)}
	snapshot := []domain.ActiveTask{active("T2", 70), active("T3", 0)}

	out := reconcile(existing, snapshot)

	require.Len(t, out, 2)
	assert.Equal(t, "T2", out[0].TaskID)
	assert.Equal(t, 70, out[0].Progress)
	assert.Equal(t, "T3", out[1].TaskID)
	assert.Equal(t, 0, out[1].Progress)
}

func TestReconcile_RetainedKeepOrderNewAppendInSnapshotOrder(t *testing.T) {
	existing := []domain.ActiveTask{active("A", 1), active("B", 2)}
	snapshot := []domain.ActiveTask{active("D", 0), active("B", 20), active("C", 0), active("A", 10)}

	out := reconcile(existing, snapshot)

	ids := make([]string, len(out))
	for i, e := range out {
		ids[i] = e.TaskID
	}
	// Retained entries keep their prior order, new ids follow in snapshot
	// order.
	assert.Equal(t, []string{"A", "B", "D", "C"}, ids)
}

func TestReconcile_NeverRegressesKnownFields(t *testing.T) {
	existing := []domain.ActiveTask{{
		TaskID:    "T1",
		Name:      "fetch-symbols",
		Status:    "running",
		Progress:  40,
		Message:   "downloading",
		StartedAt: "2026-08-29T10:00:00Z",
		Worker:    "worker-3",
	}}
	// Sparse snapshot entry: status and progress only.
	snapshot := []domain.ActiveTask{{TaskID: "T1", Status: "running", Progress: 55}}

	out := reconcile(existing, snapshot)

	require.Len(t, out, 1)
	assert.Equal(t, 55, out[0].Progress)
	assert.Equal(t, "fetch-symbols", out[0].Name)
	assert.Equal(t, "downloading", out[0].Message)
	assert.Equal(t, "2026-08-29T10:00:00Z", out[0].StartedAt)
	assert.Equal(t, "worker-3", out[0].Worker)

	// Even sparser: progress only. The known status must survive too.
	out = reconcile(out, []domain.ActiveTask{{TaskID: "T1", Progress: 60}})

	require.Len(t, out, 1)
	assert.Equal(t, 60, out[0].Progress)
	assert.Equal(t, "running", out[0].Status)
	assert.Equal(t, "fetch-symbols", out[0].Name)
}

func TestReconcile_NoDuplicateIDs(t *testing.T) {
	existing := []domain.ActiveTask{active("A", 1), active("A", 2)}
	snapshot := []domain.ActiveTask{active("A", 10), active("B", 0), active("B", 5)}

	out := reconcile(existing, snapshot)

	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].TaskID)
	assert.Equal(t, 10, out[0].Progress)
	assert.Equal(t, "B", out[1].TaskID)
	assert.Equal(t, 0, out[1].Progress) // first occurrence wins
}

func TestReconcile_EmptySnapshotClearsList(t *testing.T) {
	existing := []domain.ActiveTask{active("A", 1), active("B", 2)}
	out := reconcile(existing, nil)
	assert.Empty(t, out)
}

func TestActiveRegistry_RefreshAndRemove(t *testing.T) {
	lister := &fakeLister{snapshots: [][]domain.ActiveTask{
		{active("T1", 5), active("T2", 50)},
		{active("T2", 70), active("T3", 0)},
	}}
	reg := NewActiveRegistry(lister, 0, logger.Nop())

	require.NoError(t, reg.Refresh(context.Background()))
	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "T1", snap[0].TaskID)

	require.NoError(t, reg.Refresh(context.Background()))
	snap = reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "T2", snap[0].TaskID)
	assert.Equal(t, 70, snap[0].Progress)
	assert.Equal(t, "T3", snap[1].TaskID)

	// A monitor reported T2 terminal; it leaves ahead of the next snapshot.
	reg.Remove("T2")
	snap = reg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "T3", snap[0].TaskID)

	// Removing an unknown id is a no-op.
	reg.Remove("nope")
	assert.Len(t, reg.Snapshot(), 1)
}

func TestActiveRegistry_RefreshFailureKeepsState(t *testing.T) {
	lister := &fakeLister{snapshots: [][]domain.ActiveTask{{active("T1", 5)}}}
	reg := NewActiveRegistry(lister, 0, logger.Nop())
	require.NoError(t, reg.Refresh(context.Background()))

	lister.mu.Lock()
	lister.err = errors.New("platform down")
	lister.mu.Unlock()

	err := reg.Refresh(context.Background())
	require.Error(t, err)
	// Prior view survives until a snapshot succeeds again.
	assert.Len(t, reg.Snapshot(), 1)
}
