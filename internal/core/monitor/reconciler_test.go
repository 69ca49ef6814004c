package monitor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradedeck/backend/internal/domain"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestApply_AbsentFieldsKeepKnownValues(t *testing.T) {
	current := domain.Task{
		ID:       "t1",
		Status:   "running",
		State:    domain.StateInProgress,
		Progress: 45,
		Message:  "crunching candles",
	}

	next, terminal := Apply(current, domain.StatusUpdate{Progress: intPtr(60)})
	assert.False(t, terminal)
	assert.Equal(t, 60, next.Progress)
	assert.Equal(t, "running", next.Status)
	assert.Equal(t, "crunching candles", next.Message)

	next, terminal = Apply(next, domain.StatusUpdate{Message: strPtr("almost done")})
	assert.False(t, terminal)
	assert.Equal(t, 60, next.Progress)
	assert.Equal(t, "almost done", next.Message)
}

func TestApply_StatusNormalization(t *testing.T) {
	tests := []struct {
		raw      string
		want     domain.TaskState
		terminal bool
	}{
		{"pending", domain.StateInProgress, false},
		{"running", domain.StateInProgress, false},
		{"completed", domain.StateCompleted, true},
		{"success", domain.StateCompleted, true},
		{"failed", domain.StateFailed, true},
		{"error", domain.StateFailed, true},
		{"SUCCESS", domain.StateCompleted, true},
		{"something-new", domain.StateInProgress, false},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			current := domain.Task{ID: "t1", State: domain.StateInProgress}
			next, terminal := Apply(current, domain.StatusUpdate{Status: strPtr(tc.raw)})
			assert.Equal(t, tc.want, next.State)
			assert.Equal(t, tc.raw, next.Status)
			assert.Equal(t, tc.terminal, terminal)
		})
	}
}

func TestApply_TerminalTransitionFiresOnce(t *testing.T) {
	current := domain.Task{ID: "t1", State: domain.StateInProgress, Progress: 80}

	next, terminal := Apply(current, domain.StatusUpdate{
		Status:   strPtr("completed"),
		Progress: intPtr(100),
		Result:   json.RawMessage(`{"ok":true}`),
	})
	require.True(t, terminal)
	assert.Equal(t, domain.StateCompleted, next.State)
	assert.Equal(t, 100, next.Progress)
	assert.JSONEq(t, `{"ok":true}`, string(next.Result))

	// A duplicate terminal frame is a no-op.
	again, terminal := Apply(next, domain.StatusUpdate{Status: strPtr("completed")})
	assert.False(t, terminal)
	assert.Equal(t, next, again)

	// So is a late in-progress echo from a stale poll.
	again, terminal = Apply(next, domain.StatusUpdate{Status: strPtr("running"), Progress: intPtr(90)})
	assert.False(t, terminal)
	assert.Equal(t, 100, again.Progress)
	assert.Equal(t, domain.StateCompleted, again.State)
}

func TestApply_FailedCarriesNoResult(t *testing.T) {
	current := domain.Task{ID: "t1", State: domain.StateInProgress}

	next, terminal := Apply(current, domain.StatusUpdate{
		Status:  strPtr("error"),
		Message: strPtr("backtest diverged"),
	})
	require.True(t, terminal)
	assert.Equal(t, domain.StateFailed, next.State)
	assert.Equal(t, "backtest diverged", next.Message)
	assert.Nil(t, next.Result)
}

// Progress is last-write-wins with no sequence numbers: a stale snapshot
// applied after a newer frame regresses the value. The platform is expected
// to report monotonic progress; this pins the current behaviour down rather
// than hiding it.
func TestApply_ProgressIsNotMonotonic(t *testing.T) {
	current := domain.Task{ID: "t1", State: domain.StateInProgress}

	next, _ := Apply(current, domain.StatusUpdate{Progress: intPtr(80)})
	assert.Equal(t, 80, next.Progress)

	next, _ = Apply(next, domain.StatusUpdate{Progress: intPtr(45)})
	assert.Equal(t, 45, next.Progress)
}

func TestNormalizeStatus_EmptyIsInProgress(t *testing.T) {
	assert.Equal(t, domain.StateInProgress, domain.NormalizeStatus(""))
	assert.Equal(t, domain.StateInProgress, domain.NormalizeStatus("  "))
}
