package monitor

import "github.com/tradedeck/backend/internal/domain"

// Apply merges one partial update into the current record and reports
// whether this apply is the task's terminal transition.
//
// The merge is field-wise last-write-wins: a field present in the update
// overwrites, an absent field keeps the known value. Updates from the push
// channel and the fallback poller flow through the same path with no
// ordering guarantee between them, so a stale poll response can regress
// progress; the platform is expected to report monotonic progress itself.
//
// Once the record is terminal every further apply is a no-op, which is what
// makes the completion path exactly-once.
func Apply(current domain.Task, update domain.StatusUpdate) (domain.Task, bool) {
	if current.State.Terminal() {
		return current, false
	}

	next := current
	if update.Progress != nil {
		next.Progress = *update.Progress
	}
	if update.Status != nil && *update.Status != "" {
		next.Status = *update.Status
		next.State = domain.NormalizeStatus(*update.Status)
	}
	if update.Message != nil {
		next.Message = *update.Message
	}
	if len(update.Result) > 0 {
		next.Result = update.Result
	}

	return next, next.State.Terminal()
}
