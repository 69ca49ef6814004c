package services

import "errors"

// Monitor errors
var (
	ErrInvalidTaskID  = errors.New("monitor: invalid task id")
	ErrTaskNotWatched = errors.New("monitor: task is not being watched")
)

// History errors
var (
	ErrHistoryUnavailable = errors.New("history: platform unreachable and no cached entries")
)
