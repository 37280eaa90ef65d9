package job

import (
	"fmt"
	"time"
)

// Status is the normalized state of a job run.
//
// NOTE: These values are persisted in the job-run history.
type Status string

const (
	StatusUnknown   Status = "UNKNOWN"
	StatusStarting  Status = "STARTING"
	StatusStarted   Status = "STARTED"
	StatusStopping  Status = "STOPPING"
	StatusStopped   Status = "STOPPED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusAbandoned Status = "ABANDONED"
)

var allStatuses = []Status{
	StatusUnknown,
	StatusStarting,
	StatusStarted,
	StatusStopping,
	StatusStopped,
	StatusCompleted,
	StatusFailed,
	StatusAbandoned,
}

// IsTerminal reports whether no further transitions can follow s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAbandoned, StatusStopped:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a persisted status string into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown job status %q", s)
}

// FromRunState translates a raw run state read from the job-run history.
//
// Unrecognized values map to StatusUnknown so a readable record never fails a
// status lookup.
func FromRunState(state string) Status {
	st, err := ParseStatus(state)
	if err != nil {
		return StatusUnknown
	}
	return st
}

// Summary describes the most recent run of one logical job.
type Summary struct {
	Kind      Kind       `json:"kind"`
	Key       string     `json:"key"`
	Status    Status     `json:"status"`
	LastRunID string     `json:"last_run_id"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
