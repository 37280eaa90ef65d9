// Package history persists the job-run history: one record per run, keyed by
// run id and addressable by job identity.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/3leaps/snapbridge/pkg/job"
)

// ErrNotFound is returned when a job has never been run.
var ErrNotFound = errors.New("job run not found")

// History is the job-run history.
//
// Implementations must be safe for concurrent use.
type History interface {
	// RecordRun inserts the run or replaces the run with the same RunID.
	RecordRun(ctx context.Context, run *Run) error

	// LastRun returns the most recent run of the job, or ErrNotFound.
	LastRun(ctx context.Context, kind job.Kind, key string) (*Run, error)

	// ListRuns returns one page of the runs of kind, newest first.
	// Callers paginate until a short page is returned.
	ListRuns(ctx context.Context, kind job.Kind, start, size int) ([]Run, error)

	Close() error
}

// Run is one execution of a logical job.
//
// NOTE: Field names are persisted by every backend; extend additively.
type Run struct {
	RunID  string            `json:"run_id"`
	Kind   job.Kind          `json:"kind"`
	Key    string            `json:"key"`
	Status job.Status        `json:"status"`
	Params map[string]string `json:"params,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	ItemsRead    int64  `json:"items_read"`
	ItemsWritten int64  `json:"items_written"`
	ItemsFailed  int64  `json:"items_failed"`
	ExitMessage  string `json:"exit_message,omitempty"`
}

// Identity returns the identity of the job the run belongs to.
func (r *Run) Identity() job.Identity {
	return job.Identity{Kind: r.Kind, Key: r.Key}
}

// Summary condenses the run into a job summary.
func (r *Run) Summary() job.Summary {
	return job.Summary{
		Kind:      r.Kind,
		Key:       r.Key,
		Status:    r.Status,
		LastRunID: r.RunID,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}
}

func (r *Run) validate() error {
	if r == nil {
		return errors.New("run is nil")
	}
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("run_id is required")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown job kind %q", r.Kind)
	}
	if strings.TrimSpace(r.Key) == "" {
		return errors.New("job key is required")
	}
	if r.CreatedAt.IsZero() {
		return errors.New("created_at is required")
	}
	return nil
}

// sortTime orders runs: start time when known, creation time otherwise.
func sortTime(r Run) time.Time {
	if r.StartedAt != nil {
		return r.StartedAt.UTC()
	}
	return r.CreatedAt.UTC()
}

// sortRuns orders runs newest first, breaking ties by descending RunID.
func sortRuns(runs []Run) {
	sort.Slice(runs, func(i, j int) bool {
		ti, tj := sortTime(runs[i]), sortTime(runs[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return runs[i].RunID > runs[j].RunID
	})
}

func checkPage(start, size int) error {
	if start < 0 {
		return fmt.Errorf("page start %d is negative", start)
	}
	if size <= 0 {
		return fmt.Errorf("page size %d must be positive", size)
	}
	return nil
}

func page(runs []Run, start, size int) []Run {
	if start >= len(runs) {
		return nil
	}
	end := start + size
	if end > len(runs) {
		end = len(runs)
	}
	return runs[start:end]
}
