// Package transfer runs built transfer jobs: it lists the source, filters and
// throttles items, copies each one with retries and writes the run's digests,
// content properties and item event log.
package transfer

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/provider"
)

// CompletionListener is notified once a job reaches a terminal status.
//
// Implementations must not panic or block for long; failures are theirs to log.
type CompletionListener interface {
	JobCompleted(ctx context.Context, j *Job, status job.Status)
}

// Job is a runnable transfer job produced by the job builder.
//
// A Job is run at most once. RunID is assigned when the job is submitted.
type Job struct {
	Descriptor job.Descriptor
	RunID      string

	// Source must support GetObject; Target must support PutObject.
	Source provider.Provider
	Target provider.Provider

	Filter *Filter

	// ContentDir is the resolved local content directory (snapshot target
	// root or restoration working directory).
	ContentDir string

	// ManifestDir receives manifest-md5.txt, manifest-sha256.txt and
	// content-properties.json. Empty disables digest output.
	ManifestDir string

	// PropertiesFile is a content-properties.json whose entries are applied
	// as object properties on upload. Empty or missing means none.
	PropertiesFile string

	// CommitInterval is the number of items per durable checkpoint of the
	// digest manifests.
	CommitInterval int

	// ThrottleLimit caps simultaneously in-flight items.
	ThrottleLimit int

	Listener CompletionListener

	itemsRead    atomic.Int64
	itemsWritten atomic.Int64
	itemsSkipped atomic.Int64
	itemsFailed  atomic.Int64
	bytes        atomic.Int64

	exitMessage string
}

// Stats is a snapshot of a job's item counters.
type Stats struct {
	ItemsRead    int64
	ItemsWritten int64
	ItemsSkipped int64
	ItemsFailed  int64
	Bytes        int64
}

// Identity returns the job identity.
func (j *Job) Identity() job.Identity {
	return j.Descriptor.Identity()
}

// Stats returns the current item counters.
func (j *Job) Stats() Stats {
	return Stats{
		ItemsRead:    j.itemsRead.Load(),
		ItemsWritten: j.itemsWritten.Load(),
		ItemsSkipped: j.itemsSkipped.Load(),
		ItemsFailed:  j.itemsFailed.Load(),
		Bytes:        j.bytes.Load(),
	}
}

// ExitMessage describes why the last run ended the way it did. It is only
// meaningful after Engine.Run returns.
func (j *Job) ExitMessage() string {
	return j.exitMessage
}

// Close releases the job's providers.
func (j *Job) Close() error {
	var errs []error
	if j.Source != nil {
		errs = append(errs, j.Source.Close())
	}
	if j.Target != nil {
		errs = append(errs, j.Target.Close())
	}
	return errors.Join(errs...)
}
