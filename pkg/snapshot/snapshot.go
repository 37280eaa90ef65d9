// Package snapshot launches snapshots and keeps the snapshot catalog.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/snapbridge/pkg/history"
	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/orchestrator"
	"github.com/3leaps/snapbridge/pkg/recordstore"
)

// Jobs is the slice of the job orchestrator the service depends on.
type Jobs interface {
	ExecuteAsync(ctx context.Context, d job.Descriptor) (*orchestrator.Handle, error)
	LastRun(ctx context.Context, id job.Identity) (*history.Run, error)
	ListJobs(ctx context.Context, kind job.Kind) ([]job.Summary, error)
}

// Paths resolves where a snapshot's items are written.
type Paths interface {
	SnapshotContentDir(name string) string
}

// Status is a snapshot's catalog entry together with its latest run.
type Status struct {
	Name     string                `json:"name"`
	Status   job.Status            `json:"status"`
	Run      *history.Run          `json:"run"`
	Snapshot *recordstore.Snapshot `json:"snapshot,omitempty"`
}

// Service launches snapshots.
type Service struct {
	jobs  Jobs
	store recordstore.Store
	paths Paths
	log   *zap.Logger
}

// NewService returns a snapshot service.
func NewService(jobs Jobs, store recordstore.Store, paths Paths, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{jobs: jobs, store: store, paths: paths, log: log.Named("snapshot")}
}

// Create records the snapshot in the catalog and launches it. The catalog
// entry exists before the job can run.
func (s *Service) Create(ctx context.Context, d job.Descriptor) (*orchestrator.Handle, error) {
	if d.Kind != job.KindSnapshot {
		return nil, fmt.Errorf("descriptor kind %q is not a snapshot", d.Kind)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.ContentDir == "" {
		d.ContentDir = s.paths.SnapshotContentDir(d.TargetID)
	}

	entry := &recordstore.Snapshot{
		Name:       d.TargetID,
		Source:     d.Source,
		ContentDir: d.ContentDir,
		Includes:   d.Includes,
		Excludes:   d.Excludes,
	}
	if err := s.store.SaveSnapshot(ctx, entry); err != nil {
		return nil, fmt.Errorf("save snapshot %s: %w", d.TargetID, err)
	}

	h, err := s.jobs.ExecuteAsync(ctx, d)
	if err != nil {
		s.log.Warn("snapshot not launched", zap.String("snapshot", d.TargetID), zap.Error(err))
		return nil, err
	}
	return h, nil
}

// Get returns the latest run of a snapshot and its catalog entry.
func (s *Service) Get(ctx context.Context, name string) (*Status, error) {
	run, err := s.jobs.LastRun(ctx, job.SnapshotIdentity(name))
	if err != nil {
		return nil, err
	}
	st := &Status{Name: name, Status: run.Status, Run: run}
	snap, err := s.store.GetSnapshot(ctx, name)
	switch {
	case err == nil:
		st.Snapshot = snap
	case !errors.Is(err, recordstore.ErrNotFound):
		return nil, fmt.Errorf("get snapshot %s: %w", name, err)
	}
	return st, nil
}

// List returns one summary per snapshot.
func (s *Service) List(ctx context.Context) ([]job.Summary, error) {
	return s.jobs.ListJobs(ctx, job.KindSnapshot)
}
