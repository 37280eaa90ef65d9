// Package restoration drives restoration requests through their persisted
// workflow: issuance, the external actor's completion signal and the re-sync
// of the restored content to its destination.
package restoration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/snapbridge/pkg/builder"
	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/notify"
	"github.com/3leaps/snapbridge/pkg/orchestrator"
	"github.com/3leaps/snapbridge/pkg/recordstore"
)

var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid restoration request")

	// ErrSnapshotNotFound means the source snapshot was never run.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSnapshotInProcess forbids restoring a snapshot that has not
	// completed.
	ErrSnapshotInProcess = errors.New("snapshot is not complete")

	// ErrNoRestorationInProcess means no restoration record exists for an id.
	ErrNoRestorationInProcess = errors.New("no restoration in process")

	// ErrOrphanedWorkDir means a working directory exists without a record.
	// It requires operator intervention.
	ErrOrphanedWorkDir = errors.New("restoration work dir exists without a record")

	// ErrTransferIncomplete means the external copy into the working
	// directory has not been signalled yet.
	ErrTransferIncomplete = errors.New("restoration transfer to working dir not complete")
)

// StateCorruptionError reports a persisted status no transition accepts.
type StateCorruptionError struct {
	ID     int64
	Status recordstore.RestorationStatus
	Op     string
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("restoration %d: %s: unexpected persisted status %q", e.ID, e.Op, e.Status)
}

// Jobs is the slice of the job orchestrator the manager depends on.
type Jobs interface {
	Status(ctx context.Context, id job.Identity) (job.Status, error)
	ExecuteAsync(ctx context.Context, d job.Descriptor) (*orchestrator.Handle, error)
}

// Config configures a Manager.
type Config struct {
	// RootDir holds one working directory per restoration request.
	RootDir string

	// OperatorAddresses and PreservationAddresses receive request
	// notifications.
	OperatorAddresses     []string
	PreservationAddresses []string
}

// Request asks for a snapshot to be restored to a destination space.
type Request struct {
	SnapshotName   string       `json:"snapshot_name"`
	Destination    job.Endpoint `json:"destination"`
	RequesterEmail string       `json:"requester_email,omitempty"`
}

// Manager is the restoration state machine.
type Manager struct {
	cfg      Config
	jobs     Jobs
	store    recordstore.Store
	notifier notify.Notifier
	log      *zap.Logger

	// issueMu serializes record creation within the process.
	issueMu sync.Mutex
}

// NewManager returns a manager.
func NewManager(cfg Config, jobs Jobs, store recordstore.Store, notifier notify.Notifier, log *zap.Logger) (*Manager, error) {
	if strings.TrimSpace(cfg.RootDir) == "" {
		return nil, errors.New("restoration root dir is required")
	}
	if jobs == nil || store == nil {
		return nil, errors.New("job orchestrator and record store are required")
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{cfg: cfg, jobs: jobs, store: store, notifier: notifier, log: log.Named("restoration")}, nil
}

// RestoreSnapshot issues a restoration request, or returns the record of an
// identical earlier request unchanged.
func (m *Manager) RestoreSnapshot(ctx context.Context, req Request) (*recordstore.Restoration, error) {
	d := job.NewRestorationRequestDescriptor(req.SnapshotName, req.Destination, req.RequesterEmail)
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := m.checkSnapshot(ctx, d.SnapshotName); err != nil {
		return nil, err
	}

	hash, err := job.ContentHash(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	m.issueMu.Lock()
	defer m.issueMu.Unlock()

	existing, err := m.store.FindRestorationByRequestHash(ctx, hash)
	switch {
	case err == nil:
		return m.reissued(existing)
	case !errors.Is(err, recordstore.ErrNotFound):
		return nil, fmt.Errorf("find restoration: %w", err)
	}

	workDir := builder.RestorationWorkDir(m.cfg.RootDir, hash)
	if err := os.MkdirAll(filepath.Dir(workDir), 0o755); err != nil {
		return nil, fmt.Errorf("create restoration dir: %w", err)
	}
	if err := os.Mkdir(workDir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			m.log.Error("restoration work dir has no record",
				zap.String("snapshot", d.SnapshotName),
				zap.String("work_dir", workDir))
			return nil, fmt.Errorf("%w: %s", ErrOrphanedWorkDir, workDir)
		}
		return nil, fmt.Errorf("create restoration work dir: %w", err)
	}

	rec := &recordstore.Restoration{
		SnapshotName:   d.SnapshotName,
		Destination:    d.Destination,
		RequestHash:    hash,
		WorkDir:        workDir,
		Status:         recordstore.StatusRequestIssued,
		Message:        "Restoration request issued",
		RequesterEmail: d.RequesterEmail,
	}
	if err := m.store.CreateRestoration(ctx, rec); err != nil {
		if errors.Is(err, recordstore.ErrDuplicate) {
			// Another process created the record first.
			if existing, ferr := m.store.FindRestorationByRequestHash(ctx, hash); ferr == nil {
				return m.reissued(existing)
			}
		}
		_ = os.Remove(workDir)
		return nil, fmt.Errorf("create restoration: %w", err)
	}

	m.log.Info("restoration request issued",
		zap.Int64("restoration_id", rec.ID),
		zap.String("snapshot", rec.SnapshotName),
		zap.String("work_dir", rec.WorkDir))
	m.notifyRequest(ctx, rec)
	return rec, nil
}

func (m *Manager) checkSnapshot(ctx context.Context, name string) error {
	status, err := m.jobs.Status(ctx, job.SnapshotIdentity(name))
	if errors.Is(err, orchestrator.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("snapshot %s status: %w", name, err)
	}
	if status != job.StatusCompleted {
		return fmt.Errorf("%w: snapshot %s is %s", ErrSnapshotInProcess, name, status)
	}
	return nil
}

func (m *Manager) reissued(rec *recordstore.Restoration) (*recordstore.Restoration, error) {
	switch rec.Status {
	case recordstore.StatusRequestIssued, recordstore.StatusTransferComplete:
		m.log.Info("restoration already requested",
			zap.Int64("restoration_id", rec.ID),
			zap.String("status", string(rec.Status)))
		return rec, nil
	default:
		return nil, &StateCorruptionError{ID: rec.ID, Status: rec.Status, Op: "restore snapshot"}
	}
}

// RestorationCompleted records that the external actor finished copying the
// snapshot into the working directory and launches the re-sync job. A
// repeated signal returns the completed record without launching again.
func (m *Manager) RestorationCompleted(ctx context.Context, id int64) (*recordstore.Restoration, error) {
	rec, err := m.GetRestoration(ctx, id)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case recordstore.StatusTransferComplete:
		m.log.Warn("restoration already complete", zap.Int64("restoration_id", id))
		return rec, nil
	case recordstore.StatusRequestIssued:
	default:
		return nil, &StateCorruptionError{ID: id, Status: rec.Status, Op: "restoration completed"}
	}

	updated := *rec
	updated.Status = recordstore.StatusTransferComplete
	updated.Message = "Transfer to destination started"
	if err := m.store.UpdateRestoration(ctx, &updated, rec.Version); err != nil {
		if !errors.Is(err, recordstore.ErrVersionConflict) {
			return nil, fmt.Errorf("update restoration %d: %w", id, err)
		}
		latest, gerr := m.GetRestoration(ctx, id)
		if gerr == nil && latest.Status == recordstore.StatusTransferComplete {
			m.log.Warn("restoration completed concurrently", zap.Int64("restoration_id", id))
			return latest, nil
		}
		return nil, err
	}

	d := job.NewRestorationDescriptor(id, updated.SnapshotName, updated.Destination, updated.WorkDir)
	d.RequesterEmail = updated.RequesterEmail
	h, err := m.jobs.ExecuteAsync(ctx, d)
	if err != nil {
		m.rollback(ctx, &updated, err)
		return nil, err
	}

	m.log.Info("restoration re-sync launched",
		zap.Int64("restoration_id", id),
		zap.String("run_id", h.RunID()))
	return &updated, nil
}

// ResyncPrecondition admits a restoration job only when its record exists
// and has reached TRANSFER_TO_DESTINATION_COMPLETE.
func ResyncPrecondition(store recordstore.Store) orchestrator.PreconditionFunc {
	return func(ctx context.Context, d job.Descriptor) error {
		id, err := job.ParseRestorationID(d.TargetID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		rec, err := store.GetRestoration(ctx, id)
		if errors.Is(err, recordstore.ErrNotFound) {
			return fmt.Errorf("restoration %d: %w", id, ErrNoRestorationInProcess)
		}
		if err != nil {
			return fmt.Errorf("get restoration %d: %w", id, err)
		}
		if rec.Status != recordstore.StatusTransferComplete {
			return fmt.Errorf("restoration %d is %s: %w", id, rec.Status, ErrTransferIncomplete)
		}
		return nil
	}
}

// rollback returns a record whose re-sync could not be launched to
// REQUEST_ISSUED so the completion signal can be repeated.
func (m *Manager) rollback(ctx context.Context, rec *recordstore.Restoration, cause error) {
	back := *rec
	back.Status = recordstore.StatusRequestIssued
	back.Message = "Re-sync failed to start: " + cause.Error()
	if err := m.store.UpdateRestoration(context.WithoutCancel(ctx), &back, rec.Version); err != nil {
		m.log.Error("roll back restoration",
			zap.Int64("restoration_id", rec.ID),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
}

// GetRestoration returns a restoration record.
func (m *Manager) GetRestoration(ctx context.Context, id int64) (*recordstore.Restoration, error) {
	rec, err := m.store.GetRestoration(ctx, id)
	if errors.Is(err, recordstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: restoration %d", ErrNoRestorationInProcess, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get restoration %d: %w", id, err)
	}
	return rec, nil
}

// ListRestorations returns every restoration record.
func (m *Manager) ListRestorations(ctx context.Context) ([]recordstore.Restoration, error) {
	return m.store.ListRestorations(ctx)
}

func (m *Manager) notifyRequest(ctx context.Context, rec *recordstore.Restoration) {
	var b strings.Builder
	fmt.Fprintf(&b, "A request has been issued to restore snapshot %s.\n\n", rec.SnapshotName)
	b.WriteString("Please copy the snapshot content into the restoration directory, then signal completion for the restoration id.\n\n")
	fmt.Fprintf(&b, "restoration-id=%d\n", rec.ID)
	fmt.Fprintf(&b, "snapshot-id=%s\n", rec.SnapshotName)
	if snap, err := m.store.GetSnapshot(ctx, rec.SnapshotName); err == nil {
		fmt.Fprintf(&b, "snapshot-path=%s\n", filepath.Dir(snap.ContentDir))
	}
	fmt.Fprintf(&b, "restoration-path=%s\n", rec.WorkDir)

	msg := notify.Message{
		Subject:    "Snapshot Restoration Request for Snapshot ID = " + rec.SnapshotName,
		Body:       b.String(),
		Recipients: notify.Recipients(m.cfg.OperatorAddresses, m.cfg.PreservationAddresses),
	}
	if err := m.notifier.Notify(ctx, msg); err != nil {
		m.log.Error("send restoration request notification",
			zap.Int64("restoration_id", rec.ID),
			zap.Error(err))
	}
}
