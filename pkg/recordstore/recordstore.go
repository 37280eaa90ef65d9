// Package recordstore persists restoration records and the snapshot catalog.
//
// Restoration records are versioned: every update names the version it was
// based on and is rejected with ErrVersionConflict when another writer got
// there first.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/snapbridge/pkg/job"
)

// SchemaVersion is the serialized record format version.
const SchemaVersion = 1

var (
	// ErrNotFound is returned when no record exists for the lookup key.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a restoration with the same request hash
	// already exists.
	ErrDuplicate = errors.New("duplicate record")

	// ErrVersionConflict is returned when an update's expected version does
	// not match the stored one.
	ErrVersionConflict = errors.New("record version conflict")
)

// RestorationStatus is the persisted state of a restoration request.
//
// NOTE: These values are persisted and are part of the stable record format.
type RestorationStatus string

const (
	// StatusRequestIssued means the external actor was asked to copy the
	// snapshot into the working directory.
	StatusRequestIssued RestorationStatus = "REQUEST_ISSUED"

	// StatusTransferComplete means the external copy finished and the
	// re-sync to the destination was launched.
	StatusTransferComplete RestorationStatus = "TRANSFER_TO_DESTINATION_COMPLETE"
)

// Restoration is the persisted record of one restoration request.
type Restoration struct {
	ID             int64             `json:"id"`
	Version        int64             `json:"version"`
	SchemaVersion  int               `json:"schema_version"`
	SnapshotName   string            `json:"snapshot_name"`
	Destination    job.Endpoint      `json:"destination"`
	RequestHash    string            `json:"request_hash"`
	WorkDir        string            `json:"work_dir"`
	Status         RestorationStatus `json:"status"`
	Message        string            `json:"message,omitempty"`
	RequesterEmail string            `json:"requester_email,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Identity returns the job identity of the restoration's re-sync job.
func (r *Restoration) Identity() job.Identity {
	return job.RestorationIdentity(r.ID)
}

func (r *Restoration) validateNew() error {
	if r == nil {
		return errors.New("restoration is nil")
	}
	if strings.TrimSpace(r.SnapshotName) == "" {
		return errors.New("snapshot name is required")
	}
	if strings.TrimSpace(r.RequestHash) == "" {
		return errors.New("request hash is required")
	}
	if r.Status == "" {
		return errors.New("status is required")
	}
	return nil
}

// Snapshot is a catalog entry for a launched snapshot.
type Snapshot struct {
	Name       string       `json:"name"`
	Source     job.Endpoint `json:"source"`
	ContentDir string       `json:"content_dir"`
	Includes   []string     `json:"includes,omitempty"`
	Excludes   []string     `json:"excludes,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Store persists restorations and snapshots.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// GetRestoration returns the restoration with id, or ErrNotFound.
	GetRestoration(ctx context.Context, id int64) (*Restoration, error)

	// FindRestorationByRequestHash returns the restoration created for the
	// request content hash, or ErrNotFound.
	FindRestorationByRequestHash(ctx context.Context, hash string) (*Restoration, error)

	// CreateRestoration assigns r.ID, sets r.Version to 1 and persists r.
	// It fails with ErrDuplicate when the request hash is already taken.
	CreateRestoration(ctx context.Context, r *Restoration) error

	// UpdateRestoration persists r if the stored version equals
	// expectedVersion, then sets r.Version to the new version.
	UpdateRestoration(ctx context.Context, r *Restoration, expectedVersion int64) error

	// ListRestorations returns every restoration ordered by id.
	ListRestorations(ctx context.Context) ([]Restoration, error)

	// SaveSnapshot inserts or replaces the snapshot catalog entry.
	SaveSnapshot(ctx context.Context, s *Snapshot) error

	// GetSnapshot returns the snapshot named name, or ErrNotFound.
	GetSnapshot(ctx context.Context, name string) (*Snapshot, error)

	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config selects and configures a store backend.
type Config struct {
	Backend string

	// Path is the FileStore root directory.
	Path string

	// DatabaseURL is a postgres:// connection string.
	DatabaseURL string

	// MaxConns caps the Postgres pool. Zero keeps the pgxpool default.
	MaxConns int

	// Migrate applies pending schema migrations before connecting.
	Migrate bool
}

// Open opens the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		return NewFileStore(cfg.Path)
	case BackendPostgres:
		if cfg.Migrate {
			if err := RunMigrations(cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		pool, err := Connect(ctx, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown record store backend %q", cfg.Backend)
	}
}
