package recordstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx pool and pings the database.
func Connect(ctx context.Context, databaseURL string, maxConns int) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PostgresStore implements Store using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connected pool. The schema must be migrated.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const restorationColumns = `id, version, schema_version, snapshot_name,
	dest_host, dest_port, dest_store_id, dest_space_id,
	request_hash, work_dir, status, message, requester_email, created_at, updated_at`

func scanRestoration(row pgx.Row) (*Restoration, error) {
	var r Restoration
	var status string
	err := row.Scan(&r.ID, &r.Version, &r.SchemaVersion, &r.SnapshotName,
		&r.Destination.Host, &r.Destination.Port, &r.Destination.StoreID, &r.Destination.SpaceID,
		&r.RequestHash, &r.WorkDir, &status, &r.Message, &r.RequesterEmail, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = RestorationStatus(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func (s *PostgresStore) GetRestoration(ctx context.Context, id int64) (*Restoration, error) {
	r, err := scanRestoration(s.pool.QueryRow(ctx,
		`SELECT `+restorationColumns+` FROM restorations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get restoration: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) FindRestorationByRequestHash(ctx context.Context, hash string) (*Restoration, error) {
	r, err := scanRestoration(s.pool.QueryRow(ctx,
		`SELECT `+restorationColumns+` FROM restorations WHERE request_hash = $1`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find restoration by request hash: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) CreateRestoration(ctx context.Context, r *Restoration) error {
	if err := r.validateNew(); err != nil {
		return err
	}

	created, err := scanRestoration(s.pool.QueryRow(ctx,
		`INSERT INTO restorations
		 (version, schema_version, snapshot_name, dest_host, dest_port, dest_store_id, dest_space_id,
		  request_hash, work_dir, status, message, requester_email)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING `+restorationColumns,
		SchemaVersion, r.SnapshotName, r.Destination.Host, r.Destination.Port, r.Destination.StoreID, r.Destination.SpaceID,
		r.RequestHash, r.WorkDir, string(r.Status), r.Message, r.RequesterEmail))
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create restoration: %w", err)
	}
	*r = *created
	return nil
}

func (s *PostgresStore) UpdateRestoration(ctx context.Context, r *Restoration, expectedVersion int64) error {
	if r == nil {
		return errors.New("restoration is nil")
	}

	updated, err := scanRestoration(s.pool.QueryRow(ctx,
		`UPDATE restorations SET
		   version = version + 1,
		   schema_version = $1,
		   snapshot_name = $2,
		   dest_host = $3, dest_port = $4, dest_store_id = $5, dest_space_id = $6,
		   work_dir = $7, status = $8, message = $9, requester_email = $10,
		   updated_at = NOW()
		 WHERE id = $11 AND version = $12
		 RETURNING `+restorationColumns,
		SchemaVersion, r.SnapshotName, r.Destination.Host, r.Destination.Port, r.Destination.StoreID, r.Destination.SpaceID,
		r.WorkDir, string(r.Status), r.Message, r.RequesterEmail, r.ID, expectedVersion))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row is gone or another writer moved the version on.
		current, gerr := s.GetRestoration(ctx, r.ID)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("%w: restoration %d is at version %d, expected %d", ErrVersionConflict, r.ID, current.Version, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("update restoration: %w", err)
	}
	*r = *updated
	return nil
}

func (s *PostgresStore) ListRestorations(ctx context.Context) ([]Restoration, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+restorationColumns+` FROM restorations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list restorations: %w", err)
	}
	defer rows.Close()

	var out []Restoration
	for rows.Next() {
		r, err := scanRestoration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan restoration: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.Name == "" {
		return errors.New("snapshot name is required")
	}
	includes := snap.Includes
	if includes == nil {
		includes = []string{}
	}
	excludes := snap.Excludes
	if excludes == nil {
		excludes = []string{}
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO snapshots
		 (name, source_host, source_port, source_store_id, source_space_id, content_dir, includes, excludes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9::timestamptz, NOW()))
		 ON CONFLICT (name) DO UPDATE SET
		   source_host = EXCLUDED.source_host,
		   source_port = EXCLUDED.source_port,
		   source_store_id = EXCLUDED.source_store_id,
		   source_space_id = EXCLUDED.source_space_id,
		   content_dir = EXCLUDED.content_dir,
		   includes = EXCLUDED.includes,
		   excludes = EXCLUDED.excludes,
		   created_at = EXCLUDED.created_at
		 RETURNING created_at`,
		snap.Name, snap.Source.Host, snap.Source.Port, snap.Source.StoreID, snap.Source.SpaceID,
		snap.ContentDir, includes, excludes, nullTime(snap),
	).Scan(&snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	snap.CreatedAt = snap.CreatedAt.UTC()
	return nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	var snap Snapshot
	err := s.pool.QueryRow(ctx,
		`SELECT name, source_host, source_port, source_store_id, source_space_id, content_dir, includes, excludes, created_at
		 FROM snapshots WHERE name = $1`, name,
	).Scan(&snap.Name, &snap.Source.Host, &snap.Source.Port, &snap.Source.StoreID, &snap.Source.SpaceID,
		&snap.ContentDir, &snap.Includes, &snap.Excludes, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	if len(snap.Includes) == 0 {
		snap.Includes = nil
	}
	if len(snap.Excludes) == 0 {
		snap.Excludes = nil
	}
	snap.CreatedAt = snap.CreatedAt.UTC()
	return &snap, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func nullTime(snap *Snapshot) any {
	if snap.CreatedAt.IsZero() {
		return nil
	}
	return snap.CreatedAt
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*FileStore)(nil)

