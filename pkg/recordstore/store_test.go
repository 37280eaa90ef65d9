package recordstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/snapbridge/pkg/job"
)

func destination() job.Endpoint {
	return job.Endpoint{Host: "online.example.org", Port: 443, StoreID: "primary", SpaceID: "restored"}
}

func newRestoration(hash string) *Restoration {
	return &Restoration{
		SnapshotName:   "alpha",
		Destination:    destination(),
		RequestHash:    hash,
		WorkDir:        "/srv/restorations/" + hash[:4] + "/data",
		Status:         StatusRequestIssued,
		RequesterEmail: "curator@example.org",
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.GetRestoration(ctx, 1)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindRestorationByRequestHash(ctx, "abcdef")
	require.ErrorIs(t, err, ErrNotFound)

	r := newRestoration("aaaa1111")
	require.NoError(t, s.CreateRestoration(ctx, r))
	assert.Positive(t, r.ID)
	assert.Equal(t, int64(1), r.Version)
	assert.Equal(t, SchemaVersion, r.SchemaVersion)
	assert.False(t, r.CreatedAt.IsZero())

	require.ErrorIs(t, s.CreateRestoration(ctx, newRestoration("aaaa1111")), ErrDuplicate)

	byHash, err := s.FindRestorationByRequestHash(ctx, "aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, r.ID, byHash.ID)
	assert.Equal(t, destination(), byHash.Destination)
	assert.Equal(t, "curator@example.org", byHash.RequesterEmail)

	update := *byHash
	update.Status = StatusTransferComplete
	update.Message = "external copy finished"
	require.NoError(t, s.UpdateRestoration(ctx, &update, byHash.Version))
	assert.Equal(t, int64(2), update.Version)

	stale := *byHash
	stale.Message = "late writer"
	err = s.UpdateRestoration(ctx, &stale, byHash.Version)
	require.ErrorIs(t, err, ErrVersionConflict)

	got, err := s.GetRestoration(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusTransferComplete, got.Status)
	assert.Equal(t, "external copy finished", got.Message)
	assert.Equal(t, int64(2), got.Version)

	missing := newRestoration("ffff0000")
	missing.ID = 9999
	require.ErrorIs(t, s.UpdateRestoration(ctx, missing, 1), ErrNotFound)

	second := newRestoration("bbbb2222")
	require.NoError(t, s.CreateRestoration(ctx, second))
	assert.Greater(t, second.ID, r.ID)

	list, err := s.ListRestorations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, r.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	_, err = s.GetSnapshot(ctx, "alpha")
	require.ErrorIs(t, err, ErrNotFound)

	snap := &Snapshot{
		Name:       "alpha",
		Source:     job.Endpoint{Host: "online.example.org", Port: 443, StoreID: "primary", SpaceID: "images"},
		ContentDir: "/srv/content/snapshots/alpha/data",
		Includes:   []string{"**/*.tif"},
	}
	require.NoError(t, s.SaveSnapshot(ctx, snap))
	assert.False(t, snap.CreatedAt.IsZero())

	gotSnap, err := s.GetSnapshot(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, snap.Source, gotSnap.Source)
	assert.Equal(t, snap.ContentDir, gotSnap.ContentDir)
	assert.Equal(t, []string{"**/*.tif"}, gotSnap.Includes)
	assert.Nil(t, gotSnap.Excludes)

	snap.ContentDir = "/srv/content/snapshots/alpha/data2"
	require.NoError(t, s.SaveSnapshot(ctx, snap))
	gotSnap, err = s.GetSnapshot(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "/srv/content/snapshots/alpha/data2", gotSnap.ContentDir)
}

// exerciseConcurrentUpdates checks that exactly one of two writers based on
// the same version wins.
func exerciseConcurrentUpdates(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	r := newRestoration("cccc3333")
	require.NoError(t, s.CreateRestoration(ctx, r))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := *r
			u.Status = StatusTransferComplete
			errs[i] = s.UpdateRestoration(ctx, &u, r.Version)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrVersionConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestFileStore_ConcurrentUpdates(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	exerciseConcurrentUpdates(t, s)
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s, err := NewFileStore(root)
	require.NoError(t, err)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	r := newRestoration("dddd4444")
	require.NoError(t, s.CreateRestoration(ctx, r))

	reopened, err := NewFileStore(root)
	require.NoError(t, err)
	got, err := reopened.FindRestorationByRequestHash(ctx, "dddd4444")
	require.NoError(t, err)
	assert.Equal(t, *r, *got)

	next := newRestoration("eeee5555")
	require.NoError(t, reopened.CreateRestoration(ctx, next))
	assert.Equal(t, r.ID+1, next.ID)
}

func TestFileStore_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, s.CreateRestoration(ctx, newRestorationWithHash("../etc")))
	assert.Error(t, s.CreateRestoration(ctx, &Restoration{RequestHash: "aa", Status: StatusRequestIssued}))
	assert.Error(t, s.SaveSnapshot(ctx, &Snapshot{Name: "a/b"}))

	_, err = s.GetSnapshot(ctx, "../x")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewFileStore("  ")
	assert.Error(t, err)
}

func newRestorationWithHash(hash string) *Restoration {
	return &Restoration{SnapshotName: "alpha", Destination: destination(), RequestHash: hash, Status: StatusRequestIssued}
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", migrateURL("postgres://u:p@h:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://h/db", migrateURL("postgresql://h/db"))
	assert.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "mongo"})
	assert.Error(t, err)
}
