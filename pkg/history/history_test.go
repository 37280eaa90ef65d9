package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/sqlitedb"
)

func at(min int) *time.Time {
	t := time.Date(2026, 3, 1, 12, min, 0, 0, time.UTC)
	return &t
}

// exerciseHistory runs the behaviour every backend must share.
func exerciseHistory(t *testing.T, h History) {
	t.Helper()
	ctx := context.Background()

	_, err := h.LastRun(ctx, job.KindSnapshot, "alpha")
	require.ErrorIs(t, err, ErrNotFound)

	r1 := &Run{RunID: "run-1", Kind: job.KindSnapshot, Key: "alpha", Status: job.StatusStarting, CreatedAt: *at(0),
		Params: map[string]string{"source": "h:443/s/b"}}
	require.NoError(t, h.RecordRun(ctx, r1))

	r1.Status = job.StatusCompleted
	r1.StartedAt = at(1)
	r1.EndedAt = at(2)
	r1.ItemsRead, r1.ItemsWritten = 5, 4
	r1.ExitMessage = "done"
	require.NoError(t, h.RecordRun(ctx, r1))

	got, err := h.LastRun(ctx, job.KindSnapshot, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, int64(4), got.ItemsWritten)
	assert.Equal(t, "h:443/s/b", got.Params["source"])
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(*at(2)))

	require.NoError(t, h.RecordRun(ctx, &Run{RunID: "run-2", Kind: job.KindSnapshot, Key: "alpha", Status: job.StatusFailed, CreatedAt: *at(3), StartedAt: at(3)}))
	require.NoError(t, h.RecordRun(ctx, &Run{RunID: "run-3", Kind: job.KindSnapshot, Key: "beta", Status: job.StatusStarted, CreatedAt: *at(4), StartedAt: at(5)}))
	require.NoError(t, h.RecordRun(ctx, &Run{RunID: "run-4", Kind: job.KindRestoration, Key: "7", Status: job.StatusStarted, CreatedAt: *at(6)}))

	got, err = h.LastRun(ctx, job.KindSnapshot, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
	assert.Equal(t, job.StatusFailed, got.Status)

	first, err := h.ListRuns(ctx, job.KindSnapshot, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "run-3", first[0].RunID)
	assert.Equal(t, "run-2", first[1].RunID)

	second, err := h.ListRuns(ctx, job.KindSnapshot, 2, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "run-1", second[0].RunID)

	empty, err := h.ListRuns(ctx, job.KindSnapshot, 3, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)

	restorations, err := h.ListRuns(ctx, job.KindRestoration, 0, 10)
	require.NoError(t, err)
	require.Len(t, restorations, 1)
	assert.Equal(t, "7", restorations[0].Key)

	_, err = h.ListRuns(ctx, job.KindSnapshot, 0, 0)
	assert.Error(t, err)

	assert.Error(t, h.RecordRun(ctx, &Run{Kind: job.KindSnapshot, Key: "x", CreatedAt: *at(0)}), "run id required")
	assert.Error(t, h.RecordRun(ctx, &Run{RunID: "r", Kind: "bogus", Key: "x", CreatedAt: *at(0)}), "kind must be known")
}

func TestFileHistory(t *testing.T) {
	h, err := NewFileHistory(t.TempDir())
	require.NoError(t, err)
	defer h.Close()
	exerciseHistory(t, h)
}

func TestFileHistory_IgnoresDirsWithoutRecord(t *testing.T) {
	root := t.TempDir()
	h, err := NewFileHistory(root)
	require.NoError(t, err)

	// An item log may create a run dir before the record exists.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "snapshot", "alpha", "pending"), 0o755))

	_, err = h.LastRun(context.Background(), job.KindSnapshot, "alpha")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteHistory(t *testing.T) {
	ctx := context.Background()
	h, err := OpenSQLite(ctx, sqlitedb.Config{Path: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	defer h.Close()
	exerciseHistory(t, h)

	// Migrating again is a no-op.
	require.NoError(t, MigrateSQLite(ctx, h.db))
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "etcd"})
	assert.Error(t, err)
}

func TestOpen_DefaultsToFile(t *testing.T) {
	h, err := Open(context.Background(), Config{Path: t.TempDir()})
	require.NoError(t, err)
	defer h.Close()
	assert.IsType(t, &FileHistory{}, h)
}

func TestRunSummary(t *testing.T) {
	r := Run{RunID: "r", Kind: job.KindSnapshot, Key: "alpha", Status: job.StatusCompleted, StartedAt: at(1)}
	s := r.Summary()
	assert.Equal(t, job.Summary{Kind: job.KindSnapshot, Key: "alpha", Status: job.StatusCompleted, LastRunID: "r", StartedAt: at(1)}, s)
	assert.Equal(t, job.SnapshotIdentity("alpha"), r.Identity())
}
