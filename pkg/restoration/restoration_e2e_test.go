package restoration_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/snapbridge/pkg/builder"
	"github.com/3leaps/snapbridge/pkg/history"
	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/listener"
	"github.com/3leaps/snapbridge/pkg/notify"
	"github.com/3leaps/snapbridge/pkg/orchestrator"
	"github.com/3leaps/snapbridge/pkg/provider"
	"github.com/3leaps/snapbridge/pkg/provider/s3"
	"github.com/3leaps/snapbridge/pkg/recordstore"
	"github.com/3leaps/snapbridge/pkg/restoration"
	"github.com/3leaps/snapbridge/pkg/transfer"
)

// space is an in-memory online space.
type space struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]provider.PutOptions
}

func newSpace(objects map[string]string) *space {
	s := &space{objects: map[string][]byte{}, meta: map[string]provider.PutOptions{}}
	for k, v := range objects {
		s.objects[k] = []byte(v)
	}
	return s
}

func (s *space) List(_ context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	res := &provider.ListResult{}
	for _, k := range keys {
		res.Objects = append(res.Objects, provider.ObjectSummary{Key: k, Size: int64(len(s.objects[k]))})
	}
	return res, nil
}

func (s *space) Head(_ context.Context, key string) (*provider.ObjectMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, &provider.ProviderError{Op: "Head", Key: key, Err: provider.ErrNotFound}
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{Key: key, Size: int64(len(data))},
		ContentType:   "text/csv",
	}, nil
}

func (s *space) GetObject(_ context.Context, key string) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, 0, &provider.ProviderError{Op: "GetObject", Key: key, Err: provider.ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *space) PutObject(_ context.Context, key string, body io.Reader, _ int64, opts provider.PutOptions) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.meta[key] = opts
	return nil
}

func (s *space) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *space) Close() error { return nil }

func (s *space) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.objects[key]
	return string(v), ok
}

type outbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (o *outbox) Notify(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) subjects() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.msgs))
	for _, m := range o.msgs {
		out = append(out, m.Subject)
	}
	return out
}

func (o *outbox) find(subject string) (notify.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.msgs {
		if m.Subject == subject {
			return m, true
		}
	}
	return notify.Message{}, false
}

// copyTree stands in for the external actor moving a snapshot back into a
// restoration working directory.
func copyTree(t *testing.T, from, to string) {
	t.Helper()
	err := filepath.WalkDir(from, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, path)
		if err != nil {
			return err
		}
		target := filepath.Join(to, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	require.NoError(t, err)
}

func TestSnapshotThenRestoreEndToEnd(t *testing.T) {
	ctx := context.Background()
	live := newSpace(map[string]string{
		"reports/q1.csv": "a,b\n1,2\n",
		"reports/q2.csv": "a,b\n3,4\n",
	})
	restored := newSpace(nil)
	spaces := map[string]*space{"live": live, "restored": restored}

	liveEndpoint := job.Endpoint{Host: "objects.example.org", Port: 443, StoreID: "primary", SpaceID: "live"}
	restoredEndpoint := liveEndpoint
	restoredEndpoint.SpaceID = "restored"

	hist, err := history.NewFileHistory(t.TempDir())
	require.NoError(t, err)
	store, err := recordstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	box := &outbox{}

	lst := listener.New(listener.Config{
		OperatorAddresses:     []string{"ops@example.org"},
		PreservationAddresses: []string{"keep@example.org"},
	}, store, box, nil)

	b := builder.New(builder.Config{ContentRoot: t.TempDir()}, lst, nil,
		builder.WithOnlineOpener(func(_ context.Context, cfg s3.Config) (provider.Provider, error) {
			return spaces[cfg.Bucket], nil
		}))

	engine := transfer.NewEngine(transfer.Config{WorkDir: t.TempDir(), RetryBackoff: time.Millisecond}, nil)
	orch, err := orchestrator.New(orchestrator.Config{Workers: 2}, hist, engine, nil)
	require.NoError(t, err)
	defer func() { _ = orch.Shutdown(ctx) }()
	orch.Register(job.KindSnapshot, orchestrator.KindHandler{Build: b.Build})
	orch.Register(job.KindRestoration, orchestrator.KindHandler{Build: b.Build})

	mgr, err := restoration.NewManager(restoration.Config{
		RootDir:               t.TempDir(),
		OperatorAddresses:     []string{"ops@example.org"},
		PreservationAddresses: []string{"keep@example.org"},
	}, orch, store, box, nil)
	require.NoError(t, err)

	// Snapshot "alpha" reaches COMPLETED.
	h, err := orch.ExecuteAsync(ctx, job.NewSnapshotDescriptor("alpha", liveEndpoint, nil, nil))
	require.NoError(t, err)
	status, err := h.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, status)

	snapDir := b.SnapshotDir("alpha")
	_, err = os.Stat(filepath.Join(snapDir, "manifest-md5.txt"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := box.find("Content snapshot ready for preservation")
		return ok
	}, 5*time.Second, 5*time.Millisecond)

	// The request is issued once and notified once.
	rec, err := mgr.RestoreSnapshot(ctx, restoration.Request{SnapshotName: "alpha", Destination: restoredEndpoint, RequesterEmail: "curator@example.org"})
	require.NoError(t, err)
	assert.Equal(t, recordstore.StatusRequestIssued, rec.Status)
	assert.Equal(t, []string{
		"Content snapshot ready for preservation",
		"Snapshot Restoration Request for Snapshot ID = alpha",
	}, box.subjects())

	// The external actor copies the snapshot into the working directory.
	copyTree(t, snapDir, filepath.Dir(rec.WorkDir))

	done, err := mgr.RestorationCompleted(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, recordstore.StatusTransferComplete, done.Status)

	subject := "Snapshot has been restored! Restoration ID = " + job.RestorationIdentity(rec.ID).Key
	require.Eventually(t, func() bool {
		_, ok := box.find(subject)
		return ok
	}, 5*time.Second, 5*time.Millisecond)

	msg, _ := box.find(subject)
	assert.Contains(t, msg.Body, "destination="+restoredEndpoint.String())
	assert.Contains(t, msg.Recipients, "curator@example.org")
	assert.Len(t, box.subjects(), 3)

	status, err = orch.Status(ctx, job.RestorationIdentity(rec.ID))
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, status)

	v, ok := restored.get("reports/q1.csv")
	require.True(t, ok)
	assert.Equal(t, "a,b\n1,2\n", v)
	_, ok = restored.get("reports/q2.csv")
	assert.True(t, ok)
}
