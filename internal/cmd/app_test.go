package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/snapbridge/internal/config"
	"github.com/3leaps/snapbridge/pkg/builder"
	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/provider"
	"github.com/3leaps/snapbridge/pkg/provider/file"
	"github.com/3leaps/snapbridge/pkg/provider/s3"
	"github.com/3leaps/snapbridge/pkg/recordstore"
	"github.com/3leaps/snapbridge/pkg/snapshot"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	t.Setenv(config.ConfigFileEnv, "")
	return home
}

// writeConfig writes a config file with every directory below a temp root.
func writeConfig(t *testing.T) (path, root string) {
	t.Helper()
	isolate(t)
	root = t.TempDir()
	path = filepath.Join(root, "snapbridge.yaml")
	data := `logging:
  level: debug
  format: console
content:
  root_dir: ` + filepath.Join(root, "content") + `
  work_dir: ` + filepath.Join(root, "work") + `
restoration:
  root_dir: ` + filepath.Join(root, "restorations") + `
history:
  backend: file
  path: ` + filepath.Join(root, "history") + `
store:
  backend: file
  path: ` + filepath.Join(root, "records") + `
orchestrator:
  workers: 2
transfer:
  retry_backoff: 1ms
preflight: "off"
notify:
  backend: log
  operator_addresses: ops@example.org
  preservation_addresses: keep@example.org
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path, root
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path, _ := writeConfig(t)
	cfg, err := config.LoadFile(context.Background(), path)
	require.NoError(t, err)
	return cfg
}

// useSpaces serves online spaces from local directories keyed by space id.
func useSpaces(t *testing.T, spaces map[string]string) {
	t.Helper()
	orig := cliAppOptions
	cliAppOptions = []appOption{withBuilderOptions(builder.WithOnlineOpener(
		func(_ context.Context, cfg s3.Config) (provider.Provider, error) {
			dir, ok := spaces[cfg.Bucket]
			if !ok {
				return nil, errors.New("unknown space " + cfg.Bucket)
			}
			return file.New(file.Config{BaseDir: dir, Create: true})
		}))}
	t.Cleanup(func() { cliAppOptions = orig })
}

func TestNewApp_WiresAndCloses(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := newApp(ctx, cfg, nil)
	require.NoError(t, err)

	assert.NoError(t, historyChecker{a}.CheckHealth(ctx))
	assert.NoError(t, storeChecker{a}.CheckHealth(ctx))

	list, err := a.snapshots.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, a.Close(ctx))
	// Shutdown is idempotent.
	assert.NoError(t, a.orch.Shutdown(ctx))
}

func TestNewApp_RejectsUnknownNotifier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.Backend = "pigeon"

	_, err := newApp(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, `unknown notify backend "pigeon"`)
}

func TestNewApp_InvalidSMTP(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.Backend = config.NotifyBackendSMTP

	_, err := newApp(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "configure smtp notifier")
}

func TestCLI_SnapshotThenRestore(t *testing.T) {
	cfgPath, root := writeConfig(t)

	live := filepath.Join(root, "spaces", "live")
	restored := filepath.Join(root, "spaces", "restored")
	require.NoError(t, os.MkdirAll(filepath.Join(live, "reports"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(live, "reports", "q1.csv"), []byte("a,b\n1,2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(live, "reports", "skip.tmp"), []byte("x"), 0o644))
	useSpaces(t, map[string]string{"live": live, "restored": restored})

	snapManifest := filepath.Join(root, "snapshot.yaml")
	require.NoError(t, os.WriteFile(snapManifest, []byte(`version: "1.0"
name: alpha
source:
  host: objects.example.org
  port: 443
  store_id: primary
  space_id: live
match:
  excludes: ["**/*.tmp"]
`), 0o644))

	out, err := runCLI(t, "snapshot", "create", "--config", cfgPath, "--job", snapManifest, "--json")
	require.NoError(t, err)
	var res snapshotResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "alpha", res.Snapshot)
	assert.Equal(t, job.StatusCompleted, res.Status)
	assert.NotEmpty(t, res.RunID)

	snapDir := filepath.Join(root, "content", builder.SnapshotsDir, "alpha")
	got, err := os.ReadFile(filepath.Join(snapDir, builder.DataDir, "reports", "q1.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(got))
	assert.NoFileExists(t, filepath.Join(snapDir, builder.DataDir, "reports", "skip.tmp"))

	out, err = runCLI(t, "snapshot", "status", "alpha", "--config", cfgPath, "--json")
	require.NoError(t, err)
	var st snapshot.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, job.StatusCompleted, st.Status)
	assert.Equal(t, res.RunID, st.Run.RunID)

	restoreManifest := filepath.Join(root, "restore.yaml")
	require.NoError(t, os.WriteFile(restoreManifest, []byte(`version: "1.0"
snapshot: alpha
destination:
  host: objects.example.org
  port: 443
  store_id: primary
  space_id: restored
requester_email: curator@example.org
`), 0o644))

	out, err = runCLI(t, "restore", "request", "--config", cfgPath, "--job", restoreManifest, "--json")
	require.NoError(t, err)
	var rec recordstore.Restoration
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, recordstore.StatusRequestIssued, rec.Status)
	require.DirExists(t, rec.WorkDir)
	id := strconv.FormatInt(rec.ID, 10)

	// An unknown restoration cannot be completed.
	_, err = runCLI(t, "restore", "complete", "999", "--config", cfgPath)
	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, foundry.ExitInvalidArgument, ee.Code)

	copyTree(t, snapDir, filepath.Dir(rec.WorkDir))

	out, err = runCLI(t, "restore", "complete", id, "--config", cfgPath, "--json")
	require.NoError(t, err)
	var done struct {
		Status   recordstore.RestorationStatus `json:"status"`
		Transfer job.Status                    `json:"transfer_status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &done))
	assert.Equal(t, recordstore.StatusTransferComplete, done.Status)
	assert.Equal(t, job.StatusCompleted, done.Transfer)

	got, err = os.ReadFile(filepath.Join(restored, "reports", "q1.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(got))

	out, err = runCLI(t, "restore", "list", "--config", cfgPath, "--json")
	require.NoError(t, err)
	var list []recordstore.Restoration
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)

	out, err = runCLI(t, "snapshot", "list", "--config", cfgPath, "--json")
	require.NoError(t, err)
	var snaps []job.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, "alpha", snaps[0].Key)
}

func TestCLI_SnapshotCreate_InvalidManifest(t *testing.T) {
	cfgPath, root := writeConfig(t)
	bad := filepath.Join(root, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: \"1.0\"\nname: \"\"\n"), 0o644))

	_, err := runCLI(t, "snapshot", "create", "--config", cfgPath, "--job", bad)
	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, foundry.ExitInvalidArgument, ee.Code)
}

func TestCLI_RestoreStatus_Unknown(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, err := runCLI(t, "restore", "status", "42", "--config", cfgPath)
	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, foundry.ExitInvalidArgument, ee.Code)

	_, err = runCLI(t, "restore", "status", "nope", "--config", cfgPath)
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, foundry.ExitInvalidArgument, ee.Code)
}

// copyTree stands in for the preservation team copying a snapshot into a
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
