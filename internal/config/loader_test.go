package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/snapbridge/pkg/history"
	"github.com/3leaps/snapbridge/pkg/preflight"
)

// isolate keeps Load away from the developer's real config and data dirs.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	t.Setenv(ConfigFileEnv, "")
	return home
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		home := isolate(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "json", cfg.Logging.Format)

		data := filepath.Join(home, ".local", "share", "snapbridge")
		assert.Equal(t, filepath.Join(data, "content"), cfg.Content.RootDir)
		assert.Equal(t, filepath.Join(data, "restorations"), cfg.Restoration.RootDir)

		assert.Equal(t, 10, cfg.Orchestrator.Workers)
		assert.Equal(t, 100, cfg.Orchestrator.QueueSize)
		assert.Equal(t, 1, cfg.Transfer.CommitInterval)
		assert.Equal(t, 20, cfg.Transfer.ThrottleLimit)
		assert.Equal(t, 500*time.Millisecond, cfg.Transfer.RetryBackoff)

		assert.Equal(t, history.BackendFile, cfg.History.Backend)
		assert.Equal(t, 100, cfg.History.PageSize)
		assert.Equal(t, "file", cfg.Store.Backend)
		assert.Equal(t, "https", cfg.Online.Scheme)
		assert.Equal(t, preflight.ModeReadSafe, cfg.PreflightMode())
		assert.Equal(t, NotifyBackendLog, cfg.Notify.Backend)
		assert.Empty(t, cfg.Notify.OperatorAddresses)
	})

	t.Run("DataDirFollowsXDG", func(t *testing.T) {
		home := isolate(t)
		custom := filepath.Join(home, "data")
		t.Setenv("XDG_DATA_HOME", custom)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, gfconfig.GetAppDataDir(ConfigName), filepath.Join(custom, "snapbridge"))
		assert.Equal(t, filepath.Join(custom, "snapbridge", "history"), cfg.History.Path)
		assert.Equal(t, filepath.Join(custom, "snapbridge", "records"), cfg.Store.Path)
	})

	t.Run("ConfigFileFromXDGConfigHome", func(t *testing.T) {
		home := isolate(t)
		dir := filepath.Join(home, ".config", "snapbridge")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "snapbridge.yaml"), []byte("server:\n  port: 6161\n"), 0o600))

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6161, cfg.Server.Port)
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("SNAPBRIDGE_SERVER_PORT", "9191")
		t.Setenv("SNAPBRIDGE_LOGGING_LEVEL", "DEBUG")
		t.Setenv("SNAPBRIDGE_TRANSFER_RETRY_BACKOFF", "2s")
		t.Setenv("SNAPBRIDGE_NOTIFY_OPERATOR_ADDRESSES", "ops@example.org, oncall@example.org")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 9191, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 2*time.Second, cfg.Transfer.RetryBackoff)
		assert.Equal(t, []string{"ops@example.org", "oncall@example.org"}, cfg.Notify.OperatorAddresses)
	})

	t.Run("OverridesWinOverEnvironment", func(t *testing.T) {
		isolate(t)
		t.Setenv("SNAPBRIDGE_SERVER_PORT", "9191")

		cfg, err := Load(ctx, map[string]any{"server.port": 7070}, map[string]any{"orchestrator.workers": 2})
		require.NoError(t, err)
		assert.Equal(t, 7070, cfg.Server.Port)
		assert.Equal(t, 2, cfg.Orchestrator.Workers)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		home := isolate(t)
		path := filepath.Join(home, "snapbridge.yaml")
		body := `
content:
  root_dir: /srv/bridge/content
restoration:
  root_dir: /srv/bridge/restorations
online:
  scheme: http
  force_path_style: true
  stores:
    "0":
      region: us-east-1
      access_key_id: AKIA
      secret_access_key: secret
notify:
  preservation_addresses: [archive@example.org]
`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

		cfg, err := LoadFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "/srv/bridge/content", cfg.Content.RootDir)
		assert.Equal(t, "/srv/bridge/restorations", cfg.Restoration.RootDir)
		assert.Equal(t, "http", cfg.Online.Scheme)
		assert.True(t, cfg.Online.ForcePathStyle)
		require.Contains(t, cfg.Online.Stores, "0")
		assert.Equal(t, "us-east-1", cfg.Online.Stores["0"].Region)
		assert.Equal(t, []string{"archive@example.org"}, cfg.Notify.PreservationAddresses)
		assert.Same(t, cfg, GetConfig())
	})

	t.Run("ConfigFileFromEnvironment", func(t *testing.T) {
		home := isolate(t)
		path := filepath.Join(home, "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 6060\n"), 0o600))
		t.Setenv(ConfigFileEnv, path)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6060, cfg.Server.Port)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		home := isolate(t)
		_, err := LoadFile(ctx, filepath.Join(home, "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("InvalidValues", func(t *testing.T) {
		isolate(t)
		_, err := Load(ctx, map[string]any{
			"history.backend": "etcd",
			"notify.backend":  "smtp",
			"preflight":       "aggressive",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown history.backend")
		assert.Contains(t, err.Error(), "notify.smtp")
		assert.Contains(t, err.Error(), "preflight")
	})

	t.Run("CancelledContext", func(t *testing.T) {
		isolate(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Load(cctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:       ServerConfig{Port: 8080},
			Logging:      LoggingConfig{Level: "info", Format: "json"},
			Content:      ContentConfig{RootDir: "/c"},
			Restoration:  RestorationConfig{RootDir: "/r"},
			Orchestrator: OrchestratorConfig{Workers: 1},
			History:      HistoryConfig{Backend: "file", Path: "/h"},
			Store:        StoreConfig{Backend: "file", Path: "/s"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"missing content root", func(c *Config) { c.Content.RootDir = "" }, "content.root_dir"},
		{"missing restoration root", func(c *Config) { c.Restoration.RootDir = " " }, "restoration.root_dir"},
		{"no workers", func(c *Config) { c.Orchestrator.Workers = 0 }, "orchestrator.workers"},
		{"redis without url", func(c *Config) { c.History.Backend = "redis" }, "history.redis_url"},
		{"postgres without url", func(c *Config) { c.Store.Backend = "postgres" }, "store.database_url"},
		{"bad scheme", func(c *Config) { c.Online.Scheme = "ftp" }, "online.scheme"},
		{"smtp complete", func(c *Config) {
			c.Notify.Backend = "smtp"
			c.Notify.SMTP = SMTPConfig{Host: "mail", Port: 25, From: "bridge@example.org"}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_BackendOptions(t *testing.T) {
	c := &Config{
		History: HistoryConfig{Backend: "redis", RedisURL: "redis://localhost:6379/0"},
		Store:   StoreConfig{Backend: "postgres", DatabaseURL: "postgres://x", MaxConns: 4, Migrate: true},
		Notify:  NotifyConfig{SMTP: SMTPConfig{Host: "mail", Port: 587, From: "a@b"}},
	}

	h := c.HistoryOptions()
	assert.Equal(t, history.BackendRedis, h.Backend)
	assert.Equal(t, "redis://localhost:6379/0", h.URL)

	s := c.StoreOptions()
	assert.Equal(t, "postgres", s.Backend)
	assert.Equal(t, 4, s.MaxConns)
	assert.True(t, s.Migrate)

	assert.Equal(t, 587, c.SMTP().Port)
}
