package cmd

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args and returns what it wrote to
// stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	snapshotJSON, restoreJSON = false, false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		cfgFile = ""
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2026-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()
	SetVersionInfo("1.2.3", "abc123", "2026-10-01")

	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "snapbridge 1.2.3 (commit abc123, built 2026-10-01, "+runtime.GOOS+"/"+runtime.GOARCH+")\n", out)
}

func TestLoadConfig_InvalidFileIsConfigError(t *testing.T) {
	isolate(t)
	cfgFile = t.TempDir() + "/missing.yaml"
	defer func() { cfgFile = "" }()

	_, err := loadConfig(context.Background())
	require.Error(t, err)

	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitConfig, ee.Code)
}

func TestUnknownCommandFails(t *testing.T) {
	_, err := runCLI(t, "no-such-command")
	require.Error(t, err)
}
