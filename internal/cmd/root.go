// Package cmd implements the snapbridge command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/3leaps/snapbridge/internal/config"
	"github.com/3leaps/snapbridge/internal/observability"
)

// BinaryName is the executable name.
const BinaryName = "snapbridge"

type buildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = buildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersionInfo records build metadata injected through ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   BinaryName,
	Short: "Snapshot and restore object-store spaces through bridge storage",
	Long: `snapbridge copies spaces of an S3-compatible object store to bridge storage
(snapshots) and copies restored snapshots back to the object store (restorations).

Jobs run on a bounded worker pool; every run is recorded in the job-run history
and restoration requests are persisted as versioned records.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger(BinaryName, verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/snapbridge/snapbridge.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig loads configuration honoring --config and any flag overrides.
func loadConfig(ctx context.Context, overrides ...map[string]any) (*config.Config, error) {
	cfg, err := config.LoadFile(ctx, cfgFile, overrides...)
	if err != nil {
		return nil, exitError(exitConfig, "Invalid configuration", err)
	}
	return cfg, nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return exitFailure
}
