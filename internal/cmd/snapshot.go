package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/snapbridge/internal/observability"
	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/manifest"
)

var (
	snapshotJobPath string
	snapshotJSON    bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Create and inspect snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create --job <snapshot.yaml>",
	Short: "Copy an online space to bridge storage",
	Long: `Run a snapshot described by a job manifest and wait for it to finish.

Example manifest:
  version: "1.0"
  name: collection-2026-10
  source:
    host: objects.example.org
    port: 443
    store_id: "0"
    space_id: collection
  match:
    excludes: ["**/.DS_Store"]

The command exits non-zero unless the snapshot COMPLETED.`,
	Args: cobra.NoArgs,
	RunE: runSnapshotCreate,
}

var snapshotStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show the latest run of a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotStatus,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots with their latest status",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotList,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotStatusCmd, snapshotListCmd)

	snapshotCreateCmd.Flags().StringVarP(&snapshotJobPath, "job", "j", "", "Path to snapshot job manifest (YAML or JSON)")
	_ = snapshotCreateCmd.MarkFlagRequired("job")
	for _, c := range []*cobra.Command{snapshotCreateCmd, snapshotStatusCmd, snapshotListCmd} {
		c.Flags().BoolVar(&snapshotJSON, "json", false, "Write JSON to stdout")
	}
}

// snapshotResult is the outcome of `snapshot create`.
type snapshotResult struct {
	Snapshot string     `json:"snapshot"`
	RunID    string     `json:"run_id"`
	Status   job.Status `json:"status"`
}

func runSnapshotCreate(cmd *cobra.Command, args []string) error {
	req, err := manifest.LoadSnapshot(snapshotJobPath)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid snapshot job", err)
	}
	d := req.Descriptor()

	return withApp(cmd, func(ctx context.Context, a *app) error {
		h, err := a.snapshots.Create(ctx, d)
		if err != nil {
			return serviceError("Failed to launch snapshot", err)
		}
		observability.CLILogger.Info("Snapshot launched",
			zap.String("snapshot", d.TargetID),
			zap.String("run_id", h.RunID()))

		status, err := h.Wait(ctx)
		if err != nil {
			return exitError(foundry.ExitSignalInt, "Interrupted while waiting for snapshot", err)
		}

		res := snapshotResult{Snapshot: d.TargetID, RunID: h.RunID(), Status: status}
		if snapshotJSON {
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		} else {
			observability.CLILogger.Info(fmt.Sprintf("Snapshot %s finished: %s", d.TargetID, status),
				zap.String("content_dir", a.builder.SnapshotContentDir(d.TargetID)))
		}
		return statusError(h.Identity(), status)
	})
}

func runSnapshotStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		st, err := a.snapshots.Get(ctx, args[0])
		if err != nil {
			return serviceError("Failed to get snapshot status", err)
		}
		if snapshotJSON {
			return writeJSON(cmd.OutOrStdout(), st)
		}
		fields := []zap.Field{zap.String("run_id", st.Run.RunID)}
		if st.Snapshot != nil {
			fields = append(fields, zap.String("content_dir", st.Snapshot.ContentDir))
		}
		if st.Run.ExitMessage != "" {
			fields = append(fields, zap.String("message", st.Run.ExitMessage))
		}
		observability.CLILogger.Info(fmt.Sprintf("%s: %s (read=%d written=%d failed=%d)",
			st.Name, st.Status, st.Run.ItemsRead, st.Run.ItemsWritten, st.Run.ItemsFailed), fields...)
		return nil
	})
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		list, err := a.snapshots.List(ctx)
		if err != nil {
			return serviceError("Failed to list snapshots", err)
		}
		if snapshotJSON {
			if list == nil {
				list = []job.Summary{}
			}
			return writeJSON(cmd.OutOrStdout(), list)
		}
		if len(list) == 0 {
			observability.CLILogger.Info("No snapshots")
			return nil
		}
		for _, s := range list {
			observability.CLILogger.Info(fmt.Sprintf("%-40s %s", s.Key, s.Status), zap.String("run_id", s.LastRunID))
		}
		return nil
	})
}
