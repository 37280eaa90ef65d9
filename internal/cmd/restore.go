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
	"github.com/3leaps/snapbridge/pkg/recordstore"
	"github.com/3leaps/snapbridge/pkg/restoration"
)

var (
	restoreJobPath string
	restoreJSON    bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Request and track snapshot restorations",
	Long: `Restorations run in two steps. "restore request" issues the request: a
working directory is created and the preservation team is notified to copy
the snapshot into it. "restore complete" is their signal that the copy is in
place; it launches the transfer from the working directory to the
destination space.`,
}

var restoreRequestCmd = &cobra.Command{
	Use:   "request --job <restore.yaml>",
	Short: "Issue a restoration request for a completed snapshot",
	Args:  cobra.NoArgs,
	RunE:  runRestoreRequest,
}

var restoreCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Signal that restored content is in the working directory",
	Long: `Signal that restored content is in the working directory, then transfer
it to the destination space and wait for the transfer to finish. Repeating
the signal for a completed restoration is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestoreComplete,
}

var restoreStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a restoration record and its latest transfer run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestoreStatus,
}

var restoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List restoration records",
	Args:  cobra.NoArgs,
	RunE:  runRestoreList,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.AddCommand(restoreRequestCmd, restoreCompleteCmd, restoreStatusCmd, restoreListCmd)

	restoreRequestCmd.Flags().StringVarP(&restoreJobPath, "job", "j", "", "Path to restore job manifest (YAML or JSON)")
	_ = restoreRequestCmd.MarkFlagRequired("job")
	for _, c := range []*cobra.Command{restoreRequestCmd, restoreCompleteCmd, restoreStatusCmd, restoreListCmd} {
		c.Flags().BoolVar(&restoreJSON, "json", false, "Write JSON to stdout")
	}
}

// restorationView is a restoration record with its latest re-sync run.
type restorationView struct {
	*recordstore.Restoration
	Transfer job.Status `json:"transfer_status,omitempty"`
}

func parseRestorationArg(arg string) (int64, error) {
	id, err := job.ParseRestorationID(arg)
	if err != nil {
		return 0, exitError(foundry.ExitInvalidArgument, "Invalid restoration id", err)
	}
	return id, nil
}

func runRestoreRequest(cmd *cobra.Command, args []string) error {
	req, err := manifest.LoadRestore(restoreJobPath)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid restore job", err)
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		rec, err := a.restorations.RestoreSnapshot(ctx, restoration.Request{
			SnapshotName:   req.Snapshot,
			Destination:    req.Destination,
			RequesterEmail: req.RequesterEmail,
		})
		if err != nil {
			return serviceError("Failed to request restoration", err)
		}
		return printRestoration(cmd, restorationView{Restoration: rec})
	})
}

func runRestoreComplete(cmd *cobra.Command, args []string) error {
	id, err := parseRestorationArg(args[0])
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		rec, err := a.restorations.RestorationCompleted(ctx, id)
		if err != nil {
			return serviceError("Failed to complete restoration", err)
		}
		observability.CLILogger.Info("Waiting for transfer to destination", zap.Int64("restoration_id", id))
		if err := a.orch.Shutdown(ctx); err != nil {
			return exitError(foundry.ExitSignalInt, "Interrupted while waiting for transfer", err)
		}

		status, err := a.orch.Status(ctx, job.RestorationIdentity(id))
		if err != nil {
			return serviceError("Failed to read transfer status", err)
		}
		if err := printRestoration(cmd, restorationView{Restoration: rec, Transfer: status}); err != nil {
			return err
		}
		return statusError(job.RestorationIdentity(id), status)
	})
}

func runRestoreStatus(cmd *cobra.Command, args []string) error {
	id, err := parseRestorationArg(args[0])
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		rec, err := a.restorations.GetRestoration(ctx, id)
		if err != nil {
			return serviceError("Failed to get restoration", err)
		}
		view := restorationView{Restoration: rec}
		if status, err := a.orch.Status(ctx, job.RestorationIdentity(id)); err == nil {
			view.Transfer = status
		}
		return printRestoration(cmd, view)
	})
}

func runRestoreList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		list, err := a.restorations.ListRestorations(ctx)
		if err != nil {
			return serviceError("Failed to list restorations", err)
		}
		if restoreJSON {
			if list == nil {
				list = []recordstore.Restoration{}
			}
			return writeJSON(cmd.OutOrStdout(), list)
		}
		if len(list) == 0 {
			observability.CLILogger.Info("No restorations")
			return nil
		}
		for _, r := range list {
			observability.CLILogger.Info(fmt.Sprintf("%6d %-32s %s", r.ID, r.SnapshotName, r.Status))
		}
		return nil
	})
}

func printRestoration(cmd *cobra.Command, v restorationView) error {
	if restoreJSON {
		return writeJSON(cmd.OutOrStdout(), v)
	}
	fields := []zap.Field{
		zap.String("snapshot", v.SnapshotName),
		zap.String("destination", v.Destination.String()),
		zap.String("work_dir", v.WorkDir),
	}
	if v.Transfer != "" {
		fields = append(fields, zap.String("transfer", v.Transfer.String()))
	}
	if v.Message != "" {
		fields = append(fields, zap.String("message", v.Message))
	}
	observability.CLILogger.Info(fmt.Sprintf("Restoration %d: %s", v.ID, v.Status), fields...)
	return nil
}
