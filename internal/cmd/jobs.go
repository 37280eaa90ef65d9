package cmd

import (
	"context"
	"encoding/json"
	"io"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/snapbridge/internal/observability"
)

// cliAppOptions customize the app built by one-shot commands.
var cliAppOptions []appOption

// withApp runs fn against a freshly wired app. Jobs launched by fn are
// drained before withApp returns.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, observability.CLILogger, cliAppOptions...)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open job framework", err)
	}
	ferr := fn(ctx, a)
	if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
		observability.CLILogger.Warn("Shutdown incomplete", zap.Error(cerr))
	}
	return ferr
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}
