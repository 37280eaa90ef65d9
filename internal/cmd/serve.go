package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/snapbridge/internal/observability"
	"github.com/3leaps/snapbridge/internal/server"
	"github.com/3leaps/snapbridge/internal/server/handlers"
	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/recordstore"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and job workers",
	Long: `Run the HTTP API server together with the job worker pool.

Endpoints:
  GET  /health, /health/live, /version
  GET  /snapshots                      list snapshots
  GET  /snapshots/{name}               snapshot status
  PUT  /snapshots/{name}               launch a snapshot
  GET  /restorations                   list restoration records
  PUT  /restorations                   issue a restoration request
  GET  /restorations/{id}              restoration record
  POST /restorations/{id}/complete     signal that bridge content is in place

On SIGINT/SIGTERM the server stops accepting requests and running jobs are
given server.shutdown_timeout to finish.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
}

func serveOverrides() map[string]any {
	o := map[string]any{}
	if serveHost != "" {
		o["server.host"] = serveHost
	}
	if servePort != 0 {
		o["server.port"] = servePort
	}
	return o
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, serveOverrides())
	if err != nil {
		return err
	}
	log, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return exitError(exitConfig, "Invalid logging configuration", err)
	}
	defer func() { _ = log.Sync() }()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start job framework", err)
	}

	health := handlers.NewHealthManager(versionInfo.Version)
	health.RegisterChecker("history", historyChecker{a})
	health.RegisterChecker("store", storeChecker{a})

	srv := server.New(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, server.Dependencies{
		API:    handlers.NewAPI(a.snapshots, a.restorations, log),
		Health: health,
		Version: handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		},
	}, log)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		log.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("http shutdown", zap.Error(serr))
	}
	if cerr := a.Close(shutdownCtx); cerr != nil {
		log.Warn("job framework shutdown", zap.Error(cerr))
	}

	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
	}
	return nil
}

// historyChecker reads one page of the job-run history.
type historyChecker struct{ a *app }

func (c historyChecker) CheckHealth(ctx context.Context) error {
	_, err := c.a.hist.ListRuns(ctx, job.KindSnapshot, 0, 1)
	return err
}

// storeChecker pings the record store when it supports pinging, and reads a
// catalog entry otherwise.
type storeChecker struct{ a *app }

func (c storeChecker) CheckHealth(ctx context.Context) error {
	if p, ok := c.a.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	_, err := c.a.store.GetSnapshot(ctx, healthProbeName)
	if err != nil && !errors.Is(err, recordstore.ErrNotFound) {
		return fmt.Errorf("record store: %w", err)
	}
	return nil
}

const healthProbeName = "_health"
