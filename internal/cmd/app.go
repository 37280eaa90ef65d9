package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/snapbridge/internal/config"
	"github.com/3leaps/snapbridge/pkg/builder"
	"github.com/3leaps/snapbridge/pkg/history"
	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/listener"
	"github.com/3leaps/snapbridge/pkg/notify"
	"github.com/3leaps/snapbridge/pkg/orchestrator"
	"github.com/3leaps/snapbridge/pkg/recordstore"
	"github.com/3leaps/snapbridge/pkg/restoration"
	"github.com/3leaps/snapbridge/pkg/snapshot"
	"github.com/3leaps/snapbridge/pkg/transfer"
)

// app holds the wired components shared by the serve and job commands.
type app struct {
	cfg *config.Config
	log *zap.Logger

	hist         history.History
	store        recordstore.Store
	notifier     notify.Notifier
	builder      *builder.Builder
	orch         *orchestrator.Orchestrator
	restorations *restoration.Manager
	snapshots    *snapshot.Service
}

type appOption func(*appOptions)

type appOptions struct {
	builderOpts []builder.Option
	notifier    notify.Notifier
}

// withBuilderOptions passes options to the transfer job builder.
func withBuilderOptions(opts ...builder.Option) appOption {
	return func(o *appOptions) { o.builderOpts = append(o.builderOpts, opts...) }
}

// withNotifier replaces the configured notifier.
func withNotifier(n notify.Notifier) appOption {
	return func(o *appOptions) { o.notifier = n }
}

// newApp opens the stores and wires the job framework. Close releases
// everything newApp opened.
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...appOption) (_ *app, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.closeStores()
		}
	}()

	a.hist, err = history.Open(ctx, cfg.HistoryOptions())
	if err != nil {
		return nil, fmt.Errorf("open job history: %w", err)
	}
	a.store, err = recordstore.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	a.notifier = o.notifier
	if a.notifier == nil {
		a.notifier, err = newNotifier(cfg, log)
		if err != nil {
			return nil, err
		}
	}

	completion := listener.New(listener.Config{
		OperatorAddresses:     cfg.Notify.OperatorAddresses,
		PreservationAddresses: cfg.Notify.PreservationAddresses,
	}, a.store, a.notifier, log)

	a.builder = builder.New(builder.Config{
		ContentRoot:    cfg.Content.RootDir,
		Online:         cfg.Online,
		CommitInterval: cfg.Transfer.CommitInterval,
		ThrottleLimit:  cfg.Transfer.ThrottleLimit,
		Preflight:      cfg.PreflightMode(),
	}, completion, log, o.builderOpts...)

	engine := transfer.NewEngine(transfer.Config{
		MaxRetries:                cfg.Transfer.MaxRetries,
		RetryBackoff:              cfg.Transfer.RetryBackoff,
		ItemsPerSecond:            cfg.Transfer.ItemsPerSecond,
		RetryBufferMaxMemoryBytes: cfg.Transfer.RetryBufferMaxMemoryBytes,
		WorkDir:                   cfg.Content.WorkDir,
		ThrottleLimit:             cfg.Transfer.ThrottleLimit,
		CommitInterval:            cfg.Transfer.CommitInterval,
	}, log)

	a.orch, err = orchestrator.New(orchestrator.Config{
		Workers:   cfg.Orchestrator.Workers,
		QueueSize: cfg.Orchestrator.QueueSize,
		PageSize:  cfg.History.PageSize,
	}, a.hist, engine, log)
	if err != nil {
		return nil, err
	}
	a.orch.Register(job.KindSnapshot, orchestrator.KindHandler{Build: a.builder.BuildSnapshot})
	a.orch.Register(job.KindRestoration, orchestrator.KindHandler{
		Build:        a.builder.BuildRestoration,
		Precondition: restoration.ResyncPrecondition(a.store),
	})

	a.restorations, err = restoration.NewManager(restoration.Config{
		RootDir:               cfg.Restoration.RootDir,
		OperatorAddresses:     cfg.Notify.OperatorAddresses,
		PreservationAddresses: cfg.Notify.PreservationAddresses,
	}, a.orch, a.store, a.notifier, log)
	if err != nil {
		_ = a.orch.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	}
	a.snapshots = snapshot.NewService(a.orch, a.store, a.builder, log)
	return a, nil
}

func newNotifier(cfg *config.Config, log *zap.Logger) (notify.Notifier, error) {
	switch cfg.Notify.Backend {
	case "", config.NotifyBackendLog:
		return notify.NewLogNotifier(log), nil
	case config.NotifyBackendSMTP:
		n, err := notify.NewSMTPNotifier(cfg.SMTP())
		if err != nil {
			return nil, fmt.Errorf("configure smtp notifier: %w", err)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.Notify.Backend)
	}
}

// Close drains the worker pool, waiting for running jobs until ctx ends,
// and closes the stores.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.orch != nil {
		if err := a.orch.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shut down orchestrator: %w", err))
		}
	}
	errs = append(errs, a.closeStores())
	return errors.Join(errs...)
}

func (a *app) closeStores() error {
	var errs []error
	if a.hist != nil {
		if err := a.hist.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close job history: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close record store: %w", err))
		}
	}
	return errors.Join(errs...)
}
