// Package orchestrator dispatches transfer jobs to a bounded worker pool and
// answers status queries from the job-run history.
//
// Every submitted job is built through the handler registered for its kind,
// recorded as STARTING, run by the engine on a worker and recorded again with
// its terminal status before the job's completion listener fires.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/snapbridge/pkg/history"
	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/transfer"
)

var (
	// ErrUninitialized is returned by every operation of an orchestrator
	// that has no job-run history bound.
	ErrUninitialized = errors.New("job orchestrator is not initialized")

	// ErrNotFound indicates no run exists for a job identity.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyRunning rejects a submission whose identity has a run in
	// flight.
	ErrAlreadyRunning = errors.New("job is already running")

	// ErrUnknownKind indicates no handler is registered for a job kind.
	ErrUnknownKind = errors.New("no handler registered for job kind")

	// ErrShutdown rejects submissions after Shutdown.
	ErrShutdown = errors.New("job orchestrator is shut down")
)

// Defaults.
const (
	DefaultWorkers   = 10
	DefaultQueueSize = 100
	DefaultPageSize  = 100
)

// Engine runs a built job to its terminal status.
type Engine interface {
	Run(ctx context.Context, j *transfer.Job) job.Status
}

// BuildFunc turns a descriptor into a runnable job.
type BuildFunc func(ctx context.Context, d job.Descriptor) (*transfer.Job, error)

// PreconditionFunc rejects a descriptor before anything is built.
type PreconditionFunc func(ctx context.Context, d job.Descriptor) error

// KindHandler is the dispatch table entry of one job kind.
type KindHandler struct {
	Build        BuildFunc
	Precondition PreconditionFunc
}

// Config sizes the worker pool.
type Config struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`

	// PageSize is the history page size used by ListJobs.
	PageSize int `mapstructure:"page_size"`
}

// Orchestrator owns the worker pool.
type Orchestrator struct {
	cfg    Config
	hist   history.History
	engine Engine
	log    *zap.Logger

	mu       sync.Mutex
	handlers map[job.Kind]KindHandler
	active   map[job.Identity]string

	queueMu  sync.RWMutex
	queue    chan *task
	closed   bool
	stopping chan struct{}
	stopOnce sync.Once

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type task struct {
	job    *transfer.Job
	run    *history.Run
	handle *Handle
}

// New starts cfg.Workers workers. An orchestrator created without a history
// rejects every operation with ErrUninitialized.
func New(cfg Config, hist history.History, engine Engine, log *zap.Logger) (*Orchestrator, error) {
	if engine == nil {
		return nil, errors.New("transfer engine is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if log == nil {
		log = zap.NewNop()
	}

	o := &Orchestrator{
		cfg:      cfg,
		hist:     hist,
		engine:   engine,
		log:      log.Named("orchestrator"),
		handlers: make(map[job.Kind]KindHandler),
		active:   make(map[job.Identity]string),
	}
	if hist == nil {
		o.log.Warn("no job-run history bound; orchestrator is not initialized")
		return o, nil
	}

	o.baseCtx, o.cancel = context.WithCancel(context.Background())
	o.queue = make(chan *task, cfg.QueueSize)
	o.stopping = make(chan struct{})
	for i := 0; i < cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	o.log.Info("job orchestrator started", zap.Int("workers", cfg.Workers), zap.Int("queue_size", cfg.QueueSize))
	return o, nil
}

// Register binds the handler of a job kind. A later call replaces it.
func (o *Orchestrator) Register(kind job.Kind, h KindHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[kind] = h
}

func (o *Orchestrator) ready() error {
	if o == nil || o.hist == nil {
		return ErrUninitialized
	}
	return nil
}

// ExecuteAsync builds the job and queues it. It blocks only while the queue
// is full, bounded by ctx and by Shutdown.
func (o *Orchestrator) ExecuteAsync(ctx context.Context, d job.Descriptor) (*Handle, error) {
	t, err := o.prepare(ctx, d)
	if err != nil {
		return nil, err
	}

	o.queueMu.RLock()
	if o.closed {
		o.queueMu.RUnlock()
		o.discard(t, job.StatusAbandoned, ErrShutdown.Error())
		return nil, ErrShutdown
	}
	select {
	case o.queue <- t:
		o.queueMu.RUnlock()
	case <-o.stopping:
		o.queueMu.RUnlock()
		o.discard(t, job.StatusAbandoned, ErrShutdown.Error())
		return nil, ErrShutdown
	case <-ctx.Done():
		o.queueMu.RUnlock()
		o.discard(t, job.StatusAbandoned, "not queued: "+ctx.Err().Error())
		return nil, ctx.Err()
	}

	o.log.Info("job queued", zap.String("job", t.handle.id.String()), zap.String("run_id", t.handle.runID))
	return t.handle, nil
}

// ExecuteSync builds and runs the job on the calling goroutine. Shutdown
// waits for it like for a queued job.
func (o *Orchestrator) ExecuteSync(ctx context.Context, d job.Descriptor) (job.Status, error) {
	if err := o.enter(); err != nil {
		return job.StatusUnknown, err
	}
	defer o.wg.Done()

	t, err := o.prepare(ctx, d)
	if err != nil {
		return job.StatusUnknown, err
	}
	return o.execute(t), nil
}

// enter registers a synchronous run with the worker group unless Shutdown
// has begun. The group is non-zero until the queue closes, so Add never
// races Wait.
func (o *Orchestrator) enter() error {
	if err := o.ready(); err != nil {
		return err
	}
	o.queueMu.RLock()
	defer o.queueMu.RUnlock()
	if o.closed || o.isStopping() {
		return ErrShutdown
	}
	o.wg.Add(1)
	return nil
}

func (o *Orchestrator) isStopping() bool {
	select {
	case <-o.stopping:
		return true
	default:
		return false
	}
}

// prepare checks preconditions, reserves the identity, builds the job and
// records its STARTING run.
func (o *Orchestrator) prepare(ctx context.Context, d job.Descriptor) (*task, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	if o.isStopping() {
		return nil, ErrShutdown
	}

	o.mu.Lock()
	h, ok := o.handlers[d.Kind]
	o.mu.Unlock()
	if !ok || h.Build == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, d.Kind)
	}

	id := d.Identity()
	if id.IsZero() {
		return nil, fmt.Errorf("%s job has no identity", d.Kind)
	}
	if h.Precondition != nil {
		if err := h.Precondition(ctx, d); err != nil {
			return nil, err
		}
	}

	runID := uuid.NewString()
	if err := o.reserve(id, runID); err != nil {
		return nil, err
	}

	built, err := h.Build(ctx, d)
	if err != nil {
		o.release(id)
		return nil, err
	}
	built.RunID = runID

	now := time.Now().UTC()
	run := &history.Run{
		RunID:     runID,
		Kind:      id.Kind,
		Key:       id.Key,
		Status:    job.StatusStarting,
		Params:    runParams(built.Descriptor),
		CreatedAt: now,
	}
	if err := o.hist.RecordRun(ctx, run); err != nil {
		_ = built.Close()
		o.release(id)
		return nil, fmt.Errorf("record run %s: %w", runID, err)
	}

	return &task{job: built, run: run, handle: newHandle(id, runID)}, nil
}

func (o *Orchestrator) reserve(id job.Identity, runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if running, ok := o.active[id]; ok {
		return fmt.Errorf("%w: %s (run %s)", ErrAlreadyRunning, id, running)
	}
	o.active[id] = runID
	return nil
}

func (o *Orchestrator) release(id job.Identity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, id)
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for t := range o.queue {
		o.execute(t)
	}
}

// execute runs a prepared task to its terminal status. It never panics.
func (o *Orchestrator) execute(t *task) job.Status {
	log := o.log.With(zap.String("job", t.handle.id.String()), zap.String("run_id", t.handle.runID))
	recordCtx := context.WithoutCancel(o.baseCtx)

	started := time.Now().UTC()
	t.run.Status = job.StatusStarted
	t.run.StartedAt = &started
	if err := o.hist.RecordRun(recordCtx, t.run); err != nil {
		log.Error("record run start", zap.Error(err))
	}
	t.handle.set(job.StatusStarted)

	status, msg := o.runEngine(t.job, log)

	ended := time.Now().UTC()
	stats := t.job.Stats()
	t.run.Status = status
	t.run.EndedAt = &ended
	t.run.ItemsRead = stats.ItemsRead
	t.run.ItemsWritten = stats.ItemsWritten
	t.run.ItemsFailed = stats.ItemsFailed
	t.run.ExitMessage = msg
	if err := o.hist.RecordRun(recordCtx, t.run); err != nil {
		log.Error("record run end", zap.Error(err))
	}
	o.release(t.handle.id)

	o.notify(t.job, status, log)
	if err := t.job.Close(); err != nil {
		log.Warn("close job", zap.Error(err))
	}

	log.Info("job finished", zap.String("status", status.String()), zap.Duration("duration", ended.Sub(started)))
	t.handle.resolve(status)
	return status
}

func (o *Orchestrator) runEngine(j *transfer.Job, log *zap.Logger) (status job.Status, msg string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("transfer engine panicked", zap.Any("panic", r), zap.Stack("stack"))
			status, msg = job.StatusAbandoned, fmt.Sprintf("panic: %v", r)
		}
	}()
	status = o.engine.Run(o.baseCtx, j)
	if !status.IsTerminal() {
		log.Warn("engine returned a non-terminal status", zap.String("status", status.String()))
		return job.StatusAbandoned, fmt.Sprintf("engine returned %s", status)
	}
	return status, j.ExitMessage()
}

func (o *Orchestrator) notify(j *transfer.Job, status job.Status, log *zap.Logger) {
	if j.Listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("completion listener panicked", zap.Any("panic", r))
		}
	}()
	j.Listener.JobCompleted(context.WithoutCancel(o.baseCtx), j, status)
}

// discard records a prepared task that never reached a worker.
func (o *Orchestrator) discard(t *task, status job.Status, msg string) {
	ended := time.Now().UTC()
	t.run.Status = status
	t.run.EndedAt = &ended
	t.run.ExitMessage = msg
	if err := o.hist.RecordRun(context.WithoutCancel(o.baseCtx), t.run); err != nil {
		o.log.Error("record discarded run", zap.String("run_id", t.run.RunID), zap.Error(err))
	}
	o.release(t.handle.id)
	_ = t.job.Close()
	t.handle.resolve(status)
}

// LastRun returns the most recent run of a job.
func (o *Orchestrator) LastRun(ctx context.Context, id job.Identity) (*history.Run, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	run, err := o.hist.LastRun(ctx, id.Kind, id.Key)
	if errors.Is(err, history.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Status returns the status of the most recent run of a job. A job that was
// never run yields ErrNotFound; a run with an unmapped status yields UNKNOWN.
func (o *Orchestrator) Status(ctx context.Context, id job.Identity) (job.Status, error) {
	run, err := o.LastRun(ctx, id)
	if err != nil {
		return job.StatusUnknown, err
	}
	return run.Status, nil
}

// ListJobs returns one summary per distinct job of a kind, newest first,
// walking every page of the history.
func (o *Orchestrator) ListJobs(ctx context.Context, kind job.Kind) ([]job.Summary, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	out := []job.Summary{}
	for start := 0; ; start += o.cfg.PageSize {
		runs, err := o.hist.ListRuns(ctx, kind, start, o.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("list %s runs: %w", kind, err)
		}
		for i := range runs {
			if seen[runs[i].Key] {
				continue
			}
			seen[runs[i].Key] = true
			out = append(out, runs[i].Summary())
		}
		if len(runs) < o.cfg.PageSize {
			return out, nil
		}
	}
}

// Shutdown stops accepting jobs and waits for queued and running jobs. When
// ctx ends first, running jobs are cancelled and ctx's error is returned.
// Launches blocked on a full queue are abandoned with ErrShutdown.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if err := o.ready(); err != nil {
		return err
	}

	o.stopOnce.Do(func() { close(o.stopping) })
	o.queueMu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.queueMu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		o.log.Info("job orchestrator stopped")
		return nil
	case <-ctx.Done():
		o.cancel()
		o.log.Warn("job orchestrator shutdown timed out; running jobs cancelled")
		return ctx.Err()
	}
}

func runParams(d job.Descriptor) map[string]string {
	p := map[string]string{
		"kind":     string(d.Kind),
		"key":      d.TargetID,
		"endpoint": d.Endpoint().String(),
	}
	if d.SnapshotName != "" {
		p["snapshot"] = d.SnapshotName
	}
	if d.ContentDir != "" {
		p["content_dir"] = d.ContentDir
	}
	if d.RequesterEmail != "" {
		p["requester_email"] = d.RequesterEmail
	}
	return p
}
