package transfer

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/output"
	"github.com/3leaps/snapbridge/pkg/provider"
)

const (
	// DefaultThrottleLimit is the default cap on in-flight items.
	DefaultThrottleLimit = 20

	// DefaultCommitInterval is the default number of items per checkpoint.
	DefaultCommitInterval = 1

	// DefaultMaxRetries is how many times a transiently failing item is retried.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the base of the linear retry backoff.
	DefaultRetryBackoff = 500 * time.Millisecond

	// ItemLogFile is the name of the per-run item event log.
	ItemLogFile = "items.jsonl"
)

// Config holds engine-wide tuning.
type Config struct {
	// MaxRetries is the number of retries for retryable item failures.
	MaxRetries int

	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration

	// ItemsPerSecond limits how fast items are started per run. Zero is unlimited.
	ItemsPerSecond float64

	// RetryBufferMaxMemoryBytes controls how large an item we buffer in memory
	// to make the upload body seekable. Larger items are spooled to a temp file.
	RetryBufferMaxMemoryBytes int64

	// WorkDir is the root of the per-run item event logs. Empty disables them.
	WorkDir string

	// ThrottleLimit and CommitInterval apply when a job leaves its own unset.
	ThrottleLimit  int
	CommitInterval int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:                DefaultMaxRetries,
		RetryBackoff:              DefaultRetryBackoff,
		RetryBufferMaxMemoryBytes: DefaultRetryBufferMaxMemoryBytes,
		ThrottleLimit:             DefaultThrottleLimit,
		CommitInterval:            DefaultCommitInterval,
	}
}

// Engine runs transfer jobs to a terminal status.
type Engine struct {
	cfg Config
	log *zap.Logger
}

// NewEngine creates an engine. Zero config values take defaults.
func NewEngine(cfg Config, log *zap.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.RetryBufferMaxMemoryBytes <= 0 {
		cfg.RetryBufferMaxMemoryBytes = def.RetryBufferMaxMemoryBytes
	}
	if cfg.ThrottleLimit <= 0 {
		cfg.ThrottleLimit = def.ThrottleLimit
	}
	if cfg.CommitInterval <= 0 {
		cfg.CommitInterval = def.CommitInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, log: log.Named("transfer")}
}

// runState is the per-run shared state of the item workers.
type runState struct {
	job     *Job
	getter  provider.ObjectGetter
	putter  provider.ObjectPutter
	events  output.Writer
	digests *digestLog
	props   map[string]ContentProperties
	limiter *rate.Limiter
	log     *zap.Logger

	panicked atomic.Pointer[string]
}

type copyResult struct {
	size      int64
	md5Hex    string
	sha256Hex string
	props     ContentProperties
}

var errItemPanic = errors.New("item worker panicked")

// Run executes the job and returns its terminal status.
//
// Item failures end the run FAILED, cancellation of ctx ends it STOPPED and a
// panic ends it ABANDONED. Run never panics.
func (e *Engine) Run(ctx context.Context, j *Job) (status job.Status) {
	start := time.Now()
	log := e.log.With(zap.String("job", j.Identity().String()), zap.String("run_id", j.RunID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("transfer panicked", zap.Any("panic", r), zap.Stack("stack"))
			j.exitMessage = fmt.Sprintf("panic: %v", r)
			status = job.StatusAbandoned
		}
	}()

	rs := &runState{job: j, log: log}
	var ok bool
	if rs.getter, ok = j.Source.(provider.ObjectGetter); !ok {
		j.exitMessage = fmt.Sprintf("source: %v: GetObject", ErrUnsupportedProvider)
		return job.StatusFailed
	}
	if rs.putter, ok = j.Target.(provider.ObjectPutter); !ok {
		j.exitMessage = fmt.Sprintf("target: %v: PutObject", ErrUnsupportedProvider)
		return job.StatusFailed
	}

	events, closeEvents, err := e.openEventLog(j)
	if err != nil {
		log.Error("open item event log", zap.Error(err))
		j.exitMessage = err.Error()
		return job.StatusFailed
	}
	defer closeEvents()
	rs.events = events

	if rs.props, err = LoadContentProperties(j.PropertiesFile); err != nil {
		log.Error("load content properties", zap.Error(err))
		j.exitMessage = err.Error()
		return job.StatusFailed
	}

	if j.ManifestDir != "" {
		interval := j.CommitInterval
		if interval <= 0 {
			interval = e.cfg.CommitInterval
		}
		if rs.digests, err = openDigestLog(j.ManifestDir, interval); err != nil {
			log.Error("open manifests", zap.Error(err))
			j.exitMessage = err.Error()
			return job.StatusFailed
		}
	}

	if e.cfg.ItemsPerSecond > 0 {
		rs.limiter = rate.NewLimiter(rate.Limit(e.cfg.ItemsPerSecond), 1)
	}

	log.Info("transfer started", zap.String("content_dir", j.ContentDir))
	runErr := e.runItems(ctx, rs)
	if rs.digests != nil {
		if err := rs.digests.close(); err != nil && runErr == nil {
			runErr = fmt.Errorf("finalize manifests: %w", err)
		}
	}

	status, j.exitMessage = outcome(ctx, rs, runErr)

	stats := j.Stats()
	elapsed := time.Since(start)
	// The summary is written even when ctx is cancelled.
	_ = events.WriteSummary(context.WithoutCancel(ctx), &output.SummaryRecord{
		Status:        status.String(),
		ItemsRead:     stats.ItemsRead,
		ItemsWritten:  stats.ItemsWritten,
		ItemsSkipped:  stats.ItemsSkipped,
		ItemsFailed:   stats.ItemsFailed,
		BytesTotal:    stats.Bytes,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	})

	log.Info("transfer finished",
		zap.String("status", status.String()),
		zap.Int64("items_read", stats.ItemsRead),
		zap.Int64("items_written", stats.ItemsWritten),
		zap.Int64("items_skipped", stats.ItemsSkipped),
		zap.Int64("items_failed", stats.ItemsFailed),
		zap.Int64("bytes", stats.Bytes),
		zap.Duration("duration", elapsed),
	)
	return status
}

func outcome(ctx context.Context, rs *runState, runErr error) (job.Status, string) {
	if msg := rs.panicked.Load(); msg != nil {
		return job.StatusAbandoned, *msg
	}
	if err := ctx.Err(); err != nil {
		return job.StatusStopped, "stopped: " + err.Error()
	}
	if runErr != nil {
		return job.StatusFailed, runErr.Error()
	}
	if failed := rs.job.itemsFailed.Load(); failed > 0 {
		return job.StatusFailed, fmt.Sprintf("%d item(s) failed", failed)
	}
	return job.StatusCompleted, ""
}

// runItems lists the source and copies every admitted item with at most
// ThrottleLimit items in flight.
func (e *Engine) runItems(ctx context.Context, rs *runState) error {
	j := rs.job
	limit := j.ThrottleLimit
	if limit <= 0 {
		limit = e.cfg.ThrottleLimit
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	listErr := func() error {
		var token string
		for {
			res, err := j.Source.List(gctx, provider.ListOptions{ContinuationToken: token})
			if err != nil {
				return fmt.Errorf("list source: %w", err)
			}
			for _, obj := range res.Objects {
				j.itemsRead.Add(1)
				if ok, reason := j.Filter.Allow(obj.Key); !ok {
					j.itemsSkipped.Add(1)
					_ = rs.events.WriteSkip(gctx, &output.SkipRecord{Key: obj.Key, Reason: reason})
					continue
				}
				if rs.limiter != nil {
					if err := rs.limiter.Wait(gctx); err != nil {
						return err
					}
				}
				g.Go(func() error { return e.processItem(gctx, rs, obj) })
			}
			if !res.IsTruncated || res.ContinuationToken == "" {
				return nil
			}
			token = res.ContinuationToken
		}
	}()

	waitErr := g.Wait()
	if errors.Is(waitErr, errItemPanic) {
		return waitErr
	}
	if listErr != nil {
		return listErr
	}
	return waitErr
}

func (e *Engine) processItem(ctx context.Context, rs *runState, obj provider.ObjectSummary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic copying %s: %v", obj.Key, r)
			rs.panicked.CompareAndSwap(nil, &msg)
			rs.log.Error("item worker panicked", zap.String("key", obj.Key), zap.Any("panic", r), zap.Stack("stack"))
			err = errItemPanic
		}
	}()

	var res *copyResult
	attempts := 0
	for {
		attempts++
		res, err = e.copyItem(ctx, rs, obj)
		if err == nil || !retryable(err) || attempts > e.cfg.MaxRetries || ctx.Err() != nil {
			break
		}
		backoff := time.Duration(attempts) * e.cfg.RetryBackoff
		rs.log.Debug("retrying item", zap.String("key", obj.Key), zap.Int("attempt", attempts), zap.Duration("backoff", backoff), zap.Error(err))
		if werr := sleepCtx(ctx, backoff); werr != nil {
			err = werr
			break
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			// Cancelled runs end STOPPED; the item is not a failure.
			return nil
		}
		rs.job.itemsFailed.Add(1)
		rs.log.Warn("item failed", zap.String("key", obj.Key), zap.Int("attempts", attempts), zap.Error(err))
		_ = rs.events.WriteError(ctx, &output.ErrorRecord{
			Code:     classifyErrCode(err),
			Message:  err.Error(),
			Key:      obj.Key,
			Attempts: attempts,
		})
		return nil
	}

	rs.job.itemsWritten.Add(1)
	rs.job.bytes.Add(res.size)
	if rs.digests != nil {
		if err := rs.digests.add(obj.Key, res.md5Hex, res.sha256Hex, res.props); err != nil {
			return fmt.Errorf("write manifests: %w", err)
		}
	}
	_ = rs.events.WriteItem(ctx, &output.ItemRecord{
		Key:      obj.Key,
		Size:     res.size,
		MD5:      res.md5Hex,
		SHA256:   res.sha256Hex,
		Attempts: attempts,
	})
	return nil
}

type teeReadCloser struct {
	io.Reader
	io.Closer
}

// copyItem streams one item from source to target, hashing it on the way.
func (e *Engine) copyItem(ctx context.Context, rs *runState, obj provider.ObjectSummary) (*copyResult, error) {
	body, size, err := rs.getter.GetObject(ctx, obj.Key)
	if err != nil {
		return nil, err
	}
	if obj.Size > 0 && size >= 0 && obj.Size != size {
		_ = body.Close()
		return nil, &SizeMismatchError{Key: obj.Key, Expected: obj.Size, Got: size}
	}

	md5h := md5.New()
	shah := sha256.New()
	src := teeReadCloser{Reader: io.TeeReader(body, io.MultiWriter(md5h, shah)), Closer: body}

	rb, err := newRetryableBody(ctx, src, size, e.cfg.RetryBufferMaxMemoryBytes)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rb.Close() }()

	var opts provider.PutOptions
	if p, ok := rs.props[obj.Key]; ok {
		opts.ContentType = p.ContentType
		opts.Metadata = p.Metadata
	}
	if err := rs.putter.PutObject(ctx, obj.Key, rb.Reader(), size, opts); err != nil {
		return nil, err
	}

	res := &copyResult{
		size:      size,
		md5Hex:    hex.EncodeToString(md5h.Sum(nil)),
		sha256Hex: hex.EncodeToString(shah.Sum(nil)),
	}
	if rs.digests != nil {
		res.props = ContentProperties{Size: size, ETag: obj.ETag, LastModified: obj.LastModified}
		if meta, err := rs.job.Source.Head(ctx, obj.Key); err == nil {
			res.props.ContentType = meta.ContentType
			res.props.Metadata = meta.Metadata
		} else {
			rs.log.Debug("head for content properties", zap.String("key", obj.Key), zap.Error(err))
		}
	}
	return res, nil
}

// ItemLogPath returns where the item event log of a run is written.
func ItemLogPath(workDir string, id job.Identity, runID string) string {
	return filepath.Join(workDir, string(id.Kind), id.Key, runID, ItemLogFile)
}

func (e *Engine) openEventLog(j *Job) (output.Writer, func(), error) {
	if e.cfg.WorkDir == "" || j.RunID == "" {
		w := output.NewJSONLWriter(io.Discard, j.RunID, j.Identity().String())
		return w, func() { _ = w.Close() }, nil
	}

	path := ItemLogPath(e.cfg.WorkDir, j.Identity(), j.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create run dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create item event log: %w", err)
	}
	w := output.NewJSONLWriter(f, j.RunID, j.Identity().String())
	return w, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
