// Package builder turns job descriptors into runnable transfer jobs.
//
// Building resolves the local content directory, opens and preflights the
// online endpoint, wires the item filter and tuning knobs and attaches the
// completion listener. Every failure is reported as a *ConstructionError.
package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/preflight"
	"github.com/3leaps/snapbridge/pkg/provider"
	"github.com/3leaps/snapbridge/pkg/provider/file"
	"github.com/3leaps/snapbridge/pkg/provider/s3"
	"github.com/3leaps/snapbridge/pkg/transfer"
)

const (
	// SnapshotsDir is the directory below the content root holding snapshots.
	SnapshotsDir = "snapshots"

	// DataDir is the directory holding item content inside a snapshot or a
	// restoration working area.
	DataDir = "data"
)

// ConstructionError reports that a transfer job could not be built.
type ConstructionError struct {
	Identity job.Identity
	Op       string
	Err      error
}

func (e *ConstructionError) Error() string {
	if e.Identity.IsZero() {
		return fmt.Sprintf("construct %s job: %s: %v", e.Identity.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("construct job %s: %s: %v", e.Identity, e.Op, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// IsConstructionError reports whether err is (or wraps) a *ConstructionError.
func IsConstructionError(err error) bool {
	var ce *ConstructionError
	return errors.As(err, &ce)
}

// StoreCredentials are the credentials of one online store.
type StoreCredentials struct {
	Region          string `mapstructure:"region"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// OnlineConfig describes how endpoints are turned into S3 clients.
type OnlineConfig struct {
	// Scheme is http or https.
	Scheme string `mapstructure:"scheme"`

	ForcePathStyle bool `mapstructure:"force_path_style"`

	// Stores maps a store id to its credentials. A store id missing from a
	// non-empty map is rejected; an empty map uses the SDK default chain.
	Stores map[string]StoreCredentials `mapstructure:"stores"`
}

// Config configures a Builder.
type Config struct {
	// ContentRoot is where snapshots are written.
	ContentRoot string

	Online OnlineConfig

	// CommitInterval and ThrottleLimit are copied onto every job.
	CommitInterval int
	ThrottleLimit  int

	// Preflight selects the probes run against online endpoints. Empty
	// means read-safe.
	Preflight preflight.Mode
}

// OnlineOpener opens a provider for an online endpoint.
type OnlineOpener func(ctx context.Context, cfg s3.Config) (provider.Provider, error)

func openS3(ctx context.Context, cfg s3.Config) (provider.Provider, error) {
	return s3.New(ctx, cfg)
}

// Builder constructs transfer jobs.
type Builder struct {
	cfg      Config
	listener transfer.CompletionListener
	open     OnlineOpener
	log      *zap.Logger
}

// Option customizes a Builder.
type Option func(*Builder)

// WithOnlineOpener replaces the S3 provider constructor.
func WithOnlineOpener(open OnlineOpener) Option {
	return func(b *Builder) { b.open = open }
}

// New returns a builder attaching listener to every job it builds.
func New(cfg Config, listener transfer.CompletionListener, log *zap.Logger, opts ...Option) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Online.Scheme == "" {
		cfg.Online.Scheme = "https"
	}
	if cfg.CommitInterval <= 0 {
		cfg.CommitInterval = transfer.DefaultCommitInterval
	}
	if cfg.ThrottleLimit <= 0 {
		cfg.ThrottleLimit = transfer.DefaultThrottleLimit
	}
	if cfg.Preflight == "" {
		cfg.Preflight = preflight.ModeReadSafe
	}
	b := &Builder{cfg: cfg, listener: listener, open: openS3, log: log.Named("builder")}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SnapshotDir returns the directory of a snapshot: manifests and content
// properties live here, items below DataDir.
func (b *Builder) SnapshotDir(name string) string {
	return filepath.Join(b.cfg.ContentRoot, SnapshotsDir, name)
}

// SnapshotContentDir returns where a snapshot's items are written.
func (b *Builder) SnapshotContentDir(name string) string {
	return filepath.Join(b.SnapshotDir(name), DataDir)
}

// RestorationWorkDir returns the working directory of the restoration with
// the given request content hash: <root>/<request key>/data.
func RestorationWorkDir(root, requestHash string) string {
	return filepath.Join(root, job.RequestKey(requestHash), DataDir)
}

// Build dispatches on the descriptor kind.
func (b *Builder) Build(ctx context.Context, d job.Descriptor) (*transfer.Job, error) {
	switch d.Kind {
	case job.KindSnapshot:
		return b.BuildSnapshot(ctx, d)
	case job.KindRestoration:
		return b.BuildRestoration(ctx, d)
	default:
		return nil, &ConstructionError{Identity: d.Identity(), Op: "dispatch", Err: fmt.Errorf("unknown job kind %q", d.Kind)}
	}
}

// BuildSnapshot builds a job copying the source space into the snapshot's
// content directory, creating it if absent.
func (b *Builder) BuildSnapshot(ctx context.Context, d job.Descriptor) (*transfer.Job, error) {
	id := d.Identity()
	fail := func(op string, err error) (*transfer.Job, error) {
		return nil, &ConstructionError{Identity: id, Op: op, Err: err}
	}

	if d.Kind != job.KindSnapshot {
		return fail("validate", fmt.Errorf("descriptor kind %q is not a snapshot", d.Kind))
	}
	if err := d.Validate(); err != nil {
		return fail("validate", err)
	}
	if strings.TrimSpace(b.cfg.ContentRoot) == "" {
		return fail("resolve content dir", errors.New("content root dir is not configured"))
	}

	filter, err := transfer.NewFilter(d.Includes, d.Excludes)
	if err != nil {
		return fail("compile filter", err)
	}

	contentDir := d.ContentDir
	if contentDir == "" {
		contentDir = b.SnapshotContentDir(d.TargetID)
	}
	target, err := file.New(file.Config{BaseDir: contentDir, Create: true})
	if err != nil {
		return fail("create content dir", err)
	}

	source, err := b.openOnline(ctx, d.Source, preflight.Source)
	if err != nil {
		_ = target.Close()
		return fail("open source", err)
	}

	j := &transfer.Job{
		Descriptor:     d,
		Source:         source,
		Target:         target,
		Filter:         filter,
		ContentDir:     contentDir,
		ManifestDir:    filepath.Dir(contentDir),
		CommitInterval: b.cfg.CommitInterval,
		ThrottleLimit:  b.cfg.ThrottleLimit,
		Listener:       b.listener,
	}
	j.Descriptor.ContentDir = contentDir
	b.log.Debug("snapshot job built", zap.String("snapshot", d.TargetID), zap.String("content_dir", contentDir))
	return j, nil
}

// BuildRestoration builds a job copying an established working directory to
// the destination space. Content properties saved next to the working
// directory are applied on upload.
func (b *Builder) BuildRestoration(ctx context.Context, d job.Descriptor) (*transfer.Job, error) {
	id := d.Identity()
	fail := func(op string, err error) (*transfer.Job, error) {
		return nil, &ConstructionError{Identity: id, Op: op, Err: err}
	}

	if d.Kind != job.KindRestoration {
		return fail("validate", fmt.Errorf("descriptor kind %q is not a restoration", d.Kind))
	}
	if err := d.Validate(); err != nil {
		return fail("validate", err)
	}
	if d.TargetID == "" {
		return fail("validate", errors.New("restoration id is required"))
	}
	if d.ContentDir == "" {
		return fail("resolve work dir", errors.New("restoration work dir is required"))
	}

	info, err := os.Stat(d.ContentDir)
	if err != nil {
		return fail("resolve work dir", err)
	}
	if !info.IsDir() {
		return fail("resolve work dir", fmt.Errorf("%s is not a directory", d.ContentDir))
	}

	source, err := file.New(file.Config{BaseDir: d.ContentDir})
	if err != nil {
		return fail("open work dir", err)
	}

	target, err := b.openOnline(ctx, d.Destination, preflight.Destination)
	if err != nil {
		_ = source.Close()
		return fail("open destination", err)
	}

	j := &transfer.Job{
		Descriptor:     d,
		Source:         source,
		Target:         target,
		ContentDir:     d.ContentDir,
		PropertiesFile: filepath.Join(filepath.Dir(d.ContentDir), transfer.ContentPropertiesFile),
		CommitInterval: b.cfg.CommitInterval,
		ThrottleLimit:  b.cfg.ThrottleLimit,
		Listener:       b.listener,
	}
	b.log.Debug("restoration job built", zap.String("restoration_id", d.TargetID), zap.String("work_dir", d.ContentDir))
	return j, nil
}

// S3Config maps an endpoint onto an S3 provider config: the space is the
// bucket and host:port the custom endpoint.
func (b *Builder) S3Config(e job.Endpoint) (s3.Config, error) {
	cfg := s3.Config{
		Bucket:         e.SpaceID,
		Endpoint:       e.URL(b.cfg.Online.Scheme),
		ForcePathStyle: b.cfg.Online.ForcePathStyle,
	}
	if len(b.cfg.Online.Stores) > 0 {
		creds, ok := b.cfg.Online.Stores[e.StoreID]
		if !ok {
			return s3.Config{}, fmt.Errorf("store %q is not configured", e.StoreID)
		}
		cfg.Region = creds.Region
		cfg.Profile = creds.Profile
		cfg.AccessKeyID = creds.AccessKeyID
		cfg.SecretAccessKey = creds.SecretAccessKey
	}
	return cfg, nil
}

type probeFunc func(ctx context.Context, p provider.Provider, mode preflight.Mode) (*preflight.Report, error)

func (b *Builder) openOnline(ctx context.Context, e job.Endpoint, probe probeFunc) (provider.Provider, error) {
	cfg, err := b.S3Config(e)
	if err != nil {
		return nil, err
	}
	p, err := b.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rep, err := probe(ctx, p, b.cfg.Preflight)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("preflight %s: %w", e, err)
	}
	for _, r := range rep.Results {
		b.log.Debug("preflight check",
			zap.String("endpoint", e.String()),
			zap.String("capability", r.Capability),
			zap.String("method", r.Method),
			zap.Bool("allowed", r.Allowed))
	}
	return p, nil
}
