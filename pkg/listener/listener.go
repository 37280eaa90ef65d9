// Package listener sends the notifications of finished transfer jobs.
package listener

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/snapbridge/pkg/job"
	"github.com/3leaps/snapbridge/pkg/notify"
	"github.com/3leaps/snapbridge/pkg/recordstore"
	"github.com/3leaps/snapbridge/pkg/transfer"
)

// DefaultNotifyTimeout bounds one notification when Config leaves it unset.
const DefaultNotifyTimeout = time.Minute

// Config holds the recipient lists.
type Config struct {
	OperatorAddresses     []string
	PreservationAddresses []string
	NotifyTimeout         time.Duration
}

type template func(ctx context.Context, j *transfer.Job, status job.Status) notify.Message

// Listener is a transfer.CompletionListener. It never panics and never
// returns errors to the job framework.
type Listener struct {
	cfg      Config
	store    recordstore.Store
	notifier notify.Notifier
	log      *zap.Logger

	templates map[job.Kind]template
}

var _ transfer.CompletionListener = (*Listener)(nil)

// New returns a listener resolving records through store.
func New(cfg Config, store recordstore.Store, notifier notify.Notifier, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	l := &Listener{cfg: cfg, store: store, notifier: notifier, log: log.Named("listener")}
	l.templates = map[job.Kind]template{
		job.KindSnapshot:    l.snapshotMessage,
		job.KindRestoration: l.restorationMessage,
	}
	return l
}

// JobCompleted notifies the audience of the job's kind.
func (l *Listener) JobCompleted(ctx context.Context, j *transfer.Job, status job.Status) {
	id := j.Identity()
	log := l.log.With(zap.String("job", id.String()), zap.String("run_id", j.RunID), zap.String("status", status.String()))
	defer func() {
		if r := recover(); r != nil {
			log.Error("completion listener panicked", zap.Any("panic", r))
		}
	}()

	tmpl, ok := l.templates[id.Kind]
	if !ok {
		log.Warn("no notification template for job kind")
		return
	}
	msg := tmpl(ctx, j, status)
	nctx, cancel := context.WithTimeout(ctx, l.cfg.NotifyTimeout)
	defer cancel()
	if err := l.notifier.Notify(nctx, msg); err != nil {
		log.Error("send completion notification", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	log.Info("completion notification sent", zap.String("subject", msg.Subject))
}

func (l *Listener) snapshotMessage(ctx context.Context, j *transfer.Job, status job.Status) notify.Message {
	name := j.Descriptor.TargetID
	path := l.snapshotPath(ctx, j)

	if status == job.StatusCompleted {
		var b strings.Builder
		b.WriteString("A content snapshot has been transferred to bridge storage and is ready to move into preservation storage.\n\n")
		fmt.Fprintf(&b, "snapshot-id=%s\n", name)
		fmt.Fprintf(&b, "snapshot-path=%s\n", path)
		return notify.Message{
			Subject:    "Content snapshot ready for preservation",
			Body:       b.String(),
			Recipients: notify.Recipients(l.cfg.OperatorAddresses, l.cfg.PreservationAddresses),
		}
	}

	var b strings.Builder
	b.WriteString("A content snapshot failed to complete.\n\n")
	fmt.Fprintf(&b, "snapshot-id=%s\n", name)
	fmt.Fprintf(&b, "snapshot-path=%s\n", path)
	fmt.Fprintf(&b, "status=%s\n", status)
	if msg := j.ExitMessage(); msg != "" {
		fmt.Fprintf(&b, "message=%s\n", msg)
	}
	return notify.Message{
		Subject:    "Content snapshot failed to complete",
		Body:       b.String(),
		Recipients: notify.Recipients(l.cfg.OperatorAddresses),
	}
}

// snapshotPath is the snapshot directory holding the manifests.
func (l *Listener) snapshotPath(ctx context.Context, j *transfer.Job) string {
	if j.ManifestDir != "" {
		return j.ManifestDir
	}
	if l.store != nil {
		if snap, err := l.store.GetSnapshot(ctx, j.Descriptor.TargetID); err == nil && snap.ContentDir != "" {
			return filepath.Dir(snap.ContentDir)
		}
	}
	if j.ContentDir != "" {
		return filepath.Dir(j.ContentDir)
	}
	return ""
}

func (l *Listener) restorationMessage(ctx context.Context, j *transfer.Job, status job.Status) notify.Message {
	d := j.Descriptor
	rec := l.resolveRestoration(ctx, d, status)

	requester := d.RequesterEmail
	workDir := j.ContentDir
	if rec != nil {
		if rec.RequesterEmail != "" {
			requester = rec.RequesterEmail
		}
		if rec.WorkDir != "" {
			workDir = rec.WorkDir
		}
	}

	if status == job.StatusCompleted {
		var b strings.Builder
		fmt.Fprintf(&b, "Snapshot %s has been restored to its destination.\n\n", d.SnapshotName)
		fmt.Fprintf(&b, "restoration-id=%s\n", d.TargetID)
		fmt.Fprintf(&b, "snapshot-id=%s\n", d.SnapshotName)
		fmt.Fprintf(&b, "destination=%s\n", d.Destination)
		return notify.Message{
			Subject:    "Snapshot has been restored! Restoration ID = " + d.TargetID,
			Body:       b.String(),
			Recipients: notify.Recipients(l.cfg.OperatorAddresses, []string{requester}),
		}
	}

	var b strings.Builder
	b.WriteString("A snapshot restoration failed to complete.\n\n")
	fmt.Fprintf(&b, "restoration-id=%s\n", d.TargetID)
	fmt.Fprintf(&b, "snapshot-id=%s\n", d.SnapshotName)
	fmt.Fprintf(&b, "restoration-path=%s\n", workDir)
	fmt.Fprintf(&b, "destination=%s\n", d.Destination)
	fmt.Fprintf(&b, "status=%s\n", status)
	if msg := j.ExitMessage(); msg != "" {
		fmt.Fprintf(&b, "message=%s\n", msg)
	}
	return notify.Message{
		Subject:    "Snapshot restoration failed to complete",
		Body:       b.String(),
		Recipients: notify.Recipients(l.cfg.OperatorAddresses),
	}
}

// resolveRestoration loads the restoration record and stamps the re-sync
// outcome into its message. Failures are logged; the notification is sent
// from the descriptor alone.
func (l *Listener) resolveRestoration(ctx context.Context, d job.Descriptor, status job.Status) *recordstore.Restoration {
	if l.store == nil {
		return nil
	}
	id, err := job.ParseRestorationID(d.TargetID)
	if err != nil {
		l.log.Warn("restoration job without a valid id", zap.String("key", d.TargetID))
		return nil
	}
	rec, err := l.store.GetRestoration(ctx, id)
	if err != nil {
		if !errors.Is(err, recordstore.ErrNotFound) {
			l.log.Error("load restoration", zap.Int64("restoration_id", id), zap.Error(err))
		}
		return nil
	}

	updated := *rec
	if status == job.StatusCompleted {
		updated.Message = "Transfer to destination completed"
	} else {
		updated.Message = "Transfer to destination ended " + status.String()
	}
	if err := l.store.UpdateRestoration(ctx, &updated, rec.Version); err != nil {
		l.log.Warn("record restoration outcome", zap.Int64("restoration_id", id), zap.Error(err))
		return rec
	}
	return &updated
}
