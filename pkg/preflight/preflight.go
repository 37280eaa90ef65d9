// Package preflight probes online endpoints before a transfer job is built,
// so unreachable or unauthorized spaces fail construction instead of the run.
package preflight

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/3leaps/snapbridge/pkg/output"
	"github.com/3leaps/snapbridge/pkg/provider"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	// ModeOff skips all probes.
	ModeOff Mode = "off"

	// ModeReadSafe only lists (and, for sources, reads a random key).
	ModeReadSafe Mode = "read-safe"

	// ModeWriteProbe additionally writes and deletes a probe object on
	// destinations.
	ModeWriteProbe Mode = "write-probe"
)

// ParseMode converts a configured mode. Empty means read-safe.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return ModeReadSafe, nil
	case ModeOff:
		return ModeOff, nil
	case ModeReadSafe:
		return ModeReadSafe, nil
	case ModeWriteProbe:
		return ModeWriteProbe, nil
	default:
		return "", fmt.Errorf("unknown preflight mode %q", s)
	}
}

// DefaultProbePrefix is where write probes are placed.
const DefaultProbePrefix = ".snapbridge/probe/"

// Capability names are stable strings used in logs and errors.
const (
	CapList  = "list"
	CapRead  = "read"
	CapWrite = "write"
)

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method"`
	ErrorCode  string `json:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Report collects the probes run against one endpoint.
type Report struct {
	Mode    Mode          `json:"mode"`
	Results []CheckResult `json:"results"`
}

func (r *Report) allow(capability, method string) {
	r.Results = append(r.Results, CheckResult{Capability: capability, Allowed: true, Method: method})
}

func (r *Report) deny(capability, method string, err error) error {
	r.Results = append(r.Results, CheckResult{
		Capability: capability,
		Allowed:    false,
		Method:     method,
		ErrorCode:  normalizeErrorCode(err),
		Detail:     err.Error(),
	})
	return fmt.Errorf("%s check failed: %w", capability, err)
}

// Source checks that a snapshot source can be listed and read.
//
// Reading a random key must fail with not-found; any other error means the
// credentials cannot read objects.
func Source(ctx context.Context, p provider.Provider, mode Mode) (*Report, error) {
	rec := &Report{Mode: mode, Results: []CheckResult{}}
	if mode == ModeOff {
		return rec, nil
	}

	if err := checkList(ctx, p, rec); err != nil {
		return rec, err
	}

	getter, ok := p.(provider.ObjectGetter)
	if !ok {
		return rec, fmt.Errorf("source provider does not support GetObject")
	}
	const method = "GetObject(random)"
	body, _, err := getter.GetObject(ctx, DefaultProbePrefix+"read-"+uuid.NewString())
	if err == nil {
		_ = body.Close()
	}
	if err != nil && !provider.IsNotFound(err) {
		return rec, rec.deny(CapRead, method, err)
	}
	rec.allow(CapRead, method)
	return rec, nil
}

// Destination checks that a restoration destination can be listed and, in
// write-probe mode, written.
func Destination(ctx context.Context, p provider.Provider, mode Mode) (*Report, error) {
	rec := &Report{Mode: mode, Results: []CheckResult{}}
	if mode == ModeOff {
		return rec, nil
	}

	if err := checkList(ctx, p, rec); err != nil {
		return rec, err
	}
	if mode != ModeWriteProbe {
		return rec, nil
	}

	putter, ok := p.(provider.ObjectPutter)
	if !ok {
		return rec, fmt.Errorf("destination provider does not support PutObject")
	}
	deleter, ok := p.(provider.ObjectDeleter)
	if !ok {
		return rec, fmt.Errorf("destination provider does not support DeleteObject")
	}

	const method = "PutObject+DeleteObject"
	key := DefaultProbePrefix + "write-" + uuid.NewString()
	if err := putter.PutObject(ctx, key, strings.NewReader(""), 0, provider.PutOptions{}); err != nil {
		return rec, rec.deny(CapWrite, method, err)
	}
	if err := deleter.DeleteObject(ctx, key); err != nil {
		return rec, rec.deny(CapWrite, method, err)
	}
	rec.allow(CapWrite, method)
	return rec, nil
}

func checkList(ctx context.Context, p provider.Provider, rec *Report) error {
	const method = "List(maxKeys=1)"
	if _, err := p.List(ctx, provider.ListOptions{MaxKeys: 1}); err != nil {
		return rec.deny(CapList, method, err)
	}
	rec.allow(CapList, method)
	return nil
}

func normalizeErrorCode(err error) string {
	switch {
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err):
		return output.ErrCodeAccessDenied
	case provider.IsBucketNotFound(err), provider.IsNotFound(err):
		return output.ErrCodeNotFound
	case provider.IsThrottled(err):
		return output.ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		return output.ErrCodeUnavailable
	default:
		return output.ErrCodeInternal
	}
}
