package job

import (
	"errors"
	"fmt"
	"strings"
)

// Descriptor is the immutable description of a transfer request.
//
// For snapshots TargetID is the snapshot name and Source is the online space
// being copied. For restorations TargetID is the numeric restoration id (empty
// until the record exists), SnapshotName names the source snapshot and
// Destination is the online space receiving the content.
type Descriptor struct {
	Kind           Kind     `json:"kind"`
	TargetID       string   `json:"target_id,omitempty"`
	SnapshotName   string   `json:"snapshot_name,omitempty"`
	Source         Endpoint `json:"source,omitempty"`
	Destination    Endpoint `json:"destination,omitempty"`
	ContentDir     string   `json:"content_dir,omitempty"`
	Includes       []string `json:"includes,omitempty"`
	Excludes       []string `json:"excludes,omitempty"`
	RequesterEmail string   `json:"requester_email,omitempty"`
}

// NewSnapshotDescriptor describes a snapshot of the source space under name.
func NewSnapshotDescriptor(name string, source Endpoint, includes, excludes []string) Descriptor {
	return Descriptor{
		Kind:         KindSnapshot,
		TargetID:     strings.TrimSpace(name),
		SnapshotName: strings.TrimSpace(name),
		Source:       source,
		Includes:     cloneStrings(includes),
		Excludes:     cloneStrings(excludes),
	}
}

// NewRestorationRequestDescriptor describes a restoration before a record
// (and so a numeric id) exists.
func NewRestorationRequestDescriptor(snapshotName string, destination Endpoint, requesterEmail string) Descriptor {
	return Descriptor{
		Kind:           KindRestoration,
		SnapshotName:   strings.TrimSpace(snapshotName),
		Destination:    destination,
		RequesterEmail: strings.TrimSpace(requesterEmail),
	}
}

// NewRestorationDescriptor describes the re-sync job of an issued restoration.
func NewRestorationDescriptor(id int64, snapshotName string, destination Endpoint, workDir string) Descriptor {
	return Descriptor{
		Kind:         KindRestoration,
		TargetID:     RestorationIdentity(id).Key,
		SnapshotName: snapshotName,
		Destination:  destination,
		ContentDir:   workDir,
	}
}

// Validate checks the descriptor for the fields its kind requires.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindSnapshot:
		if d.TargetID == "" {
			return errors.New("snapshot name is required")
		}
		if strings.ContainsAny(d.TargetID, `/\`) || d.TargetID == "." || d.TargetID == ".." {
			return fmt.Errorf("snapshot name %q is not a valid path segment", d.TargetID)
		}
		if err := d.Source.Validate(); err != nil {
			return fmt.Errorf("source: %w", err)
		}
	case KindRestoration:
		if d.SnapshotName == "" {
			return errors.New("source snapshot name is required")
		}
		if err := d.Destination.Validate(); err != nil {
			return fmt.Errorf("destination: %w", err)
		}
		if d.TargetID != "" {
			if _, err := ParseRestorationID(d.TargetID); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown job kind %q", d.Kind)
	}
	return nil
}

// Identity returns the job identity addressed by the descriptor.
//
// Restoration descriptors without a TargetID have no identity yet and are
// addressed by ContentHash instead.
func (d Descriptor) Identity() Identity {
	return Identity{Kind: d.Kind, Key: d.TargetID}
}

// Endpoint returns the online endpoint the job talks to.
func (d Descriptor) Endpoint() Endpoint {
	if d.Kind == KindSnapshot {
		return d.Source
	}
	return d.Destination
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
