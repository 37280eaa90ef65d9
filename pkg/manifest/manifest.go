// Package manifest loads and validates snapbridge request manifests.
//
// A request manifest is a YAML or JSON file describing one snapshot or one
// restoration request. Manifests are validated against an embedded JSON
// Schema before parsing, so unknown properties are rejected.
//
// Example snapshot request (YAML):
//
//	version: "1.0"
//	name: alpha
//	source:
//	  host: objects.example.org
//	  port: 443
//	  store_id: primary
//	  space_id: collections
//	match:
//	  includes:
//	    - "images/**"
//	  excludes:
//	    - "**/_tmp/**"
//
// Example restore request (YAML):
//
//	version: "1.0"
//	snapshot: alpha
//	destination:
//	  host: objects.example.org
//	  port: 443
//	  store_id: primary
//	  space_id: collections-restored
//	requester_email: curator@example.org
package manifest

import (
	"github.com/3leaps/snapbridge/pkg/job"
)

// SupportedVersion is the only manifest version accepted.
const SupportedVersion = "1.0"

// SnapshotRequest describes a snapshot of an online space.
type SnapshotRequest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Name is the caller-chosen snapshot name; it must be unique.
	Name string `json:"name" yaml:"name"`

	// Source is the online space being copied.
	Source job.Endpoint `json:"source" yaml:"source"`

	// Match optionally narrows which items are copied.
	Match MatchConfig `json:"match,omitempty" yaml:"match,omitempty"`
}

// MatchConfig filters items by doublestar glob patterns.
type MatchConfig struct {
	// Includes limits the snapshot to matching keys. Empty includes everything.
	Includes []string `json:"includes,omitempty" yaml:"includes,omitempty"`

	// Excludes removes matching keys after includes are applied.
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
}

// Descriptor converts the request into a job descriptor.
func (r *SnapshotRequest) Descriptor() job.Descriptor {
	return job.NewSnapshotDescriptor(r.Name, r.Source, r.Match.Includes, r.Match.Excludes)
}

// RestoreRequest describes the restoration of a completed snapshot.
type RestoreRequest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Snapshot names the snapshot to restore.
	Snapshot string `json:"snapshot" yaml:"snapshot"`

	// Destination is the online space receiving the restored content.
	Destination job.Endpoint `json:"destination" yaml:"destination"`

	// RequesterEmail is notified when the restoration finishes. Optional.
	RequesterEmail string `json:"requester_email,omitempty" yaml:"requester_email,omitempty"`
}

// Descriptor converts the request into a job descriptor.
func (r *RestoreRequest) Descriptor() job.Descriptor {
	return job.NewRestorationRequestDescriptor(r.Snapshot, r.Destination, r.RequesterEmail)
}
