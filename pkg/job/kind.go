// Package job defines the value types shared by the snapshot and restoration
// workflows: job kinds, endpoints, descriptors, identities and statuses.
package job

import "fmt"

// Kind identifies the direction of a bulk transfer.
//
// NOTE: These values are persisted in the job-run history and are part of the
// stable on-disk contract.
type Kind string

const (
	// KindSnapshot copies content from the online store to bridge storage.
	KindSnapshot Kind = "snapshot"

	// KindRestoration copies content from bridge storage back to the online store.
	KindRestoration Kind = "restoration"
)

// Kinds lists every known job kind in dispatch order.
var Kinds = []Kind{KindSnapshot, KindRestoration}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is a known job kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSnapshot, KindRestoration:
		return true
	default:
		return false
	}
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown job kind %q", s)
	}
	return k, nil
}
