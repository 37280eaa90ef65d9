package job

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Identity is the deterministic key of a logical job.
//
// Two requests with equal identities refer to the same job. The identity is the
// lookup key into the job-run history.
type Identity struct {
	Kind Kind   `json:"kind"`
	Key  string `json:"key"`
}

// SnapshotIdentity identifies a snapshot job by its caller-supplied name.
func SnapshotIdentity(name string) Identity {
	return Identity{Kind: KindSnapshot, Key: strings.TrimSpace(name)}
}

// RestorationIdentity identifies a restoration job by its numeric id.
func RestorationIdentity(id int64) Identity {
	return Identity{Kind: KindRestoration, Key: strconv.FormatInt(id, 10)}
}

// ParseRestorationID parses a restoration identity key.
func ParseRestorationID(key string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid restoration id %q", key)
	}
	return id, nil
}

// IsZero reports whether the identity has no key.
func (i Identity) IsZero() bool {
	return i.Key == ""
}

// String renders the identity as kind/key.
func (i Identity) String() string {
	return string(i.Kind) + "/" + i.Key
}

type contentHashPayload struct {
	Kind        Kind      `json:"kind"`
	Snapshot    string    `json:"snapshot"`
	Destination *Endpoint `json:"destination,omitempty"`
	Source      *Endpoint `json:"source,omitempty"`
}

// ContentHash computes a canonical hash of the coordinates that make two
// requests the same logical job: the source snapshot plus the destination
// endpoint for restorations, the name plus source endpoint for snapshots.
//
// Requester details, filters and directories do not contribute.
func ContentHash(d Descriptor) (string, error) {
	payload := contentHashPayload{Kind: d.Kind, Snapshot: strings.TrimSpace(d.SnapshotName)}
	switch d.Kind {
	case KindRestoration:
		dst := normalizeEndpoint(d.Destination)
		payload.Destination = &dst
	case KindSnapshot:
		src := normalizeEndpoint(d.Source)
		payload.Source = &src
		if payload.Snapshot == "" {
			payload.Snapshot = strings.TrimSpace(d.TargetID)
		}
	default:
		return "", fmt.Errorf("unknown job kind %q", d.Kind)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal content hash payload: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// RequestKey shortens a content hash into a directory-friendly key.
func RequestKey(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16]
}

func normalizeEndpoint(e Endpoint) Endpoint {
	return Endpoint{
		Host:    strings.ToLower(strings.TrimSpace(e.Host)),
		Port:    e.Port,
		StoreID: strings.TrimSpace(e.StoreID),
		SpaceID: strings.TrimSpace(e.SpaceID),
	}
}
