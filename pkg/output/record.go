// Package output writes the per-run item event log.
//
// Each transfer run appends typed record envelopes (transferred items,
// skipped items, item errors and a closing summary) to an items.jsonl file.
// Every line is a self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: snapbridge.<type>.v<version>
const (
	// TypeItem identifies records for items copied to the target.
	TypeItem = "snapbridge.item.v1"

	// TypeSkip identifies records for items excluded by filters.
	TypeSkip = "snapbridge.skip.v1"

	// TypeError identifies item error records.
	TypeError = "snapbridge.error.v1"

	// TypeSummary identifies final run summary records.
	TypeSummary = "snapbridge.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "snapbridge.item.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the job run this record belongs to.
	RunID string `json:"run_id"`

	// Job is the job identity ("snapshot/alpha", "restoration/12").
	Job string `json:"job"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ItemRecord is the data payload for a copied item.
type ItemRecord struct {
	// Key is the item key relative to the content root.
	Key string `json:"key"`

	// Size is the number of bytes copied.
	Size int64 `json:"size"`

	// MD5 and SHA256 are the hex digests computed while copying.
	MD5    string `json:"md5,omitempty"`
	SHA256 string `json:"sha256,omitempty"`

	// Attempts is how many tries the copy took.
	Attempts int `json:"attempts"`
}

// SkipRecord is the data payload for an item that was not copied.
type SkipRecord struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Skip reasons.
const (
	SkipReasonExcluded    = "excluded"
	SkipReasonNotIncluded = "not_included"
)

// ErrorRecord is the data payload for item errors.
//
// Item errors are recorded rather than aborting the run; a run with any
// failed item ends FAILED.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Key is the item key related to this error, if applicable.
	Key string `json:"key,omitempty"`

	// Attempts is how many tries were made before giving up.
	Attempts int `json:"attempts,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the item or space was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeThrottled indicates rate limiting outlasted the retries.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeUnavailable indicates the store stayed unavailable.
	ErrCodeUnavailable = "UNAVAILABLE"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for the final run summary.
type SummaryRecord struct {
	// Status is the terminal job status of the run.
	Status string `json:"status"`

	ItemsRead    int64 `json:"items_read"`
	ItemsWritten int64 `json:"items_written"`
	ItemsSkipped int64 `json:"items_skipped"`
	ItemsFailed  int64 `json:"items_failed"`
	BytesTotal   int64 `json:"bytes_total"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
