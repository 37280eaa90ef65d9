// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so request validation works regardless
// of the working directory or installation location.
package schemasassets

import _ "embed"

// SnapshotRequestSchema is the embedded snapshot-request JSON schema.
//
//go:embed snapshot-request.schema.json
var SnapshotRequestSchema []byte

// RestoreRequestSchema is the embedded restore-request JSON schema.
//
//go:embed restore-request.schema.json
var RestoreRequestSchema []byte
