//go:build cgo

package sqlitedb

import (
	"context"
	"database/sql"

	_ "github.com/tursodatabase/go-libsql"
)

// DriverName is the database/sql driver used for every connection.
const DriverName = "libsql"

const remoteSupported = true

// Open opens (and creates if needed) a libsql-backed database.
//
// Local file paths get their parent directories created; local databases run
// in WAL mode with a busy timeout.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	return open(ctx, cfg, DriverName)
}
