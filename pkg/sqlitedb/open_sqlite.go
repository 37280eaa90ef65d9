//go:build !cgo

package sqlitedb

import (
	"context"
	"database/sql"

	sqlite "modernc.org/sqlite"
)

// DriverName is the database/sql driver used for every connection.
const DriverName = "libsql"

const remoteSupported = false

func init() {
	sql.Register(DriverName, &sqlite.Driver{})
}

// Open opens (and creates if needed) a SQLite-backed database.
//
// Local file paths get their parent directories created; local databases run
// in WAL mode with a busy timeout. Remote libsql URLs require a cgo-enabled
// build.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	return open(ctx, cfg, DriverName)
}
