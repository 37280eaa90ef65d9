package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/3leaps/snapbridge/pkg/sqlitedb"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects and configures a history backend.
type Config struct {
	Backend string

	// Path is the directory (file) or database path (sqlite).
	Path string

	// URL is a libsql URL (sqlite) or a redis:// URL (redis).
	URL string

	AuthToken string
}

// Open opens the configured backend.
func Open(ctx context.Context, cfg Config) (History, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		return NewFileHistory(cfg.Path)
	case BackendSQLite:
		return OpenSQLite(ctx, sqlitedb.Config{Path: cfg.Path, URL: cfg.URL, AuthToken: cfg.AuthToken})
	case BackendRedis:
		return NewRedisHistory(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}
