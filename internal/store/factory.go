package store

import (
	"context"
	"fmt"
	"strings"
)

// OpenBackend picks a backend from the DSN scheme:
//
//	memory://                 process memory
//	file:///var/lib/noteforge JSON files in a directory
//	sqlite:///path/to/db      sqlite3 database file
//	postgres://...            postgres via pgx
//	redis://...               redis strings
//
// A DSN without a scheme is treated as a file directory.
func OpenBackend(ctx context.Context, dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		if dsn == "" {
			return NewMemoryBackend(), nil
		}
		return NewFileBackend(dsn), nil
	}

	switch strings.ToLower(scheme) {
	case "memory", "mem":
		return NewMemoryBackend(), nil
	case "file":
		return NewFileBackend(rest), nil
	case "sqlite", "sqlite3":
		return OpenSQLBackend(ctx, "sqlite3", rest)
	case "postgres", "postgresql":
		return OpenSQLBackend(ctx, "pgx", dsn)
	case "redis", "rediss":
		return OpenRedisBackend(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, scheme)
	}
}
