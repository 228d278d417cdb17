// internal/store/open.go
package store

import (
	"context"
	"fmt"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Options selects and tunes a repository backend.
type Options struct {
	Backend     string
	SQLitePath  string
	DatabaseURL string
	RedisURL    string
	// LockWait bounds how long a writer waits on another transaction for the same lobby.
	LockWait time.Duration
	// RedisTTL is the key expiry applied by the Redis backend.
	RedisTTL time.Duration
}

// Open builds the repository named by opts.Backend.
func Open(ctx context.Context, opts Options) (Repository, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryStore(opts.LockWait), nil
	case BackendSQLite:
		return NewSQLiteStore(ctx, opts.SQLitePath, opts.LockWait)
	case BackendPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("store: postgres backend requires a database url")
		}
		return NewPostgresStore(ctx, opts.DatabaseURL, opts.LockWait)
	case BackendRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("store: redis backend requires a redis url")
		}
		return NewRedisStore(ctx, opts.RedisURL, opts.RedisTTL)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", opts.Backend)
	}
}
