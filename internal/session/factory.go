package session

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Options selects and configures a Store backend.
type Options struct {
	Backend     string
	Dir         string // file root; default location of the sqlite database
	DSN         string // sqlite path or postgres DSN
	RedisAddr   string
	RedisPrefix string
}

// Open creates the Store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStore(opts.Dir)
	case BackendSQLite:
		dsn := opts.DSN
		if dsn == "" {
			if _, err := NewFileStore(opts.Dir); err != nil {
				return nil, err
			}
			dsn = filepath.Join(opts.Dir, "sessions.db")
		}
		return OpenSQLStore(ctx, DriverSQLite, dsn)
	case BackendPostgres:
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres session store requires a dsn")
		}
		return OpenSQLStore(ctx, DriverPostgres, opts.DSN)
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis session store requires an address")
		}
		return OpenRedisStore(ctx, opts.RedisAddr, opts.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown session store backend %q", opts.Backend)
	}
}
