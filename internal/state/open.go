// internal/state/open.go
package state

import (
	"context"
	"fmt"

	"github.com/user/agentchat/internal/types"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Options selects and configures a KV backend.
type Options struct {
	Backend     string
	Path        string
	RedisURL    string
	RedisPrefix string
	SQLitePath  string
}

// Open creates the configured KV backend. An empty backend means file.
func Open(ctx context.Context, opts Options) (types.KV, error) {
	switch opts.Backend {
	case "", BackendFile:
		if opts.Path == "" {
			return nil, fmt.Errorf("open file store: no path configured")
		}
		return NewFileKV(opts.Path), nil
	case BackendMemory:
		return NewMemoryKV(), nil
	case BackendRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("open redis store: no redis_url configured")
		}
		return NewRedisKV(ctx, opts.RedisURL, opts.RedisPrefix)
	case BackendSQLite:
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("open sqlite store: no sqlite_path configured")
		}
		return NewSQLiteKV(ctx, opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", opts.Backend)
	}
}
