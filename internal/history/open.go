package history

import (
	"fmt"
	"strings"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Options selects and configures a Store backend.
type Options struct {
	Backend   string
	Path      string
	RedisURL  string
	Namespace string
	Timeout   time.Duration
}

// Open constructs the configured backend.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendSQLite:
		return OpenSQLite(opts.Path, opts.Namespace, opts.Timeout)
	case BackendRedis:
		client, err := ConnectRedis(opts.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, opts.Namespace, opts.Timeout), nil
	case BackendNone:
		return NoopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
