package cache

import (
	"context"
	"time"
)

// Backend is the raw key/value store behind a Store. Patterns use the Redis
// glob dialect (`*`, `?`, `[...]`, backslash escapes). Implementations report
// failures as errors; the Store decides what a failure means.
type Backend interface {
	// Get returns found=false without error on a miss.
	Get(ctx context.Context, key string) (val []byte, found bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)
	// Scan lists live keys matching pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)
	Info(ctx context.Context) (BackendInfo, error)
	Ping(ctx context.Context) error
	Close() error
}

// BackendInfo is what a backend knows about its own resource usage. Values
// cover the whole backend, not one namespace.
type BackendInfo struct {
	Kind        string
	MemoryBytes int64
	Evictions   int64
}
