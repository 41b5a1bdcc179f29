package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
)

type memEntry struct {
	val     []byte
	expires time.Time
}

func (e memEntry) size(key string) int64 {
	return int64(len(key) + len(e.val))
}

// MemoryBackend is an in-process LRU bounded by entry count and, optionally,
// by approximate bytes. Expired entries are dropped lazily on access.
type MemoryBackend struct {
	mu       sync.Mutex // serializes writes so byte accounting stays exact
	entries  *lru.Cache[string, memEntry]
	now      func() time.Time
	maxBytes int64

	bytes     atomic.Int64
	evictions atomic.Int64
}

// NewMemoryBackend creates a backend holding at most maxEntries entries and,
// when maxBytes > 0, roughly maxBytes of keys and values.
func NewMemoryBackend(maxEntries int, maxBytes int64, now func() time.Time) (*MemoryBackend, error) {
	if now == nil {
		now = time.Now
	}
	m := &MemoryBackend{now: now, maxBytes: maxBytes}

	entries, err := lru.NewWithEvict(maxEntries, func(key string, e memEntry) {
		m.bytes.Add(-e.size(key))
	})
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	m.entries = entries
	return m, nil
}

func (m *MemoryBackend) expired(e memEntry) bool {
	return !m.now().Before(e.expires)
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if m.expired(e) {
		m.mu.Lock()
		m.entries.Remove(key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.val, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	e := memEntry{val: append([]byte(nil), val...), expires: m.now().Add(ttl)}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Add does not fire the eviction callback when it replaces a value.
	if old, ok := m.entries.Peek(key); ok {
		m.bytes.Add(-old.size(key))
	}
	if m.entries.Add(key, e) {
		m.evictions.Add(1)
	}
	m.bytes.Add(e.size(key))

	for m.maxBytes > 0 && m.bytes.Load() > m.maxBytes && m.entries.Len() > 1 {
		if _, _, ok := m.entries.RemoveOldest(); !ok {
			break
		}
		m.evictions.Add(1)
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, k := range keys {
		e, ok := m.entries.Peek(k)
		if !ok {
			continue
		}
		m.entries.Remove(k)
		if !m.expired(e) {
			n++
		}
	}
	return n, nil
}

// Scan matches with gobwas/glob, whose syntax agrees with Redis for `*`, `?`,
// `[...]` and backslash escapes.
func (m *MemoryBackend) Scan(_ context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}

	var keys []string
	for _, k := range m.entries.Keys() {
		if !g.Match(k) {
			continue
		}
		if e, ok := m.entries.Peek(k); ok && !m.expired(e) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryBackend) Info(context.Context) (BackendInfo, error) {
	return BackendInfo{
		Kind:        "memory",
		MemoryBytes: m.bytes.Load(),
		Evictions:   m.evictions.Load(),
	}, nil
}

func (m *MemoryBackend) Ping(context.Context) error {
	return nil
}

func (m *MemoryBackend) Close() error {
	m.entries.Purge()
	return nil
}
