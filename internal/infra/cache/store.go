package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"qrl_trader/internal/infra"
)

var tokenRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Options configures a Store.
type Options struct {
	Namespace string
	Version   string
	OpTimeout time.Duration

	// Consecutive backend failures before calls are skipped for BreakerCooloff.
	BreakerThreshold int
	BreakerCooloff   time.Duration

	Metrics *infra.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Stats is the observability view of a Store.
type Stats struct {
	Available   bool   `json:"available"`
	Backend     string `json:"backend"`
	Namespace   string `json:"namespace"`
	Version     string `json:"version"`
	Keys        int    `json:"keys"`
	MemoryBytes int64  `json:"memory_bytes"`
	Evictions   int64  `json:"evictions"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Corrupt     uint64 `json:"corrupt"`
	Errors      uint64 `json:"errors"`
}

// Store is a namespaced, versioned cache-aside store. Physical keys are
// "namespace:version:logicalKey". No method returns an error to the caller:
// a broken backend behaves like an empty cache.
type Store struct {
	backend   Backend
	namespace string
	version   string
	prefix    string
	opTimeout time.Duration
	breaker   *infra.CircuitBreaker
	metrics   *infra.Metrics
	logger    *slog.Logger
	now       func() time.Time

	hits    atomic.Uint64
	misses  atomic.Uint64
	corrupt atomic.Uint64
	errs    atomic.Uint64
}

// New creates a Store over backend. A nil backend gives a disabled store that
// always misses.
func New(backend Backend, opts Options) (*Store, error) {
	if !tokenRe.MatchString(opts.Namespace) {
		return nil, fmt.Errorf("invalid cache namespace %q", opts.Namespace)
	}
	if !tokenRe.MatchString(opts.Version) {
		return nil, fmt.Errorf("invalid cache version %q", opts.Version)
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 500 * time.Millisecond
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = 3
	}
	if opts.BreakerCooloff <= 0 {
		opts.BreakerCooloff = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Store{
		backend:   backend,
		namespace: opts.Namespace,
		version:   opts.Version,
		prefix:    opts.Namespace + ":" + opts.Version + ":",
		opTimeout: opts.OpTimeout,
		breaker:   infra.NewCircuitBreaker("cache", opts.BreakerThreshold, opts.BreakerCooloff).WithClock(opts.Now),
		metrics:   opts.Metrics,
		logger:    opts.Logger.With(slog.String("module", "cache")),
		now:       opts.Now,
	}, nil
}

// Key returns the physical key of a logical key.
func (s *Store) Key(logical string) string {
	return s.prefix + logical
}

// Prefix returns "namespace:version:".
func (s *Store) Prefix() string {
	return s.prefix
}

// Enabled reports whether a backend is configured.
func (s *Store) Enabled() bool {
	return s.backend != nil
}

func (s *Store) usable() bool {
	return s.backend != nil && s.breaker.Allow()
}

func (s *Store) fail(op, key string, err error) {
	s.errs.Add(1)
	s.breaker.RecordFailure()
	s.metrics.RecordCacheError(op)
	s.logger.Warn("cache backend failure, degrading to direct fetch",
		slog.String("op", op),
		slog.String("key", key),
		slog.Any("error", err))
}

// Get decodes the entry at key into dst. False on miss, backend failure, or
// corrupt data; a corrupt entry is deleted.
func (s *Store) Get(ctx context.Context, key string, dst any) bool {
	if !s.usable() {
		s.misses.Add(1)
		return false
	}

	full := s.Key(key)
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	raw, found, err := s.backend.Get(opCtx, full)
	cancel()
	if err != nil {
		s.fail("get", full, err)
		s.misses.Add(1)
		return false
	}
	s.breaker.RecordSuccess()

	if !found {
		s.misses.Add(1)
		return false
	}

	if _, err := decode(raw, dst); err != nil {
		s.corrupt.Add(1)
		s.misses.Add(1)
		s.metrics.RecordCacheCorrupt()
		s.logger.Warn("deleting corrupt cache entry", slog.String("key", full), slog.Any("error", err))

		delCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
		if _, derr := s.backend.Delete(delCtx, full); derr != nil {
			s.fail("delete", full, derr)
		}
		return false
	}

	s.hits.Add(1)
	return true
}

// Set stores value under key for ttl. A non-positive ttl is refused so no
// entry can live forever.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if ttl <= 0 || s.backend == nil {
		return false
	}

	full := s.Key(key)
	raw, err := encode(value, s.now())
	if err != nil {
		s.logger.Error("cache value not serializable", slog.String("key", full), slog.Any("error", err))
		return false
	}
	if !s.breaker.Allow() {
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.backend.Set(opCtx, full, raw, ttl); err != nil {
		s.fail("set", full, err)
		return false
	}
	s.breaker.RecordSuccess()
	return true
}

// DeletePattern removes every key of this namespace and version matching
// pattern. The pattern is always rooted under the store prefix, so "*" clears
// only this store's own keys.
func (s *Store) DeletePattern(ctx context.Context, pattern string) int {
	if pattern == "" || !s.usable() {
		return 0
	}

	full := s.prefix + pattern
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	keys, err := s.backend.Scan(opCtx, full)
	if err != nil {
		s.fail("scan", full, err)
		return 0
	}

	owned := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, s.prefix) {
			owned = append(owned, k)
		}
	}
	if len(owned) == 0 {
		s.breaker.RecordSuccess()
		return 0
	}

	n, err := s.backend.Delete(opCtx, owned...)
	if err != nil {
		s.fail("delete", full, err)
		return n
	}
	s.breaker.RecordSuccess()
	s.logger.Debug("cache entries invalidated", slog.String("pattern", full), slog.Int("count", n))
	return n
}

// Ping checks the backend. Callers only log the result.
func (s *Store) Ping(ctx context.Context) error {
	if s.backend == nil {
		return errors.New("cache disabled")
	}
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.backend.Ping(opCtx)
}

// Stats reports counters and the key count of this namespace and version.
func (s *Store) Stats(ctx context.Context) Stats {
	st := Stats{
		Namespace: s.namespace,
		Version:   s.version,
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Corrupt:   s.corrupt.Load(),
		Errors:    s.errs.Load(),
	}
	if s.backend == nil {
		st.Backend = "disabled"
		return st
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.backend.Ping(opCtx); err != nil {
		return st
	}
	st.Available = true

	if keys, err := s.backend.Scan(opCtx, s.prefix+"*"); err == nil {
		st.Keys = len(keys)
	}
	info, err := s.backend.Info(opCtx)
	st.Backend = info.Kind
	if err != nil {
		s.logger.Debug("cache backend info unavailable", slog.Any("error", err))
		return st
	}
	st.MemoryBytes = info.MemoryBytes
	st.Evictions = info.Evictions
	return st
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
