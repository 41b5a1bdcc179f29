package cache

import (
	"context"
	"fmt"
	"log/slog"

	"qrl_trader/internal/infra"
)

// Open builds the Store described by cfg. An unreachable Redis is not an
// error here: the store starts degraded and recovers on its own.
func Open(ctx context.Context, cfg infra.CacheConfig, metrics *infra.Metrics, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := Options{
		Namespace: cfg.Namespace,
		Version:   cfg.Version,
		OpTimeout: cfg.OpTimeout,
		Metrics:   metrics,
		Logger:    logger,
	}

	if !cfg.Enabled {
		logger.Info("cache disabled, every read goes to the exchange")
		return New(nil, opts)
	}

	var backend Backend
	switch cfg.Backend {
	case "redis":
		rb, err := NewRedisBackend(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if cfg.MaxMemoryMB > 0 {
			cctx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
			if err := rb.ConfigureMaxMemory(cctx, cfg.MaxMemoryMB); err != nil {
				logger.Warn("could not configure redis eviction policy", slog.Any("error", err))
			}
			cancel()
		}
		backend = rb
	case "memory":
		mb, err := NewMemoryBackend(cfg.MaxEntries, int64(cfg.MaxMemoryMB)<<20, nil)
		if err != nil {
			return nil, err
		}
		backend = mb
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}

	store, err := New(backend, opts)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	if err := store.Ping(ctx); err != nil {
		logger.Warn("cache unreachable at startup, continuing without it",
			slog.String("backend", cfg.Backend),
			slog.Any("error", err))
	} else {
		logger.Info("cache connected",
			slog.String("backend", cfg.Backend),
			slog.String("prefix", store.Prefix()))
	}
	return store, nil
}
