package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scanBatch   = 200
	unlinkBatch = 500
)

// RedisBackend stores entries in Redis. go-redis redials on the next command
// after a connection loss.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects lazily to url ("redis://host:port/db").
func NewRedisBackend(url string) (*RedisBackend, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	// Fail fast; the store already bounds each call.
	opt.MaxRetries = -1
	opt.DialTimeout = time.Second
	return &RedisBackend{client: redis.NewClient(opt)}, nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, val, ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, keys ...string) (int, error) {
	var total int
	for start := 0; start < len(keys); start += unlinkBatch {
		end := min(start+unlinkBatch, len(keys))
		n, err := r.client.Unlink(ctx, keys[start:end]...).Result()
		total += int(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Scan walks the keyspace with SCAN MATCH. SCAN may repeat keys, so results are deduplicated.
func (r *RedisBackend) Scan(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string

	iter := r.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Info reads used_memory and evicted_keys. Kind is set even on error.
func (r *RedisBackend) Info(ctx context.Context) (BackendInfo, error) {
	info := BackendInfo{Kind: "redis"}

	raw, err := r.client.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return info, err
	}

	fields := parseInfo(raw)
	if v, ok := fields["used_memory"]; ok {
		info.MemoryBytes, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := fields["evicted_keys"]; ok {
		info.Evictions, _ = strconv.ParseInt(v, 10, 64)
	}
	return info, nil
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// ConfigureMaxMemory asks the server to bound memory with LRU eviction.
// Managed Redis offerings often forbid CONFIG, so callers treat failure as a warning.
func (r *RedisBackend) ConfigureMaxMemory(ctx context.Context, megabytes int) error {
	if megabytes <= 0 {
		return nil
	}
	if err := r.client.ConfigSet(ctx, "maxmemory", fmt.Sprintf("%dmb", megabytes)).Err(); err != nil {
		return fmt.Errorf("config set maxmemory: %w", err)
	}
	if err := r.client.ConfigSet(ctx, "maxmemory-policy", "allkeys-lru").Err(); err != nil {
		return fmt.Errorf("config set maxmemory-policy: %w", err)
	}
	return nil
}

// parseInfo turns "key:value" lines of an INFO reply into a map.
func parseInfo(raw string) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			out[k] = v
		}
	}
	return out
}
