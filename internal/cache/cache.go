// Package cache fronts the record store with short-lived, invalidation-driven
// entries and owns the global cache version that clients poll to detect
// cross-device changes. Backend failures never surface to callers: reads
// degrade to misses and writes to no-ops.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"

	"chat-sync/internal/logging"
)

type Cache struct {
	backend  Backend
	enabled  bool
	log      *log.Logger
	versions *Versions
}

func New(backend Backend, logger *log.Logger) *Cache {
	return NewWithNow(backend, logger, time.Now)
}

func NewWithNow(backend Backend, logger *log.Logger, now func() time.Time) *Cache {
	if backend == nil {
		backend = NullBackend{}
	}
	logger = logging.OrDiscard(logger)
	enabled := !isNull(backend)
	return &Cache{
		backend: backend,
		enabled: enabled,
		log:     logger,
		versions: &Versions{
			backend: backend,
			enabled: enabled,
			log:     logger,
			now:     now,
		},
	}
}

func (c *Cache) Enabled() bool { return c.enabled }

func (c *Cache) Versions() *Versions { return c.versions }

// GetJSON decodes the entry at key into dst and reports a hit.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	if !c.enabled {
		return false
	}
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache get error", "key", key, "err", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		c.log.Warn("cache entry undecodable", "key", key, "err", err)
		c.Invalidate(ctx, key)
		return false
	}
	return true
}

func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	if !c.enabled {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache entry unencodable", "key", key, "err", err)
		return
	}
	if err := c.backend.Set(ctx, key, string(data), ttl); err != nil {
		c.log.Warn("cache set error", "key", key, "err", err)
	}
}

func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if !c.enabled || len(keys) == 0 {
		return
	}
	if err := c.backend.Del(ctx, keys...); err != nil {
		c.log.Warn("cache remove error", "keys", keys, "err", err)
	}
}

// Apply invalidates every key the mutation affects and then bumps the
// version, returning the new version.
func (c *Cache) Apply(ctx context.Context, m Mutation, scope Scope) int64 {
	if !c.enabled {
		return c.versions.wallClock()
	}
	keys := KeysFor(m, scope)
	v, err := c.backend.DelIncr(ctx, VersionKey, keys...)
	if err != nil {
		c.log.Warn("cache invalidation failed", "mutation", m, "keys", keys, "err", err)
		return c.versions.wallClock()
	}
	c.log.Debug("cache invalidated", "mutation", m, "keys", keys, "version", v)
	return v
}

// ReadThrough returns the cached value at key, or loads, caches and returns
// it. Load errors are returned and nothing is cached.
func ReadThrough[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if c.GetJSON(ctx, key, &cached) {
		return cached, nil
	}
	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.SetJSON(ctx, key, v, ttl)
	return v, nil
}
