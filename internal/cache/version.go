package cache

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Versions is the global cache version counter clients poll. It never
// decreases while the backend is healthy. When caching is disabled or the
// backend fails, Current reports wall-clock milliseconds so every poll looks
// like a change and clients resync.
type Versions struct {
	backend Backend
	enabled bool
	log     *log.Logger
	now     func() time.Time
	last    atomic.Int64
}

// wallClock returns wall-clock milliseconds, stepped past the previous
// value it returned so two calls within one millisecond still differ.
func (v *Versions) wallClock() int64 {
	now := v.now().UnixMilli()
	for {
		last := v.last.Load()
		next := max(now, last+1)
		if v.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (v *Versions) Current(ctx context.Context) int64 {
	if !v.enabled {
		return v.wallClock()
	}
	raw, ok, err := v.backend.Get(ctx, VersionKey)
	if err != nil {
		v.log.Warn("cache version read failed", "err", err)
		return v.wallClock()
	}
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		v.log.Warn("cache version corrupt", "value", raw, "err", err)
		return v.wallClock()
	}
	return n
}

func (v *Versions) IncrementAndGet(ctx context.Context) int64 {
	if !v.enabled {
		return v.wallClock()
	}
	n, err := v.backend.Incr(ctx, VersionKey)
	if err != nil {
		v.log.Warn("cache version bump failed", "err", err)
		return v.wallClock()
	}
	return n
}
