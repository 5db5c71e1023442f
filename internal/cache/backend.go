package cache

import (
	"context"
	"time"
)

// Backend is the key/value store behind the cache layer. Implementations
// return errors for transport failures only; a missing key is (_, false, nil).
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	// DelIncr deletes keys and then increments counter as one ordered unit.
	DelIncr(ctx context.Context, counter string, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// NullBackend disables caching: every read misses and every write is
// dropped.
type NullBackend struct{}

func (NullBackend) Get(context.Context, string) (string, bool, error)         { return "", false, nil }
func (NullBackend) Set(context.Context, string, string, time.Duration) error  { return nil }
func (NullBackend) Del(context.Context, ...string) error                      { return nil }
func (NullBackend) Incr(context.Context, string) (int64, error)               { return 0, nil }
func (NullBackend) DelIncr(context.Context, string, ...string) (int64, error) { return 0, nil }
func (NullBackend) Ping(context.Context) error                                { return nil }
func (NullBackend) Close() error                                              { return nil }

func isNull(b Backend) bool {
	switch b.(type) {
	case nil, NullBackend, *NullBackend:
		return true
	}
	return false
}
