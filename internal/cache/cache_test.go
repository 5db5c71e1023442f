package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingBackend fails every call, standing in for an unreachable Redis.
type failingBackend struct{}

var errDown = errors.New("connection refused")

func (failingBackend) Get(context.Context, string) (string, bool, error)        { return "", false, errDown }
func (failingBackend) Set(context.Context, string, string, time.Duration) error { return errDown }
func (failingBackend) Del(context.Context, ...string) error                     { return errDown }
func (failingBackend) Incr(context.Context, string) (int64, error)              { return 0, errDown }
func (failingBackend) DelIncr(context.Context, string, ...string) (int64, error) {
	return 0, errDown
}
func (failingBackend) Ping(context.Context) error { return errDown }
func (failingBackend) Close() error               { return nil }

type titles struct {
	Names []string `json:"names"`
}

func TestReadThrough_CachesOnMiss(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(), nil)

	calls := 0
	load := func(context.Context) (titles, error) {
		calls++
		return titles{Names: []string{"a", "b"}}, nil
	}

	got, err := ReadThrough(ctx, c, TitlesKey("u1"), TitlesTTL, load)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Names)

	got, err = ReadThrough(ctx, c, TitlesKey("u1"), TitlesTTL, load)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Names)
	assert.Equal(t, 1, calls)
}

func TestReadThrough_LoadErrorNotCached(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(), nil)
	boom := errors.New("db down")

	_, err := ReadThrough(ctx, c, "k", time.Minute, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	var v int
	assert.False(t, c.GetJSON(ctx, "k", &v))
}

func TestApply_InvalidatesThenBumps(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(), nil)
	scope := Scope{UserID: "u1", ConversationID: "c1"}

	c.SetJSON(ctx, TitlesKey("u1"), titles{Names: []string{"old"}}, TitlesTTL)
	c.SetJSON(ctx, PreviewKey("c1"), "preview", PreviewTTL)
	c.SetJSON(ctx, ProjectsKey("u1"), "projects", ProjectsTTL)

	before := c.Versions().Current(ctx)
	v := c.Apply(ctx, MessageCreated, scope)
	assert.Equal(t, before+1, v)
	assert.Equal(t, v, c.Versions().Current(ctx))

	var out titles
	assert.False(t, c.GetJSON(ctx, TitlesKey("u1"), &out))
	var s string
	assert.False(t, c.GetJSON(ctx, PreviewKey("c1"), &s))
	assert.True(t, c.GetJSON(ctx, ProjectsKey("u1"), &s), "projects are not affected by a new message")
}

func TestVersions_MonotonicPerMutation(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(), nil)
	assert.Equal(t, int64(0), c.Versions().Current(ctx))

	for i := int64(1); i <= 3; i++ {
		assert.Equal(t, i, c.Apply(ctx, ConversationCreated, Scope{UserID: "u1"}))
	}
	assert.Equal(t, int64(4), c.Versions().IncrementAndGet(ctx))
}

func TestMemoryBackend_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewMemoryBackendWithNow(func() time.Time { return now })

	require.NoError(t, b.Set(ctx, "k", "v", time.Minute))
	v, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(time.Minute)
	_, ok, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNullBackend_WallClockVersion(t *testing.T) {
	ctx := context.Background()
	clock := time.UnixMilli(1_000)
	c := NewWithNow(NullBackend{}, nil, func() time.Time { return clock })
	assert.False(t, c.Enabled())

	c.SetJSON(ctx, "k", "v", time.Minute)
	var s string
	assert.False(t, c.GetJSON(ctx, "k", &s))

	first := c.Versions().Current(ctx)
	assert.Equal(t, clock.UnixMilli(), first)
	clock = clock.Add(time.Millisecond)
	assert.NotEqual(t, first, c.Versions().Current(ctx))

	// Frozen clock: every read and mutation still moves the version.
	seen := map[int64]bool{}
	for range 5 {
		v := c.Versions().Current(ctx)
		m := c.Apply(ctx, ConversationCreated, Scope{UserID: "u1"})
		assert.False(t, seen[v])
		assert.False(t, seen[m])
		assert.Greater(t, m, v)
		seen[v], seen[m] = true, true
	}

	clock = clock.Add(time.Hour)
	assert.Equal(t, clock.UnixMilli(), c.Versions().Current(ctx))
}

func TestCache_FailOpen(t *testing.T) {
	ctx := context.Background()
	clock := time.UnixMilli(5_000)
	c := NewWithNow(failingBackend{}, nil, func() time.Time { return clock })
	assert.True(t, c.Enabled())

	var s string
	assert.False(t, c.GetJSON(ctx, "k", &s))
	c.SetJSON(ctx, "k", "v", time.Minute)
	c.Invalidate(ctx, "k")

	got, err := ReadThrough(ctx, c, "k", time.Minute, func(context.Context) (string, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)

	assert.Equal(t, int64(5_000), c.Apply(ctx, ShareCreated, Scope{UserID: "u1"}))
	assert.Equal(t, int64(5_001), c.Versions().Current(ctx))
}

func TestCache_UndecodableEntryIsEvicted(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	c := New(b, nil)
	require.NoError(t, b.Set(ctx, "k", "{not json", time.Minute))

	var out titles
	assert.False(t, c.GetJSON(ctx, "k", &out))
	_, ok, _ := b.Get(ctx, "k")
	assert.False(t, ok)
}
