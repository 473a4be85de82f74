package memory

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/tiercache/tiercache/config"
	"github.com/tiercache/tiercache/internal/tier"
)

func defaultCfg() *config.MemoryCfg {
	return &config.MemoryCfg{
		MaxItems:      1000,
		MaxBytes:      50 << 20,
		Shards:        8,
		EvictFraction: 0.10,
	}
}

func newTestTier(cfg *config.MemoryCfg) (*Tier, *clock.Mock) {
	mock := clock.NewMock()
	return New(cfg, mock), mock
}

func entry(key, value string, expiresAt int64, p tier.Priority) *tier.Entry {
	return &tier.Entry{
		Key:       key,
		Value:     []byte(value),
		ExpiresAt: expiresAt,
		Priority:  p,
		Size:      int64(len(value)),
	}
}

func TestMemory_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem, mock := newTestTier(defaultCfg())

	exp := mock.Now().Add(time.Minute).UnixNano()
	require.NoError(t, mem.Set(ctx, entry("user:1", "alice", exp, tier.PriorityNormal)))

	e, err := mem.Get(ctx, "user:1")
	require.NoError(t, err)
	require.NotNil(t, e)
	require.Equal(t, []byte("alice"), e.Value)
	require.Equal(t, tier.PriorityNormal, e.Priority)
	require.EqualValues(t, 1, mem.Len())
	require.EqualValues(t, 5, mem.Mem())

	e, err = mem.Get(ctx, "user:2")
	require.NoError(t, err)
	require.Nil(t, e)
}

func TestMemory_OverwriteKeepsSingleSlot(t *testing.T) {
	ctx := context.Background()
	mem, mock := newTestTier(defaultCfg())

	exp := mock.Now().Add(time.Minute).UnixNano()
	require.NoError(t, mem.Set(ctx, entry("k", "short", exp, tier.PriorityNormal)))
	require.NoError(t, mem.Set(ctx, entry("k", "a longer value", exp, tier.PriorityNormal)))

	require.EqualValues(t, 1, mem.Len())
	require.EqualValues(t, len("a longer value"), mem.Mem())
}

// Expired entries report a miss immediately and are physically removed only
// by the sweep.
func TestMemory_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	mem, mock := newTestTier(defaultCfg())

	exp := mock.Now().Add(time.Minute).UnixNano()
	require.NoError(t, mem.Set(ctx, entry("k", "v", exp, tier.PriorityNormal)))

	mock.Add(61 * time.Second)

	e, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, e)
	require.EqualValues(t, 1, mem.Len(), "expired entry stays until swept")
	require.EqualValues(t, 1, mem.CountExpired(ctx))

	removed, err := mem.RemoveExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
	require.EqualValues(t, 0, mem.Len())
	require.EqualValues(t, 0, mem.Mem())
	require.EqualValues(t, 1, mem.Counters().Expired)
}

func TestMemory_ItemCapacityBound(t *testing.T) {
	ctx := context.Background()
	cfg := defaultCfg()
	cfg.MaxItems = 100
	mem, mock := newTestTier(cfg)

	exp := mock.Now().Add(time.Hour).UnixNano()
	for i := 0; i < 150; i++ {
		key := fmt.Sprintf("k%03d", i)
		require.NoError(t, mem.Set(ctx, entry(key, "v", exp, tier.PriorityNormal)))
		mock.Add(time.Millisecond)
	}

	require.LessOrEqual(t, mem.Len(), cfg.MaxItems)
	require.Positive(t, mem.Counters().Evictions)
}

func TestMemory_ByteCapacityBound(t *testing.T) {
	ctx := context.Background()
	cfg := defaultCfg()
	cfg.MaxBytes = 1024
	mem, mock := newTestTier(cfg)

	exp := mock.Now().Add(time.Hour).UnixNano()
	value := string(make([]byte, 100))
	for i := 0; i < 30; i++ {
		key := fmt.Sprintf("k%02d", i)
		require.NoError(t, mem.Set(ctx, entry(key, value, exp, tier.PriorityNormal)))
		mock.Add(time.Millisecond)
	}

	require.LessOrEqual(t, mem.Mem(), cfg.MaxBytes)
}

// Overwriting a key with a larger value counts its byte growth against the
// cap and evicts to make room, same as a fresh insert.
func TestMemory_OverwriteGrowthTriggersEviction(t *testing.T) {
	ctx := context.Background()
	cfg := defaultCfg()
	cfg.MaxBytes = 1024
	mem, mock := newTestTier(cfg)

	exp := mock.Now().Add(time.Hour).UnixNano()
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("k%02d", i)
		require.NoError(t, mem.Set(ctx, entry(key, string(make([]byte, 100)), exp, tier.PriorityNormal)))
		mock.Add(time.Second)
	}
	require.EqualValues(t, 1000, mem.Mem())

	require.NoError(t, mem.Set(ctx, entry("k09", string(make([]byte, 300)), exp, tier.PriorityNormal)))

	require.LessOrEqual(t, mem.Mem(), cfg.MaxBytes)
	require.Positive(t, mem.Counters().Evictions)

	e, err := mem.Get(ctx, "k09")
	require.NoError(t, err)
	require.NotNil(t, e)
	require.Len(t, e.Value, 300)
}

// Sustained overwrites of resident keys never grow the tier past its byte
// cap.
func TestMemory_SustainedOverwritesStayBounded(t *testing.T) {
	ctx := context.Background()
	cfg := defaultCfg()
	cfg.MaxBytes = 2048
	mem, mock := newTestTier(cfg)

	exp := mock.Now().Add(time.Hour).UnixNano()
	for round := 1; round <= 5; round++ {
		for i := 0; i < 10; i++ {
			key := fmt.Sprintf("k%02d", i)
			value := string(make([]byte, 100*round))
			require.NoError(t, mem.Set(ctx, entry(key, value, exp, tier.PriorityNormal)))
			mock.Add(time.Second)
		}
		require.LessOrEqual(t, mem.Mem(), cfg.MaxBytes)
	}
}

// Eviction removes the lowest-priority, least-recently-used entries first.
func TestMemory_EvictionOrder(t *testing.T) {
	ctx := context.Background()
	cfg := defaultCfg()
	cfg.MaxItems = 10
	mem, mock := newTestTier(cfg)

	exp := mock.Now().Add(time.Hour).UnixNano()

	// oldest entry, but high priority
	require.NoError(t, mem.Set(ctx, entry("keep", "v", exp, tier.PriorityHigh)))
	mock.Add(time.Second)

	// second oldest, low priority: the eviction victim
	require.NoError(t, mem.Set(ctx, entry("drop", "v", exp, tier.PriorityLow)))
	mock.Add(time.Second)

	for i := 0; i < 8; i++ {
		require.NoError(t, mem.Set(ctx, entry(fmt.Sprintf("n%d", i), "v", exp, tier.PriorityNormal)))
		mock.Add(time.Second)
	}
	require.EqualValues(t, 10, mem.Len())

	// cap reached: this insert evicts one entry first
	require.NoError(t, mem.Set(ctx, entry("new", "v", exp, tier.PriorityNormal)))

	require.False(t, mem.Has("drop"))
	require.True(t, mem.Has("keep"))
	require.True(t, mem.Has("new"))
	require.EqualValues(t, 1, mem.Counters().Evictions)
}

// A fresh read protects an entry from eviction over a stale low-priority one
// of the same priority class.
func TestMemory_EvictionPrefersStale(t *testing.T) {
	ctx := context.Background()
	cfg := defaultCfg()
	cfg.MaxItems = 4
	mem, mock := newTestTier(cfg)

	exp := mock.Now().Add(time.Hour).UnixNano()
	for _, key := range []string{"a", "b", "c", "d"} {
		require.NoError(t, mem.Set(ctx, entry(key, "v", exp, tier.PriorityNormal)))
		mock.Add(time.Second)
	}

	// touch "a" so "b" becomes the least recently used
	_, err := mem.Get(ctx, "a")
	require.NoError(t, err)
	mock.Add(time.Second)

	require.NoError(t, mem.Set(ctx, entry("e", "v", exp, tier.PriorityNormal)))

	require.True(t, mem.Has("a"))
	require.False(t, mem.Has("b"))
}

func TestMemory_ClearPattern(t *testing.T) {
	ctx := context.Background()
	mem, mock := newTestTier(defaultCfg())

	exp := mock.Now().Add(time.Hour).UnixNano()
	for _, key := range []string{"user:1", "user:2", "order:1"} {
		require.NoError(t, mem.Set(ctx, entry(key, "v", exp, tier.PriorityNormal)))
	}

	removed, err := mem.Clear(ctx, regexp.MustCompile(`^user:`))
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)
	require.False(t, mem.Has("user:1"))
	require.True(t, mem.Has("order:1"))

	removed, err = mem.Clear(ctx, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
	require.EqualValues(t, 0, mem.Len())
}

func TestMemory_KeysPattern(t *testing.T) {
	ctx := context.Background()
	mem, mock := newTestTier(defaultCfg())

	exp := mock.Now().Add(time.Hour).UnixNano()
	for _, key := range []string{"user:1", "user:2", "order:1"} {
		require.NoError(t, mem.Set(ctx, entry(key, "v", exp, tier.PriorityNormal)))
	}

	keys, err := mem.Keys(ctx, nil)
	require.NoError(t, err)
	require.Len(t, keys, 3)

	keys, err = mem.Keys(ctx, regexp.MustCompile(`^order:`))
	require.NoError(t, err)
	require.Equal(t, []string{"order:1"}, keys)
}

func TestMemory_Remove(t *testing.T) {
	ctx := context.Background()
	mem, mock := newTestTier(defaultCfg())

	exp := mock.Now().Add(time.Hour).UnixNano()
	require.NoError(t, mem.Set(ctx, entry("k", "v", exp, tier.PriorityNormal)))

	hit, err := mem.Remove(ctx, "k")
	require.NoError(t, err)
	require.True(t, hit)
	require.EqualValues(t, 0, mem.Len())
	require.EqualValues(t, 0, mem.Mem())

	hit, err = mem.Remove(ctx, "k")
	require.NoError(t, err)
	require.False(t, hit)
}

// Racing overwrites of one key leave a fully consistent entry: every field
// from one writer, never a mix of the two.
func TestMemory_ConcurrentOverwriteConsistent(t *testing.T) {
	ctx := context.Background()
	mem, mock := newTestTier(defaultCfg())

	expA := mock.Now().Add(time.Hour).UnixNano()
	expB := mock.Now().Add(2 * time.Hour).UnixNano()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = mem.Set(ctx, entry("k", "alpha", expA, tier.PriorityHigh))
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = mem.Set(ctx, entry("k", "bravo-bravo", expB, tier.PriorityLow))
		}
	}()
	wg.Wait()

	e, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, e)

	switch string(e.Value) {
	case "alpha":
		require.Equal(t, expA, e.ExpiresAt)
		require.Equal(t, tier.PriorityHigh, e.Priority)
		require.EqualValues(t, len("alpha"), e.Size)
	case "bravo-bravo":
		require.Equal(t, expB, e.ExpiresAt)
		require.Equal(t, tier.PriorityLow, e.Priority)
		require.EqualValues(t, len("bravo-bravo"), e.Size)
	default:
		t.Fatalf("mixed entry observed: %q", e.Value)
	}
	require.EqualValues(t, e.Size, mem.Mem())
	require.EqualValues(t, 1, mem.Len())
}

// Concurrent writers and readers never corrupt aggregate counters.
func TestMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	cfg := defaultCfg()
	cfg.MaxItems = 200
	mem, mock := newTestTier(cfg)

	exp := mock.Now().Add(time.Hour).UnixNano()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%03d", i)
				_ = mem.Set(ctx, entry(key, "value", exp, tier.PriorityNormal))
				_, _ = mem.Get(ctx, key)
			}
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, mem.Len(), cfg.MaxItems)
	require.GreaterOrEqual(t, mem.Len(), int64(1))
	require.Positive(t, mem.Mem())
}
