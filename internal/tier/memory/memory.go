// Package memory implements the fast bounded in-process tier: a sharded
// associative store with lazy TTL expiry and priority+recency batch
// eviction.
package memory

import (
	"context"
	"math"
	"regexp"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/zeebo/xxh3"

	"github.com/tiercache/tiercache/config"
	"github.com/tiercache/tiercache/internal/tier"
)

type Tier struct {
	cfg      *config.MemoryCfg
	clock    clock.Clock
	counters *tier.Counters
	shards   []*shard
	mask     uint64
}

func New(cfg *config.MemoryCfg, clk clock.Clock) *Tier {
	t := &Tier{
		cfg:      cfg,
		clock:    clk,
		counters: &tier.Counters{},
		shards:   make([]*shard, cfg.Shards),
		mask:     uint64(cfg.Shards - 1), // Shards is a power of two
	}
	for i := range t.shards {
		t.shards[i] = newShard()
	}
	return t
}

func (t *Tier) Name() string { return "memory" }

func (t *Tier) shard(key string) *shard {
	return t.shards[xxh3.HashString(key)&t.mask]
}

// Get returns a clean miss for absent and expired keys. Expired entries
// stay in place until the sweep; they are logically absent either way.
func (t *Tier) Get(_ context.Context, key string) (*tier.Entry, error) {
	it, ok := t.shard(key).get(key)
	if !ok {
		t.counters.Miss()
		return nil, nil
	}

	now := t.clock.Now()
	if it.expired(now.UnixNano()) {
		t.counters.Miss()
		return nil, nil
	}

	it.lastAccessed.Store(now.UnixNano())
	t.counters.Hit()
	return t.materialize(key, it), nil
}

// Has probes for a live entry without touching recency or hit/miss
// counters. Used by the prefetch path to skip keys already resident.
func (t *Tier) Has(key string) bool {
	it, ok := t.shard(key).get(key)
	return ok && !it.expired(t.clock.Now().UnixNano())
}

// Set inserts or overwrites. When the write would exceed the item or byte
// cap, batch evictions run first until the write fits or the tier is empty.
// Overwrites count their byte growth against the cap the same as inserts.
func (t *Tier) Set(_ context.Context, e *tier.Entry) error {
	sh := t.shard(e.Key)

	for {
		old, exists := sh.get(e.Key)
		itemsDelta, bytesDelta := int64(1), e.Size
		if exists {
			itemsDelta, bytesDelta = 0, e.Size-old.size
		}
		if !t.overCapacity(itemsDelta, bytesDelta) || t.evict() == 0 {
			break
		}
	}

	now := t.clock.Now().UnixNano()
	it := &item{
		value:     e.Value,
		expiresAt: e.ExpiresAt,
		storedAt:  now,
		priority:  e.Priority,
		size:      e.Size,
	}
	it.lastAccessed.Store(now)

	bytesDelta, lenDelta := sh.set(e.Key, it)
	t.counters.AddBytes(bytesDelta)
	t.counters.AddItems(lenDelta)
	return nil
}

func (t *Tier) Remove(_ context.Context, key string) (bool, error) {
	freed, hit := t.shard(key).remove(key)
	if hit {
		t.counters.AddBytes(-freed)
		t.counters.AddItems(-1)
	}
	return hit, nil
}

// RemoveExpired physically drops expired entries. Invoked by the cleanup
// sweep, never on the request path.
func (t *Tier) RemoveExpired(ctx context.Context) (int64, error) {
	now := t.clock.Now().UnixNano()
	var total int64
	for _, sh := range t.shards {
		freed, removed := sh.walkRemove(ctx, func(_ string, it *item) bool {
			return it.expired(now)
		})
		t.counters.AddBytes(-freed)
		t.counters.AddItems(-removed)
		total += removed
	}
	t.counters.Swept(total)
	return total, nil
}

func (t *Tier) Clear(ctx context.Context, pattern *regexp.Regexp) (int64, error) {
	var total int64
	for _, sh := range t.shards {
		var freed, removed int64
		if pattern == nil {
			freed, removed = sh.clear()
		} else {
			freed, removed = sh.walkRemove(ctx, func(k string, _ *item) bool {
				return pattern.MatchString(k)
			})
		}
		t.counters.AddBytes(-freed)
		t.counters.AddItems(-removed)
		total += removed
	}
	return total, nil
}

func (t *Tier) Keys(ctx context.Context, pattern *regexp.Regexp) ([]string, error) {
	var keys []string
	for _, sh := range t.shards {
		sh.walkR(ctx, func(k string, _ *item) bool {
			if pattern == nil || pattern.MatchString(k) {
				keys = append(keys, k)
			}
			return true
		})
	}
	return keys, nil
}

// CountExpired reports entries past their TTL which the sweep has not yet
// removed.
func (t *Tier) CountExpired(ctx context.Context) int64 {
	now := t.clock.Now().UnixNano()
	var n int64
	for _, sh := range t.shards {
		sh.walkR(ctx, func(_ string, it *item) bool {
			if it.expired(now) {
				n++
			}
			return true
		})
	}
	return n
}

// Export hands every live entry to fn, for snapshotting. Entries are
// materialized copies; fn never touches shard-internal state.
func (t *Tier) Export(ctx context.Context, fn func(*tier.Entry) bool) {
	now := t.clock.Now().UnixNano()
	for _, sh := range t.shards {
		sh.walkR(ctx, func(k string, it *item) bool {
			if it.expired(now) {
				return true
			}
			return fn(t.materialize(k, it))
		})
	}
}

func (t *Tier) Counters() tier.Snapshot { return t.counters.Snapshot() }
func (t *Tier) Len() int64              { return t.counters.Items() }
func (t *Tier) Mem() int64              { return t.counters.Bytes() }
func (t *Tier) Close() error            { return nil }

func (t *Tier) overCapacity(itemsDelta, bytesDelta int64) bool {
	return t.counters.Items()+itemsDelta > t.cfg.MaxItems ||
		t.counters.Bytes()+bytesDelta > t.cfg.MaxBytes
}

type victim struct {
	key          string
	shard        *shard
	item         *item
	priority     tier.Priority
	lastAccessed int64
}

// evict removes the lowest EvictFraction of current entries (rounded up,
// minimum one), ordered by priority ascending then last access ascending,
// and reports how many were removed. Removal goes through the same
// per-shard locks as get/set, so an in-flight read observes either the
// full value or a clean miss.
func (t *Tier) evict() int64 {
	victims := make([]victim, 0, t.counters.Items())
	for _, sh := range t.shards {
		sh.walkR(context.Background(), func(k string, it *item) bool {
			victims = append(victims, victim{
				key:          k,
				shard:        sh,
				item:         it,
				priority:     it.priority,
				lastAccessed: it.lastAccessed.Load(),
			})
			return true
		})
	}
	if len(victims) == 0 {
		return 0
	}

	sort.Slice(victims, func(i, j int) bool {
		if victims[i].priority != victims[j].priority {
			return victims[i].priority < victims[j].priority
		}
		return victims[i].lastAccessed < victims[j].lastAccessed
	})

	batch := int(math.Ceil(t.cfg.EvictFraction * float64(len(victims))))
	if batch < 1 {
		batch = 1
	}

	var evicted int64
	for _, v := range victims[:batch] {
		// skip slots already replaced by a concurrent overwrite
		freed, hit := v.shard.removeIf(v.key, func(cur *item) bool {
			return cur == v.item
		})
		if hit {
			t.counters.AddBytes(-freed)
			t.counters.AddItems(-1)
			evicted++
		}
	}
	t.counters.Evicted(evicted)
	return evicted
}

func (t *Tier) materialize(key string, it *item) *tier.Entry {
	return &tier.Entry{
		Key:          key,
		Value:        it.value,
		ExpiresAt:    it.expiresAt,
		LastAccessed: it.lastAccessed.Load(),
		StoredAt:     it.storedAt,
		Priority:     it.priority,
		Size:         it.size,
	}
}

func (it *item) expired(nowNano int64) bool {
	return it.expiresAt > 0 && nowNano > it.expiresAt
}
