package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tiercache/tiercache/internal/tier"
)

// item is the physical storage slot. The slot is owned exclusively by its
// shard: writers replace the whole pointer, so a reader either sees the old
// item or the new one, never a mix of fields.
type item struct {
	value        []byte
	expiresAt    int64
	storedAt     int64
	lastAccessed atomic.Int64
	priority     tier.Priority
	size         int64
}

// shard is an independent segment of the sharded map. Per-shard locking
// gives same-key linearizability without serializing unrelated keys.
type shard struct {
	sync.RWMutex
	items map[string]*item
}

func newShard() *shard {
	return &shard{items: make(map[string]*item)}
}

func (sh *shard) get(key string) (*item, bool) {
	sh.RLock()
	it, ok := sh.items[key]
	sh.RUnlock()
	return it, ok
}

// set inserts or overwrites a key. Returns deltas for global aggregation.
func (sh *shard) set(key string, it *item) (bytesDelta, lenDelta int64) {
	sh.Lock()
	if old, hit := sh.items[key]; hit {
		bytesDelta = it.size - old.size
	} else {
		bytesDelta = it.size
		lenDelta = 1
	}
	sh.items[key] = it
	sh.Unlock()
	return
}

func (sh *shard) remove(key string) (freedBytes int64, hit bool) {
	sh.Lock()
	var old *item
	if old, hit = sh.items[key]; hit {
		delete(sh.items, key)
		freedBytes = old.size
	}
	sh.Unlock()
	return
}

// removeIf deletes key only while pred holds under the write lock, so an
// eviction never races a concurrent overwrite of the same key.
func (sh *shard) removeIf(key string, pred func(*item) bool) (freedBytes int64, hit bool) {
	sh.Lock()
	if old, ok := sh.items[key]; ok && pred(old) {
		delete(sh.items, key)
		freedBytes = old.size
		hit = true
	}
	sh.Unlock()
	return
}

func (sh *shard) clear() (freedBytes, items int64) {
	sh.Lock()
	for _, it := range sh.items {
		freedBytes += it.size
	}
	items = int64(len(sh.items))
	sh.items = make(map[string]*item)
	sh.Unlock()
	return
}

// walkR iterates (k,v) under the shared lock. The callback must be light.
func (sh *shard) walkR(ctx context.Context, fn func(string, *item) bool) {
	sh.RLock()
	defer sh.RUnlock()
	for k, it := range sh.items {
		select {
		case <-ctx.Done():
			return
		default:
			if !fn(k, it) {
				return
			}
		}
	}
}

// walkRemove deletes every (k,v) matching pred under the write lock.
func (sh *shard) walkRemove(ctx context.Context, pred func(string, *item) bool) (freedBytes, removed int64) {
	sh.Lock()
	defer sh.Unlock()
	for k, it := range sh.items {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if pred(k, it) {
			delete(sh.items, k)
			freedBytes += it.size
			removed++
		}
	}
	return
}
