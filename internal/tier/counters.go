package tier

import "sync/atomic"

// Counters are mutated only by the owning tier and read by the coordinator
// for reporting. All fields are atomics so snapshots need no locks.
type Counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
	items     atomic.Int64
	bytes     atomic.Int64
}

type Snapshot struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expired   int64
	Items     int64
	Bytes     int64
}

func (c *Counters) Hit()                 { c.hits.Add(1) }
func (c *Counters) Miss()                { c.misses.Add(1) }
func (c *Counters) Evicted(n int64)      { c.evictions.Add(n) }
func (c *Counters) Swept(n int64)        { c.expired.Add(n) }
func (c *Counters) AddItems(delta int64) { c.items.Add(delta) }
func (c *Counters) AddBytes(delta int64) { c.bytes.Add(delta) }
func (c *Counters) Items() int64         { return c.items.Load() }
func (c *Counters) Bytes() int64         { return c.bytes.Load() }

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
		Items:     c.items.Load(),
		Bytes:     c.bytes.Load(),
	}
}
