package coordinator

import "sync/atomic"

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func newCounters() *counters {
	return &counters{}
}

func (c *counters) snapshot() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
