package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/tiercache/tiercache/internal/tier"
)

// Stats is a point-in-time snapshot of the whole hierarchy. Hits and misses
// count coordinator-level lookups: a session-tier hit is a cache hit even
// though the memory tier missed.
type Stats struct {
	Hits    int64
	Misses  int64
	HitRate float64

	MemoryItems    int64
	MemoryBytes    int64
	Evictions      int64
	ExpiredPending int64

	BytesSavedByCompression int64

	Memory  tier.Snapshot
	Session tier.Snapshot
	Durable tier.Snapshot

	PrefetchTriggered int64
	PrefetchLoaded    int64
	PrefetchDropped   int64
	TrackedKeys       int
}

func (c *Coordinator) Stats() Stats {
	hits, misses := c.counters.snapshot()

	s := Stats{
		Hits:                    hits,
		Misses:                  misses,
		Memory:                  c.memory.Counters(),
		BytesSavedByCompression: c.codec.BytesSaved(),
		ExpiredPending:          c.memory.CountExpired(c.ctx),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	s.MemoryItems = s.Memory.Items
	s.MemoryBytes = s.Memory.Bytes
	s.Evictions = s.Memory.Evictions

	if c.session != nil {
		s.Session = c.session.Counters()
	}
	if c.durable != nil {
		s.Durable = c.durable.Counters()
	}
	if c.prefetcher != nil {
		s.PrefetchTriggered, s.PrefetchLoaded, s.PrefetchDropped = c.prefetcher.Metrics()
	}
	if c.tracker != nil {
		s.TrackedKeys = c.tracker.TrackedKeys()
	}
	return s
}

const publishInterval = 5 * time.Second

// publisher pushes stats snapshots to subscribers instead of invoking
// listener callbacks inline, so a slow or broken observer cannot stall or
// crash the coordinator.
type publisher struct {
	mu   sync.Mutex
	subs []chan Stats
	coor *Coordinator
}

func newPublisher(ctx context.Context, coor *Coordinator) *publisher {
	p := &publisher{coor: coor}
	go p.loop(ctx)
	return p
}

func (p *publisher) subscribe() <-chan Stats {
	ch := make(chan Stats, 1)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

func (p *publisher) loop(ctx context.Context) {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			subs := p.subs
			p.mu.Unlock()
			if len(subs) == 0 {
				continue
			}

			snapshot := p.coor.Stats()
			for _, ch := range subs {
				select {
				case ch <- snapshot:
				default: // subscriber lagging, skip this snapshot
				}
			}
		}
	}
}
