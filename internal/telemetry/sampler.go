package telemetry

import (
	"github.com/tiercache/tiercache/internal/coordinator"
	"github.com/tiercache/tiercache/internal/sweeper"
)

type sampler struct {
	coor    *coordinator.Coordinator
	sweeper sweeper.Sweeper
}

func newSampler(c *coordinator.Coordinator, sw sweeper.Sweeper) sampler {
	return sampler{coor: c, sweeper: sw}
}

// snapshot holds cumulative counters (monotonic).
type snapshot struct {
	stats coordinator.Stats

	sweeps       int64
	sweptEntries int64
	sweepErrors  int64
}

func (s sampler) snapshot() snapshot {
	sweeps, removed, errs := s.sweeper.Metrics()
	return snapshot{
		stats:        s.coor.Stats(),
		sweeps:       sweeps,
		sweptEntries: removed,
		sweepErrors:  errs,
	}
}

// deltaSnapshot converts cumulative snapshots to per-interval deltas.
// Gauges (item counts, byte sizes, hit rate) are carried over as-is.
func deltaSnapshot(prev, cur snapshot) snapshot {
	d := cur

	d.stats.Hits = delta(prev.stats.Hits, cur.stats.Hits)
	d.stats.Misses = delta(prev.stats.Misses, cur.stats.Misses)
	d.stats.Evictions = delta(prev.stats.Evictions, cur.stats.Evictions)
	d.stats.PrefetchTriggered = delta(prev.stats.PrefetchTriggered, cur.stats.PrefetchTriggered)
	d.stats.PrefetchLoaded = delta(prev.stats.PrefetchLoaded, cur.stats.PrefetchLoaded)
	d.stats.PrefetchDropped = delta(prev.stats.PrefetchDropped, cur.stats.PrefetchDropped)

	d.sweeps = delta(prev.sweeps, cur.sweeps)
	d.sweptEntries = delta(prev.sweptEntries, cur.sweptEntries)
	d.sweepErrors = delta(prev.sweepErrors, cur.sweepErrors)
	return d
}

func delta(prev, cur int64) int64 {
	if cur >= prev {
		return cur - prev
	}
	return cur
}
