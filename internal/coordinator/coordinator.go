// Package coordinator orchestrates the tier hierarchy: read fallthrough
// with promotion, write fan-out, pattern invalidation and prefetch
// triggering. Tier failures degrade to misses or skipped writes; they never
// fail the overall call.
package coordinator

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tiercache/tiercache/config"
	"github.com/tiercache/tiercache/internal/codec"
	"github.com/tiercache/tiercache/internal/prefetch"
	"github.com/tiercache/tiercache/internal/tier"
	"github.com/tiercache/tiercache/internal/tier/memory"
	"github.com/tiercache/tiercache/internal/tracker"
)

// SetOptions control one write.
type SetOptions struct {
	Priority   tier.Priority
	Persistent bool
}

type Coordinator struct {
	ctx    context.Context
	cfg    *config.Cache
	logger *slog.Logger
	clock  clock.Clock

	memory  *memory.Tier
	session tier.Tier // nil when the session tier is disabled
	durable tier.Tier // nil when the durable tier is disabled

	codec      *codec.Codec
	tracker    *tracker.Tracker
	prefetcher *prefetch.Worker

	counters *counters
	pub      *publisher
	fanoutWG sync.WaitGroup
}

func New(
	ctx context.Context,
	cfg *config.Cache,
	logger *slog.Logger,
	clk clock.Clock,
	mem *memory.Tier,
	session, durable tier.Tier,
	cdc *codec.Codec,
) *Coordinator {
	c := &Coordinator{
		ctx:      ctx,
		cfg:      cfg,
		logger:   logger,
		clock:    clk,
		memory:   mem,
		session:  session,
		durable:  durable,
		codec:    cdc,
		counters: newCounters(),
	}
	if cfg.Prefetch.Enabled() {
		c.tracker = tracker.New(cfg.Prefetch, clk)
		c.prefetcher = prefetch.New(ctx, cfg.Prefetch, logger, c.tracker, c)
	}
	c.pub = newPublisher(ctx, c)
	return c
}

// Get walks memory, session and durable in order, promoting hits upward.
// A tier failure is logged and treated as a miss for that tier.
func (c *Coordinator) Get(ctx context.Context, key string) ([]byte, bool) {
	defer c.afterLookup(key)

	if e, _ := c.memory.Get(ctx, key); e != nil {
		c.counters.hits.Add(1)
		return e.Value, true
	}

	if e := c.tierGet(ctx, c.session, key); e != nil {
		c.promote(ctx, e, c.memory)
		c.counters.hits.Add(1)
		return e.Value, true
	}

	if e := c.tierGet(ctx, c.durable, key); e != nil {
		c.promote(ctx, e, c.memory)
		if c.session != nil {
			c.promoteAsync(e, c.session)
		}
		c.counters.hits.Add(1)
		return e.Value, true
	}

	c.counters.misses.Add(1)
	return nil, false
}

// Set writes to the memory tier unconditionally and fans persisted writes
// out to the session and durable tiers without blocking the caller.
func (c *Coordinator) Set(ctx context.Context, key string, value []byte, ttl time.Duration, opts SetOptions) {
	e := c.makeEntry(key, value, ttl, opts.Priority)

	_ = c.memory.Set(ctx, e)
	if opts.Persistent {
		c.fanout(e, c.session)
		c.fanout(e, c.durable)
	}

	c.afterLookup(key)
}

// SetWait is the explicit durability variant: it blocks until every
// applicable persisted tier accepted (or rejected) the write and returns
// the first rejection.
func (c *Coordinator) SetWait(ctx context.Context, key string, value []byte, ttl time.Duration, opts SetOptions) error {
	e := c.makeEntry(key, value, ttl, opts.Priority)

	_ = c.memory.Set(ctx, e)

	var err error
	if opts.Persistent {
		var wg sync.WaitGroup
		var sessionErr, durableErr error
		if c.session != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sessionErr = c.session.Set(ctx, e)
			}()
		}
		if c.durable != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				durableErr = c.durable.Set(ctx, e)
			}()
		}
		wg.Wait()
		if sessionErr != nil {
			err = sessionErr
		}
		if durableErr != nil && err == nil {
			err = durableErr
		}
	}

	c.afterLookup(key)
	return err
}

// Delete removes key from every tier.
func (c *Coordinator) Delete(ctx context.Context, key string) bool {
	hit, _ := c.memory.Remove(ctx, key)
	for _, t := range []tier.Tier{c.session, c.durable} {
		if t == nil {
			continue
		}
		tierHit, err := t.Remove(ctx, key)
		if err != nil {
			c.logger.Warn("tier remove degraded", "tier", t.Name(), "key", key, "error", err)
			continue
		}
		hit = hit || tierHit
	}
	return hit
}

// Clear removes entries matching pattern (all entries when pattern is
// empty) from every tier and reports how many were dropped. Tier failures
// degrade: the remaining tiers are still cleared.
func (c *Coordinator) Clear(ctx context.Context, pattern string) (int64, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return 0, err
	}

	total, _ := c.memory.Clear(ctx, re)
	for _, t := range []tier.Tier{c.session, c.durable} {
		if t == nil {
			continue
		}
		n, err := t.Clear(ctx, re)
		total += n
		if err != nil {
			c.logger.Warn("tier clear degraded", "tier", t.Name(), "error", err)
		}
	}
	return total, nil
}

// Keys lists distinct keys across all tiers, optionally filtered.
func (c *Coordinator) Keys(ctx context.Context, pattern string) ([]string, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var keys []string
	collect := func(ks []string) {
		for _, k := range ks {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	memKeys, _ := c.memory.Keys(ctx, re)
	collect(memKeys)
	for _, t := range []tier.Tier{c.session, c.durable} {
		if t == nil {
			continue
		}
		ks, err := t.Keys(ctx, re)
		if err != nil {
			c.logger.Warn("tier keys degraded", "tier", t.Name(), "error", err)
			continue
		}
		collect(ks)
	}
	return keys, nil
}

// PrefetchCandidate loads key through the session and durable tiers and
// inserts a hit into the memory tier at low priority, so prefetched entries
// never outrank explicitly requested ones. Skips keys already resident.
func (c *Coordinator) PrefetchCandidate(ctx context.Context, key string) bool {
	if c.memory.Has(key) {
		return false
	}

	e := c.tierGet(ctx, c.session, key)
	if e == nil {
		e = c.tierGet(ctx, c.durable, key)
	}
	if e == nil {
		return false
	}

	e.Priority = tier.PriorityLow
	_ = c.memory.Set(ctx, e)
	return true
}

// Memory exposes the fast tier for snapshot export and sweep wiring.
func (c *Coordinator) Memory() *memory.Tier { return c.memory }

// Tiers returns every live tier, fastest first.
func (c *Coordinator) Tiers() []tier.Tier {
	ts := []tier.Tier{c.memory}
	if c.session != nil {
		ts = append(ts, c.session)
	}
	if c.durable != nil {
		ts = append(ts, c.durable)
	}
	return ts
}

// Subscribe registers a stats observer. Snapshots are published on an
// interval; slow subscribers miss snapshots instead of blocking the
// publisher.
func (c *Coordinator) Subscribe() <-chan Stats { return c.pub.subscribe() }

func (c *Coordinator) Close() error {
	c.fanoutWG.Wait()
	if c.prefetcher != nil {
		return c.prefetcher.Close()
	}
	return nil
}

func (c *Coordinator) makeEntry(key string, value []byte, ttl time.Duration, priority tier.Priority) *tier.Entry {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	return &tier.Entry{
		Key:       key,
		Value:     value,
		ExpiresAt: c.clock.Now().Add(ttl).UnixNano(),
		Priority:  priority,
		Size:      int64(len(value)),
	}
}

// tierGet is the degrading read: backend failures and decode corruption
// count as misses here and the caller moves on to the next tier.
func (c *Coordinator) tierGet(ctx context.Context, t tier.Tier, key string) *tier.Entry {
	if t == nil {
		return nil
	}
	e, err := t.Get(ctx, key)
	if err != nil {
		c.logger.Warn("tier get degraded", "tier", t.Name(), "key", key, "error", err)
		return nil
	}
	return e
}

func (c *Coordinator) promote(ctx context.Context, e *tier.Entry, dst *memory.Tier) {
	_ = dst.Set(ctx, e)
}

func (c *Coordinator) promoteAsync(e *tier.Entry, dst tier.Tier) {
	c.fanout(e, dst)
}

// fanout issues a best-effort write; failures are logged, never surfaced.
func (c *Coordinator) fanout(e *tier.Entry, dst tier.Tier) {
	if dst == nil {
		return
	}
	c.fanoutWG.Add(1)
	go func() {
		defer c.fanoutWG.Done()
		if err := dst.Set(c.ctx, e); err != nil {
			c.logger.Warn("tier write degraded", "tier", dst.Name(), "key", e.Key, "error", err)
		}
	}()
}

// afterLookup feeds the access tracker and kicks the prefetcher. Runs for
// hits and misses alike: the pattern history needs both, and a visit to a
// key is what pulls its correlated neighbours into memory.
func (c *Coordinator) afterLookup(key string) {
	if c.tracker == nil {
		return
	}
	c.tracker.RecordVisit(key)
	c.prefetcher.Trigger(key)
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}
