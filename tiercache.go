// Package tiercache is a tiered key-value cache: a fast bounded in-process
// tier over an ephemeral persisted session tier over a durable on-disk
// tier, with TTL expiry, priority+recency eviction, optional payload
// compression and access-pattern-driven prefetching.
package tiercache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tiercache/tiercache/config"
	"github.com/tiercache/tiercache/internal/codec"
	"github.com/tiercache/tiercache/internal/coordinator"
	"github.com/tiercache/tiercache/internal/snapshot"
	"github.com/tiercache/tiercache/internal/sweeper"
	"github.com/tiercache/tiercache/internal/telemetry"
	"github.com/tiercache/tiercache/internal/tier"
	"github.com/tiercache/tiercache/internal/tier/memory"
	"github.com/tiercache/tiercache/internal/tier/persist"
)

// Priority orders entries for eviction: lowest priority goes first.
type Priority = tier.Priority

const (
	PriorityLow    = tier.PriorityLow
	PriorityNormal = tier.PriorityNormal
	PriorityHigh   = tier.PriorityHigh
)

// Stats is a point-in-time snapshot of the whole hierarchy.
type Stats = coordinator.Stats

type TierCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration, opts ...SetOption)
	SetWait(ctx context.Context, key string, value []byte, ttl time.Duration, opts ...SetOption) error
	Delete(key string) bool
	Clear(pattern string) (int64, error)
	Keys(pattern string) ([]string, error)
	Stats() Stats
	Subscribe() <-chan Stats
	ExportSnapshot() ([]byte, error)
	ImportSnapshot(data []byte) error
	ForceSweep(timeout time.Duration) error
	io.Closer
}

type Cache struct {
	ctx    context.Context
	cls    context.CancelFunc
	cfg    *config.Cache
	clock  clock.Clock
	coor   *coordinator.Coordinator
	sweep  *sweeper.Worker
	tele   telemetry.Logger
	logger *slog.Logger
	once   sync.Once
}

// New assembles the hierarchy from cfg. Persisted tiers that fail to open
// are logged and left out: availability degrades toward memory-tier-only
// behavior instead of failing construction.
func New(ctx context.Context, cfg *config.Cache, logger *slog.Logger) *Cache {
	if cfg == nil {
		cfg = config.Default()
	}
	ctx, cancel := context.WithCancel(ctx)

	clk := clock.New()
	cdc := codec.New(cfg.Compression)
	mem := memory.New(&cfg.Memory, clk)

	var session, durable tier.Tier
	if cfg.Session.Enabled() {
		s, err := persist.Open(persist.Options{
			Name:     "session",
			InMemory: true,
			MaxBytes: cfg.Session.MaxBytes,
		}, cdc, clk)
		if err != nil {
			logger.Warn("session tier disabled", "error", err)
		} else {
			session = s
		}
	}
	if cfg.Durable.Enabled() {
		d, err := persist.Open(persist.Options{
			Name:        "durable",
			Dir:         cfg.Durable.Dir,
			MaxBytes:    cfg.Durable.MaxBytes,
			ExpiryIndex: true,
		}, cdc, clk)
		if err != nil {
			logger.Warn("durable tier disabled", "error", err)
		} else {
			durable = d
		}
	}

	coor := coordinator.New(ctx, cfg, logger, clk, mem, session, durable, cdc)

	var afterSweep func(context.Context) error
	if cfg.Snapshot.Enabled() {
		if _, err := snapshot.Load(ctx, mem, clk, cfg.Snapshot); err != nil {
			logger.Warn("snapshot restore failed", "error", err)
		}
		afterSweep = func(ctx context.Context) error {
			return snapshot.Save(ctx, mem, cfg.Snapshot)
		}
	}
	sweep := sweeper.New(ctx, &cfg.Cleanup, logger, coor.Tiers(), afterSweep)
	tele := telemetry.New(ctx, cfg, logger, coor, sweep)

	return &Cache{
		ctx:    ctx,
		cls:    cancel,
		cfg:    cfg,
		clock:  clk,
		coor:   coor,
		sweep:  sweep,
		tele:   tele,
		logger: logger,
	}
}

// Get returns the value for key, promoting slower-tier hits into the
// faster tiers along the way.
func (c *Cache) Get(key string) ([]byte, bool) {
	return c.coor.Get(c.ctx, key)
}

// Set stores value under key. Persisted-tier writes are issued in the
// background and never block the caller; use SetWait for a durability
// guarantee.
func (c *Cache) Set(key string, value []byte, ttl time.Duration, opts ...SetOption) {
	c.coor.Set(c.ctx, key, value, ttl, buildSetOptions(opts))
}

// SetWait stores value and blocks until every persisted tier accepted or
// rejected the write.
func (c *Cache) SetWait(ctx context.Context, key string, value []byte, ttl time.Duration, opts ...SetOption) error {
	return c.coor.SetWait(ctx, key, value, ttl, buildSetOptions(opts))
}

// Delete removes key from every tier.
func (c *Cache) Delete(key string) bool {
	return c.coor.Delete(c.ctx, key)
}

// Clear removes entries whose key matches the regular expression pattern
// from every tier. An empty pattern clears everything. Returns the number
// of entries removed.
func (c *Cache) Clear(pattern string) (int64, error) {
	return c.coor.Clear(c.ctx, pattern)
}

// Keys lists distinct keys across all tiers, filtered by the optional
// regular expression pattern.
func (c *Cache) Keys(pattern string) ([]string, error) {
	return c.coor.Keys(c.ctx, pattern)
}

func (c *Cache) Stats() Stats { return c.coor.Stats() }

// Subscribe returns a channel receiving periodic stats snapshots. Slow
// receivers miss snapshots; they are never blocked on.
func (c *Cache) Subscribe() <-chan Stats { return c.coor.Subscribe() }

// ExportSnapshot serializes all live memory-tier entries.
func (c *Cache) ExportSnapshot() ([]byte, error) {
	gzipOn := c.cfg.Snapshot.Enabled() && c.cfg.Snapshot.Gzip
	return snapshot.Export(c.ctx, c.coor.Memory(), gzipOn)
}

// ImportSnapshot replays an exported snapshot into the memory tier,
// skipping entries that expired in the meantime.
func (c *Cache) ImportSnapshot(data []byte) error {
	_, err := snapshot.Import(c.ctx, c.coor.Memory(), c.clock, data)
	return err
}

// ForceSweep triggers an immediate cleanup pass and waits for it.
func (c *Cache) ForceSweep(timeout time.Duration) error {
	return c.sweep.ForceSweep(timeout)
}

func (c *Cache) Close() error {
	c.once.Do(func() {
		c.cls()
		_ = c.coor.Close()
		_ = c.tele.Close()
		for _, t := range c.coor.Tiers() {
			if err := t.Close(); err != nil {
				c.logger.Warn("tier close failed", "tier", t.Name(), "error", err)
			}
		}
	})
	return nil
}
