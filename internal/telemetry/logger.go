package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/tiercache/tiercache/config"
	"github.com/tiercache/tiercache/internal/coordinator"
	"github.com/tiercache/tiercache/internal/shared/bytes"
	"github.com/tiercache/tiercache/internal/sweeper"
)

type Logger interface {
	Interval() time.Duration
	Close() error
}

type Logs struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.Cache
	logger   *slog.Logger
	sampler  sampler
	interval time.Duration
}

func New(
	ctx context.Context,
	cfg *config.Cache,
	logger *slog.Logger,
	coor *coordinator.Coordinator,
	sw sweeper.Sweeper,
) *Logs {
	ctx, cancel := context.WithCancel(ctx)
	l := &Logs{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		logger:  logger,
		sampler: newSampler(coor, sw),
	}
	if cfg.Telemetry.Enabled() {
		l.interval = cfg.Telemetry.Interval
		go l.loop()
	}
	return l
}

func (l *Logs) Interval() time.Duration {
	return l.interval
}

func (l *Logs) Close() error {
	l.cancel()
	return nil
}

func (l *Logs) loop() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	memLimit := bytes.FmtMem(uint64(l.cfg.Memory.MaxBytes))
	prev := l.sampler.snapshot()

	for {
		select {
		case <-l.ctx.Done():
			return

		case <-ticker.C:
			cur := l.sampler.snapshot()
			d := deltaSnapshot(prev, cur)
			prev = cur

			common := []any{"interval", l.interval.String()}

			l.logger.Info("lookups",
				append(common,
					"hits", d.stats.Hits,
					"misses", d.stats.Misses,
					"hit_rate", cur.stats.HitRate,
				)...,
			)

			l.logger.Info("memory_tier",
				append(common,
					"entries", cur.stats.MemoryItems,
					"size", bytes.FmtMem(uint64(max(cur.stats.MemoryBytes, 0))),
					"limit", memLimit,
					"evicted", d.stats.Evictions,
					"expired_pending", cur.stats.ExpiredPending,
				)...,
			)

			if l.cfg.Session.Enabled() {
				l.logger.Info("session_tier",
					append(common,
						"entries", cur.stats.Session.Items,
						"size", bytes.FmtMem(uint64(max(cur.stats.Session.Bytes, 0))),
					)...,
				)
			}

			if l.cfg.Durable.Enabled() {
				l.logger.Info("durable_tier",
					append(common,
						"entries", cur.stats.Durable.Items,
						"size", bytes.FmtMem(uint64(max(cur.stats.Durable.Bytes, 0))),
					)...,
				)
			}

			if l.cfg.Prefetch.Enabled() {
				l.logger.Info("prefetcher",
					append(common,
						"triggered", d.stats.PrefetchTriggered,
						"loaded", d.stats.PrefetchLoaded,
						"dropped", d.stats.PrefetchDropped,
						"tracked_keys", cur.stats.TrackedKeys,
					)...,
				)
			}

			l.logger.Info("sweeper",
				append(common,
					"sweeps", d.sweeps,
					"removed", d.sweptEntries,
					"errors", d.sweepErrors,
				)...,
			)

			if l.cfg.Compression.Enabled() {
				l.logger.Info("compression",
					append(common,
						"bytes_saved", bytes.FmtMem(uint64(max(cur.stats.BytesSavedByCompression, 0))),
					)...,
				)
			}
		}
	}
}
