// Package sweeper runs the periodic cleanup pass: expired entries are
// physically removed from every tier in sequence, then the durable store
// gets a chance to reclaim space. One failed sweep never stops the next.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tiercache/tiercache/config"
	"github.com/tiercache/tiercache/internal/tier"
)

var ErrSweeperNotResponded = errors.New("sweeper not responded")

type Sweeper interface {
	ForceSweep(timeout time.Duration) error
	Metrics() (sweeps, removed, errs int64)
	Close() error
}

// Maintainer is the optional post-sweep hook a tier can expose
// (value log garbage collection on the durable store).
type Maintainer interface {
	GC(discardRatio float64) error
}

const gcDiscardRatio = 0.5

type Worker struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.CleanupCfg
	logger   *slog.Logger
	tiers    []tier.Tier
	after    func(context.Context) error // optional, runs after each pass
	counters *sweeperCounters
	invokeCh chan chan struct{}
}

// New starts the sweep loop. after, when non-nil, runs once per completed
// pass (the facade uses it to persist a memory snapshot).
func New(ctx context.Context, cfg *config.CleanupCfg, logger *slog.Logger, tiers []tier.Tier, after func(context.Context) error) *Worker {
	ctx, cancel := context.WithCancel(ctx)
	return (&Worker{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		logger:   logger,
		tiers:    tiers,
		after:    after,
		counters: newSweeperCounters(),
		invokeCh: make(chan chan struct{}),
	}).run()
}

// ForceSweep triggers an immediate pass and waits for it to finish.
func (w *Worker) ForceSweep(timeout time.Duration) error {
	after := time.NewTimer(timeout)
	defer after.Stop()

	done := make(chan struct{})
	select {
	case <-w.ctx.Done():
		return nil
	case w.invokeCh <- done:
	case <-after.C:
		return ErrSweeperNotResponded
	}

	select {
	case <-w.ctx.Done():
	case <-done:
	case <-after.C:
		return ErrSweeperNotResponded
	}
	return nil
}

func (w *Worker) Metrics() (sweeps, removed, errs int64) {
	return w.counters.snapshot()
}

func (w *Worker) Close() error {
	w.cancel()
	return nil
}

func (w *Worker) run() *Worker {
	w.logger.Info("sweeper is running", "interval", w.cfg.Interval.String())

	go func() {
		defer w.logger.Info("sweeper is stopped")

		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.sweep()
			case done := <-w.invokeCh:
				w.sweep()
				close(done)
			}
		}
	}()

	return w
}

func (w *Worker) sweep() {
	w.counters.sweeps.Add(1)

	for _, t := range w.tiers {
		if w.ctx.Err() != nil {
			return
		}
		removed, err := t.RemoveExpired(w.ctx)
		w.counters.removed.Add(removed)
		if err != nil {
			w.counters.errors.Add(1)
			w.logger.Warn("sweep degraded", "tier", t.Name(), "error", err)
			continue
		}
		if removed > 0 {
			w.logger.Info("sweep removed expired entries", "tier", t.Name(), "removed", removed)
		}
	}

	for _, t := range w.tiers {
		if m, ok := t.(Maintainer); ok {
			if err := m.GC(gcDiscardRatio); err != nil {
				w.counters.errors.Add(1)
				w.logger.Warn("tier gc failed", "tier", t.Name(), "error", err)
			}
		}
	}

	if w.after != nil {
		if err := w.after(w.ctx); err != nil {
			w.counters.errors.Add(1)
			w.logger.Warn("post-sweep hook failed", "error", err)
		}
	}
}
