package sweeper

import "sync/atomic"

type sweeperCounters struct {
	sweeps  atomic.Int64
	removed atomic.Int64
	errors  atomic.Int64
}

func newSweeperCounters() *sweeperCounters {
	return &sweeperCounters{}
}

func (c *sweeperCounters) snapshot() (sweeps, removed, errs int64) {
	return c.sweeps.Load(), c.removed.Load(), c.errors.Load()
}
