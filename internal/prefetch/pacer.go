package prefetch

import (
	"context"

	"go.uber.org/ratelimit"
)

// pacer converts a rate limiter into a channel so consumers can select on
// pacing and cancellation at once. Prefetch traffic stays strictly below
// the configured rate regardless of how many consumers run.
type pacer struct {
	ch chan struct{}
	l  ratelimit.Limiter
}

func newPacer(ctx context.Context, rate int) *pacer {
	burst := rate / 10
	if burst < 1 {
		burst = 1
	}
	p := &pacer{
		ch: make(chan struct{}, burst),
		l:  ratelimit.New(rate),
	}
	go p.provider(ctx)
	return p
}

func (p *pacer) provider(ctx context.Context) {
	defer close(p.ch)
	for {
		p.l.Take()
		select {
		case <-ctx.Done():
			return
		case p.ch <- struct{}{}:
		}
	}
}

func (p *pacer) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case _, ok := <-p.ch:
		return ok
	}
}
