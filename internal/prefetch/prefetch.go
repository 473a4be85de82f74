// Package prefetch runs the predictive loading path: after a recorded
// visit, keys correlated with it are pulled into the memory tier in the
// background, rate-limited below foreground traffic and deduplicated per
// candidate.
package prefetch

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/tiercache/tiercache/config"
)

// Predictor supplies candidate keys for a trigger key.
type Predictor interface {
	Predict(key string) []string
}

// Fetcher loads one candidate through the tier hierarchy and, when found,
// inserts it into the memory tier at low priority. Implemented by the
// coordinator. Returns true when a value was loaded.
type Fetcher interface {
	PrefetchCandidate(ctx context.Context, key string) bool
}

type Worker struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       *config.PrefetchCfg
	logger    *slog.Logger
	predictor Predictor
	fetcher   Fetcher
	pacer     *pacer
	group     singleflight.Group
	triggerCh chan string

	triggered atomic.Int64
	loaded    atomic.Int64
	dropped   atomic.Int64
}

func New(ctx context.Context, cfg *config.PrefetchCfg, logger *slog.Logger, predictor Predictor, fetcher Fetcher) *Worker {
	ctx, cancel := context.WithCancel(ctx)
	return (&Worker{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		logger:    logger,
		predictor: predictor,
		fetcher:   fetcher,
		pacer:     newPacer(ctx, cfg.Rate),
		triggerCh: make(chan string, 256),
	}).run()
}

// Trigger requests prefetch of keys correlated with key. Never blocks the
// caller; triggers are dropped when the queue is full.
func (w *Worker) Trigger(key string) {
	select {
	case w.triggerCh <- key:
		w.triggered.Add(1)
	default:
		w.dropped.Add(1)
	}
}

// Metrics reports triggers accepted, candidates loaded and triggers dropped
// on queue overflow.
func (w *Worker) Metrics() (triggered, loaded, dropped int64) {
	return w.triggered.Load(), w.loaded.Load(), w.dropped.Load()
}

func (w *Worker) Close() error {
	w.cancel()
	return nil
}

func (w *Worker) run() *Worker {
	w.logger.Info("prefetcher is running", "rate", w.cfg.Rate, "max_candidates", w.cfg.MaxCandidates)

	go func() {
		defer w.logger.Info("prefetcher is stopped")
		var wg sync.WaitGroup
		for i := 0; i < runtime.GOMAXPROCS(0); i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.consumer()
			}()
		}
		wg.Wait()
	}()

	return w
}

func (w *Worker) consumer() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case key := <-w.triggerCh:
			w.load(key)
		}
	}
}

func (w *Worker) load(key string) {
	for _, candidate := range w.predictor.Predict(key) {
		if !w.pacer.wait(w.ctx) {
			return
		}
		hit, _, _ := w.group.Do(candidate, func() (any, error) {
			return w.fetcher.PrefetchCandidate(w.ctx, candidate), nil
		})
		if ok, _ := hit.(bool); ok {
			w.loaded.Add(1)
		}
	}
}
