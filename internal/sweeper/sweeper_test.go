package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/tiercache/tiercache/config"
	"github.com/tiercache/tiercache/internal/tier"
	"github.com/tiercache/tiercache/internal/tier/memory"
)

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemTier() (*memory.Tier, *clock.Mock) {
	mock := clock.NewMock()
	cfg := &config.MemoryCfg{MaxItems: 1000, MaxBytes: 50 << 20, Shards: 8, EvictFraction: 0.10}
	return memory.New(cfg, mock), mock
}

// failingTier always errors on sweep; the pass must continue past it.
type failingTier struct{}

func (failingTier) Name() string                                        { return "broken" }
func (failingTier) Get(context.Context, string) (*tier.Entry, error)    { return nil, nil }
func (failingTier) Set(context.Context, *tier.Entry) error              { return nil }
func (failingTier) Remove(context.Context, string) (bool, error)        { return false, nil }
func (failingTier) RemoveExpired(context.Context) (int64, error) {
	return 0, errors.New("backend down")
}
func (failingTier) Clear(context.Context, *regexp.Regexp) (int64, error)  { return 0, nil }
func (failingTier) Keys(context.Context, *regexp.Regexp) ([]string, error) { return nil, nil }
func (failingTier) Counters() tier.Snapshot                                { return tier.Snapshot{} }
func (failingTier) Close() error                                           { return nil }

func TestSweeper_ForceSweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	mem, mock := newMemTier()

	exp := mock.Now().Add(time.Second).UnixNano()
	require.NoError(t, mem.Set(ctx, &tier.Entry{Key: "k", Value: []byte("v"), ExpiresAt: exp, Size: 1}))
	mock.Add(2 * time.Second)

	w := New(ctx, &config.CleanupCfg{Interval: time.Hour}, defaultLogger(), []tier.Tier{mem}, nil)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, w.ForceSweep(time.Second))
	require.EqualValues(t, 0, mem.Len())

	sweeps, removed, errs := w.Metrics()
	require.EqualValues(t, 1, sweeps)
	require.EqualValues(t, 1, removed)
	require.EqualValues(t, 0, errs)
}

// One broken tier never stops the sweep for the healthy ones.
func TestSweeper_DegradedTierDoesNotStopSweep(t *testing.T) {
	ctx := context.Background()
	mem, mock := newMemTier()

	exp := mock.Now().Add(time.Second).UnixNano()
	require.NoError(t, mem.Set(ctx, &tier.Entry{Key: "k", Value: []byte("v"), ExpiresAt: exp, Size: 1}))
	mock.Add(2 * time.Second)

	w := New(ctx, &config.CleanupCfg{Interval: time.Hour}, defaultLogger(), []tier.Tier{failingTier{}, mem}, nil)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, w.ForceSweep(time.Second))
	require.EqualValues(t, 0, mem.Len())

	_, _, errs := w.Metrics()
	require.EqualValues(t, 1, errs)
}

func TestSweeper_AfterHookRuns(t *testing.T) {
	ctx := context.Background()
	mem, _ := newMemTier()

	var calls atomic.Int64
	after := func(context.Context) error {
		calls.Add(1)
		return nil
	}

	w := New(ctx, &config.CleanupCfg{Interval: time.Hour}, defaultLogger(), []tier.Tier{mem}, after)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, w.ForceSweep(time.Second))
	require.NoError(t, w.ForceSweep(time.Second))
	require.EqualValues(t, 2, calls.Load())
}

func TestSweeper_PeriodicSweep(t *testing.T) {
	ctx := context.Background()
	mem, _ := newMemTier()

	w := New(ctx, &config.CleanupCfg{Interval: 20 * time.Millisecond}, defaultLogger(), []tier.Tier{mem}, nil)
	t.Cleanup(func() { _ = w.Close() })

	require.Eventually(t, func() bool {
		sweeps, _, _ := w.Metrics()
		return sweeps >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestSweeper_CloseStopsLoop(t *testing.T) {
	ctx := context.Background()
	mem, _ := newMemTier()

	w := New(ctx, &config.CleanupCfg{Interval: time.Hour}, defaultLogger(), []tier.Tier{mem}, nil)
	require.NoError(t, w.Close())

	// the loop is gone: a forced sweep resolves through the dead context
	require.NoError(t, w.ForceSweep(50*time.Millisecond))
}
