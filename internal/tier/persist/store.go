// Package persist implements the session and durable tiers on top of a
// badger key-value store. The session tier runs badger in memory-only mode
// (survives the process lifetime, nothing else); the durable tier runs on
// disk and additionally maintains an expiry index so the cleanup sweep is a
// bounded range scan instead of a full pass.
package persist

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/benbjohnson/clock"
	badger "github.com/dgraph-io/badger/v4"

	"github.com/tiercache/tiercache/internal/codec"
	"github.com/tiercache/tiercache/internal/tier"
)

const (
	dataPrefix  = "d!"
	indexPrefix = "x!"

	// reclaimFraction is the share of oldest-persisted entries dropped
	// when a write runs into the byte quota, before the single retry.
	reclaimFraction = 0.20
)

type Options struct {
	Name     string
	Dir      string
	InMemory bool
	MaxBytes int64 // soft quota, 0 = unbounded

	// ExpiryIndex enables the expires_at index. Worth it only for the
	// durable tier where full scans are expensive.
	ExpiryIndex bool
}

type Store struct {
	opts     Options
	db       *badger.DB
	codec    *codec.Codec
	clock    clock.Clock
	counters *tier.Counters
}

func Open(opts Options, cdc *codec.Codec, clk clock.Clock) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s tier dir: %w", opts.Name, err)
		}
		bopts = badger.DefaultOptions(opts.Dir).WithSyncWrites(false)
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open %s tier store: %w", opts.Name, err)
	}

	s := &Store{
		opts:     opts,
		db:       db,
		codec:    cdc,
		clock:    clk,
		counters: &tier.Counters{},
	}
	if err := s.seedCounters(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed %s tier counters: %w", opts.Name, err)
	}
	return s, nil
}

func (s *Store) Name() string { return s.opts.Name }

// Get returns (nil, nil) on a clean miss. An entry that fails to decode is
// treated as corrupted: it is evicted and the error is returned so the
// caller can log and report a miss.
func (s *Store) Get(ctx context.Context, key string) (*tier.Entry, error) {
	var rec record
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return rec.unmarshal(val)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s tier get: %s", tier.ErrUnavailable, s.opts.Name, err)
	}
	if !found {
		s.counters.Miss()
		return nil, nil
	}
	if rec.expired(s.clock.Now().UnixNano()) {
		s.counters.Miss()
		return nil, nil
	}

	value, err := s.codec.Decode(rec.payload, rec.compressed)
	if err != nil {
		_, _ = s.Remove(ctx, key)
		return nil, fmt.Errorf("%s tier decode %q: %w", s.opts.Name, key, err)
	}

	s.counters.Hit()
	return &tier.Entry{
		Key:          key,
		Value:        value,
		ExpiresAt:    rec.expiresAt,
		LastAccessed: rec.storedAt,
		StoredAt:     rec.storedAt,
		Priority:     rec.priority,
		Size:         int64(len(value)),
		Compressed:   rec.compressed,
	}, nil
}

// Set encodes the value through the codec and writes it in one txn. A write
// that would exceed the byte quota reclaims the oldest-persisted entries
// and retries once; a second rejection surfaces as ErrQuotaExceeded.
func (s *Store) Set(ctx context.Context, e *tier.Entry) error {
	stored, compressed := s.codec.Encode(e.Value)
	rec := record{
		expiresAt:  e.ExpiresAt,
		storedAt:   s.clock.Now().UnixNano(),
		priority:   e.Priority,
		compressed: compressed,
		payload:    stored,
	}
	buf := rec.marshal()
	weight := recordWeight(e.Key, buf)

	if s.overQuota(weight) {
		if err := s.reclaimOldest(ctx); err != nil {
			return fmt.Errorf("%w: %s tier reclaim: %s", tier.ErrUnavailable, s.opts.Name, err)
		}
		if s.overQuota(weight) {
			return fmt.Errorf("%w: %s tier", tier.ErrQuotaExceeded, s.opts.Name)
		}
	}

	prevWeight, existed, err := s.currentWeight(e.Key)
	if err != nil {
		return fmt.Errorf("%w: %s tier set: %s", tier.ErrUnavailable, s.opts.Name, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(e.Key), buf); err != nil {
			return err
		}
		if s.opts.ExpiryIndex && rec.expiresAt > 0 {
			return txn.Set(indexKey(rec.expiresAt, e.Key), nil)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s tier set: %s", tier.ErrUnavailable, s.opts.Name, err)
	}

	s.counters.AddBytes(weight - prevWeight)
	if !existed {
		s.counters.AddItems(1)
	}
	return nil
}

func (s *Store) Remove(_ context.Context, key string) (bool, error) {
	weight, existed, err := s.currentWeight(key)
	if err != nil {
		return false, fmt.Errorf("%w: %s tier remove: %s", tier.ErrUnavailable, s.opts.Name, err)
	}
	if !existed {
		return false, nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dataKey(key))
	})
	if err != nil {
		return false, fmt.Errorf("%w: %s tier remove: %s", tier.ErrUnavailable, s.opts.Name, err)
	}

	s.counters.AddBytes(-weight)
	s.counters.AddItems(-1)
	return true, nil
}

func (s *Store) Clear(ctx context.Context, pattern *regexp.Regexp) (int64, error) {
	keys, err := s.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, k := range keys {
		hit, err := s.Remove(ctx, k)
		if err != nil {
			return removed, err
		}
		if hit {
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Keys(ctx context.Context, pattern *regexp.Regexp) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(dataPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			key := string(it.Item().Key()[len(dataPrefix):])
			if pattern == nil || pattern.MatchString(key) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s tier keys: %s", tier.ErrUnavailable, s.opts.Name, err)
	}
	return keys, nil
}

func (s *Store) Counters() tier.Snapshot { return s.counters.Snapshot() }

// GC runs the backing store's value log garbage collection. Only meaningful
// for the on-disk tier; the sweep calls it after each pass.
func (s *Store) GC(discardRatio float64) error {
	if s.opts.InMemory {
		return nil
	}
	err := s.db.RunValueLogGC(discardRatio)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) overQuota(incoming int64) bool {
	return s.opts.MaxBytes > 0 && s.counters.Bytes()+incoming > s.opts.MaxBytes
}

func (s *Store) currentWeight(key string) (weight int64, existed bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		weight = recordWeight(key, nil) + item.ValueSize()
		return nil
	})
	return
}

func (s *Store) seedCounters() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(dataPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(dataPrefix):])
			s.counters.AddItems(1)
			s.counters.AddBytes(recordWeight(key, nil) + item.ValueSize())
		}
		return nil
	})
}

// reclaimOldest drops the oldest-persisted reclaimFraction of entries
// (minimum one). Partial reclaim instead of the blunt clear-everything:
// most of the tier stays warm.
func (s *Store) reclaimOldest(ctx context.Context) error {
	type aged struct {
		key      string
		storedAt int64
	}
	var entries []aged

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(dataPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			key := string(it.Item().Key()[len(dataPrefix):])
			err := it.Item().Value(func(val []byte) error {
				var rec record
				if err := rec.unmarshal(val); err != nil {
					return nil // corrupted record, let the sweep handle it
				}
				entries = append(entries, aged{key: key, storedAt: rec.storedAt})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].storedAt < entries[j].storedAt
	})
	batch := int(reclaimFraction * float64(len(entries)))
	if batch < 1 {
		batch = 1
	}

	var reclaimed int64
	for _, e := range entries[:batch] {
		hit, err := s.Remove(ctx, e.key)
		if err != nil {
			return err
		}
		if hit {
			reclaimed++
		}
	}
	s.counters.Evicted(reclaimed)
	return nil
}
