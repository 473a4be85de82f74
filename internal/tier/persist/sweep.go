package persist

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// RemoveExpired drops entries whose expires_at has passed. With the expiry
// index on, this is a bounded range scan over index keys up to now; without
// it, a full data scan. Stale index keys (from overwrites) are dropped
// along the way.
func (s *Store) RemoveExpired(ctx context.Context) (int64, error) {
	now := s.clock.Now().UnixNano()

	var removed int64
	var err error
	if s.opts.ExpiryIndex {
		removed, err = s.sweepIndexed(ctx, now)
	} else {
		removed, err = s.sweepScan(ctx, now)
	}
	if err != nil {
		return removed, fmt.Errorf("%s tier sweep: %w", s.opts.Name, err)
	}
	s.counters.Swept(removed)
	return removed, nil
}

func (s *Store) sweepIndexed(ctx context.Context, now int64) (int64, error) {
	var expiredKeys []string
	var staleIndex [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(indexPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			raw := it.Item().KeyCopy(nil)
			expiresAt, key, ok := parseIndexKey(raw)
			if !ok {
				staleIndex = append(staleIndex, raw)
				continue
			}
			if expiresAt > now {
				// index is ordered by expiry, nothing further is due
				break
			}

			staleIndex = append(staleIndex, raw)
			item, err := txn.Get(dataKey(key))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				var rec record
				if uerr := rec.unmarshal(val); uerr != nil {
					expiredKeys = append(expiredKeys, key) // corrupted, drop it
					return nil
				}
				// overwrites leave stale index keys behind; only drop
				// the data record when it is expired right now
				if rec.expired(now) {
					expiredKeys = append(expiredKeys, key)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, key := range expiredKeys {
		hit, err := s.Remove(ctx, key)
		if err != nil {
			return removed, err
		}
		if hit {
			removed++
		}
	}
	for _, raw := range staleIndex {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(raw)
		})
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *Store) sweepScan(ctx context.Context, now int64) (int64, error) {
	var expiredKeys []string

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
				if uerr := rec.unmarshal(val); uerr != nil {
					expiredKeys = append(expiredKeys, key)
					return nil
				}
				if rec.expired(now) {
					expiredKeys = append(expiredKeys, key)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, key := range expiredKeys {
		hit, err := s.Remove(ctx, key)
		if err != nil {
			return removed, err
		}
		if hit {
			removed++
		}
	}
	return removed, nil
}
