// Package tier defines the contract shared by every storage layer of the
// cache hierarchy. Tiers differ in latency, capacity and persistence but
// expose the same surface, so the coordinator can fall through and promote
// without knowing which backend it is talking to.
package tier

import (
	"context"
	"errors"
	"regexp"
	"time"
)

var (
	// ErrUnavailable marks a storage backend failure. The coordinator
	// treats it as a miss on reads and skips the tier on writes.
	ErrUnavailable = errors.New("tier unavailable")

	// ErrQuotaExceeded marks a persisted-tier write rejection after
	// reclaim. The memory-tier write still stands.
	ErrQuotaExceeded = errors.New("tier quota exceeded")
)

type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// Entry is the unit stored in a tier. Value is always the raw payload at
// this boundary; persisted tiers encode/decode internally.
type Entry struct {
	Key          string
	Value        []byte
	ExpiresAt    int64 // unix nano, 0 = no expiry
	LastAccessed int64 // unix nano
	StoredAt     int64 // unix nano
	Priority     Priority
	Size         int64
	Compressed   bool
}

// Expired reports whether the entry is logically absent at now, regardless
// of which tier still physically holds it.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt > 0 && now.UnixNano() > e.ExpiresAt
}

// Tier is one storage layer. Get returns (nil, nil) on a clean miss;
// expired entries are misses too. Implementations own their storage slots
// exclusively: callers never mutate a returned Entry in place and never
// observe a partially applied one.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, e *Entry) error
	Remove(ctx context.Context, key string) (bool, error)
	RemoveExpired(ctx context.Context) (int64, error)
	Clear(ctx context.Context, pattern *regexp.Regexp) (int64, error)
	Keys(ctx context.Context, pattern *regexp.Regexp) ([]string, error)
	Counters() Snapshot
	Close() error
}
