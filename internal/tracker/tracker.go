// Package tracker keeps per-key visit history and derives co-access
// correlation from it. Correlation is a plain co-occurrence count over a
// sliding time window: deterministic, cheap, recomputed at an interval
// rather than per visit.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tiercache/tiercache/config"
)

const (
	// interArrivalDepth bounds the retained inter-arrival durations per key.
	interArrivalDepth = 10

	// visitLogCap bounds the recent-visit log the correlation pass reads.
	visitLogCap = 4096

	// pruneFraction is the share of oldest-visited patterns dropped when
	// the tracked key count exceeds the ceiling.
	pruneFraction = 0.10
)

// Pattern is a read-only view of one key's visit history.
type Pattern struct {
	Key           string
	VisitCount    int64
	LastVisit     time.Time
	InterArrivals []time.Duration
}

// Edge is a derived correlation link. Never stored durably.
type Edge struct {
	To       string
	Strength int
}

type pattern struct {
	visitCount    int64
	lastVisit     int64
	interArrivals []time.Duration // ring, newest last
}

type visit struct {
	key string
	at  int64
}

type Tracker struct {
	mu    sync.Mutex
	cfg   *config.PrefetchCfg
	clock clock.Clock

	patterns map[string]*pattern
	log      []visit // ring buffer of recent visits
	logNext  int
	logFull  bool

	edges         map[string][]Edge
	lastRecompute int64
}

func New(cfg *config.PrefetchCfg, clk clock.Clock) *Tracker {
	return &Tracker{
		cfg:      cfg,
		clock:    clk,
		patterns: make(map[string]*pattern),
		log:      make([]visit, visitLogCap),
		edges:    make(map[string][]Edge),
	}
}

// RecordVisit appends a visit for key: bumps the count, pushes the
// inter-arrival duration (oldest dropped past the depth) and logs the visit
// for the next correlation pass.
func (t *Tracker) RecordVisit(key string) {
	now := t.clock.Now().UnixNano()

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.patterns[key]
	if !ok {
		p = &pattern{}
		t.patterns[key] = p
	} else {
		p.interArrivals = append(p.interArrivals, time.Duration(now-p.lastVisit))
		if len(p.interArrivals) > interArrivalDepth {
			p.interArrivals = p.interArrivals[1:]
		}
	}
	p.visitCount++
	p.lastVisit = now

	t.log[t.logNext] = visit{key: key, at: now}
	t.logNext++
	if t.logNext == len(t.log) {
		t.logNext = 0
		t.logFull = true
	}

	if len(t.patterns) > t.cfg.MaxTrackedKeys {
		t.pruneLocked()
	}
}

// Predict returns up to MaxCandidates keys most strongly correlated with
// key, strongest first. The edge map is rebuilt lazily once the recompute
// interval has elapsed.
func (t *Tracker) Predict(key string) []string {
	now := t.clock.Now().UnixNano()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now-t.lastRecompute >= t.cfg.RecomputeInterval.Nanoseconds() {
		t.recomputeLocked()
		t.lastRecompute = now
	}

	edges := t.edges[key]
	n := t.cfg.MaxCandidates
	if n > len(edges) {
		n = len(edges)
	}
	out := make([]string, 0, n)
	for _, e := range edges[:n] {
		out = append(out, e.To)
	}
	return out
}

// Pattern returns a copy of the visit history for key, or false when the
// key was never visited (or got pruned).
func (t *Tracker) Pattern(key string) (Pattern, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.patterns[key]
	if !ok {
		return Pattern{}, false
	}
	return Pattern{
		Key:           key,
		VisitCount:    p.visitCount,
		LastVisit:     time.Unix(0, p.lastVisit),
		InterArrivals: append([]time.Duration(nil), p.interArrivals...),
	}, true
}

func (t *Tracker) TrackedKeys() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.patterns)
}

// recomputeLocked rebuilds the edge map from the visit log: every ordered
// pair of distinct keys visited within the correlation window of each other
// counts one co-occurrence.
func (t *Tracker) recomputeLocked() {
	window := t.cfg.CorrelationWindow.Nanoseconds()

	visits := t.orderedLogLocked()
	counts := make(map[string]map[string]int)
	for i := 0; i < len(visits); i++ {
		for j := i + 1; j < len(visits); j++ {
			if visits[j].at-visits[i].at > window {
				break
			}
			a, b := visits[i].key, visits[j].key
			if a == b {
				continue
			}
			bump(counts, a, b)
			bump(counts, b, a)
		}
	}

	edges := make(map[string][]Edge, len(counts))
	for from, tos := range counts {
		es := make([]Edge, 0, len(tos))
		for to, strength := range tos {
			es = append(es, Edge{To: to, Strength: strength})
		}
		sort.Slice(es, func(i, j int) bool {
			if es[i].Strength != es[j].Strength {
				return es[i].Strength > es[j].Strength
			}
			return es[i].To < es[j].To
		})
		edges[from] = es
	}
	t.edges = edges
}

// orderedLogLocked returns the visit ring oldest-first.
func (t *Tracker) orderedLogLocked() []visit {
	if !t.logFull {
		return t.log[:t.logNext]
	}
	out := make([]visit, 0, len(t.log))
	out = append(out, t.log[t.logNext:]...)
	out = append(out, t.log[:t.logNext]...)
	return out
}

// pruneLocked drops the oldest-visited pruneFraction of patterns in bulk.
func (t *Tracker) pruneLocked() {
	type aged struct {
		key       string
		lastVisit int64
	}
	all := make([]aged, 0, len(t.patterns))
	for k, p := range t.patterns {
		all = append(all, aged{key: k, lastVisit: p.lastVisit})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].lastVisit < all[j].lastVisit
	})

	batch := int(pruneFraction * float64(len(all)))
	if batch < 1 {
		batch = 1
	}
	for _, a := range all[:batch] {
		delete(t.patterns, a.key)
	}
}

func bump(counts map[string]map[string]int, from, to string) {
	m, ok := counts[from]
	if !ok {
		m = make(map[string]int)
		counts[from] = m
	}
	m[to]++
}
