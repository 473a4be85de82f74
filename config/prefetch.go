package config

import "time"

// PrefetchCfg configures access-pattern tracking and predictive loading.
// A nil section disables both.
type PrefetchCfg struct {
	// Rate limits prefetch candidate loads per second, keeping background
	// traffic below foreground get/set.
	Rate int `yaml:"rate"`

	// MaxCandidates caps how many correlated keys are loaded per trigger.
	MaxCandidates int `yaml:"max_candidates"`

	// CorrelationWindow is the co-occurrence window: two keys visited
	// within it are counted as correlated.
	CorrelationWindow time.Duration `yaml:"window"`

	// RecomputeInterval is how often correlation edges are rebuilt from
	// the visit log. Edges are never recomputed per visit.
	RecomputeInterval time.Duration `yaml:"recompute"`

	// MaxTrackedKeys caps the tracker's key count. Above it the oldest
	// visited patterns are pruned in bulk.
	MaxTrackedKeys int `yaml:"max_tracked_keys"`
}

func (cfg *PrefetchCfg) Enabled() bool {
	return cfg != nil
}

func (cfg *PrefetchCfg) adjust() {
	if cfg.Rate <= 0 {
		cfg.Rate = 100
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 3
	}
	if cfg.CorrelationWindow <= 0 {
		cfg.CorrelationWindow = 2 * time.Second
	}
	if cfg.RecomputeInterval <= 0 {
		cfg.RecomputeInterval = 30 * time.Second
	}
	if cfg.MaxTrackedKeys <= 0 {
		cfg.MaxTrackedKeys = 10_000
	}
}
