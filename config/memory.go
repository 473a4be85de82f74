package config

type MemoryCfg struct {
	// MaxItems caps the number of entries held in the memory tier.
	// Inserting above the cap triggers a batch eviction first.
	MaxItems int64 `yaml:"max_items"`

	// MaxBytes caps the aggregate payload size of the memory tier.
	MaxBytes int64 `yaml:"max_bytes"`

	// Shards is the number of independent map segments. Rounded up to a
	// power of two during initialization. More shards reduce lock
	// contention between unrelated keys.
	Shards int `yaml:"shards"`

	// EvictFraction is the share of current entries removed per eviction
	// batch (rounded up, minimum one entry). Batch eviction amortizes cost
	// and avoids repeated near-threshold triggering.
	EvictFraction float64 `yaml:"evict_fraction"`
}

func (cfg *MemoryCfg) adjust() {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 1000
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 50 << 20
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 256
	}
	cfg.Shards = nextPowerOfTwo(cfg.Shards)
	if cfg.EvictFraction <= 0 || cfg.EvictFraction >= 1 {
		cfg.EvictFraction = 0.10
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
