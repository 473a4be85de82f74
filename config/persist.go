package config

// SessionCfg configures the ephemeral persisted tier. The tier is backed by
// an in-memory key-value store which survives for the process lifetime only.
type SessionCfg struct {
	// MaxBytes is a soft quota for the session tier. Zero means unbounded
	// (the backing store may still reject writes under memory pressure).
	MaxBytes int64 `yaml:"max_bytes"`
}

func (cfg *SessionCfg) Enabled() bool {
	return cfg != nil
}

// DurableCfg configures the on-disk tier.
type DurableCfg struct {
	// Dir is the directory holding the durable store. Created if missing.
	Dir string `yaml:"dir"`

	// MaxBytes is a soft quota for the durable tier. When a write would
	// exceed it, the store reclaims the oldest-persisted entries and
	// retries once. Zero means unbounded.
	MaxBytes int64 `yaml:"max_bytes"`
}

func (cfg *DurableCfg) Enabled() bool {
	return cfg != nil && cfg.Dir != ""
}
