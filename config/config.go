package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Cache groups configuration of all cache subsystems.
// Pointer sections can be disabled by leaving them nil (or omitting them in yaml).
type Cache struct {
	// DefaultTTL is applied to entries stored without an explicit TTL.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// Memory configures the bounded in-process tier. Always present.
	Memory MemoryCfg `yaml:"memory"`

	// Session configures the ephemeral persisted tier.
	// If nil, reads fall through from memory directly to the durable tier.
	Session *SessionCfg `yaml:"session"`

	// Durable configures the on-disk tier.
	// If nil, the cache degrades to memory (+ session) only.
	Durable *DurableCfg `yaml:"durable"`

	// Compression configures value encoding for the persisted tiers.
	// If nil, values are persisted raw.
	Compression *CompressionCfg `yaml:"compression"`

	// Prefetch configures access-pattern tracking and predictive loading.
	// If nil, no visit history is kept and nothing is prefetched.
	Prefetch *PrefetchCfg `yaml:"prefetch"`

	// Cleanup configures the background expired-entry sweep.
	Cleanup CleanupCfg `yaml:"cleanup"`

	// Snapshot configures periodic memory-tier snapshots. If nil, the
	// memory tier starts cold after a restart.
	Snapshot *SnapshotCfg `yaml:"snapshot"`

	// Telemetry configures interval stats logging. If nil, logging is off.
	Telemetry *TelemetryCfg `yaml:"telemetry"`
}

// Default returns a configuration with the documented defaults:
// 1000 items / 50 MiB in memory, 5m TTL, 1 KiB compression threshold,
// prefetch on, cleanup every 5m. The durable tier stays disabled until
// a directory is set.
func Default() *Cache {
	c := &Cache{
		DefaultTTL: 5 * time.Minute,
		Memory: MemoryCfg{
			MaxItems: 1000,
			MaxBytes: 50 << 20,
		},
		Session:     &SessionCfg{},
		Compression: &CompressionCfg{ThresholdBytes: 1024, MaxRatio: 0.8},
		Prefetch: &PrefetchCfg{
			Rate:              100,
			MaxCandidates:     3,
			CorrelationWindow: 2 * time.Second,
			RecomputeInterval: 30 * time.Second,
			MaxTrackedKeys:    10_000,
		},
		Cleanup: CleanupCfg{Interval: 5 * time.Minute},
	}
	c.AdjustConfig()
	return c
}

// AdjustConfig derives virtual fields and clamps values into sane ranges.
// It must be called after manual construction and is called by LoadConfig.
func (cfg *Cache) AdjustConfig() {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	cfg.Memory.adjust()
	if cfg.Compression.Enabled() {
		cfg.Compression.adjust()
	}
	if cfg.Prefetch.Enabled() {
		cfg.Prefetch.adjust()
	}
	if cfg.Cleanup.Interval <= 0 {
		cfg.Cleanup.Interval = 5 * time.Minute
	}
	if cfg.Snapshot.Enabled() {
		cfg.Snapshot.adjust()
	}
	if cfg.Telemetry.Enabled() && cfg.Telemetry.Interval <= 0 {
		cfg.Telemetry.Interval = 5 * time.Minute
	}
}

func LoadConfig(path string) (*Cache, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config yaml file %s: %w", path, err)
	}

	var cfg *Cache
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml from %s: %w", path, err)
	}
	if cfg == nil {
		// empty yaml document, fall back to defaults
		cfg = &Cache{}
	}
	cfg.AdjustConfig()

	return cfg, nil
}
