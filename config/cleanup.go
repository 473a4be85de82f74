package config

import "time"

// CleanupCfg configures the background sweep that physically removes
// expired entries from every tier.
type CleanupCfg struct {
	// Interval between sweeps.
	Interval time.Duration `yaml:"interval"`
}
