package config

import "time"

// TelemetryCfg configures interval logging of counter snapshots.
type TelemetryCfg struct {
	Interval time.Duration `yaml:"interval"`
}

func (cfg *TelemetryCfg) Enabled() bool {
	return cfg != nil
}
