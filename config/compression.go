package config

// CompressionCfg controls when persisted values are compressed.
// Compression is attempted only above ThresholdBytes and the compressed form
// is kept only when it is small enough to be worth the decode cost.
type CompressionCfg struct {
	// ThresholdBytes is the minimum value size eligible for compression.
	ThresholdBytes int `yaml:"threshold"`

	// MaxRatio is the largest acceptable compressed/original size ratio.
	// A compressed form above this ratio is discarded and the value is
	// stored raw.
	MaxRatio float64 `yaml:"max_ratio"`
}

func (cfg *CompressionCfg) Enabled() bool {
	return cfg != nil
}

func (cfg *CompressionCfg) adjust() {
	if cfg.ThresholdBytes <= 0 {
		cfg.ThresholdBytes = 1024
	}
	if cfg.MaxRatio <= 0 || cfg.MaxRatio > 1 {
		cfg.MaxRatio = 0.8
	}
}
