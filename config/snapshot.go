package config

// SnapshotCfg configures periodic memory-tier snapshots. After each cleanup
// sweep the live entries are written to disk so a restart can warm the fast
// tier back up.
type SnapshotCfg struct {
	// Dir is the directory where snapshot files are stored.
	Dir string `yaml:"dir"`

	// Name is the base name of the snapshot file.
	Name string `yaml:"name"`

	// Gzip compresses snapshot files on write.
	Gzip bool `yaml:"gzip"`
}

func (cfg *SnapshotCfg) Enabled() bool {
	return cfg != nil && cfg.Dir != ""
}

func (cfg *SnapshotCfg) adjust() {
	if cfg.Name == "" {
		cfg.Name = "cache"
	}
}
