package tiercache

import "github.com/tiercache/tiercache/internal/coordinator"

// SetOption tweaks one write. Defaults: normal priority, persisted.
type SetOption func(*coordinator.SetOptions)

// WithPriority sets the eviction priority of the entry. Lower-priority
// entries are evicted first.
func WithPriority(p Priority) SetOption {
	return func(o *coordinator.SetOptions) { o.Priority = p }
}

// WithoutPersistence keeps the entry in the memory tier only.
func WithoutPersistence() SetOption {
	return func(o *coordinator.SetOptions) { o.Persistent = false }
}

func buildSetOptions(opts []SetOption) coordinator.SetOptions {
	o := coordinator.SetOptions{
		Priority:   PriorityNormal,
		Persistent: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
