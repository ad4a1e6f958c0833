package adapter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

// Registry maps (family, minimum version) to adapter factories. A version
// resolves to the factory with the highest minimum version not above it.
type Registry struct {
	mu       sync.RWMutex
	families map[searchversion.Family][]registration
}

type registration struct {
	min     *semver.Version
	factory Factory
}

// NewRegistry allocates an empty registry.
func NewRegistry() *Registry {
	return &Registry{families: make(map[searchversion.Family][]registration)}
}

// Register adds a factory serving family versions >= minVersion.
func (r *Registry) Register(family searchversion.Family, minVersion string, f Factory) error {
	if family == "" || f == nil {
		return fmt.Errorf("registry: family and factory required")
	}
	min, err := semver.NewVersion(minVersion)
	if err != nil {
		return fmt.Errorf("registry: %s minimum version %q: %w", family, minVersion, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.families[family]
	for _, reg := range regs {
		if reg.min.Equal(min) {
			return fmt.Errorf("registry: %s >= %s already registered", family, min)
		}
	}
	regs = append(regs, registration{min: min, factory: f})
	sort.Slice(regs, func(i, j int) bool { return regs[i].min.LessThan(regs[j].min) })
	r.families[family] = regs
	return nil
}

// Resolve returns the factory for v and the minimum version it was
// registered under.
func (r *Registry) Resolve(v searchversion.SearchVersion) (Factory, *semver.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := r.families[v.Family]
	for i := len(regs) - 1; i >= 0; i-- {
		if regs[i].min.Compare(&v.Version) <= 0 {
			return regs[i].factory, regs[i].min, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrNoAdapter, v)
}

// New resolves opts.Version and constructs the adapter.
func (r *Registry) New(opts Options) (Adapter, error) {
	f, _, err := r.Resolve(opts.Version)
	if err != nil {
		return nil, err
	}
	return f(opts)
}

// Families returns the registered families, sorted.
func (r *Registry) Families() []searchversion.Family {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]searchversion.Family, 0, len(r.families))
	for f := range r.families {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
