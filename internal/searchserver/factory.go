package searchserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

// DevTag is the artifact tag every development version resolves to.
const DevTag = "dev"

// ArtifactFor maps a version to the artifact a node for it is built from.
// Development versions always resolve to DevTag instead of their literal
// version string.
func ArtifactFor(v searchversion.SearchVersion) string {
	tag := v.Version.String()
	if v.IsDevelopment() {
		tag = DevTag
	}
	return fmt.Sprintf("searchmatrix/%s-node:%s", v.Family, tag)
}

// ReusePolicy decides whether healthy instances outlive one run. CI is
// supplied by the caller; reuse never applies when it is set.
type ReusePolicy struct {
	Enabled bool
	CI      bool
}

// Active reports whether instances are kept for reuse.
func (p ReusePolicy) Active() bool { return p.Enabled && !p.CI }

// Constructor builds an instance for one family.
type Constructor func(searchversion.SearchVersion, StartOptions, Deps) (Instance, error)

// ErrUnknownFamily is returned for a family with no registered constructor.
var ErrUnknownFamily = errors.New("no instance constructor for family")

// Factory creates, hands out and disposes of instances.
type Factory struct {
	deps   Deps
	opts   StartOptions
	reuse  ReusePolicy
	logger log.Logger

	mu           sync.Mutex
	constructors map[searchversion.Family]Constructor
	pool         map[searchversion.SearchVersion]Instance
}

// NewFactory returns a factory with the built-in family constructors.
func NewFactory(deps Deps, opts StartOptions, reuse ReusePolicy) *Factory {
	if deps.Network == nil {
		deps.Network = NewNetwork("")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Factory{
		deps:   deps,
		opts:   opts,
		reuse:  reuse,
		logger: log.With(logger, "component", "searchserver"),
		constructors: map[searchversion.Family]Constructor{
			searchversion.DuckDB: NewDuckDB,
			searchversion.Bleve:  NewBleve,
		},
		pool: make(map[searchversion.SearchVersion]Instance),
	}
}

// Register replaces the constructor for family.
func (f *Factory) Register(family searchversion.Family, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[family] = c
}

// Network is the network every instance of this factory attaches to.
func (f *Factory) Network() *Network { return f.deps.Network }

// Create builds an unstarted instance for v.
func (f *Factory) Create(v searchversion.SearchVersion) (Instance, error) {
	f.mu.Lock()
	c, ok := f.constructors[v.Family]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, v.Family)
	}
	return c(v, f.opts, f.deps)
}

// Obtain returns a started, healthy instance for v. With an active reuse
// policy a pooled healthy instance is handed out instead of a new one. When
// startup fails the failed instance is returned with the error so its logs
// stay readable until Dispose.
func (f *Factory) Obtain(ctx context.Context, v searchversion.SearchVersion) (Instance, error) {
	if f.reuse.Active() {
		f.mu.Lock()
		inst, ok := f.pool[v]
		if ok {
			delete(f.pool, v)
		}
		f.mu.Unlock()
		if ok {
			if err := inst.CheckHealth(ctx); err == nil {
				level.Info(f.logger).Log("msg", "reusing instance", "version", v.String(), "alias", inst.Alias())
				return inst, nil
			}
			_ = inst.Stop(ctx)
		}
	}

	inst, err := f.Create(v)
	if err != nil {
		return nil, err
	}
	if err := inst.Start(ctx); err != nil {
		return inst, err
	}
	return inst, nil
}

// Dispose tears inst down, or parks it for reuse when the policy allows and
// the instance is still healthy.
func (f *Factory) Dispose(ctx context.Context, inst Instance) error {
	if inst == nil {
		return nil
	}
	if f.reuse.Active() && inst.State() == Healthy {
		f.mu.Lock()
		_, taken := f.pool[inst.Version()]
		if !taken {
			f.pool[inst.Version()] = inst
		}
		f.mu.Unlock()
		if !taken {
			return nil
		}
	}
	return inst.Stop(ctx)
}

// Close stops every pooled instance.
func (f *Factory) Close(ctx context.Context) error {
	f.mu.Lock()
	pooled := make([]Instance, 0, len(f.pool))
	for _, inst := range f.pool {
		pooled = append(pooled, inst)
	}
	f.pool = make(map[searchversion.SearchVersion]Instance)
	f.mu.Unlock()

	sort.Slice(pooled, func(i, j int) bool { return pooled[i].Version().Compare(pooled[j].Version()) < 0 })
	var errs []error
	for _, inst := range pooled {
		if err := inst.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
