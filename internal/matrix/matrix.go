// Package matrix runs one shared suite against every (family, version) in a
// catalog, each against its own test instance.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/model"
	"github.com/tinytelemetry/searchmatrix/internal/searchserver"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

// ErrPanic wraps a panic recovered from setup or a case.
var ErrPanic = errors.New("panic")

// Env is what setup and cases see of the instance they run against.
type Env struct {
	Version  searchversion.SearchVersion
	Instance searchserver.Instance
	Adapter  adapter.Adapter
	Logger   log.Logger
}

// Case is one named check of the shared suite.
type Case struct {
	Name string
	Run  func(ctx context.Context, env *Env) error
}

// Suite is the shared body run once per catalog entry. Setup, typically a
// fixture import, finishes before any case starts.
type Suite struct {
	Name  string
	Setup func(ctx context.Context, env *Env) error
	Cases []Case
}

// Config configures a Harness.
type Config struct {
	Catalog                []searchversion.SearchVersion
	MaxConcurrentInstances int
	// CaseTimeout bounds each case; zero means no per-case bound.
	CaseTimeout time.Duration
	// TeardownTimeout bounds instance disposal.
	TeardownTimeout time.Duration
	Logger          log.Logger
	Registerer      prometheus.Registerer
}

// Harness drives a suite across the catalog.
type Harness struct {
	cfg     Config
	factory *searchserver.Factory
	logger  log.Logger

	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New validates cfg and returns a harness creating instances with factory.
func New(cfg Config, factory *searchserver.Factory) (*Harness, error) {
	if factory == nil {
		return nil, errors.New("matrix: factory required")
	}
	seen := make(map[searchversion.SearchVersion]struct{}, len(cfg.Catalog))
	for _, v := range cfg.Catalog {
		if _, dup := seen[v]; dup {
			return nil, fmt.Errorf("matrix: %s listed twice", v)
		}
		seen[v] = struct{}{}
	}
	if cfg.MaxConcurrentInstances <= 0 {
		cfg.MaxConcurrentInstances = model.DefaultMaxConcurrency
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}

	h := &Harness{
		cfg:     cfg,
		factory: factory,
		logger:  log.With(cfg.Logger, "component", "matrix"),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searchmatrix_matrix_outcomes_total",
			Help: "Matrix entry outcomes by family and status.",
		}, []string{"family", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "searchmatrix_matrix_entry_duration_seconds",
			Help:    "Wall time of one matrix entry, startup to teardown.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"family"}),
	}
	if cfg.Registerer != nil {
		if err := cfg.Registerer.Register(h.outcomes); err != nil {
			return nil, fmt.Errorf("matrix: register metrics: %w", err)
		}
		if err := cfg.Registerer.Register(h.duration); err != nil {
			return nil, fmt.Errorf("matrix: register metrics: %w", err)
		}
	}
	return h, nil
}

// Catalog returns the versions the harness runs against.
func (h *Harness) Catalog() []searchversion.SearchVersion {
	return append([]searchversion.SearchVersion(nil), h.cfg.Catalog...)
}

// Run executes suite once per catalog entry and returns one outcome per
// entry in catalog order. Entries run concurrently up to
// MaxConcurrentInstances; a failing entry never stops the others.
func (h *Harness) Run(ctx context.Context, suite Suite) Report {
	report := Report{Suite: suite.Name, Outcomes: make([]Outcome, len(h.cfg.Catalog))}

	var g errgroup.Group
	g.SetLimit(h.cfg.MaxConcurrentInstances)
	for i, v := range h.cfg.Catalog {
		g.Go(func() error {
			report.Outcomes[i] = h.runEntry(ctx, suite, v)
			return nil
		})
	}
	_ = g.Wait()

	level.Info(h.logger).Log("msg", "matrix finished", "suite", suite.Name, "entries", len(report.Outcomes), "failed", len(report.Failed()))
	return report
}

func (h *Harness) runEntry(ctx context.Context, suite Suite, v searchversion.SearchVersion) (out Outcome) {
	start := time.Now()
	out = Outcome{Version: v, Artifact: searchserver.ArtifactFor(v)}
	logger := log.With(h.logger, "version", v.String())

	var inst searchserver.Instance
	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusFailed
			out.Err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
		if inst != nil {
			if out.Status != StatusPassed {
				out.Logs = inst.Logs()
			}
			tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.TeardownTimeout)
			if err := h.factory.Dispose(tctx, inst); err != nil {
				level.Warn(logger).Log("msg", "teardown failed", "err", err)
			}
			cancel()
		}
		out.Duration = time.Since(start)
		h.outcomes.WithLabelValues(string(v.Family), string(out.Status)).Inc()
		h.duration.WithLabelValues(string(v.Family)).Observe(out.Duration.Seconds())
		level.Info(logger).Log("msg", "entry finished", "status", out.Status, "duration", out.Duration, "err", out.Err)
	}()

	var err error
	inst, err = h.factory.Obtain(ctx, v)
	if err != nil {
		out.Status, out.Err = StatusStartFailed, err
		return out
	}
	if err := inst.Acquire(); err != nil {
		out.Status, out.Err = StatusStartFailed, err
		return out
	}
	defer inst.Release()

	env := &Env{Version: v, Instance: inst, Adapter: inst.Adapter(), Logger: logger}
	if suite.Setup != nil {
		if err := protect(func() error { return suite.Setup(ctx, env) }); err != nil {
			out.Status, out.Err = StatusSetupFailed, err
			return out
		}
	}

	out.Status = StatusPassed
	for _, c := range suite.Cases {
		res := h.runCase(ctx, inst, env, c)
		if res.Err != nil {
			out.Status = StatusFailed
		}
		out.Cases = append(out.Cases, res)
	}
	return out
}

// runCase refuses to hand a case an instance that stopped being healthy.
func (h *Harness) runCase(ctx context.Context, inst searchserver.Instance, env *Env, c Case) CaseResult {
	start := time.Now()
	res := CaseResult{Name: c.Name}
	if err := inst.CheckHealth(ctx); err != nil {
		res.Err = err
		return res
	}

	cctx := ctx
	if h.cfg.CaseTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, h.cfg.CaseTimeout)
		defer cancel()
	}
	res.Err = protect(func() error { return c.Run(cctx, env) })
	res.Duration = time.Since(start)
	return res
}

// protect converts a panic in fn into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return fn()
}
