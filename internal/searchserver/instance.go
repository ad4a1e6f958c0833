// Package searchserver manages the backend processes the version matrix runs
// against. An Instance owns one node, its endpoint, and the adapter and
// helper clients bound to it, all for the same lifetime.
package searchserver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/client"
	"github.com/tinytelemetry/searchmatrix/internal/fixture"
	"github.com/tinytelemetry/searchmatrix/internal/model"
	"github.com/tinytelemetry/searchmatrix/internal/node"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

var (
	// ErrStartupTimeout is returned when a node never reports green in time.
	ErrStartupTimeout = errors.New("instance did not become healthy")
	// ErrNotReady is returned by Acquire on an instance that is not healthy.
	ErrNotReady = errors.New("instance not ready")
	// ErrUnhealthy is returned by CheckHealth when the node stopped answering green.
	ErrUnhealthy = errors.New("instance unhealthy")
)

// StartOptions are the backend-specific startup parameters. Apart from
// WarmUp and the timeouts they are opaque to the instance and reach the node
// as environment variables.
type StartOptions struct {
	HeapSize string
	Username string
	Password string
	// PersistenceURI points the node at durable storage; empty keeps data in memory.
	PersistenceURI string
	SingleNode     bool
	WarmUp         time.Duration
	StartupTimeout time.Duration
	// CallTimeout bounds every adapter and client call.
	CallTimeout time.Duration
	// Env is forwarded unchanged.
	Env map[string]string
}

// DefaultStartOptions returns the options used when none are configured.
func DefaultStartOptions() StartOptions {
	return StartOptions{
		HeapSize:       model.DefaultHeapSize,
		SingleNode:     true,
		StartupTimeout: model.DefaultStartupTimeout,
		CallTimeout:    model.DefaultQueryTimeout,
	}
}

// env renders the options as node environment.
func (o StartOptions) env() map[string]string {
	env := make(map[string]string, len(o.Env)+6)
	for k, v := range o.Env {
		env[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			env[k] = v
		}
	}
	set(node.EnvHeapSize, o.HeapSize)
	set(node.EnvUsername, o.Username)
	set(node.EnvPassword, o.Password)
	set(node.EnvDataPath, o.PersistenceURI)
	env[node.EnvSingleNode] = strconv.FormatBool(o.SingleNode)
	if o.WarmUp > 0 {
		env[node.EnvWarmUp] = o.WarmUp.String()
	}
	return env
}

// FixtureImporter loads datasets into a live instance.
type FixtureImporter interface {
	ImportFixture(ctx context.Context, ds *fixture.Dataset) error
}

// Instance is the contract every backend family's test instance implements.
type Instance interface {
	Version() searchversion.SearchVersion
	State() State
	// Start brings the node up and blocks until it reports green, the
	// startup timeout passes, or ctx is done.
	Start(ctx context.Context) error
	// Stop tears the instance down. It is safe to call in any state.
	Stop(ctx context.Context) error
	// Acquire marks the instance in use; it fails unless the instance is healthy.
	Acquire() error
	Release()
	CheckHealth(ctx context.Context) error

	Adapter() adapter.Adapter
	FixtureImporter() FixtureImporter
	// Client is the raw-query client bound to the node.
	Client() *client.Client
	Address() string
	Alias() string
	Artifact() string
	Logs() string
}

// Deps are the collaborators shared by every instance of one run.
type Deps struct {
	Network  *Network
	Registry *adapter.Registry
	// Metrics, when set, instruments every adapter.
	Metrics *adapter.Metrics
	Logger  log.Logger
}

// base implements Instance for any node family. Family types embed it and
// adjust the node configuration through configure.
type base struct {
	version   searchversion.SearchVersion
	opts      StartOptions
	deps      Deps
	artifact  string
	configure func(*node.Config) error

	logs   *logBuffer
	logger log.Logger

	mu      sync.Mutex
	state   State
	users   int
	srv     *node.Server
	client  *client.Client
	adapter adapter.Adapter
	alias   string
	addr    string
}

func newBase(v searchversion.SearchVersion, opts StartOptions, deps Deps, configure func(*node.Config) error) *base {
	if deps.Network == nil {
		deps.Network = NewNetwork("")
	}
	parent := deps.Logger
	if parent == nil {
		parent = log.NewNopLogger()
	}
	logs := &logBuffer{}
	captured := log.With(log.NewLogfmtLogger(logs), "ts", log.DefaultTimestampUTC)
	logger := log.With(tee(parent, captured), "instance", v.String())

	return &base{
		version:   v,
		opts:      opts,
		deps:      deps,
		artifact:  ArtifactFor(v),
		configure: configure,
		logs:      logs,
		logger:    logger,
		state:     Created,
	}
}

func (b *base) Version() searchversion.SearchVersion { return b.version }
func (b *base) Artifact() string                     { return b.artifact }
func (b *base) Logs() string                         { return b.logs.String() }

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) setState(to State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transition(to)
}

// transition must be called with mu held.
func (b *base) transition(to State) error {
	if err := checkTransition(b.state, to); err != nil {
		return fmt.Errorf("%s: %w", b.version, err)
	}
	level.Debug(b.logger).Log("msg", "state change", "from", b.state, "to", to)
	b.state = to
	return nil
}

func (b *base) Start(ctx context.Context) error {
	if err := b.setState(Starting); err != nil {
		return err
	}
	if err := b.start(ctx); err != nil {
		level.Error(b.logger).Log("msg", "instance failed to start", "artifact", b.artifact, "err", err)
		b.mu.Lock()
		srv, c := b.srv, b.client
		b.srv = nil
		_ = b.transition(Failed)
		b.mu.Unlock()
		if c != nil {
			c.CloseIdleConnections()
		}
		if srv != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Stop(stopCtx)
		}
		return err
	}
	return b.setState(Healthy)
}

func (b *base) start(ctx context.Context) error {
	cfg, err := node.ConfigFromEnv(b.version, b.opts.env())
	if err != nil {
		return err
	}
	cfg.QueryTimeout = b.opts.CallTimeout
	cfg.Logger = b.logger
	if b.configure != nil {
		if err := b.configure(&cfg); err != nil {
			return err
		}
	}

	srv, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		_ = srv.Stop(context.Background())
		return fmt.Errorf("start node %s: %w", b.version, err)
	}
	addr := srv.Addr()
	b.mu.Lock()
	b.srv, b.addr = srv, addr
	b.mu.Unlock()

	c, err := client.New(client.Config{
		Endpoint: "http://" + addr,
		Username: b.opts.Username,
		Password: b.opts.Password,
		Timeout:  b.opts.CallTimeout,
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.client = c
	b.mu.Unlock()

	timeout := b.opts.StartupTimeout
	if timeout <= 0 {
		timeout = model.DefaultStartupTimeout
	}
	if err := waitGreen(ctx, c, timeout, b.logger); err != nil {
		return err
	}

	if b.deps.Registry == nil {
		return fmt.Errorf("%s: no adapter registry", b.version)
	}
	a, err := b.deps.Registry.New(adapter.Options{Version: b.version, Client: c, Logger: b.logger})
	if err != nil {
		return err
	}
	if b.deps.Metrics != nil {
		a = b.deps.Metrics.Instrument(a)
	}

	alias := b.deps.Network.Attach(b.version, addr)
	b.mu.Lock()
	b.adapter, b.alias = a, alias
	b.mu.Unlock()
	level.Info(b.logger).Log("msg", "instance healthy", "alias", alias, "addr", addr, "artifact", b.artifact)
	return nil
}

func (b *base) Stop(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case Stopped:
		b.mu.Unlock()
		return nil
	case Created:
		err := b.transition(Stopped)
		b.mu.Unlock()
		return err
	}
	if err := b.transition(Stopping); err != nil {
		b.mu.Unlock()
		return err
	}
	srv, alias, c := b.srv, b.alias, b.client
	b.srv, b.alias, b.users = nil, "", 0
	b.mu.Unlock()

	if c != nil {
		c.CloseIdleConnections()
	}

	if alias != "" {
		b.deps.Network.Detach(alias)
	}
	var err error
	if srv != nil {
		err = srv.Stop(ctx)
	}
	if serr := b.setState(Stopped); serr != nil {
		return errors.Join(err, serr)
	}
	level.Info(b.logger).Log("msg", "instance stopped")
	return err
}

func (b *base) Acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Healthy && b.state != InUse {
		return fmt.Errorf("%w: %s is %s", ErrNotReady, b.version, b.state)
	}
	if err := b.transition(InUse); err != nil {
		return err
	}
	b.users++
	return nil
}

func (b *base) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != InUse {
		return
	}
	b.users--
	if b.users <= 0 {
		b.users = 0
		_ = b.transition(Healthy)
	}
}

// CheckHealth probes the node once. A node that no longer answers green is
// marked Failed.
func (b *base) CheckHealth(ctx context.Context) error {
	b.mu.Lock()
	c, state := b.client, b.state
	b.mu.Unlock()
	if state != Healthy && state != InUse {
		return fmt.Errorf("%w: %s is %s", ErrNotReady, b.version, state)
	}

	h, err := c.Health(ctx)
	if err == nil && h.Status == model.HealthGreen {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("status %q", h.Status)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Healthy || b.state == InUse {
		_ = b.transition(Failed)
	}
	level.Warn(b.logger).Log("msg", "health check failed", "err", err)
	return fmt.Errorf("%w: %s: %w", ErrUnhealthy, b.version, err)
}

func (b *base) Adapter() adapter.Adapter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adapter
}

func (b *base) FixtureImporter() FixtureImporter {
	if a := b.Adapter(); a != nil {
		return a
	}
	return nil
}

func (b *base) Client() *client.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}

func (b *base) Address() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr
}

func (b *base) Alias() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alias
}
