// Package node runs an in-process search backend: an HTTP server in front of
// a storage engine, advertising a family and version.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinytelemetry/searchmatrix/internal/model"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

// Environment keys a node understands. Any other key is passed through and
// reported on the settings endpoint untouched.
const (
	EnvHeapSize   = "SEARCH_HEAP_SIZE"
	EnvSingleNode = "SEARCH_SINGLE_NODE"
	EnvUsername   = "SEARCH_USERNAME"
	EnvPassword   = "SEARCH_PASSWORD"
	EnvDataPath   = "SEARCH_DATA_PATH"
	EnvWarmUp     = "SEARCH_WARMUP"
)

// Config describes one node.
type Config struct {
	// Addr to listen on; defaults to 127.0.0.1:0 (any free port).
	Addr         string
	Version      searchversion.SearchVersion
	ClusterName  string
	Username     string
	Password     string
	DataPath     string
	WarmUp       time.Duration
	QueryTimeout time.Duration
	Env          map[string]string
	Logger       log.Logger
}

// Server is a running node.
type Server struct {
	cfg      Config
	engine   Engine
	logger   log.Logger
	registry *prometheus.Registry
	requests *prometheus.CounterVec

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	served    chan struct{}
}

// New opens the engine for cfg. The node does not listen until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.ClusterName == "" {
		cfg.ClusterName = "searchmatrix"
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = model.DefaultQueryTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}

	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", cfg.Version, err)
	}

	reg := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchmatrix_node_requests_total",
		Help: "Requests served by the node, by route and status code.",
	}, []string{"route", "code"})
	reg.MustRegister(requests)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		engine:   engine,
		logger:   log.With(cfg.Logger, "node", cfg.Version.String()),
		registry: reg,
		requests: requests,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Handler builds the node's routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())
	if s.cfg.Username != "" {
		r.Use(s.basicAuth())
	}

	r.GET(PathHealth, s.handleHealth)
	r.GET(PathSettings, s.handleSettings)
	r.GET(PathMetrics, gin.WrapH(s.metricsHandler()))
	r.POST(PathQuery, s.handleQuery)
	r.PUT("/:index", s.handleCreateIndex)
	r.DELETE("/:index", s.handleDeleteIndex)
	r.POST("/:index/_bulk", s.handleBulk)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("node already started")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	s.listener = listener
	s.startTime = time.Now()
	s.served = make(chan struct{})

	go func() {
		defer close(s.served)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			level.Error(s.logger).Log("msg", "serve failed", "err", err)
		}
	}()

	level.Info(s.logger).Log("msg", "node started", "addr", listener.Addr().String(), "cluster", s.cfg.ClusterName, "warmup", s.cfg.WarmUp)
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server and closes the engine.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, served := s.server, s.served
	s.server = nil
	s.mu.Unlock()

	s.cancel()
	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
		<-served
	}
	if err := s.engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close engine: %w", err))
	}
	level.Info(s.logger).Log("msg", "node stopped")
	return errors.Join(errs...)
}

// Health reports the node's current health. A node is yellow until the
// warm-up delay has elapsed and red when its engine cannot be read.
func (s *Server) Health(ctx context.Context) model.ClusterHealth {
	h := model.ClusterHealth{
		Status:        model.HealthGreen,
		ClusterName:   s.cfg.ClusterName,
		NumberOfNodes: 1,
		Version: model.NodeVersion{
			Distribution: string(s.cfg.Version.Family),
			Number:       s.cfg.Version.Version.String(),
		},
	}
	docs, err := s.engine.DocCount(ctx, "")
	if err != nil {
		level.Warn(s.logger).Log("msg", "health doc count failed", "err", err)
		h.Status = model.HealthRed
		return h
	}
	h.Docs = docs

	s.mu.Lock()
	started := s.startTime
	s.mu.Unlock()
	if started.IsZero() || time.Since(started) < s.cfg.WarmUp {
		h.Status = model.HealthYellow
	}
	return h
}
