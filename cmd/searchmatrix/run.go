package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/backends"
	"github.com/tinytelemetry/searchmatrix/internal/conformance"
	"github.com/tinytelemetry/searchmatrix/internal/matrix"
	"github.com/tinytelemetry/searchmatrix/internal/searchserver"
)

func newRunCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the conformance suite across the configured catalog",
		Long: `Run the conformance suite once per catalog entry, each against its own
backend instance, and print one line per entry.

Examples:
  searchmatrix run
  searchmatrix run --catalog duckdb:0.9.2,duckdb:1.1.3
  SEARCHMATRIX_REUSE=true searchmatrix run --max-concurrent-instances 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runMatrix(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringSlice("catalog", defaultCatalog, "family:version entries to run against")
	f.Int("max-concurrent-instances", defaultMaxConcurrentInstances, "instances running at once")
	f.Duration("startup-timeout", defaultStartupTimeout, "time allowed for an instance to become healthy")
	f.Duration("case-timeout", defaultCaseTimeout, "bound on each case, 0 for none")
	f.Duration("teardown-timeout", defaultTeardownTimeout, "bound on instance teardown")
	f.String("heap-size", defaultHeapSize, "heap size passed to each node")
	f.Duration("warm-up", 0, "delay before nodes report green")
	f.Bool("reuse", false, "keep healthy instances between entries of the same version (ignored in CI)")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	return cmd
}

func (c *cli) runMatrix(ctx context.Context) error {
	versions, err := c.cfg.versions()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	opts := searchserver.DefaultStartOptions()
	opts.HeapSize = c.cfg.HeapSize
	opts.Username = c.cfg.Username
	opts.Password = c.cfg.Password
	opts.WarmUp = c.cfg.WarmUp
	opts.StartupTimeout = c.cfg.StartupTimeout
	opts.CallTimeout = c.cfg.QueryTimeout

	factory := searchserver.NewFactory(searchserver.Deps{
		Registry: backends.NewRegistry(),
		Metrics:  adapter.NewMetrics(reg),
		Logger:   c.logger,
	}, opts, searchserver.ReusePolicy{Enabled: c.cfg.Reuse, CI: c.cfg.CI})
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.TeardownTimeout)
		defer cancel()
		if err := factory.Close(cctx); err != nil {
			level.Warn(c.logger).Log("msg", "closing pooled instances", "err", err)
		}
	}()

	h, err := matrix.New(matrix.Config{
		Catalog:                versions,
		MaxConcurrentInstances: c.cfg.MaxConcurrentInstances,
		CaseTimeout:            c.cfg.CaseTimeout,
		TeardownTimeout:        c.cfg.TeardownTimeout,
		Logger:                 c.logger,
		Registerer:             reg,
	}, factory)
	if err != nil {
		return err
	}
	suite, err := conformance.Suite(time.Now())
	if err != nil {
		return err
	}

	level.Info(c.logger).Log("msg", "starting matrix", "suite", suite.Name, "entries", len(versions), "reuse", c.cfg.Reuse && !c.cfg.CI, "config", c.cfg.ConfigPath)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, finished := context.WithCancel(gctx)
	defer finished()

	if c.cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              c.cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	var report matrix.Report
	g.Go(func() error {
		defer finished()
		report = h.Run(runCtx, suite)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprint(c.out, report.Summary())
	if !report.Passed() {
		return errMatrixFailed
	}
	return nil
}
