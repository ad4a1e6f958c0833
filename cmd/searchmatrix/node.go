package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/tinytelemetry/searchmatrix/internal/node"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

type nodeFlags struct {
	version  string
	addr     string
	dataPath string
}

func newNodeCmd(c *cli) *cobra.Command {
	var nf nodeFlags
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run one standalone backend node until interrupted",
		Long: `Run one backend node in the foreground. The node speaks the same HTTP
API the matrix uses, so adapters and the query command can target it.

Examples:
  searchmatrix node --version duckdb:1.1.3
  searchmatrix node --version bleve:2.5.7 --addr 127.0.0.1:9201`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runNode(cmd.Context(), nf)
		},
	}
	f := cmd.Flags()
	f.StringVar(&nf.version, "version", "", "family:version of the node, e.g. duckdb:1.1.3")
	f.StringVar(&nf.addr, "addr", defaultNodeAddr, "listen address")
	f.StringVar(&nf.dataPath, "data-path", "", "duckdb database file; empty keeps data in memory")
	f.Duration("warm-up", 0, "delay before the node reports green")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

// nodeConfig renders the CLI settings as the environment a node reads.
func (c *cli) nodeConfig(nf nodeFlags) (node.Config, error) {
	v, err := searchversion.Parse(nf.version)
	if err != nil {
		return node.Config{}, err
	}
	env := map[string]string{
		node.EnvHeapSize:   c.cfg.HeapSize,
		node.EnvSingleNode: "true",
	}
	if c.cfg.Username != "" {
		env[node.EnvUsername] = c.cfg.Username
		env[node.EnvPassword] = c.cfg.Password
	}
	if nf.dataPath != "" {
		env[node.EnvDataPath] = nf.dataPath
	}
	if c.cfg.WarmUp > 0 {
		env[node.EnvWarmUp] = c.cfg.WarmUp.String()
	}

	cfg, err := node.ConfigFromEnv(v, env)
	if err != nil {
		return node.Config{}, err
	}
	cfg.Addr = nf.addr
	cfg.QueryTimeout = c.cfg.QueryTimeout
	cfg.Logger = c.logger
	return cfg, nil
}

func (c *cli) runNode(ctx context.Context, nf nodeFlags) error {
	cfg, err := c.nodeConfig(nf)
	if err != nil {
		return err
	}
	srv, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		_ = srv.Stop(context.Background())
		return fmt.Errorf("failed to start node: %w", err)
	}
	fmt.Fprintf(c.out, "%s listening on http://%s\n", cfg.Version, srv.Addr())

	<-ctx.Done()
	level.Info(c.logger).Log("msg", "shutting down node")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(stopCtx)
}
