package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

// errMatrixFailed signals a completed run with failing entries.
var errMatrixFailed = errors.New("matrix failed")

// cli holds what every subcommand shares once configuration is loaded.
type cli struct {
	out        io.Writer
	errOut     io.Writer
	v          *viper.Viper
	configPath string
	cfg        appConfig
	logger     log.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errMatrixFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut, v: newViper()}

	root := &cobra.Command{
		Use:           "searchmatrix",
		Short:         "Run search conformance checks across backend versions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "config file (default is $HOME/.config/searchmatrix/config.yml)")
	pf.String("log-level", defaultLogLevel, "debug, info, warn or error")
	pf.String("log-format", defaultLogFormat, "logfmt or json")
	pf.Duration("query-timeout", defaultQueryTimeout, "bound on every backend call")
	pf.String("username", "", "node basic auth user")
	pf.String("password", "", "node basic auth password")

	root.AddCommand(
		newRunCmd(c),
		newNodeCmd(c),
		newQueryCmd(c),
		newVersionCmd(c),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := loadConfig(c.v, cmd.Flags(), c.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := newLogger(c.errOut, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	c.cfg, c.logger = cfg, logger
	return nil
}

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print version information",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(c.out, "searchmatrix - search backend version matrix\n")
			fmt.Fprintf(c.out, "  Version:    %s\n", version)
			fmt.Fprintf(c.out, "  Commit:     %s\n", commit)
			fmt.Fprintf(c.out, "  Built:      %s\n", buildTime)
			fmt.Fprintf(c.out, "  Go version: %s\n", goVersion)
		},
	}
}
