package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/backends"
	"github.com/tinytelemetry/searchmatrix/internal/client"
	"github.com/tinytelemetry/searchmatrix/internal/fixture"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
	"github.com/tinytelemetry/searchmatrix/internal/series"
	"github.com/tinytelemetry/searchmatrix/internal/timerange"
)

// requestFile is the YAML form of a canonical request. Raw, when set, is
// sent to the backend unchanged instead of the canonical request.
type requestFile struct {
	Index   string           `yaml:"index"`
	Now     *time.Time       `yaml:"now"`
	Range   rangeFile        `yaml:"range"`
	Series  []map[string]any `yaml:"series"`
	GroupBy []string         `yaml:"group_by"`
	Raw     string           `yaml:"raw"`
}

type rangeFile struct {
	Type    string     `yaml:"type"`
	Range   *int       `yaml:"range"`
	From    *time.Time `yaml:"from"`
	To      *time.Time `yaml:"to"`
	Keyword string     `yaml:"keyword"`
}

// parseRequest reads a request file into an adapter request.
func parseRequest(r io.Reader) (adapter.Request, string, error) {
	var rf requestFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return adapter.Request{}, "", fmt.Errorf("decoding request: %w", err)
	}
	if rf.Raw != "" {
		return adapter.Request{}, rf.Raw, nil
	}

	tr, err := timerange.FromFields(rf.Range.Type, rf.Range.Range, rf.Range.From, rf.Range.To, rf.Range.Keyword)
	if err != nil {
		return adapter.Request{}, "", err
	}
	req := adapter.Request{Index: rf.Index, Range: tr, GroupBy: rf.GroupBy}
	if rf.Now != nil {
		req.Now = *rf.Now
	}
	for i, attrs := range rf.Series {
		s, err := series.Decode(attrs)
		if err != nil {
			return adapter.Request{}, "", fmt.Errorf("series[%d]: %w", i, err)
		}
		req.Series = append(req.Series, s)
	}
	if err := req.Validate(); err != nil {
		return adapter.Request{}, "", err
	}
	return req, "", nil
}

type queryFlags struct {
	target  string
	addr    string
	file    string
	fixture string
}

func newQueryCmd(c *cli) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Execute a request file against a running node",
		Long: `Execute a canonical request against a running node through the adapter
resolved for the target version, and print the result as JSON.

Examples:
  searchmatrix query --target duckdb:1.1.3 --file req.yaml
  searchmatrix query --target bleve:2.5.7 --addr 127.0.0.1:9201 --fixture logs.yaml --file req.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runQuery(cmd.Context(), qf)
		},
	}
	f := cmd.Flags()
	f.StringVar(&qf.target, "target", "", "family:version of the node")
	f.StringVar(&qf.addr, "addr", defaultNodeAddr, "node address")
	f.StringVarP(&qf.file, "file", "f", "", "request file (YAML)")
	f.StringVar(&qf.fixture, "fixture", "", "dataset file to import before querying")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (c *cli) runQuery(ctx context.Context, qf queryFlags) error {
	v, err := searchversion.Parse(qf.target)
	if err != nil {
		return err
	}
	fh, err := os.Open(qf.file)
	if err != nil {
		return err
	}
	req, raw, err := parseRequest(fh)
	_ = fh.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", qf.file, err)
	}

	cl, err := client.New(client.Config{
		Endpoint: "http://" + qf.addr,
		Username: c.cfg.Username,
		Password: c.cfg.Password,
		Timeout:  c.cfg.QueryTimeout,
	})
	if err != nil {
		return err
	}
	defer cl.CloseIdleConnections()

	a, err := backends.NewRegistry().New(adapter.Options{Version: v, Client: cl, Logger: c.logger})
	if err != nil {
		return err
	}

	if qf.fixture != "" {
		ds, err := fixture.LoadFile(qf.fixture, time.Now())
		if err != nil {
			return err
		}
		if err := a.ImportFixture(ctx, ds); err != nil {
			return err
		}
	}

	if raw != "" {
		body, err := a.RawQuery(ctx, []byte(raw))
		if err != nil {
			return fmt.Errorf("%s: %w", v, err)
		}
		_, err = fmt.Fprintln(c.out, string(body))
		return err
	}

	res, err := a.Execute(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", v, err)
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
