package searchserver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"

	"github.com/tinytelemetry/searchmatrix/internal/client"
	"github.com/tinytelemetry/searchmatrix/internal/model"
)

var probeBackoff = backoff.Config{
	MinBackoff: 20 * time.Millisecond,
	MaxBackoff: time.Second,
}

// waitGreen polls the node's health endpoint until it reports green. Any
// other status, a missing status, or a transport error counts as not ready.
func waitGreen(ctx context.Context, c *client.Client, timeout time.Duration, logger log.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last error
	b := backoff.New(ctx, probeBackoff)
	for b.Ongoing() {
		h, err := c.Health(ctx)
		switch {
		case err != nil:
			last = err
		case h.Status == model.HealthGreen:
			level.Debug(logger).Log("msg", "node ready", "probes", b.NumRetries()+1)
			return nil
		default:
			last = fmt.Errorf("cluster status %q", h.Status)
		}
		b.Wait()
	}
	if last == nil {
		last = b.Err()
	}
	return fmt.Errorf("%w after %s: %w", ErrStartupTimeout, timeout, last)
}
