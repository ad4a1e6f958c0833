// Package client is the HTTP transport from adapters and instances to a node.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/tinytelemetry/searchmatrix/internal/model"
	"github.com/tinytelemetry/searchmatrix/internal/node"
)

// ErrUnreachable reports that the node could not be reached or answered with
// a server-side failure. Per-call timeouts count as unreachable.
var ErrUnreachable = errors.New("backend unreachable")

// StatusError is a 4xx answer from the node.
type StatusError struct {
	Code   int
	Type   string
	Reason string
}

func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("backend returned %d %s: %s", e.Code, e.Type, e.Reason)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Reason)
}

// Config configures a Client.
type Config struct {
	// Endpoint is the node base URL, e.g. http://127.0.0.1:9200.
	Endpoint string
	Username string
	Password string
	// Timeout bounds every call; zero means model.DefaultQueryTimeout.
	Timeout time.Duration
}

// Client talks to one node. It never retries.
type Client struct {
	endpoint *url.URL
	client   *http.Client
	timeout  time.Duration
	username string
	password string
}

// New makes a new Client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", cfg.Endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("endpoint %q must be an absolute URL", cfg.Endpoint)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = model.DefaultQueryTimeout
	}
	return &Client{
		endpoint: u,
		timeout:  timeout,
		username: cfg.Username,
		password: cfg.Password,
		client: &http.Client{
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return errors.New("node clients do not follow redirects")
			},
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// CloseIdleConnections drops pooled keep-alive connections.
func (c *Client) CloseIdleConnections() { c.client.CloseIdleConnections() }

// Endpoint returns the node base URL.
func (c *Client) Endpoint() string { return c.endpoint.String() }

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Do sends body to path and returns the response body of a 2xx answer.
// body may be nil, a []byte sent verbatim, or any JSON-encodable value.
func (c *Client) Do(ctx context.Context, method, p string, body any) ([]byte, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case json.RawMessage:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.endpoint
	u.Path = path.Join("/", c.endpoint.Path, p)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnreachable, method, p, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %v", ErrUnreachable, p, err)
	}

	switch {
	case res.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", ErrUnreachable, method, p, res.StatusCode, reason(data))
	case res.StatusCode >= http.StatusBadRequest:
		se := &StatusError{Code: res.StatusCode, Reason: string(data)}
		var eb node.ErrorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error.Reason != "" {
			se.Type, se.Reason = eb.Error.Type, eb.Error.Reason
		}
		return nil, se
	}
	return data, nil
}

// DoJSON is Do followed by decoding the response into out.
func (c *Client) DoJSON(ctx context.Context, method, p string, body, out any) error {
	data, err := c.Do(ctx, method, p, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", p, err)
	}
	return nil
}

// Health fetches the node's cluster health.
func (c *Client) Health(ctx context.Context) (model.ClusterHealth, error) {
	var h model.ClusterHealth
	err := c.DoJSON(ctx, http.MethodGet, node.PathHealth, nil, &h)
	return h, err
}

// Settings fetches the node's settings, including its environment.
func (c *Client) Settings(ctx context.Context) (node.Settings, error) {
	var s node.Settings
	err := c.DoJSON(ctx, http.MethodGet, node.PathSettings, nil, &s)
	return s, err
}

// Query posts an engine-native request body and returns the raw response.
func (c *Client) Query(ctx context.Context, body []byte) ([]byte, error) {
	return c.Do(ctx, http.MethodPost, node.PathQuery, body)
}

func reason(data []byte) string {
	var eb node.ErrorBody
	if json.Unmarshal(data, &eb) == nil && eb.Error.Reason != "" {
		return eb.Error.Reason
	}
	if len(data) > 200 {
		return string(data[:200])
	}
	return string(data)
}
