package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/searchmatrix/internal/model"
	"github.com/tinytelemetry/searchmatrix/internal/node"
)

func newTestClient(t *testing.T, h http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.Endpoint = srv.URL
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestHealthAndAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "u" || pass != "p" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, node.PathHealth, r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"green","number_of_nodes":1,"docs":3}`))
	}, Config{Username: "u", Password: "p"})

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.HealthGreen, h.Status)
	assert.Equal(t, int64(3), h.Docs)
}

func TestStatusErrorDecoding(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"unsupported_syntax_exception","reason":"arg_max requires duckdb >= 1.0.0"},"status":400}`))
	}, Config{})

	_, err := c.Query(context.Background(), []byte(`{"sql":"SELECT 1"}`))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, node.ErrTypeUnsupported, se.Type)
	assert.Contains(t, se.Reason, "arg_max")
	assert.False(t, errors.Is(err, ErrUnreachable))
}

func TestServerErrorIsUnreachable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Config{})

	_, err := c.Do(context.Background(), http.MethodGet, "/", nil)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestTimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}, Config{Timeout: 50 * time.Millisecond})
	defer close(release)

	_, err := c.Do(context.Background(), http.MethodGet, "/slow", nil)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestRefusedConnectionIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c, err := New(Config{Endpoint: endpoint, Timeout: time.Second})
	require.NoError(t, err)
	_, err = c.Health(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestNewRejectsRelativeEndpoint(t *testing.T) {
	_, err := New(Config{Endpoint: "localhost:9200"})
	assert.Error(t, err)
}

func TestTimeoutKeepsDeadlineCause(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}, Config{Timeout: 50 * time.Millisecond})
	defer close(release)

	_, err := c.Do(context.Background(), http.MethodPost, "/logs/_bulk", []byte(`[]`))
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
