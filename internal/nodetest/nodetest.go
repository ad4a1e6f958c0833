// Package nodetest starts real in-process nodes for tests.
package nodetest

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/searchmatrix/internal/client"
	"github.com/tinytelemetry/searchmatrix/internal/node"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

// Start runs a node for v until the test ends and returns a client bound to it.
func Start(t testing.TB, v searchversion.SearchVersion) *client.Client {
	t.Helper()
	return StartWith(t, node.Config{Version: v})
}

// StartWith is Start with a custom node configuration.
func StartWith(t testing.TB, cfg node.Config) *client.Client {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv, err := node.New(cfg)
	if err != nil {
		t.Fatalf("node.New(%s): %v", cfg.Version, err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("node.Start(%s): %v", cfg.Version, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			t.Errorf("node.Stop(%s): %v", cfg.Version, err)
		}
	})

	c, err := client.New(client.Config{
		Endpoint: "http://" + srv.Addr(),
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c
}
