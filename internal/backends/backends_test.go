package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/client"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

func TestNewRegistryResolvesShippedVersions(t *testing.T) {
	r := NewRegistry()
	c, err := client.New(client.Config{Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)

	cases := map[string]string{
		"duckdb:0.9.2":     "0.9.0",
		"duckdb:1.1.3":     "1.0.0",
		"duckdb:1.2.0-dev": "1.0.0",
		"bleve:2.5.7":      "2.0.0",
	}
	for in, wantMin := range cases {
		t.Run(in, func(t *testing.T) {
			v, err := searchversion.Parse(in)
			require.NoError(t, err)

			_, min, err := r.Resolve(v)
			require.NoError(t, err)
			assert.Equal(t, wantMin, min.String())

			a, err := r.New(adapter.Options{Version: v, Client: c})
			require.NoError(t, err)
			assert.Equal(t, v, a.Version())
		})
	}

	_, _, err = r.Resolve(searchversion.MustNew(searchversion.Bleve, "1.0.0"))
	assert.ErrorIs(t, err, adapter.ErrNoAdapter)
}
