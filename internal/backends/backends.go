// Package backends wires every adapter this build ships into one registry.
package backends

import (
	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/adapter/blevequery"
	"github.com/tinytelemetry/searchmatrix/internal/adapter/duckdbsql"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

// NewRegistry returns a registry holding the built-in adapters.
func NewRegistry() *adapter.Registry {
	r := adapter.NewRegistry()
	mustRegister(r, searchversion.DuckDB, "0.9.0", duckdbsql.NewLegacy)
	mustRegister(r, searchversion.DuckDB, "1.0.0", duckdbsql.NewCurrent)
	mustRegister(r, searchversion.Bleve, "2.0.0", blevequery.New)
	return r
}

func mustRegister(r *adapter.Registry, family searchversion.Family, min string, f adapter.Factory) {
	if err := r.Register(family, min, f); err != nil {
		panic(err)
	}
}
