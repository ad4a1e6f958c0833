package searchversion

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	sv, err := Parse("duckdb:1.1.3")
	require.NoError(t, err)
	assert.Equal(t, DuckDB, sv.Family)
	assert.Equal(t, "duckdb:1.1.3", sv.String())

	_, err = Parse("duckdb")
	assert.Error(t, err)
	_, err = Parse("mongo:1.0.0")
	assert.Error(t, err)
	_, err = Parse("bleve:not-a-version")
	assert.Error(t, err)
}

func TestCanonicalEquality(t *testing.T) {
	a := MustNew(DuckDB, "v1.1")
	b := MustNew(DuckDB, "1.1.0")
	assert.True(t, a == b)
	assert.True(t, a.Equal(b))

	m := map[SearchVersion]int{a: 1}
	assert.Equal(t, 1, m[b])

	assert.False(t, a.Equal(MustNew(Bleve, "1.1.0")))
}

func TestCompareOrdering(t *testing.T) {
	versions := []SearchVersion{
		MustNew(DuckDB, "1.2.0-dev"),
		MustNew(Bleve, "2.5.7"),
		MustNew(DuckDB, "0.9.2"),
		MustNew(DuckDB, "1.2.0"),
		MustNew(DuckDB, "1.1.3"),
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Compare(versions[j]) < 0 })

	var got []string
	for _, v := range versions {
		got = append(got, v.String())
	}
	assert.Equal(t, []string{"bleve:2.5.7", "duckdb:0.9.2", "duckdb:1.1.3", "duckdb:1.2.0-dev", "duckdb:1.2.0"}, got)
}

func TestIsDevelopment(t *testing.T) {
	assert.True(t, MustNew(DuckDB, "1.2.0-dev").IsDevelopment())
	assert.True(t, MustNew(DuckDB, "1.2.0-SNAPSHOT").IsDevelopment())
	assert.False(t, MustNew(DuckDB, "1.2.0-rc.1").IsDevelopment())
	assert.False(t, MustNew(DuckDB, "1.2.0").IsDevelopment())
}

func TestAtLeast(t *testing.T) {
	sv := MustNew(DuckDB, "0.9.2")
	assert.True(t, sv.AtLeast("0.9.0"))
	assert.False(t, sv.AtLeast("1.0.0"))
}
