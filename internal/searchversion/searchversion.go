// Package searchversion identifies a search backend product and version.
package searchversion

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Family is a distinct search engine product.
type Family string

const (
	// DuckDB is the primary backend family.
	DuckDB Family = "duckdb"
	// Bleve is the alternate backend family.
	Bleve Family = "bleve"
)

// Families returns the families known to this build.
func Families() []Family { return []Family{DuckDB, Bleve} }

// ParseFamily normalises a family name.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Families() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown search backend family %q", s)
}

// SearchVersion is a (family, version) pair. Values are canonicalised at
// construction so two equal versions compare equal with == and can be used as
// map keys.
type SearchVersion struct {
	Family  Family
	Version semver.Version
}

// New builds a SearchVersion from a family and a semantic version string.
func New(family Family, version string) (SearchVersion, error) {
	if family == "" {
		return SearchVersion{}, fmt.Errorf("search version: family required")
	}
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return SearchVersion{}, fmt.Errorf("search version %s: %w", version, err)
	}
	return SearchVersion{Family: family, Version: canonical(v)}, nil
}

// MustNew is New for static catalogs; it panics on error.
func MustNew(family Family, version string) SearchVersion {
	sv, err := New(family, version)
	if err != nil {
		panic(err)
	}
	return sv
}

// Parse reads the "family:version" form produced by String.
func Parse(s string) (SearchVersion, error) {
	family, version, ok := strings.Cut(s, ":")
	if !ok {
		return SearchVersion{}, fmt.Errorf("search version %q: want family:version", s)
	}
	f, err := ParseFamily(family)
	if err != nil {
		return SearchVersion{}, err
	}
	return New(f, version)
}

func canonical(v *semver.Version) semver.Version {
	return *semver.New(v.Major(), v.Minor(), v.Patch(), v.Prerelease(), v.Metadata())
}

func (sv SearchVersion) String() string {
	return string(sv.Family) + ":" + sv.Version.String()
}

// Equal reports whether family and version both match.
func (sv SearchVersion) Equal(o SearchVersion) bool {
	return sv.Family == o.Family && sv.Version.Equal(&o.Version)
}

// Compare orders by family name, then by semantic version.
func (sv SearchVersion) Compare(o SearchVersion) int {
	if c := strings.Compare(string(sv.Family), string(o.Family)); c != 0 {
		return c
	}
	return sv.Version.Compare(&o.Version)
}

// IsDevelopment reports whether the version is an unreleased development build.
func (sv SearchVersion) IsDevelopment() bool {
	pre := strings.ToLower(sv.Version.Prerelease())
	return pre == "dev" || strings.HasPrefix(pre, "dev.") || strings.Contains(pre, "snapshot")
}

// AtLeast reports whether sv's version is >= the given version string.
func (sv SearchVersion) AtLeast(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return sv.Version.Compare(v) >= 0
}
