package searchserver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

// Network is the namespace instances of one harness run are reachable in.
// Every attached instance gets its own alias; detaching one never affects
// the others.
type Network struct {
	name string

	mu      sync.RWMutex
	aliases map[string]string
}

// NewNetwork creates an empty network. An empty name gets a random one.
func NewNetwork(name string) *Network {
	if name == "" {
		name = "searchmatrix-" + uuid.NewString()[:8]
	}
	return &Network{name: name, aliases: make(map[string]string)}
}

// Name is the network's name.
func (n *Network) Name() string { return n.name }

// Attach registers addr under a fresh alias derived from v.
func (n *Network) Attach(v searchversion.SearchVersion, addr string) string {
	prefix := string(v.Family) + "-" + sanitize(v.Version.String())

	n.mu.Lock()
	defer n.mu.Unlock()
	for {
		alias := prefix + "-" + uuid.NewString()[:8]
		if _, taken := n.aliases[alias]; !taken {
			n.aliases[alias] = addr
			return alias
		}
	}
}

// Detach removes alias. Unknown aliases are ignored.
func (n *Network) Detach(alias string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.aliases, alias)
}

// Resolve returns the address behind alias.
func (n *Network) Resolve(alias string) (string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	addr, ok := n.aliases[alias]
	if !ok {
		return "", fmt.Errorf("network %s: unknown alias %q", n.name, alias)
	}
	return addr, nil
}

// Aliases returns the attached aliases, sorted.
func (n *Network) Aliases() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.aliases))
	for alias := range n.aliases {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, s)
}
