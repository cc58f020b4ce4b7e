// Package topology turns logical node group names into transport addresses.
package topology

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/ds"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/transport"
)

// All names every node of a topology.
const All = "all"

var ErrUnknownGroup = errors.New("unknown node group")

type Resolver interface {
	// Resolve returns the addresses of all named groups, deduplicated, in
	// first-seen order. A group name may also be a literal "host:port".
	Resolve(ctx context.Context, groups ...string) ([]transport.NodeAddress, error)
}

// Static is an in-memory Resolver. Group names are case-insensitive.
type Static struct {
	mu     sync.RWMutex
	groups map[string][]transport.NodeAddress
}

func NewStatic(groups map[string][]transport.NodeAddress) *Static {
	s := &Static{groups: make(map[string][]transport.NodeAddress, len(groups))}
	for name, addrs := range groups {
		s.Set(name, addrs...)
	}
	return s
}

// Set replaces the members of group.
func (s *Static) Set(group string, addrs ...transport.NodeAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[strings.ToLower(group)] = append([]transport.NodeAddress(nil), addrs...)
}

// Groups lists the defined group names, sorted.
func (s *Static) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedGroups()
}

func (s *Static) Resolve(_ context.Context, groups ...string) ([]transport.NodeAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := ds.NewSet[transport.NodeAddress]()
	for _, g := range groups {
		name := strings.ToLower(strings.TrimSpace(g))
		if name == All {
			if _, ok := s.groups[All]; !ok {
				for _, n := range s.sortedGroups() {
					set.Extend(s.groups[n]...)
				}
				continue
			}
		}
		if addrs, ok := s.groups[name]; ok {
			set.Extend(addrs...)
			continue
		}
		if addr, err := transport.ParseNodeAddress(g); err == nil {
			set.Add(addr)
			continue
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, g)
	}
	return set.Values(), nil
}

func (s *Static) sortedGroups() []string {
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// File is the YAML layout read by LoadFile:
//
//	groups:
//	  workers:
//	    - localhost:7071
//	    - localhost:7072
type File struct {
	Groups map[string][]string `yaml:"groups"`
}

// Parse builds a Static resolver from YAML.
func Parse(data []byte) (*Static, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	groups := make(map[string][]transport.NodeAddress, len(f.Groups))
	for name, members := range f.Groups {
		for _, m := range members {
			addr, err := transport.ParseNodeAddress(m)
			if err != nil {
				return nil, fmt.Errorf("group %s: %w", name, err)
			}
			groups[name] = append(groups[name], addr)
		}
	}
	return NewStatic(groups), nil
}

func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

var _ Resolver = (*Static)(nil)
