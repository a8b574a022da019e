package registry

import (
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"

	"modelserve/pkg/types"
)

// Registry holds one descriptor per model name. Readers work against an immutable
// snapshot; Replace swaps a new snapshot in without blocking them.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	byName map[string]types.Model
	sorted []types.Model
}

// New builds a registry from models. Duplicate names resolve last-write-wins.
func New(models []types.Model) *Registry {
	r := &Registry{}
	r.Replace(models)
	return r
}

// LoadDir scans dir and builds a registry from the result.
func LoadDir(dir string, l zerolog.Logger) (*Registry, error) {
	models, err := NewScanner(l).Scan(dir)
	if err != nil {
		return nil, err
	}
	return New(models), nil
}

// Replace atomically installs a new catalog.
func (r *Registry) Replace(models []types.Model) {
	s := &snapshot{byName: make(map[string]types.Model, len(models))}
	for _, m := range models {
		m.Loaded = false
		s.byName[m.Name] = m
	}
	s.sorted = make([]types.Model, 0, len(s.byName))
	for _, m := range s.byName {
		s.sorted = append(s.sorted, m)
	}
	sort.Slice(s.sorted, func(i, j int) bool { return s.sorted[i].Name < s.sorted[j].Name })
	r.snap.Store(s)
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (types.Model, bool) {
	s := r.snap.Load()
	if s == nil {
		return types.Model{}, false
	}
	m, ok := s.byName[name]
	return m, ok
}

// List returns a copy of the catalog sorted by name.
func (r *Registry) List() []types.Model {
	s := r.snap.Load()
	if s == nil {
		return []types.Model{}
	}
	out := make([]types.Model, len(s.sorted))
	copy(out, s.sorted)
	return out
}

// Len returns the catalog size.
func (r *Registry) Len() int {
	s := r.snap.Load()
	if s == nil {
		return 0
	}
	return len(s.sorted)
}
