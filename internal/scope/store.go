// Package scope holds the per-test store of captured values.
package scope

import (
	"sort"
	"sync"
)

// Store is the captured-values store owned by a single test execution.
// Entries are only ever added or overwritten, never removed.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{values: make(map[string]any)}
}

// Set stores a value under name. Last write wins.
func (s *Store) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// Get retrieves a value by name
func (s *Store) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Len returns the number of captured values
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Names returns the captured names in sorted order
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a shallow copy of the current values.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
