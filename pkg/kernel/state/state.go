// Package state implements the per-run key/value store that bridges steps.
package state

import "sync"

// Store holds values written by store_value and by steps with save_as.
// A store belongs to exactly one run. Keys are unique, the last write wins
// and List reports names in the order they were first written.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
	order  []string
}

// New returns an empty store.
func New() *Store {
	return &Store{values: make(map[string]any)}
}

// Set stores value under name, overwriting any previous value.
func (s *Store) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[name]; !ok {
		s.order = append(s.order, name)
	}
	s.values[name] = value
}

// Get returns the value stored under name, or def when it is absent.
func (s *Store) Get(name string, def any) any {
	if v, ok := s.Lookup(name); ok {
		return v
	}
	return def
}

// Lookup returns the value stored under name and whether it was present.
func (s *Store) Lookup(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// List returns all names in insertion order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of stored names.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Snapshot returns a shallow copy of the stored values.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Entry is one stored name and its value.
type Entry struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Entries returns the stored values in insertion order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.order))
	for i, name := range s.order {
		out[i] = Entry{Name: name, Value: s.values[name]}
	}
	return out
}

// Restore sets every entry in order, so List on the receiving store matches
// the store the entries came from.
func (s *Store) Restore(entries []Entry) {
	for _, e := range entries {
		s.Set(e.Name, e.Value)
	}
}
