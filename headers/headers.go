// Package headers provides an ordered, case-insensitive header store.
//
// Names are matched without regard to case, but the spelling used when a
// name was first stored is preserved for output. Insertion order is kept,
// which matters for deterministic wire output and for response headers
// whose relative order callers may inspect.
package headers

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type entry struct {
	name  string // spelling at first store
	value string
}

// Store holds header name/value pairs. The zero value is not usable;
// create one with [New]. A Store is not safe for concurrent use.
type Store struct {
	m *orderedmap.OrderedMap[string, entry]
}

// New returns an empty Store.
func New() *Store {
	return &Store{m: orderedmap.New[string, entry]()}
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Set stores value under name, replacing any existing value. The original
// spelling of an already-present name is kept.
func (s *Store) Set(name, value string) {
	k := key(name)
	if prev, ok := s.m.Get(k); ok {
		s.m.Set(k, entry{name: prev.name, value: value})
		return
	}
	s.m.Set(k, entry{name: strings.TrimSpace(name), value: value})
}

// Add stores value under name, joining it to an existing value with a
// comma. Repeated response headers collapse into one comma-separated
// value this way instead of being overwritten.
func (s *Store) Add(name, value string) {
	k := key(name)
	if prev, ok := s.m.Get(k); ok {
		s.m.Set(k, entry{name: prev.name, value: prev.value + "," + value})
		return
	}
	s.m.Set(k, entry{name: strings.TrimSpace(name), value: value})
}

// Get returns the value stored under name, or the empty string when
// absent. Use [Store.Has] to distinguish absence from an empty value.
func (s *Store) Get(name string) string {
	e, _ := s.m.Get(key(name))
	return e.value
}

// Has reports whether name is present.
func (s *Store) Has(name string) bool {
	_, ok := s.m.Get(key(name))
	return ok
}

// Del removes name if present.
func (s *Store) Del(name string) {
	s.m.Delete(key(name))
}

// Len returns the number of stored names.
func (s *Store) Len() int {
	return s.m.Len()
}

// Names returns the stored names in insertion order, original spelling.
func (s *Store) Names() []string {
	out := make([]string, 0, s.m.Len())
	for p := s.m.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value.name)
	}
	return out
}

// Lines renders the store as "Name: value" lines in insertion order.
func (s *Store) Lines() []string {
	out := make([]string, 0, s.m.Len())
	for p := s.m.Oldest(); p != nil; p = p.Next() {
		out = append(out, fmt.Sprintf("%s: %s", p.Value.name, p.Value.value))
	}
	return out
}

// Range calls fn for each pair in insertion order until fn returns false.
func (s *Store) Range(fn func(name, value string) bool) {
	for p := s.m.Oldest(); p != nil; p = p.Next() {
		if !fn(p.Value.name, p.Value.value) {
			return
		}
	}
}

// Clone returns an independent copy of the store.
func (s *Store) Clone() *Store {
	out := New()
	for p := s.m.Oldest(); p != nil; p = p.Next() {
		out.m.Set(p.Key, p.Value)
	}
	return out
}
