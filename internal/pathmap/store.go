package pathmap

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicateKey is returned when a transformation maps two entries to one key
var ErrDuplicateKey = errors.New("duplicate path")

// Store is an immutable mapping from normalized relative paths to file
// references. Every transformation returns a new Store and leaves the
// receiver untouched; FileRefs are shared, never copied.
type Store struct {
	entries map[string]FileRef
}

// New builds a store from entries, normalizing every key
func New(entries map[string]FileRef) (*Store, error) {
	s := &Store{entries: make(map[string]FileRef, len(entries))}
	for key, ref := range entries {
		normalized, err := Normalize(key)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			return nil, fmt.Errorf("nil file reference for %q", key)
		}
		if _, exists := s.entries[normalized]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, normalized)
		}
		s.entries[normalized] = ref
	}
	return s, nil
}

// MustNew is like New but panics on error. Intended for fixtures.
func MustNew(entries map[string]FileRef) *Store {
	s, err := New(entries)
	if err != nil {
		panic(err)
	}
	return s
}

// Empty returns a store with no entries
func Empty() *Store {
	return &Store{entries: map[string]FileRef{}}
}

// Get returns the reference stored under key
func (s *Store) Get(key string) (FileRef, bool) {
	ref, ok := s.entries[key]
	return ref, ok
}

// Has reports whether key is present
func (s *Store) Has(key string) bool {
	_, ok := s.entries[key]
	return ok
}

// Len returns the number of entries
func (s *Store) Len() int {
	return len(s.entries)
}

// Keys returns all keys in lexical order
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Range calls fn for each entry in key order until fn returns false
func (s *Store) Range(fn func(key string, ref FileRef) bool) {
	for _, key := range s.Keys() {
		if !fn(key, s.entries[key]) {
			return
		}
	}
}

// Entries returns a shallow copy of the underlying map
func (s *Store) Entries() map[string]FileRef {
	out := make(map[string]FileRef, len(s.entries))
	for key, ref := range s.entries {
		out[key] = ref
	}
	return out
}

// TotalSize sums the size of every entry
func (s *Store) TotalSize() int64 {
	var total int64
	for _, ref := range s.entries {
		total += ref.Size()
	}
	return total
}

// Filter returns the entries whose key satisfies keep
func (s *Store) Filter(keep func(key string) bool) *Store {
	out := &Store{entries: make(map[string]FileRef)}
	for key, ref := range s.entries {
		if keep(key) {
			out.entries[key] = ref
		}
	}
	return out
}

// Rekey returns a store whose keys are rename(key). Renamed keys are
// normalized; two entries landing on one key is an error.
func (s *Store) Rekey(rename func(key string) string) (*Store, error) {
	out := &Store{entries: make(map[string]FileRef, len(s.entries))}
	for _, key := range s.Keys() {
		newKey, err := Normalize(rename(key))
		if err != nil {
			return nil, fmt.Errorf("failed to rename %q: %w", key, err)
		}
		if _, exists := out.entries[newKey]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, newKey)
		}
		out.entries[newKey] = s.entries[key]
	}
	return out, nil
}

// With returns a copy of the store with ref added under key
func (s *Store) With(key string, ref FileRef) (*Store, error) {
	add, err := New(map[string]FileRef{key: ref})
	if err != nil {
		return nil, err
	}
	return s.Merge(add)
}

// Merge returns the union of s and others. A key present in more than one
// input is reported as an error rather than silently overwritten.
func (s *Store) Merge(others ...*Store) (*Store, error) {
	out := &Store{entries: s.Entries()}
	for _, other := range others {
		if other == nil {
			continue
		}
		for _, key := range other.Keys() {
			if _, exists := out.entries[key]; exists {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
			}
			out.entries[key] = other.entries[key]
		}
	}
	return out, nil
}
