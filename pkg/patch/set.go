// SPDX-License-Identifier: MPL-2.0

package patch

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
)

// Set is an unordered collection of distinct file names. It is serialized as
// a sorted JSON array.
type Set map[string]struct{}

// NewSet returns a set holding the given items.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Add inserts items into the set.
func (s Set) Add(items ...string) {
	for _, it := range items {
		s[it] = struct{}{}
	}
}

// Has reports whether item is in the set.
func (s Set) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Len returns the number of items.
func (s Set) Len() int { return len(s) }

// Sorted returns the items in lexical order.
func (s Set) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

// Union adds every item of o to s.
func (s Set) Union(o Set) {
	for it := range o {
		s[it] = struct{}{}
	}
}

// Clone returns an independent copy; a nil set clones to an empty one.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	out.Union(s)
	return out
}

// Equal reports whether both sets hold the same items.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for it := range s {
		if !o.Has(it) {
			return false
		}
	}
	return true
}

// MarshalJSON writes the set as a sorted array.
func (s Set) MarshalJSON() ([]byte, error) {
	items := s.Sorted()
	if items == nil {
		items = []string{}
	}
	return json.Marshal(items)
}

// UnmarshalJSON reads an array, dropping duplicates. null decodes to an empty set.
func (s *Set) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = NewSet()
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = NewSet(items...)
	return nil
}
