package model

import (
	"encoding/json"
	"sort"
)

// Set is a set of entity ids. It marshals as a sorted JSON array so
// snapshots and audit records are stable across runs.
type Set map[string]struct{}

// NewSet creates a set containing the given ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id into the set.
func (s Set) Add(id string) {
	s[id] = struct{}{}
}

// Remove deletes id from the set. Removing an absent id is a no-op.
func (s Set) Remove(id string) {
	delete(s, id)
}

// Len returns the number of ids in the set.
func (s Set) Len() int {
	return len(s)
}

// Values returns the ids in ascending order.
func (s Set) Values() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// SubsetOf reports whether every id in s is also in other.
func (s Set) SubsetOf(other Set) bool {
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted array of ids.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON decodes an array of ids into the set.
func (s *Set) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewSet(ids...)
	return nil
}
