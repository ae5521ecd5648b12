package seen

import (
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxIDs bounds a Set when no size is given.
const DefaultMaxIDs = 1000

// Set is a bounded, concurrency-safe set of IDs. When full, the least
// recently added ID is evicted.
type Set struct {
	cache *lru.Cache[int64, struct{}]
}

// NewSet creates a set holding at most max IDs.
func NewSet(max int) (*Set, error) {
	if max <= 0 {
		max = DefaultMaxIDs
	}
	cache, err := lru.New[int64, struct{}](max)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Set{cache: cache}, nil
}

// Has reports whether id is known.
func (s *Set) Has(id int64) bool {
	return s.cache.Contains(id)
}

// Add inserts ids and returns those that were not already known, in input order.
func (s *Set) Add(ids ...int64) []int64 {
	var added []int64
	for _, id := range ids {
		if s.cache.Contains(id) {
			continue
		}
		s.cache.Add(id, struct{}{})
		added = append(added, id)
	}
	return added
}

// Remove drops ids.
func (s *Set) Remove(ids ...int64) {
	for _, id := range ids {
		s.cache.Remove(id)
	}
}

// Retain drops every ID not in current and returns the dropped IDs, sorted.
func (s *Set) Retain(current []int64) []int64 {
	keep := make(map[int64]struct{}, len(current))
	for _, id := range current {
		keep[id] = struct{}{}
	}

	var removed []int64
	for _, id := range s.cache.Keys() {
		if _, ok := keep[id]; !ok {
			s.cache.Remove(id)
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)
	return removed
}

// IDs returns the known IDs, sorted.
func (s *Set) IDs() []int64 {
	ids := s.cache.Keys()
	slices.Sort(ids)
	return ids
}

// Len returns the number of known IDs.
func (s *Set) Len() int {
	return s.cache.Len()
}

// Clear forgets every ID.
func (s *Set) Clear() {
	s.cache.Purge()
}
