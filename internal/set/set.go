// Package set provides a map-backed set of comparable values.
package set

import "maps"

type Set[T comparable] map[T]struct{}

func New[T comparable](vals ...T) Set[T] {
	s := make(Set[T], len(vals))
	for _, v := range vals {
		s.Add(v)
	}
	return s
}

func (s Set[T]) Add(v T) {
	s[v] = struct{}{}
}

// AddNew adds v and reports whether it was not already present.
func (s Set[T]) AddNew(v T) bool {
	if s.Has(v) {
		return false
	}
	s.Add(v)
	return true
}

func (s Set[T]) Delete(v T) {
	delete(s, v)
}

func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

// Slice returns the members of s in no particular order.
func (s Set[T]) Slice() []T {
	vals := make([]T, 0, len(s))
	for v := range maps.Keys(s) {
		vals = append(vals, v)
	}
	return vals
}
