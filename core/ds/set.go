// Package ds provides small generic containers shared by the coordination
// packages.
package ds

import "fmt"

// Set keeps insertion order and gives O(1) membership. Node groups resolve to
// a Set so that fan-out order is stable and duplicates collapse.
//
// Add, Extend and Remove mutate the receiver; Without, Copy and Values return
// fresh data.
type Set[T comparable] struct {
	items map[T]struct{}
	order []T
}

func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items))}
	s.Extend(items...)
	return s
}

func (s *Set[T]) String() string { return fmt.Sprintf("%v", s.order) }

// Add reports whether v was newly added.
func (s *Set[T]) Add(v T) bool {
	if _, ok := s.items[v]; ok {
		return false
	}
	s.items[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

// Extend adds vs in order and returns how many were new.
func (s *Set[T]) Extend(vs ...T) int {
	n := 0
	for _, v := range vs {
		if s.Add(v) {
			n++
		}
	}
	return n
}

func (s *Set[T]) Remove(vs ...T) {
	removed := false
	for _, v := range vs {
		if _, ok := s.items[v]; ok {
			delete(s.items, v)
			removed = true
		}
	}
	if !removed {
		return
	}
	kept := s.order[:0]
	for _, v := range s.order {
		if _, ok := s.items[v]; ok {
			kept = append(kept, v)
		}
	}
	s.order = kept
}

func (s *Set[T]) Contains(v T) bool {
	_, ok := s.items[v]
	return ok
}

func (s *Set[T]) Len() int { return len(s.items) }

func (s *Set[T]) IsEmpty() bool { return len(s.items) == 0 }

// Without returns the members of s not contained in other, in s's order.
func (s *Set[T]) Without(other *Set[T]) *Set[T] {
	out := NewSet[T]()
	for _, v := range s.order {
		if other == nil || !other.Contains(v) {
			out.Add(v)
		}
	}
	return out
}

func (s *Set[T]) Copy() *Set[T] { return NewSet(s.order...) }

func (s *Set[T]) Values() []T {
	out := make([]T, len(s.order))
	copy(out, s.order)
	return out
}
