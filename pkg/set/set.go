// Package set holds the generic set used for configuration arithmetic: the
// active states of an interpreter and the exit and entry sets of a step.
package set

import (
	"iter"
	"slices"
)

type Set[T comparable] map[T]struct{}

func New[T comparable](items ...T) Set[T] {
	s := make(Set[T], len(items))
	s.Add(items...)
	return s
}

func (s Set[T]) Add(items ...T) {
	for _, item := range items {
		s[item] = struct{}{}
	}
}

func (s Set[T]) Remove(item T) {
	delete(s, item)
}

func (s Set[T]) Contains(item T) bool {
	_, exists := s[item]
	return exists
}

func (s Set[T]) Len() int {
	return len(s)
}

func (s Set[T]) Clear() {
	clear(s)
}

// Items iterates the set in no particular order.
func (s Set[T]) Items() iter.Seq[T] {
	return func(yield func(T) bool) {
		for item := range s {
			if !yield(item) {
				return
			}
		}
	}
}

// Sorted returns the items ordered by cmp.
func (s Set[T]) Sorted(cmp func(a, b T) int) []T {
	return slices.SortedFunc(s.Items(), cmp)
}

// Union returns a new set holding the items of both sets.
func (s Set[T]) Union(other Set[T]) Set[T] {
	result := s.Clone()
	for item := range other {
		result[item] = struct{}{}
	}
	return result
}

// Intersects reports whether the sets share at least one item.
func (s Set[T]) Intersects(other Set[T]) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for item := range small {
		if large.Contains(item) {
			return true
		}
	}
	return false
}

func (s Set[T]) Clone() Set[T] {
	result := make(Set[T], len(s))
	for item := range s {
		result[item] = struct{}{}
	}
	return result
}
