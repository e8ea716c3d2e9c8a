// Package ruleset provides the fixed-capacity, exclusively-owned
// collection used for both rule kinds handed to the dataplane.
//
// A Set tracks its length explicitly. Capacity is fixed when the set
// is created and Append refuses to grow past it, so the dataplane's
// maps, which are sized to the same limits, can never be handed more
// entries than they hold.
//
// Ownership is linear: the bootstrap pipeline builds a Set, lends it
// to the dataplane for the duration of one Attach call, and then
// releases it. Release visits each element exactly once, even when
// called again.
package ruleset

import (
	"errors"
	"fmt"
	"iter"
)

var (
	// ErrFull is returned by Append when the set is at capacity.
	ErrFull = errors.New("rule set is full")

	// ErrReleased is returned by Append after Release.
	ErrReleased = errors.New("rule set has been released")
)

// Set is an ordered sequence of owned elements with a fixed capacity.
// The zero value is an empty set with no capacity.
type Set[T any] struct {
	items    []T
	capacity int
	released bool
}

// New returns an empty set that accepts at most capacity elements.
// Storage is allocated lazily.
func New[T any](capacity int) *Set[T] {
	if capacity < 0 {
		panic(fmt.Sprintf("ruleset: negative capacity %d", capacity))
	}
	return &Set[T]{capacity: capacity}
}

// Append adds v after the last element. It returns ErrFull, without
// modifying the set, when Len() == Cap().
func (s *Set[T]) Append(v T) error {
	if s.released {
		return ErrReleased
	}
	if len(s.items) >= s.capacity {
		return fmt.Errorf("append entry %d: %w (capacity %d)", len(s.items)+1, ErrFull, s.capacity)
	}
	s.items = append(s.items, v)
	return nil
}

// Len returns the number of elements.
func (s *Set[T]) Len() int {
	return len(s.items)
}

// Cap returns the fixed capacity.
func (s *Set[T]) Cap() int {
	return s.capacity
}

// All iterates the elements in insertion order.
func (s *Set[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i, v := range s.items {
			if !yield(i, v) {
				return
			}
		}
	}
}

// Slice returns a copy of the elements in insertion order.
func (s *Set[T]) Slice() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Release hands every element, in order, to fn (which may be nil),
// drops the set's reference to it, and then drops the backing storage.
// It returns the number of elements released. Later calls release
// nothing and return 0.
func (s *Set[T]) Release(fn func(T)) int {
	if s.released {
		return 0
	}
	var zero T
	n := 0
	for i := range s.items {
		if fn != nil {
			fn(s.items[i])
		}
		s.items[i] = zero
		n++
	}
	s.items = nil
	s.released = true
	return n
}
