// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package descalloc

import (
	"fmt"

	"gviegas/rhi/driver"
)

// Table is an arena of records indexed by handles of an
// Allocator. The storage is allocated up front, so that
// Get never contends with Insert or Remove on other slots.
type Table[T any] struct {
	a *Allocator
	s []T
}

// NewTable creates a new Table whose handles are
// allocated from a.
func NewTable[T any](a *Allocator) *Table[T] {
	return &Table[T]{a: a, s: make([]T, a.Cap())}
}

// Allocator returns the allocator of t.
func (t *Table[T]) Allocator() *Allocator { return t.a }

// Insert allocates a slot and stores x in it.
func (t *Table[T]) Insert(x T) (driver.Handle, error) {
	h, err := t.a.Allocate()
	if err != nil {
		return 0, err
	}
	t.s[h.Index()] = x
	return h, nil
}

// Get returns the record of h.
// In debug mode, it panics if h is not valid.
func (t *Table[T]) Get(h driver.Handle) T {
	if t.a.debug {
		if !t.a.Valid(h) {
			panic(fmt.Sprintf("descalloc: Get: invalid handle %v", h))
		}
	}
	return t.s[h.Index()]
}

// Remove frees the slot of h and clears its record.
// It returns the record that was stored.
func (t *Table[T]) Remove(h driver.Handle) T {
	x := t.s[h.Index()]
	var zero T
	t.s[h.Index()] = zero
	t.a.Free(h)
	return x
}
