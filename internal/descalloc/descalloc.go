// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package descalloc implements fixed-capacity descriptor
// slot allocation.
package descalloc

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/bitvec"
)

// Allocator hands out descriptor handles from a
// fixed-capacity heap region.
// Slots are searched next-fit, starting after the last
// allocation and wrapping around.
// It is safe for concurrent use.
//
// Freeing a handle that is not allocated (or that belongs
// to another allocator) is undefined unless debug mode is
// enabled, in which case it panics. Debug mode also bumps
// the generation of a slot on every free, so that stale
// handles can be detected with Valid: a freed slot comes
// back with the same Index and the next Gen. Without
// debug mode the generation is always zero.
type Allocator struct {
	mu    sync.Mutex
	kind  driver.HeapKind
	tag   driver.Backend
	bv    bitvec.V[uint64]
	cap   int
	last  int
	gen   []uint32
	debug bool
}

// New creates a new Allocator with the given capacity.
func New(kind driver.HeapKind, tag driver.Backend, capacity int) *Allocator {
	if capacity <= 0 {
		panic("descalloc: capacity must be positive")
	}
	a := &Allocator{
		kind: kind,
		tag:  tag,
		cap:  capacity,
		last: -1,
	}
	a.bv.Grow((capacity + 63) / 64)
	a.reserveTail()
	return a
}

// reserveTail marks bits past capacity as used.
func (a *Allocator) reserveTail() {
	for i := a.cap; i < a.bv.Len(); i++ {
		a.bv.Set(i)
	}
}

// SetDebug enables or disables debug mode.
// It must be called before any handle is allocated.
func (a *Allocator) SetDebug(debug bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.debug = debug
	if debug && a.gen == nil {
		a.gen = make([]uint32, a.cap)
	}
}

// Kind returns the heap kind of the allocator.
func (a *Allocator) Kind() driver.HeapKind { return a.kind }

// Cap returns the capacity of the allocator.
func (a *Allocator) Cap() int { return a.cap }

// Len returns the number of allocated slots.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cap - a.bv.Rem()
}

// Allocate allocates a slot.
// It fails with driver.ErrHeapExhausted if every slot
// is in use.
func (a *Allocator) Allocate() (driver.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, ok := a.bv.SearchFrom(a.last + 1)
	if !ok {
		return 0, errors.Wrapf(driver.ErrHeapExhausted, "%v heap (capacity %d)", a.kind, a.cap)
	}
	a.bv.Set(i)
	a.last = i
	var g uint32
	if a.debug {
		g = a.gen[i]
	}
	return driver.NewHandle(a.kind, a.tag, i, g), nil
}

// Free frees a slot.
func (a *Allocator) Free(h driver.Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := h.Index()
	if a.debug {
		if err := a.check(h); err != nil {
			panic(fmt.Sprintf("descalloc: Free: %v", err))
		}
		a.gen[i] = (a.gen[i] + 1) & driver.GenMask
	}
	a.bv.Unset(i)
}

// check validates h against the current state of the
// allocator. Generations are only compared in debug mode.
func (a *Allocator) check(h driver.Handle) error {
	switch {
	case h.IsNil():
		return errors.New("nil handle")
	case h.Kind() != a.kind || h.Backend() != a.tag:
		return errors.Errorf("foreign handle %v (allocator is %v:%v)", h, a.tag, a.kind)
	case h.Index() >= a.cap:
		return errors.Errorf("handle %v out of range (capacity %d)", h, a.cap)
	case !a.bv.IsSet(h.Index()):
		return errors.Errorf("handle %v is not allocated (double free?)", h)
	case a.debug && a.gen[h.Index()] != h.Gen():
		return errors.Errorf("stale handle %v (current generation %d)", h, a.gen[h.Index()])
	}
	return nil
}

// Valid returns whether h is currently allocated from a.
// Stale handles whose slot was reallocated are only
// detected in debug mode.
func (a *Allocator) Valid(h driver.Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.check(h) == nil
}

// Clear frees every slot.
// Generations are bumped in debug mode, so that every
// outstanding handle becomes invalid.
func (a *Allocator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.debug {
		for i := range a.gen {
			if a.bv.IsSet(i) {
				a.gen[i] = (a.gen[i] + 1) & driver.GenMask
			}
		}
	}
	a.bv.Clear()
	a.reserveTail()
	a.last = -1
}
