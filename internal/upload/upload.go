// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package upload implements allocators over host-visible
// memory used to transfer data to the GPU.
package upload

import (
	"sync"

	"github.com/pkg/errors"

	"gviegas/rhi/driver"
)

// alignUp rounds n up to a multiple of a, which must be
// a power of two (or zero/one, meaning no alignment).
func alignUp(n, a int64) int64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}

// Ring is a fixed-size allocator over upload memory.
// Allocations are sequential and only released all at
// once by Clear, which must be called after the GPU is
// done reading every allocation (i.e., after the copy
// fence signals). The ring does not grow.
// It is safe for concurrent use.
type Ring struct {
	mu   sync.Mutex
	mem  []byte
	head int64
	peak int64
}

// NewRing creates a new Ring over mem.
func NewRing(mem []byte) *Ring { return &Ring{mem: mem} }

// Allocate allocates size bytes aligned to align.
// It returns the offset of the allocation within the
// ring's memory, and the allocated memory itself.
// It fails with driver.ErrUploadRing if the ring has
// not enough space left.
func (r *Ring) Allocate(size, align int64) (off int64, mem []byte, err error) {
	if size < 0 {
		return 0, nil, errors.Errorf("upload: negative allocation size %d", size)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	off = alignUp(r.head, align)
	if off+size > int64(len(r.mem)) {
		return 0, nil, errors.Wrapf(driver.ErrUploadRing, "%d bytes requested, %d of %d in use", size, r.head, len(r.mem))
	}
	r.head = off + size
	r.peak = max(r.peak, r.head)
	return off, r.mem[off : off+size : off+size], nil
}

// Clear releases every allocation.
func (r *Ring) Clear() {
	r.mu.Lock()
	r.head = 0
	r.mu.Unlock()
}

// Used returns the number of bytes in use.
func (r *Ring) Used() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head
}

// Peak returns the highest usage observed.
func (r *Ring) Peak() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

// Size returns the size of the ring.
func (r *Ring) Size() int64 { return int64(len(r.mem)) }

// Linear is a bump allocator owned by a single
// (frame, worker) pair. It is not safe for concurrent
// use.
type Linear struct {
	mem  []byte
	head int
}

// NewLinear creates a new Linear allocator over mem.
func NewLinear(mem []byte) *Linear { return &Linear{mem: mem} }

// Allocate allocates size bytes aligned to align.
// If there is not enough space left, it returns
// ok == false and the caller must fall back to a
// dedicated allocation.
func (l *Linear) Allocate(size, align int) (off int, mem []byte, ok bool) {
	off = int(alignUp(int64(l.head), int64(align)))
	if size < 0 || off+size > len(l.mem) {
		return 0, nil, false
	}
	l.head = off + size
	return off, l.mem[off : off+size : off+size], true
}

// Reset releases every allocation.
func (l *Linear) Reset() { l.head = 0 }

// Used returns the number of bytes in use.
func (l *Linear) Used() int { return l.head }
