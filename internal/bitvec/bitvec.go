// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package bitvec defines a bit vector type useful for
// slot management (e.g., descriptor allocation and
// free list implementations).
package bitvec

import (
	"math/bits"
	"unsafe"
)

// Uint represents the granularity of a bit vector.
type Uint interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// V is a growable bit vector with custom granularity.
// A set bit represents a slot in use.
type V[T Uint] struct {
	s   []T
	rem int
}

// nbit returns the number of bits in T.
func (*V[T]) nbit() int { return int(unsafe.Sizeof(T(0))) * 8 }

// Len returns the number of bits in the vector.
func (v *V[_]) Len() int { return len(v.s) * v.nbit() }

// Rem returns the number of unset bits in the vector.
func (v *V[_]) Rem() int { return v.rem }

// Grow appends nplus Uints to the vector.
// The new bits are unset.
// It returns the value of v.Len prior to the call.
// Calling Grow with nplus less than 1 has no effect.
func (v *V[T]) Grow(nplus int) (index int) {
	index = v.Len()
	if nplus > 0 {
		v.s = append(v.s, make([]T, nplus)...)
		v.rem += nplus * v.nbit()
	}
	return
}

// locate returns the word index and mask of a given bit.
func (v *V[T]) locate(index int) (int, T) {
	n := v.nbit()
	return index / n, T(1) << (index % n)
}

// Set sets a given bit.
func (v *V[T]) Set(index int) {
	i, b := v.locate(index)
	if v.s[i]&b == 0 {
		v.s[i] |= b
		v.rem--
	}
}

// Unset unsets a given bit.
func (v *V[T]) Unset(index int) {
	i, b := v.locate(index)
	if v.s[i]&b != 0 {
		v.s[i] &^= b
		v.rem++
	}
}

// IsSet checks whether a given bit is set.
func (v *V[T]) IsSet(index int) bool {
	i, b := v.locate(index)
	return v.s[i]&b != 0
}

// Search attempts to locate an unset bit in the vector,
// starting from the first bit.
// It fails only when v.Rem() == 0.
func (v *V[T]) Search() (index int, ok bool) { return v.SearchFrom(0) }

// SearchFrom attempts to locate an unset bit in the vector,
// starting from the given bit and wrapping around to the
// start of the vector (i.e., next-fit).
// If start is out of bounds, the search begins at bit 0.
// It fails only when v.Rem() == 0.
func (v *V[T]) SearchFrom(start int) (index int, ok bool) {
	if v.rem == 0 {
		return
	}
	n := v.nbit()
	nw := len(v.s)
	if start < 0 || start >= nw*n {
		start = 0
	}
	w, b := start/n, start%n

	// Bits of the first word at or after start.
	if x := uint64(^v.s[w]) & (^uint64(0) << b); x != 0 {
		return w*n + bits.TrailingZeros64(x), true
	}
	for i := 1; i <= nw; i++ {
		j := (w + i) % nw
		x := uint64(^v.s[j])
		if j == w {
			// Wrapped around; only bits before start remain.
			x &= uint64(1)<<b - 1
		}
		if x != 0 {
			return j*n + bits.TrailingZeros64(x), true
		}
	}
	return
}

// Clear unsets every bit in the vector.
func (v *V[T]) Clear() {
	clear(v.s)
	v.rem = v.Len()
}
