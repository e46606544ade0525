// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

import "fmt"

// Handle identifies a descriptor (view) slot.
// It is tagged with the heap kind it was allocated from
// and the backend that owns it, so that handles cannot be
// mixed across heaps or backends unnoticed.
//
// Layout (LSB first):
//
//	index      32 bits
//	generation 24 bits
//	kind        4 bits
//	backend     4 bits
//
// The zero Handle is never valid.
type Handle uint64

// HeapKind is the type of descriptor heaps.
type HeapKind uint8

// Descriptor heap kinds.
const (
	HeapRTV HeapKind = iota + 1
	HeapDSV
	// Constant buffer, shader resource and unordered
	// access views share a heap.
	HeapResource
	HeapSampler
	// Number of heap kinds.
	HeapKinds = int(HeapSampler)
)

func (k HeapKind) String() string {
	switch k {
	case HeapRTV:
		return "RTV"
	case HeapDSV:
		return "DSV"
	case HeapResource:
		return "CBV/SRV/UAV"
	case HeapSampler:
		return "Sampler"
	}
	return fmt.Sprintf("HeapKind(%d)", k)
}

// Backend identifies a backend implementation.
type Backend uint8

// Backends.
const (
	BackendImm Backend = iota + 1
	BackendExplicit
)

func (b Backend) String() string {
	switch b {
	case BackendImm:
		return "imm"
	case BackendExplicit:
		return "explicit"
	}
	return fmt.Sprintf("Backend(%d)", b)
}

const (
	genBits   = 24
	GenMask   = 1<<genBits - 1
	kindShift = 32 + genBits
	tagShift  = kindShift + 4
)

// NewHandle creates a Handle.
// gen is truncated to 24 bits.
func NewHandle(kind HeapKind, tag Backend, index int, gen uint32) Handle {
	return Handle(uint64(uint32(index)) |
		uint64(gen&GenMask)<<32 |
		uint64(kind&0xf)<<kindShift |
		uint64(tag&0xf)<<tagShift)
}

// Index returns the slot index of h.
func (h Handle) Index() int { return int(uint32(h)) }

// Gen returns the generation of h.
func (h Handle) Gen() uint32 { return uint32(h>>32) & GenMask }

// Kind returns the heap kind of h.
func (h Handle) Kind() HeapKind { return HeapKind(h>>kindShift) & 0xf }

// Backend returns the backend tag of h.
func (h Handle) Backend() Backend { return Backend(h>>tagShift) & 0xf }

// IsNil returns whether h is the zero Handle.
func (h Handle) IsNil() bool { return h == 0 }

func (h Handle) String() string {
	if h == 0 {
		return "Handle(nil)"
	}
	return fmt.Sprintf("Handle(%v:%v:%d@%d)", h.Backend(), h.Kind(), h.Index(), h.Gen())
}
