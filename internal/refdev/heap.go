// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package refdev

import (
	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
)

// DescHeapType is the type of descriptor heaps.
type DescHeapType int

// Descriptor heap types.
const (
	DescHeapResource DescHeapType = iota
	DescHeapSampler
	DescHeapRTV
	DescHeapDSV
)

// DescriptorKind is the kind of a descriptor.
type DescriptorKind int

// Descriptor kinds.
// The zero kind denotes a descriptor that was never
// written.
const (
	DescNone DescriptorKind = iota
	DescCBV
	DescSRV
	DescUAV
	DescSampler
	DescRTV
	DescDSV
)

func (k DescriptorKind) String() string {
	switch k {
	case DescCBV:
		return "CBV"
	case DescSRV:
		return "SRV"
	case DescUAV:
		return "UAV"
	case DescSampler:
		return "Sampler"
	case DescRTV:
		return "RTV"
	case DescDSV:
		return "DSV"
	}
	return "None"
}

// heapType returns the heap type that holds descriptors
// of kind k.
func (k DescriptorKind) heapType() DescHeapType {
	switch k {
	case DescSampler:
		return DescHeapSampler
	case DescRTV:
		return DescHeapRTV
	case DescDSV:
		return DescHeapDSV
	}
	return DescHeapResource
}

// Descriptor describes how a resource is viewed.
// A null descriptor has Null set; reading through it
// yields zeros and writes are discarded.
type Descriptor struct {
	Kind DescriptorKind
	Null bool
	Res  *Resource

	// Texture views.
	Format     gputypes.TextureFormat
	FirstMip   int
	Mips       int
	FirstSlice int
	Slices     int

	// Buffer views.
	Offset int64
	Size   int64
	Stride int

	// Samplers.
	Sampler gputypes.SamplerDescriptor
}

// NullDescriptor returns the null descriptor of kind k.
func NullDescriptor(k DescriptorKind) Descriptor {
	return Descriptor{Kind: k, Null: true}
}

// Subresources calls f for every subresource index the
// descriptor covers.
func (d *Descriptor) Subresources(f func(sub int)) {
	if d.Res == nil {
		return
	}
	if d.Res.buf {
		f(0)
		return
	}
	mips := d.Res.Mips()
	nm := d.Mips
	if nm <= 0 {
		nm = mips - d.FirstMip
	}
	ns := d.Slices
	if ns <= 0 {
		ns = d.Res.Layers() - d.FirstSlice
	}
	for s := d.FirstSlice; s < d.FirstSlice+ns; s++ {
		for m := d.FirstMip; m < d.FirstMip+nm; m++ {
			f(m + s*mips)
		}
	}
}

// DescriptorHeap is an array of descriptors.
// Shader-visible heaps can be referenced by root
// descriptor tables.
type DescriptorHeap struct {
	dev     *Device
	typ     DescHeapType
	visible bool
	d       []Descriptor
}

// NewDescriptorHeap creates a new descriptor heap.
// Only resource and sampler heaps can be shader visible.
func (d *Device) NewDescriptorHeap(typ DescHeapType, n int, shaderVisible bool) (*DescriptorHeap, error) {
	if n <= 0 {
		return nil, errors.Wrapf(ErrInvalid, "descriptor heap of size %d", n)
	}
	if shaderVisible && typ != DescHeapResource && typ != DescHeapSampler {
		return nil, errors.Wrap(ErrInvalid, "shader-visible RTV/DSV heap")
	}
	return &DescriptorHeap{dev: d, typ: typ, visible: shaderVisible, d: make([]Descriptor, n)}, nil
}

// Type returns the heap type.
func (h *DescriptorHeap) Type() DescHeapType { return h.typ }

// ShaderVisible returns whether h is shader visible.
func (h *DescriptorHeap) ShaderVisible() bool { return h.visible }

// Len returns the number of descriptors in h.
func (h *DescriptorHeap) Len() int { return len(h.d) }

// Write writes a descriptor at index i.
func (h *DescriptorHeap) Write(i int, d Descriptor) {
	if d.Kind.heapType() != h.typ {
		h.dev.violate("writing %v descriptor to heap of type %d", d.Kind, h.typ)
		return
	}
	h.d[i] = d
}

// Read returns the descriptor at index i.
func (h *DescriptorHeap) Read(i int) Descriptor { return h.d[i] }

// CopyDescriptors copies n descriptors from src to dst.
// Copies are immediate (i.e., they do not go through a
// command list), and the source must not be shader
// visible.
func CopyDescriptors(dst *DescriptorHeap, dstOff int, src *DescriptorHeap, srcOff, n int) {
	if src.visible {
		src.dev.violate("copying descriptors from a shader-visible heap")
	}
	if dst.typ != src.typ {
		src.dev.violate("copying descriptors across heap types %d and %d", src.typ, dst.typ)
		return
	}
	copy(dst.d[dstOff:dstOff+n], src.d[srcOff:srcOff+n])
}
