// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package refdev

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
)

// HeapType is the type of memory heaps.
type HeapType int

// Heap types.
const (
	// Device-local memory. Not accessible by the CPU.
	HeapDefault HeapType = iota
	// CPU-writable memory read by the GPU.
	// Resources in this heap are always in
	// StateGenericRead.
	HeapUpload
	// CPU-readable memory written by the GPU.
	// Resources in this heap are always in
	// StateCopyDest.
	HeapReadback
)

// ResourceStates is a mask of resource usage states.
type ResourceStates uint32

// Resource states.
const (
	StateCommon                  ResourceStates = 0
	StateVertexAndConstantBuffer ResourceStates = 1 << iota
	StateIndexBuffer
	StateRenderTarget
	StateUnorderedAccess
	StateDepthWrite
	StateDepthRead
	StateNonPixelShaderResource
	StatePixelShaderResource
	StateIndirectArgument
	StateCopyDest
	StateCopySource

	StatePresent        = StateCommon
	StateShaderResource = StateNonPixelShaderResource | StatePixelShaderResource
	StateGenericRead    = StateVertexAndConstantBuffer | StateIndexBuffer |
		StateShaderResource | StateIndirectArgument | StateCopySource

	writeStates = StateRenderTarget | StateUnorderedAccess | StateDepthWrite | StateCopyDest
)

// Has returns whether s satisfies the required states.
// StateCommon is only satisfied by StateCommon.
func (s ResourceStates) Has(req ResourceStates) bool {
	if req == StateCommon {
		return s == StateCommon
	}
	return s&req == req
}

// valid returns whether s is a legal combination: write
// states are exclusive.
func (s ResourceStates) valid() bool {
	w := s & writeStates
	if w == 0 {
		return true
	}
	return w == s && w&(w-1) == 0
}

func (s ResourceStates) String() string {
	if s == StateCommon {
		return "COMMON"
	}
	names := [...]string{"VB_CB", "IB", "RT", "UAV", "DEPTH_WRITE", "DEPTH_READ",
		"NON_PS_SRV", "PS_SRV", "INDIRECT", "COPY_DEST", "COPY_SRC"}
	var str string
	for i, n := range names {
		if s&(2<<i) != 0 {
			if str != "" {
				str += "|"
			}
			str += n
		}
	}
	return str
}

// AllSubresources identifies every subresource of a
// resource in barriers.
const AllSubresources = -1

// Resource is a buffer or texture.
// Memory is tightly packed per subresource; subresource i
// of a texture refers to mip level i%Mips of array layer
// i/Mips.
// Resources are reference counted. NewBuffer and NewTexture
// return resources with a count of one.
type Resource struct {
	dev   *Device
	heap  HeapType
	buf   bool
	bdesc gputypes.BufferDescriptor
	tdesc gputypes.TextureDescriptor
	bpp   int
	subs  [][]byte
	refs  atomic.Int32

	mu    sync.Mutex
	state ResourceStates
	name  string
}

func (d *Device) newResource(heap HeapType, initial ResourceStates) (*Resource, error) {
	switch heap {
	case HeapUpload:
		initial = StateGenericRead
	case HeapReadback:
		initial = StateCopyDest
	}
	if !initial.valid() {
		return nil, errors.Wrapf(ErrInvalid, "initial state %v", initial)
	}
	r := &Resource{dev: d, heap: heap, state: initial}
	r.refs.Store(1)
	return r, nil
}

// NewBuffer creates a new buffer.
func (d *Device) NewBuffer(desc *gputypes.BufferDescriptor, heap HeapType, initial ResourceStates) (*Resource, error) {
	if desc.Size == 0 {
		return nil, errors.Wrap(ErrInvalid, "zero-sized buffer")
	}
	r, err := d.newResource(heap, initial)
	if err != nil {
		return nil, err
	}
	r.buf = true
	r.bdesc = *desc
	r.bpp = 1
	r.subs = [][]byte{make([]byte, desc.Size)}
	return r, nil
}

// NewTexture creates a new texture.
func (d *Device) NewTexture(desc *gputypes.TextureDescriptor, heap HeapType, initial ResourceStates) (*Resource, error) {
	bpp := FormatSize(desc.Format)
	if bpp == 0 {
		return nil, errors.Wrapf(ErrFormat, "%v", desc.Format)
	}
	sz := desc.Size
	if sz.Width == 0 || sz.Height == 0 || sz.DepthOrArrayLayers == 0 {
		return nil, errors.Wrapf(ErrInvalid, "texture size %dx%dx%d", sz.Width, sz.Height, sz.DepthOrArrayLayers)
	}
	switch desc.Dimension {
	case gputypes.TextureDimension1D:
		if sz.Height != 1 {
			return nil, errors.Wrap(ErrInvalid, "1D texture with height > 1")
		}
	case gputypes.TextureDimension2D, gputypes.TextureDimension3D:
	default:
		return nil, errors.Wrapf(ErrInvalid, "texture dimension %v", desc.Dimension)
	}
	mips := max(int(desc.MipLevelCount), 1)
	if mips > mipCount(sz, desc.Dimension) {
		return nil, errors.Wrapf(ErrInvalid, "%d mip levels", mips)
	}
	if IsDepth(desc.Format) && desc.Dimension == gputypes.TextureDimension3D {
		return nil, errors.Wrap(ErrInvalid, "3D depth texture")
	}
	r, err := d.newResource(heap, initial)
	if err != nil {
		return nil, err
	}
	r.tdesc = *desc
	r.tdesc.MipLevelCount = uint32(mips)
	r.bpp = bpp
	r.subs = make([][]byte, r.Subresources())
	for i := range r.subs {
		w, h, dp := r.SubresourceSize(i)
		r.subs[i] = make([]byte, w*h*dp*bpp)
	}
	return r, nil
}

func mipCount(sz gputypes.Extent3D, dim gputypes.TextureDimension) int {
	n := max(sz.Width, sz.Height)
	if dim == gputypes.TextureDimension3D {
		n = max(n, sz.DepthOrArrayLayers)
	}
	c := 1
	for n > 1 {
		n >>= 1
		c++
	}
	return c
}

// IsBuffer returns whether r is a buffer.
func (r *Resource) IsBuffer() bool { return r.buf }

// BufferDesc returns the description of a buffer.
func (r *Resource) BufferDesc() gputypes.BufferDescriptor { return r.bdesc }

// TextureDesc returns the description of a texture.
func (r *Resource) TextureDesc() gputypes.TextureDescriptor { return r.tdesc }

// Heap returns the heap type of r.
func (r *Resource) Heap() HeapType { return r.heap }

// Mips returns the number of mip levels (1 for buffers).
func (r *Resource) Mips() int {
	if r.buf {
		return 1
	}
	return int(r.tdesc.MipLevelCount)
}

// Layers returns the number of array layers (1 for buffers
// and 3D textures).
func (r *Resource) Layers() int {
	if r.buf || r.tdesc.Dimension == gputypes.TextureDimension3D {
		return 1
	}
	return int(r.tdesc.Size.DepthOrArrayLayers)
}

// Subresources returns the number of subresources.
func (r *Resource) Subresources() int { return r.Mips() * r.Layers() }

// SubresourceSize returns the size in texels of a
// subresource. For buffers, it returns the size in bytes
// as the width.
func (r *Resource) SubresourceSize(sub int) (width, height, depth int) {
	if r.buf {
		return int(r.bdesc.Size), 1, 1
	}
	mip := sub % r.Mips()
	sz := r.tdesc.Size
	width = max(int(sz.Width)>>mip, 1)
	height = max(int(sz.Height)>>mip, 1)
	depth = 1
	if r.tdesc.Dimension == gputypes.TextureDimension3D {
		depth = max(int(sz.DepthOrArrayLayers)>>mip, 1)
	}
	return
}

// RowPitch returns the tight row pitch of a subresource.
func (r *Resource) RowPitch(sub int) int {
	w, _, _ := r.SubresourceSize(sub)
	return w * r.bpp
}

// TexelSize returns the size of a texel in bytes (1 for
// buffers).
func (r *Resource) TexelSize() int { return r.bpp }

// Map returns the memory of a subresource.
// Only resources in upload and readback heaps can be
// mapped.
func (r *Resource) Map(sub int) ([]byte, error) {
	if r.heap == HeapDefault {
		return nil, errors.Wrap(ErrInvalid, "mapping a default heap resource")
	}
	if sub < 0 || sub >= len(r.subs) {
		return nil, errors.Wrapf(ErrInvalid, "subresource %d out of range", sub)
	}
	return r.subs[sub], nil
}

// Contents returns the memory of a subresource regardless
// of heap type. It must only be used for inspection once
// the GPU is idle.
func (r *Resource) Contents(sub int) []byte { return r.subs[sub] }

// State returns the current state of r as seen by the
// GPU timeline.
func (r *Resource) State() ResourceStates {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetName sets a debug name.
func (r *Resource) SetName(name string) {
	r.mu.Lock()
	r.name = name
	r.mu.Unlock()
}

// Name returns the debug name.
func (r *Resource) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

func (r *Resource) String() string {
	if n := r.Name(); n != "" {
		return n
	}
	if r.buf {
		return fmt.Sprintf("buffer(%d)", r.bdesc.Size)
	}
	sz := r.tdesc.Size
	return fmt.Sprintf("texture(%v %dx%dx%d)", r.tdesc.Format, sz.Width, sz.Height, sz.DepthOrArrayLayers)
}

// AddRef increments the reference count.
func (r *Resource) AddRef() { r.refs.Add(1) }

// Release decrements the reference count and frees the
// memory of r when it reaches zero.
func (r *Resource) Release() {
	switch n := r.refs.Add(-1); {
	case n == 0:
		r.mu.Lock()
		r.subs = nil
		r.mu.Unlock()
	case n < 0:
		r.dev.violate("%v released too many times", r)
	}
}

// Refs returns the reference count.
func (r *Resource) Refs() int { return int(r.refs.Load()) }

// alive returns whether r can be used by the GPU.
func (r *Resource) alive() bool { return r.refs.Load() > 0 }

// Footprint describes the layout of a subresource placed
// in a buffer.
type Footprint struct {
	Format   gputypes.TextureFormat
	Width    int
	Height   int
	Depth    int
	RowPitch int
}

// PlacedFootprint is a Footprint at an offset of a
// buffer.
type PlacedFootprint struct {
	Offset int64
	Footprint
}

// Alignments of buffer placed subresources.
const (
	RowPitchAlign  = 256
	PlacementAlign = 512
)

// CopyableFootprints returns the layouts of n subresources
// starting at first, when placed in a buffer at base. It
// also returns the total size required.
func (r *Resource) CopyableFootprints(first, n int, base int64) ([]PlacedFootprint, int64) {
	fp := make([]PlacedFootprint, n)
	off := base
	for i := range fp {
		sub := first + i
		w, h, d := r.SubresourceSize(sub)
		pitch := (w*r.bpp + RowPitchAlign - 1) &^ (RowPitchAlign - 1)
		off = (off + PlacementAlign - 1) &^ (PlacementAlign - 1)
		fp[i] = PlacedFootprint{
			Offset: off,
			Footprint: Footprint{
				Format:   r.tdesc.Format,
				Width:    w,
				Height:   h,
				Depth:    d,
				RowPitch: pitch,
			},
		}
		// The last row need not be padded.
		off += int64(pitch*(h*d-1) + w*r.bpp)
	}
	return fp, off - base
}
