// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package explicit

import (
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/descalloc"
	"gviegas/rhi/internal/refdev"
)

// slotKind is the kind of shader binding slots.
type slotKind int

// Slot kinds.
const (
	kindCBV slotKind = iota
	kindSRV
	kindUAV
	kindSampler
	numKinds
)

func (k slotKind) desc() refdev.DescriptorKind {
	return [...]refdev.DescriptorKind{refdev.DescCBV, refdev.DescSRV, refdev.DescUAV, refdev.DescSampler}[k]
}

func (k slotKind) heap() driver.HeapKind {
	if k == kindSampler {
		return driver.HeapSampler
	}
	return driver.HeapResource
}

func (k slotKind) String() string { return k.desc().String() }

// cpuHeap is a non-shader-visible descriptor heap whose
// slots are handed out by a descriptor allocator.
// The descriptor of a handle lives at its index in heap,
// and the resource that owns it in the table.
type cpuHeap struct {
	kind driver.HeapKind
	t    *descalloc.Table[*resource]
	heap *refdev.DescriptorHeap
}

func newCPUHeap(d *Driver, kind driver.HeapKind, n int) (*cpuHeap, error) {
	var typ refdev.DescHeapType
	switch kind {
	case driver.HeapRTV:
		typ = refdev.DescHeapRTV
	case driver.HeapDSV:
		typ = refdev.DescHeapDSV
	case driver.HeapSampler:
		typ = refdev.DescHeapSampler
	default:
		typ = refdev.DescHeapResource
	}
	heap, err := d.dev.NewDescriptorHeap(typ, n, false)
	if err != nil {
		return nil, errors.Wrap(driver.ErrNoDeviceMemory, err.Error())
	}
	a := descalloc.New(kind, driver.BackendExplicit, n)
	a.SetDebug(d.cfg.Debug)
	return &cpuHeap{
		kind: kind,
		t:    descalloc.NewTable[*resource](a),
		heap: heap,
	}, nil
}

func (h *cpuHeap) alloc() *descalloc.Allocator { return h.t.Allocator() }

// insert allocates a slot for a view of r.
func (h *cpuHeap) insert(r *resource, desc refdev.Descriptor) (driver.Handle, error) {
	hd, err := h.t.Insert(r)
	if err != nil {
		return 0, err
	}
	h.heap.Write(hd.Index(), desc)
	return hd, nil
}

// get returns the owner and descriptor of hd.
func (h *cpuHeap) get(hd driver.Handle) (*resource, refdev.Descriptor) {
	r := h.t.Get(hd)
	return r, h.heap.Read(hd.Index())
}

// remove frees the slot of hd. The descriptor is cleared
// first, since the slot may be reallocated as soon as it
// is freed.
func (h *cpuHeap) remove(hd driver.Handle) {
	h.heap.Write(hd.Index(), refdev.NullDescriptor(h.heap.Read(hd.Index()).Kind))
	h.t.Remove(hd)
}

// view resolves a handle bound to a slot of kind k.
// Nil handles resolve to the null descriptor.
func (d *Driver) view(k slotKind, h driver.Handle) (driver.Handle, *resource) {
	if h.IsNil() {
		return d.nulls[k], nil
	}
	d.assert(h.Kind() == k.heap() && h.Backend() == driver.BackendExplicit,
		"%v bound to a %v slot", h, k)
	r, desc := d.heaps[k.heap()].get(h)
	d.assert(desc.Kind == k.desc(), "%v (%v) bound to a %v slot", h, desc.Kind, k)
	return h, r
}

// newView creates a view of r in the heap of kind, and
// records it for destruction.
func (d *Driver) newView(r *resource, kind driver.HeapKind, desc refdev.Descriptor) (driver.Handle, error) {
	h, err := d.heaps[kind].insert(r, desc)
	if err != nil {
		return 0, err
	}
	if r != nil {
		r.handles = append(r.handles, h)
	}
	return h, nil
}

// freeViews frees every view of r.
func (d *Driver) freeViews(r *resource) {
	for _, h := range r.handles {
		d.heaps[h.Kind()].remove(h)
	}
	r.handles = nil
	r.views = driver.Views{}
}

// textureViews creates the views of a texture.
func (d *Driver) textureViews(t *texture) error {
	desc := &t.desc
	r := t.r
	base := refdev.Descriptor{Res: r}
	mk := func(kind driver.HeapKind, dk refdev.DescriptorKind, firstMip, mips, firstSlice, slices int) (driver.Handle, error) {
		x := base
		x.Kind = dk
		x.FirstMip, x.Mips = firstMip, mips
		x.FirstSlice, x.Slices = firstSlice, slices
		return d.newView(&t.resource, kind, x)
	}
	type viewKind struct {
		bind    driver.BindFlag
		heap    driver.HeapKind
		dk      refdev.DescriptorKind
		allMips bool
		prim    *driver.Handle
		sub     *[]driver.Handle
	}
	v := &t.views
	kinds := [...]viewKind{
		{driver.BindShaderResource, driver.HeapResource, refdev.DescSRV, true, &v.SRV, &v.SubSRV},
		{driver.BindUnorderedAccess, driver.HeapResource, refdev.DescUAV, false, &v.UAV, &v.SubUAV},
		{driver.BindRenderTarget, driver.HeapRTV, refdev.DescRTV, false, &v.RTV, &v.SubRTV},
		{driver.BindDepthStencil, driver.HeapDSV, refdev.DescDSV, false, &v.DSV, &v.SubDSV},
	}
	mips := r.Mips()
	layers := r.Layers()
	if desc.Type == driver.Texture3D {
		layers = 1
	}
	for _, k := range kinds {
		if desc.Bind&k.bind == 0 {
			continue
		}
		n := 1
		if k.allMips {
			n = 0
		}
		h, err := mk(k.heap, k.dk, 0, n, 0, 0)
		if err != nil {
			return err
		}
		*k.prim = h
		if desc.Misc&driver.MiscIndependentSlices != 0 {
			for s := 0; s < layers; s++ {
				if h, err = mk(k.heap, k.dk, 0, n, s, 1); err != nil {
					return err
				}
				*k.sub = append(*k.sub, h)
			}
		}
		if desc.Misc&driver.MiscIndependentMips != 0 {
			for m := 0; m < mips; m++ {
				if h, err = mk(k.heap, k.dk, m, 1, 0, 0); err != nil {
					return err
				}
				*k.sub = append(*k.sub, h)
			}
		}
	}
	return nil
}

// bufferViews creates the views of a buffer.
func (d *Driver) bufferViews(b *buffer) error {
	desc := &b.desc
	stride := desc.Stride
	if desc.Misc&driver.MiscBufferStructured == 0 {
		stride = desc.Format.Size()
	}
	x := refdev.Descriptor{Res: b.r, Size: desc.Size, Stride: stride}
	var err error
	if desc.Bind&driver.BindConstantBuffer != 0 {
		x.Kind = refdev.DescCBV
		if b.views.CBV, err = d.newView(&b.resource, driver.HeapResource, x); err != nil {
			return err
		}
	}
	if desc.Bind&driver.BindShaderResource != 0 {
		x.Kind = refdev.DescSRV
		if b.views.SRV, err = d.newView(&b.resource, driver.HeapResource, x); err != nil {
			return err
		}
	}
	if desc.Bind&driver.BindUnorderedAccess != 0 {
		x.Kind = refdev.DescUAV
		if b.views.UAV, err = d.newView(&b.resource, driver.HeapResource, x); err != nil {
			return err
		}
	}
	return nil
}
