// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package imm

import (
	"gviegas/rhi/driver"
	"gviegas/rhi/internal/descalloc"
	"gviegas/rhi/internal/refdev"
)

// view is a view of a resource (or a sampler).
// Views of dynamic buffers are relative to the current
// version of the buffer, which is resolved when binding.
type view struct {
	r    *resource
	desc refdev.Descriptor
}

// viewHeap is a table of views whose handles are given
// out by a descriptor allocator.
type viewHeap struct {
	kind driver.HeapKind
	t    *descalloc.Table[view]
}

func newViewHeap(kind driver.HeapKind, n int, debug bool) *viewHeap {
	a := descalloc.New(kind, driver.BackendImm, n)
	a.SetDebug(debug)
	return &viewHeap{kind: kind, t: descalloc.NewTable[view](a)}
}

// slotKind is the kind of shader binding slots.
type slotKind int

const (
	kindCBV slotKind = iota
	kindSRV
	kindUAV
	kindSampler
	numKinds
)

var slotCounts = [numKinds]int{driver.MaxCBVs, driver.MaxSRVs, driver.MaxUAVs, driver.MaxSamplers}

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

// newView creates a view of r.
func (d *Driver) newView(r *resource, kind driver.HeapKind, desc refdev.Descriptor) (driver.Handle, error) {
	h, err := d.heaps[kind].t.Insert(view{r, desc})
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
		d.heaps[h.Kind()].t.Remove(h)
	}
	r.handles = nil
	r.views = driver.Views{}
}

// resolve returns the descriptor a view handle stands
// for at this point of recording. A nil handle resolves
// to the null descriptor of k.
func (d *Driver) resolve(kind driver.HeapKind, k refdev.DescriptorKind, h driver.Handle) (refdev.Descriptor, *resource) {
	if h.IsNil() {
		return refdev.NullDescriptor(k), nil
	}
	d.assert(h.Kind() == kind && h.Backend() == driver.BackendImm, "%v used as a %v view", h, k)
	v := d.heaps[kind].t.Get(h)
	if v.r == nil && kind != driver.HeapSampler {
		return refdev.NullDescriptor(k), nil
	}
	d.assert(v.desc.Kind == k, "%v (%v) used as a %v view", h, v.desc.Kind, k)
	desc := v.desc
	if v.r != nil && v.r.dyn != nil {
		cur := v.r.dyn.cur
		desc.Res = cur.res
		desc.Offset += cur.off
	}
	return desc, v.r
}

// textureViews creates the views of a texture.
func (d *Driver) textureViews(t *texture) error {
	desc := &t.desc
	v := &t.views
	kinds := [...]struct {
		bind    driver.BindFlag
		heap    driver.HeapKind
		dk      refdev.DescriptorKind
		allMips bool
		prim    *driver.Handle
		sub     *[]driver.Handle
	}{
		{driver.BindShaderResource, driver.HeapResource, refdev.DescSRV, true, &v.SRV, &v.SubSRV},
		{driver.BindUnorderedAccess, driver.HeapResource, refdev.DescUAV, false, &v.UAV, &v.SubUAV},
		{driver.BindRenderTarget, driver.HeapRTV, refdev.DescRTV, false, &v.RTV, &v.SubRTV},
		{driver.BindDepthStencil, driver.HeapDSV, refdev.DescDSV, false, &v.DSV, &v.SubDSV},
	}
	layers := t.r.Layers()
	if desc.Type == driver.Texture3D {
		layers = 1
	}
	for _, k := range kinds {
		if desc.Bind&k.bind == 0 {
			continue
		}
		mips := 1
		if k.allMips {
			mips = 0
		}
		x := refdev.Descriptor{Kind: k.dk, Res: t.r, Mips: mips}
		h, err := d.newView(&t.resource, k.heap, x)
		if err != nil {
			return err
		}
		*k.prim = h
		if desc.Misc&driver.MiscIndependentSlices != 0 {
			for s := range layers {
				x := x
				x.FirstSlice, x.Slices = s, 1
				if h, err = d.newView(&t.resource, k.heap, x); err != nil {
					return err
				}
				*k.sub = append(*k.sub, h)
			}
		}
		if desc.Misc&driver.MiscIndependentMips != 0 {
			for m := range t.r.Mips() {
				x := x
				x.FirstMip, x.Mips = m, 1
				if h, err = d.newView(&t.resource, k.heap, x); err != nil {
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
	for _, k := range [...]struct {
		bind driver.BindFlag
		dk   refdev.DescriptorKind
		h    *driver.Handle
	}{
		{driver.BindConstantBuffer, refdev.DescCBV, &b.views.CBV},
		{driver.BindShaderResource, refdev.DescSRV, &b.views.SRV},
		{driver.BindUnorderedAccess, refdev.DescUAV, &b.views.UAV},
	} {
		if desc.Bind&k.bind == 0 {
			continue
		}
		h, err := d.newView(&b.resource, driver.HeapResource, refdev.Descriptor{
			Kind:   k.dk,
			Res:    b.r,
			Size:   desc.Size,
			Stride: stride,
		})
		if err != nil {
			return err
		}
		*k.h = h
	}
	return nil
}
