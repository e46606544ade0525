// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package imm

import (
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/conv"
	"gviegas/rhi/internal/refdev"
)

// resource is the common part of buffers and textures.
type resource struct {
	d       *Driver
	r       *refdev.Resource
	views   driver.Views
	handles []driver.Handle
	// Set for dynamic buffers.
	dyn *dynamic
	// Back-buffers and ring wrappers are owned by
	// the driver.
	owned bool
}

// Views returns the views of the resource.
func (r *resource) Views() *driver.Views { return &r.views }

// SetName sets a debug name.
func (r *resource) SetName(name string) {
	if r.r != nil {
		r.r.SetName(name)
	}
}

func (r *resource) destroy() {
	if r.r == nil || r.owned {
		return
	}
	r.d.freeViews(r)
	if r.dyn != nil {
		r.dyn.release(r.d)
	} else {
		r.d.retire(r.r.Release)
	}
	r.r = nil
}

// staging returns whether r lives in CPU-visible memory.
func (r *resource) staging() bool { return r.r.Heap() != refdev.HeapDefault }

// buffer implements driver.Buffer.
type buffer struct {
	resource
	desc driver.BufferDesc
}

// Desc returns the buffer description.
func (b *buffer) Desc() *driver.BufferDesc { return &b.desc }

// Destroy destroys the buffer.
func (b *buffer) Destroy() { b.destroy() }

// texture implements driver.Texture.
type texture struct {
	resource
	desc driver.TextureDesc
}

// Desc returns the texture description.
func (t *texture) Desc() *driver.TextureDesc { return &t.desc }

// Destroy destroys the texture.
func (t *texture) Destroy() { t.destroy() }

func heapFor(usg driver.Usage, cpu driver.CPUAccess) refdev.HeapType {
	if usg != driver.UsageStaging {
		return refdev.HeapDefault
	}
	if cpu&driver.CPURead != 0 {
		return refdev.HeapReadback
	}
	return refdev.HeapUpload
}

// NewBuffer creates a new buffer.
func (d *Driver) NewBuffer(desc *driver.BufferDesc, data []byte) (driver.Buffer, error) {
	switch {
	case desc.Size <= 0:
		return nil, errors.Wrapf(driver.ErrDesc, "buffer size %d", desc.Size)
	case desc.Misc&driver.MiscTiled != 0:
		return nil, errors.Wrap(driver.ErrDesc, "tiled resources are not supported")
	case desc.Misc&driver.MiscBufferStructured != 0 && desc.Stride <= 0:
		return nil, errors.Wrap(driver.ErrDesc, "structured buffer without stride")
	case desc.Usage == driver.UsageImmutable && data == nil:
		return nil, errors.Wrap(driver.ErrDesc, "immutable buffer without initial data")
	case int64(len(data)) > desc.Size:
		return nil, errors.Wrapf(driver.ErrDesc, "%d bytes of initial data for a buffer of size %d", len(data), desc.Size)
	case desc.Usage == driver.UsageDynamic && desc.Bind&driver.BindUnorderedAccess != 0:
		return nil, errors.Wrap(driver.ErrDesc, "dynamic buffer with unordered access")
	}
	b := &buffer{resource: resource{d: d}, desc: *desc}
	if desc.Usage == driver.UsageDynamic {
		b.dyn = &dynamic{}
		if err := b.update(data, 0); err != nil {
			return nil, err
		}
	} else {
		bd := conv.BufferDesc(desc)
		heap := heapFor(desc.Usage, desc.CPUAccess)
		r, err := d.dev.NewBuffer(&bd, heap, conv.HomeState(desc.Bind, desc.Misc))
		if err != nil {
			return nil, errors.Wrap(driver.ErrNoDeviceMemory, err.Error())
		}
		b.r = r
		switch {
		case data == nil:
		case heap == refdev.HeapDefault:
			box := &refdev.Box{Right: len(data), Bottom: 1, Back: 1}
			d.record(func(cl *refdev.CmdList) { cl.UpdateSubresource(r, 0, box, data, 0, 0) })
		default:
			mem, _ := r.Map(0)
			copy(mem, data)
		}
	}
	if err := d.bufferViews(b); err != nil {
		d.freeViews(&b.resource)
		b.destroy()
		return nil, err
	}
	return b, nil
}

// NewTexture creates a new texture.
// Staging textures are textures in CPU-visible memory
// with tightly packed rows.
func (d *Driver) NewTexture(desc *driver.TextureDesc, data []driver.SubresourceData) (driver.Texture, error) {
	if err := d.checkTexture(desc); err != nil {
		return nil, err
	}
	if data != nil && len(data) != desc.Subresources() {
		return nil, errors.Wrapf(driver.ErrDesc, "%d initial subresources, texture has %d", len(data), desc.Subresources())
	}
	if desc.Usage == driver.UsageImmutable && data == nil {
		return nil, errors.Wrap(driver.ErrDesc, "immutable texture without initial data")
	}
	heap := heapFor(desc.Usage, desc.CPUAccess)
	if heap != refdev.HeapDefault && desc.Bind != 0 {
		return nil, errors.Wrap(driver.ErrDesc, "staging texture with bind flags")
	}
	td := conv.TextureDesc(desc)
	r, err := d.dev.NewTexture(&td, heap, conv.HomeState(desc.Bind, desc.Misc))
	if err != nil {
		if errors.Is(err, refdev.ErrFormat) {
			return nil, errors.Wrap(driver.ErrFormat, err.Error())
		}
		return nil, errors.Wrap(driver.ErrDesc, err.Error())
	}
	t := &texture{resource: resource{d: d, r: r}, desc: *desc}
	if err = d.textureViews(t); err != nil {
		d.freeViews(&t.resource)
		r.Release()
		return nil, err
	}
	for i := range data {
		if heap == refdev.HeapDefault {
			sd := data[i]
			d.record(func(cl *refdev.CmdList) { cl.UpdateSubresource(r, i, nil, sd.Data, sd.RowPitch, sd.SlicePitch) })
			continue
		}
		writeSubresource(r, i, &data[i])
	}
	return t, nil
}

// writeSubresource writes initial data to a subresource
// of a staging texture.
func writeSubresource(r *refdev.Resource, sub int, sd *driver.SubresourceData) {
	mem, _ := r.Map(sub)
	w, h, dp := r.SubresourceSize(sub)
	row := w * r.TexelSize()
	pitch := max(sd.RowPitch, row)
	slice := max(sd.SlicePitch, pitch*h)
	for z := range dp {
		for y := range h {
			s := z*slice + y*pitch
			if s >= len(sd.Data) {
				return
			}
			o := (z*h + y) * row
			copy(mem[o:o+row], sd.Data[s:min(s+row, len(sd.Data))])
		}
	}
}

func (d *Driver) checkTexture(desc *driver.TextureDesc) error {
	if desc.Misc&driver.MiscTiled != 0 {
		return errors.Wrap(driver.ErrDesc, "tiled resources are not supported")
	}
	if !desc.Format.Valid() || desc.Format == driver.FUnknown {
		return errors.Wrapf(driver.ErrFormat, "texture format %v", desc.Format)
	}
	limit := d.caps.MaxTexture2D
	switch desc.Type {
	case driver.Texture1D:
		limit = d.caps.MaxTexture1D
		if desc.Height > 1 || desc.Depth > 1 {
			return errors.Wrap(driver.ErrDesc, "1D texture with height or depth")
		}
	case driver.Texture2D:
	case driver.Texture3D:
		limit = d.caps.MaxTexture3D
		if desc.ArraySize > 1 {
			return errors.Wrap(driver.ErrDesc, "3D texture array")
		}
	default:
		return errors.Wrapf(driver.ErrDesc, "texture type %d", desc.Type)
	}
	switch {
	case desc.Width <= 0 || desc.Width > limit || desc.Height > limit || desc.Depth > limit:
		return errors.Wrapf(driver.ErrDesc, "texture size %dx%dx%d", desc.Width, desc.Height, desc.Depth)
	case desc.ArraySize > d.caps.MaxArraySize:
		return errors.Wrapf(driver.ErrDesc, "array size %d", desc.ArraySize)
	case desc.Misc&driver.MiscTextureCube != 0 && (desc.Type != driver.Texture2D || desc.ArraySize%6 != 0):
		return errors.Wrap(driver.ErrDesc, "cube texture must be a 2D array of a multiple of 6 slices")
	case desc.Misc&driver.MiscIndependentSlices != 0 && desc.Misc&driver.MiscIndependentMips != 0:
		return errors.Wrap(driver.ErrDesc, "MiscIndependentSlices and MiscIndependentMips are exclusive")
	case desc.Format.IsDepth() && desc.Bind&(driver.BindRenderTarget|driver.BindUnorderedAccess) != 0:
		return errors.Wrapf(driver.ErrFormat, "%v as render target or UAV", desc.Format)
	case !desc.Format.IsDepth() && desc.Bind&driver.BindDepthStencil != 0:
		return errors.Wrapf(driver.ErrFormat, "%v as depth/stencil", desc.Format)
	}
	return nil
}

// sampler implements driver.Sampler.
type sampler struct {
	d *Driver
	h driver.Handle
}

// NewSampler creates a new sampler.
func (d *Driver) NewSampler(desc *driver.SamplerDesc) (driver.Sampler, error) {
	h, err := d.newView(nil, driver.HeapSampler, refdev.Descriptor{
		Kind:    refdev.DescSampler,
		Sampler: conv.Sampler(desc),
	})
	if err != nil {
		return nil, err
	}
	return &sampler{d: d, h: h}, nil
}

// Handle returns the sampler view.
func (s *sampler) Handle() driver.Handle { return s.h }

// Destroy destroys the sampler.
func (s *sampler) Destroy() {
	if !s.h.IsNil() {
		s.d.heaps[driver.HeapSampler].t.Remove(s.h)
		s.h = 0
	}
}

// res returns the resource part of a driver.Resource
// created by d.
func (d *Driver) res(r driver.Resource) *resource {
	switch x := r.(type) {
	case *buffer:
		return &x.resource
	case *texture:
		return &x.resource
	case nil:
		return nil
	}
	d.assert(false, "foreign resource %T", r)
	return nil
}
