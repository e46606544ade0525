// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package explicit

import (
	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/conv"
	"gviegas/rhi/internal/refdev"
)

// resource is the common part of buffers and textures.
type resource struct {
	d *Driver
	r *refdev.Resource
	// State the resource is in between command lists.
	home    refdev.ResourceStates
	views   driver.Views
	handles []driver.Handle
	// Placed subresources of staging textures, which are
	// buffers in upload or readback heaps.
	fps []refdev.PlacedFootprint
	// Back-buffers are owned by their swapchain.
	owned bool
}

// tracked returns whether state transitions apply to r.
func (r *resource) tracked() bool { return r.r.Heap() == refdev.HeapDefault }

// Views returns the views of the resource.
func (r *resource) Views() *driver.Views { return &r.views }

// SetName sets a debug name.
func (r *resource) SetName(name string) { r.r.SetName(name) }

// destroy frees the views of r immediately and releases
// its memory once the GPU is done with the current
// frame.
func (r *resource) destroy() {
	if r.r == nil || r.owned {
		return
	}
	r.d.freeViews(r)
	res := r.r
	r.r = nil
	r.d.retire(res.Release)
}

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

// heapFor returns the memory heap of a resource with the
// given usage and CPU access.
func heapFor(usg driver.Usage, cpu driver.CPUAccess) refdev.HeapType {
	if usg != driver.UsageStaging {
		return refdev.HeapDefault
	}
	if cpu&driver.CPURead != 0 {
		return refdev.HeapReadback
	}
	return refdev.HeapUpload
}

func checkMisc(m driver.MiscFlag) error {
	if m&driver.MiscTiled != 0 {
		return errors.Wrap(driver.ErrDesc, "tiled resources are not supported")
	}
	return nil
}

// NewBuffer creates a new buffer.
func (d *Driver) NewBuffer(desc *driver.BufferDesc, data []byte) (driver.Buffer, error) {
	if desc.Size <= 0 {
		return nil, errors.Wrapf(driver.ErrDesc, "buffer size %d", desc.Size)
	}
	if err := checkMisc(desc.Misc); err != nil {
		return nil, err
	}
	if desc.Misc&driver.MiscBufferStructured != 0 && desc.Stride <= 0 {
		return nil, errors.Wrap(driver.ErrDesc, "structured buffer without stride")
	}
	if desc.Usage == driver.UsageImmutable && data == nil {
		return nil, errors.Wrap(driver.ErrDesc, "immutable buffer without initial data")
	}
	if int64(len(data)) > desc.Size {
		return nil, errors.Wrapf(driver.ErrDesc, "%d bytes of initial data for a buffer of size %d", len(data), desc.Size)
	}
	heap := heapFor(desc.Usage, desc.CPUAccess)
	home := conv.HomeState(desc.Bind, desc.Misc)
	initial := home
	upload := data != nil && heap == refdev.HeapDefault
	if upload {
		initial = refdev.StateCopyDest
	}
	bd := conv.BufferDesc(desc)
	r, err := d.dev.NewBuffer(&bd, heap, initial)
	if err != nil {
		return nil, errors.Wrap(driver.ErrNoDeviceMemory, err.Error())
	}
	b := &buffer{
		resource: resource{d: d, r: r, home: home},
		desc:     *desc,
	}
	if err = d.bufferViews(b); err != nil {
		d.freeViews(&b.resource)
		r.Release()
		return nil, err
	}
	switch {
	case upload:
		err = d.copy.uploadBuffer(r, data, home)
	case data != nil:
		var mem []byte
		if mem, err = r.Map(0); err == nil {
			copy(mem, data)
		}
	}
	if err != nil {
		d.freeViews(&b.resource)
		r.Release()
		return nil, err
	}
	return b, nil
}

// NewTexture creates a new texture.
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
	td := conv.TextureDesc(desc)
	heap := heapFor(desc.Usage, desc.CPUAccess)
	if heap != refdev.HeapDefault {
		return d.newStagingTexture(desc, &td, heap, data)
	}
	home := conv.HomeState(desc.Bind, desc.Misc)
	initial := home
	if data != nil {
		initial = refdev.StateCopyDest
	}
	r, err := d.dev.NewTexture(&td, heap, initial)
	if err != nil {
		if errors.Is(err, refdev.ErrFormat) {
			return nil, errors.Wrap(driver.ErrFormat, err.Error())
		}
		return nil, errors.Wrap(driver.ErrDesc, err.Error())
	}
	t := &texture{
		resource: resource{d: d, r: r, home: home},
		desc:     *desc,
	}
	if err = d.textureViews(t); err == nil && data != nil {
		err = d.copy.uploadTexture(r, data, home)
	}
	if err != nil {
		d.freeViews(&t.resource)
		r.Release()
		return nil, err
	}
	return t, nil
}

func (d *Driver) checkTexture(desc *driver.TextureDesc) error {
	if err := checkMisc(desc.Misc); err != nil {
		return err
	}
	if !desc.Format.Valid() || desc.Format == driver.FUnknown {
		return errors.Wrapf(driver.ErrFormat, "texture format %v", desc.Format)
	}
	var limit int
	switch desc.Type {
	case driver.Texture1D:
		limit = d.caps.MaxTexture1D
		if desc.Height > 1 || desc.Depth > 1 {
			return errors.Wrap(driver.ErrDesc, "1D texture with height or depth")
		}
	case driver.Texture2D:
		limit = d.caps.MaxTexture2D
	case driver.Texture3D:
		limit = d.caps.MaxTexture3D
		if desc.ArraySize > 1 {
			return errors.Wrap(driver.ErrDesc, "3D texture array")
		}
	default:
		return errors.Wrapf(driver.ErrDesc, "texture type %d", desc.Type)
	}
	if desc.Width <= 0 || desc.Width > limit || desc.Height > limit || desc.Depth > limit {
		return errors.Wrapf(driver.ErrDesc, "texture size %dx%dx%d", desc.Width, desc.Height, desc.Depth)
	}
	if desc.ArraySize > d.caps.MaxArraySize {
		return errors.Wrapf(driver.ErrDesc, "array size %d", desc.ArraySize)
	}
	if desc.Misc&driver.MiscTextureCube != 0 && (desc.Type != driver.Texture2D || desc.ArraySize%6 != 0) {
		return errors.Wrap(driver.ErrDesc, "cube texture must be a 2D array of a multiple of 6 slices")
	}
	if desc.Misc&driver.MiscIndependentSlices != 0 && desc.Misc&driver.MiscIndependentMips != 0 {
		return errors.Wrap(driver.ErrDesc, "MiscIndependentSlices and MiscIndependentMips are exclusive")
	}
	if desc.Format.IsDepth() && desc.Bind&(driver.BindRenderTarget|driver.BindUnorderedAccess) != 0 {
		return errors.Wrapf(driver.ErrFormat, "%v as render target or UAV", desc.Format)
	}
	if !desc.Format.IsDepth() && desc.Bind&driver.BindDepthStencil != 0 {
		return errors.Wrapf(driver.ErrFormat, "%v as depth/stencil", desc.Format)
	}
	return nil
}

// newStagingTexture creates a texture for CPU access.
// Its memory is a buffer that holds every subresource
// at its placed footprint.
func (d *Driver) newStagingTexture(desc *driver.TextureDesc, td *gputypes.TextureDescriptor, heap refdev.HeapType, data []driver.SubresourceData) (driver.Texture, error) {
	if desc.Bind != 0 {
		return nil, errors.Wrap(driver.ErrDesc, "staging texture with bind flags")
	}
	// The shape is computed on a throwaway texture, so
	// that footprints are derived exactly as copies
	// expect them.
	shape, err := d.dev.NewTexture(td, refdev.HeapDefault, refdev.StateCommon)
	if err != nil {
		return nil, errors.Wrap(driver.ErrDesc, err.Error())
	}
	fps, size := shape.CopyableFootprints(0, shape.Subresources(), 0)
	shape.Release()
	r, err := d.dev.NewBuffer(&gputypes.BufferDescriptor{
		Size:  uint64(size),
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	}, heap, refdev.StateCommon)
	if err != nil {
		return nil, errors.Wrap(driver.ErrNoDeviceMemory, err.Error())
	}
	t := &texture{
		resource: resource{d: d, r: r, home: r.State(), fps: fps},
		desc:     *desc,
	}
	if data != nil {
		mem, _ := r.Map(0)
		for i, fp := range fps {
			writeFootprint(mem[fp.Offset:], &fp.Footprint, td.Format, &data[i])
		}
	}
	return t, nil
}

// writeFootprint copies a subresource to memory laid out
// as fp.
func writeFootprint(dst []byte, fp *refdev.Footprint, f gputypes.TextureFormat, src *driver.SubresourceData) {
	row := fp.Width * refdev.FormatSize(f)
	pitch := src.RowPitch
	if pitch <= 0 {
		pitch = row
	}
	slice := src.SlicePitch
	if slice <= 0 {
		slice = pitch * fp.Height
	}
	for z := 0; z < fp.Depth; z++ {
		for y := 0; y < fp.Height; y++ {
			s := z*slice + y*pitch
			if s >= len(src.Data) {
				return
			}
			o := (z*fp.Height + y) * fp.RowPitch
			copy(dst[o:o+row], src.Data[s:min(s+row, len(src.Data))])
		}
	}
}

// location returns the copy location of subresource sub
// of r.
func (r *resource) location(sub int) refdev.CopyLocation {
	if r.fps != nil {
		return refdev.CopyLocation{Res: r.r, Footprint: &r.fps[sub]}
	}
	return refdev.CopyLocation{Res: r.r, Sub: sub}
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

// Handle returns the sampler descriptor.
func (s *sampler) Handle() driver.Handle { return s.h }

// Destroy destroys the sampler.
func (s *sampler) Destroy() {
	if s.h.IsNil() {
		return
	}
	s.d.heaps[driver.HeapSampler].remove(s.h)
	s.h = 0
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
