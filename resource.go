// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
)

// Resource is the interface that Buffer and Texture
// implement.
type Resource interface {
	// Views returns the descriptor handles of the
	// resource.
	Views() *driver.Views
	// Native returns the backend resource.
	Native() driver.Resource
}

// Buffer is a GPU buffer.
type Buffer struct {
	d *Device
	b driver.Buffer
}

// CreateBuffer creates a new buffer.
// data, if not nil, is the initial contents of the
// buffer. It is not retained.
func (d *Device) CreateBuffer(desc *driver.BufferDesc, data []byte) (*Buffer, error) {
	b, err := d.gpu.NewBuffer(desc, data)
	if err != nil {
		return nil, check(errors.WithMessage(err, "CreateBuffer"))
	}
	return &Buffer{d: d, b: b}, nil
}

// Desc returns the buffer description.
func (b *Buffer) Desc() *driver.BufferDesc { return b.b.Desc() }

// Views returns the descriptor handles of the buffer.
func (b *Buffer) Views() *driver.Views { return b.b.Views() }

// Native returns the backend buffer.
func (b *Buffer) Native() driver.Resource { return b.b }

// SetName sets a debug name.
func (b *Buffer) SetName(name string) { b.b.SetName(name) }

// Destroy destroys the buffer and frees its views.
// The memory is released once the GPU is done with it.
func (b *Buffer) Destroy() {
	if b.b != nil {
		b.b.Destroy()
		b.b = nil
	}
}

// Texture is a GPU texture.
type Texture struct {
	d *Device
	t driver.Texture
	// Back-buffers are owned by the swapchain.
	backBuffer bool
}

// CreateTexture creates a new texture.
// The texture is 1D, 2D or 3D as desc.Type says.
// data, if not nil, must have one entry per subresource.
func (d *Device) CreateTexture(desc *driver.TextureDesc, data []driver.SubresourceData) (*Texture, error) {
	t, err := d.gpu.NewTexture(desc, data)
	if err != nil {
		return nil, check(errors.WithMessage(err, "CreateTexture"))
	}
	return &Texture{d: d, t: t}, nil
}

// Desc returns the texture description.
func (t *Texture) Desc() *driver.TextureDesc { return t.t.Desc() }

// Views returns the descriptor handles of the texture.
func (t *Texture) Views() *driver.Views { return t.t.Views() }

// Native returns the backend texture.
func (t *Texture) Native() driver.Resource { return t.t }

// SetName sets a debug name.
func (t *Texture) SetName(name string) { t.t.SetName(name) }

// Destroy destroys the texture and frees its views.
// It does nothing for back-buffers.
func (t *Texture) Destroy() {
	if t.t != nil && !t.backBuffer {
		t.t.Destroy()
		t.t = nil
	}
}

// Sampler is a sampler state.
type Sampler struct {
	s driver.Sampler
}

// CreateSampler creates a new sampler.
func (d *Device) CreateSampler(desc *driver.SamplerDesc) (*Sampler, error) {
	s, err := d.gpu.NewSampler(desc)
	if err != nil {
		return nil, check(errors.WithMessage(err, "CreateSampler"))
	}
	return &Sampler{s}, nil
}

// Handle returns the descriptor handle of the sampler.
func (s *Sampler) Handle() driver.Handle { return s.s.Handle() }

// Destroy destroys the sampler.
func (s *Sampler) Destroy() {
	if s.s != nil {
		s.s.Destroy()
		s.s = nil
	}
}

// PSO is a pipeline state object.
// It is immutable and may be bound by any number of
// command lists concurrently.
type PSO struct {
	p driver.PSO
}

// CreateGraphicsPSO creates a new graphics pipeline
// state.
func (d *Device) CreateGraphicsPSO(desc *driver.GraphicsPSODesc) (*PSO, error) {
	p, err := d.gpu.NewGraphicsPSO(desc)
	if err != nil {
		return nil, check(errors.WithMessage(err, "CreateGraphicsPSO"))
	}
	return &PSO{p}, nil
}

// CreateComputePSO creates a new compute pipeline state.
func (d *Device) CreateComputePSO(desc *driver.ComputePSODesc) (*PSO, error) {
	p, err := d.gpu.NewComputePSO(desc)
	if err != nil {
		return nil, check(errors.WithMessage(err, "CreateComputePSO"))
	}
	return &PSO{p}, nil
}

// Compute returns whether p is a compute pipeline.
func (p *PSO) Compute() bool { return p.p.Compute() }

// Destroy destroys the pipeline state.
func (p *PSO) Destroy() {
	if p.p != nil {
		p.p.Destroy()
		p.p = nil
	}
}

// Query is a GPU query.
type Query struct {
	q driver.Query
}

// CreateQuery creates a new query.
func (d *Device) CreateQuery(desc *driver.QueryDesc) (*Query, error) {
	q, err := d.gpu.NewQuery(desc)
	if err != nil {
		return nil, check(errors.WithMessage(err, "CreateQuery"))
	}
	return &Query{q}, nil
}

// Desc returns the query description.
func (q *Query) Desc() *driver.QueryDesc { return q.q.Desc() }

// Destroy destroys the query.
func (q *Query) Destroy() {
	if q.q != nil {
		q.q.Destroy()
		q.q = nil
	}
}

// QueryRead returns the result of q. It returns false
// if the result is not available yet, and never blocks.
func (d *Device) QueryRead(q *Query) (uint64, bool) {
	if q == nil || q.q == nil {
		return 0, false
	}
	return q.q.Result()
}

// ReadStaging returns the memory of a staging resource
// created with driver.CPURead access, and its row pitch.
// The contents are those of the last download whose
// frame completed.
func (d *Device) ReadStaging(r Resource) ([]byte, int, error) {
	return d.gpu.Map(r.Native())
}

// ValidHandle returns whether h refers to a live view.
func (d *Device) ValidHandle(h driver.Handle) bool { return d.gpu.ValidHandle(h) }
