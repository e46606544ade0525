// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package imm

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/refdev"
	"gviegas/rhi/internal/upload"
)

// dynAlign is the alignment of dynamic allocations.
const dynAlign = 256

// dynRing serves dynamic buffers and scratch memory.
//
// Allocations are appended to the ring and never
// overwritten, so that memory read by commands in flight
// stays intact. When the ring is full, it is renamed:
// a fresh upload resource replaces it and the previous
// one is released once the GPU is done with the frame.
type dynRing struct {
	d    *Driver
	size int64

	mu   sync.Mutex
	res  *refdev.Resource
	ring *upload.Ring
	// Wrapper given out as the buffer of scratch
	// allocations.
	buf *buffer

	renames atomic.Int64
}

// version is a region of the ring that holds the
// contents of a dynamic buffer.
type version struct {
	res *refdev.Resource
	off int64
	mem []byte
}

func newDynRing(d *Driver, size int64) (*dynRing, error) {
	g := &dynRing{d: d, size: max(size, 1<<16)}
	if err := g.rename(); err != nil {
		return nil, err
	}
	g.renames.Store(0)
	return g, nil
}

// rename replaces the ring memory.
// It must be called with g.mu held, except from
// newDynRing.
func (g *dynRing) rename() error {
	r, err := g.d.dev.NewBuffer(&gputypes.BufferDescriptor{
		Label: "dynamic",
		Size:  uint64(g.size),
		Usage: gputypes.BufferUsageVertex | gputypes.BufferUsageIndex |
			gputypes.BufferUsageUniform | gputypes.BufferUsageStorage |
			gputypes.BufferUsageCopySrc | gputypes.BufferUsageMapWrite,
	}, refdev.HeapUpload, refdev.StateGenericRead)
	if err != nil {
		return errors.Wrap(driver.ErrNoDeviceMemory, err.Error())
	}
	if g.res != nil {
		g.d.retire(g.res.Release)
		driver.Logger().Warn("dynamic ring renamed", "size", g.size, "renames", g.renames.Load()+1)
	}
	mem, _ := r.Map(0)
	g.res = r
	g.ring = upload.NewRing(mem)
	g.buf = &buffer{
		resource: resource{d: g.d, r: r, owned: true},
		desc: driver.BufferDesc{
			Size:      g.size,
			Usage:     driver.UsageDynamic,
			Bind:      driver.BindVertexBuffer | driver.BindIndexBuffer | driver.BindConstantBuffer,
			CPUAccess: driver.CPUWrite,
		},
	}
	g.renames.Add(1)
	return nil
}

// alloc allocates size bytes, renaming the ring if it is
// full. It also returns the wrapper of the ring memory.
func (g *dynRing) alloc(size int64) (version, *buffer, error) {
	if size > g.size {
		return version{}, nil, errors.Wrapf(driver.ErrDesc, "dynamic allocation of %d bytes exceeds ring size %d", size, g.size)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	off, mem, err := g.ring.Allocate(size, dynAlign)
	if err != nil {
		if err = g.rename(); err != nil {
			return version{}, nil, err
		}
		if off, mem, err = g.ring.Allocate(size, dynAlign); err != nil {
			return version{}, nil, err
		}
	}
	return version{g.res, off, mem}, g.buf, nil
}

func (g *dynRing) destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.res != nil {
		g.res.Release()
		g.res = nil
	}
}

// dynamic is the state of a dynamic buffer.
// A dynamic buffer must not be updated by more than one
// worker at a time.
type dynamic struct {
	cur version
}

// update replaces the contents of b with a new version
// in which data is written at offset. The bytes outside
// that range are carried over from the previous version.
// Each version holds a reference to its ring resource.
func (b *buffer) update(data []byte, offset int64) error {
	x := b.dyn
	v, _, err := b.d.dyn.alloc(b.desc.Size)
	if err != nil {
		return err
	}
	prev := x.cur
	if prev.mem != nil {
		copy(v.mem, prev.mem)
	}
	copy(v.mem[offset:], data)
	if prev.res != v.res {
		v.res.AddRef()
		if prev.res != nil {
			b.d.retire(prev.res.Release)
		}
	}
	x.cur = v
	b.r = v.res
	return nil
}

// release drops the reference of the current version.
func (x *dynamic) release(d *Driver) {
	if x.cur.res != nil {
		d.retire(x.cur.res.Release)
	}
	x.cur = version{}
}
