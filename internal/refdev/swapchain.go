// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package refdev

import (
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
)

// SwapchainDesc describes a swapchain.
type SwapchainDesc struct {
	Width   int
	Height  int
	Buffers int
	Format  gputypes.TextureFormat
}

// PresentFunc receives the contents of a presented
// buffer. pix is only valid for the duration of the call.
type PresentFunc func(pix []byte, width, height, rowPitch int) error

// Swapchain is a set of buffers presented in round-robin
// order.
type Swapchain struct {
	dev     *Device
	q       *Queue
	present PresentFunc

	mu   sync.Mutex
	desc SwapchainDesc
	bufs []*Resource
	cur  int
	err  error
}

// NewSwapchain creates a new swapchain that presents on q.
// Buffers are created in StatePresent.
func (d *Device) NewSwapchain(q *Queue, desc *SwapchainDesc, present PresentFunc) (*Swapchain, error) {
	if q.typ != CmdListDirect {
		return nil, errors.Wrap(ErrInvalid, "swapchain on a copy queue")
	}
	if desc.Buffers < 2 || desc.Buffers > 16 {
		return nil, errors.Wrapf(ErrInvalid, "swapchain with %d buffers", desc.Buffers)
	}
	if IsDepth(desc.Format) || FormatSize(desc.Format) == 0 {
		return nil, errors.Wrapf(ErrFormat, "swapchain format %v", desc.Format)
	}
	sc := &Swapchain{dev: d, q: q, present: present, desc: *desc}
	if err := sc.create(desc.Width, desc.Height); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *Swapchain) create(width, height int) error {
	bufs := make([]*Resource, sc.desc.Buffers)
	for i := range bufs {
		r, err := sc.dev.NewTexture(&gputypes.TextureDescriptor{
			Label: "back buffer",
			Size: gputypes.Extent3D{
				Width:              uint32(width),
				Height:             uint32(height),
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        sc.desc.Format,
			Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
		}, HeapDefault, StatePresent)
		if err != nil {
			for _, r := range bufs[:i] {
				r.Release()
			}
			return err
		}
		bufs[i] = r
	}
	sc.bufs = bufs
	sc.desc.Width = width
	sc.desc.Height = height
	sc.cur = 0
	return nil
}

// Desc returns the swapchain description.
func (sc *Swapchain) Desc() SwapchainDesc {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.desc
}

// Len returns the number of buffers.
func (sc *Swapchain) Len() int { return sc.desc.Buffers }

// Buffer returns buffer i. Its reference count is
// incremented, and the caller must release it.
func (sc *Swapchain) Buffer(i int) *Resource {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	r := sc.bufs[i]
	r.AddRef()
	return r
}

// CurrentIndex returns the index of the buffer to render
// into.
func (sc *Swapchain) CurrentIndex() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.cur
}

// Present queues the presentation of the current buffer
// and advances to the next one. The buffer must be in
// StatePresent when the presentation executes.
// Errors from the PresentFunc are returned by the next
// call. interval is ignored since there is no display to
// synchronize with.
func (sc *Swapchain) Present(interval int) error {
	sc.mu.Lock()
	if err := sc.err; err != nil {
		sc.err = nil
		sc.mu.Unlock()
		return err
	}
	r := sc.bufs[sc.cur]
	sc.cur = (sc.cur + 1) % len(sc.bufs)
	sc.mu.Unlock()
	r.AddRef()
	return sc.q.send(func() {
		defer r.Release()
		if sc.dev.Err() != nil {
			return
		}
		if sc.dev.strict {
			if s := r.State(); s != StatePresent {
				sc.dev.violate("Present: %v is in state %v", r, s)
			}
		}
		sc.dev.stats.presents.Add(1)
		if sc.present == nil {
			return
		}
		w, h, _ := r.SubresourceSize(0)
		if err := sc.present(r.subs[0], w, h, r.RowPitch(0)); err != nil {
			sc.mu.Lock()
			sc.err = err
			sc.mu.Unlock()
		}
	})
}

// ResizeBuffers recreates the buffers with a new size.
// It fails with ErrInFlight if any buffer is still
// referenced outside the swapchain.
func (sc *Swapchain) ResizeBuffers(width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Wrapf(ErrInvalid, "swapchain size %dx%d", width, height)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for i, r := range sc.bufs {
		if r.Refs() > 1 {
			return errors.Wrapf(ErrInFlight, "back buffer %d has %d references", i, r.Refs())
		}
	}
	old := sc.bufs
	if err := sc.create(width, height); err != nil {
		return err
	}
	for _, r := range old {
		r.Release()
	}
	return nil
}

// Release releases the buffers.
func (sc *Swapchain) Release() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, r := range sc.bufs {
		r.Release()
	}
	sc.bufs = nil
}
