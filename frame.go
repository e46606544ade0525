// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"context"

	"github.com/pkg/errors"

	"gviegas/rhi/driver"
)

// PresentBegin waits for pending uploads to complete,
// then binds the back-buffer of the swapchain as the
// render target of c and clears it to black. c may be
// nil, in which case only the wait takes place.
//
// The wait serializes transfers and rendering once per
// frame: uploads issued during a frame are visible to
// every command list submitted after PresentBegin.
func (d *Device) PresentBegin(c *CmdList) error {
	return d.PresentBeginContext(context.Background(), c)
}

// PresentBeginContext is like PresentBegin but the wait
// can be canceled through ctx.
func (d *Device) PresentBeginContext(ctx context.Context, c *CmdList) error {
	if err := d.gpu.FlushUploads(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return check(err)
	}
	if c == nil || d.sc == nil {
		return nil
	}
	if c.state != listRecording {
		return c.notRecording("PresentBegin")
	}
	rtv := d.sc.BackBuffer().Views().RTV
	w, h := d.sc.Size()
	c.cl.BindRenderTargets([]driver.Handle{rtv}, 0)
	c.cl.BindViewports([]driver.Viewport{{Width: float32(w), Height: float32(h), Zfar: 1}})
	c.cl.BindScissors([]driver.Scissor{{Width: w, Height: h}})
	c.cl.ClearRenderTarget(rtv, [4]float32{0, 0, 0, 1})
	return nil
}

// PresentEnd submits the command lists of the frame in
// worker order, presents the back-buffer and advances to
// the next frame. It blocks only when the number of
// frames in flight would exceed Config.FramesInFlight.
func (d *Device) PresentEnd() error {
	return d.PresentEndContext(context.Background())
}

// PresentEndContext is like PresentEnd but the wait can
// be canceled through ctx. In that case, the frame is
// already presented and PresentEndContext can be called
// again to retry the wait.
func (d *Device) PresentEndContext(ctx context.Context) error {
	d.mu.Lock()
	err := d.execute()
	n := len(d.lists)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if d.sc != nil && !d.presented {
		if err := d.sc.Present(); err != nil {
			return check(errors.Wrap(driver.ErrFatal, err.Error()))
		}
		d.presented = true
	}
	if err := d.gpu.EndFrame(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return check(err)
	}
	d.presented = false
	d.mu.Lock()
	clear(d.lists)
	d.lists = d.lists[:0]
	d.mu.Unlock()
	if n > 0 {
		d.workers.Release(int64(n))
	}
	Logger().Debug("frame presented", "count", d.gpu.FrameCount(), "lists", n)
	return nil
}

// WaitForGPU blocks until the GPU completes every command
// submitted so far.
func (d *Device) WaitForGPU() error {
	return d.WaitForGPUContext(context.Background())
}

// WaitForGPUContext is like WaitForGPU but the wait can
// be canceled through ctx.
func (d *Device) WaitForGPUContext(ctx context.Context) error {
	if err := d.gpu.WaitIdle(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return check(err)
	}
	return nil
}

// FrameCount returns the number of frames presented.
func (d *Device) FrameCount() uint64 { return d.gpu.FrameCount() }

// SetResolution recreates the back-buffers with a new
// size. It does nothing if the size does not change.
// Back-buffers obtained from BackBuffer before the call
// must no longer be used.
func (d *Device) SetResolution(width, height int) error {
	if d.sc == nil {
		return errors.Wrap(driver.ErrSwapchain, "SetResolution: device has no swapchain")
	}
	if width == d.width && height == d.height {
		return nil
	}
	var old []driver.Handle
	for _, bb := range d.sc.Buffers() {
		old = append(old, bb.Views().RTV)
	}
	if err := d.sc.Resize(context.Background(), width, height); err != nil {
		return err
	}
	for _, h := range old {
		d.assert(!d.gpu.ValidHandle(h), "SetResolution: back-buffer view %v not released", h)
	}
	d.width, d.height = width, height
	Logger().Info("resolution changed", "width", width, "height", height)
	return nil
}

// Resolution returns the size of the back-buffers.
func (d *Device) Resolution() (width, height int) { return d.width, d.height }

// BackBuffer returns the back-buffer to render to in the
// current frame, or nil if the Device has no swapchain.
// It changes on every PresentEnd and SetResolution.
func (d *Device) BackBuffer() *Texture {
	if d.sc == nil {
		return nil
	}
	return &Texture{d: d, t: d.sc.BackBuffer(), backBuffer: true}
}

// BackBufferFormat returns the format of the
// back-buffers.
func (d *Device) BackBufferFormat() driver.Format {
	if d.sc == nil {
		return d.cfg.BackBufferFormat
	}
	return d.sc.Format()
}
