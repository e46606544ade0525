// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
)

type listState int

const (
	listRecording listState = iota
	listFinished
	listSubmitted
)

// CmdList is a command list being recorded for a given
// (frame, worker) pair. It must only be used by one
// goroutine at a time, and only until the frame it was
// begun in is presented.
//
// Bind calls only record state. Bindings are resolved,
// and pending barriers flushed, right before each draw
// or dispatch, so they can be issued in any order.
type CmdList struct {
	d      *Device
	cl     driver.CmdList
	worker int
	frame  int
	state  listState
}

// BeginCommandList begins recording a new command list.
// Each call in a frame takes one worker slot, up to
// Config.Workers; slots are given back by PresentEnd.
func (d *Device) BeginCommandList() (*CmdList, error) {
	if !d.workers.TryAcquire(1) {
		return nil, errors.Wrapf(ErrNoWorker, "%d command lists in this frame", d.cfg.Workers)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	w := len(d.lists)
	cl, err := d.gpu.CmdList(w)
	if err != nil {
		d.workers.Release(1)
		return nil, check(err)
	}
	c := &CmdList{d: d, cl: cl, worker: w, frame: cl.Frame()}
	d.lists = append(d.lists, c)
	return c, nil
}

// Worker returns the worker index of c.
func (c *CmdList) Worker() int { return c.worker }

// Frame returns the frame slot c records for.
func (c *CmdList) Frame() int { return c.frame }

// Recording returns whether c can still record
// commands.
func (c *CmdList) Recording() bool { return c.state == listRecording }

// Native returns the backend command list.
func (c *CmdList) Native() driver.CmdList { return c.cl }

func (c *CmdList) ok(what string) bool {
	if c.state == listRecording {
		return true
	}
	c.d.assert(false, "%s: command list of worker %d is not recording", what, c.worker)
	return false
}

func (c *CmdList) slot(what string, slot, n int) bool {
	if slot >= 0 && slot < n {
		return true
	}
	c.d.assert(false, "%s: slot %d out of [0, %d)", what, slot, n)
	return false
}

func views(r Resource) *driver.Views {
	if r == nil {
		return &driver.Views{}
	}
	return r.Views()
}

// subView returns the primary view if sub is negative,
// and sub view sub otherwise.
func (c *CmdList) subView(what string, prim driver.Handle, subs []driver.Handle, sub int) driver.Handle {
	if sub < 0 {
		return prim
	}
	if sub >= len(subs) {
		c.d.assert(false, "%s: subresource view %d out of [0, %d)", what, sub, len(subs))
		return 0
	}
	return subs[sub]
}

// BindResource binds the shader resource view of r to a
// slot of stage. A nil r unbinds the slot.
func (c *CmdList) BindResource(stage driver.Stage, r Resource, slot int) {
	c.BindResourceSub(stage, r, slot, -1)
}

// BindResourceSub binds the sub view sub of r (an array
// slice or mip level, see driver.MiscIndependentSlices).
// A negative sub binds the primary view.
func (c *CmdList) BindResourceSub(stage driver.Stage, r Resource, slot, sub int) {
	if !c.ok("BindResource") || !c.slot("BindResource", slot, driver.MaxSRVs) {
		return
	}
	v := views(r)
	c.cl.BindSRV(stage, slot, c.subView("BindResource", v.SRV, v.SubSRV, sub))
}

// BindResources binds the shader resource views of rs to
// consecutive slots starting at first.
func (c *CmdList) BindResources(stage driver.Stage, rs []Resource, first int) {
	for i, r := range rs {
		c.BindResource(stage, r, first+i)
	}
}

// UnbindResources unbinds n shader resource slots
// starting at first.
func (c *CmdList) UnbindResources(stage driver.Stage, first, n int) {
	for i := range n {
		c.BindResource(stage, nil, first+i)
	}
}

// BindUAV binds the unordered access view of r.
// A nil r unbinds the slot.
func (c *CmdList) BindUAV(stage driver.Stage, r Resource, slot int) {
	c.BindUAVSub(stage, r, slot, -1)
}

// BindUAVSub binds the sub view sub of r.
func (c *CmdList) BindUAVSub(stage driver.Stage, r Resource, slot, sub int) {
	if !c.ok("BindUAV") || !c.slot("BindUAV", slot, driver.MaxUAVs) {
		return
	}
	v := views(r)
	c.cl.BindUAV(stage, slot, c.subView("BindUAV", v.UAV, v.SubUAV, sub))
}

// BindUAVs binds the unordered access views of rs to
// consecutive slots starting at first.
func (c *CmdList) BindUAVs(stage driver.Stage, rs []Resource, first int) {
	for i, r := range rs {
		c.BindUAV(stage, r, first+i)
	}
}

// UnbindUAVs unbinds n unordered access slots starting at
// first.
func (c *CmdList) UnbindUAVs(stage driver.Stage, first, n int) {
	for i := range n {
		c.BindUAV(stage, nil, first+i)
	}
}

// BindSampler binds a sampler. A nil s unbinds the slot.
func (c *CmdList) BindSampler(stage driver.Stage, s *Sampler, slot int) {
	if !c.ok("BindSampler") || !c.slot("BindSampler", slot, driver.MaxSamplers) {
		return
	}
	var h driver.Handle
	if s != nil && s.s != nil {
		h = s.s.Handle()
	}
	c.cl.BindSampler(stage, slot, h)
}

// BindConstantBuffer binds the constant buffer view of b.
// A nil b unbinds the slot.
func (c *CmdList) BindConstantBuffer(stage driver.Stage, b *Buffer, slot int) {
	if !c.ok("BindConstantBuffer") || !c.slot("BindConstantBuffer", slot, driver.MaxCBVs) {
		return
	}
	var h driver.Handle
	if b != nil {
		h = b.Views().CBV
	}
	c.cl.BindCBV(stage, slot, h)
}

// BindVertexBuffers binds vertex buffers to consecutive
// slots starting at first. strides and offsets are
// indexed as bufs.
func (c *CmdList) BindVertexBuffers(first int, bufs []*Buffer, strides, offsets []int) {
	if !c.ok("BindVertexBuffers") {
		return
	}
	if first < 0 || first+len(bufs) > driver.MaxVertexBuffers {
		c.d.assert(false, "BindVertexBuffers: slots [%d, %d) out of range", first, first+len(bufs))
		return
	}
	nb := make([]driver.Buffer, len(bufs))
	for i, b := range bufs {
		if b != nil {
			nb[i] = b.b
		}
	}
	c.cl.BindVertexBuffers(first, nb, strides, offsets)
}

// BindIndexBuffer binds the index buffer.
func (c *CmdList) BindIndexBuffer(b *Buffer, format driver.IndexFmt, offset int) {
	if !c.ok("BindIndexBuffer") {
		return
	}
	var nb driver.Buffer
	if b != nil {
		nb = b.b
	}
	c.cl.BindIndexBuffer(nb, format, offset)
}

// BindRenderTargets binds render targets and an optional
// depth/stencil target.
func (c *CmdList) BindRenderTargets(rts []*Texture, ds *Texture) {
	if !c.ok("BindRenderTargets") {
		return
	}
	if len(rts) > driver.MaxRenderTargets {
		c.d.assert(false, "BindRenderTargets: %d render targets", len(rts))
		return
	}
	rtv := make([]driver.Handle, len(rts))
	for i, t := range rts {
		if t != nil {
			rtv[i] = t.Views().RTV
		}
	}
	var dsv driver.Handle
	if ds != nil {
		dsv = ds.Views().DSV
	}
	c.cl.BindRenderTargets(rtv, dsv)
}

// BindViewports sets the viewports.
func (c *CmdList) BindViewports(vp ...driver.Viewport) {
	if c.ok("BindViewports") {
		c.cl.BindViewports(vp)
	}
}

// BindScissorRects sets the scissor rectangles.
func (c *CmdList) BindScissorRects(sc ...driver.Scissor) {
	if c.ok("BindScissorRects") {
		c.cl.BindScissors(sc)
	}
}

// BindStencilRef sets the stencil reference value.
func (c *CmdList) BindStencilRef(ref uint8) {
	if c.ok("BindStencilRef") {
		c.cl.BindStencilRef(ref)
	}
}

// BindBlendFactor sets the blend factor.
func (c *CmdList) BindBlendFactor(f [4]float32) {
	if c.ok("BindBlendFactor") {
		c.cl.BindBlendFactor(f)
	}
}

// BindGraphicsPSO binds a graphics pipeline state.
func (c *CmdList) BindGraphicsPSO(p *PSO) {
	if c.ok("BindGraphicsPSO") {
		c.cl.BindGraphicsPSO(p.p)
	}
}

// BindComputePSO binds a compute pipeline state.
func (c *CmdList) BindComputePSO(p *PSO) {
	if c.ok("BindComputePSO") {
		c.cl.BindComputePSO(p.p)
	}
}

func (c *CmdList) notRecording(what string) error {
	c.d.assert(false, "%s: command list of worker %d is not recording", what, c.worker)
	return errors.Wrapf(driver.ErrDesc, "%s: command list of worker %d is not recording", what, c.worker)
}

// Draw draws non-indexed, non-instanced primitives.
func (c *CmdList) Draw(vertCount, firstVert int) error {
	return c.DrawInstanced(vertCount, 1, firstVert, 0)
}

// DrawIndexed draws indexed, non-instanced primitives.
func (c *CmdList) DrawIndexed(idxCount, firstIdx, baseVert int) error {
	return c.DrawIndexedInstanced(idxCount, 1, firstIdx, baseVert, 0)
}

// DrawInstanced draws non-indexed primitives.
func (c *CmdList) DrawInstanced(vertCount, instCount, firstVert, firstInst int) error {
	if c.state != listRecording {
		return c.notRecording("DrawInstanced")
	}
	return check(c.cl.DrawInstanced(vertCount, instCount, firstVert, firstInst))
}

// DrawIndexedInstanced draws indexed primitives.
func (c *CmdList) DrawIndexedInstanced(idxCount, instCount, firstIdx, baseVert, firstInst int) error {
	if c.state != listRecording {
		return c.notRecording("DrawIndexedInstanced")
	}
	return check(c.cl.DrawIndexedInstanced(idxCount, instCount, firstIdx, baseVert, firstInst))
}

// DrawInstancedIndirect draws non-indexed primitives
// with arguments read from args at offset.
func (c *CmdList) DrawInstancedIndirect(args *Buffer, offset int) error {
	if c.state != listRecording {
		return c.notRecording("DrawInstancedIndirect")
	}
	if !c.d.caps.Has(driver.CapIndirect) {
		return errors.Wrap(driver.ErrDesc, "DrawInstancedIndirect: not supported")
	}
	return check(c.cl.DrawInstancedIndirect(args.b, offset))
}

// DrawIndexedInstancedIndirect draws indexed primitives
// with arguments read from args at offset.
func (c *CmdList) DrawIndexedInstancedIndirect(args *Buffer, offset int) error {
	if c.state != listRecording {
		return c.notRecording("DrawIndexedInstancedIndirect")
	}
	if !c.d.caps.Has(driver.CapIndirect) {
		return errors.Wrap(driver.ErrDesc, "DrawIndexedInstancedIndirect: not supported")
	}
	return check(c.cl.DrawIndexedInstancedIndirect(args.b, offset))
}

// Dispatch dispatches compute thread groups.
func (c *CmdList) Dispatch(x, y, z int) error {
	if c.state != listRecording {
		return c.notRecording("Dispatch")
	}
	return check(c.cl.Dispatch(x, y, z))
}

// DispatchIndirect dispatches compute thread groups with
// arguments read from args at offset.
func (c *CmdList) DispatchIndirect(args *Buffer, offset int) error {
	if c.state != listRecording {
		return c.notRecording("DispatchIndirect")
	}
	if !c.d.caps.Has(driver.CapIndirect) {
		return errors.Wrap(driver.ErrDesc, "DispatchIndirect: not supported")
	}
	return check(c.cl.DispatchIndirect(args.b, offset))
}

// ClearRenderTarget clears the render target view of t.
func (c *CmdList) ClearRenderTarget(t *Texture, color [4]float32) {
	if c.ok("ClearRenderTarget") {
		c.cl.ClearRenderTarget(t.Views().RTV, color)
	}
}

// ClearDepthStencil clears the depth/stencil view of t.
func (c *CmdList) ClearDepthStencil(t *Texture, flags driver.ClearFlag, depth float32, stencil uint8) {
	if c.ok("ClearDepthStencil") {
		c.cl.ClearDepthStencil(t.Views().DSV, flags, depth, stencil)
	}
}

// CopyTexture2D copies every subresource of src to dst.
func (c *CmdList) CopyTexture2D(dst, src *Texture) {
	if c.ok("CopyTexture2D") {
		c.cl.CopyResource(dst.t, src.t)
	}
}

// CopyTexture2DRegion copies mip level srcMip of src to
// mip level dstMip of dst, at texel (x, y).
// Without driver.CapRegionCopy, the whole subresource is
// copied to the origin instead.
func (c *CmdList) CopyTexture2DRegion(dst *Texture, dstMip, x, y int, src *Texture, srcMip int) {
	if !c.ok("CopyTexture2DRegion") {
		return
	}
	if !c.d.caps.Has(driver.CapRegionCopy) {
		if x != 0 || y != 0 {
			Logger().Debug("region copy unsupported, copying to origin", "x", x, "y", y)
		}
		x, y = 0, 0
	}
	c.cl.CopyTextureRegion(dst.t, dstMip, x, y, 0, src.t, srcMip, nil)
}

// CopyBuffer copies size bytes from src at srcOff to dst
// at dstOff.
func (c *CmdList) CopyBuffer(dst *Buffer, dstOff int64, src *Buffer, srcOff, size int64) {
	if c.ok("CopyBuffer") {
		c.cl.CopyBuffer(dst.b, dstOff, src.b, srcOff, size)
	}
}

// UpdateBuffer writes data to b at offset.
// data is copied before UpdateBuffer returns.
func (c *CmdList) UpdateBuffer(b *Buffer, data []byte, offset int64) error {
	if c.state != listRecording {
		return c.notRecording("UpdateBuffer")
	}
	return check(c.cl.UpdateBuffer(b.b, data, offset))
}

// AllocateGPU allocates scratch memory that is valid
// until the frame completes.
func (c *CmdList) AllocateGPU(size int) (driver.Allocation, error) {
	if c.state != listRecording {
		return driver.Allocation{}, c.notRecording("AllocateGPU")
	}
	a, err := c.cl.AllocateGPU(size)
	return a, check(err)
}

// DownloadResource copies src to dst, which must be a
// staging resource with driver.CPURead access. The
// contents can be read with ReadStaging once the GPU
// completes the copy.
func (c *CmdList) DownloadResource(dst, src Resource) error {
	if c.state != listRecording {
		return c.notRecording("DownloadResource")
	}
	var staging bool
	switch x := dst.(type) {
	case *Buffer:
		staging = x.Desc().Usage == driver.UsageStaging && x.Desc().CPUAccess&driver.CPURead != 0
	case *Texture:
		staging = x.Desc().Usage == driver.UsageStaging && x.Desc().CPUAccess&driver.CPURead != 0
	}
	if !staging {
		return errors.Wrapf(driver.ErrNotStaging, "DownloadResource: %T", dst)
	}
	c.cl.CopyResource(dst.Native(), src.Native())
	return nil
}

// TransitionBarrier declares that r changes from state
// before to state after. It does nothing on backends
// that track states by themselves.
func (c *CmdList) TransitionBarrier(r Resource, before, after driver.State) {
	if c.ok("TransitionBarrier") {
		c.cl.Transition(r.Native(), before, after)
	}
}

// UAVBarrier orders unordered accesses to r.
func (c *CmdList) UAVBarrier(r Resource) {
	if c.ok("UAVBarrier") {
		c.cl.UAVBarrier(r.Native())
	}
}

// QueryBegin begins a query.
func (c *CmdList) QueryBegin(q *Query) {
	if c.ok("QueryBegin") {
		c.cl.QueryBegin(q.q)
	}
}

// QueryEnd ends a query.
func (c *CmdList) QueryEnd(q *Query) {
	if c.ok("QueryEnd") {
		c.cl.QueryEnd(q.q)
	}
}

// EventBegin opens a debug event region.
func (c *CmdList) EventBegin(name string) {
	if c.ok("EventBegin") {
		c.cl.EventBegin(name)
	}
}

// EventEnd closes a debug event region.
func (c *CmdList) EventEnd() {
	if c.ok("EventEnd") {
		c.cl.EventEnd()
	}
}

// SetMarker inserts a debug marker.
func (c *CmdList) SetMarker(name string) {
	if c.ok("SetMarker") {
		c.cl.SetMarker(name)
	}
}

func (c *CmdList) finish() error {
	if err := c.cl.End(); err != nil {
		return check(err)
	}
	c.state = listFinished
	return nil
}

// FinishCommandList ends recording of c.
// The list is submitted by the next ExecuteCommandLists
// or PresentEnd.
func (d *Device) FinishCommandList(c *CmdList) error {
	if c.state != listRecording {
		return c.notRecording("FinishCommandList")
	}
	return c.finish()
}

// ExecuteCommandLists submits every command list of the
// frame not yet submitted, in worker order. Lists still
// recording are finished first, so no goroutine may be
// recording when it is called.
func (d *Device) ExecuteCommandLists() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.execute()
}

func (d *Device) execute() error {
	var (
		pend []*CmdList
		cls  []driver.CmdList
	)
	for _, c := range d.lists {
		switch c.state {
		case listSubmitted:
			continue
		case listRecording:
			if err := c.finish(); err != nil {
				return err
			}
		}
		pend = append(pend, c)
		cls = append(cls, c.cl)
	}
	if len(cls) == 0 {
		return nil
	}
	if err := d.gpu.Submit(cls); err != nil {
		return check(err)
	}
	for _, c := range pend {
		c.state = listSubmitted
	}
	Logger().Debug("command lists submitted", "n", len(cls))
	return nil
}
