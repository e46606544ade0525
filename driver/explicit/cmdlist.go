// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package explicit

import (
	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/barrier"
	"gviegas/rhi/internal/conv"
	"gviegas/rhi/internal/refdev"
)

// listState is the recording state of a command list.
type listState int

const (
	stateIdle listState = iota
	stateRecording
	stateEnded
	stateSubmitted
)

func (s listState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRecording:
		return "recording"
	case stateEnded:
		return "ended"
	case stateSubmitted:
		return "submitted"
	}
	return "listState(?)"
}

type vertexBinding struct {
	b      *resource
	size   int64
	stride int
	offset int
}

type indexBinding struct {
	b      *resource
	size   int64
	format driver.IndexFmt
	offset int
}

// cmdList implements driver.CmdList.
// Bindings are kept in the command list and only made
// visible to the device by prepare, immediately before
// the draw or dispatch that needs them.
type cmdList struct {
	d     *Driver
	fr    *frameRes
	cl    *refdev.CmdList
	batch *barrier.Batch
	st    *barrier.State
	state listState

	gfx, cmp *pso
	cur      *refdev.PipelineState
	root     *rootSig

	rtv  [driver.MaxRenderTargets]driver.Handle
	nrtv int
	dsv  driver.Handle
	vbs  [driver.MaxVertexBuffers]vertexBinding
	nvb  int
	ib   indexBinding

	dirtyRT, dirtyVB, dirtyIB bool

	// Reused by prepare.
	reqs map[*resource]refdev.ResourceStates
}

func newCmdList(d *Driver, fr *frameRes) *cmdList {
	c := &cmdList{
		d:    d,
		fr:   fr,
		cl:   d.dev.NewCmdList(refdev.CmdListDirect),
		reqs: make(map[*resource]refdev.ResourceStates),
	}
	c.reset()
	return c
}

// reset clears every binding. It must be called after
// the native command list is reset.
func (c *cmdList) reset() {
	c.batch = barrier.NewBatch(c.cl.ResourceBarrier)
	c.st = barrier.NewState(c.batch)
	c.gfx, c.cmp = nil, nil
	c.cur, c.root = nil, nil
	c.rtv = [driver.MaxRenderTargets]driver.Handle{}
	c.nrtv = 0
	c.dsv = 0
	c.vbs = [driver.MaxVertexBuffers]vertexBinding{}
	c.nvb = 0
	c.ib = indexBinding{}
	c.dirtyRT, c.dirtyVB, c.dirtyIB = false, false, false
}

// recording asserts that c is recording.
func (c *cmdList) recording(what string) bool {
	if c.state == stateRecording {
		return true
	}
	c.d.assert(false, "%s: command list is %v", what, c.state)
	return false
}

func (c *cmdList) notRecording(what string) error {
	return errors.Wrapf(driver.ErrDesc, "%s: command list of worker %d is %v", what, c.fr.worker, c.state)
}

// require makes r satisfy s for the commands that follow.
// Resources in upload and readback heaps never
// transition.
func (c *cmdList) require(r *resource, s refdev.ResourceStates) {
	if r != nil && r.r != nil && r.tracked() {
		c.st.Require(r.r, r.home, s)
	}
}

// Worker returns the worker index of c.
func (c *cmdList) Worker() int { return c.fr.worker }

// Frame returns the frame slot of c.
func (c *cmdList) Frame() int { return c.fr.frame }

func (c *cmdList) bindView(stage driver.Stage, k slotKind, slot int, h driver.Handle) {
	if !c.recording("Bind" + k.String()) {
		return
	}
	hd, _ := c.d.view(k, h)
	c.fr.table.update(stage, k, slot, hd)
}

// BindSRV binds a shader resource view.
func (c *cmdList) BindSRV(stage driver.Stage, slot int, h driver.Handle) {
	c.bindView(stage, kindSRV, slot, h)
}

// BindUAV binds an unordered access view.
func (c *cmdList) BindUAV(stage driver.Stage, slot int, h driver.Handle) {
	c.bindView(stage, kindUAV, slot, h)
}

// BindCBV binds a constant buffer view.
func (c *cmdList) BindCBV(stage driver.Stage, slot int, h driver.Handle) {
	c.bindView(stage, kindCBV, slot, h)
}

// BindSampler binds a sampler.
func (c *cmdList) BindSampler(stage driver.Stage, slot int, h driver.Handle) {
	c.bindView(stage, kindSampler, slot, h)
}

// BindVertexBuffers binds vertex buffers to consecutive
// slots starting at first. A nil buffer unbinds its slot.
func (c *cmdList) BindVertexBuffers(first int, buf []driver.Buffer, stride, offset []int) {
	if !c.recording("BindVertexBuffers") {
		return
	}
	if first < 0 || first+len(buf) > driver.MaxVertexBuffers {
		c.d.assert(false, "vertex buffers [%d, %d) out of range", first, first+len(buf))
		return
	}
	for i, b := range buf {
		v := vertexBinding{}
		if b != nil {
			v.b = c.d.res(b)
			v.size = b.Desc().Size
		}
		if i < len(stride) {
			v.stride = stride[i]
		}
		if i < len(offset) {
			v.offset = offset[i]
		}
		c.vbs[first+i] = v
	}
	c.nvb = max(c.nvb, first+len(buf))
	c.dirtyVB = true
}

// BindIndexBuffer binds the index buffer.
func (c *cmdList) BindIndexBuffer(buf driver.Buffer, format driver.IndexFmt, offset int) {
	if !c.recording("BindIndexBuffer") {
		return
	}
	c.ib = indexBinding{format: format, offset: offset}
	if buf != nil {
		c.ib.b = c.d.res(buf)
		c.ib.size = buf.Desc().Size
	}
	c.dirtyIB = true
}

// BindRenderTargets binds render target and
// depth/stencil views.
func (c *cmdList) BindRenderTargets(rtv []driver.Handle, dsv driver.Handle) {
	if !c.recording("BindRenderTargets") {
		return
	}
	if len(rtv) > driver.MaxRenderTargets {
		c.d.assert(false, "%d render targets", len(rtv))
		return
	}
	for i, h := range rtv {
		c.d.assert(h.Kind() == driver.HeapRTV, "%v bound as render target %d", h, i)
	}
	c.d.assert(dsv.IsNil() || dsv.Kind() == driver.HeapDSV, "%v bound as depth/stencil target", dsv)
	c.nrtv = copy(c.rtv[:], rtv)
	clear(c.rtv[c.nrtv:])
	c.dsv = dsv
	c.dirtyRT = true
}

// BindViewports sets the viewports.
func (c *cmdList) BindViewports(vp []driver.Viewport) {
	if c.recording("BindViewports") {
		c.cl.RSSetViewports(min(len(vp), driver.MaxViewports))
	}
}

// BindScissors sets the scissor rectangles.
func (c *cmdList) BindScissors(sc []driver.Scissor) {
	if c.recording("BindScissors") {
		c.cl.RSSetScissorRects(min(len(sc), driver.MaxViewports))
	}
}

// BindStencilRef sets the stencil reference value.
func (c *cmdList) BindStencilRef(ref uint8) {
	if c.recording("BindStencilRef") {
		c.cl.OMSetStencilRef(ref)
	}
}

// BindBlendFactor sets the blend factor.
func (c *cmdList) BindBlendFactor(f [4]float32) {
	if c.recording("BindBlendFactor") {
		c.cl.OMSetBlendFactor(f)
	}
}

// BindGraphicsPSO binds a graphics pipeline.
func (c *cmdList) BindGraphicsPSO(p driver.PSO) {
	if !c.recording("BindGraphicsPSO") {
		return
	}
	x, _ := p.(*pso)
	c.d.assert(x != nil && !x.compute, "%T bound as graphics pipeline", p)
	c.gfx = x
}

// BindComputePSO binds a compute pipeline.
func (c *cmdList) BindComputePSO(p driver.PSO) {
	if !c.recording("BindComputePSO") {
		return
	}
	x, _ := p.(*pso)
	c.d.assert(x != nil && x.compute, "%T bound as compute pipeline", p)
	c.cmp = x
}

func viewFormat(desc *refdev.Descriptor) gputypes.TextureFormat {
	if desc.Format != gputypes.TextureFormatUndefined || desc.Res == nil {
		return desc.Format
	}
	return desc.Res.TextureDesc().Format
}

// prepare makes the bound state visible to the device
// for a draw (or a dispatch if compute is set).
// It selects the pipeline variant, transitions every
// resource the draw uses, places dirty descriptor tables
// and flushes the barriers.
func (c *cmdList) prepare(what string, compute, indexed bool, args *resource) error {
	if c.state != stateRecording {
		c.d.assert(false, "%s: command list is %v", what, c.state)
		return c.notRecording(what)
	}
	p := c.gfx
	if compute {
		p = c.cmp
	}
	if p == nil {
		return errors.Wrapf(driver.ErrDesc, "%s: no pipeline bound", what)
	}

	rtvs := c.d.heaps[driver.HeapRTV]
	dsvs := c.d.heaps[driver.HeapDSV]
	var ps *refdev.PipelineState
	if compute {
		ps = p.cs
	} else {
		key := targetKey{n: c.nrtv}
		for i, h := range c.rtv[:c.nrtv] {
			_, desc := rtvs.get(h)
			key.rt[i] = viewFormat(&desc)
		}
		if !c.dsv.IsNil() {
			_, desc := dsvs.get(c.dsv)
			key.ds = viewFormat(&desc)
		}
		var err error
		if ps, err = p.pipeline(&key); err != nil {
			return err
		}
	}
	if ps != c.cur {
		c.cl.SetPipelineState(ps)
		if !compute {
			topo, _ := conv.Topology(p.gdesc.Topology)
			c.cl.IASetPrimitiveTopology(topo)
		}
		c.cur = ps
	}
	if p.root != c.root {
		c.root = p.root
		c.fr.table.invalidate()
	}

	// Read states of a resource bound in more than one
	// way are combined.
	reqs := c.reqs
	clear(reqs)
	add := func(r *resource, s refdev.ResourceStates) {
		if r != nil && r.r != nil && r.tracked() {
			reqs[r] |= s
		}
	}
	if !compute {
		var rt [driver.MaxRenderTargets]refdev.Descriptor
		for i, h := range c.rtv[:c.nrtv] {
			var r *resource
			r, rt[i] = rtvs.get(h)
			add(r, refdev.StateRenderTarget)
		}
		var ds *refdev.Descriptor
		if !c.dsv.IsNil() {
			r, desc := dsvs.get(c.dsv)
			add(r, refdev.StateDepthWrite)
			ds = &desc
		}
		for _, v := range c.vbs[:c.nvb] {
			add(v.b, refdev.StateVertexAndConstantBuffer)
		}
		for i, l := range p.input {
			if len(l.Attributes) == 0 {
				continue
			}
			if i >= c.nvb || c.vbs[i].b == nil {
				return errors.Wrapf(driver.ErrDesc, "%s: no vertex buffer bound to input slot %d", what, i)
			}
			if err := driver.CheckStride(i, c.vbs[i].stride, int(l.ArrayStride)); err != nil {
				return errors.Wrap(err, what)
			}
		}
		if indexed {
			if c.ib.b == nil {
				return errors.Wrapf(driver.ErrDesc, "%s: no index buffer bound", what)
			}
			add(c.ib.b, refdev.StateIndexBuffer)
		}
		if c.dirtyRT {
			c.cl.OMSetRenderTargets(rt[:c.nrtv], ds)
			c.dirtyRT = false
		}
		if c.dirtyVB {
			views := make([]refdev.VertexBufferView, c.nvb)
			for i, v := range c.vbs[:c.nvb] {
				if v.b == nil || v.b.r == nil {
					continue
				}
				views[i] = refdev.VertexBufferView{
					Res:    v.b.r,
					Offset: int64(v.offset),
					Size:   v.size - int64(v.offset),
					Stride: v.stride,
				}
			}
			c.cl.IASetVertexBuffers(0, views)
			c.dirtyVB = false
		}
		if c.dirtyIB {
			var view *refdev.IndexBufferView
			if b := c.ib.b; b != nil && b.r != nil {
				view = &refdev.IndexBufferView{
					Res:    b.r,
					Offset: int64(c.ib.offset),
					Size:   c.ib.size - int64(c.ib.offset),
					Format: conv.IndexFormat(c.ib.format),
				}
			}
			c.cl.IASetIndexBuffer(view)
			c.dirtyIB = false
		}
	}
	add(args, refdev.StateIndirectArgument)
	var uavs []*resource
	c.fr.table.resources(p.root, func(_ driver.Stage, k slotKind, r *resource) {
		switch k {
		case kindCBV:
			add(r, refdev.StateVertexAndConstantBuffer)
		case kindSRV:
			add(r, refdev.StateShaderResource)
		case kindUAV:
			if r.r != nil && r.tracked() {
				uavs = append(uavs, r)
			}
		}
	})
	for r, s := range reqs {
		c.st.Require(r.r, r.home, s)
	}
	for _, r := range uavs {
		c.st.Access(r.r, r.home)
	}

	if _, err := c.fr.table.validate(c.cl, p.root, compute); err != nil {
		return err
	}
	c.batch.Flush()
	return nil
}

// DrawInstanced draws non-indexed primitives.
func (c *cmdList) DrawInstanced(vertCount, instCount, firstVert, firstInst int) error {
	if err := c.prepare("DrawInstanced", false, false, nil); err != nil {
		return err
	}
	c.cl.DrawInstanced(vertCount, instCount, firstVert, firstInst)
	return nil
}

// DrawIndexedInstanced draws indexed primitives.
func (c *cmdList) DrawIndexedInstanced(idxCount, instCount, firstIdx, baseVert, firstInst int) error {
	if err := c.prepare("DrawIndexedInstanced", false, true, nil); err != nil {
		return err
	}
	c.cl.DrawIndexedInstanced(idxCount, instCount, firstIdx, baseVert, firstInst)
	return nil
}

func (c *cmdList) indirect(what string, kind refdev.IndirectKind, args driver.Buffer, offset int) error {
	r := c.d.res(args)
	if r == nil || r.r == nil {
		return errors.Wrapf(driver.ErrDesc, "%s: no argument buffer", what)
	}
	if b := args.Desc(); b.Misc&driver.MiscIndirectArgs == 0 {
		return errors.Wrapf(driver.ErrDesc, "%s: buffer created without MiscIndirectArgs", what)
	}
	if err := c.prepare(what, kind == refdev.IndirectDispatch, kind == refdev.IndirectDrawIndexed, r); err != nil {
		return err
	}
	c.cl.ExecuteIndirect(kind, r.r, int64(offset))
	return nil
}

// DrawInstancedIndirect draws non-indexed primitives
// with arguments read from args.
func (c *cmdList) DrawInstancedIndirect(args driver.Buffer, offset int) error {
	return c.indirect("DrawInstancedIndirect", refdev.IndirectDraw, args, offset)
}

// DrawIndexedInstancedIndirect draws indexed primitives
// with arguments read from args.
func (c *cmdList) DrawIndexedInstancedIndirect(args driver.Buffer, offset int) error {
	return c.indirect("DrawIndexedInstancedIndirect", refdev.IndirectDrawIndexed, args, offset)
}

// Dispatch dispatches compute thread groups.
func (c *cmdList) Dispatch(x, y, z int) error {
	if err := c.prepare("Dispatch", true, false, nil); err != nil {
		return err
	}
	c.cl.Dispatch(x, y, z)
	return nil
}

// DispatchIndirect dispatches compute thread groups with
// arguments read from args.
func (c *cmdList) DispatchIndirect(args driver.Buffer, offset int) error {
	return c.indirect("DispatchIndirect", refdev.IndirectDispatch, args, offset)
}

// target resolves a render target or depth/stencil view.
func (c *cmdList) target(kind driver.HeapKind, h driver.Handle) (*resource, refdev.Descriptor, bool) {
	if h.IsNil() || h.Kind() != kind {
		c.d.assert(false, "%v is not a %v view", h, kind)
		return nil, refdev.Descriptor{}, false
	}
	r, desc := c.d.heaps[kind].get(h)
	return r, desc, r != nil
}

// ClearRenderTarget clears a render target view.
func (c *cmdList) ClearRenderTarget(rtv driver.Handle, color [4]float32) {
	if !c.recording("ClearRenderTarget") {
		return
	}
	r, desc, ok := c.target(driver.HeapRTV, rtv)
	if !ok {
		return
	}
	c.require(r, refdev.StateRenderTarget)
	c.batch.Flush()
	var x [4]float64
	for i := range x {
		x[i] = float64(color[i])
	}
	c.cl.ClearRenderTargetView(desc, x)
}

// ClearDepthStencil clears a depth/stencil view.
func (c *cmdList) ClearDepthStencil(dsv driver.Handle, flags driver.ClearFlag, depth float32, stencil uint8) {
	if !c.recording("ClearDepthStencil") {
		return
	}
	r, desc, ok := c.target(driver.HeapDSV, dsv)
	if !ok {
		return
	}
	c.require(r, refdev.StateDepthWrite)
	c.batch.Flush()
	var f refdev.ClearFlags
	if flags&driver.ClearDepth != 0 {
		f |= refdev.ClearDepth
	}
	if flags&driver.ClearStencil != 0 {
		f |= refdev.ClearStencil
	}
	c.cl.ClearDepthStencilView(desc, f, depth, stencil)
}

// subresources returns the number of subresources of r
// as seen by copies.
func (r *resource) subresources() int {
	if r.fps != nil {
		return len(r.fps)
	}
	return r.r.Subresources()
}

// CopyResource copies every subresource of src to dst.
func (c *cmdList) CopyResource(dst, src driver.Resource) {
	if !c.recording("CopyResource") {
		return
	}
	d, s := c.d.res(dst), c.d.res(src)
	if d == nil || s == nil || d.r == nil || s.r == nil {
		c.d.assert(false, "CopyResource: destroyed resource")
		return
	}
	c.require(d, refdev.StateCopyDest)
	c.require(s, refdev.StateCopySource)
	c.batch.Flush()
	if d.fps == nil && s.fps == nil {
		c.cl.CopyResource(d.r, s.r)
		return
	}
	n := d.subresources()
	c.d.assert(n == s.subresources(), "CopyResource: %d and %d subresources", n, s.subresources())
	for i := range min(n, s.subresources()) {
		c.cl.CopyTextureRegion(d.location(i), 0, 0, 0, s.location(i), nil)
	}
}

// CopyTextureRegion copies a region of a subresource.
func (c *cmdList) CopyTextureRegion(dst driver.Texture, dstSub, x, y, z int, src driver.Texture, srcSub int, box *driver.Box) {
	if !c.recording("CopyTextureRegion") {
		return
	}
	d, s := c.d.res(dst), c.d.res(src)
	if d == nil || s == nil || d.r == nil || s.r == nil {
		c.d.assert(false, "CopyTextureRegion: destroyed resource")
		return
	}
	c.require(d, refdev.StateCopyDest)
	c.require(s, refdev.StateCopySource)
	c.batch.Flush()
	var b *refdev.Box
	if box != nil {
		b = &refdev.Box{
			Left: box.Left, Top: box.Top, Front: box.Front,
			Right: box.Right, Bottom: box.Bottom, Back: box.Back,
		}
	}
	c.cl.CopyTextureRegion(d.location(dstSub), x, y, z, s.location(srcSub), b)
}

// CopyBuffer copies size bytes between buffers.
func (c *cmdList) CopyBuffer(dst driver.Buffer, dstOff int64, src driver.Buffer, srcOff, size int64) {
	if !c.recording("CopyBuffer") {
		return
	}
	d, s := c.d.res(dst), c.d.res(src)
	if d == nil || s == nil || d.r == nil || s.r == nil {
		c.d.assert(false, "CopyBuffer: destroyed resource")
		return
	}
	c.require(d, refdev.StateCopyDest)
	c.require(s, refdev.StateCopySource)
	c.batch.Flush()
	c.cl.CopyBufferRegion(d.r, dstOff, s.r, srcOff, size)
}

// scratch allocates per-frame upload memory, falling back
// to a dedicated buffer when the linear allocator is
// full.
func (c *cmdList) scratch(size, align int) (*buffer, int, []byte, error) {
	if off, mem, ok := c.fr.scratch.Allocate(size, align); ok {
		return c.fr.scratchBuf, off, mem, nil
	}
	b, err := c.d.newTransient(size)
	if err != nil {
		return nil, 0, nil, err
	}
	mem, _ := b.r.Map(0)
	return b, 0, mem, nil
}

// UpdateBuffer writes data to dst at offset through the
// scratch memory of the frame.
func (c *cmdList) UpdateBuffer(dst driver.Buffer, data []byte, offset int64) error {
	if c.state != stateRecording {
		c.d.assert(false, "UpdateBuffer: command list is %v", c.state)
		return c.notRecording("UpdateBuffer")
	}
	d := c.d.res(dst)
	if d == nil || d.r == nil {
		return errors.Wrap(driver.ErrDesc, "UpdateBuffer: destroyed buffer")
	}
	if size := dst.Desc().Size; offset < 0 || offset+int64(len(data)) > size {
		return errors.Wrapf(driver.ErrDesc, "UpdateBuffer: %d bytes at %d, buffer size is %d", len(data), offset, size)
	}
	if !d.tracked() {
		return errors.Wrap(driver.ErrDesc, "UpdateBuffer: staging buffer")
	}
	if len(data) == 0 {
		return nil
	}
	src, off, mem, err := c.scratch(len(data), 16)
	if err != nil {
		return err
	}
	copy(mem, data)
	c.require(d, refdev.StateCopyDest)
	c.batch.Flush()
	c.cl.CopyBufferRegion(d.r, offset, src.r, int64(off), int64(len(data)))
	return nil
}

// AllocateGPU allocates per-frame scratch memory.
func (c *cmdList) AllocateGPU(size int) (driver.Allocation, error) {
	if c.state != stateRecording {
		c.d.assert(false, "AllocateGPU: command list is %v", c.state)
		return driver.Allocation{}, c.notRecording("AllocateGPU")
	}
	if size <= 0 {
		return driver.Allocation{}, errors.Wrapf(driver.ErrDesc, "AllocateGPU: size %d", size)
	}
	b, off, mem, err := c.scratch(size, c.d.caps.ConstantAlign)
	if err != nil {
		return driver.Allocation{}, err
	}
	return driver.Allocation{Buffer: b, Offset: off, Data: mem}, nil
}

// Transition declares a state transition of r.
// The state before is only checked in debug mode, since
// the tracker already knows it.
func (c *cmdList) Transition(r driver.Resource, before, after driver.State) {
	if !c.recording("Transition") {
		return
	}
	x := c.d.res(r)
	if x == nil || x.r == nil || !x.tracked() {
		return
	}
	prev := c.st.Set(x.r, x.home, conv.State(after))
	if c.d.cfg.Debug && prev != conv.State(before) {
		driver.Logger().Warn("transition from unexpected state",
			"resource", x.r.String(),
			"declared", before.String(),
			"tracked", prev.String())
	}
}

// UAVBarrier orders unordered accesses to r.
func (c *cmdList) UAVBarrier(r driver.Resource) {
	if !c.recording("UAVBarrier") {
		return
	}
	if x := c.d.res(r); x != nil && x.r != nil && x.tracked() {
		c.st.UAV(x.r)
	}
}

// QueryBegin begins an occlusion query.
// Other query types are only ended.
func (c *cmdList) QueryBegin(q driver.Query) {
	if !c.recording("QueryBegin") {
		return
	}
	x, _ := q.(*query)
	if x == nil || x.heap == nil {
		c.d.assert(false, "QueryBegin: %T", q)
		return
	}
	if !x.occlusion() {
		return
	}
	x.heap.Reset(0)
	c.cl.BeginQuery(x.heap, 0)
}

// QueryEnd ends a query.
func (c *cmdList) QueryEnd(q driver.Query) {
	if !c.recording("QueryEnd") {
		return
	}
	x, _ := q.(*query)
	if x == nil || x.heap == nil {
		c.d.assert(false, "QueryEnd: %T", q)
		return
	}
	if !x.occlusion() {
		x.heap.Reset(0)
	}
	c.cl.EndQuery(x.heap, 0)
}

// EventBegin opens a debug event region.
func (c *cmdList) EventBegin(name string) {
	if c.recording("EventBegin") {
		c.cl.BeginEvent(name)
	}
}

// EventEnd closes a debug event region.
func (c *cmdList) EventEnd() {
	if c.recording("EventEnd") {
		c.cl.EndEvent()
	}
}

// SetMarker inserts a debug marker.
func (c *cmdList) SetMarker(name string) {
	if c.recording("SetMarker") {
		c.cl.SetMarker(name)
	}
}

// End restores every resource used to its home state
// and ends recording.
func (c *cmdList) End() error {
	if c.state != stateRecording {
		c.d.assert(false, "End: command list is %v", c.state)
		return c.notRecording("End")
	}
	c.st.Restore()
	if err := c.cl.Close(); err != nil {
		return err
	}
	c.state = stateEnded
	return nil
}
