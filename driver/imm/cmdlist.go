// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package imm

import (
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/barrier"
	"gviegas/rhi/internal/conv"
	"gviegas/rhi/internal/refdev"
)

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
	b      *buffer
	stride int
	offset int
}

// cmdList implements driver.CmdList.
// It plays the part of a deferred context: commands are
// recorded as issued and bindings are resolved to
// descriptors right before each draw or dispatch.
type cmdList struct {
	d      *Driver
	frame  int
	worker int
	cl     *refdev.CmdList
	state  listState
	began  uint64
	// The device tracks states by itself.
	tr barrier.Tracker

	slots [driver.Stages][numKinds][driver.MaxSRVs]driver.Handle
	// Number of slots that were ever bound, per stage
	// and kind.
	top [driver.Stages][numKinds]int
	// Slots holding views of dynamic buffers, which are
	// resolved again on every draw.
	dynMask [driver.Stages][numKinds]uint64
	dirty   [driver.Stages][numKinds]bool

	gfx, cmp *pso
	cur      *refdev.PipelineState

	rtv  [driver.MaxRenderTargets]driver.Handle
	nrtv int
	dsv  driver.Handle
	vbs  [driver.MaxVertexBuffers]vertexBinding
	nvb  int
	ib   vertexBinding
	ibf  driver.IndexFmt

	dirtyRT, dirtyVB, dirtyIB bool
}

func newCmdList(d *Driver, frame, worker int) *cmdList {
	return &cmdList{
		d:      d,
		frame:  frame,
		worker: worker,
		cl:     d.dev.NewCmdList(refdev.CmdListDirect),
		tr:     barrier.Nop{},
	}
}

// begin prepares c for recording in the current frame.
func (c *cmdList) begin() error {
	if c.state == stateRecording {
		driver.Logger().Warn("command list discarded without End", "frame", c.frame, "worker", c.worker)
	}
	if err := c.cl.Reset(); err != nil {
		return removed(err)
	}
	*c = cmdList{
		d:      c.d,
		frame:  c.frame,
		worker: c.worker,
		cl:     c.cl,
		tr:     c.tr,
		state:  stateRecording,
		began:  c.d.pacer.Count() + 1,
	}
	return nil
}

// CmdList returns the command list of worker for the
// current frame.
func (d *Driver) CmdList(worker int) (driver.CmdList, error) {
	if worker < 0 || worker >= d.cfg.Workers {
		return nil, errors.Wrapf(driver.ErrDesc, "worker %d out of [0, %d)", worker, d.cfg.Workers)
	}
	c := d.lists[d.pacer.Index()][worker]
	if c.began != d.pacer.Count()+1 {
		if err := c.begin(); err != nil {
			return nil, err
		}
		return c, nil
	}
	if c.state != stateRecording {
		return nil, errors.Wrapf(driver.ErrDesc, "command list of worker %d already %v this frame", worker, c.state)
	}
	return c, nil
}

func (c *cmdList) recording(what string) bool {
	if c.state == stateRecording {
		return true
	}
	c.d.assert(false, "%s: command list is %v", what, c.state)
	return false
}

func (c *cmdList) notRecording(what string) error {
	return errors.Wrapf(driver.ErrDesc, "%s: command list of worker %d is %v", what, c.worker, c.state)
}

// Worker returns the worker index of c.
func (c *cmdList) Worker() int { return c.worker }

// Frame returns the frame slot of c.
func (c *cmdList) Frame() int { return c.frame }

func (c *cmdList) bind(stage driver.Stage, k slotKind, slot int, h driver.Handle) {
	if !c.recording("Bind" + k.String()) {
		return
	}
	if stage < 0 || stage >= driver.Stages || slot < 0 || slot >= slotCounts[k] {
		c.d.assert(false, "%v slot %d of %v out of range", k, slot, stage)
		return
	}
	p := &c.slots[stage][k][slot]
	if *p == h {
		return
	}
	*p = h
	c.top[stage][k] = max(c.top[stage][k], slot+1)
	c.dirty[stage][k] = true
	bit := uint64(1) << slot
	c.dynMask[stage][k] &^= bit
	if !h.IsNil() && k != kindSampler && h.Kind() == driver.HeapResource {
		if v := c.d.heaps[driver.HeapResource].t.Get(h); v.r != nil && v.r.dyn != nil {
			c.dynMask[stage][k] |= bit
		}
	}
}

// BindSRV binds a shader resource view.
func (c *cmdList) BindSRV(stage driver.Stage, slot int, h driver.Handle) {
	c.bind(stage, kindSRV, slot, h)
}

// BindUAV binds an unordered access view.
func (c *cmdList) BindUAV(stage driver.Stage, slot int, h driver.Handle) {
	c.bind(stage, kindUAV, slot, h)
}

// BindCBV binds a constant buffer view.
func (c *cmdList) BindCBV(stage driver.Stage, slot int, h driver.Handle) {
	c.bind(stage, kindCBV, slot, h)
}

// BindSampler binds a sampler.
func (c *cmdList) BindSampler(stage driver.Stage, slot int, h driver.Handle) {
	c.bind(stage, kindSampler, slot, h)
}

func (c *cmdList) buffer(b driver.Buffer) *buffer {
	if b == nil {
		return nil
	}
	x, _ := b.(*buffer)
	c.d.assert(x != nil, "foreign buffer %T", b)
	return x
}

// BindVertexBuffers binds vertex buffers to consecutive
// slots starting at first.
func (c *cmdList) BindVertexBuffers(first int, buf []driver.Buffer, stride, offset []int) {
	if !c.recording("BindVertexBuffers") {
		return
	}
	if first < 0 || first+len(buf) > driver.MaxVertexBuffers {
		c.d.assert(false, "vertex buffers [%d, %d) out of range", first, first+len(buf))
		return
	}
	for i, b := range buf {
		v := vertexBinding{b: c.buffer(b)}
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
	c.ib = vertexBinding{b: c.buffer(buf), offset: offset}
	c.ibf = format
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

// location returns where the contents of b currently
// are.
func (b *buffer) location() (*refdev.Resource, int64) {
	if b.dyn != nil {
		return b.dyn.cur.res, b.dyn.cur.off
	}
	return b.r, 0
}

func (v *vertexBinding) dynamic() bool { return v.b != nil && v.b.dyn != nil }

// prepare resolves the bindings the pipeline reads and
// records them.
func (c *cmdList) prepare(what string, compute, indexed bool) error {
	if c.state != stateRecording {
		c.d.assert(false, "%s: command list is %v", what, c.state)
		return c.notRecording(what)
	}
	p := c.gfx
	if compute {
		p = c.cmp
	}
	if p == nil || p.ps == nil {
		return errors.Wrapf(driver.ErrDesc, "%s: no pipeline bound", what)
	}
	if p.ps != c.cur {
		c.cl.SetPipelineState(p.ps)
		if !compute {
			c.cl.IASetPrimitiveTopology(p.topo)
		}
		c.cur = p.ps
	}
	for _, s := range p.stages {
		for k := kindCBV; k < numKinds; k++ {
			n := c.top[s][k]
			if n == 0 || !c.dirty[s][k] && c.dynMask[s][k] == 0 {
				continue
			}
			descs := make([]refdev.Descriptor, n)
			for i, h := range c.slots[s][k][:n] {
				descs[i], _ = c.d.resolve(k.heap(), k.desc(), h)
			}
			c.cl.SetDescriptors(conv.Stage(s), k.desc(), 0, descs)
			c.dirty[s][k] = false
		}
	}
	if compute {
		c.tr.Flush()
		return nil
	}
	if err := c.checkPSO(what, p); err != nil {
		return err
	}

	if c.dirtyRT {
		rtv := make([]refdev.Descriptor, c.nrtv)
		for i, h := range c.rtv[:c.nrtv] {
			rtv[i], _ = c.d.resolve(driver.HeapRTV, refdev.DescRTV, h)
		}
		var dsv *refdev.Descriptor
		if !c.dsv.IsNil() {
			x, _ := c.d.resolve(driver.HeapDSV, refdev.DescDSV, c.dsv)
			dsv = &x
		}
		c.cl.OMSetRenderTargets(rtv, dsv)
		c.dirtyRT = false
	}
	dynVB := false
	for i := range c.vbs[:c.nvb] {
		dynVB = dynVB || c.vbs[i].dynamic()
	}
	if c.dirtyVB || dynVB {
		views := make([]refdev.VertexBufferView, c.nvb)
		for i, v := range c.vbs[:c.nvb] {
			if v.b == nil || v.b.r == nil {
				continue
			}
			res, off := v.b.location()
			views[i] = refdev.VertexBufferView{
				Res:    res,
				Offset: off + int64(v.offset),
				Size:   v.b.desc.Size - int64(v.offset),
				Stride: v.stride,
			}
		}
		c.cl.IASetVertexBuffers(0, views)
		c.dirtyVB = false
	}
	if indexed && (c.ib.b == nil || c.ib.b.r == nil) {
		return errors.Wrapf(driver.ErrDesc, "%s: no index buffer bound", what)
	}
	if c.dirtyIB || c.ib.dynamic() {
		var view *refdev.IndexBufferView
		if b := c.ib.b; b != nil && b.r != nil {
			res, off := b.location()
			view = &refdev.IndexBufferView{
				Res:    res,
				Offset: off + int64(c.ib.offset),
				Size:   b.desc.Size - int64(c.ib.offset),
				Format: conv.IndexFormat(c.ibf),
			}
		}
		c.cl.IASetIndexBuffer(view)
		c.dirtyIB = false
	}
	c.tr.Flush()
	return nil
}

// checkPSO checks that the bound targets and vertex
// buffers suit the graphics pipeline p.
func (c *cmdList) checkPSO(what string, p *pso) error {
	if p.blend > c.nrtv {
		return errors.Wrapf(driver.ErrDesc, "%s: blend state for %d render targets, %d bound", what, p.blend, c.nrtv)
	}
	if p.depth || p.stencil {
		ds := gputypes.TextureFormatUndefined
		if !c.dsv.IsNil() {
			desc, _ := c.d.resolve(driver.HeapDSV, refdev.DescDSV, c.dsv)
			if ds = desc.Format; ds == gputypes.TextureFormatUndefined && desc.Res != nil {
				ds = desc.Res.TextureDesc().Format
			}
		}
		if p.depth && !refdev.IsDepth(ds) {
			return errors.Wrapf(driver.ErrDesc, "%s: depth test without a depth/stencil target", what)
		}
		if p.stencil && !refdev.HasStencil(ds) {
			return errors.Wrapf(driver.ErrDesc, "%s: stencil test without a stencil target (depth/stencil format %v)", what, ds)
		}
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
	return nil
}

// DrawInstanced draws non-indexed primitives.
func (c *cmdList) DrawInstanced(vertCount, instCount, firstVert, firstInst int) error {
	if err := c.prepare("DrawInstanced", false, false); err != nil {
		return err
	}
	c.cl.DrawInstanced(vertCount, instCount, firstVert, firstInst)
	return nil
}

// DrawIndexedInstanced draws indexed primitives.
func (c *cmdList) DrawIndexedInstanced(idxCount, instCount, firstIdx, baseVert, firstInst int) error {
	if err := c.prepare("DrawIndexedInstanced", false, true); err != nil {
		return err
	}
	c.cl.DrawIndexedInstanced(idxCount, instCount, firstIdx, baseVert, firstInst)
	return nil
}

func (c *cmdList) indirect(what string, kind refdev.IndirectKind, args driver.Buffer, offset int) error {
	b := c.buffer(args)
	if b == nil || b.r == nil {
		return errors.Wrapf(driver.ErrDesc, "%s: no argument buffer", what)
	}
	if b.desc.Misc&driver.MiscIndirectArgs == 0 {
		return errors.Wrapf(driver.ErrDesc, "%s: buffer created without MiscIndirectArgs", what)
	}
	if err := c.prepare(what, kind == refdev.IndirectDispatch, kind == refdev.IndirectDrawIndexed); err != nil {
		return err
	}
	res, off := b.location()
	c.cl.ExecuteIndirect(kind, res, off+int64(offset))
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
	if err := c.prepare("Dispatch", true, false); err != nil {
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

// ClearRenderTarget clears a render target view.
func (c *cmdList) ClearRenderTarget(rtv driver.Handle, color [4]float32) {
	if !c.recording("ClearRenderTarget") {
		return
	}
	desc, r := c.d.resolve(driver.HeapRTV, refdev.DescRTV, rtv)
	if r == nil {
		c.d.assert(false, "ClearRenderTarget: %v is not a render target view", rtv)
		return
	}
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
	desc, r := c.d.resolve(driver.HeapDSV, refdev.DescDSV, dsv)
	if r == nil {
		c.d.assert(false, "ClearDepthStencil: %v is not a depth/stencil view", dsv)
		return
	}
	var f refdev.ClearFlags
	if flags&driver.ClearDepth != 0 {
		f |= refdev.ClearDepth
	}
	if flags&driver.ClearStencil != 0 {
		f |= refdev.ClearStencil
	}
	c.cl.ClearDepthStencilView(desc, f, depth, stencil)
}

// operands resolves the operands of a copy. The
// destination must not be a dynamic buffer.
func (c *cmdList) operands(what string, dst, src driver.Resource) (d, s *resource, ok bool) {
	d, s = c.d.res(dst), c.d.res(src)
	switch {
	case d == nil || s == nil || d.r == nil || s.r == nil:
		c.d.assert(false, "%s: destroyed resource", what)
		return nil, nil, false
	case d.dyn != nil:
		c.d.assert(false, "%s: dynamic buffers cannot be written by the GPU", what)
		return nil, nil, false
	}
	return d, s, true
}

// CopyResource copies every subresource of src to dst.
func (c *cmdList) CopyResource(dst, src driver.Resource) {
	if !c.recording("CopyResource") {
		return
	}
	d, s, ok := c.operands("CopyResource", dst, src)
	if !ok {
		return
	}
	if s.dyn != nil {
		b := src.(*buffer)
		res, off := b.location()
		c.cl.CopyBufferRegion(d.r, 0, res, off, b.desc.Size)
		return
	}
	c.cl.CopyResource(d.r, s.r)
}

var regionOnce sync.Once

// CopyTextureRegion copies a subresource.
// Region copies are not supported: the whole subresource
// is copied instead.
func (c *cmdList) CopyTextureRegion(dst driver.Texture, dstSub, x, y, z int, src driver.Texture, srcSub int, box *driver.Box) {
	if !c.recording("CopyTextureRegion") {
		return
	}
	d, s, ok := c.operands("CopyTextureRegion", dst, src)
	if !ok {
		return
	}
	if box != nil || x != 0 || y != 0 || z != 0 {
		regionOnce.Do(func() {
			driver.Logger().Warn("region copies not supported, copying whole subresources")
		})
	}
	c.cl.CopyTextureRegion(
		refdev.CopyLocation{Res: d.r, Sub: dstSub}, 0, 0, 0,
		refdev.CopyLocation{Res: s.r, Sub: srcSub}, nil)
}

// CopyBuffer copies size bytes between buffers.
func (c *cmdList) CopyBuffer(dst driver.Buffer, dstOff int64, src driver.Buffer, srcOff, size int64) {
	if !c.recording("CopyBuffer") {
		return
	}
	d, _, ok := c.operands("CopyBuffer", dst, src)
	if !ok {
		return
	}
	res, off := c.buffer(src).location()
	c.cl.CopyBufferRegion(d.r, dstOff, res, off+srcOff, size)
}

// UpdateBuffer writes data to dst at offset.
// Dynamic buffers are renamed: a new version of their
// contents is allocated in the dynamic ring.
func (c *cmdList) UpdateBuffer(dst driver.Buffer, data []byte, offset int64) error {
	if c.state != stateRecording {
		c.d.assert(false, "UpdateBuffer: command list is %v", c.state)
		return c.notRecording("UpdateBuffer")
	}
	b := c.buffer(dst)
	if b == nil || b.r == nil {
		return errors.Wrap(driver.ErrDesc, "UpdateBuffer: destroyed buffer")
	}
	if offset < 0 || offset+int64(len(data)) > b.desc.Size {
		return errors.Wrapf(driver.ErrDesc, "UpdateBuffer: %d bytes at %d, buffer size is %d", len(data), offset, b.desc.Size)
	}
	switch {
	case len(data) == 0:
		return nil
	case b.dyn != nil:
		return b.update(data, offset)
	case b.staging() || b.desc.Usage == driver.UsageImmutable:
		return errors.Wrapf(driver.ErrDesc, "UpdateBuffer: buffer usage %d", b.desc.Usage)
	}
	box := &refdev.Box{Left: int(offset), Right: int(offset) + len(data), Bottom: 1, Back: 1}
	c.cl.UpdateSubresource(b.r, 0, box, data, 0, 0)
	return nil
}

// AllocateGPU allocates memory from the dynamic ring.
func (c *cmdList) AllocateGPU(size int) (driver.Allocation, error) {
	if c.state != stateRecording {
		c.d.assert(false, "AllocateGPU: command list is %v", c.state)
		return driver.Allocation{}, c.notRecording("AllocateGPU")
	}
	if size <= 0 {
		return driver.Allocation{}, errors.Wrapf(driver.ErrDesc, "AllocateGPU: size %d", size)
	}
	v, b, err := c.d.dyn.alloc(int64(size))
	if err != nil {
		return driver.Allocation{}, err
	}
	return driver.Allocation{Buffer: b, Offset: int(v.off), Data: v.mem}, nil
}

// Transition is a no-op beyond validation, since the
// device tracks states by itself.
func (c *cmdList) Transition(r driver.Resource, before, after driver.State) {
	if !c.recording("Transition") {
		return
	}
	if x := c.d.res(r); x != nil && x.r != nil {
		c.tr.Transition(x.r, refdev.AllSubresources, conv.State(before), conv.State(after))
	}
}

// UAVBarrier is a no-op beyond validation.
func (c *cmdList) UAVBarrier(r driver.Resource) {
	if !c.recording("UAVBarrier") {
		return
	}
	if x := c.d.res(r); x != nil && x.r != nil {
		c.tr.UAV(x.r)
	}
}

// QueryBegin begins an occlusion query.
func (c *cmdList) QueryBegin(q driver.Query) {
	if !c.recording("QueryBegin") {
		return
	}
	x, _ := q.(*query)
	if x == nil || x.heap == nil {
		c.d.assert(false, "QueryBegin: %T", q)
		return
	}
	if x.occlusion() {
		x.heap.Reset(0)
		c.cl.BeginQuery(x.heap, 0)
	}
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

// End ends recording.
func (c *cmdList) End() error {
	if c.state != stateRecording {
		c.d.assert(false, "End: command list is %v", c.state)
		return c.notRecording("End")
	}
	c.tr.Flush()
	if err := c.cl.Close(); err != nil {
		return err
	}
	c.state = stateEnded
	return nil
}
