// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package refdev

import (
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
)

// CmdListType is the type of command lists and queues.
type CmdListType int

// Command list types.
const (
	// Direct lists accept every command.
	CmdListDirect CmdListType = iota
	// Copy lists accept copies and barriers only.
	CmdListCopy
)

// CmdList records commands for later execution in a
// Queue. Recording is not thread-safe: a CmdList must
// only be used by one goroutine at a time.
type CmdList struct {
	dev     *Device
	typ     CmdListType
	cmds    []func(*execState)
	closed  bool
	pending atomic.Int32
}

// NewCmdList creates a new command list in the recording
// state.
func (d *Device) NewCmdList(typ CmdListType) *CmdList {
	return &CmdList{dev: d, typ: typ}
}

// Type returns the command list type.
func (cl *CmdList) Type() CmdListType { return cl.typ }

// Len returns the number of commands recorded.
func (cl *CmdList) Len() int { return len(cl.cmds) }

// Close ends recording.
func (cl *CmdList) Close() error {
	if cl.closed {
		return errors.Wrap(ErrInvalid, "command list already closed")
	}
	cl.closed = true
	return nil
}

// Reset discards recorded commands and begins a new
// recording. It fails with ErrInFlight if a previous
// execution of cl has not completed.
func (cl *CmdList) Reset() error {
	if cl.pending.Load() > 0 {
		return ErrInFlight
	}
	clear(cl.cmds)
	cl.cmds = cl.cmds[:0]
	cl.closed = false
	return nil
}

// InFlight returns whether cl has executions pending.
func (cl *CmdList) InFlight() bool { return cl.pending.Load() > 0 }

func (cl *CmdList) record(name string, copyOK bool, f func(*execState)) {
	if cl.closed {
		cl.dev.violate("%s: recording on a closed command list", name)
		return
	}
	if !copyOK && cl.typ == CmdListCopy {
		cl.dev.violate("%s: not allowed on a copy command list", name)
		return
	}
	cl.cmds = append(cl.cmds, f)
}

// BarrierType is the type of resource barriers.
type BarrierType int

// Barrier types.
const (
	BarrierTransition BarrierType = iota
	BarrierUAV
)

// ResourceBarrier describes a resource barrier.
// States are tracked per resource; Sub is validated
// but transitions apply to the whole resource.
type ResourceBarrier struct {
	Type   BarrierType
	Res    *Resource
	Sub    int
	Before ResourceStates
	After  ResourceStates
}

// ResourceBarrier records barriers.
func (cl *CmdList) ResourceBarrier(b []ResourceBarrier) {
	if len(b) == 0 {
		return
	}
	b = append([]ResourceBarrier(nil), b...)
	cl.record("ResourceBarrier", true, func(x *execState) { x.barrier(b) })
}

// Box is a region of a subresource, in texels.
// Right, Bottom and Back are exclusive.
type Box struct {
	Left, Top, Front    int
	Right, Bottom, Back int
}

// CopyLocation identifies either a texture subresource
// (Footprint is nil) or a subresource placed in a buffer.
type CopyLocation struct {
	Res       *Resource
	Sub       int
	Footprint *PlacedFootprint
}

// CopyBufferRegion records a buffer copy.
func (cl *CmdList) CopyBufferRegion(dst *Resource, dstOff int64, src *Resource, srcOff, n int64) {
	cl.record("CopyBufferRegion", true, func(x *execState) { x.copyBuffer(dst, dstOff, src, srcOff, n) })
}

// CopyTextureRegion records a copy between texture
// subresources and/or placed footprints. A nil box copies
// the whole source.
func (cl *CmdList) CopyTextureRegion(dst CopyLocation, dx, dy, dz int, src CopyLocation, box *Box) {
	if dst.Footprint != nil {
		fp := *dst.Footprint
		dst.Footprint = &fp
	}
	if src.Footprint != nil {
		fp := *src.Footprint
		src.Footprint = &fp
	}
	var b *Box
	if box != nil {
		bx := *box
		b = &bx
	}
	cl.record("CopyTextureRegion", true, func(x *execState) { x.copyRegion(dst, dx, dy, dz, src, b) })
}

// CopyResource records a copy of every subresource.
// Both resources must have the same description.
func (cl *CmdList) CopyResource(dst, src *Resource) {
	cl.record("CopyResource", true, func(x *execState) { x.copyResource(dst, src) })
}

// UpdateSubresource records a write of CPU data into a
// subresource. The data is copied at record time. For
// buffers, box selects a byte range along Left/Right. A
// nil box writes the whole subresource.
func (cl *CmdList) UpdateSubresource(dst *Resource, sub int, box *Box, data []byte, rowPitch, slicePitch int) {
	data = append([]byte(nil), data...)
	var b *Box
	if box != nil {
		bx := *box
		b = &bx
	}
	cl.record("UpdateSubresource", true, func(x *execState) { x.update(dst, sub, b, data, rowPitch, slicePitch) })
}

// ClearRenderTargetView records a clear of a render
// target.
func (cl *CmdList) ClearRenderTargetView(rtv Descriptor, c [4]float64) {
	cl.record("ClearRenderTargetView", false, func(x *execState) { x.clearRTV(rtv, c) })
}

// ClearDepthStencilView records a clear of a depth/stencil
// target.
func (cl *CmdList) ClearDepthStencilView(dsv Descriptor, flags ClearFlags, depth float32, stencil uint8) {
	cl.record("ClearDepthStencilView", false, func(x *execState) { x.clearDSV(dsv, flags, depth, stencil) })
}

// SetDescriptorHeaps sets the shader-visible heaps used by
// root descriptor tables. Either can be nil.
func (cl *CmdList) SetDescriptorHeaps(res, smp *DescriptorHeap) {
	for _, h := range [2]*DescriptorHeap{res, smp} {
		if h != nil && !h.visible {
			cl.dev.violate("SetDescriptorHeaps: heap is not shader visible")
			return
		}
	}
	cl.record("SetDescriptorHeaps", false, func(x *execState) {
		x.resHeap = res
		x.smpHeap = smp
	})
}

// SetGraphicsRootDescriptorTable sets the heap offset of a
// graphics root parameter table.
func (cl *CmdList) SetGraphicsRootDescriptorTable(param, offset int) {
	cl.record("SetGraphicsRootDescriptorTable", false, func(x *execState) { x.setTable(false, param, offset) })
}

// SetComputeRootDescriptorTable sets the heap offset of a
// compute root parameter table.
func (cl *CmdList) SetComputeRootDescriptorTable(param, offset int) {
	cl.record("SetComputeRootDescriptorTable", false, func(x *execState) { x.setTable(true, param, offset) })
}

// SetPipelineState sets the pipeline state.
func (cl *CmdList) SetPipelineState(p *PipelineState) {
	cl.record("SetPipelineState", false, func(x *execState) { x.pso = p })
}

// SetDescriptors binds descriptors directly to shader
// registers of a stage, starting at register first.
// Direct bindings are used by pipelines that have no root
// signature.
func (cl *CmdList) SetDescriptors(stage Stage, kind DescriptorKind, first int, d []Descriptor) {
	d = append([]Descriptor(nil), d...)
	cl.record("SetDescriptors", false, func(x *execState) { x.setDirect(stage, kind, first, d) })
}

// OMSetRenderTargets sets render targets and the depth/stencil
// target. dsv can be nil.
func (cl *CmdList) OMSetRenderTargets(rtv []Descriptor, dsv *Descriptor) {
	rtv = append([]Descriptor(nil), rtv...)
	var ds *Descriptor
	if dsv != nil {
		d := *dsv
		ds = &d
	}
	cl.record("OMSetRenderTargets", false, func(x *execState) {
		x.rtvs = rtv
		x.dsv = ds
	})
}

// VertexBufferView is a range of a buffer used as vertex
// input.
type VertexBufferView struct {
	Res    *Resource
	Offset int64
	Size   int64
	Stride int
}

// IndexBufferView is a range of a buffer used as index
// input.
type IndexBufferView struct {
	Res    *Resource
	Offset int64
	Size   int64
	Format gputypes.IndexFormat
}

// IASetVertexBuffers sets vertex buffers starting at slot
// first. A view with nil Res unbinds the slot.
func (cl *CmdList) IASetVertexBuffers(first int, v []VertexBufferView) {
	v = append([]VertexBufferView(nil), v...)
	cl.record("IASetVertexBuffers", false, func(x *execState) {
		if n := first + len(v); n > len(x.vbs) {
			x.vbs = append(x.vbs, make([]VertexBufferView, n-len(x.vbs))...)
		}
		copy(x.vbs[first:], v)
	})
}

// IASetIndexBuffer sets the index buffer. It can be nil.
func (cl *CmdList) IASetIndexBuffer(v *IndexBufferView) {
	var ib *IndexBufferView
	if v != nil {
		b := *v
		ib = &b
	}
	cl.record("IASetIndexBuffer", false, func(x *execState) { x.ib = ib })
}

// IASetPrimitiveTopology sets the primitive topology.
func (cl *CmdList) IASetPrimitiveTopology(t gputypes.PrimitiveTopology) {
	cl.record("IASetPrimitiveTopology", false, func(x *execState) { x.topology = t })
}

// RSSetViewports sets the number of viewports.
// Rasterization is not emulated, so only the count is
// kept.
func (cl *CmdList) RSSetViewports(n int) {
	cl.record("RSSetViewports", false, func(x *execState) { x.viewports = n })
}

// RSSetScissorRects sets the number of scissor rectangles.
func (cl *CmdList) RSSetScissorRects(n int) {
	cl.record("RSSetScissorRects", false, func(x *execState) { x.scissors = n })
}

// OMSetStencilRef sets the stencil reference value.
func (cl *CmdList) OMSetStencilRef(ref uint8) {
	cl.record("OMSetStencilRef", false, func(x *execState) { x.stencilRef = ref })
}

// OMSetBlendFactor sets the blend factor.
func (cl *CmdList) OMSetBlendFactor(f [4]float32) {
	cl.record("OMSetBlendFactor", false, func(x *execState) { x.blendFactor = f })
}

// DrawInstanced records a non-indexed draw.
func (cl *CmdList) DrawInstanced(vertCount, instCount, firstVert, firstInst int) {
	cl.record("DrawInstanced", false, func(x *execState) {
		x.draw(&DrawInfo{Vertices: vertCount, Instances: instCount})
	})
}

// DrawIndexedInstanced records an indexed draw.
func (cl *CmdList) DrawIndexedInstanced(idxCount, instCount, firstIdx, baseVert, firstInst int) {
	cl.record("DrawIndexedInstanced", false, func(x *execState) {
		x.draw(&DrawInfo{Indexed: true, Vertices: idxCount, Instances: instCount})
	})
}

// Dispatch records a compute dispatch.
func (cl *CmdList) Dispatch(x, y, z int) {
	cl.record("Dispatch", false, func(xs *execState) {
		xs.dispatch(&DrawInfo{Compute: true, Groups: [3]int{x, y, z}})
	})
}

// IndirectKind is the kind of indirect commands.
type IndirectKind int

// Indirect command kinds.
// Arguments are little-endian uint32 values.
const (
	// VertexCountPerInstance, InstanceCount,
	// StartVertexLocation, StartInstanceLocation.
	IndirectDraw IndirectKind = iota
	// IndexCountPerInstance, InstanceCount,
	// StartIndexLocation, BaseVertexLocation,
	// StartInstanceLocation.
	IndirectDrawIndexed
	// ThreadGroupCountX, Y and Z.
	IndirectDispatch
)

// ArgSize returns the size in bytes of the arguments of
// kind k.
func (k IndirectKind) ArgSize() int64 {
	switch k {
	case IndirectDraw:
		return 16
	case IndirectDrawIndexed:
		return 20
	}
	return 12
}

// ExecuteIndirect records a draw or dispatch whose
// arguments are read from a buffer at execution time.
func (cl *CmdList) ExecuteIndirect(kind IndirectKind, args *Resource, offset int64) {
	cl.record("ExecuteIndirect", false, func(x *execState) { x.indirect(kind, args, offset) })
}

// BeginQuery begins an occlusion query.
func (cl *CmdList) BeginQuery(h *QueryHeap, i int) {
	cl.record("BeginQuery", false, func(x *execState) { x.beginQuery(h, i) })
}

// EndQuery ends a query. Timestamp queries are only
// ended.
func (cl *CmdList) EndQuery(h *QueryHeap, i int) {
	cl.record("EndQuery", false, func(x *execState) { x.endQuery(h, i) })
}

// BeginEvent opens a debug event region.
func (cl *CmdList) BeginEvent(name string) {
	cl.record("BeginEvent", true, func(x *execState) { x.events = append(x.events, name) })
}

// EndEvent closes the innermost debug event region.
func (cl *CmdList) EndEvent() {
	cl.record("EndEvent", true, func(x *execState) {
		if len(x.events) == 0 {
			x.dev.violate("EndEvent without BeginEvent")
			return
		}
		x.events = x.events[:len(x.events)-1]
	})
}

// SetMarker inserts a debug marker.
func (cl *CmdList) SetMarker(name string) {
	cl.record("SetMarker", true, func(x *execState) { x.markers++ })
}
