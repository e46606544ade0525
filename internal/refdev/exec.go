// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package refdev

import (
	"encoding/binary"

	"github.com/gogpu/gputypes"
)

// execState is the state of a command list during
// execution. Each execution starts from a clean state.
type execState struct {
	dev *Device

	pso                  *PipelineState
	resHeap, smpHeap     *DescriptorHeap
	gfxTables, cmpTables []int
	direct               [NumStages][4][]Descriptor

	rtvs        []Descriptor
	dsv         *Descriptor
	vbs         []VertexBufferView
	ib          *IndexBufferView
	topology    gputypes.PrimitiveTopology
	viewports   int
	scissors    int
	stencilRef  uint8
	blendFactor [4]float32

	active  map[queryKey]int64
	events  []string
	markers int
}

type queryKey struct {
	h *QueryHeap
	i int
}

func (d *Device) execute(cl *CmdList) {
	x := &execState{dev: d}
	for _, c := range cl.cmds {
		c(x)
	}
	if len(x.active) > 0 {
		d.violate("%d queries left active at the end of a command list", len(x.active))
	}
	d.stats.executed.Add(1)
}

// require checks that r is alive and, in strict mode,
// that its state satisfies req.
func (x *execState) require(r *Resource, req ResourceStates, what string) bool {
	if r == nil {
		x.dev.violate("%s: nil resource", what)
		return false
	}
	if !r.alive() {
		x.dev.violate("%s: %v used after release", what, r)
		return false
	}
	if x.dev.strict {
		if s := r.State(); !s.Has(req) {
			x.dev.violate("%s: %v is in state %v, requires %v", what, r, s, req)
		}
	}
	return true
}

func (x *execState) barrier(bs []ResourceBarrier) {
	x.dev.stats.calls.Add(1)
	for _, b := range bs {
		x.dev.stats.barriers.Add(1)
		r := b.Res
		if r == nil || !r.alive() {
			x.dev.violate("barrier on a released resource")
			continue
		}
		if b.Sub != AllSubresources && (b.Sub < 0 || b.Sub >= r.Subresources()) {
			x.dev.violate("barrier: subresource %d of %v out of range", b.Sub, r)
			continue
		}
		switch b.Type {
		case BarrierUAV:
			if x.dev.strict && !r.State().Has(StateUnorderedAccess) {
				x.dev.violate("UAV barrier on %v in state %v", r, r.State())
			}
		case BarrierTransition:
			if r.heap != HeapDefault {
				x.dev.violate("transition of %v, which is not in a default heap", r)
				continue
			}
			if !b.After.valid() {
				x.dev.violate("transition of %v to invalid state %v", r, b.After)
				continue
			}
			r.mu.Lock()
			cur := r.state
			r.state = b.After
			r.mu.Unlock()
			if x.dev.strict {
				switch {
				case b.Before == b.After:
					x.dev.violate("redundant transition of %v in state %v", r, cur)
				case cur != b.Before:
					x.dev.violate("transition of %v from %v, but it is in state %v", r, b.Before, cur)
				}
			}
		default:
			x.dev.violate("barrier type %d", b.Type)
		}
	}
}

func (x *execState) copyBuffer(dst *Resource, dstOff int64, src *Resource, srcOff, n int64) {
	if !x.require(dst, StateCopyDest, "CopyBufferRegion") || !x.require(src, StateCopySource, "CopyBufferRegion") {
		return
	}
	if !dst.buf || !src.buf {
		x.dev.violate("CopyBufferRegion: texture operand")
		return
	}
	if dstOff < 0 || srcOff < 0 || n < 0 ||
		dstOff+n > int64(len(dst.subs[0])) || srcOff+n > int64(len(src.subs[0])) {
		x.dev.violate("CopyBufferRegion: range out of bounds (dst %d, src %d, size %d)", dstOff, srcOff, n)
		return
	}
	copy(dst.subs[0][dstOff:dstOff+n], src.subs[0][srcOff:srcOff+n])
	x.dev.stats.copies.Add(1)
}

// region is a view of a subresource's memory.
type region struct {
	data    []byte
	base    int64
	bpp     int
	w, h, d int
	pitch   int
}

func (g *region) offset(x, y, z int) int64 {
	return g.base + int64((z*g.h+y)*g.pitch+x*g.bpp)
}

func (x *execState) locate(l CopyLocation, req ResourceStates, what string) (region, bool) {
	r := l.Res
	if !x.require(r, req, what) {
		return region{}, false
	}
	if l.Footprint == nil {
		if r.buf || l.Sub < 0 || l.Sub >= len(r.subs) {
			x.dev.violate("%s: invalid subresource %d of %v", what, l.Sub, r)
			return region{}, false
		}
		w, h, d := r.SubresourceSize(l.Sub)
		return region{data: r.subs[l.Sub], bpp: r.bpp, w: w, h: h, d: d, pitch: w * r.bpp}, true
	}
	fp := l.Footprint
	g := region{
		base:  fp.Offset,
		bpp:   FormatSize(fp.Format),
		w:     fp.Width,
		h:     fp.Height,
		d:     fp.Depth,
		pitch: fp.RowPitch,
	}
	if !r.buf || g.bpp == 0 || g.w <= 0 || g.h <= 0 || g.d <= 0 || g.pitch < g.w*g.bpp {
		x.dev.violate("%s: invalid placed footprint in %v", what, r)
		return region{}, false
	}
	g.data = r.subs[0]
	if end := g.offset(g.w, g.h-1, g.d-1); g.base < 0 || end > int64(len(g.data)) {
		x.dev.violate("%s: placed footprint out of bounds of %v", what, r)
		return region{}, false
	}
	return g, true
}

func (x *execState) copyRegion(dst CopyLocation, dx, dy, dz int, src CopyLocation, box *Box) {
	const what = "CopyTextureRegion"
	sg, ok := x.locate(src, StateCopySource, what)
	if !ok {
		return
	}
	dg, ok := x.locate(dst, StateCopyDest, what)
	if !ok {
		return
	}
	b := Box{Right: sg.w, Bottom: sg.h, Back: sg.d}
	if box != nil {
		b = *box
	}
	bw, bh, bd := b.Right-b.Left, b.Bottom-b.Top, b.Back-b.Front
	switch {
	case sg.bpp != dg.bpp:
		x.dev.violate("%s: texel size mismatch (%d and %d)", what, sg.bpp, dg.bpp)
		return
	case bw <= 0 || bh <= 0 || bd <= 0 || b.Left < 0 || b.Top < 0 || b.Front < 0 ||
		b.Right > sg.w || b.Bottom > sg.h || b.Back > sg.d:
		x.dev.violate("%s: invalid source box %+v", what, b)
		return
	case dx < 0 || dy < 0 || dz < 0 || dx+bw > dg.w || dy+bh > dg.h || dz+bd > dg.d:
		x.dev.violate("%s: destination (%d, %d, %d) out of bounds", what, dx, dy, dz)
		return
	}
	n := int64(bw * sg.bpp)
	for z := 0; z < bd; z++ {
		for y := 0; y < bh; y++ {
			so := sg.offset(b.Left, b.Top+y, b.Front+z)
			do := dg.offset(dx, dy+y, dz+z)
			copy(dg.data[do:do+n], sg.data[so:so+n])
		}
	}
	x.dev.stats.copies.Add(1)
}

func (x *execState) copyResource(dst, src *Resource) {
	const what = "CopyResource"
	if !x.require(dst, StateCopyDest, what) || !x.require(src, StateCopySource, what) {
		return
	}
	if dst == src {
		x.dev.violate("%s: source and destination are the same", what)
		return
	}
	same := dst.buf == src.buf
	if same && dst.buf {
		same = dst.bdesc.Size == src.bdesc.Size
	} else if same {
		dt, st := dst.tdesc, src.tdesc
		same = dt.Size == st.Size && dt.Dimension == st.Dimension &&
			dt.MipLevelCount == st.MipLevelCount && dst.bpp == src.bpp
	}
	if !same {
		x.dev.violate("%s: %v and %v are not compatible", what, dst, src)
		return
	}
	for i := range dst.subs {
		copy(dst.subs[i], src.subs[i])
	}
	x.dev.stats.copies.Add(1)
}

func (x *execState) update(dst *Resource, sub int, box *Box, data []byte, rowPitch, slicePitch int) {
	const what = "UpdateSubresource"
	if !x.require(dst, StateCopyDest, what) {
		return
	}
	if sub < 0 || sub >= len(dst.subs) {
		x.dev.violate("%s: invalid subresource %d of %v", what, sub, dst)
		return
	}
	mem := dst.subs[sub]
	if dst.buf {
		off, end := 0, len(mem)
		if box != nil {
			off, end = box.Left, box.Right
		}
		if off < 0 || end > len(mem) || end-off > len(data) {
			x.dev.violate("%s: range [%d, %d) out of bounds of %v", what, off, end, dst)
			return
		}
		copy(mem[off:end], data)
		x.dev.stats.copies.Add(1)
		return
	}
	w, h, d := dst.SubresourceSize(sub)
	b := Box{Right: w, Bottom: h, Back: d}
	if box != nil {
		b = *box
	}
	bw, bh, bd := b.Right-b.Left, b.Bottom-b.Top, b.Back-b.Front
	if bw <= 0 || bh <= 0 || bd <= 0 || b.Left < 0 || b.Top < 0 || b.Front < 0 ||
		b.Right > w || b.Bottom > h || b.Back > d {
		x.dev.violate("%s: invalid box %+v", what, b)
		return
	}
	n := bw * dst.bpp
	if rowPitch <= 0 {
		rowPitch = n
	}
	if slicePitch <= 0 {
		slicePitch = rowPitch * bh
	}
	if need := (bd-1)*slicePitch + (bh-1)*rowPitch + n; len(data) < need {
		x.dev.violate("%s: %d bytes of data, need %d", what, len(data), need)
		return
	}
	g := region{data: mem, bpp: dst.bpp, w: w, h: h, d: d, pitch: w * dst.bpp}
	for z := 0; z < bd; z++ {
		for y := 0; y < bh; y++ {
			so := z*slicePitch + y*rowPitch
			do := g.offset(b.Left, b.Top+y, b.Front+z)
			copy(mem[do:do+int64(n)], data[so:so+n])
		}
	}
	x.dev.stats.copies.Add(1)
}

// fill replicates the first len(t) bytes of p to the
// whole slice.
func fill(p, t []byte) {
	if len(p) == 0 {
		return
	}
	n := copy(p, t)
	for n < len(p) {
		n += copy(p[n:], p[:n])
	}
}

func viewFormat(d *Descriptor) gputypes.TextureFormat {
	if d.Format != gputypes.TextureFormatUndefined {
		return d.Format
	}
	return d.Res.tdesc.Format
}

func (x *execState) clearRTV(d Descriptor, c [4]float64) {
	const what = "ClearRenderTargetView"
	if d.Kind != DescRTV || d.Null {
		x.dev.violate("%s: not a render target view", what)
		return
	}
	if !x.require(d.Res, StateRenderTarget, what) {
		return
	}
	f := viewFormat(&d)
	t := make([]byte, FormatSize(f))
	if len(t) == 0 || !encodeColor(f, t, c) {
		x.dev.violate("%s: format %v is not renderable", what, f)
		return
	}
	d.Subresources(func(sub int) { fill(d.Res.subs[sub], t) })
	x.dev.stats.clears.Add(1)
}

func (x *execState) clearDSV(d Descriptor, flags ClearFlags, depth float32, stencil uint8) {
	const what = "ClearDepthStencilView"
	if d.Kind != DescDSV || d.Null {
		x.dev.violate("%s: not a depth/stencil view", what)
		return
	}
	if !x.require(d.Res, StateDepthWrite, what) {
		return
	}
	f := viewFormat(&d)
	bpp := FormatSize(f)
	if !IsDepth(f) {
		x.dev.violate("%s: format %v is not a depth format", what, f)
		return
	}
	d.Subresources(func(sub int) {
		mem := d.Res.subs[sub]
		for i := 0; i+bpp <= len(mem); i += bpp {
			encodeDepth(f, mem[i:i+bpp], flags, depth, stencil)
		}
	})
	x.dev.stats.clears.Add(1)
}

func (x *execState) setTable(compute bool, param, offset int) {
	t := &x.gfxTables
	if compute {
		t = &x.cmpTables
	}
	for len(*t) <= param {
		*t = append(*t, -1)
	}
	(*t)[param] = offset
}

func kindIndex(k DescriptorKind) int {
	switch k {
	case DescCBV:
		return 0
	case DescSRV:
		return 1
	case DescUAV:
		return 2
	case DescSampler:
		return 3
	}
	return -1
}

func (x *execState) setDirect(stage Stage, kind DescriptorKind, first int, d []Descriptor) {
	ki := kindIndex(kind)
	if ki < 0 || stage < 0 || stage >= NumStages || first < 0 {
		x.dev.violate("SetDescriptors: invalid binding (%v, %v, %d)", stage, kind, first)
		return
	}
	s := &x.direct[stage][ki]
	if n := first + len(d); n > len(*s) {
		*s = append(*s, make([]Descriptor, n-len(*s))...)
	}
	copy((*s)[first:], d)
}

// resolve returns the descriptor that a shader register
// maps to, or a null descriptor if none is bound.
func (x *execState) resolve(stage Stage, kind DescriptorKind, reg int) Descriptor {
	if x.pso != nil && x.pso.root != nil {
		p, off, ok := x.pso.root.locate(stage, kind, reg)
		if !ok {
			return NullDescriptor(kind)
		}
		tables := x.gfxTables
		if stage == StageCS {
			tables = x.cmpTables
		}
		if p >= len(tables) || tables[p] < 0 {
			return NullDescriptor(kind)
		}
		h := x.resHeap
		if x.pso.root.sampler(p) {
			h = x.smpHeap
		}
		if h == nil || tables[p]+off >= h.Len() {
			return NullDescriptor(kind)
		}
		return h.Read(tables[p] + off)
	}
	ki := kindIndex(kind)
	if ki < 0 || stage < 0 || stage >= NumStages {
		return NullDescriptor(kind)
	}
	if s := x.direct[stage][ki]; reg >= 0 && reg < len(s) && s[reg].Kind != DescNone {
		return s[reg]
	}
	return NullDescriptor(kind)
}

func (x *execState) checkDescriptor(stage Stage, kind DescriptorKind, d Descriptor, what string) {
	if d.Kind == DescNone {
		if x.dev.strict {
			x.dev.violate("%s: uninitialized %v descriptor in %v table", what, kind, stage)
		}
		return
	}
	if d.Kind != kind {
		x.dev.violate("%s: %v descriptor in %v range of %v", what, d.Kind, kind, stage)
		return
	}
	if d.Null || d.Res == nil {
		return
	}
	var req ResourceStates
	switch kind {
	case DescCBV:
		req = StateVertexAndConstantBuffer
	case DescSRV:
		req = StateNonPixelShaderResource
		if stage == StagePS {
			req = StatePixelShaderResource
		}
	case DescUAV:
		req = StateUnorderedAccess
	default:
		return
	}
	x.require(d.Res, req, what)
}

// validate checks the pipeline and its bindings.
func (x *execState) validate(compute bool, what string) bool {
	p := x.pso
	if p == nil {
		x.dev.violate("%s: no pipeline state set", what)
		return false
	}
	if p.compute != compute {
		x.dev.violate("%s: wrong pipeline type bound", what)
		return false
	}
	rs := p.root
	if rs == nil {
		for s := StageVS; s < NumStages; s++ {
			if (s == StageCS) != compute {
				continue
			}
			for ki, ds := range x.direct[s] {
				kind := [...]DescriptorKind{DescCBV, DescSRV, DescUAV, DescSampler}[ki]
				for _, d := range ds {
					if d.Kind != DescNone {
						x.checkDescriptor(s, kind, d, what)
					}
				}
			}
		}
		return true
	}
	tables := x.gfxTables
	if compute {
		tables = x.cmpTables
	}
	for i, prm := range rs.params {
		if (prm.Stage == StageCS) != compute {
			continue
		}
		if i >= len(tables) || tables[i] < 0 {
			if x.dev.strict {
				x.dev.violate("%s: root table %d (%v) not set", what, i, prm.Stage)
			}
			continue
		}
		h := x.resHeap
		if rs.sampler(i) {
			h = x.smpHeap
		}
		if h == nil {
			x.dev.violate("%s: root table %d set without a descriptor heap", what, i)
			return false
		}
		base := tables[i]
		if base < 0 || base+rs.sizes[i] > h.Len() {
			x.dev.violate("%s: root table %d at %d out of heap bounds", what, i, base)
			return false
		}
		off := base
		for _, r := range prm.Ranges {
			for j := 0; j < r.Count; j++ {
				x.checkDescriptor(prm.Stage, r.Kind, h.Read(off+j), what)
			}
			off += r.Count
		}
	}
	return true
}

func (x *execState) draw(info *DrawInfo) {
	what := "Draw"
	if info.Indexed {
		what = "DrawIndexed"
	}
	if !x.validate(false, what) {
		return
	}
	fmts := x.pso.g.RTFormats
	if x.dev.strict && len(x.rtvs) != len(fmts) {
		x.dev.violate("%s: %d render targets bound, pipeline has %d", what, len(x.rtvs), len(fmts))
	}
	for i := range x.rtvs {
		d := &x.rtvs[i]
		if d.Kind != DescRTV || d.Null || d.Res == nil {
			continue
		}
		if !x.require(d.Res, StateRenderTarget, what) {
			return
		}
		if x.dev.strict && i < len(fmts) && viewFormat(d) != fmts[i] {
			x.dev.violate("%s: render target %d has format %v, pipeline expects %v", what, i, viewFormat(d), fmts[i])
		}
	}
	if x.dsv != nil && x.dsv.Res != nil && !x.require(x.dsv.Res, StateDepthWrite, what) {
		return
	}
	for _, v := range x.vbs {
		if v.Res != nil && !x.require(v.Res, StateVertexAndConstantBuffer, what) {
			return
		}
	}
	for i, l := range x.pso.g.Input {
		if len(l.Attributes) == 0 {
			continue
		}
		if i >= len(x.vbs) || x.vbs[i].Res == nil {
			x.dev.violate("%s: no vertex buffer set for input slot %d", what, i)
			return
		}
		if st := x.vbs[i].Stride; uint64(st) < l.ArrayStride {
			x.dev.violate("%s: vertex buffer %d has stride %d, inputs need %d", what, i, st, l.ArrayStride)
			return
		}
	}
	if info.Indexed {
		if x.ib == nil || x.ib.Res == nil {
			x.dev.violate("%s: no index buffer set", what)
			return
		}
		if !x.require(x.ib.Res, StateIndexBuffer, what) {
			return
		}
	}
	x.dev.stats.draws.Add(1)
	for k := range x.active {
		x.active[k] += int64(info.Vertices) * int64(info.Instances)
	}
	info.RTVs = x.rtvs
	info.DSV = x.dsv
	info.StencilRef = x.stencilRef
	info.BlendFactor = x.blendFactor
	info.Input = x.pso.g.Input
	info.Blend = x.pso.g.Targets
	info.DepthStencil = x.pso.g.DepthStencil
	x.callHook(info)
}

func (x *execState) dispatch(info *DrawInfo) {
	if !x.validate(true, "Dispatch") {
		return
	}
	x.dev.stats.dispatches.Add(1)
	x.callHook(info)
}

func (x *execState) callHook(info *DrawInfo) {
	if h := x.dev.hook.Load(); h != nil {
		info.Pipeline = x.pso
		info.x = x
		(*h)(info)
		info.x = nil
	}
}

func (x *execState) indirect(kind IndirectKind, args *Resource, offset int64) {
	const what = "ExecuteIndirect"
	if !x.require(args, StateIndirectArgument, what) {
		return
	}
	n := kind.ArgSize()
	if !args.buf || offset < 0 || offset%4 != 0 || offset+n > int64(len(args.subs[0])) {
		x.dev.violate("%s: arguments at %d out of bounds of %v", what, offset, args)
		return
	}
	a := args.subs[0][offset : offset+n]
	u := func(i int) int { return int(binary.LittleEndian.Uint32(a[4*i:])) }
	switch kind {
	case IndirectDraw:
		x.draw(&DrawInfo{Indirect: true, Vertices: u(0), Instances: u(1)})
	case IndirectDrawIndexed:
		x.draw(&DrawInfo{Indirect: true, Indexed: true, Vertices: u(0), Instances: u(1)})
	default:
		x.dispatch(&DrawInfo{Indirect: true, Compute: true, Groups: [3]int{u(0), u(1), u(2)}})
	}
}

func (x *execState) beginQuery(h *QueryHeap, i int) {
	if h.typ != QueryOcclusion && h.typ != QueryBinaryOcclusion {
		x.dev.violate("BeginQuery: %v queries cannot be begun", h.typ)
		return
	}
	if i < 0 || i >= len(h.res) {
		x.dev.violate("BeginQuery: index %d out of range", i)
		return
	}
	k := queryKey{h, i}
	if _, ok := x.active[k]; ok {
		x.dev.violate("BeginQuery: query %d already active", i)
		return
	}
	if x.active == nil {
		x.active = make(map[queryKey]int64)
	}
	x.active[k] = 0
}

func (x *execState) endQuery(h *QueryHeap, i int) {
	if i < 0 || i >= len(h.res) {
		x.dev.violate("EndQuery: index %d out of range", i)
		return
	}
	switch h.typ {
	case QueryOcclusion, QueryBinaryOcclusion:
		k := queryKey{h, i}
		v, ok := x.active[k]
		if !ok {
			x.dev.violate("EndQuery: query %d not active", i)
			return
		}
		delete(x.active, k)
		if h.typ == QueryBinaryOcclusion {
			v = min(v, 1)
		}
		h.set(i, uint64(v))
	case QueryTimestamp:
		h.set(i, x.dev.timestamp())
	case QueryTimestampDisjoint:
		h.set(i, TimestampFrequency)
	}
}
