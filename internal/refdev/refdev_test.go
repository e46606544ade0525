// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package refdev

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
)

func newTex(t *testing.T, d *Device, w, h int, f gputypes.TextureFormat, st ResourceStates) *Resource {
	t.Helper()
	r, err := d.NewTexture(&gputypes.TextureDescriptor{
		Size:          gputypes.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        f,
	}, HeapDefault, st)
	if err != nil {
		t.Fatalf("Device.NewTexture failed: %v", err)
	}
	return r
}

func newBuf(t *testing.T, d *Device, n int, heap HeapType, st ResourceStates) *Resource {
	t.Helper()
	r, err := d.NewBuffer(&gputypes.BufferDescriptor{Size: uint64(n)}, heap, st)
	if err != nil {
		t.Fatalf("Device.NewBuffer failed: %v", err)
	}
	return r
}

// run executes cl on a new queue and waits for it.
func run(t *testing.T, d *Device, cl *CmdList) {
	t.Helper()
	q := d.NewQueue(cl.Type())
	defer q.Close()
	if err := cl.Close(); err != nil {
		t.Fatalf("CmdList.Close failed: %v", err)
	}
	f := d.NewFence(0)
	if err := q.ExecuteCommandLists(cl); err != nil {
		t.Fatalf("Queue.ExecuteCommandLists failed: %v", err)
	}
	if err := q.Signal(f, 1); err != nil {
		t.Fatalf("Queue.Signal failed: %v", err)
	}
	if err := f.Wait(context.Background(), 1); err != nil {
		t.Fatalf("Fence.Wait failed: %v", err)
	}
}

func noViolations(t *testing.T, d *Device) {
	t.Helper()
	if v, n := d.Violations(); n != 0 {
		t.Fatalf("Device.Violations:\nhave %d %q\nwant 0", n, v)
	}
}

func TestFloat16(t *testing.T) {
	for _, x := range [...]struct {
		f float32
		h uint16
	}{
		{0, 0},
		{1, 0x3c00},
		{-2, 0xc000},
		{0.5, 0x3800},
		{65504, 0x7bff},
		{1e6, 0x7c00},
		{5.960464477539063e-08, 0x0001},
		{1e-9, 0},
	} {
		if h := Float16(x.f); h != x.h {
			t.Fatalf("Float16(%v):\nhave %#04x\nwant %#04x", x.f, h, x.h)
		}
	}
}

func TestFootprints(t *testing.T) {
	d := New(Options{})
	r, err := d.NewTexture(&gputypes.TextureDescriptor{
		Size:          gputypes.Extent3D{Width: 100, Height: 10, DepthOrArrayLayers: 2},
		MipLevelCount: 2,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
	}, HeapDefault, StateCommon)
	if err != nil {
		t.Fatalf("Device.NewTexture failed: %v", err)
	}
	if n := r.Subresources(); n != 4 {
		t.Fatalf("Resource.Subresources:\nhave %d\nwant 4", n)
	}
	fp, total := r.CopyableFootprints(0, 2, 0)
	if fp[0].RowPitch != 512 || fp[0].Offset != 0 {
		t.Fatalf("CopyableFootprints[0]:\nhave %+v\nwant RowPitch 512 at 0", fp[0])
	}
	// 9 padded rows plus a tight one, then aligned.
	if want := int64(512*9 + 400); fp[1].Offset != (want+PlacementAlign-1)&^(PlacementAlign-1) {
		t.Fatalf("CopyableFootprints[1].Offset:\nhave %d", fp[1].Offset)
	}
	if fp[1].Width != 50 || fp[1].Height != 5 || fp[1].RowPitch != 256 {
		t.Fatalf("CopyableFootprints[1]:\nhave %+v", fp[1])
	}
	if want := fp[1].Offset + 256*4 + 200; total != want {
		t.Fatalf("CopyableFootprints: total:\nhave %d\nwant %d", total, want)
	}
}

func TestNewTexture(t *testing.T) {
	d := New(Options{})
	for _, x := range [...]struct {
		desc gputypes.TextureDescriptor
		err  error
	}{
		{gputypes.TextureDescriptor{Size: gputypes.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 1}, Dimension: gputypes.TextureDimension2D, Format: gputypes.TextureFormatUndefined}, ErrFormat},
		{gputypes.TextureDescriptor{Size: gputypes.Extent3D{Width: 0, Height: 4, DepthOrArrayLayers: 1}, Dimension: gputypes.TextureDimension2D, Format: gputypes.TextureFormatR8Unorm}, ErrInvalid},
		{gputypes.TextureDescriptor{Size: gputypes.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 1}, MipLevelCount: 4, Dimension: gputypes.TextureDimension2D, Format: gputypes.TextureFormatR8Unorm}, ErrInvalid},
		{gputypes.TextureDescriptor{Size: gputypes.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 4}, Dimension: gputypes.TextureDimension3D, Format: gputypes.TextureFormatDepth32Float}, ErrInvalid},
		{gputypes.TextureDescriptor{Size: gputypes.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 1}, MipLevelCount: 3, Dimension: gputypes.TextureDimension2D, Format: gputypes.TextureFormatR8Unorm}, nil},
	} {
		_, err := d.NewTexture(&x.desc, HeapDefault, StateCommon)
		if !errors.Is(err, x.err) || (err == nil) != (x.err == nil) {
			t.Fatalf("Device.NewTexture(%+v):\nhave %v\nwant %v", x.desc, err, x.err)
		}
	}
}

func TestStates(t *testing.T) {
	if !StateGenericRead.Has(StateCopySource) {
		t.Fatal("StateGenericRead.Has(StateCopySource): unexpected false")
	}
	if StateShaderResource.Has(StateCommon) {
		t.Fatal("StateShaderResource.Has(StateCommon): unexpected true")
	}
	if (StateRenderTarget | StateCopyDest).valid() {
		t.Fatal("(StateRenderTarget|StateCopyDest).valid: unexpected true")
	}
	if !(StateShaderResource | StateCopySource).valid() {
		t.Fatal("(StateShaderResource|StateCopySource).valid: unexpected false")
	}
	if s := (StateCopyDest | StateIndexBuffer).String(); s != "IB|COPY_DEST" {
		t.Fatalf("ResourceStates.String:\nhave %s\nwant IB|COPY_DEST", s)
	}
}

func TestBarrierStrict(t *testing.T) {
	d := New(Options{Strict: true})
	r := newTex(t, d, 4, 4, gputypes.TextureFormatRGBA8Unorm, StateCommon)
	cl := d.NewCmdList(CmdListDirect)
	cl.ResourceBarrier([]ResourceBarrier{{Res: r, Sub: AllSubresources, Before: StateCommon, After: StateRenderTarget}})
	cl.ResourceBarrier([]ResourceBarrier{{Res: r, Sub: AllSubresources, Before: StateRenderTarget, After: StateCopySource}})
	run(t, d, cl)
	noViolations(t, d)
	if s := r.State(); s != StateCopySource {
		t.Fatalf("Resource.State:\nhave %v\nwant %v", s, StateCopySource)
	}
	if s := d.Stats(); s.Barriers != 2 || s.BarrierCalls != 2 {
		t.Fatalf("Device.Stats:\nhave %+v\nwant 2 barriers in 2 calls", s)
	}

	cl = d.NewCmdList(CmdListDirect)
	// Wrong before state.
	cl.ResourceBarrier([]ResourceBarrier{{Res: r, Sub: AllSubresources, Before: StateCommon, After: StateRenderTarget}})
	// Redundant.
	cl.ResourceBarrier([]ResourceBarrier{{Res: r, Sub: AllSubresources, Before: StateRenderTarget, After: StateRenderTarget}})
	run(t, d, cl)
	if _, n := d.Violations(); n != 2 {
		t.Fatalf("Device.Violations:\nhave %d\nwant 2", n)
	}
}

func TestRelaxed(t *testing.T) {
	d := New(Options{})
	r := newTex(t, d, 2, 2, gputypes.TextureFormatRGBA8Unorm, StateCommon)
	cl := d.NewCmdList(CmdListDirect)
	cl.ClearRenderTargetView(Descriptor{Kind: DescRTV, Res: r, Mips: 1}, [4]float64{1, 0, 0, 1})
	run(t, d, cl)
	noViolations(t, d)
	for i := 0; i < 16; i += 4 {
		if p := r.Contents(0)[i : i+4]; p[0] != 255 || p[1] != 0 || p[2] != 0 || p[3] != 255 {
			t.Fatalf("ClearRenderTargetView: texel %d:\nhave %v\nwant [255 0 0 255]", i/4, p)
		}
	}
}

func TestClearDepth(t *testing.T) {
	d := New(Options{Strict: true})
	r := newTex(t, d, 2, 1, gputypes.TextureFormatDepth24PlusStencil8, StateDepthWrite)
	cl := d.NewCmdList(CmdListDirect)
	dsv := Descriptor{Kind: DescDSV, Res: r, Mips: 1}
	cl.ClearDepthStencilView(dsv, ClearDepth|ClearStencil, 1, 7)
	cl.ClearDepthStencilView(dsv, ClearStencil, 0, 3)
	run(t, d, cl)
	noViolations(t, d)
	if x := binary.LittleEndian.Uint32(r.Contents(0)); x != 0xffffff|3<<24 {
		t.Fatalf("ClearDepthStencilView:\nhave %#08x\nwant %#08x", x, 0xffffff|3<<24)
	}
}

func TestCopies(t *testing.T) {
	d := New(Options{Strict: true})
	up := newBuf(t, d, 4096, HeapUpload, StateCommon)
	tex := newTex(t, d, 3, 2, gputypes.TextureFormatR8Unorm, StateCopyDest)
	rb := newBuf(t, d, 4096, HeapReadback, StateCommon)

	fp, _ := tex.CopyableFootprints(0, 1, 0)
	mem, err := up.Map(0)
	if err != nil {
		t.Fatalf("Resource.Map failed: %v", err)
	}
	copy(mem[0:], []byte{1, 2, 3})
	copy(mem[fp[0].RowPitch:], []byte{4, 5, 6})

	cl := d.NewCmdList(CmdListCopy)
	cl.CopyTextureRegion(CopyLocation{Res: tex}, 0, 0, 0, CopyLocation{Res: up, Footprint: &fp[0]}, nil)
	cl.ResourceBarrier([]ResourceBarrier{{Res: tex, Sub: AllSubresources, Before: StateCopyDest, After: StateCopySource}})
	cl.CopyTextureRegion(CopyLocation{Res: rb, Footprint: &fp[0]}, 0, 0, 0, CopyLocation{Res: tex}, &Box{Left: 1, Right: 3, Bottom: 2, Back: 1})
	cl.CopyBufferRegion(rb, 1024, up, 0, 3)
	run(t, d, cl)
	noViolations(t, d)

	if have := tex.Contents(0); string(have) != "\x01\x02\x03\x04\x05\x06" {
		t.Fatalf("CopyTextureRegion: texture:\nhave %v", have)
	}
	out, _ := rb.Map(0)
	if out[0] != 2 || out[1] != 3 || out[fp[0].RowPitch] != 5 || out[fp[0].RowPitch+1] != 6 {
		t.Fatalf("CopyTextureRegion: readback:\nhave %v", out[:8])
	}
	if string(out[1024:1027]) != "\x01\x02\x03" {
		t.Fatalf("CopyBufferRegion:\nhave %v", out[1024:1027])
	}
	if n := d.Stats().Copies; n != 3 {
		t.Fatalf("Device.Stats().Copies:\nhave %d\nwant 3", n)
	}
}

func TestCopyListRejectsDraws(t *testing.T) {
	d := New(Options{})
	cl := d.NewCmdList(CmdListCopy)
	cl.DrawInstanced(3, 1, 0, 0)
	if n := cl.Len(); n != 0 {
		t.Fatalf("CmdList.Len:\nhave %d\nwant 0", n)
	}
	if _, n := d.Violations(); n != 1 {
		t.Fatalf("Device.Violations:\nhave %d\nwant 1", n)
	}
	q := d.NewQueue(CmdListCopy)
	defer q.Close()
	direct := d.NewCmdList(CmdListDirect)
	direct.Close()
	if err := q.ExecuteCommandLists(direct); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Queue.ExecuteCommandLists:\nhave %v\nwant %v", err, ErrInvalid)
	}
}

func TestDescriptorHeap(t *testing.T) {
	d := New(Options{})
	if _, err := d.NewDescriptorHeap(DescHeapRTV, 4, true); !errors.Is(err, ErrInvalid) {
		t.Fatalf("NewDescriptorHeap(RTV, visible):\nhave %v\nwant %v", err, ErrInvalid)
	}
	cpu, _ := d.NewDescriptorHeap(DescHeapResource, 4, false)
	gpu, _ := d.NewDescriptorHeap(DescHeapResource, 8, true)
	cpu.Write(1, NullDescriptor(DescSRV))
	CopyDescriptors(gpu, 4, cpu, 0, 4)
	if k := gpu.Read(5).Kind; k != DescSRV {
		t.Fatalf("CopyDescriptors: Kind:\nhave %v\nwant %v", k, DescSRV)
	}
	if k := gpu.Read(6).Kind; k != DescNone {
		t.Fatalf("CopyDescriptors: Kind:\nhave %v\nwant %v", k, DescNone)
	}
	noViolations(t, d)
}

func TestViolationsOnMisuse(t *testing.T) {
	d := New(Options{})
	cpu, _ := d.NewDescriptorHeap(DescHeapResource, 4, false)
	cpu.Write(0, NullDescriptor(DescSampler))
	gpu, _ := d.NewDescriptorHeap(DescHeapResource, 4, true)
	CopyDescriptors(cpu, 0, gpu, 0, 1)
	if _, n := d.Violations(); n != 2 {
		t.Fatalf("Device.Violations:\nhave %d\nwant 2", n)
	}
}

func rootSig(t *testing.T, d *Device) *RootSignature {
	t.Helper()
	rs, err := d.NewRootSignature([]RootParam{
		{Stage: StagePS, Ranges: []DescriptorRange{{DescCBV, 0, 1}, {DescSRV, 0, 2}}},
		{Stage: StagePS, Ranges: []DescriptorRange{{DescSampler, 0, 1}}},
	})
	if err != nil {
		t.Fatalf("Device.NewRootSignature failed: %v", err)
	}
	return rs
}

func TestRootSignature(t *testing.T) {
	d := New(Options{})
	if _, err := d.NewRootSignature([]RootParam{
		{Stage: StageVS, Ranges: []DescriptorRange{{DescSRV, 0, 1}, {DescSampler, 0, 1}}},
	}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("NewRootSignature(mixed):\nhave %v\nwant %v", err, ErrInvalid)
	}
	rs := rootSig(t, d)
	if n := rs.TableSize(0); n != 3 {
		t.Fatalf("RootSignature.TableSize:\nhave %d\nwant 3", n)
	}
	if p, off, ok := rs.locate(StagePS, DescSRV, 1); !ok || p != 0 || off != 2 {
		t.Fatalf("RootSignature.locate:\nhave %d, %d, %t\nwant 0, 2, true", p, off, ok)
	}
	if _, _, ok := rs.locate(StageVS, DescSRV, 1); ok {
		t.Fatal("RootSignature.locate: unexpected success")
	}
}

func TestDrawHook(t *testing.T) {
	d := New(Options{Strict: true})
	rs := rootSig(t, d)
	rt := newTex(t, d, 4, 4, gputypes.TextureFormatRGBA8Unorm, StateRenderTarget)
	srv := newTex(t, d, 4, 4, gputypes.TextureFormatRGBA8Unorm, StateShaderResource)
	pso, err := d.NewGraphicsPipelineState(&GraphicsPipelineDesc{
		Root:      rs,
		Shaders:   [NumStages][]byte{StageVS: {1}, StagePS: {1}},
		RTFormats: []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm},
		Topology:  gputypes.PrimitiveTopologyTriangleList,
	})
	if err != nil {
		t.Fatalf("NewGraphicsPipelineState failed: %v", err)
	}
	res, _ := d.NewDescriptorHeap(DescHeapResource, 8, true)
	smp, _ := d.NewDescriptorHeap(DescHeapSampler, 2, true)
	res.Write(4, NullDescriptor(DescCBV))
	res.Write(5, NullDescriptor(DescSRV))
	res.Write(6, Descriptor{Kind: DescSRV, Res: srv})
	smp.Write(1, Descriptor{Kind: DescSampler, Sampler: gputypes.SamplerDescriptor{MagFilter: gputypes.FilterModeLinear}})

	var calls int
	var got Descriptor
	d.SetDrawHook(func(i *DrawInfo) {
		calls++
		got = i.Resolve(StagePS, DescSRV, 1)
		if s := i.Resolve(StagePS, DescSampler, 0); s.Sampler.MagFilter != gputypes.FilterModeLinear {
			t.Errorf("DrawInfo.Resolve(sampler):\nhave %+v", s)
		}
		if n := i.Resolve(StageVS, DescSRV, 0); !n.Null {
			t.Errorf("DrawInfo.Resolve(unbound):\nhave %+v\nwant null", n)
		}
	})
	cl := d.NewCmdList(CmdListDirect)
	cl.SetPipelineState(pso)
	cl.SetDescriptorHeaps(res, smp)
	cl.SetGraphicsRootDescriptorTable(0, 4)
	cl.SetGraphicsRootDescriptorTable(1, 1)
	cl.OMSetRenderTargets([]Descriptor{{Kind: DescRTV, Res: rt, Mips: 1}}, nil)
	cl.DrawInstanced(3, 1, 0, 0)
	run(t, d, cl)
	noViolations(t, d)
	if calls != 1 || got.Res != srv {
		t.Fatalf("DrawHook:\nhave %d calls, %+v\nwant 1 call, SRV of %v", calls, got, srv)
	}
}

func TestUninitializedDescriptor(t *testing.T) {
	d := New(Options{Strict: true})
	rs := rootSig(t, d)
	pso, _ := d.NewGraphicsPipelineState(&GraphicsPipelineDesc{
		Root:    rs,
		Shaders: [NumStages][]byte{StageVS: {1}},
	})
	res, _ := d.NewDescriptorHeap(DescHeapResource, 3, true)
	smp, _ := d.NewDescriptorHeap(DescHeapSampler, 1, true)
	res.Write(0, NullDescriptor(DescCBV))
	res.Write(1, NullDescriptor(DescSRV))
	smp.Write(0, NullDescriptor(DescSampler))
	cl := d.NewCmdList(CmdListDirect)
	cl.SetPipelineState(pso)
	cl.SetDescriptorHeaps(res, smp)
	cl.SetGraphicsRootDescriptorTable(0, 0)
	cl.SetGraphicsRootDescriptorTable(1, 0)
	cl.DrawInstanced(3, 1, 0, 0)
	run(t, d, cl)
	if v, n := d.Violations(); n != 1 {
		t.Fatalf("Device.Violations:\nhave %d %q\nwant 1", n, v)
	}
}

func TestFence(t *testing.T) {
	d := New(Options{})
	f := d.NewFence(1)
	if err := f.Wait(context.Background(), 1); err != nil {
		t.Fatalf("Fence.Wait(1): %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := f.Wait(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Fence.Wait(2):\nhave %v\nwant %v", err, context.DeadlineExceeded)
	}
	done := make(chan error)
	go func() { done <- f.Wait(context.Background(), 3) }()
	f.Signal(2)
	f.Signal(3)
	if err := <-done; err != nil {
		t.Fatalf("Fence.Wait(3): %v", err)
	}
	f.Signal(1)
	if _, n := d.Violations(); n != 1 {
		t.Fatalf("Fence.Signal(decreasing): Violations:\nhave %d\nwant 1", n)
	}
	if v := f.Completed(); v != 3 {
		t.Fatalf("Fence.Completed:\nhave %d\nwant 3", v)
	}
}

func TestQueueOrder(t *testing.T) {
	d := New(Options{})
	q := d.NewQueue(CmdListDirect)
	defer q.Close()
	f := d.NewFence(0)
	b := newBuf(t, d, 4, HeapDefault, StateCommon)
	const n = 50
	for i := 1; i <= n; i++ {
		cl := d.NewCmdList(CmdListDirect)
		cl.UpdateSubresource(b, 0, nil, []byte{byte(i), 0, 0, 0}, 0, 0)
		cl.Close()
		if err := q.ExecuteCommandLists(cl); err != nil {
			t.Fatalf("ExecuteCommandLists: %v", err)
		}
		if err := q.Signal(f, uint64(i)); err != nil {
			t.Fatalf("Signal: %v", err)
		}
	}
	if err := f.Wait(context.Background(), n); err != nil {
		t.Fatalf("Fence.Wait: %v", err)
	}
	if x := b.Contents(0)[0]; x != n {
		t.Fatalf("queue order:\nhave %d\nwant %d", x, n)
	}
	if e := d.Stats().Executed; e != n {
		t.Fatalf("Device.Stats().Executed:\nhave %d\nwant %d", e, n)
	}
}

func TestCmdListInFlight(t *testing.T) {
	d := New(Options{})
	q := d.NewQueue(CmdListDirect)
	defer q.Close()
	gate := d.NewFence(0)
	if err := q.Wait(gate, 1); err != nil {
		t.Fatalf("Queue.Wait: %v", err)
	}
	cl := d.NewCmdList(CmdListDirect)
	cl.SetMarker("x")
	cl.Close()
	q.ExecuteCommandLists(cl)
	if err := cl.Reset(); !errors.Is(err, ErrInFlight) {
		t.Fatalf("CmdList.Reset:\nhave %v\nwant %v", err, ErrInFlight)
	}
	done := d.NewFence(0)
	q.Signal(done, 1)
	gate.Signal(1)
	if err := done.Wait(context.Background(), 1); err != nil {
		t.Fatalf("Fence.Wait: %v", err)
	}
	if err := cl.Reset(); err != nil {
		t.Fatalf("CmdList.Reset: %v", err)
	}
}

func TestRemove(t *testing.T) {
	d := New(Options{})
	q := d.NewQueue(CmdListDirect)
	defer q.Close()
	f := d.NewFence(0)
	done := make(chan error)
	go func() { done <- f.Wait(context.Background(), 1) }()
	d.Remove(errors.New("hung"))
	if err := <-done; !errors.Is(err, ErrRemoved) {
		t.Fatalf("Fence.Wait:\nhave %v\nwant %v", err, ErrRemoved)
	}
	if err := q.Signal(f, 1); !errors.Is(err, ErrRemoved) {
		t.Fatalf("Queue.Signal:\nhave %v\nwant %v", err, ErrRemoved)
	}
}

func TestQueries(t *testing.T) {
	d := New(Options{})
	occ, _ := d.NewQueryHeap(QueryOcclusion, 1)
	ts, _ := d.NewQueryHeap(QueryTimestamp, 1)
	pso, _ := d.NewGraphicsPipelineState(&GraphicsPipelineDesc{Shaders: [NumStages][]byte{StageVS: {1}}})
	if _, ok := occ.Result(0); ok {
		t.Fatal("QueryHeap.Result: unexpected result before execution")
	}
	cl := d.NewCmdList(CmdListDirect)
	cl.SetPipelineState(pso)
	cl.BeginQuery(occ, 0)
	cl.DrawInstanced(3, 2, 0, 0)
	cl.EndQuery(occ, 0)
	cl.EndQuery(ts, 0)
	run(t, d, cl)
	noViolations(t, d)
	if v, ok := occ.Result(0); !ok || v != 6 {
		t.Fatalf("QueryHeap.Result(occlusion):\nhave %d, %t\nwant 6, true", v, ok)
	}
	if _, ok := ts.Result(0); !ok {
		t.Fatal("QueryHeap.Result(timestamp): not ready")
	}
	ts.Reset(0)
	if _, ok := ts.Result(0); ok {
		t.Fatal("QueryHeap.Reset: result still ready")
	}
}

func TestIndirect(t *testing.T) {
	d := New(Options{Strict: true})
	args := newBuf(t, d, 64, HeapDefault, StateIndirectArgument)
	binary.LittleEndian.PutUint32(args.Contents(0)[16:], 2)
	binary.LittleEndian.PutUint32(args.Contents(0)[20:], 3)
	binary.LittleEndian.PutUint32(args.Contents(0)[24:], 4)
	pso, _ := d.NewComputePipelineState(&ComputePipelineDesc{CS: []byte{1}})
	var groups [3]int
	d.SetDrawHook(func(i *DrawInfo) { groups = i.Groups })
	cl := d.NewCmdList(CmdListDirect)
	cl.SetPipelineState(pso)
	cl.ExecuteIndirect(IndirectDispatch, args, 16)
	cl.ExecuteIndirect(IndirectDispatch, args, 60)
	run(t, d, cl)
	if groups != [3]int{2, 3, 4} {
		t.Fatalf("ExecuteIndirect:\nhave %v\nwant [2 3 4]", groups)
	}
	if _, n := d.Violations(); n != 1 {
		t.Fatalf("ExecuteIndirect(out of bounds): Violations:\nhave %d\nwant 1", n)
	}
}

func TestSwapchain(t *testing.T) {
	d := New(Options{Strict: true})
	q := d.NewQueue(CmdListDirect)
	defer q.Close()
	var presented int
	var first byte
	sc, err := d.NewSwapchain(q, &SwapchainDesc{Width: 8, Height: 8, Buffers: 2, Format: gputypes.TextureFormatRGBA8Unorm},
		func(pix []byte, w, h, pitch int) error {
			presented++
			first = pix[0]
			if w != 8 || h != 8 || pitch != 32 {
				t.Errorf("PresentFunc:\nhave %dx%d (%d)\nwant 8x8 (32)", w, h, pitch)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Device.NewSwapchain failed: %v", err)
	}
	defer sc.Release()

	bb := sc.Buffer(sc.CurrentIndex())
	cl := d.NewCmdList(CmdListDirect)
	cl.ResourceBarrier([]ResourceBarrier{{Res: bb, Sub: AllSubresources, Before: StatePresent, After: StateRenderTarget}})
	cl.ClearRenderTargetView(Descriptor{Kind: DescRTV, Res: bb, Mips: 1}, [4]float64{0.5, 0, 0, 1})
	cl.ResourceBarrier([]ResourceBarrier{{Res: bb, Sub: AllSubresources, Before: StateRenderTarget, After: StatePresent}})
	cl.Close()
	q.ExecuteCommandLists(cl)
	if err := sc.Present(1); err != nil {
		t.Fatalf("Swapchain.Present: %v", err)
	}
	if i := sc.CurrentIndex(); i != 1 {
		t.Fatalf("Swapchain.CurrentIndex:\nhave %d\nwant 1", i)
	}
	if err := sc.ResizeBuffers(16, 16); !errors.Is(err, ErrInFlight) {
		t.Fatalf("Swapchain.ResizeBuffers:\nhave %v\nwant %v", err, ErrInFlight)
	}
	bb.Release()
	f := d.NewFence(0)
	q.Signal(f, 1)
	f.Wait(context.Background(), 1)
	if err := sc.ResizeBuffers(16, 16); err != nil {
		t.Fatalf("Swapchain.ResizeBuffers: %v", err)
	}
	if desc := sc.Desc(); desc.Width != 16 || sc.CurrentIndex() != 0 {
		t.Fatalf("Swapchain.ResizeBuffers: Desc:\nhave %+v", desc)
	}
	noViolations(t, d)
	if presented != 1 || first != 128 {
		t.Fatalf("PresentFunc:\nhave %d calls, R=%d\nwant 1 call, R=128", presented, first)
	}
}

func TestPipelineInput(t *testing.T) {
	d := New(Options{})
	layout := []gputypes.VertexBufferLayout{{
		ArrayStride: 12,
		StepMode:    gputypes.VertexStepModeVertex,
		Attributes:  []gputypes.VertexAttribute{{Format: gputypes.VertexFormatFloat32x3}},
	}}
	vs := [NumStages][]byte{StageVS: {1}}
	if _, err := d.NewGraphicsPipelineState(&GraphicsPipelineDesc{
		Shaders: vs,
		Input: []gputypes.VertexBufferLayout{{
			ArrayStride: 8,
			Attributes:  layout[0].Attributes,
		}},
	}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("NewGraphicsPipelineState (attribute past stride):\nhave %v\nwant %v", err, ErrInvalid)
	}
	if _, err := d.NewGraphicsPipelineState(&GraphicsPipelineDesc{
		Shaders:   vs,
		RTFormats: []gputypes.TextureFormat{},
		Targets:   []gputypes.ColorTargetState{{WriteMask: gputypes.ColorWriteMaskAll}},
	}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("NewGraphicsPipelineState (blend without targets):\nhave %v\nwant %v", err, ErrInvalid)
	}
	pso, err := d.NewGraphicsPipelineState(&GraphicsPipelineDesc{Shaders: vs, Input: layout})
	if err != nil {
		t.Fatalf("NewGraphicsPipelineState failed: %v", err)
	}
	vb := newBuf(t, d, 64, HeapDefault, StateVertexAndConstantBuffer)
	var strides []uint64
	d.SetDrawHook(func(i *DrawInfo) { strides = append(strides, i.Input[0].ArrayStride) })
	cl := d.NewCmdList(CmdListDirect)
	cl.SetPipelineState(pso)
	cl.DrawInstanced(3, 1, 0, 0)
	cl.IASetVertexBuffers(0, []VertexBufferView{{Res: vb, Size: 64, Stride: 8}})
	cl.DrawInstanced(3, 1, 0, 0)
	cl.IASetVertexBuffers(0, []VertexBufferView{{Res: vb, Size: 64, Stride: 12}})
	cl.DrawInstanced(3, 1, 0, 0)
	run(t, d, cl)
	if v, n := d.Violations(); n != 2 {
		t.Fatalf("Device.Violations:\nhave %d %q\nwant 2", n, v)
	}
	if len(strides) != 1 || strides[0] != 12 {
		t.Fatalf("DrawInfo.Input strides:\nhave %v\nwant [12]", strides)
	}
}
