// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package imm

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/refdev"
)

func testConfig() driver.Config {
	return driver.Config{
		FramesInFlight: 2,
		Workers:        2,
		ScratchSize:    1 << 12,
		RTVs:           64,
		DSVs:           16,
		Views:          256,
		Samplers:       16,
		Debug:          true,
	}
}

func open(t *testing.T, cfg driver.Config) *Driver {
	t.Helper()
	d := &Driver{}
	if _, err := d.Open(&cfg); err != nil {
		t.Fatalf("Driver.Open failed: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func noViolations(t *testing.T, d *Driver) {
	t.Helper()
	if v, n := d.Device().Violations(); n != 0 {
		t.Fatalf("Device.Violations:\nhave %d %q\nwant 0", n, v)
	}
}

func record(t *testing.T, d *Driver, worker int) *cmdList {
	t.Helper()
	cl, err := d.CmdList(worker)
	if err != nil {
		t.Fatalf("Driver.CmdList(%d) failed: %v", worker, err)
	}
	return cl.(*cmdList)
}

func submit(t *testing.T, d *Driver, cl ...driver.CmdList) {
	t.Helper()
	for _, c := range cl {
		if err := c.End(); err != nil {
			t.Fatalf("CmdList.End failed: %v", err)
		}
	}
	if err := d.Submit(cl); err != nil {
		t.Fatalf("Driver.Submit failed: %v", err)
	}
	if err := d.EndFrame(context.Background()); err != nil {
		t.Fatalf("Driver.EndFrame failed: %v", err)
	}
	if err := d.WaitIdle(context.Background()); err != nil {
		t.Fatalf("Driver.WaitIdle failed: %v", err)
	}
}

// fillHook emulates a pixel shader that fills render
// target 0 with the color read from CBV 0.
func fillHook(info *refdev.DrawInfo) {
	cb := info.Resolve(refdev.StagePS, refdev.DescCBV, 0)
	if cb.Null || cb.Res == nil || len(info.RTVs) == 0 {
		return
	}
	px := cb.Res.Contents(0)[cb.Offset : cb.Offset+4]
	dst := info.RTVs[0].Res.Contents(0)
	for i := 0; i+4 <= len(dst); i += 4 {
		copy(dst[i:], px)
	}
}

func TestOpen(t *testing.T) {
	d := open(t, testConfig())
	if d.Backend() != driver.BackendImm {
		t.Fatalf("Driver.Backend:\nhave %v\nwant %v", d.Backend(), driver.BackendImm)
	}
	if d.Device().Strict() {
		t.Fatal("Device.Strict: the implicit device must track states by itself")
	}
	if d.caps.Has(driver.CapRegionCopy) {
		t.Fatal("Caps.Has(CapRegionCopy): should be unsupported")
	}
	if _, err := d.CmdList(2); !errors.Is(err, driver.ErrDesc) {
		t.Fatalf("Driver.CmdList(2):\nhave %v\nwant %v", err, driver.ErrDesc)
	}
}

func newTarget(t *testing.T, d *Driver, size int) (rt, stg driver.Texture) {
	t.Helper()
	desc := driver.TextureDesc{
		Type:   driver.Texture2D,
		Width:  size,
		Height: size,
		Format: driver.RGBA8un,
		Bind:   driver.BindRenderTarget,
	}
	rt, err := d.NewTexture(&desc, nil)
	if err != nil {
		t.Fatalf("Driver.NewTexture failed: %v", err)
	}
	t.Cleanup(rt.Destroy)
	desc.Bind = 0
	desc.Usage = driver.UsageStaging
	desc.CPUAccess = driver.CPURead
	if stg, err = d.NewTexture(&desc, nil); err != nil {
		t.Fatalf("Driver.NewTexture (staging) failed: %v", err)
	}
	t.Cleanup(stg.Destroy)
	return
}

func checkFill(t *testing.T, d *Driver, stg driver.Texture, px []byte) {
	t.Helper()
	mem, pitch, err := d.Map(stg)
	if err != nil {
		t.Fatalf("Driver.Map failed: %v", err)
	}
	w, h := stg.Desc().Width, stg.Desc().Height
	for y := range h {
		row := mem[y*pitch : y*pitch+w*4]
		for x := 0; x < len(row); x += 4 {
			if !bytes.Equal(row[x:x+4], px) {
				t.Fatalf("pixel (%d, %d):\nhave %v\nwant %v", x/4, y, row[x:x+4], px)
			}
		}
	}
}

func TestDynamicDraw(t *testing.T) {
	const size = 32
	d := open(t, testConfig())
	d.Device().SetDrawHook(fillHook)

	rtA, stgA := newTarget(t, d, size)
	rtB, stgB := newTarget(t, d, size)
	cb, err := d.NewBuffer(&driver.BufferDesc{
		Size:      16,
		Usage:     driver.UsageDynamic,
		Bind:      driver.BindConstantBuffer,
		CPUAccess: driver.CPUWrite,
	}, nil)
	if err != nil {
		t.Fatalf("Driver.NewBuffer (dynamic) failed: %v", err)
	}
	defer cb.Destroy()
	p, err := d.NewGraphicsPSO(&driver.GraphicsPSODesc{
		VS:       driver.ShaderCode{Code: []byte("vs")},
		PS:       driver.ShaderCode{Code: []byte("ps")},
		Topology: driver.TTriangle,
	})
	if err != nil {
		t.Fatalf("Driver.NewGraphicsPSO failed: %v", err)
	}
	defer p.Destroy()

	red, blue := []byte{255, 0, 0, 255}, []byte{0, 0, 255, 255}
	c := record(t, d, 0)
	c.BindGraphicsPSO(p)
	c.BindCBV(driver.PS, 0, cb.Views().CBV)
	c.BindViewports([]driver.Viewport{{Width: size, Height: size, Zfar: 1}})
	if err := c.UpdateBuffer(cb, red, 0); err != nil {
		t.Fatalf("CmdList.UpdateBuffer failed: %v", err)
	}
	c.BindRenderTargets([]driver.Handle{rtA.Views().RTV}, 0)
	if err := c.DrawInstanced(3, 1, 0, 0); err != nil {
		t.Fatalf("CmdList.DrawInstanced failed: %v", err)
	}
	// Nothing is rebound: the new version must still be
	// picked up.
	if err := c.UpdateBuffer(cb, blue, 0); err != nil {
		t.Fatalf("CmdList.UpdateBuffer failed: %v", err)
	}
	c.BindRenderTargets([]driver.Handle{rtB.Views().RTV}, 0)
	if err := c.DrawInstanced(3, 1, 0, 0); err != nil {
		t.Fatalf("CmdList.DrawInstanced failed: %v", err)
	}
	c.CopyResource(stgA, rtA)
	c.CopyResource(stgB, rtB)
	submit(t, d, c)
	noViolations(t, d)
	checkFill(t, d, stgA, red)
	checkFill(t, d, stgB, blue)
	if s := d.Device().Stats(); s.Draws != 2 {
		t.Fatalf("Device.Stats: draws:\nhave %d\nwant 2", s.Draws)
	}
}

func TestDynamicRename(t *testing.T) {
	d := open(t, testConfig())
	b, err := d.NewBuffer(&driver.BufferDesc{
		Size:      64,
		Usage:     driver.UsageDynamic,
		Bind:      driver.BindVertexBuffer,
		CPUAccess: driver.CPUWrite,
	}, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Driver.NewBuffer (dynamic) failed: %v", err)
	}
	defer b.Destroy()
	old := d.dyn.res

	c := record(t, d, 0)
	n := int(d.dyn.size/dynAlign) + 1
	for i := range n {
		if err := c.UpdateBuffer(b, []byte{byte(i)}, 8); err != nil {
			t.Fatalf("CmdList.UpdateBuffer (%d) failed: %v", i, err)
		}
	}
	if r := d.dyn.renames.Load(); r != 1 {
		t.Fatalf("dynRing.renames:\nhave %d\nwant 1", r)
	}
	cur := b.(*buffer).dyn.cur
	if cur.res == old {
		t.Fatal("dynamic.cur: still in the renamed ring")
	}
	// Contents outside the updated range carry over.
	if !bytes.Equal(cur.mem[:4], []byte{1, 2, 3, 4}) || cur.mem[8] != byte(n-1) {
		t.Fatalf("dynamic.cur.mem: unexpected contents %v", cur.mem[:9])
	}
	if _, err := c.AllocateGPU(int(d.dyn.size) + 1); !errors.Is(err, driver.ErrDesc) {
		t.Fatalf("CmdList.AllocateGPU (larger than the ring):\nhave %v\nwant %v", err, driver.ErrDesc)
	}
	submit(t, d, c)
	if r := old.Refs(); r != 0 {
		t.Fatalf("renamed ring Refs after the frame completes:\nhave %d\nwant 0", r)
	}
}

func TestNullSlots(t *testing.T) {
	d := open(t, testConfig())
	var seen []refdev.Descriptor
	d.Device().SetDrawHook(func(info *refdev.DrawInfo) {
		for i := range 3 {
			seen = append(seen, info.Resolve(refdev.StagePS, refdev.DescSRV, i))
		}
	})
	tex, err := d.NewTexture(&driver.TextureDesc{
		Type:   driver.Texture2D,
		Width:  4,
		Height: 4,
		Format: driver.RGBA8un,
		Bind:   driver.BindShaderResource,
	}, nil)
	if err != nil {
		t.Fatalf("Driver.NewTexture failed: %v", err)
	}
	defer tex.Destroy()
	p, err := d.NewGraphicsPSO(&driver.GraphicsPSODesc{
		VS: driver.ShaderCode{Code: []byte("vs")},
		PS: driver.ShaderCode{Code: []byte("ps")},
	})
	if err != nil {
		t.Fatalf("Driver.NewGraphicsPSO failed: %v", err)
	}
	defer p.Destroy()

	c := record(t, d, 1)
	c.BindGraphicsPSO(p)
	c.BindSRV(driver.PS, 2, tex.Views().SRV)
	if err := c.DrawInstanced(3, 1, 0, 0); err != nil {
		t.Fatalf("CmdList.DrawInstanced failed: %v", err)
	}
	c.BindSRV(driver.PS, 2, 0)
	if err := c.DrawInstanced(3, 1, 0, 0); err != nil {
		t.Fatalf("CmdList.DrawInstanced failed: %v", err)
	}
	submit(t, d, c)
	noViolations(t, d)
	if len(seen) != 6 {
		t.Fatalf("resolved descriptors:\nhave %d\nwant 6", len(seen))
	}
	for i, x := range seen {
		bound := i == 2
		if bound != !x.Null || x.Kind != refdev.DescSRV {
			t.Fatalf("descriptor %d: %+v", i, x)
		}
	}
}

func TestUpload(t *testing.T) {
	d := open(t, testConfig())
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	b, err := d.NewBuffer(&driver.BufferDesc{
		Size:  int64(len(data)),
		Usage: driver.UsageImmutable,
		Bind:  driver.BindVertexBuffer,
	}, data)
	if err != nil {
		t.Fatalf("Driver.NewBuffer failed: %v", err)
	}
	defer b.Destroy()
	if d.imm.n != 1 {
		t.Fatalf("immediate commands:\nhave %d\nwant 1", d.imm.n)
	}
	if err := d.FlushUploads(context.Background()); err != nil {
		t.Fatalf("Driver.FlushUploads failed: %v", err)
	}
	if d.imm.n != 0 {
		t.Fatalf("immediate commands after flush:\nhave %d\nwant 0", d.imm.n)
	}
	if !bytes.Equal(b.(*buffer).r.Contents(0), data) {
		t.Fatal("buffer contents differ from initial data")
	}

	px := []byte{10, 20, 30, 40, 50, 60, 70, 80}
	tex, err := d.NewTexture(&driver.TextureDesc{
		Type:   driver.Texture2D,
		Width:  2,
		Height: 1,
		Format: driver.RGBA8un,
		Usage:  driver.UsageImmutable,
		Bind:   driver.BindShaderResource,
	}, []driver.SubresourceData{{Data: px, RowPitch: 8}})
	if err != nil {
		t.Fatalf("Driver.NewTexture failed: %v", err)
	}
	defer tex.Destroy()
	stg, err := d.NewTexture(&driver.TextureDesc{
		Type:      driver.Texture2D,
		Width:     2,
		Height:    1,
		Format:    driver.RGBA8un,
		Usage:     driver.UsageStaging,
		CPUAccess: driver.CPURead,
	}, nil)
	if err != nil {
		t.Fatalf("Driver.NewTexture (staging) failed: %v", err)
	}
	defer stg.Destroy()
	c := record(t, d, 0)
	c.CopyResource(stg, tex)
	submit(t, d, c)
	mem, _, err := d.Map(stg)
	if err != nil {
		t.Fatalf("Driver.Map failed: %v", err)
	}
	if !bytes.Equal(mem[:8], px) {
		t.Fatalf("downloaded texture:\nhave %v\nwant %v", mem[:8], px)
	}
}

func TestUpdateBuffer(t *testing.T) {
	d := open(t, testConfig())
	b, err := d.NewBuffer(&driver.BufferDesc{Size: 256, Bind: driver.BindShaderResource, Format: driver.R32f}, nil)
	if err != nil {
		t.Fatalf("Driver.NewBuffer failed: %v", err)
	}
	defer b.Destroy()
	stg, err := d.NewBuffer(&driver.BufferDesc{Size: 256, Usage: driver.UsageStaging, CPUAccess: driver.CPURead}, nil)
	if err != nil {
		t.Fatalf("Driver.NewBuffer (staging) failed: %v", err)
	}
	defer stg.Destroy()

	c := record(t, d, 0)
	data := bytes.Repeat([]byte{0xab}, 32)
	if err := c.UpdateBuffer(b, data, 64); err != nil {
		t.Fatalf("CmdList.UpdateBuffer failed: %v", err)
	}
	if err := c.UpdateBuffer(b, data, 250); !errors.Is(err, driver.ErrDesc) {
		t.Fatalf("CmdList.UpdateBuffer out of bounds:\nhave %v\nwant %v", err, driver.ErrDesc)
	}
	if err := c.UpdateBuffer(stg, data, 0); !errors.Is(err, driver.ErrDesc) {
		t.Fatalf("CmdList.UpdateBuffer (staging):\nhave %v\nwant %v", err, driver.ErrDesc)
	}
	a, err := c.AllocateGPU(100)
	if err != nil {
		t.Fatalf("CmdList.AllocateGPU failed: %v", err)
	}
	if a.Offset%dynAlign != 0 || len(a.Data) != 100 {
		t.Fatalf("CmdList.AllocateGPU: unexpected allocation %+v", a)
	}
	c.CopyResource(stg, b)
	submit(t, d, c)
	noViolations(t, d)
	mem, _, _ := d.Map(stg)
	if !bytes.Equal(mem[64:96], data) || mem[63] != 0 || mem[96] != 0 {
		t.Fatal("UpdateBuffer: buffer contents differ from update")
	}
}

func TestRetire(t *testing.T) {
	d := open(t, testConfig())
	b, err := d.NewBuffer(&driver.BufferDesc{Size: 64, Bind: driver.BindShaderResource, Format: driver.R32f}, nil)
	if err != nil {
		t.Fatalf("Driver.NewBuffer failed: %v", err)
	}
	r := b.(*buffer).r
	srv := b.Views().SRV
	b.Destroy()
	if d.ValidHandle(srv) {
		t.Fatalf("Driver.ValidHandle: %v valid after Destroy", srv)
	}
	if n := r.Refs(); n != 1 {
		t.Fatalf("Resource.Refs before the frame completes:\nhave %d\nwant 1", n)
	}
	if err := d.EndFrame(context.Background()); err != nil {
		t.Fatalf("Driver.EndFrame failed: %v", err)
	}
	if err := d.WaitIdle(context.Background()); err != nil {
		t.Fatalf("Driver.WaitIdle failed: %v", err)
	}
	if n := r.Refs(); n != 0 {
		t.Fatalf("Resource.Refs after the frame completes:\nhave %d\nwant 0", n)
	}
}

func TestCmdListState(t *testing.T) {
	cfg := testConfig()
	cfg.Debug = false
	d := open(t, cfg)
	c := record(t, d, 0)
	if err := d.Submit([]driver.CmdList{c}); !errors.Is(err, driver.ErrDesc) {
		t.Fatalf("Driver.Submit (recording):\nhave %v\nwant %v", err, driver.ErrDesc)
	}
	if err := c.Dispatch(1, 1, 1); !errors.Is(err, driver.ErrDesc) {
		t.Fatalf("CmdList.Dispatch without pipeline:\nhave %v\nwant %v", err, driver.ErrDesc)
	}
	if err := c.End(); err != nil {
		t.Fatalf("CmdList.End failed: %v", err)
	}
	if _, err := d.CmdList(0); !errors.Is(err, driver.ErrDesc) {
		t.Fatalf("Driver.CmdList after End:\nhave %v\nwant %v", err, driver.ErrDesc)
	}
	if err := d.EndFrame(context.Background()); err != nil {
		t.Fatalf("Driver.EndFrame failed: %v", err)
	}
	if x := record(t, d, 0); x == c || x.state != stateRecording {
		t.Fatal("Driver.CmdList: expected the list of the next frame slot")
	}
}

func TestSwapchain(t *testing.T) {
	d := open(t, testConfig())
	sf := driver.NewHeadless(16, 8)
	sc, err := d.NewSwapchain(sf, &driver.SwapchainDesc{})
	if err != nil {
		t.Fatalf("Driver.NewSwapchain failed: %v", err)
	}
	defer sc.Destroy()
	if sc.Format() != driver.RGBA8un {
		t.Fatalf("Swapchain.Format:\nhave %v\nwant %v", sc.Format(), driver.RGBA8un)
	}
	c := record(t, d, 0)
	c.ClearRenderTarget(sc.BackBuffer().Views().RTV, [4]float32{0, 0, 1, 1})
	if err := c.End(); err != nil {
		t.Fatalf("CmdList.End failed: %v", err)
	}
	if err := d.Submit([]driver.CmdList{c}); err != nil {
		t.Fatalf("Driver.Submit failed: %v", err)
	}
	if err := sc.Present(); err != nil {
		t.Fatalf("Swapchain.Present failed: %v", err)
	}
	if err := d.WaitIdle(context.Background()); err != nil {
		t.Fatalf("Driver.WaitIdle failed: %v", err)
	}
	img, n := sf.Last()
	if n != 1 || !bytes.Equal(img.Pix[:4], []byte{0, 0, 255, 255}) {
		t.Fatalf("Headless.Last:\nhave %v (%d)\nwant [0 0 255 255] (1)", img.Pix[:4], n)
	}
	if err := sc.Resize(context.Background(), 0, 8); !errors.Is(err, driver.ErrSwapchain) {
		t.Fatalf("Swapchain.Resize(0, 8):\nhave %v\nwant %v", err, driver.ErrSwapchain)
	}
	if err := sc.Resize(context.Background(), 32, 32); err != nil {
		t.Fatalf("Swapchain.Resize failed: %v", err)
	}
	if w, h := sc.Size(); w != 32 || h != 32 {
		t.Fatalf("Swapchain.Size after Resize:\nhave %dx%d\nwant 32x32", w, h)
	}
}

func TestQuery(t *testing.T) {
	d := open(t, testConfig())
	q, err := d.NewQuery(&driver.QueryDesc{Type: driver.QueryOcclusion})
	if err != nil {
		t.Fatalf("Driver.NewQuery failed: %v", err)
	}
	defer q.Destroy()
	c := record(t, d, 0)
	c.QueryBegin(q)
	c.QueryEnd(q)
	submit(t, d, c)
	if v, ok := q.Result(); !ok || v != 0 {
		t.Fatalf("Query.Result:\nhave %d, %t\nwant 0, true", v, ok)
	}
}

func TestSubViews(t *testing.T) {
	d := open(t, testConfig())
	desc := driver.TextureDesc{
		Type:      driver.Texture2D,
		Width:     4,
		Height:    4,
		ArraySize: 3,
		MipLevels: 2,
		Format:    driver.RGBA8un,
		Bind:      driver.BindShaderResource,
	}
	for _, x := range [...]struct {
		misc driver.MiscFlag
		subs int
	}{
		{0, 0},
		{driver.MiscIndependentSlices, 3},
		{driver.MiscIndependentMips, 2},
	} {
		desc.Misc = x.misc
		tex, err := d.NewTexture(&desc, nil)
		if err != nil {
			t.Fatalf("Driver.NewTexture (misc %#x) failed: %v", x.misc, err)
		}
		if n := len(tex.Views().SubSRV); n != x.subs {
			t.Fatalf("Views.SubSRV (misc %#x):\nhave %d\nwant %d", x.misc, n, x.subs)
		}
		tex.Destroy()
	}
	desc.Misc = driver.MiscIndependentSlices | driver.MiscIndependentMips
	if _, err := d.NewTexture(&desc, nil); !errors.Is(err, driver.ErrDesc) {
		t.Fatalf("Driver.NewTexture (slices and mips):\nhave %v\nwant %v", err, driver.ErrDesc)
	}
}
