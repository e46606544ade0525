// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package imm

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/refdev"
)

// stateDesc reads two inputs from slot 0, spanning
// 16 bytes, and enables blending, depth and stencil.
func stateDesc() *driver.GraphicsPSODesc {
	desc := &driver.GraphicsPSODesc{
		VS: driver.ShaderCode{Code: []byte("vs")},
		PS: driver.ShaderCode{Code: []byte("ps")},
		Input: []driver.VertexIn{
			{Format: driver.Float32x3, Name: "POSITION"},
			{Format: driver.UNorm8x4, Offset: 12, Name: "COLOR"},
		},
		Topology: driver.TTriangle,
		DepthStencil: driver.DSState{
			DepthTest:   true,
			DepthWrite:  true,
			DepthCmp:    driver.CLess,
			StencilTest: true,
			ReadMask:    0xff,
			WriteMask:   0x0f,
			Front:       driver.StencilT{Pass: driver.SReplace, Cmp: driver.CAlways},
			Back:        driver.StencilT{Pass: driver.SKeep, Cmp: driver.CNever},
		},
	}
	desc.Blend.Color[0] = driver.ColorBlend{
		Blend:     true,
		WriteMask: driver.CAll,
		Op:        [2]driver.BlendOp{driver.BAdd, driver.BAdd},
		SrcFac:    [2]driver.BlendFac{driver.BSrcAlpha, driver.BOne},
		DstFac:    [2]driver.BlendFac{driver.BInvSrcAlpha, driver.BZero},
	}
	return desc
}

func TestPipelineState(t *testing.T) {
	d := open(t, testConfig())
	var infos []refdev.DrawInfo
	d.Device().SetDrawHook(func(info *refdev.DrawInfo) { infos = append(infos, *info) })

	tex := func(f driver.Format, b driver.BindFlag) driver.Texture {
		tx, err := d.NewTexture(&driver.TextureDesc{Type: driver.Texture2D, Width: 4, Height: 4, Format: f, Bind: b}, nil)
		if err != nil {
			t.Fatalf("Driver.NewTexture(%v) failed: %v", f, err)
		}
		t.Cleanup(tx.Destroy)
		return tx
	}
	rt := tex(driver.RGBA8un, driver.BindRenderTarget).Views().RTV
	depth := tex(driver.D32f, driver.BindDepthStencil).Views().DSV
	stencil := tex(driver.D24unS8ui, driver.BindDepthStencil).Views().DSV
	vb, err := d.NewBuffer(&driver.BufferDesc{Size: 64, Bind: driver.BindVertexBuffer}, nil)
	if err != nil {
		t.Fatalf("Driver.NewBuffer failed: %v", err)
	}
	defer vb.Destroy()

	badInput := stateDesc()
	badInput.Input[1].Slot = driver.MaxVertexBuffers
	if _, err := d.NewGraphicsPSO(badInput); !errors.Is(err, driver.ErrDesc) {
		t.Fatalf("Driver.NewGraphicsPSO (input slot):\nhave %v\nwant %v", err, driver.ErrDesc)
	}
	p, err := d.NewGraphicsPSO(stateDesc())
	if err != nil {
		t.Fatalf("Driver.NewGraphicsPSO failed: %v", err)
	}
	defer p.Destroy()

	c := record(t, d, 0)
	c.BindGraphicsPSO(p)
	c.BindViewports([]driver.Viewport{{Width: 4, Height: 4, Zfar: 1}})
	for _, x := range [...]struct {
		name   string
		rtv    []driver.Handle
		dsv    driver.Handle
		stride []int
		ok     bool
	}{
		{"depth target without stencil", []driver.Handle{rt}, depth, []int{16}, false},
		{"no depth target", []driver.Handle{rt}, driver.Handle{}, []int{16}, false},
		{"blend without render targets", nil, stencil, []int{16}, false},
		{"stride shorter than inputs", []driver.Handle{rt}, stencil, []int{12}, false},
		{"no vertex buffer", []driver.Handle{rt}, stencil, nil, false},
		{"matching targets and stride", []driver.Handle{rt}, stencil, []int{16}, true},
		{"padded stride", []driver.Handle{rt}, stencil, []int{32}, true},
	} {
		c.BindRenderTargets(x.rtv, x.dsv)
		if x.stride != nil {
			c.BindVertexBuffers(0, []driver.Buffer{vb}, x.stride, nil)
		} else {
			c.BindVertexBuffers(0, []driver.Buffer{nil}, nil, nil)
		}
		err := c.DrawInstanced(3, 1, 0, 0)
		switch {
		case x.ok && err != nil:
			t.Fatalf("CmdList.DrawInstanced (%s) failed: %v", x.name, err)
		case !x.ok && !errors.Is(err, driver.ErrDesc):
			t.Fatalf("CmdList.DrawInstanced (%s):\nhave %v\nwant %v", x.name, err, driver.ErrDesc)
		}
	}
	submit(t, d, c)
	noViolations(t, d)

	if len(infos) != 2 {
		t.Fatalf("draws reaching the device:\nhave %d\nwant 2", len(infos))
	}
	info := infos[0]
	if len(info.Input) != 1 || info.Input[0].ArrayStride != 16 || len(info.Input[0].Attributes) != 2 {
		t.Fatalf("DrawInfo.Input:\nhave %+v\nwant one 16-byte layout with 2 attributes", info.Input)
	}
	if a := info.Input[0].Attributes[1]; a.Format != gputypes.VertexFormatUnorm8x4 || a.Offset != 12 || a.ShaderLocation != 1 {
		t.Fatalf("DrawInfo.Input attribute 1:\nhave %+v", a)
	}
	if len(info.Blend) != 1 || info.Blend[0].Blend == nil {
		t.Fatalf("DrawInfo.Blend:\nhave %+v\nwant one blended target", info.Blend)
	}
	want := gputypes.BlendComponent{
		SrcFactor: gputypes.BlendFactorSrcAlpha,
		DstFactor: gputypes.BlendFactorOneMinusSrcAlpha,
		Operation: gputypes.BlendOperationAdd,
	}
	if b := info.Blend[0]; b.Blend.Color != want || b.WriteMask != gputypes.ColorWriteMaskAll {
		t.Fatalf("DrawInfo.Blend[0]:\nhave %+v %v\nwant %+v %v", *b.Blend, b.WriteMask, want, gputypes.ColorWriteMaskAll)
	}
	ds := info.DepthStencil
	switch {
	case ds == nil:
		t.Fatal("DrawInfo.DepthStencil: nil")
	case !ds.DepthWriteEnabled, ds.DepthCompare != gputypes.CompareFunctionLess:
		t.Fatalf("DrawInfo.DepthStencil: depth:\nhave %v %v", ds.DepthWriteEnabled, ds.DepthCompare)
	case ds.StencilFront.PassOp != gputypes.StencilOperationReplace, ds.StencilBack.Compare != gputypes.CompareFunctionNever:
		t.Fatalf("DrawInfo.DepthStencil: stencil faces:\nhave %+v %+v", ds.StencilFront, ds.StencilBack)
	case ds.StencilReadMask != 0xff, ds.StencilWriteMask != 0x0f:
		t.Fatalf("DrawInfo.DepthStencil: stencil masks:\nhave %#x %#x", ds.StencilReadMask, ds.StencilWriteMask)
	}
	// Target formats are only known when drawing.
	if ds.Format != gputypes.TextureFormatUndefined {
		t.Fatalf("DrawInfo.DepthStencil.Format:\nhave %v\nwant undefined", ds.Format)
	}
}
