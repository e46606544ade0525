// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package explicit

import (
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/conv"
	"gviegas/rhi/internal/refdev"
)

// stageMask is a mask of shader stages, indexed by
// driver.Stage.
type stageMask uint8

func (m stageMask) has(s driver.Stage) bool { return m&(1<<s) != 0 }

// rootSig is a root signature with one resource table and
// one sampler table per stage in mask.
type rootSig struct {
	rs   *refdev.RootSignature
	mask stageMask
	// Root parameter indices per stage, or -1.
	res [driver.Stages]int
	smp [driver.Stages]int
}

// rootCache caches root signatures by stage mask.
type rootCache struct {
	mu sync.Mutex
	m  map[stageMask]*rootSig
}

// root returns the root signature of mask.
func (d *Driver) root(mask stageMask) (*rootSig, error) {
	c := &d.roots
	c.mu.Lock()
	defer c.mu.Unlock()
	if r := c.m[mask]; r != nil {
		return r, nil
	}
	r := &rootSig{mask: mask}
	var params []refdev.RootParam
	for s := driver.VS; s < driver.Stages; s++ {
		r.res[s], r.smp[s] = -1, -1
		if !mask.has(s) {
			continue
		}
		st := conv.Stage(s)
		r.res[s] = len(params)
		params = append(params, refdev.RootParam{
			Stage: st,
			Ranges: []refdev.DescriptorRange{
				{Kind: refdev.DescCBV, Count: driver.MaxCBVs},
				{Kind: refdev.DescSRV, Count: driver.MaxSRVs},
				{Kind: refdev.DescUAV, Count: driver.MaxUAVs},
			},
		})
		r.smp[s] = len(params)
		params = append(params, refdev.RootParam{
			Stage:  st,
			Ranges: []refdev.DescriptorRange{{Kind: refdev.DescSampler, Count: driver.MaxSamplers}},
		})
	}
	rs, err := d.dev.NewRootSignature(params)
	if err != nil {
		return nil, errors.Wrap(driver.ErrDesc, err.Error())
	}
	r.rs = rs
	if c.m == nil {
		c.m = make(map[stageMask]*rootSig)
	}
	c.m[mask] = r
	return r, nil
}

// targetKey identifies the render target formats a
// graphics pipeline is compiled for.
type targetKey struct {
	n  int
	rt [driver.MaxRenderTargets]gputypes.TextureFormat
	ds gputypes.TextureFormat
}

// pso implements driver.PSO.
// Graphics pipelines are compiled when first drawn with,
// once per combination of render target formats.
type pso struct {
	d       *Driver
	compute bool
	root    *rootSig
	gdesc   driver.GraphicsPSODesc
	input   []gputypes.VertexBufferLayout
	cs      *refdev.PipelineState

	mu       sync.Mutex
	variants map[targetKey]*refdev.PipelineState
}

// Compute returns whether p is a compute pipeline.
func (p *pso) Compute() bool { return p.compute }

// Destroy destroys the pipeline.
func (p *pso) Destroy() {
	p.mu.Lock()
	p.variants = nil
	p.mu.Unlock()
	p.cs = nil
}

// NewGraphicsPSO creates a new graphics pipeline state.
func (d *Driver) NewGraphicsPSO(desc *driver.GraphicsPSODesc) (driver.PSO, error) {
	if len(desc.VS.Code) == 0 {
		return nil, errors.Wrap(driver.ErrDesc, "graphics pipeline without vertex shader")
	}
	tess := len(desc.HS.Code) != 0 || len(desc.DS.Code) != 0
	if tess && !d.caps.Has(driver.CapTessellation) {
		return nil, errors.Wrap(driver.ErrDesc, "tessellation not supported")
	}
	if (desc.Topology == driver.TPatch) != (len(desc.HS.Code) != 0 && len(desc.DS.Code) != 0) {
		return nil, errors.Wrap(driver.ErrDesc, "patch topology requires hull and domain shaders")
	}
	if desc.Raster.Conservative && !d.caps.Has(driver.CapConservativeRaster) {
		return nil, errors.Wrap(driver.ErrDesc, "conservative rasterization not supported")
	}
	if err := driver.CheckInput(desc.Input); err != nil {
		return nil, err
	}
	var mask stageMask
	for s, c := range [...]*driver.ShaderCode{&desc.VS, &desc.HS, &desc.DS, &desc.GS, &desc.PS} {
		if len(c.Code) != 0 {
			mask |= 1 << s
		}
	}
	root, err := d.root(mask)
	if err != nil {
		return nil, err
	}
	p := &pso{d: d, root: root, gdesc: *desc, input: conv.VertexLayouts(desc.Input)}
	p.gdesc.Input = append([]driver.VertexIn(nil), desc.Input...)
	return p, nil
}

// NewComputePSO creates a new compute pipeline state.
func (d *Driver) NewComputePSO(desc *driver.ComputePSODesc) (driver.PSO, error) {
	if len(desc.CS.Code) == 0 {
		return nil, errors.Wrap(driver.ErrDesc, "compute pipeline without compute shader")
	}
	root, err := d.root(1 << driver.CS)
	if err != nil {
		return nil, err
	}
	cs, err := d.dev.NewComputePipelineState(&refdev.ComputePipelineDesc{Root: root.rs, CS: desc.CS.Code})
	if err != nil {
		return nil, errors.Wrap(driver.ErrDesc, err.Error())
	}
	return &pso{d: d, compute: true, root: root, cs: cs}, nil
}

// pipeline returns the pipeline compiled for key.
func (p *pso) pipeline(key *targetKey) (*refdev.PipelineState, error) {
	if p.compute {
		return p.cs, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if ps := p.variants[*key]; ps != nil {
		return ps, nil
	}
	g := &p.gdesc
	if n := conv.BlendTargets(&g.Blend); n > key.n {
		return nil, errors.Wrapf(driver.ErrDesc, "blend state for %d render targets, %d bound", n, key.n)
	}
	if g.DepthStencil.StencilTest && !refdev.HasStencil(key.ds) {
		return nil, errors.Wrapf(driver.ErrDesc, "stencil test without a stencil target (depth/stencil format %v)", key.ds)
	}
	if g.DepthStencil.DepthTest && !refdev.IsDepth(key.ds) {
		return nil, errors.Wrap(driver.ErrDesc, "depth test without a depth/stencil target")
	}
	rts := append([]gputypes.TextureFormat(nil), key.rt[:key.n]...)
	topo, patches := conv.Topology(g.Topology)
	desc := refdev.GraphicsPipelineDesc{
		Root:         p.root.rs,
		RTFormats:    rts,
		DSFormat:     key.ds,
		Topology:     topo,
		Patches:      patches,
		CullMode:     conv.CullMode(g.Raster.Cull),
		FrontFace:    conv.FrontFace(g.Raster.Clockwise),
		Conservative: g.Raster.Conservative,
		Samples:      max(g.Samples, 1),

		Input:           p.input,
		Targets:         conv.ColorTargets(&g.Blend, rts),
		AlphaToCoverage: g.Blend.AlphaToCoverage,
		DepthStencil:    conv.DepthStencil(&g.DepthStencil, key.ds),
	}
	for s, c := range [...]*driver.ShaderCode{&g.VS, &g.HS, &g.DS, &g.GS, &g.PS} {
		desc.Shaders[conv.Stage(driver.Stage(s))] = c.Code
	}
	ps, err := p.d.dev.NewGraphicsPipelineState(&desc)
	if err != nil {
		if errors.Is(err, refdev.ErrFormat) {
			return nil, errors.Wrap(driver.ErrFormat, err.Error())
		}
		return nil, errors.Wrap(driver.ErrDesc, err.Error())
	}
	if p.variants == nil {
		p.variants = make(map[targetKey]*refdev.PipelineState)
	}
	p.variants[*key] = ps
	driver.Logger().Debug("pipeline compiled", "targets", key.n, "variants", len(p.variants))
	return ps, nil
}
