// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package imm

import (
	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/conv"
	"gviegas/rhi/internal/refdev"
)

// pso implements driver.PSO.
// Pipelines bind shader slots directly, so the state
// object does not depend on render target formats and
// is created up front.
type pso struct {
	compute bool
	ps      *refdev.PipelineState
	topo    gputypes.PrimitiveTopology
	// Stages whose slots the pipeline reads.
	stages []driver.Stage
	input  []gputypes.VertexBufferLayout
	// Render targets the blend state covers.
	blend          int
	depth, stencil bool
}

// NewGraphicsPSO creates a new graphics pipeline state.
func (d *Driver) NewGraphicsPSO(desc *driver.GraphicsPSODesc) (driver.PSO, error) {
	if len(desc.VS.Code) == 0 {
		return nil, errors.Wrap(driver.ErrDesc, "graphics pipeline without vertex shader")
	}
	if desc.Raster.Conservative && !d.caps.Has(driver.CapConservativeRaster) {
		return nil, errors.Wrap(driver.ErrDesc, "conservative rasterization not supported")
	}
	if err := driver.CheckInput(desc.Input); err != nil {
		return nil, err
	}
	topo, patches := conv.Topology(desc.Topology)
	// Target formats are only known when drawing.
	g := refdev.GraphicsPipelineDesc{
		Topology:  topo,
		Patches:   patches,
		CullMode:  conv.CullMode(desc.Raster.Cull),
		FrontFace: conv.FrontFace(desc.Raster.Clockwise),
		Samples:   max(desc.Samples, 1),

		Input:           conv.VertexLayouts(desc.Input),
		Targets:         conv.ColorTargets(&desc.Blend, nil),
		AlphaToCoverage: desc.Blend.AlphaToCoverage,
		DepthStencil:    conv.DepthStencil(&desc.DepthStencil, gputypes.TextureFormatUndefined),
	}
	p := &pso{
		topo:    topo,
		input:   g.Input,
		blend:   conv.BlendTargets(&desc.Blend),
		depth:   desc.DepthStencil.DepthTest,
		stencil: desc.DepthStencil.StencilTest,
	}
	for s, c := range [...]*driver.ShaderCode{&desc.VS, &desc.HS, &desc.DS, &desc.GS, &desc.PS} {
		if len(c.Code) != 0 {
			g.Shaders[conv.Stage(driver.Stage(s))] = c.Code
			p.stages = append(p.stages, driver.Stage(s))
		}
	}
	ps, err := d.dev.NewGraphicsPipelineState(&g)
	if err != nil {
		return nil, errors.Wrap(driver.ErrDesc, err.Error())
	}
	p.ps = ps
	return p, nil
}

// NewComputePSO creates a new compute pipeline state.
func (d *Driver) NewComputePSO(desc *driver.ComputePSODesc) (driver.PSO, error) {
	ps, err := d.dev.NewComputePipelineState(&refdev.ComputePipelineDesc{CS: desc.CS.Code})
	if err != nil {
		return nil, errors.Wrap(driver.ErrDesc, err.Error())
	}
	return &pso{compute: true, ps: ps, stages: []driver.Stage{driver.CS}}, nil
}

// Compute returns whether p is a compute pipeline.
func (p *pso) Compute() bool { return p.compute }

// Destroy destroys the pipeline.
func (p *pso) Destroy() { p.ps = nil }
