// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package refdev

import (
	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
)

// Stage is the type of shader stages.
type Stage int

// Shader stages.
const (
	StageVS Stage = iota
	StageHS
	StageDS
	StageGS
	StagePS
	StageCS
	NumStages
)

func (s Stage) String() string {
	if s < 0 || s >= NumStages {
		return "Stage(?)"
	}
	return [...]string{"VS", "HS", "DS", "GS", "PS", "CS"}[s]
}

// DescriptorRange is a range of shader registers of a
// given kind (b for CBV, t for SRV, u for UAV, s for
// samplers) within a descriptor table.
type DescriptorRange struct {
	Kind  DescriptorKind
	Base  int
	Count int
}

// RootParam is a descriptor table visible to a single
// shader stage. Its ranges are laid out consecutively in
// the table.
type RootParam struct {
	Stage  Stage
	Ranges []DescriptorRange
}

// RootSignature defines how descriptor tables map to
// shader registers.
type RootSignature struct {
	params []RootParam
	sizes  []int
}

// NewRootSignature creates a new root signature.
// Sampler ranges cannot share a table with other kinds.
func (d *Device) NewRootSignature(params []RootParam) (*RootSignature, error) {
	rs := &RootSignature{params: make([]RootParam, len(params)), sizes: make([]int, len(params))}
	for i, p := range params {
		if p.Stage < 0 || p.Stage >= NumStages {
			return nil, errors.Wrapf(ErrInvalid, "root parameter %d: stage %d", i, p.Stage)
		}
		var smp, res bool
		for _, r := range p.Ranges {
			switch r.Kind {
			case DescSampler:
				smp = true
			case DescCBV, DescSRV, DescUAV:
				res = true
			default:
				return nil, errors.Wrapf(ErrInvalid, "root parameter %d: %v range", i, r.Kind)
			}
			rs.sizes[i] += r.Count
		}
		if smp && res {
			return nil, errors.Wrapf(ErrInvalid, "root parameter %d mixes samplers and views", i)
		}
		rs.params[i] = RootParam{Stage: p.Stage, Ranges: append([]DescriptorRange(nil), p.Ranges...)}
	}
	return rs, nil
}

// Params returns the number of root parameters.
func (rs *RootSignature) Params() int { return len(rs.params) }

// TableSize returns the number of descriptors of the
// table of a root parameter.
func (rs *RootSignature) TableSize(param int) int { return rs.sizes[param] }

// sampler returns whether a root parameter is a sampler
// table.
func (rs *RootSignature) sampler(param int) bool {
	r := rs.params[param].Ranges
	return len(r) > 0 && r[0].Kind == DescSampler
}

// locate finds the root parameter and table offset that
// maps a shader register.
func (rs *RootSignature) locate(stage Stage, kind DescriptorKind, reg int) (param, off int, ok bool) {
	for i, p := range rs.params {
		if p.Stage != stage {
			continue
		}
		off := 0
		for _, r := range p.Ranges {
			if r.Kind == kind && reg >= r.Base && reg < r.Base+r.Count {
				return i, off + reg - r.Base, true
			}
			off += r.Count
		}
	}
	return 0, 0, false
}

// GraphicsPipelineDesc describes a graphics pipeline.
// Shader bytecode is opaque to the device.
type GraphicsPipelineDesc struct {
	// Root is nil for pipelines that use direct slot
	// bindings.
	Root         *RootSignature
	Shaders      [NumStages][]byte
	RTFormats    []gputypes.TextureFormat
	DSFormat     gputypes.TextureFormat
	Topology     gputypes.PrimitiveTopology
	Patches      bool
	CullMode     gputypes.CullMode
	FrontFace    gputypes.FrontFace
	Conservative bool
	Samples      int
	// Input holds one layout per vertex buffer slot.
	Input []gputypes.VertexBufferLayout
	// Targets holds the blend state of each render
	// target.
	Targets         []gputypes.ColorTargetState
	AlphaToCoverage bool
	// DepthStencil is nil if the depth and stencil tests
	// are disabled.
	DepthStencil *gputypes.DepthStencilState
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Root *RootSignature
	CS   []byte
}

// PipelineState is a compiled pipeline.
type PipelineState struct {
	root    *RootSignature
	compute bool
	g       GraphicsPipelineDesc
}

// NewGraphicsPipelineState compiles a graphics pipeline.
func (d *Device) NewGraphicsPipelineState(desc *GraphicsPipelineDesc) (*PipelineState, error) {
	if len(desc.Shaders[StageVS]) == 0 {
		return nil, errors.Wrap(ErrInvalid, "graphics pipeline without vertex shader")
	}
	if len(desc.Shaders[StageCS]) != 0 {
		return nil, errors.Wrap(ErrInvalid, "compute shader in graphics pipeline")
	}
	if desc.Patches != (len(desc.Shaders[StageHS]) != 0 && len(desc.Shaders[StageDS]) != 0) {
		return nil, errors.Wrap(ErrInvalid, "patch topology requires both hull and domain shaders")
	}
	if len(desc.RTFormats) > 8 {
		return nil, errors.Wrapf(ErrInvalid, "%d render targets", len(desc.RTFormats))
	}
	for _, f := range desc.RTFormats {
		if FormatSize(f) == 0 || IsDepth(f) {
			return nil, errors.Wrapf(ErrFormat, "render target format %v", f)
		}
	}
	if desc.DSFormat != gputypes.TextureFormatUndefined && !IsDepth(desc.DSFormat) {
		return nil, errors.Wrapf(ErrFormat, "depth/stencil format %v", desc.DSFormat)
	}
	if desc.RTFormats != nil && len(desc.Targets) > len(desc.RTFormats) {
		return nil, errors.Wrapf(ErrInvalid, "blend state for %d render targets, pipeline has %d",
			len(desc.Targets), len(desc.RTFormats))
	}
	if ds := desc.DepthStencil; ds != nil && ds.Format != gputypes.TextureFormatUndefined {
		if desc.DSFormat != gputypes.TextureFormatUndefined && ds.Format != desc.DSFormat {
			return nil, errors.Wrapf(ErrFormat, "depth/stencil state for %v, pipeline has %v", ds.Format, desc.DSFormat)
		}
	}
	for i, l := range desc.Input {
		for _, a := range l.Attributes {
			if a.Format.Size() == 0 {
				return nil, errors.Wrapf(ErrInvalid, "vertex attribute %d of slot %d has format %v", a.ShaderLocation, i, a.Format)
			}
			if a.Offset+a.Format.Size() > l.ArrayStride {
				return nil, errors.Wrapf(ErrInvalid, "vertex attribute %d exceeds stride %d of slot %d", a.ShaderLocation, l.ArrayStride, i)
			}
		}
	}
	g := *desc
	g.RTFormats = append([]gputypes.TextureFormat(nil), desc.RTFormats...)
	g.Targets = append([]gputypes.ColorTargetState(nil), desc.Targets...)
	g.Input = append([]gputypes.VertexBufferLayout(nil), desc.Input...)
	if desc.DepthStencil != nil {
		ds := *desc.DepthStencil
		g.DepthStencil = &ds
	}
	d.stats.pipelines.Add(1)
	return &PipelineState{root: desc.Root, g: g}, nil
}

// NewComputePipelineState compiles a compute pipeline.
func (d *Device) NewComputePipelineState(desc *ComputePipelineDesc) (*PipelineState, error) {
	if len(desc.CS) == 0 {
		return nil, errors.Wrap(ErrInvalid, "compute pipeline without compute shader")
	}
	d.stats.pipelines.Add(1)
	return &PipelineState{root: desc.Root, compute: true}, nil
}

// Compute returns whether p is a compute pipeline.
func (p *PipelineState) Compute() bool { return p.compute }

// Root returns the root signature of p.
func (p *PipelineState) Root() *RootSignature { return p.root }

// RTFormats returns the render target formats of a
// graphics pipeline.
func (p *PipelineState) RTFormats() []gputypes.TextureFormat { return p.g.RTFormats }
