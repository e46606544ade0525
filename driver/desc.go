// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

// BindFlag is a mask indicating how a resource can be
// bound to the pipeline.
type BindFlag int

// Bind flags for buffers and textures.
const (
	// Valid only for buffers.
	BindVertexBuffer BindFlag = 1 << iota
	// Valid only for buffers.
	BindIndexBuffer
	// Valid only for buffers.
	BindConstantBuffer
	BindShaderResource
	BindRenderTarget
	BindDepthStencil
	BindUnorderedAccess
)

// Usage describes the expected update frequency of a
// resource and who can read/write it.
type Usage int

// Usages.
const (
	// Read and written by the GPU.
	UsageDefault Usage = iota
	// Initialized at creation and never modified.
	UsageImmutable
	// Written by the CPU every frame (or more often).
	UsageDynamic
	// Transfer target/source for CPU access.
	UsageStaging
)

// CPUAccess is a mask indicating CPU access to a
// resource.
type CPUAccess int

// CPU access flags.
const (
	CPURead CPUAccess = 1 << iota
	CPUWrite
)

// MiscFlag is a mask of additional resource options.
type MiscFlag int

// Misc flags.
const (
	// Valid only for 2D textures whose array size is a
	// multiple of 6.
	MiscTextureCube MiscFlag = 1 << iota
	// Valid only for buffers. Requires Stride.
	MiscBufferStructured
	// Valid only for buffers.
	MiscBufferRaw
	// The buffer can hold arguments of indirect draws
	// and dispatches.
	MiscIndirectArgs
	// Not supported by any backend; creation fails.
	MiscTiled
	// Creates one additional view per array slice
	// (or cube face) of a texture.
	MiscIndependentSlices
	// Creates one additional view per mip level of a
	// texture. It cannot be combined with
	// MiscIndependentSlices.
	MiscIndependentMips
)

// BufferDesc describes a buffer.
type BufferDesc struct {
	Size      int64
	Usage     Usage
	Bind      BindFlag
	CPUAccess CPUAccess
	Misc      MiscFlag
	// Stride is the element size of structured buffers.
	Stride int
	// Format is the element format of typed buffer
	// views. FUnknown selects raw/structured views.
	Format Format
}

// TextureType is the type of texture dimensionality.
type TextureType int

// Texture types.
const (
	Texture1D TextureType = iota
	Texture2D
	Texture3D
)

// TextureDesc describes a texture.
// For 3D textures, Depth must be at least 1 and
// ArraySize must be 1. For 1D textures, Height and Depth
// must be 1.
type TextureDesc struct {
	Type      TextureType
	Width     int
	Height    int
	Depth     int
	ArraySize int
	MipLevels int
	Samples   int
	Format    Format
	Usage     Usage
	Bind      BindFlag
	CPUAccess CPUAccess
	Misc      MiscFlag
}

// Subresources returns the number of subresources
// described by d.
func (d *TextureDesc) Subresources() int {
	return max(d.MipLevels, 1) * max(d.ArraySize, 1)
}

// SubresourceData holds initial data of a single
// subresource.
// RowPitch is the distance in bytes between rows, and
// SlicePitch between depth slices (3D textures only).
// Zero pitches mean tightly packed data.
type SubresourceData struct {
	Data       []byte
	RowPitch   int
	SlicePitch int
}

// Filter is the type of sampler filters.
type Filter int

// Filters.
const (
	FNearest Filter = iota
	FLinear
)

// AddrMode is the type of sampler address modes.
type AddrMode int

// Address modes.
const (
	AWrap AddrMode = iota
	AMirror
	AClamp
)

// SamplerDesc describes a sampler.
// Cmp is ignored unless Compare is set.
type SamplerDesc struct {
	Min      Filter
	Mag      Filter
	Mipmap   Filter
	AddrU    AddrMode
	AddrV    AddrMode
	AddrW    AddrMode
	MaxAniso int
	Compare  bool
	Cmp      CmpFunc
	MinLOD   float32
	MaxLOD   float32
}

// Stage is the type of shader stages.
type Stage int

// Shader stages.
const (
	VS Stage = iota
	HS
	DS
	GS
	PS
	CS
	// Number of shader stages.
	Stages
)

func (s Stage) String() string {
	switch s {
	case VS:
		return "VS"
	case HS:
		return "HS"
	case DS:
		return "DS"
	case GS:
		return "GS"
	case PS:
		return "PS"
	case CS:
		return "CS"
	}
	return "Stage(?)"
}

// Binding slot limits per shader stage.
const (
	MaxCBVs          = 14
	MaxSRVs          = 64
	MaxUAVs          = 8
	MaxSamplers      = 16
	MaxRenderTargets = 8
	MaxVertexBuffers = 16
	MaxViewports     = 16
)

// ShaderCode is opaque shader bytecode.
// Its meaning is backend-specific.
type ShaderCode struct {
	Code  []byte
	Entry string
}

// VertexFmt is the type of vertex formats.
type VertexFmt int

// Vertex formats.
const (
	Float32 VertexFmt = iota
	Float32x2
	Float32x3
	Float32x4
	UInt32
	UInt32x2
	UInt32x3
	UInt32x4
	UNorm8x4
	UInt16x2
	UInt16x4
)

// VertexIn describes a vertex input.
type VertexIn struct {
	Format VertexFmt
	// Slot is the vertex buffer slot the input is
	// fetched from.
	Slot   int
	Offset int
	// PerInstance selects per-instance stepping.
	PerInstance bool
	Name        string
}

// Topology is the type of primitive topologies,
// which determines how vertex data is assembled.
type Topology int

// Primitive topologies.
const (
	TPoint Topology = iota
	TLine
	TLnStrip
	TTriangle
	TTriStrip
	// Patch lists require hull and domain shaders.
	TPatch
)

// IndexFmt describes the format of index buffer data.
type IndexFmt int

// Index formats.
const (
	Index16 IndexFmt = 2
	Index32 IndexFmt = 4
)

// Viewport defines the bounds of a viewport.
type Viewport struct {
	X, Y, Width, Height, Znear, Zfar float32
}

// Scissor defines a scissor rectangle.
type Scissor struct {
	X, Y, Width, Height int
}

// CullMode is the type of cull modes.
type CullMode int

// Cull modes.
const (
	CNone CullMode = iota
	CFront
	CBack
)

// FillMode is the type of triangle fill modes.
type FillMode int

// Triangle fill modes.
const (
	FFill FillMode = iota
	FLines
)

// RasterState defines the rasterization state of a
// graphics pipeline.
type RasterState struct {
	Clockwise bool
	Cull      CullMode
	Fill      FillMode
	DepthBias bool
	BiasValue float32
	BiasSlope float32
	BiasClamp float32
	// Conservative enables conservative rasterization.
	// It requires CapConservativeRaster.
	Conservative bool
}

// CmpFunc is the type of comparison functions.
type CmpFunc int

// Comparison functions.
const (
	CNever CmpFunc = iota
	CLess
	CEqual
	CLessEqual
	CGreater
	CNotEqual
	CGreaterEqual
	CAlways
)

// StencilOp is the type of stencil operations.
type StencilOp int

// Stencil operations.
const (
	SKeep StencilOp = iota
	SZero
	SReplace
	SIncClamp
	SDecClamp
	SInvert
	SIncWrap
	SDecWrap
)

// StencilT defines stencil test parameters.
type StencilT struct {
	Fail      StencilOp
	DepthFail StencilOp
	Pass      StencilOp
	Cmp       CmpFunc
}

// DSState defines the depth/stencil state of a
// graphics pipeline.
type DSState struct {
	DepthTest   bool
	DepthWrite  bool
	DepthCmp    CmpFunc
	StencilTest bool
	ReadMask    uint8
	WriteMask   uint8
	Front       StencilT
	Back        StencilT
}

// BlendOp is the type of blend operations.
type BlendOp int

// Blend operations.
const (
	BAdd BlendOp = iota
	BSubtract
	BRevSubtract
	BMin
	BMax
)

// BlendFac is the type of blend factors.
type BlendFac int

// Blend factors.
const (
	BZero BlendFac = iota
	BOne
	BSrcColor
	BInvSrcColor
	BSrcAlpha
	BInvSrcAlpha
	BDstColor
	BInvDstColor
	BDstAlpha
	BInvDstAlpha
	BSrcAlphaSaturated
	BBlendFactor
	BInvBlendFactor
)

// ColorMask is the type of a color write mask.
type ColorMask int

// Color write masks.
const (
	CRed ColorMask = 1 << iota
	CGreen
	CBlue
	CAlpha
	CAll ColorMask = 1<<iota - 1
)

// ColorBlend defines the blend parameters of a render
// target. In the arrays, [0] is for color and [1] is
// for alpha.
type ColorBlend struct {
	Blend     bool
	WriteMask ColorMask
	Op        [2]BlendOp
	SrcFac    [2]BlendFac
	DstFac    [2]BlendFac
}

// BlendState defines the color blend state of a
// graphics pipeline.
// If IndependentBlend is false, only Color[0] is used.
type BlendState struct {
	AlphaToCoverage  bool
	IndependentBlend bool
	Color            [MaxRenderTargets]ColorBlend
}

// GraphicsPSODesc describes a graphics pipeline state.
// Render target formats are not part of the description:
// backends that need them derive the final pipeline from
// the render targets bound when drawing.
type GraphicsPSODesc struct {
	VS           ShaderCode
	HS           ShaderCode
	DS           ShaderCode
	GS           ShaderCode
	PS           ShaderCode
	Input        []VertexIn
	Topology     Topology
	Raster       RasterState
	DepthStencil DSState
	Blend        BlendState
	Samples      int
}

// ComputePSODesc describes a compute pipeline state.
type ComputePSODesc struct {
	CS ShaderCode
}

// QueryType is the type of GPU queries.
type QueryType int

// Query types.
const (
	// Result is a GPU timestamp in ticks.
	QueryTimestamp QueryType = iota
	// Result is the timestamp frequency in ticks per
	// second. It brackets timestamp queries.
	QueryTimestampDisjoint
	// Result is the number of samples that passed.
	QueryOcclusion
	// Result is 1 if any sample passed, 0 otherwise.
	QueryOcclusionPredicate
)

// QueryDesc describes a query.
type QueryDesc struct {
	Type QueryType
}

// Box defines a region of a subresource.
// Right, Bottom and Back are exclusive.
type Box struct {
	Left, Top, Front, Right, Bottom, Back int
}

// ClearFlag selects the aspects cleared by
// ClearDepthStencil.
type ClearFlag int

// Clear flags.
const (
	ClearDepth ClearFlag = 1 << iota
	ClearStencil
)
