// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package conv converts driver types into the types of
// the reference device.
package conv

import (
	"github.com/gogpu/gputypes"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/refdev"
)

// Format converts a driver.Format.
// It returns gputypes.TextureFormatUndefined for invalid
// formats.
func Format(f driver.Format) gputypes.TextureFormat {
	switch f {
	case driver.RGBA8un:
		return gputypes.TextureFormatRGBA8Unorm
	case driver.RGBA8n:
		return gputypes.TextureFormatRGBA8Snorm
	case driver.RGBA8ui:
		return gputypes.TextureFormatRGBA8Uint
	case driver.RGBA8sRGB:
		return gputypes.TextureFormatRGBA8UnormSrgb
	case driver.BGRA8un:
		return gputypes.TextureFormatBGRA8Unorm
	case driver.BGRA8sRGB:
		return gputypes.TextureFormatBGRA8UnormSrgb
	case driver.RG8un:
		return gputypes.TextureFormatRG8Unorm
	case driver.R8un:
		return gputypes.TextureFormatR8Unorm
	case driver.R8ui:
		return gputypes.TextureFormatR8Uint
	case driver.RGBA16f:
		return gputypes.TextureFormatRGBA16Float
	case driver.RG16f:
		return gputypes.TextureFormatRG16Float
	case driver.R16f:
		return gputypes.TextureFormatR16Float
	case driver.R16ui:
		return gputypes.TextureFormatR16Uint
	case driver.RGBA32f:
		return gputypes.TextureFormatRGBA32Float
	case driver.RG32f:
		return gputypes.TextureFormatRG32Float
	case driver.R32f:
		return gputypes.TextureFormatR32Float
	case driver.RGBA32ui:
		return gputypes.TextureFormatRGBA32Uint
	case driver.R32ui:
		return gputypes.TextureFormatR32Uint
	case driver.RGB10A2un:
		return gputypes.TextureFormatRGB10A2Unorm
	case driver.RG11B10f:
		return gputypes.TextureFormatRG11B10Ufloat
	case driver.D16un:
		return gputypes.TextureFormatDepth16Unorm
	case driver.D32f:
		return gputypes.TextureFormatDepth32Float
	case driver.D24unS8ui:
		return gputypes.TextureFormatDepth24PlusStencil8
	case driver.D32fS8ui:
		return gputypes.TextureFormatDepth32FloatStencil8
	}
	return gputypes.TextureFormatUndefined
}

// Dimension converts a driver.TextureType.
func Dimension(t driver.TextureType) gputypes.TextureDimension {
	switch t {
	case driver.Texture1D:
		return gputypes.TextureDimension1D
	case driver.Texture3D:
		return gputypes.TextureDimension3D
	}
	return gputypes.TextureDimension2D
}

// TextureUsage converts texture bind flags.
// Every texture can be copied.
func TextureUsage(b driver.BindFlag) gputypes.TextureUsage {
	u := gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	if b&driver.BindShaderResource != 0 {
		u |= gputypes.TextureUsageTextureBinding
	}
	if b&driver.BindUnorderedAccess != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	if b&(driver.BindRenderTarget|driver.BindDepthStencil) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	return u
}

// BufferUsage converts buffer bind flags and misc flags.
// Every buffer can be copied.
func BufferUsage(b driver.BindFlag, m driver.MiscFlag) gputypes.BufferUsage {
	u := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	if b&driver.BindVertexBuffer != 0 {
		u |= gputypes.BufferUsageVertex
	}
	if b&driver.BindIndexBuffer != 0 {
		u |= gputypes.BufferUsageIndex
	}
	if b&driver.BindConstantBuffer != 0 {
		u |= gputypes.BufferUsageUniform
	}
	if b&(driver.BindShaderResource|driver.BindUnorderedAccess) != 0 {
		u |= gputypes.BufferUsageStorage
	}
	if m&driver.MiscIndirectArgs != 0 {
		u |= gputypes.BufferUsageIndirect
	}
	return u
}

// BufferDesc converts a driver.BufferDesc.
func BufferDesc(d *driver.BufferDesc) gputypes.BufferDescriptor {
	return gputypes.BufferDescriptor{
		Size:  uint64(d.Size),
		Usage: BufferUsage(d.Bind, d.Misc),
	}
}

// TextureDesc converts a driver.TextureDesc.
func TextureDesc(d *driver.TextureDesc) gputypes.TextureDescriptor {
	depth := max(d.ArraySize, 1)
	if d.Type == driver.Texture3D {
		depth = max(d.Depth, 1)
	}
	return gputypes.TextureDescriptor{
		Size: gputypes.Extent3D{
			Width:              uint32(max(d.Width, 1)),
			Height:             uint32(max(d.Height, 1)),
			DepthOrArrayLayers: uint32(depth),
		},
		MipLevelCount: uint32(max(d.MipLevels, 1)),
		SampleCount:   uint32(max(d.Samples, 1)),
		Dimension:     Dimension(d.Type),
		Format:        Format(d.Format),
		Usage:         TextureUsage(d.Bind),
	}
}

func filter(f driver.Filter) gputypes.FilterMode {
	if f == driver.FLinear {
		return gputypes.FilterModeLinear
	}
	return gputypes.FilterModeNearest
}

func addrMode(a driver.AddrMode) gputypes.AddressMode {
	switch a {
	case driver.AMirror:
		return gputypes.AddressModeMirrorRepeat
	case driver.AClamp:
		return gputypes.AddressModeClampToEdge
	}
	return gputypes.AddressModeRepeat
}

// CmpFunc converts a driver.CmpFunc.
func CmpFunc(c driver.CmpFunc) gputypes.CompareFunction {
	switch c {
	case driver.CNever:
		return gputypes.CompareFunctionNever
	case driver.CLess:
		return gputypes.CompareFunctionLess
	case driver.CEqual:
		return gputypes.CompareFunctionEqual
	case driver.CLessEqual:
		return gputypes.CompareFunctionLessEqual
	case driver.CGreater:
		return gputypes.CompareFunctionGreater
	case driver.CNotEqual:
		return gputypes.CompareFunctionNotEqual
	case driver.CGreaterEqual:
		return gputypes.CompareFunctionGreaterEqual
	}
	return gputypes.CompareFunctionAlways
}

// Sampler converts a driver.SamplerDesc.
func Sampler(d *driver.SamplerDesc) gputypes.SamplerDescriptor {
	s := gputypes.SamplerDescriptor{
		AddressModeU:  addrMode(d.AddrU),
		AddressModeV:  addrMode(d.AddrV),
		AddressModeW:  addrMode(d.AddrW),
		MagFilter:     filter(d.Mag),
		MinFilter:     filter(d.Min),
		MipmapFilter:  gputypes.MipmapFilterModeNearest,
		LodMinClamp:   d.MinLOD,
		LodMaxClamp:   d.MaxLOD,
		MaxAnisotropy: uint16(min(max(d.MaxAniso, 1), 16)),
	}
	if d.Mipmap == driver.FLinear {
		s.MipmapFilter = gputypes.MipmapFilterModeLinear
	}
	if d.Compare {
		s.Compare = CmpFunc(d.Cmp)
	}
	return s
}

// Topology converts a driver.Topology.
// Patch lists have no equivalent and are reported by
// the boolean result.
func Topology(t driver.Topology) (gputypes.PrimitiveTopology, bool) {
	switch t {
	case driver.TPoint:
		return gputypes.PrimitiveTopologyPointList, false
	case driver.TLine:
		return gputypes.PrimitiveTopologyLineList, false
	case driver.TLnStrip:
		return gputypes.PrimitiveTopologyLineStrip, false
	case driver.TTriStrip:
		return gputypes.PrimitiveTopologyTriangleStrip, false
	case driver.TPatch:
		return gputypes.PrimitiveTopologyTriangleList, true
	}
	return gputypes.PrimitiveTopologyTriangleList, false
}

// CullMode converts a driver.CullMode.
func CullMode(c driver.CullMode) gputypes.CullMode {
	switch c {
	case driver.CFront:
		return gputypes.CullModeFront
	case driver.CBack:
		return gputypes.CullModeBack
	}
	return gputypes.CullModeNone
}

// FrontFace converts the winding order of a
// driver.RasterState.
func FrontFace(clockwise bool) gputypes.FrontFace {
	if clockwise {
		return gputypes.FrontFaceCW
	}
	return gputypes.FrontFaceCCW
}

// StencilOp converts a driver.StencilOp.
func StencilOp(o driver.StencilOp) gputypes.StencilOperation {
	switch o {
	case driver.SZero:
		return gputypes.StencilOperationZero
	case driver.SReplace:
		return gputypes.StencilOperationReplace
	case driver.SIncClamp:
		return gputypes.StencilOperationIncrementClamp
	case driver.SDecClamp:
		return gputypes.StencilOperationDecrementClamp
	case driver.SInvert:
		return gputypes.StencilOperationInvert
	case driver.SIncWrap:
		return gputypes.StencilOperationIncrementWrap
	case driver.SDecWrap:
		return gputypes.StencilOperationDecrementWrap
	}
	return gputypes.StencilOperationKeep
}

func stencilFace(t *driver.StencilT) gputypes.StencilFaceState {
	return gputypes.StencilFaceState{
		Compare:     CmpFunc(t.Cmp),
		FailOp:      StencilOp(t.Fail),
		DepthFailOp: StencilOp(t.DepthFail),
		PassOp:      StencilOp(t.Pass),
	}
}

// DepthStencil converts a driver.DSState for a
// depth/stencil target of format f.
// It returns nil if both tests are disabled.
func DepthStencil(s *driver.DSState, f gputypes.TextureFormat) *gputypes.DepthStencilState {
	if !s.DepthTest && !s.StencilTest {
		return nil
	}
	ds := &gputypes.DepthStencilState{
		Format:       f,
		DepthCompare: gputypes.CompareFunctionAlways,
		StencilFront: gputypes.DefaultStencilFaceState(),
		StencilBack:  gputypes.DefaultStencilFaceState(),
	}
	if s.DepthTest {
		ds.DepthWriteEnabled = s.DepthWrite
		ds.DepthCompare = CmpFunc(s.DepthCmp)
	}
	if s.StencilTest {
		ds.StencilFront = stencilFace(&s.Front)
		ds.StencilBack = stencilFace(&s.Back)
		ds.StencilReadMask = uint32(s.ReadMask)
		ds.StencilWriteMask = uint32(s.WriteMask)
	}
	return ds
}

func blendOp(o driver.BlendOp) gputypes.BlendOperation {
	switch o {
	case driver.BSubtract:
		return gputypes.BlendOperationSubtract
	case driver.BRevSubtract:
		return gputypes.BlendOperationReverseSubtract
	case driver.BMin:
		return gputypes.BlendOperationMin
	case driver.BMax:
		return gputypes.BlendOperationMax
	}
	return gputypes.BlendOperationAdd
}

func blendFac(f driver.BlendFac) gputypes.BlendFactor {
	switch f {
	case driver.BOne:
		return gputypes.BlendFactorOne
	case driver.BSrcColor:
		return gputypes.BlendFactorSrc
	case driver.BInvSrcColor:
		return gputypes.BlendFactorOneMinusSrc
	case driver.BSrcAlpha:
		return gputypes.BlendFactorSrcAlpha
	case driver.BInvSrcAlpha:
		return gputypes.BlendFactorOneMinusSrcAlpha
	case driver.BDstColor:
		return gputypes.BlendFactorDst
	case driver.BInvDstColor:
		return gputypes.BlendFactorOneMinusDst
	case driver.BDstAlpha:
		return gputypes.BlendFactorDstAlpha
	case driver.BInvDstAlpha:
		return gputypes.BlendFactorOneMinusDstAlpha
	case driver.BSrcAlphaSaturated:
		return gputypes.BlendFactorSrcAlphaSaturated
	case driver.BBlendFactor:
		return gputypes.BlendFactorConstant
	case driver.BInvBlendFactor:
		return gputypes.BlendFactorOneMinusConstant
	}
	return gputypes.BlendFactorZero
}

// BlendTargets returns the number of render targets b
// enables blending for, up to the last one that does.
// Without independent blend only Color[0] counts.
func BlendTargets(b *driver.BlendState) int {
	if !b.IndependentBlend {
		if b.Color[0].Blend {
			return 1
		}
		return 0
	}
	for i := len(b.Color) - 1; i >= 0; i-- {
		if b.Color[i].Blend {
			return i + 1
		}
	}
	return 0
}

// ColorTargets converts a driver.BlendState into one
// target state per format in fmts.
// Without independent blend every target uses Color[0].
// A nil format slice yields the blend states alone, one
// per target counted by BlendTargets.
func ColorTargets(b *driver.BlendState, fmts []gputypes.TextureFormat) []gputypes.ColorTargetState {
	n := len(fmts)
	if fmts == nil {
		n = BlendTargets(b)
	}
	ts := make([]gputypes.ColorTargetState, n)
	for i := range ts {
		c := &b.Color[0]
		if b.IndependentBlend {
			c = &b.Color[i]
		}
		if fmts != nil {
			ts[i].Format = fmts[i]
		}
		ts[i].WriteMask = gputypes.ColorWriteMask(c.WriteMask & driver.CAll)
		if c.Blend {
			ts[i].Blend = &gputypes.BlendState{
				Color: gputypes.BlendComponent{
					SrcFactor: blendFac(c.SrcFac[0]),
					DstFactor: blendFac(c.DstFac[0]),
					Operation: blendOp(c.Op[0]),
				},
				Alpha: gputypes.BlendComponent{
					SrcFactor: blendFac(c.SrcFac[1]),
					DstFactor: blendFac(c.DstFac[1]),
					Operation: blendOp(c.Op[1]),
				},
			}
		}
	}
	return ts
}

// VertexFormat converts a driver.VertexFmt.
func VertexFormat(f driver.VertexFmt) gputypes.VertexFormat {
	switch f {
	case driver.Float32:
		return gputypes.VertexFormatFloat32
	case driver.Float32x2:
		return gputypes.VertexFormatFloat32x2
	case driver.Float32x3:
		return gputypes.VertexFormatFloat32x3
	case driver.Float32x4:
		return gputypes.VertexFormatFloat32x4
	case driver.UInt32:
		return gputypes.VertexFormatUint32
	case driver.UInt32x2:
		return gputypes.VertexFormatUint32x2
	case driver.UInt32x3:
		return gputypes.VertexFormatUint32x3
	case driver.UInt32x4:
		return gputypes.VertexFormatUint32x4
	case driver.UNorm8x4:
		return gputypes.VertexFormatUnorm8x4
	case driver.UInt16x2:
		return gputypes.VertexFormatUint16x2
	case driver.UInt16x4:
		return gputypes.VertexFormatUint16x4
	}
	return gputypes.VertexFormatUndefined
}

// VertexLayouts converts vertex inputs into one layout
// per vertex buffer slot, up to the last slot in use.
// The stride of a layout is the smallest one that holds
// every input of its slot. Shader locations follow the
// order of in.
// Slots that no input reads have a zero stride and
// gputypes.VertexStepModeVertexBufferNotUsed.
func VertexLayouts(in []driver.VertexIn) []gputypes.VertexBufferLayout {
	n := 0
	for _, v := range in {
		n = max(n, v.Slot+1)
	}
	ls := make([]gputypes.VertexBufferLayout, n)
	for i := range ls {
		ls[i].StepMode = gputypes.VertexStepModeVertexBufferNotUsed
	}
	for i, v := range in {
		l := &ls[v.Slot]
		f := VertexFormat(v.Format)
		l.Attributes = append(l.Attributes, gputypes.VertexAttribute{
			Format:         f,
			Offset:         uint64(v.Offset),
			ShaderLocation: uint32(i),
		})
		l.ArrayStride = max(l.ArrayStride, uint64(v.Offset)+f.Size())
		l.StepMode = gputypes.VertexStepModeVertex
		if v.PerInstance {
			l.StepMode = gputypes.VertexStepModeInstance
		}
	}
	return ls
}

// IndexFormat converts a driver.IndexFmt.
func IndexFormat(f driver.IndexFmt) gputypes.IndexFormat {
	if f == driver.Index32 {
		return gputypes.IndexFormatUint32
	}
	return gputypes.IndexFormatUint16
}

// Stage converts a driver.Stage.
func Stage(s driver.Stage) refdev.Stage {
	switch s {
	case driver.VS:
		return refdev.StageVS
	case driver.HS:
		return refdev.StageHS
	case driver.DS:
		return refdev.StageDS
	case driver.GS:
		return refdev.StageGS
	case driver.PS:
		return refdev.StagePS
	}
	return refdev.StageCS
}

// State converts a driver.State.
func State(s driver.State) refdev.ResourceStates {
	switch s {
	case driver.StateVertexConstant:
		return refdev.StateVertexAndConstantBuffer
	case driver.StateIndex:
		return refdev.StateIndexBuffer
	case driver.StateRenderTarget:
		return refdev.StateRenderTarget
	case driver.StateUnorderedAccess:
		return refdev.StateUnorderedAccess
	case driver.StateDepthWrite:
		return refdev.StateDepthWrite
	case driver.StateDepthRead:
		return refdev.StateDepthRead
	case driver.StateShaderResource:
		return refdev.StateShaderResource
	case driver.StateIndirect:
		return refdev.StateIndirectArgument
	case driver.StateCopySrc:
		return refdev.StateCopySource
	case driver.StateCopyDst:
		return refdev.StateCopyDest
	case driver.StatePresent:
		return refdev.StatePresent
	}
	return refdev.StateCommon
}

// HomeState returns the state a resource with the given
// bind flags is kept in between command lists.
// Read-only bindings combine, so that sampling a texture
// or fetching vertices requires no transition. Resources
// that are only written to or copied rest in
// refdev.StateCommon.
func HomeState(b driver.BindFlag, m driver.MiscFlag) refdev.ResourceStates {
	var s refdev.ResourceStates
	if b&(driver.BindVertexBuffer|driver.BindConstantBuffer) != 0 {
		s |= refdev.StateVertexAndConstantBuffer
	}
	if b&driver.BindIndexBuffer != 0 {
		s |= refdev.StateIndexBuffer
	}
	if b&driver.BindShaderResource != 0 {
		s |= refdev.StateShaderResource
	}
	if m&driver.MiscIndirectArgs != 0 {
		s |= refdev.StateIndirectArgument
	}
	if s != 0 {
		return s
	}
	switch {
	case b&driver.BindRenderTarget != 0:
		return refdev.StateRenderTarget
	case b&driver.BindDepthStencil != 0:
		return refdev.StateDepthWrite
	case b&driver.BindUnorderedAccess != 0:
		return refdev.StateUnorderedAccess
	}
	return refdev.StateCommon
}
