// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

// Cap is a mask of optional backend capabilities.
type Cap int

// Capabilities.
const (
	CapConservativeRaster Cap = 1 << iota
	CapRasterizerOrderedViews
	// Typed UAV loads of the common formats (32-bit
	// single channel formats are always supported).
	CapTypedUAVLoad
	// Typed UAV loads of RG11B10f.
	CapTypedUAVLoadRG11B10
	CapTessellation
	// Region copies between textures. When missing,
	// region copies fall back to whole subresource
	// copies.
	CapRegionCopy
	CapIndirect
	CapQueries
)

// Caps describes the capabilities and limits of a GPU.
// They are immutable for the lifetime of the GPU.
type Caps struct {
	Features Cap

	MaxTexture1D int
	MaxTexture2D int
	MaxTexture3D int
	MaxArraySize int
	// Row pitch alignment of buffer/texture copies.
	CopyPitchAlign int
	// Alignment of constant buffer offsets.
	ConstantAlign int

	// Formats whose typed UAV loads are supported
	// regardless of CapTypedUAVLoad.
	UAVLoadFormats []Format
}

// Has returns whether every capability in c is
// supported.
func (c *Caps) Has(x Cap) bool { return c.Features&x == x }

// TypedUAVLoad returns whether typed UAV loads of f are
// supported.
func (c *Caps) TypedUAVLoad(f Format) bool {
	for _, x := range c.UAVLoadFormats {
		if x == f {
			return true
		}
	}
	switch f {
	case R32f, R32ui:
		return true
	case RG11B10f:
		return c.Has(CapTypedUAVLoadRG11B10)
	case RGBA32f, RGBA16f, R16f, RGBA8un, RGBA8ui, R8un, R16ui, RGBA32ui, R8ui, RG16f, RG32f:
		return c.Has(CapTypedUAVLoad)
	}
	return false
}
