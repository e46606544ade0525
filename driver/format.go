// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

import "fmt"

// Format describes the format of a texel or of a typed
// buffer element.
type Format int

// Formats.
const (
	// FUnknown is used by untyped resources (e.g.,
	// raw and structured buffers).
	FUnknown Format = iota
	// Color, 8-bit channels.
	RGBA8un
	RGBA8n
	RGBA8ui
	RGBA8sRGB
	BGRA8un
	BGRA8sRGB
	RG8un
	R8un
	R8ui
	// Color, 16-bit channels.
	RGBA16f
	RG16f
	R16f
	R16ui
	// Color, 32-bit channels.
	RGBA32f
	RG32f
	R32f
	RGBA32ui
	R32ui
	// Color, packed.
	RGB10A2un
	RG11B10f
	// Depth/Stencil.
	D16un
	D32f
	D24unS8ui
	D32fS8ui
	formatCount
)

var formatInfo = [formatCount]struct {
	name    string
	size    int
	depth   bool
	stencil bool
}{
	FUnknown:  {"Unknown", 0, false, false},
	RGBA8un:   {"RGBA8un", 4, false, false},
	RGBA8n:    {"RGBA8n", 4, false, false},
	RGBA8ui:   {"RGBA8ui", 4, false, false},
	RGBA8sRGB: {"RGBA8sRGB", 4, false, false},
	BGRA8un:   {"BGRA8un", 4, false, false},
	BGRA8sRGB: {"BGRA8sRGB", 4, false, false},
	RG8un:     {"RG8un", 2, false, false},
	R8un:      {"R8un", 1, false, false},
	R8ui:      {"R8ui", 1, false, false},
	RGBA16f:   {"RGBA16f", 8, false, false},
	RG16f:     {"RG16f", 4, false, false},
	R16f:      {"R16f", 2, false, false},
	R16ui:     {"R16ui", 2, false, false},
	RGBA32f:   {"RGBA32f", 16, false, false},
	RG32f:     {"RG32f", 8, false, false},
	R32f:      {"R32f", 4, false, false},
	RGBA32ui:  {"RGBA32ui", 16, false, false},
	R32ui:     {"R32ui", 4, false, false},
	RGB10A2un: {"RGB10A2un", 4, false, false},
	RG11B10f:  {"RG11B10f", 4, false, false},
	D16un:     {"D16un", 2, true, false},
	D32f:      {"D32f", 4, true, false},
	D24unS8ui: {"D24unS8ui", 4, true, true},
	D32fS8ui:  {"D32fS8ui", 8, true, true},
}

// Valid returns whether f is a known format.
func (f Format) Valid() bool { return f >= 0 && f < formatCount }

// Size returns the size in bytes of a texel (or element)
// of format f. It returns 0 for FUnknown.
func (f Format) Size() int {
	if !f.Valid() {
		return 0
	}
	return formatInfo[f].size
}

// IsDepth returns whether f has a depth aspect.
func (f Format) IsDepth() bool { return f.Valid() && formatInfo[f].depth }

// HasStencil returns whether f has a stencil aspect.
func (f Format) HasStencil() bool { return f.Valid() && formatInfo[f].stencil }

// IsColor returns whether f is a color format.
func (f Format) IsColor() bool { return f.Valid() && f != FUnknown && !formatInfo[f].depth }

func (f Format) String() string {
	if !f.Valid() {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatInfo[f].name
}
