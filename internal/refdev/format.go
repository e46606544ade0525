// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package refdev

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/gputypes"
)

type formatInfo struct {
	size    int
	depth   bool
	stencil bool
	// Encodes a color. Nil for depth formats.
	enc func(dst []byte, c [4]float64)
}

var formats = map[gputypes.TextureFormat]formatInfo{
	gputypes.TextureFormatRGBA8Unorm:     {4, false, false, encUnorm8},
	gputypes.TextureFormatRGBA8UnormSrgb: {4, false, false, encSrgb8},
	gputypes.TextureFormatRGBA8Snorm:     {4, false, false, encSnorm8},
	gputypes.TextureFormatRGBA8Uint:      {4, false, false, encUint8},
	gputypes.TextureFormatBGRA8Unorm:     {4, false, false, encBGRA(encUnorm8)},
	gputypes.TextureFormatBGRA8UnormSrgb: {4, false, false, encBGRA(encSrgb8)},
	gputypes.TextureFormatRG8Unorm:       {2, false, false, encUnorm8},
	gputypes.TextureFormatR8Unorm:        {1, false, false, encUnorm8},
	gputypes.TextureFormatR8Uint:         {1, false, false, encUint8},
	gputypes.TextureFormatRGBA16Float:    {8, false, false, encFloat16},
	gputypes.TextureFormatRG16Float:      {4, false, false, encFloat16},
	gputypes.TextureFormatR16Float:       {2, false, false, encFloat16},
	gputypes.TextureFormatR16Uint:        {2, false, false, encUint16},
	gputypes.TextureFormatRGBA32Float:    {16, false, false, encFloat32},
	gputypes.TextureFormatRG32Float:      {8, false, false, encFloat32},
	gputypes.TextureFormatR32Float:       {4, false, false, encFloat32},
	gputypes.TextureFormatRGBA32Uint:     {16, false, false, encUint32},
	gputypes.TextureFormatR32Uint:        {4, false, false, encUint32},
	gputypes.TextureFormatRGB10A2Unorm:   {4, false, false, encRGB10A2},
	gputypes.TextureFormatRG11B10Ufloat:  {4, false, false, encRG11B10},

	gputypes.TextureFormatDepth16Unorm:         {2, true, false, nil},
	gputypes.TextureFormatDepth32Float:         {4, true, false, nil},
	gputypes.TextureFormatDepth24PlusStencil8:  {4, true, true, nil},
	gputypes.TextureFormatDepth32FloatStencil8: {8, true, true, nil},
}

// FormatSize returns the size in bytes of a texel of
// format f, or 0 if the device does not support f.
func FormatSize(f gputypes.TextureFormat) int { return formats[f].size }

// IsDepth returns whether f is a supported depth format.
func IsDepth(f gputypes.TextureFormat) bool { return formats[f].depth }

// HasStencil returns whether f is a supported depth
// format with a stencil aspect.
func HasStencil(f gputypes.TextureFormat) bool { return formats[f].stencil }

func clamp01(x float64) float64 { return min(max(x, 0), 1) }

func encUnorm8(dst []byte, c [4]float64) {
	for i := range dst {
		dst[i] = byte(clamp01(c[i])*255 + 0.5)
	}
}

func encSnorm8(dst []byte, c [4]float64) {
	for i := range dst {
		dst[i] = byte(int8(math.Round(min(max(c[i], -1), 1) * 127)))
	}
}

func encUint8(dst []byte, c [4]float64) {
	for i := range dst {
		dst[i] = byte(min(max(c[i], 0), 255))
	}
}

// linearToSrgb applies the sRGB transfer function.
func linearToSrgb(x float64) float64 {
	x = clamp01(x)
	if x <= 0.0031308 {
		return x * 12.92
	}
	return 1.055*math.Pow(x, 1/2.4) - 0.055
}

func encSrgb8(dst []byte, c [4]float64) {
	c[0] = linearToSrgb(c[0])
	c[1] = linearToSrgb(c[1])
	c[2] = linearToSrgb(c[2])
	encUnorm8(dst, c)
}

func encBGRA(enc func([]byte, [4]float64)) func([]byte, [4]float64) {
	return func(dst []byte, c [4]float64) {
		c[0], c[2] = c[2], c[0]
		enc(dst, c)
	}
}

func encUint16(dst []byte, c [4]float64) {
	for i := 0; i < len(dst)/2; i++ {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(min(max(c[i], 0), math.MaxUint16)))
	}
}

func encUint32(dst []byte, c [4]float64) {
	for i := 0; i < len(dst)/4; i++ {
		binary.LittleEndian.PutUint32(dst[4*i:], uint32(min(max(c[i], 0), math.MaxUint32)))
	}
}

func encFloat32(dst []byte, c [4]float64) {
	for i := 0; i < len(dst)/4; i++ {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(float32(c[i])))
	}
}

func encFloat16(dst []byte, c [4]float64) {
	for i := 0; i < len(dst)/2; i++ {
		binary.LittleEndian.PutUint16(dst[2*i:], Float16(float32(c[i])))
	}
}

func encRGB10A2(dst []byte, c [4]float64) {
	r := uint32(clamp01(c[0])*1023 + 0.5)
	g := uint32(clamp01(c[1])*1023 + 0.5)
	b := uint32(clamp01(c[2])*1023 + 0.5)
	a := uint32(clamp01(c[3])*3 + 0.5)
	binary.LittleEndian.PutUint32(dst, r|g<<10|b<<20|a<<30)
}

// encRG11B10 packs unsigned 11/11/10-bit floats.
// These share the exponent bias of half floats, so the
// packed values are truncated half floats.
func encRG11B10(dst []byte, c [4]float64) {
	f := func(x float64, shift uint) uint32 {
		if x <= 0 || math.IsNaN(x) {
			return 0
		}
		return uint32(Float16(float32(x))&0x7fff) >> shift
	}
	r := f(c[0], 4)
	g := f(c[1], 4)
	b := f(c[2], 5)
	binary.LittleEndian.PutUint32(dst, r|g<<11|b<<22)
}

// Float16 converts f to an IEEE 754 half float, rounding
// to nearest even. Values out of range become infinities.
func Float16(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	exp := int(b>>23&0xff) - 127 + 15
	mant := b & 0x7fffff
	switch {
	case b&0x7fffffff == 0:
		return sign
	case b>>23&0xff == 0xff:
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint(14 - exp)
		h := mant >> shift
		rem := mant & (1<<shift - 1)
		half := uint32(1) << (shift - 1)
		if rem > half || (rem == half && h&1 != 0) {
			h++
		}
		return sign | uint16(h)
	}
	h := uint32(exp)<<10 | mant>>13
	rem := mant & 0x1fff
	if rem > 0x1000 || (rem == 0x1000 && h&1 != 0) {
		h++
	}
	return sign | uint16(h)
}

// encodeColor writes c in format f to dst, which must have
// the size of one texel.
func encodeColor(f gputypes.TextureFormat, dst []byte, c [4]float64) bool {
	fi := formats[f]
	if fi.enc == nil {
		return false
	}
	fi.enc(dst, c)
	return true
}

// ClearFlags selects depth/stencil aspects.
type ClearFlags int

// Clear flags.
const (
	ClearDepth ClearFlags = 1 << iota
	ClearStencil
)

// encodeDepth writes depth and/or stencil in format f to
// dst, preserving the aspect not selected by flags.
func encodeDepth(f gputypes.TextureFormat, dst []byte, flags ClearFlags, depth float32, stencil uint8) bool {
	d := float64(min(max(depth, 0), 1))
	switch f {
	case gputypes.TextureFormatDepth16Unorm:
		if flags&ClearDepth != 0 {
			binary.LittleEndian.PutUint16(dst, uint16(d*math.MaxUint16+0.5))
		}
	case gputypes.TextureFormatDepth32Float:
		if flags&ClearDepth != 0 {
			binary.LittleEndian.PutUint32(dst, math.Float32bits(depth))
		}
	case gputypes.TextureFormatDepth24PlusStencil8:
		x := binary.LittleEndian.Uint32(dst)
		if flags&ClearDepth != 0 {
			x = x&0xff000000 | uint32(d*0xffffff+0.5)
		}
		if flags&ClearStencil != 0 {
			x = x&0xffffff | uint32(stencil)<<24
		}
		binary.LittleEndian.PutUint32(dst, x)
	case gputypes.TextureFormatDepth32FloatStencil8:
		if flags&ClearDepth != 0 {
			binary.LittleEndian.PutUint32(dst, math.Float32bits(depth))
		}
		if flags&ClearStencil != 0 {
			dst[4] = stencil
		}
	default:
		return false
	}
	return true
}
