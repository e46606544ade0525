// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"github.com/pkg/errors"
)

// Size returns the size in bytes of f, or 0 if f is not
// a valid VertexFmt.
func (f VertexFmt) Size() int {
	switch f {
	case Float32, UInt32, UNorm8x4, UInt16x2:
		return 4
	case Float32x2, UInt32x2, UInt16x4:
		return 8
	case Float32x3, UInt32x3:
		return 12
	case Float32x4, UInt32x4:
		return 16
	}
	return 0
}

// CheckInput validates the vertex inputs of a graphics
// pipeline.
func CheckInput(in []VertexIn) error {
	for i := range in {
		v := &in[i]
		switch {
		case v.Format.Size() == 0:
			return errors.Wrapf(ErrDesc, "vertex input %d (%q): invalid format", i, v.Name)
		case v.Slot < 0 || v.Slot >= MaxVertexBuffers:
			return errors.Wrapf(ErrDesc, "vertex input %d (%q): slot %d out of range", i, v.Name, v.Slot)
		case v.Offset < 0:
			return errors.Wrapf(ErrDesc, "vertex input %d (%q): negative offset", i, v.Name)
		}
	}
	return nil
}

// CheckStride validates the stride of the vertex buffer
// bound to slot against the extent of the inputs the
// pipeline reads from it.
// Inputs carry no stride of their own, so a bound stride
// matches when it holds every input of the slot.
func CheckStride(slot, stride, extent int) error {
	if stride < extent {
		return errors.Wrapf(ErrDesc, "vertex buffer %d: stride %d, inputs span %d bytes", slot, stride, extent)
	}
	return nil
}
