// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"bytes"
	"testing"
)

func TestFormat(t *testing.T) {
	for _, x := range [...]struct {
		f                     Format
		size                  int
		depth, stencil, color bool
	}{
		{FUnknown, 0, false, false, false},
		{RGBA8un, 4, false, false, true},
		{BGRA8sRGB, 4, false, false, true},
		{R8un, 1, false, false, true},
		{RGBA16f, 8, false, false, true},
		{RGBA32f, 16, false, false, true},
		{RG11B10f, 4, false, false, true},
		{D16un, 2, true, false, false},
		{D32f, 4, true, false, false},
		{D24unS8ui, 4, true, true, false},
		{D32fS8ui, 8, true, true, false},
	} {
		if n := x.f.Size(); n != x.size {
			t.Fatalf("%v.Size:\nhave %d\nwant %d", x.f, n, x.size)
		}
		if b := x.f.IsDepth(); b != x.depth {
			t.Fatalf("%v.IsDepth:\nhave %t\nwant %t", x.f, b, x.depth)
		}
		if b := x.f.HasStencil(); b != x.stencil {
			t.Fatalf("%v.HasStencil:\nhave %t\nwant %t", x.f, b, x.stencil)
		}
		if b := x.f.IsColor(); b != x.color {
			t.Fatalf("%v.IsColor:\nhave %t\nwant %t", x.f, b, x.color)
		}
	}
	if Format(-1).Valid() || formatCount.Valid() {
		t.Fatal("Format.Valid: out of range format reported valid")
	}
	if s := Format(999).String(); s != "Format(999)" {
		t.Fatalf("Format.String:\nhave %s\nwant Format(999)", s)
	}
}

func TestHeadless(t *testing.T) {
	s := NewHeadless(4, 2)
	if w, h := s.Size(); w != 4 || h != 2 {
		t.Fatalf("Headless.Size:\nhave %d, %d\nwant 4, 2", w, h)
	}
	if _, n := s.Last(); n != 0 {
		t.Fatalf("Headless.Last: count:\nhave %d\nwant 0", n)
	}
	pix := bytes.Repeat([]byte{1, 2, 3, 4}, 8)
	if err := s.Present(&Image{Width: 4, Height: 2, RowPitch: 16, Format: RGBA8un, Pix: pix}); err != nil {
		t.Fatalf("Headless.Present: %v", err)
	}
	// The surface must not alias the caller's memory.
	pix[0] = 0xff
	img, n := s.Last()
	if n != 1 {
		t.Fatalf("Headless.Last: count:\nhave %d\nwant 1", n)
	}
	if img.Width != 4 || img.Height != 2 || img.RowPitch != 16 || img.Format != RGBA8un {
		t.Fatalf("Headless.Last: unexpected image header %+v", img)
	}
	if img.Pix[0] != 1 {
		t.Fatalf("Headless.Last: Pix[0]:\nhave %d\nwant 1", img.Pix[0])
	}
	s.SetSize(8, 8)
	if w, h := s.Size(); w != 8 || h != 8 {
		t.Fatalf("Headless.SetSize:\nhave %d, %d\nwant 8, 8", w, h)
	}
}
