// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

import "testing"

func TestHandle(t *testing.T) {
	for _, x := range [...]struct {
		kind  HeapKind
		tag   Backend
		index int
		gen   uint32
	}{
		{HeapRTV, BackendImm, 0, 0},
		{HeapDSV, BackendExplicit, 1, 1},
		{HeapResource, BackendExplicit, 1<<32 - 1, GenMask},
		{HeapSampler, BackendImm, 12345, 0xabcdef},
	} {
		h := NewHandle(x.kind, x.tag, x.index, x.gen)
		if h.IsNil() {
			t.Fatalf("NewHandle(%v, %v, %d, %d): nil handle", x.kind, x.tag, x.index, x.gen)
		}
		if k := h.Kind(); k != x.kind {
			t.Fatalf("Handle.Kind:\nhave %v\nwant %v", k, x.kind)
		}
		if b := h.Backend(); b != x.tag {
			t.Fatalf("Handle.Backend:\nhave %v\nwant %v", b, x.tag)
		}
		if i := h.Index(); i != x.index {
			t.Fatalf("Handle.Index:\nhave %d\nwant %d", i, x.index)
		}
		if g := h.Gen(); g != x.gen {
			t.Fatalf("Handle.Gen:\nhave %d\nwant %d", g, x.gen)
		}
	}
}

func TestHandleGenWrap(t *testing.T) {
	h := NewHandle(HeapResource, BackendImm, 7, GenMask+1)
	if g := h.Gen(); g != 0 {
		t.Fatalf("Handle.Gen:\nhave %d\nwant 0", g)
	}
	if k := h.Kind(); k != HeapResource {
		t.Fatalf("Handle.Kind: overflowed generation corrupted kind:\nhave %v\nwant %v", k, HeapResource)
	}
}

func TestHandleDistinct(t *testing.T) {
	a := NewHandle(HeapResource, BackendImm, 3, 0)
	b := NewHandle(HeapSampler, BackendImm, 3, 0)
	c := NewHandle(HeapResource, BackendExplicit, 3, 0)
	if a == b || a == c || b == c {
		t.Fatalf("NewHandle: handles of different kinds/backends compare equal: %v %v %v", a, b, c)
	}
	var z Handle
	if !z.IsNil() || z.String() != "Handle(nil)" {
		t.Fatalf("Handle(0): have %v", z)
	}
}
