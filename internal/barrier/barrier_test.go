// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package barrier

import (
	"testing"

	"github.com/gogpu/gputypes"

	"gviegas/rhi/internal/refdev"
)

type sink struct {
	calls int
	b     []refdev.ResourceBarrier
}

func (s *sink) issue(b []refdev.ResourceBarrier) {
	s.calls++
	s.b = append(s.b, b...)
}

func newRes(t *testing.T, d *refdev.Device) *refdev.Resource {
	t.Helper()
	r, err := d.NewBuffer(&gputypes.BufferDescriptor{Size: 256}, refdev.HeapDefault, refdev.StateCommon)
	if err != nil {
		t.Fatalf("refdev.Device.NewBuffer failed: %v", err)
	}
	return r
}

func TestIdempotence(t *testing.T) {
	d := refdev.New(refdev.Options{})
	r := newRes(t, d)
	const S = refdev.StateShaderResource
	const T = refdev.StateRenderTarget

	var s sink
	b := NewBatch(s.issue)
	b.Transition(r, refdev.AllSubresources, S, S)
	if n := b.Len(); n != 0 {
		t.Fatalf("Batch.Transition(S, S): Len:\nhave %d\nwant 0", n)
	}
	b.Flush()
	if s.calls != 0 || b.Issued() != 0 {
		t.Fatalf("Batch.Flush (S->S):\nhave %d calls, %d issued\nwant 0, 0", s.calls, b.Issued())
	}

	st := NewState(b)
	st.Require(r, S, T)
	st.Require(r, S, T)
	st.Restore()
	if b.Issued() != 2 || s.calls != 1 {
		t.Fatalf("State (S->T->S):\nhave %d issued in %d calls\nwant 2 in 1", b.Issued(), s.calls)
	}
	if x := s.b[0]; x.Before != S || x.After != T {
		t.Fatalf("State (S->T->S): first:\nhave %v->%v\nwant %v->%v", x.Before, x.After, S, T)
	}
	if x := s.b[1]; x.Before != T || x.After != S {
		t.Fatalf("State (S->T->S): second:\nhave %v->%v\nwant %v->%v", x.Before, x.After, T, S)
	}
	if n := st.Len(); n != 0 {
		t.Fatalf("State.Restore: Len:\nhave %d\nwant 0", n)
	}
}

func TestBatchAutoFlush(t *testing.T) {
	d := refdev.New(refdev.Options{})
	var s sink
	b := NewBatch(s.issue)
	for i := 0; i < MaxBatch+3; i++ {
		b.Transition(newRes(t, d), refdev.AllSubresources, refdev.StateCommon, refdev.StateCopyDest)
	}
	if s.calls != 1 || len(s.b) != MaxBatch {
		t.Fatalf("Batch (auto flush):\nhave %d calls, %d barriers\nwant 1, %d", s.calls, len(s.b), MaxBatch)
	}
	if n := b.Len(); n != 3 {
		t.Fatalf("Batch.Len:\nhave %d\nwant 3", n)
	}
	b.Flush()
	if s.calls != 2 || b.Issued() != MaxBatch+3 {
		t.Fatalf("Batch.Flush:\nhave %d calls, %d issued\nwant 2, %d", s.calls, b.Issued(), MaxBatch+3)
	}
}

func TestUAV(t *testing.T) {
	d := refdev.New(refdev.Options{})
	r := newRes(t, d)
	var s sink
	b := NewBatch(s.issue)
	st := NewState(b)
	home := refdev.StateShaderResource
	st.Access(r, home)
	st.Access(r, home)
	b.Flush()
	var uav, tr int
	for _, x := range s.b {
		switch x.Type {
		case refdev.BarrierUAV:
			uav++
		case refdev.BarrierTransition:
			tr++
		}
	}
	if uav != 1 || tr != 1 {
		t.Fatalf("State.Access:\nhave %d UAV and %d transition barriers\nwant 1 and 1", uav, tr)
	}
	if c := st.Current(r, home); c != refdev.StateUnorderedAccess {
		t.Fatalf("State.Current:\nhave %v\nwant %v", c, refdev.StateUnorderedAccess)
	}
	// A transition away from UAV acts as a barrier.
	st.Require(r, home, refdev.StateCopySource)
	st.UAV(r)
	b.Flush()
	if n := len(s.b); n != 3 {
		t.Fatalf("State.UAV after transition:\nhave %d barriers\nwant 3", n)
	}
}

func TestSet(t *testing.T) {
	d := refdev.New(refdev.Options{})
	r := newRes(t, d)
	var s sink
	st := NewState(NewBatch(s.issue))
	home := refdev.StateShaderResource
	if before := st.Set(r, home, refdev.StatePixelShaderResource); before != home {
		t.Fatalf("State.Set:\nhave %v\nwant %v", before, home)
	}
	if before := st.Set(r, home, refdev.StatePixelShaderResource); before != refdev.StatePixelShaderResource {
		t.Fatalf("State.Set:\nhave %v\nwant %v", before, refdev.StatePixelShaderResource)
	}
	st.Forget(r)
	st.Restore()
	if len(s.b) != 1 {
		t.Fatalf("State.Forget:\nhave %d barriers\nwant 1", len(s.b))
	}
}

func TestNop(t *testing.T) {
	d := refdev.New(refdev.Options{})
	r := newRes(t, d)
	st := NewState(Nop{})
	st.Require(r, refdev.StateCommon, refdev.StateCopyDest)
	st.Restore()
	var tr Tracker = Nop{}
	tr.UAV(r)
	if n := tr.Len(); n != 0 {
		t.Fatalf("Nop.Len:\nhave %d\nwant 0", n)
	}
}

func TestStrictDevice(t *testing.T) {
	d := refdev.New(refdev.Options{Strict: true})
	r, err := d.NewTexture(&gputypes.TextureDescriptor{
		Size:          gputypes.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
	}, refdev.HeapDefault, refdev.StateShaderResource)
	if err != nil {
		t.Fatalf("refdev.Device.NewTexture failed: %v", err)
	}
	cl := d.NewCmdList(refdev.CmdListDirect)
	st := NewState(NewBatch(cl.ResourceBarrier))
	home := refdev.StateShaderResource
	st.Require(r, home, refdev.StateRenderTarget)
	st.Require(r, home, refdev.StateCopySource)
	st.Require(r, home, refdev.StatePixelShaderResource)
	st.Restore()
	cl.Close()
	q := d.NewQueue(refdev.CmdListDirect)
	defer q.Close()
	f := d.NewFence(0)
	q.ExecuteCommandLists(cl)
	q.Signal(f, 1)
	f.Wait(t.Context(), 1)
	if v, n := d.Violations(); n != 0 {
		t.Fatalf("refdev.Device.Violations:\nhave %q\nwant none", v)
	}
	if s := r.State(); s != home {
		t.Fatalf("Resource.State:\nhave %v\nwant %v", s, home)
	}
}
