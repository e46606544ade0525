// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package barrier implements resource state tracking for
// backends that require explicit state transitions.
package barrier

import (
	"gviegas/rhi/internal/refdev"
)

// Tracker records resource barriers for later issuing.
type Tracker interface {
	// Transition records a state transition of r.
	// Transitions whose before and after states are
	// equal are discarded.
	Transition(r *refdev.Resource, sub int, before, after refdev.ResourceStates)
	// UAV records an unordered access barrier on r.
	UAV(r *refdev.Resource)
	// Flush issues every recorded barrier.
	Flush()
	// Len returns the number of barriers recorded and
	// not yet issued.
	Len() int
}

// MaxBatch is the maximum number of barriers that a Batch
// holds before flushing.
const MaxBatch = 8

// Batch is a Tracker that issues barriers in batches of
// at most MaxBatch through a sink function.
// The sink must not retain the slice.
type Batch struct {
	sink   func([]refdev.ResourceBarrier)
	b      [MaxBatch]refdev.ResourceBarrier
	n      int
	issued int
}

// NewBatch creates a new Batch.
func NewBatch(sink func([]refdev.ResourceBarrier)) *Batch {
	return &Batch{sink: sink}
}

func (b *Batch) add(x refdev.ResourceBarrier) {
	b.b[b.n] = x
	if b.n++; b.n == MaxBatch {
		b.Flush()
	}
}

// Transition implements Tracker.
func (b *Batch) Transition(r *refdev.Resource, sub int, before, after refdev.ResourceStates) {
	if before == after {
		return
	}
	b.add(refdev.ResourceBarrier{
		Type:   refdev.BarrierTransition,
		Res:    r,
		Sub:    sub,
		Before: before,
		After:  after,
	})
}

// UAV implements Tracker.
func (b *Batch) UAV(r *refdev.Resource) {
	b.add(refdev.ResourceBarrier{Type: refdev.BarrierUAV, Res: r, Sub: refdev.AllSubresources})
}

// Flush implements Tracker.
func (b *Batch) Flush() {
	if b.n == 0 {
		return
	}
	b.sink(b.b[:b.n])
	b.issued += b.n
	clear(b.b[:b.n])
	b.n = 0
}

// Len implements Tracker.
func (b *Batch) Len() int { return b.n }

// Issued returns the number of barriers issued so far.
func (b *Batch) Issued() int { return b.issued }

// Nop is a Tracker that records nothing.
// It is used by backends that manage states implicitly.
type Nop struct{}

func (Nop) Transition(*refdev.Resource, int, refdev.ResourceStates, refdev.ResourceStates) {}

func (Nop) UAV(*refdev.Resource) {}

func (Nop) Flush() {}

func (Nop) Len() int { return 0 }
