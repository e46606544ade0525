// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package frame implements frame pacing: it bounds the
// number of frames the CPU can record ahead of the GPU.
package frame

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/refdev"
)

// Pacer tracks frames in flight.
//
// Each frame holds a permit of a semaphore weighted by
// the number of frames in flight, from the time its
// recording begins until the GPU completes its work. The
// frame being recorded is identified by Index, which
// cycles through [0, FramesInFlight). Per-frame resources
// of the recording frame are guaranteed to be unused by
// the GPU.
type Pacer struct {
	n     int
	q     *refdev.Queue
	fence *refdev.Fence
	sem   *semaphore.Weighted
	count atomic.Uint64

	// Set when End failed to acquire the permit of the
	// next frame.
	pending atomic.Bool
}

// New creates a new Pacer whose frames complete on q.
// It takes ownership of fence, which must be at zero.
func New(q *refdev.Queue, fence *refdev.Fence, framesInFlight int) *Pacer {
	if framesInFlight < 1 {
		panic("frame.New: framesInFlight < 1")
	}
	p := &Pacer{
		n:     framesInFlight,
		q:     q,
		fence: fence,
		sem:   semaphore.NewWeighted(int64(framesInFlight)),
	}
	if !p.sem.TryAcquire(1) {
		panic("unreachable")
	}
	return p
}

// FramesInFlight returns the maximum number of frames in
// flight.
func (p *Pacer) FramesInFlight() int { return p.n }

// Count returns the number of frames ended.
func (p *Pacer) Count() uint64 { return p.count.Load() }

// Index returns the index of the frame being recorded.
func (p *Pacer) Index() int { return int(p.count.Load() % uint64(p.n)) }

// Completed returns the number of frames whose GPU work
// has completed.
func (p *Pacer) Completed() uint64 { return p.fence.Completed() }

// End ends the current frame after its work was
// submitted, then blocks until the next frame can begin.
// It fails if ctx is done or the device is removed.
// In the first case, End can be called again to retry
// the wait.
func (p *Pacer) End(ctx context.Context) error {
	if p.pending.Load() {
		return p.acquire(ctx)
	}
	n := p.count.Load() + 1
	if err := p.q.Signal(p.fence, n); err != nil {
		return errors.Wrap(driver.ErrDeviceRemoved, err.Error())
	}
	p.count.Store(n)
	go func() {
		// On device removal, Wait fails and the permit
		// is returned anyway.
		p.fence.Wait(context.Background(), n)
		p.sem.Release(1)
	}()
	return p.acquire(ctx)
}

func (p *Pacer) acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.pending.Store(true)
		return err
	}
	p.pending.Store(false)
	return nil
}

// WaitIdle blocks until the GPU completes the work of
// every frame ended.
func (p *Pacer) WaitIdle(ctx context.Context) error {
	if err := p.fence.Wait(ctx, p.count.Load()); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return errors.Wrap(driver.ErrDeviceRemoved, err.Error())
	}
	return nil
}
