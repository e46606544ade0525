// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package explicit

import (
	"context"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/barrier"
	"gviegas/rhi/internal/refdev"
	"gviegas/rhi/internal/upload"
)

// copyEngine transfers initial data to device memory
// through a dedicated copy queue.
// Copies are staged in an upload ring and recorded in a
// single command list, which flush submits and waits
// for. The ring is cleared once the copies complete.
type copyEngine struct {
	d     *Driver
	q     *refdev.Queue
	fence *refdev.Fence
	mem   *refdev.Resource
	ring  *upload.Ring

	mu     sync.Mutex
	cl     *refdev.CmdList
	batch  *barrier.Batch
	n      int
	val    uint64
	closed bool
}

func newCopyEngine(d *Driver) (*copyEngine, error) {
	mem, err := d.dev.NewBuffer(&gputypes.BufferDescriptor{
		Size:  uint64(d.cfg.UploadRingSize),
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageMapWrite,
	}, refdev.HeapUpload, refdev.StateGenericRead)
	if err != nil {
		return nil, errors.Wrap(driver.ErrNoDeviceMemory, err.Error())
	}
	p, _ := mem.Map(0)
	e := &copyEngine{
		d:     d,
		q:     d.dev.NewQueue(refdev.CmdListCopy),
		fence: d.dev.NewFence(0),
		mem:   mem,
		ring:  upload.NewRing(p),
		cl:    d.dev.NewCmdList(refdev.CmdListCopy),
	}
	e.batch = barrier.NewBatch(e.cl.ResourceBarrier)
	return e, nil
}

// begin prepares the command list for recording.
// It must be called with e.mu held.
func (e *copyEngine) begin() error {
	if !e.closed {
		return nil
	}
	return e.wait(context.Background())
}

// wait waits for the submitted copies and recycles the
// ring and command list.
// It must be called with e.mu held.
func (e *copyEngine) wait(ctx context.Context) error {
	if err := e.fence.Wait(ctx, e.val); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return removed(err)
	}
	e.ring.Clear()
	if err := e.cl.Reset(); err != nil {
		return err
	}
	e.closed = false
	return nil
}

// uploadBuffer records the upload of data to the start of
// r, which must be in refdev.StateCopyDest. r is then
// transitioned to home.
func (e *copyEngine) uploadBuffer(r *refdev.Resource, data []byte, home refdev.ResourceStates) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin(); err != nil {
		return err
	}
	off, mem, err := e.ring.Allocate(int64(len(data)), 16)
	if err != nil {
		return err
	}
	copy(mem, data)
	e.cl.CopyBufferRegion(r, 0, e.mem, off, int64(len(data)))
	e.batch.Transition(r, refdev.AllSubresources, refdev.StateCopyDest, home)
	e.n++
	return nil
}

// uploadTexture records the upload of every subresource
// of r, which must be in refdev.StateCopyDest. r is then
// transitioned to home.
func (e *copyEngine) uploadTexture(r *refdev.Resource, data []driver.SubresourceData, home refdev.ResourceStates) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin(); err != nil {
		return err
	}
	n := r.Subresources()
	_, size := r.CopyableFootprints(0, n, 0)
	off, mem, err := e.ring.Allocate(size, refdev.PlacementAlign)
	if err != nil {
		return err
	}
	fps, _ := r.CopyableFootprints(0, n, off)
	f := r.TextureDesc().Format
	for i := range fps {
		fp := &fps[i]
		writeFootprint(mem[fp.Offset-off:], &fp.Footprint, f, &data[i])
		e.cl.CopyTextureRegion(
			refdev.CopyLocation{Res: r, Sub: i}, 0, 0, 0,
			refdev.CopyLocation{Res: e.mem, Footprint: fp}, nil)
	}
	e.batch.Transition(r, refdev.AllSubresources, refdev.StateCopyDest, home)
	e.n++
	return nil
}

// flush submits the recorded copies and waits for their
// completion. If ctx is done before that, flush can be
// called again to resume the wait.
func (e *copyEngine) flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		if e.n == 0 {
			return nil
		}
		e.batch.Flush()
		if err := e.cl.Close(); err != nil {
			return err
		}
		e.closed = true
		if err := e.q.ExecuteCommandLists(e.cl); err != nil {
			return removed(err)
		}
		e.val++
		if err := e.q.Signal(e.fence, e.val); err != nil {
			return removed(err)
		}
		driver.Logger().Debug("uploads flushed", "copies", e.n, "bytes", e.ring.Used())
		e.n = 0
	}
	return e.wait(ctx)
}

func (e *copyEngine) destroy() {
	e.q.Close()
	e.mem.Release()
}
