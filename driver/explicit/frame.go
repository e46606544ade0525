// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package explicit

import (
	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/refdev"
	"gviegas/rhi/internal/upload"
)

// frameRes is the set of resources of a (frame, worker)
// pair. It is only used by the worker that owns it, and
// only reset once the GPU is done with its frame.
type frameRes struct {
	frame  int
	worker int
	cl     *cmdList
	table  *descTable

	scratch    *upload.Linear
	scratchBuf *buffer

	// Frame count plus one of the frame that last began
	// recording with this set.
	began uint64
}

func newFrameRes(d *Driver, f, w int) (*frameRes, error) {
	size := d.cfg.ScratchSize
	r, err := d.dev.NewBuffer(&gputypes.BufferDescriptor{
		Label: "scratch",
		Size:  uint64(size),
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageVertex |
			gputypes.BufferUsageIndex | gputypes.BufferUsageUniform |
			gputypes.BufferUsageMapWrite,
	}, refdev.HeapUpload, refdev.StateGenericRead)
	if err != nil {
		return nil, errors.Wrap(driver.ErrNoDeviceMemory, err.Error())
	}
	mem, _ := r.Map(0)
	fr := &frameRes{
		frame:   f,
		worker:  w,
		table:   newDescTable(d, f*d.cfg.Workers+w),
		scratch: upload.NewLinear(mem),
		scratchBuf: &buffer{
			resource: resource{d: d, r: r, home: refdev.StateGenericRead, owned: true},
			desc: driver.BufferDesc{
				Size:      int64(size),
				Usage:     driver.UsageDynamic,
				Bind:      driver.BindVertexBuffer | driver.BindIndexBuffer | driver.BindConstantBuffer,
				CPUAccess: driver.CPUWrite,
			},
		},
	}
	fr.cl = newCmdList(d, fr)
	return fr, nil
}

// begin prepares the set for recording in the current
// frame.
func (fr *frameRes) begin(d *Driver) error {
	c := fr.cl
	if c.state == stateRecording {
		driver.Logger().Warn("command list discarded without End", "frame", fr.frame, "worker", fr.worker)
	}
	if err := c.cl.Reset(); err != nil {
		return removed(err)
	}
	fr.table.reset()
	fr.scratch.Reset()
	c.reset()
	c.cl.SetDescriptorHeaps(d.gpuRes, d.gpuSmp)
	c.state = stateRecording
	fr.began = d.pacer.Count() + 1
	return nil
}

// destroy releases the set. It accepts a nil receiver so
// that partially initialized drivers can be closed.
func (fr *frameRes) destroy() {
	if fr == nil {
		return
	}
	if fr.scratchBuf != nil && fr.scratchBuf.r != nil {
		fr.scratchBuf.r.Release()
		fr.scratchBuf.r = nil
	}
}

// CmdList returns the command list of worker for the
// current frame.
func (d *Driver) CmdList(worker int) (driver.CmdList, error) {
	if worker < 0 || worker >= d.cfg.Workers {
		return nil, errors.Wrapf(driver.ErrDesc, "worker %d out of [0, %d)", worker, d.cfg.Workers)
	}
	fr := d.frames[d.pacer.Index()][worker]
	if fr.began != d.pacer.Count()+1 {
		if err := fr.begin(d); err != nil {
			return nil, err
		}
		return fr.cl, nil
	}
	if fr.cl.state != stateRecording {
		return nil, errors.Wrapf(driver.ErrDesc, "command list of worker %d already %v this frame", worker, fr.cl.state)
	}
	return fr.cl, nil
}

// newTransient creates an upload buffer that lives until
// the GPU completes the current frame.
func (d *Driver) newTransient(size int) (*buffer, error) {
	r, err := d.dev.NewBuffer(&gputypes.BufferDescriptor{
		Label: "transient",
		Size:  uint64(size),
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageVertex |
			gputypes.BufferUsageIndex | gputypes.BufferUsageUniform |
			gputypes.BufferUsageMapWrite,
	}, refdev.HeapUpload, refdev.StateGenericRead)
	if err != nil {
		return nil, errors.Wrap(driver.ErrNoDeviceMemory, err.Error())
	}
	d.retire(r.Release)
	driver.Logger().Debug("scratch overflow", "size", size)
	return &buffer{
		resource: resource{d: d, r: r, home: refdev.StateGenericRead, owned: true},
		desc: driver.BufferDesc{
			Size:      int64(size),
			Usage:     driver.UsageDynamic,
			Bind:      driver.BindVertexBuffer | driver.BindIndexBuffer | driver.BindConstantBuffer,
			CPUAccess: driver.CPUWrite,
		},
	}, nil
}
