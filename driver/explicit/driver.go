// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package explicit implements driver interfaces using
// the explicit programming model of the reference device:
// descriptor heaps, command lists, resource barriers and
// a dedicated copy queue.
package explicit

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/frame"
	"gviegas/rhi/internal/refdev"
)

const driverName = "explicit"

// Driver implements driver.Driver and driver.GPU.
type Driver struct {
	cfg   driver.Config
	dev   *refdev.Device
	gfx   *refdev.Queue
	pacer *frame.Pacer
	caps  driver.Caps

	// CPU descriptor heaps, indexed by driver.HeapKind.
	heaps [driver.HeapKinds + 1]*cpuHeap
	// Null descriptors, indexed by slot kind.
	nulls [numKinds]driver.Handle

	// Shader-visible heaps, split in one segment per
	// (frame, worker) pair.
	gpuRes *refdev.DescriptorHeap
	gpuSmp *refdev.DescriptorHeap
	resSeg int
	smpSeg int

	frames [][]*frameRes
	copy   *copyEngine
	roots  rootCache

	mu      sync.Mutex
	retired []retiree
}

// retiree is a release deferred until the GPU completes
// a given frame.
type retiree struct {
	frame uint64
	f     func()
}

func init() {
	driver.Register(&Driver{})
}

// Open initializes the driver.
func (d *Driver) Open(cfg *driver.Config) (gpu driver.GPU, err error) {
	if d.dev != nil {
		return d, nil
	}
	if cfg != nil {
		d.cfg = *cfg
	}
	d.cfg.SetDefaults()
	d.dev = refdev.New(refdev.Options{Strict: d.cfg.Debug})
	d.gfx = d.dev.NewQueue(refdev.CmdListDirect)
	d.pacer = frame.New(d.gfx, d.dev.NewFence(0), d.cfg.FramesInFlight)
	d.setCaps()
	if err = d.initHeaps(); err != nil {
		goto fail
	}
	if d.copy, err = newCopyEngine(d); err != nil {
		goto fail
	}
	if err = d.initFrames(); err != nil {
		goto fail
	}
	driver.Logger().Info("driver opened",
		"name", driverName,
		"framesInFlight", d.cfg.FramesInFlight,
		"workers", d.cfg.Workers,
		"debug", d.cfg.Debug)
	return d, nil
fail:
	d.Close()
	return nil, err
}

func (d *Driver) setCaps() {
	d.caps = driver.Caps{
		Features: driver.CapConservativeRaster |
			driver.CapRasterizerOrderedViews |
			driver.CapTypedUAVLoad |
			driver.CapTessellation |
			driver.CapRegionCopy |
			driver.CapIndirect |
			driver.CapQueries,
		MaxTexture1D:   16384,
		MaxTexture2D:   16384,
		MaxTexture3D:   2048,
		MaxArraySize:   2048,
		CopyPitchAlign: refdev.RowPitchAlign,
		ConstantAlign:  256,
	}
}

func (d *Driver) initHeaps() error {
	caps := [...]int{
		driver.HeapRTV:      d.cfg.RTVs,
		driver.HeapDSV:      d.cfg.DSVs,
		driver.HeapResource: d.cfg.Views,
		driver.HeapSampler:  d.cfg.Samplers,
	}
	for k := driver.HeapRTV; int(k) <= driver.HeapKinds; k++ {
		h, err := newCPUHeap(d, k, caps[k])
		if err != nil {
			return err
		}
		d.heaps[k] = h
	}
	for k := kindCBV; k < numKinds; k++ {
		h, err := d.heaps[k.heap()].insert(nil, refdev.NullDescriptor(k.desc()))
		if err != nil {
			return err
		}
		d.nulls[k] = h
	}

	n := d.cfg.FramesInFlight * d.cfg.Workers
	// Both segments hold the same number of full tables.
	tables := max(d.cfg.DescriptorRing/resFullSize, 1)
	d.resSeg = tables * resFullSize
	d.smpSeg = tables * smpFullSize
	var err error
	if d.gpuRes, err = d.dev.NewDescriptorHeap(refdev.DescHeapResource, n*d.resSeg, true); err != nil {
		return errors.Wrap(driver.ErrNoDeviceMemory, err.Error())
	}
	if d.gpuSmp, err = d.dev.NewDescriptorHeap(refdev.DescHeapSampler, n*d.smpSeg, true); err != nil {
		return errors.Wrap(driver.ErrNoDeviceMemory, err.Error())
	}
	return nil
}

func (d *Driver) initFrames() error {
	d.frames = make([][]*frameRes, d.cfg.FramesInFlight)
	for f := range d.frames {
		d.frames[f] = make([]*frameRes, d.cfg.Workers)
		for w := range d.frames[f] {
			fr, err := newFrameRes(d, f, w)
			if err != nil {
				return err
			}
			d.frames[f][w] = fr
		}
	}
	return nil
}

// Name returns the driver name.
func (d *Driver) Name() string { return driverName }

// Close deinitializes the driver.
func (d *Driver) Close() {
	if d == nil || d.dev == nil {
		return
	}
	if d.pacer != nil {
		if err := d.pacer.WaitIdle(context.Background()); err != nil {
			driver.Logger().Warn("close: GPU not idle", "err", err)
		}
	}
	d.runRetired(^uint64(0))
	for _, fs := range d.frames {
		for _, fr := range fs {
			fr.destroy()
		}
	}
	if d.copy != nil {
		d.copy.destroy()
	}
	d.gfx.Close()
	driver.Logger().Info("driver closed", "name", driverName)
	*d = Driver{}
}

// Driver returns d.
func (d *Driver) Driver() driver.Driver { return d }

// Backend returns driver.BackendExplicit.
func (d *Driver) Backend() driver.Backend { return driver.BackendExplicit }

// Caps returns the capabilities of the GPU.
func (d *Driver) Caps() *driver.Caps { return &d.caps }

// Device returns the reference device that d drives.
func (d *Driver) Device() *refdev.Device { return d.dev }

// Config returns the configuration d was opened with.
func (d *Driver) Config() driver.Config { return d.cfg }

// assert panics with msg if cond is false and debug
// mode is enabled.
func (d *Driver) assert(cond bool, msg string, args ...any) {
	if !cond && d.cfg.Debug {
		panic(errors.Errorf("explicit: "+msg, args...).Error())
	}
}

// retire defers f until the GPU completes the frame being
// recorded.
func (d *Driver) retire(f func()) {
	n := d.pacer.Count() + 1
	d.mu.Lock()
	d.retired = append(d.retired, retiree{n, f})
	d.mu.Unlock()
}

// runRetired runs the deferred releases of frames up to
// and including completed.
func (d *Driver) runRetired(completed uint64) {
	d.mu.Lock()
	var run []func()
	i := 0
	for _, r := range d.retired {
		if r.frame <= completed {
			run = append(run, r.f)
		} else {
			d.retired[i] = r
			i++
		}
	}
	clear(d.retired[i:])
	d.retired = d.retired[:i]
	d.mu.Unlock()
	for _, f := range run {
		f()
	}
}

// removed wraps a device error as driver.ErrDeviceRemoved.
func removed(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(driver.ErrDeviceRemoved, err.Error())
}

// FrameIndex returns the index of the frame slot being
// recorded.
func (d *Driver) FrameIndex() int { return d.pacer.Index() }

// FrameCount returns the number of frames ended so far.
func (d *Driver) FrameCount() uint64 { return d.pacer.Count() }

// FlushUploads submits pending transfers and waits for
// their completion.
func (d *Driver) FlushUploads(ctx context.Context) error { return d.copy.flush(ctx) }

// Submit submits command lists for execution.
// Pending uploads are flushed first, so that the lists
// observe them.
func (d *Driver) Submit(cl []driver.CmdList) error {
	if err := d.copy.flush(context.Background()); err != nil {
		return err
	}
	lists := make([]*refdev.CmdList, 0, len(cl))
	for i, x := range cl {
		c, ok := x.(*cmdList)
		if !ok || c.d != d {
			return errors.Wrapf(driver.ErrDesc, "Submit: command list %d belongs to another GPU", i)
		}
		if c.state != stateEnded {
			return errors.Wrapf(driver.ErrDesc, "Submit: command list of worker %d was not ended", c.fr.worker)
		}
		c.state = stateSubmitted
		lists = append(lists, c.cl)
	}
	if len(lists) == 0 {
		return nil
	}
	return removed(d.gfx.ExecuteCommandLists(lists...))
}

// EndFrame ends the current frame.
// Pending uploads are flushed first.
func (d *Driver) EndFrame(ctx context.Context) error {
	if err := d.copy.flush(ctx); err != nil {
		return err
	}
	if err := d.pacer.End(ctx); err != nil {
		return err
	}
	d.runRetired(d.pacer.Completed())
	driver.Logger().Debug("frame ended",
		"count", d.pacer.Count(),
		"completed", d.pacer.Completed(),
		"uploadPeak", d.copy.ring.Peak())
	return nil
}

// WaitIdle waits for every submitted frame to complete.
func (d *Driver) WaitIdle(ctx context.Context) error {
	if err := d.copy.flush(ctx); err != nil {
		return err
	}
	if err := d.pacer.WaitIdle(ctx); err != nil {
		return err
	}
	// Work submitted in the current frame is not
	// covered by the frame fence.
	f := d.dev.NewFence(0)
	if err := d.gfx.Signal(f, 1); err != nil {
		return removed(err)
	}
	if err := f.Wait(ctx, 1); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return removed(err)
	}
	d.runRetired(d.pacer.Completed())
	return nil
}

// ValidHandle returns whether h refers to a live
// descriptor of d.
func (d *Driver) ValidHandle(h driver.Handle) bool {
	if h.Backend() != driver.BackendExplicit || h.Kind() < driver.HeapRTV || int(h.Kind()) > driver.HeapKinds {
		return false
	}
	return d.heaps[h.Kind()].alloc().Valid(h)
}

// Map returns the memory of a staging resource.
func (d *Driver) Map(r driver.Resource) ([]byte, int, error) {
	var res *resource
	switch x := r.(type) {
	case *buffer:
		res = &x.resource
	case *texture:
		res = &x.resource
	default:
		return nil, 0, errors.Wrapf(driver.ErrNotStaging, "%T", r)
	}
	if res.r.Heap() != refdev.HeapReadback {
		return nil, 0, errors.Wrapf(driver.ErrNotStaging, "%v", res.r)
	}
	mem, err := res.r.Map(0)
	if err != nil {
		return nil, 0, err
	}
	if len(res.fps) == 0 {
		return mem, len(mem), nil
	}
	fp := res.fps[0]
	return mem[fp.Offset:], fp.RowPitch, nil
}
