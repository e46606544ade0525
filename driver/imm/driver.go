// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package imm implements driver interfaces using the
// implicit programming model of the reference device.
// The device tracks resource states by itself, shader
// slots are bound directly and initial data is written
// inline on an immediate command list.
package imm

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/frame"
	"gviegas/rhi/internal/refdev"
)

const driverName = "imm"

// Driver implements driver.Driver and driver.GPU.
type Driver struct {
	cfg   driver.Config
	dev   *refdev.Device
	q     *refdev.Queue
	pacer *frame.Pacer
	caps  driver.Caps

	// Descriptor heaps, indexed by driver.HeapKind.
	heaps [driver.HeapKinds + 1]*viewHeap

	imm   immediate
	dyn   *dynRing
	lists [][]*cmdList

	mu      sync.Mutex
	retired []retiree
}

type retiree struct {
	frame uint64
	f     func()
}

func init() {
	driver.Register(&Driver{})
}

// Open initializes the driver.
func (d *Driver) Open(cfg *driver.Config) (driver.GPU, error) {
	if d.dev != nil {
		return d, nil
	}
	if cfg != nil {
		d.cfg = *cfg
	}
	d.cfg.SetDefaults()
	d.dev = refdev.New(refdev.Options{})
	d.q = d.dev.NewQueue(refdev.CmdListDirect)
	d.pacer = frame.New(d.q, d.dev.NewFence(0), d.cfg.FramesInFlight)
	d.setCaps()
	caps := [...]int{
		driver.HeapRTV:      d.cfg.RTVs,
		driver.HeapDSV:      d.cfg.DSVs,
		driver.HeapResource: d.cfg.Views,
		driver.HeapSampler:  d.cfg.Samplers,
	}
	for k := driver.HeapRTV; int(k) <= driver.HeapKinds; k++ {
		d.heaps[k] = newViewHeap(k, caps[k], d.cfg.Debug)
	}
	d.imm.cl = d.dev.NewCmdList(refdev.CmdListDirect)
	var err error
	if d.dyn, err = newDynRing(d, int64(d.cfg.ScratchSize)*int64(d.cfg.Workers)); err != nil {
		d.Close()
		return nil, err
	}
	d.lists = make([][]*cmdList, d.cfg.FramesInFlight)
	for f := range d.lists {
		d.lists[f] = make([]*cmdList, d.cfg.Workers)
		for w := range d.lists[f] {
			d.lists[f][w] = newCmdList(d, f, w)
		}
	}
	driver.Logger().Info("driver opened",
		"name", driverName,
		"framesInFlight", d.cfg.FramesInFlight,
		"workers", d.cfg.Workers,
		"debug", d.cfg.Debug)
	return d, nil
}

func (d *Driver) setCaps() {
	d.caps = driver.Caps{
		Features: driver.CapTypedUAVLoad |
			driver.CapTessellation |
			driver.CapIndirect |
			driver.CapQueries,
		MaxTexture1D:   16384,
		MaxTexture2D:   16384,
		MaxTexture3D:   2048,
		MaxArraySize:   2048,
		CopyPitchAlign: 1,
		ConstantAlign:  16,
	}
}

// Name returns the driver name.
func (d *Driver) Name() string { return driverName }

// Close deinitializes the driver.
func (d *Driver) Close() {
	if d == nil || d.dev == nil {
		return
	}
	if err := d.pacer.WaitIdle(context.Background()); err != nil {
		driver.Logger().Warn("close: GPU not idle", "err", err)
	}
	d.runRetired(^uint64(0))
	if d.dyn != nil {
		d.dyn.destroy()
	}
	d.q.Close()
	driver.Logger().Info("driver closed", "name", driverName)
	*d = Driver{}
}

// Driver returns d.
func (d *Driver) Driver() driver.Driver { return d }

// Backend returns driver.BackendImm.
func (d *Driver) Backend() driver.Backend { return driver.BackendImm }

// Caps returns the capabilities of the GPU.
func (d *Driver) Caps() *driver.Caps { return &d.caps }

// Device returns the reference device that d drives.
func (d *Driver) Device() *refdev.Device { return d.dev }

func (d *Driver) assert(cond bool, msg string, args ...any) {
	if !cond && d.cfg.Debug {
		panic(errors.Errorf("imm: "+msg, args...).Error())
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

// immediate is the command list that initial data is
// written on. It is executed ahead of every submission,
// on the same queue, so that no wait is needed for
// later work to observe the writes.
type immediate struct {
	mu sync.Mutex
	cl *refdev.CmdList
	n  int
}

// record records f on the immediate command list.
func (d *Driver) record(f func(cl *refdev.CmdList)) {
	d.imm.mu.Lock()
	f(d.imm.cl)
	d.imm.n++
	d.imm.mu.Unlock()
}

// flushImmediate executes the immediate command list, if
// it has any commands.
func (d *Driver) flushImmediate() error {
	d.imm.mu.Lock()
	defer d.imm.mu.Unlock()
	if d.imm.n == 0 {
		return nil
	}
	cl := d.imm.cl
	if err := cl.Close(); err != nil {
		return err
	}
	// The list cannot be reset while the queue holds
	// it.
	d.imm.cl = d.dev.NewCmdList(refdev.CmdListDirect)
	driver.Logger().Debug("immediate commands flushed", "n", d.imm.n)
	d.imm.n = 0
	return removed(d.q.ExecuteCommandLists(cl))
}

// FlushUploads executes pending initial data writes and
// waits for their completion.
func (d *Driver) FlushUploads(ctx context.Context) error {
	if err := d.flushImmediate(); err != nil {
		return err
	}
	return d.drain(ctx)
}

// drain waits for every command executed so far,
// including those of the frame being recorded.
func (d *Driver) drain(ctx context.Context) error {
	f := d.dev.NewFence(0)
	if err := d.q.Signal(f, 1); err != nil {
		return removed(err)
	}
	if err := f.Wait(ctx, 1); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return removed(err)
	}
	return nil
}

// Submit submits command lists for execution.
func (d *Driver) Submit(cl []driver.CmdList) error {
	if err := d.flushImmediate(); err != nil {
		return err
	}
	lists := make([]*refdev.CmdList, 0, len(cl))
	for i, x := range cl {
		c, ok := x.(*cmdList)
		if !ok || c.d != d {
			return errors.Wrapf(driver.ErrDesc, "Submit: command list %d belongs to another GPU", i)
		}
		if c.state != stateEnded {
			return errors.Wrapf(driver.ErrDesc, "Submit: command list of worker %d is %v", c.worker, c.state)
		}
		c.state = stateSubmitted
		lists = append(lists, c.cl)
	}
	if len(lists) == 0 {
		return nil
	}
	return removed(d.q.ExecuteCommandLists(lists...))
}

// EndFrame ends the current frame.
func (d *Driver) EndFrame(ctx context.Context) error {
	if err := d.flushImmediate(); err != nil {
		return err
	}
	if err := d.pacer.End(ctx); err != nil {
		return err
	}
	d.runRetired(d.pacer.Completed())
	driver.Logger().Debug("frame ended",
		"count", d.pacer.Count(),
		"completed", d.pacer.Completed(),
		"dynamicRenames", d.dyn.renames.Load())
	return nil
}

// WaitIdle waits for every submitted command to complete.
func (d *Driver) WaitIdle(ctx context.Context) error {
	if err := d.flushImmediate(); err != nil {
		return err
	}
	if err := d.pacer.WaitIdle(ctx); err != nil {
		return err
	}
	if err := d.drain(ctx); err != nil {
		return err
	}
	d.runRetired(d.pacer.Completed())
	return nil
}

// ValidHandle returns whether h refers to a live view
// of d.
func (d *Driver) ValidHandle(h driver.Handle) bool {
	if h.Backend() != driver.BackendImm || h.Kind() < driver.HeapRTV || int(h.Kind()) > driver.HeapKinds {
		return false
	}
	return d.heaps[h.Kind()].t.Allocator().Valid(h)
}

// Map returns the memory of a staging resource with CPU
// read access.
func (d *Driver) Map(r driver.Resource) ([]byte, int, error) {
	res := d.res(r)
	if res == nil || res.r == nil || res.r.Heap() != refdev.HeapReadback {
		return nil, 0, errors.Wrapf(driver.ErrNotStaging, "%T", r)
	}
	mem, err := res.r.Map(0)
	if err != nil {
		return nil, 0, err
	}
	if res.r.IsBuffer() {
		return mem, len(mem), nil
	}
	return mem, res.r.RowPitch(0), nil
}
