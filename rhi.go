// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package rhi implements a render hardware interface: a
// device façade over interchangeable GPU backends.
//
// Backends register themselves with package driver when
// imported. A Device opens one of them by name, then
// creates resources, records command lists from any
// number of goroutines and presents frames.
package rhi

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"gviegas/rhi/driver"
)

// ErrNoBackend means that no registered backend matches
// the requested name, or none could be opened.
var ErrNoBackend = errors.New("rhi: backend not found")

// ErrNoWorker means that every worker slot of the frame
// is already in use.
var ErrNoWorker = errors.New("rhi: no worker available")

// Device is the entry point of the interface.
// Its methods are safe for concurrent use, except for
// those of frame control (PresentBegin, PresentEnd,
// WaitForGPU and SetResolution), which must not overlap
// with any other call.
type Device struct {
	cfg  Config
	drv  driver.Driver
	gpu  driver.GPU
	caps *driver.Caps

	sf driver.Surface
	sc driver.Swapchain
	// Resolution the back-buffers were last created
	// with. SetResolution is a no-op if it does not
	// change.
	width, height int
	// Set between a Present and the end of the frame.
	presented bool

	// Worker slots of the current frame.
	workers *semaphore.Weighted
	mu      sync.Mutex
	lists   []*CmdList
}

// New creates a new Device.
func New(opts ...Option) (*Device, error) {
	cfg := newConfig(opts)
	if cfg.Logger != nil {
		SetLogger(cfg.Logger)
	}
	dcfg := cfg.driverConfig()
	drv, gpu, err := loadDriver(cfg.Backend, &dcfg)
	if err != nil {
		return nil, check(err)
	}
	cfg.Workers = dcfg.Workers
	cfg.FramesInFlight = dcfg.FramesInFlight
	d := &Device{
		cfg:     cfg,
		drv:     drv,
		gpu:     gpu,
		caps:    gpu.Caps(),
		workers: semaphore.NewWeighted(int64(dcfg.Workers)),
		lists:   make([]*CmdList, 0, dcfg.Workers),
	}
	d.sf = cfg.Surface
	if d.sf == nil && cfg.Width > 0 && cfg.Height > 0 {
		d.sf = driver.NewHeadless(cfg.Width, cfg.Height)
	}
	if d.sf != nil {
		if err := d.newSwapchain(); err != nil {
			d.Close()
			return nil, check(errors.Wrap(driver.ErrFatal, err.Error()))
		}
	}
	Logger().Info("device created",
		"backend", drv.Name(),
		"workers", dcfg.Workers,
		"framesInFlight", dcfg.FramesInFlight,
		"width", d.width,
		"height", d.height)
	return d, nil
}

// loadDriver opens the first registered driver whose name
// contains name. The match is case-insensitive.
// If name is the empty string, all drivers are
// considered.
func loadDriver(name string, cfg *driver.Config) (driver.Driver, driver.GPU, error) {
	name = strings.ToLower(name)
	err := errors.Wrapf(ErrNoBackend, "%q", name)
	for _, drv := range driver.Drivers() {
		if !strings.Contains(strings.ToLower(drv.Name()), name) {
			continue
		}
		gpu, oerr := drv.Open(cfg)
		if oerr != nil {
			Logger().Warn("backend failed to open", "name", drv.Name(), "err", oerr)
			err = errors.Wrap(driver.ErrNoDevice, oerr.Error())
			continue
		}
		return drv, gpu, nil
	}
	return nil, nil, err
}

func (d *Device) newSwapchain() error {
	w, h := d.cfg.Width, d.cfg.Height
	if w <= 0 || h <= 0 {
		w, h = d.sf.Size()
	}
	sc, err := d.gpu.NewSwapchain(d.sf, &driver.SwapchainDesc{
		Width:   w,
		Height:  h,
		Buffers: max(d.cfg.FramesInFlight, 2),
		Format:  d.cfg.BackBufferFormat,
		VSync:   d.cfg.VSync,
	})
	if err != nil {
		return err
	}
	d.sc = sc
	d.width, d.height = sc.Size()
	return nil
}

// Close waits for the GPU and destroys the Device.
// Resources created by the Device must be destroyed
// before Close is called.
func (d *Device) Close() {
	if d.gpu == nil {
		return
	}
	if err := d.gpu.WaitIdle(context.Background()); err != nil {
		Logger().Warn("close: GPU not idle", "err", err)
	}
	if d.sc != nil {
		d.sc.Destroy()
		d.sc = nil
	}
	d.drv.Close()
	Logger().Info("device closed", "backend", d.drv.Name())
	d.gpu = nil
}

// Backend returns the backend model of the Device.
func (d *Device) Backend() driver.Backend { return d.gpu.Backend() }

// BackendName returns the name of the driver in use.
func (d *Device) BackendName() string { return d.drv.Name() }

// GPU returns the underlying driver.GPU.
func (d *Device) GPU() driver.GPU { return d.gpu }

// Config returns the configuration of the Device, with
// defaults applied.
func (d *Device) Config() Config { return d.cfg }

// assert panics with msg if cond is false and debug mode
// is enabled.
func (d *Device) assert(cond bool, msg string, args ...any) {
	if !cond && d.cfg.Debug {
		panic(errors.Errorf("rhi: "+msg, args...).Error())
	}
}
