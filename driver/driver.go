// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package driver defines the backend-agnostic contract of
// the render hardware interface.
// Backends implement the interfaces in this package on top
// of a specific GPU programming model (e.g., an immediate
// context with implicit state, or explicit descriptor heaps,
// command lists and barriers), so that client code can issue
// work without knowing which model is active.
package driver

import (
	"errors"
	"sync"
)

// Driver is the interface that provides methods for
// loading and unloading an underlying implementation.
type Driver interface {
	// Open initializes the driver.
	// If it succeeds, further calls with the same receiver
	// have no effect and must return the same GPU instance.
	// A nil cfg is equivalent to a zero Config with defaults
	// applied.
	// Callers should assume that Open is not safe for
	// parallel execution.
	Open(cfg *Config) (GPU, error)

	// Name returns the name of the driver.
	// It must not cause the driver to be opened.
	Name() string

	// Close deinitializes the driver.
	// Closing a driver that is not open has no effect.
	// Callers should assume that Close is not safe for
	// parallel execution.
	Close()
}

// ErrNoDevice means that no suitable device could be
// found.
var ErrNoDevice = errors.New("driver: no suitable device found")

// ErrNoHostMemory means that host memory could not be
// allocated.
var ErrNoHostMemory = errors.New("driver: out of host memory")

// ErrNoDeviceMemory means that device memory could not
// be allocated.
var ErrNoDeviceMemory = errors.New("driver: out of device memory")

// ErrFatal means that the driver is in an unrecoverable
// state. Upon encountering such an error, the application
// must destroy everything that it created using the
// driver's GPU and then call the Close method. It may call
// Open again to reinitialize the driver for further use.
var ErrFatal = errors.New("driver: fatal error")

// ErrDeviceRemoved means that the device was lost (e.g.,
// reset or removed). This error is fatal.
var ErrDeviceRemoved = errors.New("driver: device removed")

// ErrHeapExhausted means that a descriptor heap has no
// free slots left. Descriptor heaps have fixed capacity,
// so this error is fatal.
var ErrHeapExhausted = errors.New("driver: descriptor heap exhausted")

// ErrDescriptorRing means that the shader-visible
// descriptor ring of a command list overflowed within a
// single frame. This error is fatal.
var ErrDescriptorRing = errors.New("driver: descriptor ring overflow")

// ErrUploadRing means that the upload ring has no space
// left for the current frame. The ring does not grow.
var ErrUploadRing = errors.New("driver: upload ring exhausted")

// ErrFormat means that a format is not supported for the
// requested use.
var ErrFormat = errors.New("driver: unsupported format")

// ErrDesc means that a resource or pipeline description
// is not valid.
var ErrDesc = errors.New("driver: invalid description")

// ErrNotStaging means that a resource cannot be read by
// the CPU because it was not created with UsageStaging
// and CPURead access.
var ErrNotStaging = errors.New("driver: not a staging resource")

// Drivers returns the registered Drivers.
// Client code imports specific driver packages, and then
// call this function from init. As such, drivers that do
// not register themselves on init will not be considered
// for selection.
func Drivers() []Driver {
	mu.Lock()
	defer mu.Unlock()
	drv := make([]Driver, len(drivers))
	copy(drv, drivers)
	return drv
}

// Register registers a Driver.
// Driver implementations are expected to call Register
// exactly once, from an init function.
// If a driver with the same name has already been
// registered, it will be replaced by drv.
func Register(drv Driver) {
	mu.Lock()
	defer mu.Unlock()
	for i := range drivers {
		if drivers[i].Name() == drv.Name() {
			drivers[i] = drv
			Logger().Warn("driver replaced", "name", drv.Name())
			return
		}
	}
	drivers = append(drivers, drv)
	Logger().Info("driver registered", "name", drv.Name())
}

// Variables used for driver registration.
var (
	mu      sync.Mutex
	drivers []Driver = make([]Driver, 0, 2)
)
