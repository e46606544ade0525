// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

// Default configuration values.
const (
	DefaultFramesInFlight = 2
	DefaultWorkers        = 8
	DefaultUploadRingSize = 256 << 20
	DefaultDescriptorRing = 1 << 14
	DefaultScratchSize    = 4 << 20
	DefaultRTVs           = 1024
	DefaultDSVs           = 256
	DefaultViews          = 1 << 14
	DefaultSamplers       = 256
)

// Config holds the parameters a backend is opened with.
// Zero values are replaced by defaults in SetDefaults.
type Config struct {
	// FramesInFlight is the pipelining depth: the number
	// of frames whose GPU work may be outstanding while
	// the CPU records the next one.
	FramesInFlight int
	// Workers is the number of command lists that can be
	// recorded in parallel within a frame.
	Workers int
	// UploadRingSize is the size in bytes of the upload
	// ring used for host to device transfers.
	UploadRingSize int64
	// DescriptorRing is the number of shader-visible
	// resource descriptors available to each
	// (frame, worker) pair. Backends that place whole
	// descriptor tables round it down to a multiple of
	// their table size (at least one table).
	DescriptorRing int
	// ScratchSize is the size in bytes of the linear
	// scratch allocator of each (frame, worker) pair.
	ScratchSize int
	// Capacities of the CPU descriptor heaps.
	RTVs, DSVs, Views, Samplers int
	// Debug enables generation checks on descriptor
	// handles and state validation in the backend.
	Debug bool
}

// SetDefaults replaces zero fields of c with defaults.
func (c *Config) SetDefaults() {
	set := func(x *int, def int) {
		if *x <= 0 {
			*x = def
		}
	}
	set(&c.FramesInFlight, DefaultFramesInFlight)
	set(&c.Workers, DefaultWorkers)
	set(&c.DescriptorRing, DefaultDescriptorRing)
	set(&c.ScratchSize, DefaultScratchSize)
	set(&c.RTVs, DefaultRTVs)
	set(&c.DSVs, DefaultDSVs)
	set(&c.Views, DefaultViews)
	set(&c.Samplers, DefaultSamplers)
	if c.UploadRingSize <= 0 {
		c.UploadRingSize = DefaultUploadRingSize
	}
}
