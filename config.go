// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"log/slog"
	"os"

	"gviegas/rhi/driver"
)

// BackendEnv is the environment variable that overrides
// Config.Backend.
const BackendEnv = "RHI_BACKEND"

// Config is used to configure a Device.
type Config struct {
	// Name of the backend to use. Any registered driver
	// whose name contains Backend (case-insensitive) is
	// considered. The empty string selects the first
	// driver that opens successfully.
	//
	// Default is "", overridden by RHI_BACKEND.
	Backend string

	// The number of command lists that can be recorded
	// in parallel within a frame.
	//
	// Default is driver.DefaultWorkers.
	Workers int

	// The maximum number of frames in flight.
	//
	// Default is driver.DefaultFramesInFlight.
	FramesInFlight int

	// Size in bytes of the upload ring.
	//
	// Default is driver.DefaultUploadRingSize.
	UploadRingSize int64

	// Shader-visible resource descriptors available to
	// each command list in a frame.
	//
	// Default is driver.DefaultDescriptorRing.
	DescriptorRing int

	// Size in bytes of the scratch memory of each
	// command list in a frame.
	//
	// Default is driver.DefaultScratchSize.
	ScratchSize int

	// Initial resolution of the back-buffers.
	// If Surface is nil and the resolution is not zero,
	// the Device presents to a driver.Headless surface.
	// A zero resolution with a nil Surface creates a
	// Device without swapchain.
	Width, Height int

	// Presentation target.
	//
	// Default is nil.
	Surface driver.Surface

	// Format of the back-buffers.
	//
	// Default is driver.RGBA8un.
	BackBufferFormat driver.Format

	// Whether presentation waits for vertical sync.
	VSync bool

	// Enable handle generation checks and assertions.
	Debug bool

	// Logger for the Device and the backends.
	// A nil Logger leaves the current one untouched.
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:          driver.DefaultWorkers,
		FramesInFlight:   driver.DefaultFramesInFlight,
		UploadRingSize:   driver.DefaultUploadRingSize,
		DescriptorRing:   driver.DefaultDescriptorRing,
		ScratchSize:      driver.DefaultScratchSize,
		BackBufferFormat: driver.RGBA8un,
	}
}

func (c *Config) driverConfig() driver.Config {
	x := driver.Config{
		FramesInFlight: c.FramesInFlight,
		Workers:        c.Workers,
		UploadRingSize: c.UploadRingSize,
		DescriptorRing: c.DescriptorRing,
		ScratchSize:    c.ScratchSize,
		Debug:          c.Debug,
	}
	x.SetDefaults()
	return x
}

// Option configures a Device during creation.
//
// Example:
//
//	dev, err := rhi.New(
//		rhi.WithBackend("explicit"),
//		rhi.WithResolution(1280, 720),
//		rhi.WithDebug(true),
//	)
type Option func(*Config)

// WithConfig replaces the whole configuration.
// Options that follow it still apply.
func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}

// WithBackend selects the backend by name.
func WithBackend(name string) Option {
	return func(c *Config) { c.Backend = name }
}

// WithWorkers sets the number of parallel command lists.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithFramesInFlight sets the pipelining depth.
func WithFramesInFlight(n int) Option {
	return func(c *Config) { c.FramesInFlight = n }
}

// WithUploadRingSize sets the size of the upload ring.
func WithUploadRingSize(size int64) Option {
	return func(c *Config) { c.UploadRingSize = size }
}

// WithResolution sets the initial resolution.
func WithResolution(width, height int) Option {
	return func(c *Config) { c.Width, c.Height = width, height }
}

// WithSurface sets the presentation target.
func WithSurface(sf driver.Surface) Option {
	return func(c *Config) { c.Surface = sf }
}

// WithBackBufferFormat sets the format of the
// back-buffers.
func WithBackBufferFormat(f driver.Format) Option {
	return func(c *Config) { c.BackBufferFormat = f }
}

// WithVSync enables vertical sync.
func WithVSync(on bool) Option {
	return func(c *Config) { c.VSync = on }
}

// WithDebug enables debug checks.
func WithDebug(on bool) Option {
	return func(c *Config) { c.Debug = on }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// newConfig applies opts over the default configuration
// and the environment.
func newConfig(opts []Option) Config {
	c := DefaultConfig()
	for _, o := range opts {
		o(&c)
	}
	if s := os.Getenv(BackendEnv); s != "" {
		c.Backend = s
	}
	if c.BackBufferFormat == driver.FUnknown {
		c.BackBufferFormat = driver.RGBA8un
	}
	return c
}
