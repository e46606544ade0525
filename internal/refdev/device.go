// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package refdev implements a reference device: a GPU
// whose commands are executed by the CPU.
//
// The device follows the explicit model (memory heaps,
// descriptor heaps, command lists, queues, fences and
// resource state barriers). It optionally validates
// resource states, recording every violation, which makes
// it suitable both as a native layer for explicit-state
// backends (strict mode) and for backends that manage
// state implicitly (relaxed mode).
//
// Shader bytecode is opaque: draws and dispatches resolve
// their bindings and report them to a DrawHook instead of
// running shaders.
package refdev

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
)

// ErrRemoved means that the device was removed.
var ErrRemoved = errors.New("refdev: device removed")

// ErrInvalid means that a call had invalid arguments.
var ErrInvalid = errors.New("refdev: invalid argument")

// ErrFormat means that a format is not supported.
var ErrFormat = errors.New("refdev: unsupported format")

// ErrInFlight means that an object is still referenced by
// work that has not completed.
var ErrInFlight = errors.New("refdev: object in use by the GPU")

// Options configures a Device.
type Options struct {
	// Strict enables resource state validation.
	Strict bool
	// MaxViolations bounds the number of violations
	// kept. Zero means 256.
	MaxViolations int
}

// Device is a reference device.
type Device struct {
	strict bool
	start  time.Time

	removed    chan struct{}
	removeOnce sync.Once
	reason     error

	mu         sync.Mutex
	violations []string
	maxViol    int
	nviol      int

	hook  atomic.Pointer[DrawHook]
	stats stats
}

type stats struct {
	draws, dispatches  atomic.Int64
	barriers, calls    atomic.Int64
	copies, clears     atomic.Int64
	presents, executed atomic.Int64
	pipelines          atomic.Int64
}

// Stats holds device counters.
type Stats struct {
	Draws        int64
	Dispatches   int64
	Barriers     int64
	BarrierCalls int64
	Copies       int64
	Clears       int64
	Presents     int64
	Executed     int64
	Pipelines    int64
}

// New creates a new Device.
func New(opts Options) *Device {
	d := &Device{
		strict:  opts.Strict,
		start:   time.Now(),
		removed: make(chan struct{}),
		maxViol: opts.MaxViolations,
	}
	if d.maxViol <= 0 {
		d.maxViol = 256
	}
	return d
}

// Strict returns whether state validation is enabled.
func (d *Device) Strict() bool { return d.strict }

// Remove removes the device (as in a device reset).
// Queues stop executing, and fence waits fail with
// ErrRemoved.
func (d *Device) Remove(reason error) {
	d.removeOnce.Do(func() {
		d.reason = reason
		close(d.removed)
	})
}

// Err returns a non-nil error if the device was removed.
func (d *Device) Err() error {
	select {
	case <-d.removed:
		if d.reason != nil {
			return errors.Wrap(ErrRemoved, d.reason.Error())
		}
		return ErrRemoved
	default:
		return nil
	}
}

// violate records a validation failure.
func (d *Device) violate(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nviol++
	if len(d.violations) < d.maxViol {
		d.violations = append(d.violations, fmt.Sprintf(format, args...))
	}
}

// Violations returns the validation failures recorded so
// far, and the total number of failures.
func (d *Device) Violations() ([]string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...), d.nviol
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	s := &d.stats
	return Stats{
		Draws:        s.draws.Load(),
		Dispatches:   s.dispatches.Load(),
		Barriers:     s.barriers.Load(),
		BarrierCalls: s.calls.Load(),
		Copies:       s.copies.Load(),
		Clears:       s.clears.Load(),
		Presents:     s.presents.Load(),
		Executed:     s.executed.Load(),
		Pipelines:    s.pipelines.Load(),
	}
}

// DrawHook is called on the queue goroutine for every draw
// and dispatch executed.
type DrawHook func(*DrawInfo)

// SetDrawHook sets the draw hook. A nil hook removes it.
func (d *Device) SetDrawHook(h DrawHook) {
	if h == nil {
		d.hook.Store(nil)
		return
	}
	d.hook.Store(&h)
}

// DrawInfo describes an executed draw or dispatch.
// It is only valid for the duration of the hook call.
type DrawInfo struct {
	Compute     bool
	Indexed     bool
	Indirect    bool
	Vertices    int
	Instances   int
	Groups      [3]int
	RTVs        []Descriptor
	DSV         *Descriptor
	StencilRef  uint8
	BlendFactor [4]float32
	Pipeline    *PipelineState
	// Pipeline state of a draw. Nil for dispatches.
	Input        []gputypes.VertexBufferLayout
	Blend        []gputypes.ColorTargetState
	DepthStencil *gputypes.DepthStencilState

	x *execState
}

// Resolve returns the descriptor bound to a shader
// register of a stage.
func (i *DrawInfo) Resolve(stage Stage, kind DescriptorKind, reg int) Descriptor {
	return i.x.resolve(stage, kind, reg)
}

// timestamp returns the current GPU timestamp in ticks
// of TimestampFrequency.
func (d *Device) timestamp() uint64 { return uint64(time.Since(d.start).Nanoseconds()) }

// TimestampFrequency is the frequency of timestamps in
// ticks per second.
const TimestampFrequency = 1e9
