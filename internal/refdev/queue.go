// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package refdev

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Fence is a monotonic counter used to synchronize the
// CPU with queues and queues with each other.
type Fence struct {
	dev     *Device
	mu      sync.Mutex
	val     uint64
	waiters []fenceWaiter
}

type fenceWaiter struct {
	v uint64
	c chan struct{}
}

// NewFence creates a new fence.
func (d *Device) NewFence(initial uint64) *Fence {
	return &Fence{dev: d, val: initial}
}

// Completed returns the current value of the fence.
func (f *Fence) Completed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val
}

// Signal sets the fence value from the CPU.
// Values must not decrease.
func (f *Fence) Signal(v uint64) {
	f.mu.Lock()
	if v < f.val {
		cur := f.val
		f.mu.Unlock()
		f.dev.violate("fence signaled with %d, which is less than %d", v, cur)
		return
	}
	f.val = v
	w := f.waiters[:0]
	for _, x := range f.waiters {
		if x.v <= v {
			close(x.c)
		} else {
			w = append(w, x)
		}
	}
	clear(f.waiters[len(w):])
	f.waiters = w
	f.mu.Unlock()
}

// Wait blocks until the fence reaches v, ctx is done or
// the device is removed.
func (f *Fence) Wait(ctx context.Context, v uint64) error {
	f.mu.Lock()
	if f.val >= v {
		f.mu.Unlock()
		return nil
	}
	c := make(chan struct{})
	f.waiters = append(f.waiters, fenceWaiter{v, c})
	f.mu.Unlock()

	select {
	case <-c:
		return nil
	case <-f.dev.removed:
		return f.dev.Err()
	case <-ctx.Done():
		f.mu.Lock()
		for i, x := range f.waiters {
			if x.c == c {
				f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
		return ctx.Err()
	}
}

// Queue executes command lists in submission order on
// its own goroutine.
type Queue struct {
	dev    *Device
	typ    CmdListType
	mu     sync.Mutex
	closed bool
	ops    chan func()
	done   chan struct{}
}

// NewQueue creates a new queue.
// Copy queues only execute copy command lists.
func (d *Device) NewQueue(typ CmdListType) *Queue {
	q := &Queue{
		dev:  d,
		typ:  typ,
		ops:  make(chan func(), 256),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for op := range q.ops {
		op()
	}
}

func (q *Queue) send(op func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.Wrap(ErrInvalid, "queue closed")
	}
	q.ops <- op
	return nil
}

// Type returns the queue type.
func (q *Queue) Type() CmdListType { return q.typ }

// ExecuteCommandLists submits closed command lists for
// execution. Lists are executed in order. Once the device
// is removed, submitted work is discarded.
func (q *Queue) ExecuteCommandLists(cl ...*CmdList) error {
	if err := q.dev.Err(); err != nil {
		return err
	}
	for i, c := range cl {
		switch {
		case !c.closed:
			return errors.Wrapf(ErrInvalid, "command list %d not closed", i)
		case q.typ == CmdListCopy && c.typ != CmdListCopy:
			return errors.Wrapf(ErrInvalid, "command list %d is not a copy list", i)
		}
	}
	cl = append([]*CmdList(nil), cl...)
	for _, c := range cl {
		c.pending.Add(1)
	}
	err := q.send(func() {
		for _, c := range cl {
			if q.dev.Err() == nil {
				q.dev.execute(c)
			}
			c.pending.Add(-1)
		}
	})
	if err != nil {
		for _, c := range cl {
			c.pending.Add(-1)
		}
	}
	return err
}

// Signal signals f with v once previously submitted work
// completes.
func (q *Queue) Signal(f *Fence, v uint64) error {
	if err := q.dev.Err(); err != nil {
		return err
	}
	return q.send(func() {
		if q.dev.Err() == nil {
			f.Signal(v)
		}
	})
}

// Wait makes the queue wait until f reaches v before
// executing work submitted afterwards.
func (q *Queue) Wait(f *Fence, v uint64) error {
	if err := q.dev.Err(); err != nil {
		return err
	}
	return q.send(func() {
		f.Wait(context.Background(), v)
	})
}

// Close stops the queue after pending work completes.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ops)
	}
	q.mu.Unlock()
	<-q.done
}
