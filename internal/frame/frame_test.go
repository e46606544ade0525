// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package frame

import (
	"context"
	"errors"
	"testing"
	"time"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/refdev"
)

func TestPacer(t *testing.T) {
	d := refdev.New(refdev.Options{})
	q := d.NewQueue(refdev.CmdListDirect)
	defer q.Close()
	gate := d.NewFence(0)
	// Hold the queue until gate is signaled.
	if err := q.Wait(gate, 1); err != nil {
		t.Fatalf("refdev.Queue.Wait failed: %v", err)
	}

	p := New(q, d.NewFence(0), 2)
	if i := p.Index(); i != 0 {
		t.Fatalf("Pacer.Index:\nhave %d\nwant 0", i)
	}
	if err := p.End(context.Background()); err != nil {
		t.Fatalf("Pacer.End (1st): %v", err)
	}
	if i, n := p.Index(), p.Count(); i != 1 || n != 1 {
		t.Fatalf("Pacer.Index/Count:\nhave %d/%d\nwant 1/1", i, n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.End(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Pacer.End (2nd):\nhave %v\nwant %v", err, context.DeadlineExceeded)
	}
	if c := p.Completed(); c != 0 {
		t.Fatalf("Pacer.Completed:\nhave %d\nwant 0", c)
	}

	gate.Signal(1)
	if err := p.End(context.Background()); err != nil {
		t.Fatalf("Pacer.End (retry): %v", err)
	}
	if i, n := p.Index(), p.Count(); i != 0 || n != 2 {
		t.Fatalf("Pacer.Index/Count:\nhave %d/%d\nwant 0/2", i, n)
	}
	if err := p.WaitIdle(context.Background()); err != nil {
		t.Fatalf("Pacer.WaitIdle: %v", err)
	}
	if c := p.Completed(); c != 2 {
		t.Fatalf("Pacer.Completed:\nhave %d\nwant 2", c)
	}
}

func TestPacerMany(t *testing.T) {
	d := refdev.New(refdev.Options{})
	q := d.NewQueue(refdev.CmdListDirect)
	defer q.Close()
	p := New(q, d.NewFence(0), 3)
	for i := 0; i < 100; i++ {
		if err := p.End(context.Background()); err != nil {
			t.Fatalf("Pacer.End: %v", err)
		}
		if c := p.Completed(); p.Count()-c > 2 {
			t.Fatalf("Pacer: %d frames in flight", p.Count()-c)
		}
	}
	if i := p.Index(); i != 100%3 {
		t.Fatalf("Pacer.Index:\nhave %d\nwant %d", i, 100%3)
	}
}

func TestPacerRemoved(t *testing.T) {
	d := refdev.New(refdev.Options{})
	q := d.NewQueue(refdev.CmdListDirect)
	defer q.Close()
	p := New(q, d.NewFence(0), 2)
	d.Remove(errors.New("lost"))
	if err := p.End(context.Background()); !errors.Is(err, driver.ErrDeviceRemoved) {
		t.Fatalf("Pacer.End:\nhave %v\nwant %v", err, driver.ErrDeviceRemoved)
	}
}
