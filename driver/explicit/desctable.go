// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package explicit

import (
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/refdev"
)

// Table layout of a stage. Resource tables hold CBVs,
// then SRVs, then UAVs.
const (
	srvBase      = driver.MaxCBVs
	uavBase      = srvBase + driver.MaxSRVs
	resTableSize = uavBase + driver.MaxUAVs
	smpTableSize = driver.MaxSamplers
)

// A full table holds the tables of every stage, stage s
// at s times the stage table size.
const (
	resFullSize = resTableSize * int(driver.Stages)
	smpFullSize = smpTableSize * int(driver.Stages)
)

// slotRange returns the first index and the number of
// slots of kind k within its table.
func slotRange(k slotKind) (base, n int) {
	switch k {
	case kindCBV:
		return 0, driver.MaxCBVs
	case kindSRV:
		return srvBase, driver.MaxSRVs
	case kindUAV:
		return uavBase, driver.MaxUAVs
	}
	return 0, driver.MaxSamplers
}

// descTable stages the bindings of a command list and
// places them in its segment of the shader-visible heaps.
// Each validate that finds a stage dirty allocates one
// fresh full table, so tables already referenced by
// recorded commands are never overwritten within a frame.
type descTable struct {
	d     *Driver
	res   [driver.Stages][resTableSize]driver.Handle
	smp   [driver.Stages][smpTableSize]driver.Handle
	dirty [driver.Stages]bool

	resBase, resHead int
	smpBase, smpHead int
}

func newDescTable(d *Driver, seg int) *descTable {
	return &descTable{
		d:       d,
		resBase: seg * d.resSeg,
		smpBase: seg * d.smpSeg,
	}
}

// reset binds the null descriptor to every slot and
// rewinds the ring. It must be called once per frame,
// before any binding.
func (t *descTable) reset() {
	for s := range t.res {
		for k := kindCBV; k < kindSampler; k++ {
			base, n := slotRange(k)
			for i := base; i < base+n; i++ {
				t.res[s][i] = t.d.nulls[k]
			}
		}
		for i := range t.smp[s] {
			t.smp[s][i] = t.d.nulls[kindSampler]
		}
	}
	t.invalidate()
	t.resHead = 0
	t.smpHead = 0
}

// invalidate marks every stage dirty.
func (t *descTable) invalidate() {
	for s := range t.dirty {
		t.dirty[s] = true
	}
}

// update binds h to a slot of a stage.
// h must be a valid handle of the heap of k, or the null
// descriptor of k.
func (t *descTable) update(stage driver.Stage, k slotKind, slot int, h driver.Handle) {
	base, n := slotRange(k)
	if slot < 0 || slot >= n || stage < 0 || stage >= driver.Stages {
		t.d.assert(false, "%v slot %d of %v out of range", k, slot, stage)
		return
	}
	p := &t.smp[stage][slot]
	if k != kindSampler {
		p = &t.res[stage][base+slot]
	}
	if *p != h {
		*p = h
		t.dirty[stage] = true
	}
}

// bound returns the handle bound to a slot of a stage.
func (t *descTable) bound(stage driver.Stage, k slotKind, slot int) driver.Handle {
	base, _ := slotRange(k)
	if k == kindSampler {
		return t.smp[stage][slot]
	}
	return t.res[stage][base+slot]
}

// validate places one full table in fresh regions of the
// shader-visible heaps, copies the tables of every dirty
// stage used by root into it and sets them in cl.
// Stages that are not dirty keep pointing at the table
// placed by a previous call. It returns the heap offset
// of the full resource table, or -1 if no stage was
// dirty. Offsets are strictly increasing within a frame,
// by exactly resFullSize per placement.
func (t *descTable) validate(cl *refdev.CmdList, root *rootSig, compute bool) (int, error) {
	var dirty bool
	for s := driver.VS; s < driver.Stages; s++ {
		if root.mask.has(s) && t.dirty[s] {
			dirty = true
			break
		}
	}
	if !dirty {
		return -1, nil
	}
	if t.resHead+resFullSize > t.d.resSeg || t.smpHead+smpFullSize > t.d.smpSeg {
		return -1, errors.Wrapf(driver.ErrDescriptorRing, "%d resource and %d sampler descriptors per frame",
			t.d.resSeg, t.d.smpSeg)
	}
	cpuRes := t.d.heaps[driver.HeapResource].heap
	cpuSmp := t.d.heaps[driver.HeapSampler].heap
	rbase := t.resBase + t.resHead
	sbase := t.smpBase + t.smpHead
	for s := driver.VS; s < driver.Stages; s++ {
		if !root.mask.has(s) || !t.dirty[s] {
			continue
		}
		ro := rbase + int(s)*resTableSize
		for i, h := range t.res[s] {
			refdev.CopyDescriptors(t.d.gpuRes, ro+i, cpuRes, h.Index(), 1)
		}
		so := sbase + int(s)*smpTableSize
		for i, h := range t.smp[s] {
			refdev.CopyDescriptors(t.d.gpuSmp, so+i, cpuSmp, h.Index(), 1)
		}
		if compute {
			cl.SetComputeRootDescriptorTable(root.res[s], ro)
			cl.SetComputeRootDescriptorTable(root.smp[s], so)
		} else {
			cl.SetGraphicsRootDescriptorTable(root.res[s], ro)
			cl.SetGraphicsRootDescriptorTable(root.smp[s], so)
		}
		t.dirty[s] = false
	}
	t.resHead += resFullSize
	t.smpHead += smpFullSize
	return rbase, nil
}

// resources calls f for every non-null resource bound to
// a stage of root, with the kind of its slot.
func (t *descTable) resources(root *rootSig, f func(s driver.Stage, k slotKind, r *resource)) {
	heap := t.d.heaps[driver.HeapResource]
	for s := driver.VS; s < driver.Stages; s++ {
		if !root.mask.has(s) {
			continue
		}
		for k := kindCBV; k < kindSampler; k++ {
			base, n := slotRange(k)
			for _, h := range t.res[s][base : base+n] {
				if h == t.d.nulls[k] {
					continue
				}
				if r, _ := heap.get(h); r != nil {
					f(s, k, r)
				}
			}
		}
	}
}
