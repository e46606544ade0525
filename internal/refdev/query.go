// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package refdev

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// QueryType is the type of queries.
type QueryType int

// Query types.
const (
	// Number of samples that passed (approximated as
	// vertices times instances).
	QueryOcclusion QueryType = iota
	// 1 if any sample passed, 0 otherwise.
	QueryBinaryOcclusion
	// GPU timestamp in ticks of TimestampFrequency.
	QueryTimestamp
	// The timestamp frequency.
	QueryTimestampDisjoint
)

func (t QueryType) String() string {
	switch t {
	case QueryOcclusion:
		return "occlusion"
	case QueryBinaryOcclusion:
		return "binary occlusion"
	case QueryTimestamp:
		return "timestamp"
	case QueryTimestampDisjoint:
		return "timestamp disjoint"
	}
	return "QueryType(?)"
}

// QueryHeap is an array of queries of the same type.
// Results become available when the query ends on the
// GPU timeline.
type QueryHeap struct {
	typ   QueryType
	res   []atomic.Uint64
	ready []atomic.Bool
}

// NewQueryHeap creates a new query heap.
func (d *Device) NewQueryHeap(typ QueryType, n int) (*QueryHeap, error) {
	if n <= 0 || typ < QueryOcclusion || typ > QueryTimestampDisjoint {
		return nil, errors.Wrapf(ErrInvalid, "query heap (%v, %d)", typ, n)
	}
	return &QueryHeap{
		typ:   typ,
		res:   make([]atomic.Uint64, n),
		ready: make([]atomic.Bool, n),
	}, nil
}

// Type returns the query type.
func (h *QueryHeap) Type() QueryType { return h.typ }

// Len returns the number of queries in h.
func (h *QueryHeap) Len() int { return len(h.res) }

// Result returns the result of query i and whether it is
// available.
func (h *QueryHeap) Result(i int) (uint64, bool) {
	if !h.ready[i].Load() {
		return 0, false
	}
	return h.res[i].Load(), true
}

// Reset makes the result of query i unavailable.
// It must be called before the query is reused.
func (h *QueryHeap) Reset(i int) { h.ready[i].Store(false) }

func (h *QueryHeap) set(i int, v uint64) {
	h.res[i].Store(v)
	h.ready[i].Store(true)
}
