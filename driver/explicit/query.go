// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package explicit

import (
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/refdev"
)

// query implements driver.Query.
// Each query has a heap of its own with a single entry.
type query struct {
	desc driver.QueryDesc
	heap *refdev.QueryHeap
}

// NewQuery creates a new query.
func (d *Driver) NewQuery(desc *driver.QueryDesc) (driver.Query, error) {
	var typ refdev.QueryType
	switch desc.Type {
	case driver.QueryTimestamp:
		typ = refdev.QueryTimestamp
	case driver.QueryTimestampDisjoint:
		typ = refdev.QueryTimestampDisjoint
	case driver.QueryOcclusion:
		typ = refdev.QueryOcclusion
	case driver.QueryOcclusionPredicate:
		typ = refdev.QueryBinaryOcclusion
	default:
		return nil, errors.Wrapf(driver.ErrDesc, "query type %d", desc.Type)
	}
	h, err := d.dev.NewQueryHeap(typ, 1)
	if err != nil {
		return nil, errors.Wrap(driver.ErrDesc, err.Error())
	}
	return &query{desc: *desc, heap: h}, nil
}

func (q *query) occlusion() bool {
	return q.desc.Type == driver.QueryOcclusion || q.desc.Type == driver.QueryOcclusionPredicate
}

// Desc returns the query description.
func (q *query) Desc() *driver.QueryDesc { return &q.desc }

// Result returns the result of the query, if available.
func (q *query) Result() (uint64, bool) {
	if q.heap == nil {
		return 0, false
	}
	return q.heap.Result(0)
}

// Destroy destroys the query.
func (q *query) Destroy() { q.heap = nil }
