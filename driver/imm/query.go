// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package imm

import (
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/refdev"
)

var queryTypes = [...]refdev.QueryType{
	driver.QueryTimestamp:          refdev.QueryTimestamp,
	driver.QueryTimestampDisjoint:  refdev.QueryTimestampDisjoint,
	driver.QueryOcclusion:          refdev.QueryOcclusion,
	driver.QueryOcclusionPredicate: refdev.QueryBinaryOcclusion,
}

// query implements driver.Query.
type query struct {
	desc driver.QueryDesc
	heap *refdev.QueryHeap
}

// NewQuery creates a new query.
func (d *Driver) NewQuery(desc *driver.QueryDesc) (driver.Query, error) {
	if desc.Type < 0 || int(desc.Type) >= len(queryTypes) {
		return nil, errors.Wrapf(driver.ErrDesc, "query type %d", desc.Type)
	}
	h, err := d.dev.NewQueryHeap(queryTypes[desc.Type], 1)
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
