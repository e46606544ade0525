// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package barrier

import (
	"gviegas/rhi/internal/refdev"
)

type entry struct {
	cur     refdev.ResourceStates
	home    refdev.ResourceStates
	written bool
}

// State keeps the last known state of resources used by
// a single command list.
//
// Every resource has a home state, which is the state it
// is in between command lists. A resource enters the
// list in its home state, and Restore transitions every
// resource used back to its home state. Command lists
// can therefore be recorded concurrently and submitted in
// any order.
//
// State is not safe for concurrent use.
type State struct {
	t Tracker
	m map[*refdev.Resource]*entry
}

// NewState creates a new State that records barriers
// in t.
func NewState(t Tracker) *State {
	return &State{t: t, m: make(map[*refdev.Resource]*entry)}
}

func (s *State) get(r *refdev.Resource, home refdev.ResourceStates) *entry {
	e := s.m[r]
	if e == nil {
		e = &entry{cur: home, home: home}
		s.m[r] = e
	}
	return e
}

// Current returns the last known state of r, or home if
// r has not been used yet.
func (s *State) Current(r *refdev.Resource, home refdev.ResourceStates) refdev.ResourceStates {
	if e := s.m[r]; e != nil {
		return e.cur
	}
	return home
}

// Require ensures that r is in a state that satisfies
// want, recording a transition if needed.
func (s *State) Require(r *refdev.Resource, home, want refdev.ResourceStates) {
	e := s.get(r, home)
	if e.cur.Has(want) {
		return
	}
	s.t.Transition(r, refdev.AllSubresources, e.cur, want)
	e.cur = want
	e.written = false
}

// Set transitions r to after regardless of whether its
// current state already satisfies it.
// It returns the state r was in.
func (s *State) Set(r *refdev.Resource, home, after refdev.ResourceStates) refdev.ResourceStates {
	e := s.get(r, home)
	before := e.cur
	if before != after {
		s.t.Transition(r, refdev.AllSubresources, before, after)
		e.cur = after
		e.written = false
	}
	return before
}

// Access marks r as accessed for unordered writes.
// It transitions r to refdev.StateUnorderedAccess, and
// records a UAV barrier if r was written since it last
// entered that state.
func (s *State) Access(r *refdev.Resource, home refdev.ResourceStates) {
	s.Require(r, home, refdev.StateUnorderedAccess)
	e := s.m[r]
	if e.written {
		s.t.UAV(r)
	}
	e.written = true
}

// UAV records a UAV barrier on r if it was written.
func (s *State) UAV(r *refdev.Resource) {
	if e := s.m[r]; e != nil && e.written {
		s.t.UAV(r)
		e.written = false
	}
}

// Restore transitions every resource used back to its
// home state and forgets them. It flushes the tracker.
func (s *State) Restore() {
	for r, e := range s.m {
		s.t.Transition(r, refdev.AllSubresources, e.cur, e.home)
	}
	clear(s.m)
	s.t.Flush()
}

// Forget stops tracking r without restoring it.
// It is used when r is going away.
func (s *State) Forget(r *refdev.Resource) { delete(s.m, r) }

// Len returns the number of resources tracked.
func (s *State) Len() int { return len(s.m) }
