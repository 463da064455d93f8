// Copyright 2024 The go-xlang Authors
// This file is part of go-xlang.
//
// go-xlang is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-xlang is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-xlang. If not, see <http://www.gnu.org/licenses/>.

// Package vm implements the XLang bytecode virtual machine: a reference
// counted heap with a cycle collector, the tagged value variants, the
// lexically scoped execution context, the single-coroutine executor, and the
// cooperative coroutine pool that drives it.
//
// The whole machine is single threaded. Coroutines interleave only between
// opcode dispatches, so no reference-count or heap operation is atomic.
package vm

import (
	mapset "github.com/deckarep/golang-set"
	"github.com/ethereum/go-ethereum/log"
)

// collectThreshold is the number of allocations after which CheckAndCollect
// actually runs a cycle sweep.
const collectThreshold = 256

// Ref is a shared owning handle to one heap object. Handles are passed by
// pointer; CloneRef and DropRef adjust the native count that keeps the object
// alive independent of the heap graph.
//
// An object is reachable iff its native count is positive or it is
// transitively reachable from such an object through strong edges.
type Ref struct {
	value Value
	heap  *Heap

	native uint32          // references held by the interpreter
	strong uint32          // incoming ownership edges
	out    map[*Ref]uint32 // outgoing ownership edges, multiset
	freed  bool
}

// Value returns the variant payload. The payload must only be mutated through
// heap-aware operations so edge accounting stays consistent.
func (r *Ref) Value() Value { return r.value }

// TypeName returns the variant's user-visible type tag.
func (r *Ref) TypeName() string { return r.value.TypeName() }

// CloneRef takes an additional native reference and returns the same handle.
func (r *Ref) CloneRef() *Ref {
	r.native++
	return r
}

// DropRef releases one native reference. When the last native reference and
// the last strong edge are gone the object's outgoing edges are dropped and
// its storage released.
func (r *Ref) DropRef() {
	if r.freed {
		return
	}
	if r.native > 0 {
		r.native--
	}
	if r.native == 0 && r.strong == 0 {
		r.heap.release(r)
	}
}

// NativeRefs returns the current native reference count, used by tests and
// the dump formatter.
func (r *Ref) NativeRefs() uint32 { return r.native }

// Heap owns every live value. It tracks objects for the periodic cycle sweep
// that reclaims reference cycles no native root can reach.
type Heap struct {
	objects map[*Ref]struct{}
	allocs  int // allocations since the last sweep
}

// NewHeap returns an empty heap.
func NewHeap() *Heap {
	return &Heap{objects: make(map[*Ref]struct{})}
}

// NewObject places v on the heap and returns a handle holding one native
// reference and no incoming edges. Structural constructors add the edges for
// their initial children via AddEdge.
func (h *Heap) NewObject(v Value) *Ref {
	r := &Ref{value: v, heap: h, native: 1}
	h.objects[r] = struct{}{}
	h.allocs++
	heapObjectsGauge.Update(int64(len(h.objects)))
	return r
}

// Size returns the number of live objects.
func (h *Heap) Size() int { return len(h.objects) }

// AddEdge records one ownership edge from parent to child.
func (h *Heap) AddEdge(parent, child *Ref) {
	if parent.out == nil {
		parent.out = make(map[*Ref]uint32)
	}
	parent.out[child]++
	child.strong++
}

// RemoveEdge removes one ownership edge from parent to child, releasing the
// child when it becomes unreachable.
func (h *Heap) RemoveEdge(parent, child *Ref) {
	if n, ok := parent.out[child]; ok {
		if n <= 1 {
			delete(parent.out, child)
		} else {
			parent.out[child] = n - 1
		}
		if child.strong > 0 {
			child.strong--
		}
		if !child.freed && child.native == 0 && child.strong == 0 {
			h.release(child)
		}
	}
}

// release runs the free hook (dropping outgoing edges) and discards storage.
// Finalization only adjusts reference counts; it never allocates.
func (h *Heap) release(r *Ref) {
	if r.freed {
		return
	}
	r.freed = true
	delete(h.objects, r)
	out := r.out
	r.out = nil
	for child, n := range out {
		if child.freed {
			continue
		}
		if child.strong >= n {
			child.strong -= n
		} else {
			child.strong = 0
		}
		if child.native == 0 && child.strong == 0 {
			h.release(child)
		}
	}
	heapObjectsGauge.Update(int64(len(h.objects)))
}

// CheckAndCollect runs a cycle sweep when enough allocations accumulated
// since the previous one. The pool calls it between step cycles.
func (h *Heap) CheckAndCollect() {
	if h.allocs < collectThreshold {
		return
	}
	h.Collect()
}

// Collect unconditionally runs the two-phase cycle sweep: mark every object
// reachable from a native root, then break the cycles among the rest by
// dropping their edges and releasing their storage.
func (h *Heap) Collect() {
	h.allocs = 0

	marked := mapset.NewThreadUnsafeSet()
	var pending []*Ref
	for r := range h.objects {
		if r.native > 0 {
			pending = append(pending, r)
		}
	}
	for len(pending) > 0 {
		r := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if marked.Contains(r) {
			continue
		}
		marked.Add(r)
		for child := range r.out {
			if !marked.Contains(child) {
				pending = append(pending, child)
			}
		}
	}

	var doomed []*Ref
	for r := range h.objects {
		if !marked.Contains(r) {
			doomed = append(doomed, r)
		}
	}
	if len(doomed) == 0 {
		return
	}

	// Break the cycles first: edges inside the doomed set vanish with their
	// owners, edges escaping into the marked set must be given back.
	for _, r := range doomed {
		r.freed = true
		delete(h.objects, r)
	}
	for _, r := range doomed {
		for child, n := range r.out {
			if child.freed {
				continue
			}
			if child.strong >= n {
				child.strong -= n
			} else {
				child.strong = 0
			}
			if child.native == 0 && child.strong == 0 {
				h.release(child)
			}
		}
		r.out = nil
	}

	gcCollectedMeter.Mark(int64(len(doomed)))
	gcCyclesMeter.Mark(1)
	heapObjectsGauge.Update(int64(len(h.objects)))
	log.Debug("Reclaimed reference cycles", "objects", len(doomed), "live", len(h.objects))
}
