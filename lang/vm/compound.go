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

package vm

import "fmt"

// ---- KeyVal ----------------------------------------------------------------

// KeyVal pairs a key with a value; both are heap references owned by the pair.
type KeyVal struct {
	aliases
	Key *Ref
	Val *Ref
}

func (*KeyVal) TypeName() string { return "keyval" }

// NewKeyVal allocates a KeyVal owning one edge to each side.
func NewKeyVal(h *Heap, key, value *Ref) *Ref {
	kv := &KeyVal{Key: key, Val: value}
	r := h.NewObject(kv)
	h.AddEdge(r, key)
	h.AddEdge(r, value)
	return r
}

// CheckKey reports whether the pair's key structurally equals other.
func (kv *KeyVal) CheckKey(other *Ref) bool { return Eq(kv.Key, other) }

// ---- Named -----------------------------------------------------------------

// Named is a semantically tagged parameter binding; structurally a KeyVal.
type Named struct {
	aliases
	Key *Ref
	Val *Ref
}

func (*Named) TypeName() string { return "named" }

// NewNamed allocates a Named owning one edge to each side.
func NewNamed(h *Heap, key, value *Ref) *Ref {
	n := &Named{Key: key, Val: value}
	r := h.NewObject(n)
	h.AddEdge(r, key)
	h.AddEdge(r, value)
	return r
}

// CheckKey reports whether the binding's key structurally equals other.
func (n *Named) CheckKey(other *Ref) bool { return Eq(n.Key, other) }

// ---- Wrapper ---------------------------------------------------------------

// Wrapper is a transparent box around a single value, unwrapped by ValueOf.
type Wrapper struct {
	aliases
	Inner *Ref
}

func (*Wrapper) TypeName() string { return "wrapper" }

// NewWrapper allocates a Wrapper owning one edge to the boxed value.
func NewWrapper(h *Heap, inner *Ref) *Ref {
	w := &Wrapper{Inner: inner}
	r := h.NewObject(w)
	h.AddEdge(r, inner)
	return r
}

// ---- Tuple -----------------------------------------------------------------

// Tuple is an ordered sequence of heap references. A tuple flagged AutoBind
// is a self container: its Named lambda members see it as their receiver.
type Tuple struct {
	aliases
	Values   []*Ref
	AutoBind bool
	iter     int
}

func (*Tuple) TypeName() string { return "tuple" }

// NewTuple allocates a Tuple owning one edge per element.
func NewTuple(h *Heap, values []*Ref) *Ref {
	t := &Tuple{Values: append([]*Ref(nil), values...)}
	r := h.NewObject(t)
	for _, v := range t.Values {
		h.AddEdge(r, v)
	}
	return r
}

// ResetIter rewinds the element cursor.
func (t *Tuple) ResetIter() { t.iter = 0 }

// NextElem yields a new reference to the next element.
func (t *Tuple) NextElem(_ *Heap) (*Ref, bool) {
	if t.iter >= len(t.Values) {
		return nil, false
	}
	out := t.Values[t.iter].CloneRef()
	t.iter++
	return out, true
}

// Append adds value to the tuple, owner taking one edge. owner must be the
// heap object whose payload is t.
func (t *Tuple) Append(h *Heap, owner, value *Ref) {
	t.Values = append(t.Values, value)
	h.AddEdge(owner, value)
}

// Member scans the tuple for a KeyVal or Named entry whose key equals key and
// returns the value slot.
func (t *Tuple) Member(key *Ref) (*Ref, error) {
	for _, v := range t.Values {
		switch entry := v.Value().(type) {
		case *KeyVal:
			if entry.CheckKey(key) {
				return entry.Val, nil
			}
		case *Named:
			if entry.CheckKey(key) {
				return entry.Val, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no member %s", ErrKeyNotFound, TryRepr(key))
}

// Index resolves an Int index to an element reference or a Range index to a
// new Tuple slice.
func (t *Tuple) Index(h *Heap, owner, index *Ref) (*Ref, error) {
	switch idx := index.Value().(type) {
	case *Int:
		if idx.Val < 0 || idx.Val >= int64(len(t.Values)) {
			return nil, fmt.Errorf("%w: tuple index %d of %d", ErrIndexNotFound, idx.Val, len(t.Values))
		}
		return t.Values[idx.Val].CloneRef(), nil
	case *Range:
		if idx.Start < 0 || idx.End > int64(len(t.Values)) || idx.Start > idx.End {
			return nil, fmt.Errorf("%w: tuple slice %d..%d of %d", ErrIndexNotFound, idx.Start, idx.End, len(t.Values))
		}
		slice := NewTuple(h, t.Values[idx.Start:idx.End])
		*slice.Value().AliasList() = copyAlias(*owner.Value().AliasList())
		return slice, nil
	}
	return nil, fmt.Errorf("%w: tuple index must be int or range, got %s", ErrTypeMismatch, index.TypeName())
}

// Contains reports structural membership of other.
func (t *Tuple) Contains(other *Ref) bool {
	for _, v := range t.Values {
		if Eq(v, other) {
			return true
		}
	}
	return false
}

// AssignMembers binds call arguments into the tuple in place: Named entries
// of args assign to the slot with the matching key (appending when absent),
// then positional entries fill the slots the first pass left unassigned, and
// any overflow appends. owner is the heap object whose payload is t.
func (t *Tuple) AssignMembers(h *Heap, owner, args *Ref) error {
	argTuple, ok := args.Value().(*Tuple)
	if !ok {
		return fmt.Errorf("%w: expected argument tuple, got %s", ErrNotTuple, args.TypeName())
	}

	assigned := make([]bool, len(t.Values))
	for i, v := range t.Values {
		if _, isNamed := v.Value().(*Named); !isNamed {
			assigned[i] = true
		}
	}

	var positional []*Ref
	for _, arg := range argTuple.Values {
		named, isNamed := arg.Value().(*Named)
		if !isNamed {
			positional = append(positional, arg)
			continue
		}
		found := false
		for i, slot := range t.Values {
			slotNamed, ok := slot.Value().(*Named)
			if !ok || !Eq(slotNamed.Key, named.Key) {
				continue
			}
			if err := Assign(h, slot, named.Val); err != nil {
				return err
			}
			assigned[i] = true
			found = true
			break
		}
		if !found {
			t.Append(h, owner, arg)
			assigned = append(assigned, true)
		}
	}

	next := 0
	for _, arg := range positional {
		for next < len(assigned) && assigned[next] {
			next++
		}
		if next < len(t.Values) {
			if err := Assign(h, t.Values[next], arg); err != nil {
				return err
			}
			assigned[next] = true
			next++
		} else {
			t.Append(h, owner, arg)
			assigned = append(assigned, true)
		}
	}
	return nil
}

// CloneAndAssignMembers deep-copies the tuple and binds args into the copy,
// leaving the defaults untouched.
func CloneAndAssignMembers(h *Heap, defaults, args *Ref) (*Ref, error) {
	clone, err := DeepCopy(h, defaults)
	if err != nil {
		return nil, err
	}
	cloneTuple, ok := clone.Value().(*Tuple)
	if !ok {
		clone.DropRef()
		return nil, fmt.Errorf("%w: lambda defaults are not a tuple", ErrNotTuple)
	}
	if err := cloneTuple.AssignMembers(h, clone, args); err != nil {
		clone.DropRef()
		return nil, err
	}
	return clone, nil
}

// SetLambdaSelf marks container as a self container and binds every Named
// lambda member's receiver to it.
func SetLambdaSelf(h *Heap, container *Ref) {
	t, ok := container.Value().(*Tuple)
	if !ok {
		return
	}
	t.AutoBind = true
	for _, v := range t.Values {
		named, ok := v.Value().(*Named)
		if !ok {
			continue
		}
		if lambda, ok := named.Val.Value().(*Lambda); ok {
			lambda.SetSelfObject(h, named.Val, container)
		}
	}
}

// ---- Set -------------------------------------------------------------------

// Set is a lazily filtered iterable: a collection paired with a filter
// lambda. Iteration and membership delegate to the collection; applying the
// filter is generated code's concern.
type Set struct {
	aliases
	Collection *Ref
	Filter     *Ref
}

func (*Set) TypeName() string { return "set" }

// NewSet allocates a Set owning edges to its collection and filter.
func NewSet(h *Heap, collection, filter *Ref) *Ref {
	s := &Set{Collection: collection, Filter: filter}
	r := h.NewObject(s)
	h.AddEdge(r, collection)
	h.AddEdge(r, filter)
	return r
}

// ResetIter rewinds the underlying collection's cursor.
func (s *Set) ResetIter() {
	if it, ok := s.Collection.Value().(Iterable); ok {
		it.ResetIter()
	}
}

// NextElem yields the underlying collection's next element.
func (s *Set) NextElem(h *Heap) (*Ref, bool) {
	if it, ok := s.Collection.Value().(Iterable); ok {
		return it.NextElem(h)
	}
	return nil, false
}
