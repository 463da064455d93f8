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

// Copy makes a shallow copy: a fresh heap object of the same variant whose
// compound children are shared by reference. The alias list is copied.
func Copy(h *Heap, ref *Ref) (*Ref, error) {
	var out *Ref
	switch v := ref.Value().(type) {
	case *Null:
		out = NewNull(h)
	case *Int:
		out = NewInt(h, v.Val)
	case *Float:
		out = NewFloat(h, v.Val)
	case *Bool:
		out = NewBool(h, v.Val)
	case *String:
		out = NewString(h, v.Val)
	case *Bytes:
		out = NewBytes(h, v.Val)
	case *Range:
		out = NewRange(h, v.Start, v.End)
	case *KeyVal:
		out = NewKeyVal(h, v.Key, v.Val)
	case *Named:
		out = NewNamed(h, v.Key, v.Val)
	case *Wrapper:
		out = NewWrapper(h, v.Inner)
	case *Tuple:
		out = NewTuple(h, v.Values)
		out.Value().(*Tuple).AutoBind = v.AutoBind
	case *Set:
		out = NewSet(h, v.Collection, v.Filter)
	case *Instructions:
		out = NewInstructions(h, v.Pkg)
	case *CLambda:
		out = NewCLambda(h, v.Library, v.Entries)
	case *Lambda:
		result := NewNull(h)
		out = NewLambda(h, v.CodePosition, v.Signature, v.DefaultArgs, v.Capture, v.SelfObject, v.Body, result, v.DynamicParams)
		result.DropRef()
	default:
		return nil, fmt.Errorf("%w: cannot copy %s", ErrTypeMismatch, ref.TypeName())
	}
	*out.Value().AliasList() = copyAlias(*ref.Value().AliasList())
	return out, nil
}

// DeepCopy makes a structural copy: compound children are copied recursively.
// Lambda bodies and instruction packages stay shared (they are immutable);
// captures and bound receivers stay shared to preserve closure identity.
func DeepCopy(h *Heap, ref *Ref) (*Ref, error) {
	switch v := ref.Value().(type) {
	case *KeyVal:
		key, err := DeepCopy(h, v.Key)
		if err != nil {
			return nil, err
		}
		val, err := DeepCopy(h, v.Val)
		if err != nil {
			key.DropRef()
			return nil, err
		}
		out := NewKeyVal(h, key, val)
		key.DropRef()
		val.DropRef()
		*out.Value().AliasList() = copyAlias(*ref.Value().AliasList())
		return out, nil
	case *Named:
		key, err := DeepCopy(h, v.Key)
		if err != nil {
			return nil, err
		}
		val, err := DeepCopy(h, v.Val)
		if err != nil {
			key.DropRef()
			return nil, err
		}
		out := NewNamed(h, key, val)
		key.DropRef()
		val.DropRef()
		*out.Value().AliasList() = copyAlias(*ref.Value().AliasList())
		return out, nil
	case *Wrapper:
		inner, err := DeepCopy(h, v.Inner)
		if err != nil {
			return nil, err
		}
		out := NewWrapper(h, inner)
		inner.DropRef()
		*out.Value().AliasList() = copyAlias(*ref.Value().AliasList())
		return out, nil
	case *Tuple:
		copies := make([]*Ref, 0, len(v.Values))
		for _, elem := range v.Values {
			c, err := DeepCopy(h, elem)
			if err != nil {
				for _, done := range copies {
					done.DropRef()
				}
				return nil, err
			}
			copies = append(copies, c)
		}
		out := NewTuple(h, copies)
		for _, c := range copies {
			c.DropRef()
		}
		out.Value().(*Tuple).AutoBind = v.AutoBind
		*out.Value().AliasList() = copyAlias(*ref.Value().AliasList())
		return out, nil
	case *Set:
		collection, err := DeepCopy(h, v.Collection)
		if err != nil {
			return nil, err
		}
		filter, err := DeepCopy(h, v.Filter)
		if err != nil {
			collection.DropRef()
			return nil, err
		}
		out := NewSet(h, collection, filter)
		collection.DropRef()
		filter.DropRef()
		*out.Value().AliasList() = copyAlias(*ref.Value().AliasList())
		return out, nil
	case *Lambda:
		defaults, err := DeepCopy(h, v.DefaultArgs)
		if err != nil {
			return nil, err
		}
		result := NewNull(h)
		out := NewLambda(h, v.CodePosition, v.Signature, defaults, v.Capture, v.SelfObject, v.Body, result, v.DynamicParams)
		defaults.DropRef()
		result.DropRef()
		*out.Value().AliasList() = copyAlias(*ref.Value().AliasList())
		return out, nil
	default:
		// Scalars and code values have no owned structure to recurse into.
		return Copy(h, ref)
	}
}

// Assign replaces the target's payload in place with the source value.
// Scalars only accept their own kind; Named and KeyVal slots accept any value
// into their value side; containers take over the source's children by
// reference.
func Assign(h *Heap, target, value *Ref) error {
	switch t := target.Value().(type) {
	case *Null:
		if _, ok := value.Value().(*Null); ok {
			return nil
		}
	case *Int:
		if v, ok := value.Value().(*Int); ok {
			t.Val = v.Val
			return nil
		}
	case *Float:
		if v, ok := value.Value().(*Float); ok {
			t.Val = v.Val
			return nil
		}
	case *Bool:
		if v, ok := value.Value().(*Bool); ok {
			t.Val = v.Val
			return nil
		}
	case *String:
		if v, ok := value.Value().(*String); ok {
			t.Val = v.Val
			t.iter = 0
			return nil
		}
	case *Bytes:
		if v, ok := value.Value().(*Bytes); ok {
			t.Val = append([]byte(nil), v.Val...)
			t.iter = 0
			return nil
		}
	case *Range:
		if v, ok := value.Value().(*Range); ok {
			t.Start, t.End = v.Start, v.End
			t.iter = 0
			return nil
		}
	case *KeyVal:
		old := t.Val
		t.Val = value
		h.AddEdge(target, value)
		h.RemoveEdge(target, old)
		return nil
	case *Named:
		old := t.Val
		t.Val = value
		h.AddEdge(target, value)
		h.RemoveEdge(target, old)
		return nil
	case *Wrapper:
		old := t.Inner
		t.Inner = value
		h.AddEdge(target, value)
		h.RemoveEdge(target, old)
		return nil
	case *Tuple:
		if v, ok := value.Value().(*Tuple); ok {
			old := t.Values
			t.Values = append([]*Ref(nil), v.Values...)
			t.iter = 0
			for _, elem := range t.Values {
				h.AddEdge(target, elem)
			}
			for _, elem := range old {
				h.RemoveEdge(target, elem)
			}
			return nil
		}
	case *Set:
		if v, ok := value.Value().(*Set); ok {
			oldCollection, oldFilter := t.Collection, t.Filter
			t.Collection, t.Filter = v.Collection, v.Filter
			h.AddEdge(target, t.Collection)
			h.AddEdge(target, t.Filter)
			h.RemoveEdge(target, oldCollection)
			h.RemoveEdge(target, oldFilter)
			return nil
		}
	case *Instructions:
		if v, ok := value.Value().(*Instructions); ok {
			t.Pkg = v.Pkg
			return nil
		}
	case *Lambda:
		if v, ok := value.Value().(*Lambda); ok {
			return assignLambda(h, target, t, v)
		}
	}
	return fmt.Errorf("%w: cannot assign %s into %s", ErrTypeMismatch, value.TypeName(), target.TypeName())
}

func assignLambda(h *Heap, owner *Ref, t, v *Lambda) error {
	// Take the new edges first so shared children never hit zero in between.
	h.AddEdge(owner, v.DefaultArgs)
	h.AddEdge(owner, v.Result)
	if v.Body.Kind == BodyBytecode && v.Body.Instructions != nil {
		h.AddEdge(owner, v.Body.Instructions)
	}
	if v.Capture != nil {
		h.AddEdge(owner, v.Capture)
	}
	if v.SelfObject != nil {
		h.AddEdge(owner, v.SelfObject)
	}

	oldDefaults, oldResult := t.DefaultArgs, t.Result
	oldBody, oldCapture, oldSelf := t.Body, t.Capture, t.SelfObject

	t.Signature = v.Signature
	t.CodePosition = v.CodePosition
	t.DefaultArgs = v.DefaultArgs
	t.Capture = v.Capture
	t.SelfObject = v.SelfObject
	t.Body = v.Body
	t.Result = v.Result
	t.DynamicParams = v.DynamicParams

	h.RemoveEdge(owner, oldDefaults)
	h.RemoveEdge(owner, oldResult)
	if oldBody.Kind == BodyBytecode && oldBody.Instructions != nil {
		h.RemoveEdge(owner, oldBody.Instructions)
	}
	if oldCapture != nil {
		h.RemoveEdge(owner, oldCapture)
	}
	if oldSelf != nil {
		h.RemoveEdge(owner, oldSelf)
	}
	return nil
}
