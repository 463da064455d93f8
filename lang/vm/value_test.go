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

import (
	"errors"
	"testing"
)

func wantInt(t *testing.T, ref *Ref, want int64) {
	t.Helper()
	v, ok := ref.Value().(*Int)
	if !ok {
		t.Fatalf("got %s (%s), want Int %d", TryRepr(ref), ref.TypeName(), want)
	}
	if v.Val != want {
		t.Fatalf("got Int %d, want %d", v.Val, want)
	}
}

func wantFloat(t *testing.T, ref *Ref, want float64) {
	t.Helper()
	v, ok := ref.Value().(*Float)
	if !ok {
		t.Fatalf("got %s (%s), want Float %g", TryRepr(ref), ref.TypeName(), want)
	}
	if v.Val != want {
		t.Fatalf("got Float %g, want %g", v.Val, want)
	}
}

func wantString(t *testing.T, ref *Ref, want string) {
	t.Helper()
	v, ok := ref.Value().(*String)
	if !ok {
		t.Fatalf("got %s (%s), want String %q", TryRepr(ref), ref.TypeName(), want)
	}
	if v.Val != want {
		t.Fatalf("got String %q, want %q", v.Val, want)
	}
}

func TestArithmeticPromotion(t *testing.T) {
	h := NewHeap()
	i2 := NewInt(h, 2)
	i3 := NewInt(h, 3)
	f05 := NewFloat(h, 0.5)

	sum, err := Add(h, i2, i3)
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, sum, 5)

	mixed, err := Add(h, i2, f05)
	if err != nil {
		t.Fatal(err)
	}
	wantFloat(t, mixed, 2.5)

	// Int/Int division produces Float.
	quot, err := Div(h, i3, i2)
	if err != nil {
		t.Fatal(err)
	}
	wantFloat(t, quot, 1.5)

	rem, err := Mod(h, NewInt(h, -7), i2)
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, rem, -1) // truncated division semantics

	pow, err := Pow(h, i2, NewInt(h, 10))
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, pow, 1024)
}

func TestPowOverflowChecked(t *testing.T) {
	h := NewHeap()
	_, err := Pow(h, NewInt(h, 10), NewInt(h, 40))
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}
}

func TestDivisionByZero(t *testing.T) {
	h := NewHeap()
	_, err := Div(h, NewInt(h, 1), NewInt(h, 0))
	if !errors.Is(err, ErrValue) {
		t.Fatalf("err = %v, want ErrValue", err)
	}
}

func TestConcatenation(t *testing.T) {
	h := NewHeap()

	s, err := Add(h, NewString(h, "foo"), NewString(h, "bar"))
	if err != nil {
		t.Fatal(err)
	}
	wantString(t, s, "foobar")

	b, err := Add(h, NewBytes(h, []byte{1}), NewBytes(h, []byte{2, 3}))
	if err != nil {
		t.Fatal(err)
	}
	if got := b.Value().(*Bytes).Val; string(got) != string([]byte{1, 2, 3}) {
		t.Fatalf("bytes concat = %v", got)
	}

	t1 := NewTuple(h, []*Ref{NewInt(h, 1)})
	t2 := NewTuple(h, []*Ref{NewInt(h, 2)})
	tt, err := Add(h, t1, t2)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := Length(tt); n != 2 {
		t.Fatalf("tuple concat length = %d", n)
	}

	shifted, err := Add(h, NewRange(h, 1, 4), NewInt(h, 10))
	if err != nil {
		t.Fatal(err)
	}
	r := shifted.Value().(*Range)
	if r.Start != 11 || r.End != 14 {
		t.Fatalf("range shift = %d..%d", r.Start, r.End)
	}
}

func TestStructuralEquality(t *testing.T) {
	h := NewHeap()

	if !Eq(NewInt(h, 3), NewFloat(h, 3)) {
		t.Fatal("3 == 3.0 must hold")
	}
	if Eq(NewInt(h, 3), NewString(h, "3")) {
		t.Fatal("int must not equal string")
	}

	mk := func() *Ref {
		k := NewString(h, "k")
		v := NewInt(h, 1)
		kv := NewKeyVal(h, k, v)
		return NewTuple(h, []*Ref{kv, NewRange(h, 0, 3)})
	}
	if !Eq(mk(), mk()) {
		t.Fatal("structurally equal tuples must compare equal")
	}
}

func TestDeepCopyRoundTrip(t *testing.T) {
	h := NewHeap()

	key := NewString(h, "name")
	val := NewString(h, "värde")
	kv := NewKeyVal(h, key, val)
	inner := NewTuple(h, []*Ref{NewInt(h, 1), NewFloat(h, 2.5)})
	tuple := NewTuple(h, []*Ref{kv, inner, NewBytes(h, []byte{9}), NewRange(h, -2, 2)})
	*tuple.Value().AliasList() = []string{"Tagged"}

	clone, err := DeepCopy(h, tuple)
	if err != nil {
		t.Fatal(err)
	}
	if !Eq(tuple, clone) {
		t.Fatalf("deepcopy not structurally equal: %s vs %s", TryRepr(tuple), TryRepr(clone))
	}
	if got := *clone.Value().AliasList(); len(got) != 1 || got[0] != "Tagged" {
		t.Fatalf("alias not copied: %v", got)
	}

	// Mutating the copy must not touch the source.
	replacement := NewInt(h, 99)
	if err := Assign(h, clone.Value().(*Tuple).Values[1].Value().(*Tuple).Values[0], replacement); err != nil {
		t.Fatal(err)
	}
	wantInt(t, inner.Value().(*Tuple).Values[0], 1)
}

func TestShallowCopySharesChildren(t *testing.T) {
	h := NewHeap()
	elem := NewInt(h, 5)
	tuple := NewTuple(h, []*Ref{elem})

	clone, err := Copy(h, tuple)
	if err != nil {
		t.Fatal(err)
	}
	if clone.Value().(*Tuple).Values[0] != elem {
		t.Fatal("shallow copy must share element references")
	}
}

func TestIndexing(t *testing.T) {
	h := NewHeap()

	str := NewString(h, "héllo")
	ch, err := Index(h, str, NewInt(h, 1))
	if err != nil {
		t.Fatal(err)
	}
	wantString(t, ch, "é")

	sub, err := Index(h, str, NewRange(h, 1, 4))
	if err != nil {
		t.Fatal(err)
	}
	wantString(t, sub, "éll")

	bytes := NewBytes(h, []byte{10, 20, 30})
	bv, err := Index(h, bytes, NewInt(h, 2))
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, bv, 30)

	tuple := NewTuple(h, []*Ref{NewInt(h, 1), NewInt(h, 2), NewInt(h, 3)})
	slice, err := Index(h, tuple, NewRange(h, 1, 3))
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := Length(slice); n != 2 {
		t.Fatalf("tuple slice length = %d", n)
	}

	if _, err := Index(h, tuple, NewInt(h, 3)); !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("out of range err = %v", err)
	}
	if _, err := Index(h, str, NewInt(h, -1)); !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("negative index err = %v", err)
	}
}

func TestAttrLookup(t *testing.T) {
	h := NewHeap()

	key := NewString(h, "x")
	val := NewInt(h, 10)
	named := NewNamed(h, key, val)
	tuple := NewTuple(h, []*Ref{named})

	slot, err := Attr(tuple, NewString(h, "x"))
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, slot, 10)

	if _, err := Attr(tuple, NewString(h, "missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("missing attr err = %v", err)
	}
}

func TestContains(t *testing.T) {
	h := NewHeap()

	ok, err := Contains(NewString(h, "hello"), NewString(h, "ell"))
	if err != nil || !ok {
		t.Fatalf("substring: %v %v", ok, err)
	}
	ok, err = Contains(NewRange(h, 0, 5), NewInt(h, 4))
	if err != nil || !ok {
		t.Fatalf("range: %v %v", ok, err)
	}
	ok, err = Contains(NewRange(h, 0, 5), NewInt(h, 5))
	if err != nil || ok {
		t.Fatalf("range end must be exclusive: %v %v", ok, err)
	}
	tuple := NewTuple(h, []*Ref{NewInt(h, 1), NewString(h, "a")})
	ok, err = Contains(tuple, NewString(h, "a"))
	if err != nil || !ok {
		t.Fatalf("tuple: %v %v", ok, err)
	}
}

func collectIterated(t *testing.T, h *Heap, ref *Ref) []string {
	t.Helper()
	it, ok := ref.Value().(Iterable)
	if !ok {
		t.Fatalf("%s is not iterable", ref.TypeName())
	}
	var out []string
	for {
		elem, ok := it.NextElem(h)
		if !ok {
			break
		}
		out = append(out, TryRepr(elem))
	}
	return out
}

func TestIteratorResetIdempotence(t *testing.T) {
	h := NewHeap()

	for _, ref := range []*Ref{
		NewTuple(h, []*Ref{NewInt(h, 1), NewInt(h, 2), NewInt(h, 3)}),
		NewString(h, "abc"),
		NewBytes(h, []byte{7, 8, 9}),
		NewRange(h, 3, 6),
	} {
		it := ref.Value().(Iterable)

		// Consume part of the sequence, then reset.
		it.NextElem(h)
		it.NextElem(h)
		it.ResetIter()
		first := collectIterated(t, h, ref)

		it.ResetIter()
		second := collectIterated(t, h, ref)

		if len(first) != 3 {
			t.Fatalf("%s: got %d elements, want 3", ref.TypeName(), len(first))
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("%s: reset iteration differs: %v vs %v", ref.TypeName(), first, second)
			}
		}
	}
}

func TestSetIterationDelegates(t *testing.T) {
	h := NewHeap()

	collection := NewTuple(h, []*Ref{NewInt(h, 1), NewInt(h, 2)})
	params := NewTuple(h, nil)
	result := NewNull(h)
	filter := NewLambda(h, 0, "pred", params, nil, nil, NativeBody(nil), result, false)
	set := NewSet(h, collection, filter)

	got := collectIterated(t, h, set)
	if len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("set iteration = %v", got)
	}
}

func TestAssignMembers(t *testing.T) {
	h := NewHeap()

	mkNamed := func(name string, v int64) *Ref {
		key := NewString(h, name)
		val := NewInt(h, v)
		return NewNamed(h, key, val)
	}

	defaults := NewTuple(h, []*Ref{mkNamed("a", 1), mkNamed("b", 2)})

	// Named argument overrides by key, positional fills the remaining slot,
	// overflow appends.
	argB := mkNamed("b", 20)
	pos := NewInt(h, 10)
	extra := NewInt(h, 77)
	args := NewTuple(h, []*Ref{argB, pos, extra})

	bound, err := CloneAndAssignMembers(h, defaults, args)
	if err != nil {
		t.Fatal(err)
	}
	boundTuple := bound.Value().(*Tuple)
	if len(boundTuple.Values) != 3 {
		t.Fatalf("bound arity = %d, want 3", len(boundTuple.Values))
	}
	wantInt(t, boundTuple.Values[0].Value().(*Named).Val, 10)
	wantInt(t, boundTuple.Values[1].Value().(*Named).Val, 20)
	wantInt(t, boundTuple.Values[2], 77)

	// The defaults stay untouched.
	wantInt(t, defaults.Value().(*Tuple).Values[0].Value().(*Named).Val, 1)
	wantInt(t, defaults.Value().(*Tuple).Values[1].Value().(*Named).Val, 2)
}

func TestSetLambdaSelfBindsNamedLambdas(t *testing.T) {
	h := NewHeap()

	params := NewTuple(h, nil)
	result := NewNull(h)
	method := NewLambda(h, 0, "m", params, nil, nil, NativeBody(nil), result, false)
	key := NewString(h, "m")
	named := NewNamed(h, key, method)
	container := NewTuple(h, []*Ref{named})

	SetLambdaSelf(h, container)

	lambda := method.Value().(*Lambda)
	if lambda.SelfObject != container {
		t.Fatal("lambda self not bound to container")
	}
	if !container.Value().(*Tuple).AutoBind {
		t.Fatal("container not flagged auto-bind")
	}
}
