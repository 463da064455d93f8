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

package stdlib

import (
	"bytes"
	"testing"

	"github.com/xlang-project/go-xlang/lang/vm"
)

// callBuiltin looks fn up in module and invokes it through the native ABI.
func callBuiltin(t *testing.T, h *vm.Heap, module *vm.Ref, name string, argv ...*vm.Ref) *vm.Ref {
	t.Helper()
	slot, err := vm.Attr(module, vm.NewString(h, name))
	if err != nil {
		t.Fatalf("builtin %q not found: %v", name, err)
	}
	lambda := slot.Value().(*vm.Lambda)
	args := vm.NewTuple(h, argv)
	out, err := lambda.Body.Native(nil, nil, args, h)
	if err != nil {
		t.Fatalf("builtin %q failed: %v", name, err)
	}
	return out
}

func TestConversions(t *testing.T) {
	h := vm.NewHeap()
	module := Builtins(h)

	out := callBuiltin(t, h, module, "to_int", vm.NewString(h, " 42 "))
	if out.Value().(*vm.Int).Val != 42 {
		t.Fatalf("to_int = %s", vm.TryRepr(out))
	}

	out = callBuiltin(t, h, module, "to_float", vm.NewInt(h, 3))
	if out.Value().(*vm.Float).Val != 3 {
		t.Fatalf("to_float = %s", vm.TryRepr(out))
	}

	out = callBuiltin(t, h, module, "to_string", vm.NewBytes(h, []byte("hi")))
	if out.Value().(*vm.String).Val != "hi" {
		t.Fatalf("to_string = %s", vm.TryRepr(out))
	}

	out = callBuiltin(t, h, module, "len", vm.NewString(h, "héllo"))
	if out.Value().(*vm.Int).Val != 5 {
		t.Fatalf("len = %s", vm.TryRepr(out))
	}

	out = callBuiltin(t, h, module, "to_bool", vm.NewInt(h, 0))
	if out.Value().(*vm.Bool).Val {
		t.Fatalf("to_bool(0) = true")
	}
}

func TestPrintWritesToStdout(t *testing.T) {
	h := vm.NewHeap()
	module := Builtins(h)

	var buf bytes.Buffer
	old := Stdout
	Stdout = &buf
	defer func() { Stdout = old }()

	callBuiltin(t, h, module, "print", vm.NewString(h, "hello"), vm.NewInt(h, 7))
	if got := buf.String(); got != "hello 7\n" {
		t.Fatalf("print wrote %q", got)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	h := vm.NewHeap()
	module := JSONModule(h)

	key := vm.NewString(h, "n")
	val := vm.NewInt(h, 5)
	kv := vm.NewKeyVal(h, key, val)
	obj := vm.NewTuple(h, []*vm.Ref{kv})

	encoded := callBuiltin(t, h, module, "encode", obj)
	if encoded.Value().(*vm.String).Val != `{"n":5}` {
		t.Fatalf("encode = %s", vm.TryRepr(encoded))
	}

	decoded := callBuiltin(t, h, module, "decode", encoded)
	if !vm.Eq(decoded, obj) {
		t.Fatalf("decode = %s, want %s", vm.TryRepr(decoded), vm.TryRepr(obj))
	}
}

func TestStringsModule(t *testing.T) {
	h := vm.NewHeap()
	module := StringsModule(h)

	out := callBuiltin(t, h, module, "upper", vm.NewString(h, "abc"))
	if out.Value().(*vm.String).Val != "ABC" {
		t.Fatalf("upper = %s", vm.TryRepr(out))
	}

	parts := callBuiltin(t, h, module, "split", vm.NewString(h, "a,b"), vm.NewString(h, ","))
	tuple := parts.Value().(*vm.Tuple)
	if len(tuple.Values) != 2 {
		t.Fatalf("split = %s", vm.TryRepr(parts))
	}

	joined := callBuiltin(t, h, module, "join", parts, vm.NewString(h, "-"))
	if joined.Value().(*vm.String).Val != "a-b" {
		t.Fatalf("join = %s", vm.TryRepr(joined))
	}

	idx := callBuiltin(t, h, module, "find", vm.NewString(h, "héllo"), vm.NewString(h, "llo"))
	if idx.Value().(*vm.Int).Val != 2 {
		t.Fatalf("find = %s", vm.TryRepr(idx))
	}
}

func TestMathModule(t *testing.T) {
	h := vm.NewHeap()
	module := MathModule(h)

	out := callBuiltin(t, h, module, "sqrt", vm.NewInt(h, 9))
	if out.Value().(*vm.Float).Val != 3 {
		t.Fatalf("sqrt = %s", vm.TryRepr(out))
	}
	out = callBuiltin(t, h, module, "floor", vm.NewFloat(h, 2.9))
	if out.Value().(*vm.Float).Val != 2 {
		t.Fatalf("floor = %s", vm.TryRepr(out))
	}
}
