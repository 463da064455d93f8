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

// Package stdlib assembles the builtin native modules exposed to XLang
// programs: conversions, I/O, JSON, string utilities, and math. Every
// builtin goes through the VM's native function ABI; the package doubles as
// the ABI's reference user.
package stdlib

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/xlang-project/go-xlang/lang/vm"
)

// Stdout and Stdin are the streams the I/O builtins use; tests rebind them.
var (
	Stdout io.Writer = os.Stdout
	Stdin  io.Reader = os.Stdin
)

// NewNativeLambda wraps fn as a callable Lambda value with an empty
// parameter tuple.
func NewNativeLambda(h *vm.Heap, name string, fn vm.NativeFn) *vm.Ref {
	params := vm.NewTuple(h, nil)
	result := vm.NewNull(h)
	lambda := vm.NewLambda(h, 0, "<builtins>::"+name, params, nil, nil, vm.NativeBody(fn), result, false)
	params.DropRef()
	result.DropRef()
	return lambda
}

// buildModule assembles named native functions into a KeyVal tuple.
func buildModule(h *vm.Heap, names []string, fns map[string]vm.NativeFn) *vm.Ref {
	module := vm.NewTuple(h, nil)
	tuple := module.Value().(*vm.Tuple)
	for _, name := range names {
		fn := NewNativeLambda(h, name, fns[name])
		key := vm.NewString(h, name)
		pair := vm.NewKeyVal(h, key, fn)
		tuple.Append(h, module, pair)
		fn.DropRef()
		key.DropRef()
		pair.DropRef()
	}
	return module
}

// argAt returns the i-th positional argument, unwrapping Named bindings.
func argAt(args *vm.Ref, i int) (*vm.Ref, error) {
	tuple, ok := args.Value().(*vm.Tuple)
	if !ok {
		return nil, fmt.Errorf("native arguments must be a tuple")
	}
	if i >= len(tuple.Values) {
		return nil, fmt.Errorf("missing argument %d", i)
	}
	arg := tuple.Values[i]
	if named, ok := arg.Value().(*vm.Named); ok {
		return named.Val, nil
	}
	return arg, nil
}

// Builtins assembles the core builtin module: print, input, len, and the
// conversion functions.
func Builtins(h *vm.Heap) *vm.Ref {
	names := []string{"print", "input", "len", "to_int", "to_float", "to_string", "to_bool", "to_bytes"}
	return buildModule(h, names, map[string]vm.NativeFn{
		"print":     builtinPrint,
		"input":     builtinInput,
		"len":       builtinLen,
		"to_int":    builtinToInt,
		"to_float":  builtinToFloat,
		"to_string": builtinToString,
		"to_bool":   builtinToBool,
		"to_bytes":  builtinToBytes,
	})
}

func builtinPrint(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	tuple := args.Value().(*vm.Tuple)
	parts := make([]string, 0, len(tuple.Values))
	for _, elem := range tuple.Values {
		if s, ok := elem.Value().(*vm.String); ok {
			parts = append(parts, s.Val)
			continue
		}
		parts = append(parts, vm.TryRepr(elem))
	}
	fmt.Fprintln(Stdout, strings.Join(parts, " "))
	return vm.NewNull(h), nil
}

func builtinInput(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	if tuple := args.Value().(*vm.Tuple); len(tuple.Values) > 0 {
		if prompt, ok := tuple.Values[0].Value().(*vm.String); ok {
			fmt.Fprint(Stdout, prompt.Val)
		}
	}
	line, err := bufio.NewReader(Stdin).ReadString('\n')
	if err != nil && line == "" {
		return nil, err
	}
	return vm.NewString(h, strings.TrimRight(line, "\r\n")), nil
}

func builtinLen(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	arg, err := argAt(args, 0)
	if err != nil {
		return nil, err
	}
	n, err := vm.Length(arg)
	if err != nil {
		return nil, err
	}
	return vm.NewInt(h, n), nil
}

func builtinToInt(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	arg, err := argAt(args, 0)
	if err != nil {
		return nil, err
	}
	switch v := arg.Value().(type) {
	case *vm.Int:
		return vm.NewInt(h, v.Val), nil
	case *vm.Float:
		return vm.NewInt(h, int64(v.Val)), nil
	case *vm.Bool:
		if v.Val {
			return vm.NewInt(h, 1), nil
		}
		return vm.NewInt(h, 0), nil
	case *vm.String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Val), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as int", v.Val)
		}
		return vm.NewInt(h, n), nil
	case *vm.Null:
		return vm.NewInt(h, 0), nil
	}
	return nil, fmt.Errorf("cannot convert %s to int", arg.TypeName())
}

func builtinToFloat(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	arg, err := argAt(args, 0)
	if err != nil {
		return nil, err
	}
	switch v := arg.Value().(type) {
	case *vm.Int:
		return vm.NewFloat(h, float64(v.Val)), nil
	case *vm.Float:
		return vm.NewFloat(h, v.Val), nil
	case *vm.Bool:
		if v.Val {
			return vm.NewFloat(h, 1), nil
		}
		return vm.NewFloat(h, 0), nil
	case *vm.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Val), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as float", v.Val)
		}
		return vm.NewFloat(h, f), nil
	case *vm.Null:
		return vm.NewFloat(h, 0), nil
	}
	return nil, fmt.Errorf("cannot convert %s to float", arg.TypeName())
}

func builtinToString(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	arg, err := argAt(args, 0)
	if err != nil {
		return nil, err
	}
	switch v := arg.Value().(type) {
	case *vm.String:
		return vm.NewString(h, v.Val), nil
	case *vm.Bytes:
		return vm.NewString(h, string(v.Val)), nil
	}
	return vm.NewString(h, vm.TryRepr(arg)), nil
}

func builtinToBool(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	arg, err := argAt(args, 0)
	if err != nil {
		return nil, err
	}
	switch v := arg.Value().(type) {
	case *vm.Bool:
		return vm.NewBool(h, v.Val), nil
	case *vm.Int:
		return vm.NewBool(h, v.Val != 0), nil
	case *vm.Float:
		return vm.NewBool(h, v.Val != 0), nil
	case *vm.String:
		return vm.NewBool(h, v.Val != ""), nil
	case *vm.Null:
		return vm.NewBool(h, false), nil
	}
	return vm.NewBool(h, true), nil
}

func builtinToBytes(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	arg, err := argAt(args, 0)
	if err != nil {
		return nil, err
	}
	switch v := arg.Value().(type) {
	case *vm.Bytes:
		return vm.NewBytes(h, v.Val), nil
	case *vm.String:
		return vm.NewBytes(h, []byte(v.Val)), nil
	}
	return nil, fmt.Errorf("cannot convert %s to bytes", arg.TypeName())
}
