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
	"fmt"
	"strings"

	"github.com/xlang-project/go-xlang/lang/vm"
)

// StringsModule assembles the string-utils builtin module.
func StringsModule(h *vm.Heap) *vm.Ref {
	names := []string{"upper", "lower", "trim", "split", "join", "replace", "find"}
	return buildModule(h, names, map[string]vm.NativeFn{
		"upper":   stringUnary(strings.ToUpper),
		"lower":   stringUnary(strings.ToLower),
		"trim":    stringUnary(strings.TrimSpace),
		"split":   stringsSplit,
		"join":    stringsJoin,
		"replace": stringsReplace,
		"find":    stringsFind,
	})
}

func stringArg(args *vm.Ref, i int) (string, error) {
	arg, err := argAt(args, i)
	if err != nil {
		return "", err
	}
	s, ok := arg.Value().(*vm.String)
	if !ok {
		return "", fmt.Errorf("argument %d must be a string, got %s", i, arg.TypeName())
	}
	return s.Val, nil
}

func stringUnary(f func(string) string) vm.NativeFn {
	return func(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
		s, err := stringArg(args, 0)
		if err != nil {
			return nil, err
		}
		return vm.NewString(h, f(s)), nil
	}
}

func stringsSplit(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	s, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	sep, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(s, sep)
	elems := make([]*vm.Ref, 0, len(parts))
	for _, part := range parts {
		elems = append(elems, vm.NewString(h, part))
	}
	tuple := vm.NewTuple(h, elems)
	for _, e := range elems {
		e.DropRef()
	}
	return tuple, nil
}

func stringsJoin(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	arg, err := argAt(args, 0)
	if err != nil {
		return nil, err
	}
	tuple, ok := arg.Value().(*vm.Tuple)
	if !ok {
		return nil, fmt.Errorf("join needs a tuple, got %s", arg.TypeName())
	}
	sep, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	parts := make([]string, 0, len(tuple.Values))
	for _, elem := range tuple.Values {
		s, ok := elem.Value().(*vm.String)
		if !ok {
			return nil, fmt.Errorf("join needs strings, got %s", elem.TypeName())
		}
		parts = append(parts, s.Val)
	}
	return vm.NewString(h, strings.Join(parts, sep)), nil
}

func stringsReplace(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	s, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	old, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	new_, err := stringArg(args, 2)
	if err != nil {
		return nil, err
	}
	return vm.NewString(h, strings.ReplaceAll(s, old, new_)), nil
}

func stringsFind(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	s, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	sub, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	byteIdx := strings.Index(s, sub)
	if byteIdx < 0 {
		return vm.NewInt(h, -1), nil
	}
	return vm.NewInt(h, int64(len([]rune(s[:byteIdx])))), nil
}
