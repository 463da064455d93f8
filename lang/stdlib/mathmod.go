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
	"math"

	"github.com/xlang-project/go-xlang/lang/vm"
)

// MathModule assembles the math builtin module.
func MathModule(h *vm.Heap) *vm.Ref {
	fns := map[string]vm.NativeFn{
		"sqrt":  mathUnary(math.Sqrt),
		"sin":   mathUnary(math.Sin),
		"cos":   mathUnary(math.Cos),
		"tan":   mathUnary(math.Tan),
		"log":   mathUnary(math.Log),
		"exp":   mathUnary(math.Exp),
		"floor": mathUnary(math.Floor),
		"ceil":  mathUnary(math.Ceil),
		"round": mathUnary(math.Round),
	}
	names := []string{"sqrt", "sin", "cos", "tan", "log", "exp", "floor", "ceil", "round"}
	return buildModule(h, names, fns)
}

func mathUnary(f func(float64) float64) vm.NativeFn {
	return func(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
		arg, err := argAt(args, 0)
		if err != nil {
			return nil, err
		}
		switch v := arg.Value().(type) {
		case *vm.Int:
			return vm.NewFloat(h, f(float64(v.Val))), nil
		case *vm.Float:
			return vm.NewFloat(h, f(v.Val)), nil
		}
		return nil, fmt.Errorf("math function needs a number, got %s", arg.TypeName())
	}
}
