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
	"encoding/json"
	"fmt"

	"github.com/xlang-project/go-xlang/lang/vm"
)

// JSONModule assembles the json builtin module: encode renders a value tree
// to a JSON string, decode parses one back into values. Tuples of KeyVals
// map to objects, plain tuples to arrays.
func JSONModule(h *vm.Heap) *vm.Ref {
	names := []string{"encode", "decode"}
	return buildModule(h, names, map[string]vm.NativeFn{
		"encode": jsonEncode,
		"decode": jsonDecode,
	})
}

func jsonEncode(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	arg, err := argAt(args, 0)
	if err != nil {
		return nil, err
	}
	tree, err := toJSONValue(arg)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	return vm.NewString(h, string(encoded)), nil
}

func jsonDecode(_, _, args *vm.Ref, h *vm.Heap) (*vm.Ref, error) {
	arg, err := argAt(args, 0)
	if err != nil {
		return nil, err
	}
	text, ok := arg.Value().(*vm.String)
	if !ok {
		return nil, fmt.Errorf("json decode needs a string, got %s", arg.TypeName())
	}
	var tree interface{}
	if err := json.Unmarshal([]byte(text.Val), &tree); err != nil {
		return nil, err
	}
	return fromJSONValue(h, tree), nil
}

func toJSONValue(ref *vm.Ref) (interface{}, error) {
	switch v := ref.Value().(type) {
	case *vm.Null:
		return nil, nil
	case *vm.Int:
		return v.Val, nil
	case *vm.Float:
		return v.Val, nil
	case *vm.Bool:
		return v.Val, nil
	case *vm.String:
		return v.Val, nil
	case *vm.Tuple:
		if obj, ok := tupleAsObject(v); ok {
			return obj, nil
		}
		arr := make([]interface{}, 0, len(v.Values))
		for _, elem := range v.Values {
			converted, err := toJSONValue(elem)
			if err != nil {
				return nil, err
			}
			arr = append(arr, converted)
		}
		return arr, nil
	case *vm.KeyVal:
		key, err := toJSONValue(v.Key)
		if err != nil {
			return nil, err
		}
		val, err := toJSONValue(v.Val)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{fmt.Sprint(key): val}, nil
	}
	return nil, fmt.Errorf("cannot encode %s as JSON", ref.TypeName())
}

// tupleAsObject converts a tuple whose members are all KeyVals with string
// keys into a JSON object.
func tupleAsObject(t *vm.Tuple) (map[string]interface{}, bool) {
	if len(t.Values) == 0 {
		return nil, false
	}
	obj := make(map[string]interface{}, len(t.Values))
	for _, elem := range t.Values {
		kv, ok := elem.Value().(*vm.KeyVal)
		if !ok {
			return nil, false
		}
		key, ok := kv.Key.Value().(*vm.String)
		if !ok {
			return nil, false
		}
		val, err := toJSONValue(kv.Val)
		if err != nil {
			return nil, false
		}
		obj[key.Val] = val
	}
	return obj, true
}

func fromJSONValue(h *vm.Heap, tree interface{}) *vm.Ref {
	switch v := tree.(type) {
	case nil:
		return vm.NewNull(h)
	case bool:
		return vm.NewBool(h, v)
	case float64:
		if v == float64(int64(v)) {
			return vm.NewInt(h, int64(v))
		}
		return vm.NewFloat(h, v)
	case string:
		return vm.NewString(h, v)
	case []interface{}:
		elems := make([]*vm.Ref, 0, len(v))
		for _, item := range v {
			elems = append(elems, fromJSONValue(h, item))
		}
		tuple := vm.NewTuple(h, elems)
		for _, e := range elems {
			e.DropRef()
		}
		return tuple
	case map[string]interface{}:
		elems := make([]*vm.Ref, 0, len(v))
		for key, item := range v {
			keyRef := vm.NewString(h, key)
			valRef := fromJSONValue(h, item)
			elems = append(elems, vm.NewKeyVal(h, keyRef, valRef))
			keyRef.DropRef()
			valRef.DropRef()
		}
		tuple := vm.NewTuple(h, elems)
		for _, e := range elems {
			e.DropRef()
		}
		return tuple
	}
	return vm.NewNull(h)
}
