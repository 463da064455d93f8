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
	"fmt"

	"github.com/xlang-project/go-xlang/lang/bytecode"
)

// handlerFn executes one decoded instruction against an executor.
type handlerFn func(ex *Executor, in bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error)

// handlerTable is the 256-entry dispatch table, built once at package load.
// Undefined opcodes fall through to an invalid-instruction error.
var handlerTable [256]handlerFn

func init() {
	for i := range handlerTable {
		handlerTable[i] = func(_ *Executor, in bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidInstruction, in)
		}
	}

	// Stack/value
	handlerTable[bytecode.OpLoadNull] = opLoadNull
	handlerTable[bytecode.OpLoadInt32] = opLoadInt
	handlerTable[bytecode.OpLoadInt64] = opLoadInt
	handlerTable[bytecode.OpLoadFloat32] = opLoadFloat
	handlerTable[bytecode.OpLoadFloat64] = opLoadFloat
	handlerTable[bytecode.OpLoadString] = opLoadString
	handlerTable[bytecode.OpLoadBytes] = opLoadBytes
	handlerTable[bytecode.OpLoadBool] = opLoadBool
	handlerTable[bytecode.OpLoadLambda] = opLoadLambda
	handlerTable[bytecode.OpPop] = opDiscardTop
	handlerTable[bytecode.OpFork] = opFork

	// Builders
	handlerTable[bytecode.OpBuildTuple] = opBuildTuple
	handlerTable[bytecode.OpBuildKeyValue] = opBuildKeyVal
	handlerTable[bytecode.OpBuildNamed] = opBuildNamed
	handlerTable[bytecode.OpBuildRange] = opBuildRange
	handlerTable[bytecode.OpBuildSet] = opBuildSet
	handlerTable[bytecode.OpBindSelf] = opBindSelf
	handlerTable[bytecode.OpWrap] = opWrap
	handlerTable[bytecode.OpPushValueIntoTuple] = opPushValueIntoTuple
	handlerTable[bytecode.OpForkStackObjectRef] = opForkStackObjectRef

	// Binary operators
	handlerTable[bytecode.OpBinaryAdd] = binaryOp(Add)
	handlerTable[bytecode.OpBinarySub] = binaryOp(Sub)
	handlerTable[bytecode.OpBinaryMul] = binaryOp(Mul)
	handlerTable[bytecode.OpBinaryDiv] = binaryOp(Div)
	handlerTable[bytecode.OpBinaryMod] = binaryOp(Mod)
	handlerTable[bytecode.OpBinaryPow] = binaryOp(Pow)
	handlerTable[bytecode.OpBinaryBitAnd] = binaryOp(BitAnd)
	handlerTable[bytecode.OpBinaryBitOr] = binaryOp(BitOr)
	handlerTable[bytecode.OpBinaryBitXor] = binaryOp(BitXor)
	handlerTable[bytecode.OpBinaryShl] = binaryOp(Shl)
	handlerTable[bytecode.OpBinaryShr] = binaryOp(Shr)
	handlerTable[bytecode.OpBinaryEq] = compareOp(func(l, r *Ref) (bool, error) { return Eq(l, r), nil })
	handlerTable[bytecode.OpBinaryNe] = compareOp(func(l, r *Ref) (bool, error) { return !Eq(l, r), nil })
	handlerTable[bytecode.OpBinaryGt] = compareOp(Greater)
	handlerTable[bytecode.OpBinaryLt] = compareOp(Less)
	handlerTable[bytecode.OpBinaryGe] = compareOp(func(l, r *Ref) (bool, error) {
		less, err := Less(l, r)
		return !less, err
	})
	handlerTable[bytecode.OpBinaryLe] = compareOp(func(l, r *Ref) (bool, error) {
		greater, err := Greater(l, r)
		return !greater, err
	})
	handlerTable[bytecode.OpBinaryIn] = opIsIn

	// Unary operators
	handlerTable[bytecode.OpUnaryBitNot] = unaryOp(BitNot)
	handlerTable[bytecode.OpUnaryAbs] = unaryOp(Abs)
	handlerTable[bytecode.OpUnaryNeg] = unaryOp(Neg)

	// Variables and references
	handlerTable[bytecode.OpStoreVar] = opStoreVar
	handlerTable[bytecode.OpLoadVar] = opLoadVar
	handlerTable[bytecode.OpSetValue] = opSetValue
	handlerTable[bytecode.OpGetAttr] = opGetAttr
	handlerTable[bytecode.OpIndexOf] = opIndexOf
	handlerTable[bytecode.OpKeyOf] = opKeyOf
	handlerTable[bytecode.OpValueOf] = opValueOf
	handlerTable[bytecode.OpSelfOf] = opSelfOf
	handlerTable[bytecode.OpTypeOf] = opTypeOf
	handlerTable[bytecode.OpCaptureOf] = opCaptureOf
	handlerTable[bytecode.OpDeepCopy] = opDeepCopy
	handlerTable[bytecode.OpShallowCopy] = opShallowCopy
	handlerTable[bytecode.OpLengthOf] = opLengthOf
	handlerTable[bytecode.OpSwap] = opSwap

	// Control flow
	handlerTable[bytecode.OpCall] = opCall
	handlerTable[bytecode.OpAsyncCall] = opAsyncCall
	handlerTable[bytecode.OpReturn] = opReturn
	handlerTable[bytecode.OpRaise] = opRaise
	handlerTable[bytecode.OpJump] = opJump
	handlerTable[bytecode.OpJumpIfFalse] = opJumpIfFalse
	handlerTable[bytecode.OpNewFrame] = opNewFrame
	handlerTable[bytecode.OpNewBoundaryFrame] = opNewBoundaryFrame
	handlerTable[bytecode.OpPopFrame] = opPopFrame
	handlerTable[bytecode.OpPopBoundaryFrame] = opPopBoundaryFrame
	handlerTable[bytecode.OpResetStack] = opResetStack

	// Iteration
	handlerTable[bytecode.OpResetIter] = opResetIter
	handlerTable[bytecode.OpNextOrJump] = opNextOrJump

	// Misc
	handlerTable[bytecode.OpImport] = opImport
	handlerTable[bytecode.OpAssert] = opAssert
	handlerTable[bytecode.OpEmit] = opEmit
	handlerTable[bytecode.OpIsFinished] = opIsFinished
	handlerTable[bytecode.OpAlias] = opAlias
	handlerTable[bytecode.OpWipeAlias] = opWipeAlias
	handlerTable[bytecode.OpAliasOf] = opAliasOf
}

func intOperand(in bytecode.Instruction) (int64, error) {
	v, ok := in.Operand1.AsInt()
	if !ok {
		return 0, fmt.Errorf("%w: %s needs an integer operand", ErrInvalidInstruction, in.Op)
	}
	return v, nil
}

// ---- Loads -----------------------------------------------------------------

func opLoadNull(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	ex.pushValue(NewNull(h))
	return nil, nil
}

func opLoadInt(ex *Executor, in bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	v, err := intOperand(in)
	if err != nil {
		return nil, err
	}
	ex.pushValue(NewInt(h, v))
	return nil, nil
}

func opLoadFloat(ex *Executor, in bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	v, ok := in.Operand1.AsFloat()
	if !ok {
		return nil, fmt.Errorf("%w: %s needs a float operand", ErrInvalidInstruction, in.Op)
	}
	ex.pushValue(NewFloat(h, v))
	return nil, nil
}

func opLoadString(ex *Executor, in bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	s, err := ex.lookupString(in.Operand1)
	if err != nil {
		return nil, err
	}
	ex.pushValue(NewString(h, s))
	return nil, nil
}

func opLoadBytes(ex *Executor, in bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	if in.Operand1.Kind != bytecode.ArgBytes {
		return nil, fmt.Errorf("%w: LOAD_BYTES needs a bytes-pool operand", ErrInvalidInstruction)
	}
	pkg, err := ex.currentPackage()
	if err != nil {
		return nil, err
	}
	b, ok := pkg.LookupBytes(in.Operand1.Pool)
	if !ok {
		return nil, fmt.Errorf("%w: bytes pool index %d", ErrInvalidInstruction, in.Operand1.Pool)
	}
	ex.pushValue(NewBytes(h, b))
	return nil, nil
}

func opLoadBool(ex *Executor, in bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	v, err := intOperand(in)
	if err != nil {
		return nil, err
	}
	ex.pushValue(NewBool(h, v != 0))
	return nil, nil
}

func opLoadLambda(ex *Executor, in bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	signature, err := ex.lookupString(in.Operand1)
	if err != nil {
		return nil, err
	}
	codePos, ok := in.Operand2.AsInt()
	if !ok {
		return nil, fmt.Errorf("%w: LOAD_LAMBDA needs a code position", ErrInvalidInstruction)
	}
	var flags int64
	if v, ok := in.Operand3.AsInt(); ok {
		flags = v
	}
	hasCapture := flags&1 != 0
	dynamicParams := flags&2 != 0

	instructions, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	defaultsAt := 1
	var capture *Ref
	if hasCapture {
		if capture, err = ex.peekValue(1); err != nil {
			return nil, err
		}
		defaultsAt = 2
	}
	defaults, err := ex.peekValue(defaultsAt)
	if err != nil {
		return nil, err
	}

	switch instructions.Value().(type) {
	case *Instructions, *CLambda:
	default:
		return nil, fmt.Errorf("%w: LOAD_LAMBDA body is %s", ErrTypeMismatch, instructions.TypeName())
	}
	if _, ok := defaults.Value().(*Tuple); !ok {
		return nil, fmt.Errorf("%w: lambda defaults", ErrNotTuple)
	}

	result := NewNull(h)
	lambda := NewLambda(h, uint64(codePos), signature, defaults, capture, nil, BytecodeBody(instructions), result, dynamicParams)
	result.DropRef()

	for i := 0; i <= defaultsAt; i++ {
		popped, err := ex.popValue()
		if err != nil {
			return nil, err
		}
		popped.DropRef()
	}
	ex.pushValue(lambda)
	return nil, nil
}

func opDiscardTop(ex *Executor, _ bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	v, err := ex.popValue()
	if err != nil {
		return nil, err
	}
	v.DropRef()
	return nil, nil
}

func opFork(ex *Executor, _ bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	if len(ex.lambdaInstructions) == 0 {
		return nil, fmt.Errorf("%w: FORK outside a package", ErrInvalidInstruction)
	}
	top := ex.lambdaInstructions[len(ex.lambdaInstructions)-1]
	ex.pushValue(top.CloneRef())
	return nil, nil
}

// ---- Builders --------------------------------------------------------------

func opBuildTuple(ex *Executor, in bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	n, err := intOperand(in)
	if err != nil {
		return nil, err
	}
	values := make([]*Ref, n)
	for i := int64(0); i < n; i++ {
		v, err := ex.peekValue(int(n - 1 - i))
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	tuple := NewTuple(h, values)
	for i := int64(0); i < n; i++ {
		popped, err := ex.popValue()
		if err != nil {
			return nil, err
		}
		popped.DropRef()
	}
	ex.pushValue(tuple)
	return nil, nil
}

func popTwoPush(ex *Executor, result *Ref) error {
	for i := 0; i < 2; i++ {
		popped, err := ex.popValue()
		if err != nil {
			return err
		}
		popped.DropRef()
	}
	ex.pushValue(result)
	return nil
}

func opBuildKeyVal(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	value, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	key, err := ex.peekValue(1)
	if err != nil {
		return nil, err
	}
	return nil, popTwoPush(ex, NewKeyVal(h, key, value))
}

func opBuildNamed(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	value, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	key, err := ex.peekValue(1)
	if err != nil {
		return nil, err
	}
	return nil, popTwoPush(ex, NewNamed(h, key, value))
}

func opBuildRange(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	endRef, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	startRef, err := ex.peekValue(1)
	if err != nil {
		return nil, err
	}
	start, ok := startRef.Value().(*Int)
	if !ok {
		return nil, fmt.Errorf("%w: range start is %s", ErrTypeMismatch, startRef.TypeName())
	}
	end, ok := endRef.Value().(*Int)
	if !ok {
		return nil, fmt.Errorf("%w: range end is %s", ErrTypeMismatch, endRef.TypeName())
	}
	return nil, popTwoPush(ex, NewRange(h, start.Val, end.Val))
}

func opBuildSet(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	filter, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	collection, err := ex.peekValue(1)
	if err != nil {
		return nil, err
	}
	if _, ok := filter.Value().(*Lambda); !ok {
		return nil, fmt.Errorf("%w: set filter is %s", ErrTypeMismatch, filter.TypeName())
	}
	switch collection.Value().(type) {
	case *Tuple, *String, *Bytes, *Range:
	default:
		return nil, fmt.Errorf("%w: set collection is %s", ErrTypeMismatch, collection.TypeName())
	}
	return nil, popTwoPush(ex, NewSet(h, collection, filter))
}

func opBindSelf(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	switch v := obj.Value().(type) {
	case *KeyVal:
		switch inner := v.Val.Value().(type) {
		case *Lambda:
			inner.SetSelfObject(h, v.Val, v.Key)
		case *Tuple:
			bindTupleLambdasTo(h, inner, v.Key)
		default:
			return nil, fmt.Errorf("%w: bind value is %s", ErrTypeMismatch, v.Val.TypeName())
		}
		result := v.Val.CloneRef()
		popped, err := ex.popValue()
		if err != nil {
			result.DropRef()
			return nil, err
		}
		ex.pushValue(result)
		popped.DropRef()
		return nil, nil
	case *Tuple:
		copied, err := Copy(h, obj)
		if err != nil {
			return nil, err
		}
		SetLambdaSelf(h, copied)
		popped, err := ex.popValue()
		if err != nil {
			copied.DropRef()
			return nil, err
		}
		ex.pushValue(copied)
		popped.DropRef()
		return nil, nil
	}
	return nil, fmt.Errorf("%w: BIND_SELF on %s", ErrTypeMismatch, obj.TypeName())
}

// bindTupleLambdasTo binds every Named lambda member of t to target.
func bindTupleLambdasTo(h *Heap, t *Tuple, target *Ref) {
	for _, v := range t.Values {
		if named, ok := v.Value().(*Named); ok {
			if lambda, ok := named.Val.Value().(*Lambda); ok {
				lambda.SetSelfObject(h, named.Val, target)
			}
		}
	}
}

func opWrap(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	wrapped := NewWrapper(h, obj)
	popped, err := ex.popValue()
	if err != nil {
		wrapped.DropRef()
		return nil, err
	}
	ex.pushValue(wrapped)
	popped.DropRef()
	return nil, nil
}

func opPushValueIntoTuple(ex *Executor, in bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	offset, err := intOperand(in)
	if err != nil {
		return nil, err
	}
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	tupleRef, err := ex.peekValue(int(offset))
	if err != nil {
		return nil, err
	}
	tuple, ok := tupleRef.Value().(*Tuple)
	if !ok {
		return nil, fmt.Errorf("%w: PUSH_INTO_TUPLE target is %s", ErrTypeMismatch, tupleRef.TypeName())
	}
	tuple.Append(h, tupleRef, obj)
	popped, err := ex.popValue()
	if err != nil {
		return nil, err
	}
	popped.DropRef()
	return nil, nil
}

func opForkStackObjectRef(ex *Executor, in bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	offset, err := intOperand(in)
	if err != nil {
		return nil, err
	}
	obj, err := ex.peekValue(int(offset))
	if err != nil {
		return nil, err
	}
	ex.pushValue(obj.CloneRef())
	return nil, nil
}

// ---- Binary and unary dispatch ---------------------------------------------

func binaryOp(op func(*Heap, *Ref, *Ref) (*Ref, error)) handlerFn {
	return func(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
		right, err := ex.peekValue(0)
		if err != nil {
			return nil, err
		}
		left, err := ex.peekValue(1)
		if err != nil {
			return nil, err
		}
		result, err := op(h, left, right)
		if err != nil {
			return nil, err
		}
		return nil, popTwoPush(ex, result)
	}
}

func compareOp(op func(*Ref, *Ref) (bool, error)) handlerFn {
	return func(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
		right, err := ex.peekValue(0)
		if err != nil {
			return nil, err
		}
		left, err := ex.peekValue(1)
		if err != nil {
			return nil, err
		}
		result, err := op(left, right)
		if err != nil {
			return nil, err
		}
		return nil, popTwoPush(ex, NewBool(h, result))
	}
}

func opIsIn(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	container, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	value, err := ex.peekValue(1)
	if err != nil {
		return nil, err
	}
	result, err := Contains(container, value)
	if err != nil {
		return nil, err
	}
	return nil, popTwoPush(ex, NewBool(h, result))
}

func unaryOp(op func(*Heap, *Ref) (*Ref, error)) handlerFn {
	return func(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
		obj, err := ex.peekValue(0)
		if err != nil {
			return nil, err
		}
		result, err := op(h, obj)
		if err != nil {
			return nil, err
		}
		popped, err := ex.popValue()
		if err != nil {
			result.DropRef()
			return nil, err
		}
		ex.pushValue(result)
		popped.DropRef()
		return nil, nil
	}
}

// ---- Variables and references ----------------------------------------------

func opStoreVar(ex *Executor, in bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	name, err := ex.lookupString(in.Operand1)
	if err != nil {
		return nil, err
	}
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	// The value stays on the stack; the binding takes its own reference.
	return nil, ex.context.LetVar(name, obj)
}

func opLoadVar(ex *Executor, in bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	name, err := ex.lookupString(in.Operand1)
	if err != nil {
		return nil, err
	}
	obj, err := ex.context.GetVar(name)
	if err != nil {
		return nil, err
	}
	ex.pushValue(obj.CloneRef())
	return nil, nil
}

func opSetValue(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	value, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	target, err := ex.peekValue(1)
	if err != nil {
		return nil, err
	}
	if err := Assign(h, target, value); err != nil {
		return nil, err
	}
	return nil, popTwoPush(ex, target.CloneRef())
}

func opGetAttr(ex *Executor, _ bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	attr, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	obj, err := ex.peekValue(1)
	if err != nil {
		return nil, err
	}
	slot, err := Attr(obj, attr)
	if err != nil {
		return nil, err
	}
	return nil, popTwoPush(ex, slot.CloneRef())
}

func opIndexOf(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	index, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	obj, err := ex.peekValue(1)
	if err != nil {
		return nil, err
	}
	result, err := Index(h, obj, index)
	if err != nil {
		return nil, err
	}
	return nil, popTwoPush(ex, result)
}

func popOnePush(ex *Executor, result *Ref) error {
	popped, err := ex.popValue()
	if err != nil {
		result.DropRef()
		return err
	}
	ex.pushValue(result)
	popped.DropRef()
	return nil
}

func opKeyOf(ex *Executor, _ bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	slot, err := KeyOf(obj)
	if err != nil {
		return nil, err
	}
	return nil, popOnePush(ex, slot.CloneRef())
}

func opValueOf(ex *Executor, _ bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	slot, err := ValueOf(obj)
	if err != nil {
		return nil, err
	}
	return nil, popOnePush(ex, slot.CloneRef())
}

func opSelfOf(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	lambda, ok := obj.Value().(*Lambda)
	if !ok {
		return nil, fmt.Errorf("%w: SELF_OF on %s", ErrNotLambda, obj.TypeName())
	}
	var result *Ref
	if lambda.SelfObject != nil {
		result = lambda.SelfObject.CloneRef()
	} else {
		result = NewNull(h)
	}
	return nil, popOnePush(ex, result)
}

func opTypeOf(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	return nil, popOnePush(ex, NewString(h, obj.TypeName()))
}

func opCaptureOf(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	lambda, ok := obj.Value().(*Lambda)
	if !ok {
		return nil, fmt.Errorf("%w: CAPTURE_OF on %s", ErrNotLambda, obj.TypeName())
	}
	var result *Ref
	if lambda.Capture != nil {
		result = lambda.Capture.CloneRef()
	} else {
		result = NewNull(h)
	}
	return nil, popOnePush(ex, result)
}

func opDeepCopy(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	result, err := DeepCopy(h, obj)
	if err != nil {
		return nil, err
	}
	return nil, popOnePush(ex, result)
}

func opShallowCopy(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	result, err := Copy(h, obj)
	if err != nil {
		return nil, err
	}
	return nil, popOnePush(ex, result)
}

func opLengthOf(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	n, err := Length(obj)
	if err != nil {
		return nil, err
	}
	return nil, popOnePush(ex, NewInt(h, n))
}

func opSwap(ex *Executor, in bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	a, ok := in.Operand1.AsInt()
	if !ok {
		return nil, fmt.Errorf("%w: SWAP operands", ErrInvalidInstruction)
	}
	b, ok := in.Operand2.AsInt()
	if !ok {
		return nil, fmt.Errorf("%w: SWAP operands", ErrInvalidInstruction)
	}
	if a < 0 || b < 0 || int(a) >= len(ex.stack) || int(b) >= len(ex.stack) {
		return nil, fmt.Errorf("%w: SWAP %d %d on depth %d", ErrEmptyStack, a, b, len(ex.stack))
	}
	ia := len(ex.stack) - 1 - int(a)
	ib := len(ex.stack) - 1 - int(b)
	ex.stack[ia], ex.stack[ib] = ex.stack[ib], ex.stack[ia]
	return nil, nil
}

// ---- Calls -----------------------------------------------------------------

// bindArguments resolves the bound argument tuple for a call. For dynamic
// lambdas the defaults mutate in place and are returned unowned; otherwise a
// fresh owned clone comes back and owned is true.
func bindArguments(h *Heap, lambda *Lambda, args *Ref) (bound *Ref, owned bool, err error) {
	defaults, ok := lambda.DefaultArgs.Value().(*Tuple)
	if !ok {
		return nil, false, fmt.Errorf("%w: lambda defaults are not a tuple", ErrNotTuple)
	}
	if lambda.DynamicParams {
		if err := defaults.AssignMembers(h, lambda.DefaultArgs, args); err != nil {
			return nil, false, err
		}
		return lambda.DefaultArgs, false, nil
	}
	clone, err := CloneAndAssignMembers(h, lambda.DefaultArgs, args)
	if err != nil {
		return nil, false, err
	}
	return clone, true, nil
}

// clambdaSelector picks the entry-table selector: the lambda's first alias,
// falling back to its signature.
func clambdaSelector(lambda *Lambda) string {
	if len(lambda.alias) > 0 {
		return lambda.alias[0]
	}
	return lambda.Signature
}

func opCall(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	args, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	lambdaRef, err := ex.peekValue(1)
	if err != nil {
		return nil, err
	}
	lambda, ok := lambdaRef.Value().(*Lambda)
	if !ok {
		return nil, fmt.Errorf("%w: call target is %s", ErrNotLambda, lambdaRef.TypeName())
	}
	if _, ok := args.Value().(*Tuple); !ok {
		return nil, fmt.Errorf("%w: call arguments are %s", ErrNotTuple, args.TypeName())
	}

	bound, owned, err := bindArguments(h, lambda, args)
	if err != nil {
		return nil, err
	}
	dropBound := func() {
		if owned {
			bound.DropRef()
		}
	}

	switch lambda.Body.Kind {
	case BodyBytecode:
		if clambda, ok := lambda.Body.Instructions.Value().(*CLambda); ok {
			result, err := clambda.Call(clambdaSelector(lambda), bound, h)
			if err != nil {
				dropBound()
				return nil, err
			}
			lambda.SetResult(h, lambdaRef, result)
			dropBound()
			return nil, popTwoPush(ex, result)
		}

		ins, ok := lambda.Body.Instructions.Value().(*Instructions)
		if !ok {
			dropBound()
			return nil, fmt.Errorf("%w: lambda body is %s", ErrNotLambda, lambda.Body.Instructions.TypeName())
		}
		entry, ok := ins.Pkg.EntryIP(lambda.Signature)
		if !ok {
			dropBound()
			return nil, fmt.Errorf("%w: no entry for signature %q", ErrInvalidInstruction, lambda.Signature)
		}

		// Take the operands off the stack before the frame goes up.
		poppedArgs, err := ex.popValue()
		if err != nil {
			dropBound()
			return nil, err
		}
		poppedLambda, err := ex.popValue()
		if err != nil {
			ex.pushValue(poppedArgs)
			dropBound()
			return nil, err
		}
		enterErr := ex.enterLambda(lambdaRef, bound, h)
		poppedArgs.DropRef()
		poppedLambda.DropRef()
		dropBound()
		if enterErr != nil {
			return nil, enterErr
		}
		ex.ip = int(entry)
		return nil, nil

	case BodyNative:
		result, err := lambda.Body.Native(lambda.SelfObject, lambda.Capture, bound, h)
		if err != nil {
			dropBound()
			return nil, fmt.Errorf("%w: %v", ErrNativeCall, err)
		}
		lambda.SetResult(h, lambdaRef, result)
		dropBound()
		return nil, popTwoPush(ex, result)

	case BodyGenerator:
		if err := lambda.Body.Generator.Init(bound, h); err != nil {
			dropBound()
			return nil, fmt.Errorf("%w: %v", ErrNativeCall, err)
		}
		poppedArgs, err := ex.popValue()
		if err != nil {
			dropBound()
			return nil, err
		}
		poppedLambda, err := ex.popValue()
		if err != nil {
			ex.pushValue(poppedArgs)
			dropBound()
			return nil, err
		}
		enterErr := ex.enterLambda(lambdaRef, bound, h)
		poppedArgs.DropRef()
		poppedLambda.DropRef()
		dropBound()
		return nil, enterErr
	}
	return nil, fmt.Errorf("%w: unknown lambda body", ErrNotLambda)
}

func opAsyncCall(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	args, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	lambdaRef, err := ex.peekValue(1)
	if err != nil {
		return nil, err
	}
	lambda, ok := lambdaRef.Value().(*Lambda)
	if !ok {
		return nil, fmt.Errorf("%w: async call target is %s", ErrNotLambda, lambdaRef.TypeName())
	}
	if _, ok := args.Value().(*Tuple); !ok {
		return nil, fmt.Errorf("%w: call arguments are %s", ErrNotTuple, args.TypeName())
	}
	if lambda.Body.Kind == BodyNative {
		return nil, fmt.Errorf("%w: native function cannot be async", ErrNotLambda)
	}
	if lambda.Body.Kind == BodyBytecode {
		if _, ok := lambda.Body.Instructions.Value().(*Instructions); !ok {
			return nil, fmt.Errorf("%w: async call not supported for foreign lambdas", ErrNotLambda)
		}
	}

	bound, owned, err := bindArguments(h, lambda, args)
	if err != nil {
		return nil, err
	}
	if !owned {
		bound = bound.CloneRef()
	}

	spawned := []SpawnedCoroutine{{Lambda: lambdaRef.CloneRef(), Args: bound}}

	// The lambda itself replaces the call operands so the spawner can poll it.
	poppedArgs, err := ex.popValue()
	if err != nil {
		return nil, err
	}
	poppedLambda, err := ex.popValue()
	if err != nil {
		ex.pushValue(poppedArgs)
		return nil, err
	}
	ex.pushValue(poppedLambda)
	poppedArgs.DropRef()
	return spawned, nil
}

// ---- Control flow ----------------------------------------------------------

// resumeFromMarker finishes Return/Raise/PopBoundaryFrame: the stack top is
// the carried value, the slot below it the saved-frame marker to resume from.
func (ex *Executor) resumeFromMarker(h *Heap, setResult bool) error {
	carried, err := ex.popValue()
	if err != nil {
		return err
	}
	marker, err := ex.popObject()
	if err != nil {
		ex.pushValue(carried)
		return err
	}
	if marker.IsValue() {
		ex.stack = append(ex.stack, marker)
		ex.pushValue(carried)
		return fmt.Errorf("%w: expected saved frame marker", ErrNotValue)
	}

	ex.ip = marker.IP.ReturnIP
	if setResult {
		if lambda, ok := marker.IP.Lambda.Value().(*Lambda); ok {
			lambda.SetResult(h, marker.IP.Lambda, carried)
		}
	}
	ex.pushValue(carried)

	if marker.IP.NewInstructions {
		ex.popInstructions()
	}
	marker.IP.Lambda.DropRef()
	return nil
}

// unwindKeepTop pops frames up to and including the innermost frame of typ,
// truncating the operand stack to that frame's base while keeping the top
// value.
func (ex *Executor) unwindKeepTop(typ FrameType) error {
	i, ok := ex.context.findInnermost(typ)
	if !ok {
		return fmt.Errorf("%w: no %s frame", ErrNoFrame, typ)
	}
	if err := ex.truncateKeepTop(ex.context.stackPointers[i]); err != nil {
		return err
	}
	ex.context.popFrames(i)
	return nil
}

func opReturn(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	if err := ex.unwindKeepTop(FunctionFrame); err != nil {
		return nil, err
	}
	return nil, ex.resumeFromMarker(h, true)
}

func opRaise(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	if err := ex.unwindKeepTop(BoundaryFrame); err != nil {
		return nil, err
	}
	return nil, ex.resumeFromMarker(h, false)
}

func opJump(ex *Executor, in bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	offset, err := intOperand(in)
	if err != nil {
		return nil, err
	}
	ex.ip += int(offset)
	return nil, nil
}

func opJumpIfFalse(ex *Executor, in bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	offset, err := intOperand(in)
	if err != nil {
		return nil, err
	}
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	cond, ok := obj.Value().(*Bool)
	if !ok {
		return nil, fmt.Errorf("%w: JUMP_IF_FALSE condition is %s", ErrTypeMismatch, obj.TypeName())
	}
	popped, err := ex.popValue()
	if err != nil {
		return nil, err
	}
	popped.DropRef()
	if !cond.Val {
		ex.ip += int(offset)
	}
	return nil, nil
}

func opNewFrame(ex *Executor, _ bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	ex.context.NewFrame(len(ex.stack), NormalFrame)
	return nil, nil
}

func opNewBoundaryFrame(ex *Executor, in bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	offset, err := intOperand(in)
	if err != nil {
		return nil, err
	}
	ex.stack = append(ex.stack, StackObject{IP: &LastIP{
		Lambda:          ex.entryLambda.CloneRef(),
		ReturnIP:        ex.ip + int(offset), // catch target for Raise
		NewInstructions: false,
	}})
	ex.context.NewFrame(len(ex.stack), BoundaryFrame)
	return nil, nil
}

// popFrameKeepTop pops the innermost frame, truncating the operand stack to
// its base while keeping the top value.
func (ex *Executor) popFrameKeepTop() error {
	if ex.context.Depth() == 0 {
		return ErrNoFrame
	}
	i := ex.context.Depth() - 1
	if err := ex.truncateKeepTop(ex.context.stackPointers[i]); err != nil {
		return err
	}
	ex.context.popFrames(i)
	return nil
}

func opPopFrame(ex *Executor, _ bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	return nil, ex.popFrameKeepTop()
}

func opPopBoundaryFrame(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	if err := ex.popFrameKeepTop(); err != nil {
		return nil, err
	}
	return nil, ex.resumeFromMarker(h, false)
}

func opResetStack(ex *Executor, _ bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	base := ex.context.StackBase()
	for len(ex.stack) > base {
		obj := ex.stack[len(ex.stack)-1]
		ex.stack = ex.stack[:len(ex.stack)-1]
		ex.dropStackObject(obj)
	}
	return nil, nil
}

// ---- Iteration -------------------------------------------------------------

func opResetIter(ex *Executor, _ bytecode.Instruction, _ *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	it, ok := obj.Value().(Iterable)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not iterable", ErrTypeMismatch, obj.TypeName())
	}
	it.ResetIter()
	return nil, nil
}

func opNextOrJump(ex *Executor, in bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	offset, err := intOperand(in)
	if err != nil {
		return nil, err
	}
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	it, ok := obj.Value().(Iterable)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not iterable", ErrTypeMismatch, obj.TypeName())
	}
	elem, ok := it.NextElem(h)
	if !ok {
		ex.ip += int(offset)
		return nil, nil
	}
	ex.pushValue(elem)
	return nil, nil
}

// ---- Misc ------------------------------------------------------------------

func opImport(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	pathRef, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	path, ok := pathRef.Value().(*String)
	if !ok {
		return nil, fmt.Errorf("%w: import path is %s", ErrTypeMismatch, pathRef.TypeName())
	}
	pkg, err := loadImport(path.Val)
	if err != nil {
		return nil, err
	}
	return nil, popOnePush(ex, NewInstructions(h, pkg))
}

func opAssert(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	cond, ok := obj.Value().(*Bool)
	if !ok {
		return nil, fmt.Errorf("%w: ASSERT on %s", ErrTypeMismatch, obj.TypeName())
	}
	popped, err := ex.popValue()
	if err != nil {
		return nil, err
	}
	popped.DropRef()
	if !cond.Val {
		return nil, ErrAssertFailed
	}
	ex.pushValue(NewBool(h, true))
	return nil, nil
}

func opEmit(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	if len(ex.stack) < ex.context.StackBase() {
		return nil, ErrEmptyStack
	}
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	ex.entry().SetResult(h, ex.entryLambda, obj)
	return nil, nil
}

func opIsFinished(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	lambda, ok := obj.Value().(*Lambda)
	if !ok {
		return nil, fmt.Errorf("%w: IS_FINISHED on %s", ErrNotLambda, obj.TypeName())
	}
	finished := lambda.Status == StatusFinished
	return nil, popOnePush(ex, NewBool(h, finished))
}

func opAlias(ex *Executor, in bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	name, err := ex.lookupString(in.Operand1)
	if err != nil {
		return nil, err
	}
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	copied, err := Copy(h, obj)
	if err != nil {
		return nil, err
	}
	list := copied.Value().AliasList()
	*list = append(*list, name)
	return nil, popOnePush(ex, copied)
}

func opWipeAlias(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	copied, err := Copy(h, obj)
	if err != nil {
		return nil, err
	}
	*copied.Value().AliasList() = nil
	return nil, popOnePush(ex, copied)
}

func opAliasOf(ex *Executor, _ bytecode.Instruction, h *Heap) ([]SpawnedCoroutine, error) {
	obj, err := ex.peekValue(0)
	if err != nil {
		return nil, err
	}
	names := *obj.Value().AliasList()
	elems := make([]*Ref, 0, len(names))
	for _, name := range names {
		elems = append(elems, NewString(h, name))
	}
	tuple := NewTuple(h, elems)
	for _, e := range elems {
		e.DropRef()
	}
	return nil, popOnePush(ex, tuple)
}
