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

// SpawnedCoroutine is a request, produced by AsyncCall, for the pool to start
// a new coroutine on lambda with the already-bound argument tuple.
type SpawnedCoroutine struct {
	Lambda *Ref
	Args   *Ref
}

// Executor drives one coroutine: an instruction pointer, an operand stack, a
// scope context, and the stack of instruction packages currently being
// executed (re-entered on each cross-package call). It is stepped externally
// by the pool, one opcode per step.
type Executor struct {
	context            *Context
	stack              []StackObject
	ip                 int
	lambdaInstructions []*Ref // Instructions values; a Lambda value marks a running generator
	entryLambda        *Ref
}

// NewExecutor wraps entryLambda in a fresh executor, taking a native
// reference on it.
func NewExecutor(entryLambda *Ref) *Executor {
	return &Executor{
		context:     NewContext(),
		entryLambda: entryLambda.CloneRef(),
	}
}

// Context exposes the executor's scope machinery.
func (ex *Executor) Context() *Context { return ex.context }

// IP returns the current instruction pointer.
func (ex *Executor) IP() int { return ex.ip }

// StackDepth returns the operand stack depth.
func (ex *Executor) StackDepth() int { return len(ex.stack) }

// EntryLambda returns the lambda this executor drives.
func (ex *Executor) EntryLambda() *Ref { return ex.entryLambda }

// entry returns the entry lambda's payload.
func (ex *Executor) entry() *Lambda { return ex.entryLambda.Value().(*Lambda) }

// ---- Operand stack ---------------------------------------------------------

// pushValue transfers ownership of ref onto the operand stack.
func (ex *Executor) pushValue(ref *Ref) {
	ex.stack = append(ex.stack, StackObject{Value: ref})
}

// popObject removes the top slot, transferring ownership to the caller.
func (ex *Executor) popObject() (StackObject, error) {
	if len(ex.stack) == 0 {
		return StackObject{}, ErrEmptyStack
	}
	top := ex.stack[len(ex.stack)-1]
	ex.stack = ex.stack[:len(ex.stack)-1]
	return top, nil
}

// popValue removes the top slot, which must be a value.
func (ex *Executor) popValue() (*Ref, error) {
	obj, err := ex.popObject()
	if err != nil {
		return nil, err
	}
	if !obj.IsValue() {
		ex.stack = append(ex.stack, obj) // put the marker back
		return nil, ErrNotValue
	}
	return obj.Value, nil
}

// peekValue returns the value depth slots below the top without taking
// ownership.
func (ex *Executor) peekValue(depth int) (*Ref, error) {
	if depth < 0 || depth >= len(ex.stack) {
		return nil, ErrEmptyStack
	}
	obj := ex.stack[len(ex.stack)-1-depth]
	if !obj.IsValue() {
		return nil, ErrNotValue
	}
	return obj.Value, nil
}

// dropStackObject releases whatever the slot owns. Discarded saved-frame
// markers give back their lambda reference and, when they carried a package
// switch, the instruction package itself.
func (ex *Executor) dropStackObject(obj StackObject) {
	if obj.IsValue() {
		obj.Value.DropRef()
		return
	}
	if obj.IP.NewInstructions {
		ex.popInstructions()
	}
	obj.IP.Lambda.DropRef()
}

// truncateKeepTop cuts the operand stack down to base while preserving the
// topmost value, releasing everything in between.
func (ex *Executor) truncateKeepTop(base int) error {
	if base > len(ex.stack) {
		return fmt.Errorf("%w: frame base %d above stack depth %d", ErrEmptyStack, base, len(ex.stack))
	}
	top, err := ex.popObject()
	if err != nil {
		return err
	}
	for len(ex.stack) > base {
		obj := ex.stack[len(ex.stack)-1]
		ex.stack = ex.stack[:len(ex.stack)-1]
		ex.dropStackObject(obj)
	}
	ex.stack = append(ex.stack, top)
	return nil
}

// ---- Instruction package stack ---------------------------------------------

// currentPackage returns the instruction package on top of the package stack.
func (ex *Executor) currentPackage() (*bytecode.Package, error) {
	if len(ex.lambdaInstructions) == 0 {
		return nil, fmt.Errorf("%w: no instruction package", ErrInvalidInstruction)
	}
	top := ex.lambdaInstructions[len(ex.lambdaInstructions)-1]
	ins, ok := top.Value().(*Instructions)
	if !ok {
		return nil, fmt.Errorf("%w: executing a %s", ErrInvalidInstruction, top.TypeName())
	}
	return ins.Pkg, nil
}

func (ex *Executor) pushInstructions(ref *Ref) {
	ex.lambdaInstructions = append(ex.lambdaInstructions, ref.CloneRef())
}

func (ex *Executor) popInstructions() {
	if len(ex.lambdaInstructions) == 0 {
		return
	}
	top := ex.lambdaInstructions[len(ex.lambdaInstructions)-1]
	ex.lambdaInstructions = ex.lambdaInstructions[:len(ex.lambdaInstructions)-1]
	top.DropRef()
}

// lookupString resolves a string-pool operand against the current package.
func (ex *Executor) lookupString(arg bytecode.Argument) (string, error) {
	if arg.Kind != bytecode.ArgString {
		return "", fmt.Errorf("%w: expected string-pool operand", ErrInvalidInstruction)
	}
	pkg, err := ex.currentPackage()
	if err != nil {
		return "", err
	}
	s, ok := pkg.LookupString(arg.Pool)
	if !ok {
		return "", fmt.Errorf("%w: string pool index %d", ErrInvalidInstruction, arg.Pool)
	}
	return s, nil
}

// ---- Entering lambdas ------------------------------------------------------

// enterLambda prepares the executor to run lambdaRef's body with args, the
// already-bound argument tuple. For bytecode bodies it pushes the saved-frame
// marker and a function frame, binds parameters and receivers as variables,
// and switches the package stack when the body lives in a different package.
// Generator bodies are pushed onto the package stack and stepped in place.
func (ex *Executor) enterLambda(lambdaRef, args *Ref, h *Heap) error {
	lambda, ok := lambdaRef.Value().(*Lambda)
	if !ok {
		return fmt.Errorf("%w: tried to enter %s", ErrNotLambda, lambdaRef.TypeName())
	}

	if lambda.Body.Kind == BodyGenerator {
		ex.lambdaInstructions = append(ex.lambdaInstructions, lambdaRef.CloneRef())
		return nil
	}
	if lambda.Body.Kind != BodyBytecode || lambda.Body.Instructions == nil {
		return fmt.Errorf("%w: only bytecode lambdas can be entered", ErrNotLambda)
	}
	if _, ok := lambda.Body.Instructions.Value().(*Instructions); !ok {
		return fmt.Errorf("%w: lambda body is %s", ErrNotLambda, lambda.Body.Instructions.TypeName())
	}

	newInstructions := true
	if len(ex.lambdaInstructions) > 0 {
		top := ex.lambdaInstructions[len(ex.lambdaInstructions)-1]
		newInstructions = top != lambda.Body.Instructions
	}

	ex.stack = append(ex.stack, StackObject{IP: &LastIP{
		Lambda:          lambdaRef.CloneRef(),
		ReturnIP:        ex.ip,
		NewInstructions: newInstructions,
	}})
	if newInstructions {
		ex.pushInstructions(lambda.Body.Instructions)
	}

	ex.context.NewFrame(len(ex.stack), FunctionFrame)

	if args != nil {
		argTuple, ok := args.Value().(*Tuple)
		if !ok {
			return fmt.Errorf("%w: bound arguments are not a tuple", ErrNotTuple)
		}
		for _, entry := range argTuple.Values {
			named, ok := entry.Value().(*Named)
			if !ok {
				continue
			}
			key, ok := named.Key.Value().(*String)
			if !ok {
				return fmt.Errorf("%w: parameter name is %s", ErrTypeMismatch, named.Key.TypeName())
			}
			if err := ex.context.LetVar(key.Val, named.Val); err != nil {
				return err
			}
		}
	}
	if lambda.SelfObject != nil {
		if err := ex.context.LetVar("self", lambda.SelfObject); err != nil {
			return err
		}
	}
	if err := ex.context.LetVar("this", lambdaRef); err != nil {
		return err
	}
	return nil
}

// Init enters the entry lambda and positions the instruction pointer at its
// table entry. args may be nil; a non-nil args tuple is bound into the
// lambda's parameters first.
func (ex *Executor) Init(h *Heap, args *Ref) error {
	lambda := ex.entry()

	bound := args
	var owned *Ref
	if lambda.Body.Kind == BodyBytecode || lambda.Body.Kind == BodyGenerator {
		var err error
		if args == nil {
			args = lambda.DefaultArgs
		}
		if lambda.DynamicParams {
			defaults := lambda.DefaultArgs
			if args != defaults {
				if err := defaults.Value().(*Tuple).AssignMembers(h, defaults, args); err != nil {
					return err
				}
			}
			bound = defaults
		} else {
			owned, err = CloneAndAssignMembers(h, lambda.DefaultArgs, args)
			if err != nil {
				return err
			}
			bound = owned
		}
	}
	if owned != nil {
		defer owned.DropRef()
	}

	if lambda.Body.Kind == BodyGenerator {
		if err := lambda.Body.Generator.Init(bound, h); err != nil {
			return fmt.Errorf("%w: %v", ErrNativeCall, err)
		}
	}
	if err := ex.enterLambda(ex.entryLambda, bound, h); err != nil {
		return err
	}
	if lambda.Body.Kind == BodyBytecode {
		pkg, err := ex.currentPackage()
		if err != nil {
			return err
		}
		entry, ok := pkg.EntryIP(lambda.Signature)
		if !ok {
			return fmt.Errorf("%w: no entry for signature %q", ErrInvalidInstruction, lambda.Signature)
		}
		ex.ip = int(entry)
	}
	return nil
}

// Close releases everything the executor still owns. Called by the pool when
// the coroutine is reaped.
func (ex *Executor) Close() {
	for len(ex.stack) > 0 {
		obj := ex.stack[len(ex.stack)-1]
		ex.stack = ex.stack[:len(ex.stack)-1]
		if obj.IsValue() {
			obj.Value.DropRef()
		} else {
			obj.IP.Lambda.DropRef()
		}
	}
	ex.context.popFrames(0)
	for len(ex.lambdaInstructions) > 0 {
		ex.popInstructions()
	}
	ex.entryLambda.DropRef()
}

// ---- Stepping --------------------------------------------------------------

// Step executes exactly one opcode (or one generator step). It returns spawn
// requests produced by AsyncCall. Handler failures are reified into a VMError
// tuple and funneled through Raise; only an unraisable error is returned.
func (ex *Executor) Step(h *Heap) ([]SpawnedCoroutine, error) {
	if ex.entry().Status == StatusFinished {
		return nil, nil
	}

	if len(ex.lambdaInstructions) == 0 {
		// The entry frame unwound: the final stack value is the result.
		result, err := ex.popValue()
		if err != nil {
			return nil, err
		}
		entry := ex.entry()
		entry.Status = StatusFinished
		entry.SetResult(h, ex.entryLambda, result)
		result.DropRef()
		return nil, nil
	}

	// A Lambda value on top of the package stack marks a running native
	// generator; step it instead of decoding.
	top := ex.lambdaInstructions[len(ex.lambdaInstructions)-1]
	if _, isLambda := top.Value().(*Lambda); isLambda {
		return nil, ex.stepGenerator(h, top)
	}

	pkg, err := ex.currentPackage()
	if err != nil {
		return nil, err
	}

	stepMeter.Mark(1)
	savedIP := ex.ip
	in, err := bytecode.Decode(pkg.Code, &ex.ip)
	if err != nil {
		ex.ip = savedIP
		return nil, ex.raiseError(h, savedIP, fmt.Errorf("%w: %v", ErrInvalidInstruction, err))
	}
	if !in.Op.Valid() {
		ex.ip = savedIP
		return nil, ex.raiseError(h, savedIP, fmt.Errorf("%w: opcode 0x%02x", ErrInvalidInstruction, uint8(in.Op)))
	}

	spawned, err := handlerTable[in.Op](ex, in, h)
	if err != nil {
		ex.ip = savedIP
		return nil, ex.raiseError(h, savedIP, err)
	}
	return spawned, nil
}

// stepGenerator advances a native generator lambda one step: yields are
// pushed and recorded as the lambda's result; on completion the final value
// is pushed and the generator popped.
func (ex *Executor) stepGenerator(h *Heap, lambdaRef *Ref) error {
	lambda := lambdaRef.Value().(*Lambda)
	gen := lambda.Body.Generator
	if gen == nil {
		return fmt.Errorf("%w: generator lambda without a generator", ErrNotLambda)
	}

	yielded, err := gen.Step(h)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNativeCall, err)
	}
	if yielded != nil {
		lambda.SetResult(h, lambdaRef, yielded)
		ex.pushValue(yielded)
	}

	if gen.IsDone() {
		result, err := gen.GetResult(h)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNativeCall, err)
		}
		lambda.SetResult(h, lambdaRef, result)
		ex.pushValue(result)
		ex.popInstructions()
	}
	return nil
}

// raiseError reifies a handler failure into a VMError tuple — keys message
// and ip, aliases VMError and Err — pushes it, and performs the Raise
// unwinding. When no boundary frame exists the original error comes back and
// the coroutine crashes.
func (ex *Executor) raiseError(h *Heap, ip int, cause error) error {
	raiseMeter.Mark(1)

	errTuple := NewErrorValue(h, cause.Error(), int64(ip))
	ex.pushValue(errTuple)

	if _, raiseErr := opRaise(ex, bytecode.Instruction{}, h); raiseErr != nil {
		return cause
	}
	return nil
}

// NewErrorValue builds the catchable error value: a Tuple of
// {message: String, ip: Int} tagged with aliases VMError and Err.
func NewErrorValue(h *Heap, message string, ip int64) *Ref {
	msgKey := NewString(h, "message")
	msgVal := NewString(h, message)
	ipKey := NewString(h, "ip")
	ipVal := NewInt(h, ip)
	msgKV := NewKeyVal(h, msgKey, msgVal)
	ipKV := NewKeyVal(h, ipKey, ipVal)
	tuple := NewTuple(h, []*Ref{msgKV, ipKV})
	*tuple.Value().AliasList() = []string{"VMError", "Err"}

	msgKey.DropRef()
	msgVal.DropRef()
	ipKey.DropRef()
	ipVal.DropRef()
	msgKV.DropRef()
	ipKV.DropRef()
	return tuple
}
