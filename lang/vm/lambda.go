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
	"github.com/xlang-project/go-xlang/lang/bytecode"
)

// CoroutineStatus tracks the lifecycle of a lambda driven as a coroutine.
type CoroutineStatus uint8

const (
	StatusRunning CoroutineStatus = iota
	StatusFinished
	StatusCrashed
)

func (s CoroutineStatus) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusFinished:
		return "Finished"
	case StatusCrashed:
		return "Crashed"
	}
	return "Unknown"
}

// BodyKind discriminates what a lambda executes.
type BodyKind uint8

const (
	// BodyBytecode runs an instruction package (or dispatches a CLambda
	// entry table when the referenced value is a CLambda).
	BodyBytecode BodyKind = iota
	// BodyNative calls a Go function synchronously.
	BodyNative
	// BodyGenerator steps an external state machine.
	BodyGenerator
)

// LambdaBody is the executable part of a Lambda value.
type LambdaBody struct {
	Kind         BodyKind
	Instructions *Ref // Instructions or CLambda value, BodyBytecode only
	Native       NativeFn
	Generator    NativeGenerator
}

// BytecodeBody wraps an Instructions (or CLambda) reference as a lambda body.
func BytecodeBody(instructions *Ref) LambdaBody {
	return LambdaBody{Kind: BodyBytecode, Instructions: instructions}
}

// NativeBody wraps a Go function as a lambda body.
func NativeBody(fn NativeFn) LambdaBody {
	return LambdaBody{Kind: BodyNative, Native: fn}
}

// GeneratorBody wraps a native generator as a lambda body.
func GeneratorBody(gen NativeGenerator) LambdaBody {
	return LambdaBody{Kind: BodyGenerator, Generator: gen}
}

// ---- Lambda ----------------------------------------------------------------

// Lambda is the callable value. DefaultArgs defines parameter names and
// defaults; Result is the return/yield sink; SelfObject is the receiver bound
// by auto-bind. A lambda with DynamicParams binds call arguments into its
// DefaultArgs in place instead of a fresh clone.
type Lambda struct {
	aliases
	Signature     string
	CodePosition  uint64
	DefaultArgs   *Ref
	Capture       *Ref // nil when the lambda captures nothing
	SelfObject    *Ref // nil until bound
	Body          LambdaBody
	Result        *Ref
	Status        CoroutineStatus
	DynamicParams bool
}

func (*Lambda) TypeName() string { return "lambda" }

// NewLambda allocates a Lambda owning edges to its defaults, body
// instructions, result, and the optional capture and self references.
// capture and selfObject may be nil.
func NewLambda(h *Heap, codePosition uint64, signature string, defaults, capture, selfObject *Ref, body LambdaBody, result *Ref, dynamicParams bool) *Ref {
	l := &Lambda{
		Signature:     signature,
		CodePosition:  codePosition,
		DefaultArgs:   defaults,
		Capture:       capture,
		SelfObject:    selfObject,
		Body:          body,
		Result:        result,
		Status:        StatusRunning,
		DynamicParams: dynamicParams,
	}
	r := h.NewObject(l)
	h.AddEdge(r, defaults)
	if body.Kind == BodyBytecode && body.Instructions != nil {
		h.AddEdge(r, body.Instructions)
	}
	h.AddEdge(r, result)
	if capture != nil {
		h.AddEdge(r, capture)
	}
	if selfObject != nil {
		h.AddEdge(r, selfObject)
	}
	return r
}

// SetResult replaces the lambda's result slot, swapping ownership edges.
// owner must be the heap object whose payload is l.
func (l *Lambda) SetResult(h *Heap, owner, result *Ref) {
	old := l.Result
	h.AddEdge(owner, result)
	l.Result = result
	if old != nil {
		h.RemoveEdge(owner, old)
	}
}

// SetSelfObject binds the lambda's receiver, swapping ownership edges.
func (l *Lambda) SetSelfObject(h *Heap, owner, self *Ref) {
	if l.SelfObject != nil {
		h.RemoveEdge(owner, l.SelfObject)
	}
	l.SelfObject = self
	h.AddEdge(owner, self)
}

// ---- Instructions ----------------------------------------------------------

// Instructions is an immutable instruction package lifted onto the heap so
// lambdas and executors can share it by reference.
type Instructions struct {
	aliases
	Pkg *bytecode.Package
}

func (*Instructions) TypeName() string { return "instructions" }

// NewInstructions allocates an Instructions value around pkg.
func NewInstructions(h *Heap, pkg *bytecode.Package) *Ref {
	return h.NewObject(&Instructions{Pkg: pkg})
}
