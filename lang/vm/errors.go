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

import "errors"

// ---- Error sentinels -------------------------------------------------------

// Every sentinel below is recoverable inside a running coroutine: the
// dispatch loop reifies it into a VMError tuple and funnels it through the
// Raise machinery. Only pool-level errors (ErrLambdaInUse) and heap
// corruption stay on the Go error surface.

// ErrInvalidInstruction is returned when the fetched byte does not correspond
// to a known opcode or its operands have the wrong shape.
var ErrInvalidInstruction = errors.New("vm: invalid instruction")

// ErrEmptyStack is returned when a handler needs more operands than the
// current frame holds.
var ErrEmptyStack = errors.New("vm: operand stack underflow")

// ErrNotValue is returned when a handler finds a saved-frame marker where a
// value was expected.
var ErrNotValue = errors.New("vm: stack slot is not a value")

// ErrTypeMismatch is returned when an operation is applied to an incompatible
// variant.
var ErrTypeMismatch = errors.New("vm: type mismatch")

// ErrKeyNotFound is returned by attribute lookup when no member matches.
var ErrKeyNotFound = errors.New("vm: key not found")

// ErrIndexNotFound is returned by indexing when the index is out of range.
var ErrIndexNotFound = errors.New("vm: index not found")

// ErrOverflow is returned by checked integer arithmetic.
var ErrOverflow = errors.New("vm: integer overflow")

// ErrValue is returned for invalid conversions and malformed operands.
var ErrValue = errors.New("vm: value error")

// ErrUndefinedVariable is returned by variable lookup when no frame binds the
// name.
var ErrUndefinedVariable = errors.New("vm: undefined variable")

// ErrNoFrame is returned when a frame operation runs on an empty context.
var ErrNoFrame = errors.New("vm: no frame")

// ErrAssertFailed is returned by the Assert opcode on a false operand.
var ErrAssertFailed = errors.New("vm: assertion failed")

// ErrNotLambda is returned when a call target is not a Lambda value.
var ErrNotLambda = errors.New("vm: not a lambda")

// ErrNotTuple is returned when call arguments are not a Tuple value.
var ErrNotTuple = errors.New("vm: argument is not a tuple")

// ErrNativeCall is returned when a native function or CLambda entry signals
// failure.
var ErrNativeCall = errors.New("vm: native call failed")

// ErrFile is returned by Import when the package file cannot be loaded.
var ErrFile = errors.New("vm: file error")

// ErrLambdaInUse is returned by the pool when a lambda is already the entry
// of a live coroutine. It surfaces at the API boundary and is not raisable.
var ErrLambdaInUse = errors.New("vm: lambda already driven by a coroutine")
