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

import "fmt"

// FrameType classifies a context frame by its role in unwinding.
type FrameType uint8

const (
	// NormalFrame scopes variables only.
	NormalFrame FrameType = iota
	// FunctionFrame is the unwind target of Return.
	FunctionFrame
	// BoundaryFrame is the unwind target of Raise.
	BoundaryFrame
)

func (t FrameType) String() string {
	switch t {
	case NormalFrame:
		return "normal"
	case FunctionFrame:
		return "function"
	case BoundaryFrame:
		return "boundary"
	}
	return "unknown"
}

// LastIP is a saved-frame marker on the operand stack: where to resume, which
// lambda to deliver the result to, and whether entering pushed a new
// instruction package that must be popped when the frame unwinds.
type LastIP struct {
	Lambda          *Ref
	ReturnIP        int
	NewInstructions bool
}

// StackObject is one operand stack slot: either a value handle or a
// saved-frame marker.
type StackObject struct {
	Value *Ref
	IP    *LastIP
}

// IsValue reports whether the slot holds a value handle.
func (s StackObject) IsValue() bool { return s.Value != nil }

// contextFrame is one lexical scope with its variable table.
type contextFrame struct {
	typ  FrameType
	vars map[string]*Ref
}

// Context is the executor's scope machinery: the frame stack, the per-frame
// variable tables, and the operand-stack depth recorded at each frame entry.
type Context struct {
	frames        []contextFrame
	stackPointers []int
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{}
}

// NewFrame pushes a frame of the given type, recording the operand stack
// depth at entry.
func (c *Context) NewFrame(stackDepth int, typ FrameType) {
	c.frames = append(c.frames, contextFrame{typ: typ, vars: make(map[string]*Ref)})
	c.stackPointers = append(c.stackPointers, stackDepth)
}

// Depth returns the number of live frames.
func (c *Context) Depth() int { return len(c.frames) }

// StackBase returns the operand stack depth recorded by the innermost frame,
// or zero when no frame is live.
func (c *Context) StackBase() int {
	if len(c.stackPointers) == 0 {
		return 0
	}
	return c.stackPointers[len(c.stackPointers)-1]
}

// LetVar binds name in the innermost frame, taking a native reference on the
// value. Rebinding drops the previous reference.
func (c *Context) LetVar(name string, value *Ref) error {
	if len(c.frames) == 0 {
		return fmt.Errorf("%w: let %q outside any frame", ErrNoFrame, name)
	}
	vars := c.frames[len(c.frames)-1].vars
	if old, ok := vars[name]; ok {
		old.DropRef()
	}
	vars[name] = value.CloneRef()
	return nil
}

// GetVar resolves name searching frames innermost-out, returning the bound
// reference without taking ownership.
func (c *Context) GetVar(name string) (*Ref, error) {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if v, ok := c.frames[i].vars[name]; ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUndefinedVariable, name)
}

// dropFrameVars releases the variable bindings of frame i.
func (c *Context) dropFrameVars(i int) {
	for _, v := range c.frames[i].vars {
		v.DropRef()
	}
	c.frames[i].vars = nil
}

// popFrames drops frames from index i upward.
func (c *Context) popFrames(i int) {
	for j := len(c.frames) - 1; j >= i; j-- {
		c.dropFrameVars(j)
	}
	c.frames = c.frames[:i]
	c.stackPointers = c.stackPointers[:i]
}

// findInnermost returns the index of the innermost frame of type typ.
func (c *Context) findInnermost(typ FrameType) (int, bool) {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].typ == typ {
			return i, true
		}
	}
	return 0, false
}
