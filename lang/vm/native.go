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

// NativeFn is the native function ABI. self and capture may be nil; args is
// always a Tuple reference with the call arguments bound in. Ownership of the
// returned reference transfers to the caller.
type NativeFn func(self, capture, args *Ref, h *Heap) (*Ref, error)

// NativeGenerator is a lambda body backed by an external state machine. The
// executor calls Init once at call time, then Step once per dispatch cycle;
// IsDone signals termination, after which GetResult produces the final value.
type NativeGenerator interface {
	Init(args *Ref, h *Heap) error
	Step(h *Heap) (*Ref, error)
	IsDone() bool
	GetResult(h *Heap) (*Ref, error)
}

// ---- CLambda ---------------------------------------------------------------

// CLambdaEntry is one entry point of a foreign library.
type CLambdaEntry func(args *Ref, h *Heap) (*Ref, error)

// CLambda is an opaque handle to a native library: a named entry table the VM
// dispatches into by selector. The library's implementation is external to
// the core; from the VM's perspective a call either returns a value handle or
// an error.
type CLambda struct {
	aliases
	Library string
	Entries map[string]CLambdaEntry
}

func (*CLambda) TypeName() string { return "clambda" }

// NewCLambda allocates a CLambda value around an entry table.
func NewCLambda(h *Heap, library string, entries map[string]CLambdaEntry) *Ref {
	return h.NewObject(&CLambda{Library: library, Entries: entries})
}

// Call dispatches the entry named selector with the bound args.
func (c *CLambda) Call(selector string, args *Ref, h *Heap) (*Ref, error) {
	entry, ok := c.Entries[selector]
	if !ok {
		return nil, fmt.Errorf("%w: library %q has no entry %q", ErrNativeCall, c.Library, selector)
	}
	out, err := entry(args, h)
	if err != nil {
		return nil, fmt.Errorf("%w: %s::%s: %v", ErrNativeCall, c.Library, selector, err)
	}
	return out, nil
}
