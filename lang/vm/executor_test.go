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
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xlang-project/go-xlang/lang/bytecode"
)

// ---- Program helpers -------------------------------------------------------

// buildMain assembles a package whose __main__ body is produced by fn.
func buildMain(fn func(b *bytecode.Builder)) *bytecode.Package {
	b := bytecode.NewBuilder()
	b.Function("__main__")
	fn(b)
	return b.Package()
}

// newEntry wraps pkg's signature entry in a fresh lambda value.
func newEntry(h *Heap, pkg *bytecode.Package, signature string) *Ref {
	instructions := NewInstructions(h, pkg)
	defaults := NewTuple(h, nil)
	result := NewNull(h)
	lambda := NewLambda(h, 0, signature, defaults, nil, nil, BytecodeBody(instructions), result, false)
	instructions.DropRef()
	defaults.DropRef()
	result.DropRef()
	return lambda
}

// runMain builds, runs, and returns the entry lambda (still native-held by
// the test) together with the heap.
func runMain(t *testing.T, fn func(b *bytecode.Builder)) (*Heap, *Ref) {
	t.Helper()
	h := NewHeap()
	entry := newEntry(h, buildMain(fn), "__main__")

	pool := NewCoroutinePool(false)
	if _, err := pool.NewCoroutine(entry.CloneRef(), nil, h); err != nil {
		t.Fatalf("NewCoroutine: %v", err)
	}
	if err := pool.RunUntilFinished(h); err != nil {
		t.Fatalf("RunUntilFinished: %v", err)
	}
	return h, entry
}

func resultOf(entry *Ref) *Ref {
	return entry.Value().(*Lambda).Result
}

// ---- Basic programs --------------------------------------------------------

func TestArithmeticProgram(t *testing.T) {
	_, entry := runMain(t, func(b *bytecode.Builder) {
		b.EmitInt64(bytecode.OpLoadInt64, 2)
		b.EmitInt64(bytecode.OpLoadInt64, 3)
		b.Emit(bytecode.OpBinaryAdd)
		b.Emit(bytecode.OpReturn)
	})
	wantInt(t, resultOf(entry), 5)
	if got := entry.Value().(*Lambda).Status; got != StatusFinished {
		t.Fatalf("status = %s, want Finished", got)
	}
}

func TestVariablesAndControlFlow(t *testing.T) {
	// acc = 0; for i in 0..5 { acc = acc + i }; return acc
	_, entry := runMain(t, func(b *bytecode.Builder) {
		b.EmitInt64(bytecode.OpLoadInt64, 0)
		b.EmitString(bytecode.OpStoreVar, "acc")
		b.Emit(bytecode.OpPop)

		b.EmitInt64(bytecode.OpLoadInt64, 0)
		b.EmitInt64(bytecode.OpLoadInt64, 5)
		b.Emit(bytecode.OpBuildRange)
		b.EmitString(bytecode.OpStoreVar, "it")
		b.Emit(bytecode.OpResetIter)

		loop := b.Len()
		next := b.EmitJump(bytecode.OpNextOrJump)
		b.EmitString(bytecode.OpLoadVar, "acc")
		b.Emit(bytecode.OpBinaryAdd)
		b.EmitString(bytecode.OpStoreVar, "acc")
		b.Emit(bytecode.OpPop)
		b.EmitJumpTo(bytecode.OpJump, loop)
		next.Target()

		b.Emit(bytecode.OpPop) // the exhausted iterator
		b.EmitString(bytecode.OpLoadVar, "acc")
		b.Emit(bytecode.OpReturn)
	})
	wantInt(t, resultOf(entry), 10)
}

func TestStringOpsProgram(t *testing.T) {
	_, entry := runMain(t, func(b *bytecode.Builder) {
		b.EmitString(bytecode.OpLoadString, "abc")
		b.EmitInt64(bytecode.OpLoadInt64, 1)
		b.EmitInt64(bytecode.OpLoadInt64, 3)
		b.Emit(bytecode.OpBuildRange)
		b.Emit(bytecode.OpIndexOf)
		b.EmitString(bytecode.OpLoadString, "!")
		b.Emit(bytecode.OpBinaryAdd)
		b.Emit(bytecode.OpReturn)
	})
	wantString(t, resultOf(entry), "bc!")
}

// ---- Calls and closures ----------------------------------------------------

func TestFunctionCallStackDiscipline(t *testing.T) {
	// double(x) = x + x; return double(21) == 42
	b := bytecode.NewBuilder()
	b.Function("__main__")
	// callee lambda: defaults (x => null), body from this package
	b.EmitString(bytecode.OpLoadString, "x")
	b.Emit(bytecode.OpLoadNull)
	b.Emit(bytecode.OpBuildNamed)
	b.EmitInt32(bytecode.OpBuildTuple, 1)
	b.Emit(bytecode.OpFork)
	b.EmitLoadLambda("double", 0, false, false)

	// args (21 positionally bound to x)
	b.EmitInt64(bytecode.OpLoadInt64, 21)
	b.EmitInt32(bytecode.OpBuildTuple, 1)
	b.Emit(bytecode.OpCall)
	b.Emit(bytecode.OpReturn)

	b.Function("double")
	b.EmitString(bytecode.OpLoadVar, "x")
	b.EmitString(bytecode.OpLoadVar, "x")
	b.Emit(bytecode.OpBinaryAdd)
	b.Emit(bytecode.OpReturn)

	h := NewHeap()
	entry := newEntry(h, b.Package(), "__main__")
	ex := NewExecutor(entry)
	if err := ex.Init(h, nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	for entry.Value().(*Lambda).Status != StatusFinished {
		if _, err := ex.Step(h); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	wantInt(t, resultOf(entry), 42)
	ex.Close()
}

// T = (x: 10, f: () -> self.x); BindSelf T; T.f() yields 10.
func TestClosureSelfBind(t *testing.T) {
	b := bytecode.NewBuilder()
	b.Function("__main__")
	b.EmitString(bytecode.OpLoadString, "x")
	b.EmitInt64(bytecode.OpLoadInt64, 10)
	b.Emit(bytecode.OpBuildNamed)
	b.EmitString(bytecode.OpLoadString, "f")
	b.EmitInt32(bytecode.OpBuildTuple, 0)
	b.Emit(bytecode.OpFork)
	b.EmitLoadLambda("T::f", 0, false, false)
	b.Emit(bytecode.OpBuildNamed)
	b.EmitInt32(bytecode.OpBuildTuple, 2)
	b.Emit(bytecode.OpBindSelf)
	b.EmitString(bytecode.OpStoreVar, "T")

	b.EmitString(bytecode.OpLoadString, "f")
	b.Emit(bytecode.OpGetAttr)
	b.EmitInt32(bytecode.OpBuildTuple, 0)
	b.Emit(bytecode.OpCall)
	b.Emit(bytecode.OpReturn)

	b.Function("T::f")
	b.EmitString(bytecode.OpLoadVar, "this")
	b.Emit(bytecode.OpSelfOf)
	b.EmitString(bytecode.OpLoadString, "x")
	b.Emit(bytecode.OpGetAttr)
	b.Emit(bytecode.OpReturn)

	h := NewHeap()
	entry := newEntry(h, b.Package(), "__main__")
	pool := NewCoroutinePool(false)
	if _, err := pool.NewCoroutine(entry.CloneRef(), nil, h); err != nil {
		t.Fatalf("NewCoroutine: %v", err)
	}
	if err := pool.RunUntilFinished(h); err != nil {
		t.Fatalf("run: %v", err)
	}
	wantInt(t, resultOf(entry), 10)
}

// ---- Raise and boundary frames ---------------------------------------------

func TestRaiseAcrossFrames(t *testing.T) {
	b := bytecode.NewBuilder()
	b.Function("__main__")
	catch := b.EmitJump(bytecode.OpNewBoundaryFrame)
	b.Emit(bytecode.OpNewFrame)
	b.Emit(bytecode.OpNewFrame)
	b.EmitString(bytecode.OpLoadString, "oops")
	b.Emit(bytecode.OpRaise)
	catch.Target()
	catchIP := b.Len()
	b.Emit(bytecode.OpReturn)
	pkg := b.Package()

	h := NewHeap()
	entry := newEntry(h, pkg, "__main__")
	ex := NewExecutor(entry)
	if err := ex.Init(h, nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	depthBeforeBoundary := ex.Context().Depth()

	// NewBoundaryFrame, NewFrame, NewFrame, LoadString, Raise.
	for i := 0; i < 5; i++ {
		if _, err := ex.Step(h); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	if ex.IP() != catchIP {
		t.Fatalf("ip = %d, want boundary target %d", ex.IP(), catchIP)
	}
	if got := ex.Context().Depth(); got != depthBeforeBoundary {
		t.Fatalf("frame depth = %d, want %d", got, depthBeforeBoundary)
	}
	top, err := ex.peekValue(0)
	if err != nil {
		t.Fatal(err)
	}
	wantString(t, top, "oops")

	for entry.Value().(*Lambda).Status != StatusFinished {
		if _, err := ex.Step(h); err != nil {
			t.Fatalf("finish: %v", err)
		}
	}
	wantString(t, resultOf(entry), "oops")
	ex.Close()
}

func TestHandlerErrorBecomesCatchableVMError(t *testing.T) {
	// Adding an int to a string fails; the boundary catches the synthesized
	// error tuple.
	_, entry := runMain(t, func(b *bytecode.Builder) {
		catch := b.EmitJump(bytecode.OpNewBoundaryFrame)
		b.EmitInt64(bytecode.OpLoadInt64, 1)
		b.EmitString(bytecode.OpLoadString, "nope")
		b.Emit(bytecode.OpBinaryAdd)
		b.Emit(bytecode.OpReturn) // unreached
		catch.Target()
		// The raised value is the error tuple: return its message.
		b.EmitString(bytecode.OpLoadString, "message")
		b.Emit(bytecode.OpGetAttr)
		b.Emit(bytecode.OpReturn)
	})
	msg, ok := resultOf(entry).Value().(*String)
	if !ok {
		t.Fatalf("result is %s", resultOf(entry).TypeName())
	}
	if !strings.Contains(msg.Val, "type mismatch") {
		t.Fatalf("message = %q", msg.Val)
	}
}

func TestErrorTupleCarriesAliases(t *testing.T) {
	_, entry := runMain(t, func(b *bytecode.Builder) {
		catch := b.EmitJump(bytecode.OpNewBoundaryFrame)
		b.EmitInt32(bytecode.OpLoadBool, 0)
		b.Emit(bytecode.OpAssert)
		b.Emit(bytecode.OpReturn) // unreached
		catch.Target()
		b.Emit(bytecode.OpAliasOf)
		b.Emit(bytecode.OpReturn)
	})
	aliases := resultOf(entry).Value().(*Tuple)
	if len(aliases.Values) != 2 {
		t.Fatalf("alias count = %d", len(aliases.Values))
	}
	wantString(t, aliases.Values[0], "VMError")
	wantString(t, aliases.Values[1], "Err")
}

func TestUncaughtErrorCrashesCoroutine(t *testing.T) {
	h := NewHeap()
	entry := newEntry(h, buildMain(func(b *bytecode.Builder) {
		b.EmitString(bytecode.OpLoadVar, "missing")
		b.Emit(bytecode.OpReturn)
	}), "__main__")

	pool := NewCoroutinePool(false)
	if _, err := pool.NewCoroutine(entry.CloneRef(), nil, h); err != nil {
		t.Fatalf("NewCoroutine: %v", err)
	}
	err := pool.RunUntilFinished(h)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrUndefinedVariable) {
		t.Fatalf("err = %v, want ErrUndefinedVariable", err)
	}
	if got := entry.Value().(*Lambda).Status; got != StatusCrashed {
		t.Fatalf("status = %s, want Crashed", got)
	}
	var poolErr *PoolError
	if !errors.As(err, &poolErr) {
		t.Fatalf("err %T is not a PoolError", err)
	}
}

// ---- Alias, copy, misc opcodes ---------------------------------------------

func TestAliasOpcodes(t *testing.T) {
	_, entry := runMain(t, func(b *bytecode.Builder) {
		b.EmitInt64(bytecode.OpLoadInt64, 1)
		b.EmitString(bytecode.OpAlias, "Tagged")
		b.EmitString(bytecode.OpAlias, "Twice")
		b.Emit(bytecode.OpWipeAlias)
		b.EmitString(bytecode.OpAlias, "Final")
		b.Emit(bytecode.OpAliasOf)
		b.Emit(bytecode.OpReturn)
	})
	aliases := resultOf(entry).Value().(*Tuple)
	if len(aliases.Values) != 1 {
		t.Fatalf("alias count = %d, want 1", len(aliases.Values))
	}
	wantString(t, aliases.Values[0], "Final")
}

func TestTypeOfAndWrap(t *testing.T) {
	_, entry := runMain(t, func(b *bytecode.Builder) {
		b.EmitInt64(bytecode.OpLoadInt64, 1)
		b.Emit(bytecode.OpWrap)
		b.Emit(bytecode.OpTypeOf)
		b.Emit(bytecode.OpReturn)
	})
	wantString(t, resultOf(entry), "wrapper")
}

func TestImportOpcode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "module.xbc")

	mod := bytecode.NewBuilder()
	mod.Function("lib::answer")
	mod.EmitInt64(bytecode.OpLoadInt64, 41)
	mod.Emit(bytecode.OpReturn)
	if err := bytecode.WriteFile(mod.Package(), path); err != nil {
		t.Fatalf("write module: %v", err)
	}
	FlushImportCache()

	_, entry := runMain(t, func(b *bytecode.Builder) {
		b.EmitString(bytecode.OpLoadString, path)
		b.Emit(bytecode.OpImport)
		b.Emit(bytecode.OpTypeOf)
		b.Emit(bytecode.OpReturn)
	})
	wantString(t, resultOf(entry), "instructions")
}

func TestSetValueMutatesThroughReference(t *testing.T) {
	_, entry := runMain(t, func(b *bytecode.Builder) {
		// T = (x: 1); T.x = 5; return T.x
		b.EmitString(bytecode.OpLoadString, "x")
		b.EmitInt64(bytecode.OpLoadInt64, 1)
		b.Emit(bytecode.OpBuildNamed)
		b.EmitInt32(bytecode.OpBuildTuple, 1)
		b.EmitString(bytecode.OpStoreVar, "T")

		b.EmitString(bytecode.OpLoadString, "x")
		b.Emit(bytecode.OpGetAttr)
		b.EmitInt64(bytecode.OpLoadInt64, 5)
		b.Emit(bytecode.OpSetValue)
		b.Emit(bytecode.OpPop)

		b.EmitString(bytecode.OpLoadVar, "T")
		b.EmitString(bytecode.OpLoadString, "x")
		b.Emit(bytecode.OpGetAttr)
		b.Emit(bytecode.OpReturn)
	})
	wantInt(t, resultOf(entry), 5)
}
