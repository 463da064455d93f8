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
	"strings"
	"testing"

	"github.com/xlang-project/go-xlang/lang/bytecode"
)

// counterProgram emits a worker that counts to limit, emitting each
// intermediate value, and returns the final count.
func counterProgram(limit int64) *bytecode.Package {
	b := bytecode.NewBuilder()
	b.Function("worker")
	b.EmitInt64(bytecode.OpLoadInt64, 0)
	b.EmitString(bytecode.OpStoreVar, "acc")
	b.Emit(bytecode.OpPop)

	loop := b.Len()
	b.EmitString(bytecode.OpLoadVar, "acc")
	b.EmitInt64(bytecode.OpLoadInt64, 1)
	b.Emit(bytecode.OpBinaryAdd)
	b.EmitString(bytecode.OpStoreVar, "acc")
	b.Emit(bytecode.OpEmit)
	b.Emit(bytecode.OpPop)

	b.EmitString(bytecode.OpLoadVar, "acc")
	b.EmitInt64(bytecode.OpLoadInt64, limit)
	b.Emit(bytecode.OpBinaryLt)
	exit := b.EmitJump(bytecode.OpJumpIfFalse)
	b.EmitJumpTo(bytecode.OpJump, loop)
	exit.Target()

	b.EmitString(bytecode.OpLoadVar, "acc")
	b.Emit(bytecode.OpReturn)
	return b.Package()
}

// Two coroutines stepping the same program interleave fairly: both reach
// their full count, and no coroutine finishes within a single cycle.
func TestAsyncFairness(t *testing.T) {
	h := NewHeap()
	pkg := counterProgram(100)

	first := newEntry(h, pkg, "worker")
	second := newEntry(h, pkg, "worker")

	pool := NewCoroutinePool(false)
	if _, err := pool.NewCoroutine(first.CloneRef(), nil, h); err != nil {
		t.Fatalf("spawn first: %v", err)
	}
	if _, err := pool.NewCoroutine(second.CloneRef(), nil, h); err != nil {
		t.Fatalf("spawn second: %v", err)
	}

	cycles := 0
	for pool.Len() > 0 {
		spawned, err := pool.StepAll(h)
		if err != nil {
			t.Fatalf("cycle %d: %v", cycles, err)
		}
		if len(spawned) != 0 {
			t.Fatalf("unexpected spawn requests: %d", len(spawned))
		}
		pool.SweepFinished()
		cycles++
	}

	wantInt(t, resultOf(first), 100)
	wantInt(t, resultOf(second), 100)
	if cycles < 100 {
		t.Fatalf("finished in %d cycles, want >= 100", cycles)
	}
}

func TestLambdaReentryGuard(t *testing.T) {
	h := NewHeap()
	entry := newEntry(h, counterProgram(3), "worker")

	pool := NewCoroutinePool(false)
	if _, err := pool.NewCoroutine(entry.CloneRef(), nil, h); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	_, err := pool.NewCoroutine(entry.CloneRef(), nil, h)
	if !errors.Is(err, ErrLambdaInUse) {
		t.Fatalf("second spawn err = %v, want ErrLambdaInUse", err)
	}
	entry.DropRef() // the rejected spawn did not consume the reference

	if err := pool.RunUntilFinished(h); err != nil {
		t.Fatalf("run: %v", err)
	}
	wantInt(t, resultOf(entry), 3)
}

func TestAsyncCallSpawnsCoroutine(t *testing.T) {
	// main: w = async worker(); return w  — the pool then drives worker to
	// completion, so w.result ends up 3.
	b := bytecode.NewBuilder()
	b.Function("__main__")
	b.EmitInt32(bytecode.OpBuildTuple, 0)
	b.Emit(bytecode.OpFork)
	b.EmitLoadLambda("worker", 0, false, false)
	b.EmitInt32(bytecode.OpBuildTuple, 0)
	b.Emit(bytecode.OpAsyncCall)
	b.Emit(bytecode.OpReturn)

	b.Function("worker")
	b.EmitInt64(bytecode.OpLoadInt64, 3)
	b.Emit(bytecode.OpReturn)

	h := NewHeap()
	entry := newEntry(h, b.Package(), "__main__")
	pool := NewCoroutinePool(false)
	if _, err := pool.NewCoroutine(entry.CloneRef(), nil, h); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := pool.RunUntilFinished(h); err != nil {
		t.Fatalf("run: %v", err)
	}

	worker, ok := resultOf(entry).Value().(*Lambda)
	if !ok {
		t.Fatalf("main result is %s, want the worker lambda", resultOf(entry).TypeName())
	}
	if worker.Status != StatusFinished {
		t.Fatalf("worker status = %s", worker.Status)
	}
	wantInt(t, worker.Result, 3)
}

// ---- Native generators -----------------------------------------------------

// countingGenerator yields 1..3, then finishes with Null.
type countingGenerator struct {
	n    int
	init bool
}

func (g *countingGenerator) Init(_ *Ref, _ *Heap) error {
	g.n = 0
	g.init = true
	return nil
}

func (g *countingGenerator) Step(h *Heap) (*Ref, error) {
	if g.n >= 3 {
		return nil, nil
	}
	g.n++
	return NewInt(h, int64(g.n)), nil
}

func (g *countingGenerator) IsDone() bool { return g.n >= 3 }

func (g *countingGenerator) GetResult(h *Heap) (*Ref, error) {
	return NewNull(h), nil
}

func TestGeneratorInterop(t *testing.T) {
	// main: gen(); each step pushes a yielded value, then the final Null.
	b := bytecode.NewBuilder()
	b.Function("__main__")
	b.EmitString(bytecode.OpLoadVar, "gen")
	b.EmitInt32(bytecode.OpBuildTuple, 0)
	b.Emit(bytecode.OpCall)
	b.Emit(bytecode.OpReturn)
	pkg := b.Package()

	h := NewHeap()
	entry := newEntry(h, pkg, "__main__")

	gen := &countingGenerator{}
	params := NewTuple(h, nil)
	result := NewNull(h)
	genLambda := NewLambda(h, 0, "native::gen", params, nil, nil, GeneratorBody(gen), result, false)
	params.DropRef()
	result.DropRef()

	ex := NewExecutor(entry)
	if err := ex.Init(h, nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := ex.Context().LetVar("gen", genLambda); err != nil {
		t.Fatalf("letvar: %v", err)
	}

	// LoadVar, BuildTuple, Call.
	for i := 0; i < 3; i++ {
		if _, err := ex.Step(h); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if !gen.init {
		t.Fatal("generator not initialized by call")
	}

	// Three yield steps; the last also delivers the final result.
	base := ex.StackDepth()
	for i := 0; i < 3; i++ {
		if _, err := ex.Step(h); err != nil {
			t.Fatalf("generator step %d: %v", i, err)
		}
	}
	if got := ex.StackDepth() - base; got != 4 {
		t.Fatalf("pushed %d values, want 4 (1, 2, 3, null)", got)
	}
	for i, want := range []string{"1", "2", "3", "null"} {
		v, err := ex.peekValue(3 - i)
		if err != nil {
			t.Fatalf("peek %d: %v", i, err)
		}
		if got := TryRepr(v); got != want {
			t.Fatalf("stack[%d] = %s, want %s", i, got, want)
		}
	}

	genLambda.DropRef()
	ex.Close()
}

func TestDumpModeSnapshot(t *testing.T) {
	h := NewHeap()

	b := bytecode.NewBuilder()
	b.SetSource("let boom = missing\n")
	b.Function("__main__")
	b.At(10)
	b.EmitString(bytecode.OpLoadVar, "missing")
	b.Emit(bytecode.OpReturn)

	entry := newEntry(h, b.Package(), "__main__")
	pool := NewCoroutinePool(true)
	if _, err := pool.NewCoroutine(entry.CloneRef(), nil, h); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	err := pool.RunUntilFinished(h)
	if err == nil {
		t.Fatal("expected crash")
	}
	var poolErr *PoolError
	if !errors.As(err, &poolErr) {
		t.Fatalf("err %T is not PoolError", err)
	}
	if poolErr.Dump == "" {
		t.Fatal("dump mode produced no snapshot")
	}
	for _, want := range []string{"__main__", "Crashed", "operand stack"} {
		if !strings.Contains(poolErr.Dump, want) {
			t.Fatalf("dump missing %q:\n%s", want, poolErr.Dump)
		}
	}
}
