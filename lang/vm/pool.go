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

	"github.com/ethereum/go-ethereum/log"
)

// CoroutinePool schedules executors round-robin, one opcode per executor per
// cycle. Single threaded and cooperative: no executor runs while another is
// mid-handler.
type CoroutinePool struct {
	executors []poolEntry
	genID     int64
	dumpMode  bool
}

type poolEntry struct {
	ex *Executor
	id int64
}

// NewCoroutinePool returns an empty pool. With dumpMode set, an uncaught
// error is accompanied by a formatted snapshot of every live coroutine.
func NewCoroutinePool(dumpMode bool) *CoroutinePool {
	return &CoroutinePool{dumpMode: dumpMode}
}

// PoolError wraps an executor failure with the coroutine that produced it.
type PoolError struct {
	CoroutineID int64
	Dump        string // non-empty only in dump mode
	Err         error
}

func (e *PoolError) Error() string {
	if e.Dump != "" {
		return fmt.Sprintf("coroutine %d: %v\n%s", e.CoroutineID, e.Err, e.Dump)
	}
	return fmt.Sprintf("coroutine %d: %v", e.CoroutineID, e.Err)
}

func (e *PoolError) Unwrap() error { return e.Err }

// NewCoroutine registers lambda as a new coroutine and initializes its
// executor, binding args (which may be nil) into the lambda's parameters.
// A lambda already driving a live coroutine is rejected by identity. A
// successful call consumes one native reference on lambda; a call that
// returns an error leaves that reference with the caller.
func (p *CoroutinePool) NewCoroutine(lambda, args *Ref, h *Heap) (int64, error) {
	if _, ok := lambda.Value().(*Lambda); !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotLambda, lambda.TypeName())
	}
	for _, entry := range p.executors {
		if entry.ex.entryLambda == lambda {
			return 0, ErrLambdaInUse
		}
	}

	ex := NewExecutor(lambda)
	if err := ex.Init(h, args); err != nil {
		ex.Close()
		return 0, err
	}
	id := p.genID
	p.genID++
	p.executors = append(p.executors, poolEntry{ex: ex, id: id})
	spawnedMeter.Mark(1)
	log.Debug("Spawned coroutine", "id", id, "signature", lambda.Value().(*Lambda).Signature)

	lambda.DropRef()
	return id, nil
}

// Executor returns the executor driving coroutine id.
func (p *CoroutinePool) Executor(id int64) (*Executor, bool) {
	for _, entry := range p.executors {
		if entry.id == id {
			return entry.ex, true
		}
	}
	return nil, false
}

// Len returns the number of live coroutines.
func (p *CoroutinePool) Len() int { return len(p.executors) }

// StepAll steps every executor once and collects their spawn requests. On an
// executor error the entry lambda is marked Crashed and a PoolError surfaces;
// the heap's opportunistic collector runs after the cycle.
func (p *CoroutinePool) StepAll(h *Heap) ([]SpawnedCoroutine, error) {
	var spawned []SpawnedCoroutine
	for i := range p.executors {
		entry := &p.executors[i]
		newCoroutines, err := entry.ex.Step(h)
		if err != nil {
			entry.ex.entry().Status = StatusCrashed
			crashedMeter.Mark(1)
			poolErr := &PoolError{CoroutineID: entry.id, Err: err}
			if p.dumpMode {
				poolErr.Dump = p.FormatDump(err)
			}
			log.Error("Coroutine crashed", "id", entry.id, "err", err)
			return spawned, poolErr
		}
		spawned = append(spawned, newCoroutines...)
	}
	h.CheckAndCollect()
	return spawned, nil
}

// SweepFinished removes executors whose entry lambda finished, releasing the
// native references they held.
func (p *CoroutinePool) SweepFinished() {
	kept := p.executors[:0]
	for _, entry := range p.executors {
		if entry.ex.entry().Status == StatusFinished {
			reapedMeter.Mark(1)
			entry.ex.Close()
			continue
		}
		kept = append(kept, entry)
	}
	p.executors = kept
}

// RunUntilFinished drives step/sweep/absorb cycles until no coroutine is
// left, triggering the cycle collector between passes. The error of the first
// crashing coroutine is returned.
func (p *CoroutinePool) RunUntilFinished(h *Heap) error {
	for {
		spawned, err := p.StepAll(h)
		if err != nil {
			return err
		}
		p.SweepFinished()
		for _, request := range spawned {
			_, err := p.NewCoroutine(request.Lambda, request.Args, h)
			if request.Args != nil {
				request.Args.DropRef()
			}
			if err != nil {
				return err
			}
		}
		if len(p.executors) == 0 {
			return nil
		}
	}
}
