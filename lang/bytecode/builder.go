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

package bytecode

import "math"

// Builder assembles instruction packages word by word. It interns constants,
// records function entry points, and patches forward jump offsets. The
// IR-to-bytecode translator and the test suites are its users; the VM itself
// only consumes finished packages.
type Builder struct {
	code       []uint32
	strings    []string
	stringIdx  map[string]uint32
	bytesPool  [][]byte
	bytesIdx   map[string]uint32
	functions  map[string]uint64
	debug      map[uint64]DebugInfo
	source     *string
	currentPos uint64
	havePos    bool
}

// NewBuilder returns an empty package builder.
func NewBuilder() *Builder {
	return &Builder{
		stringIdx: make(map[string]uint32),
		bytesIdx:  make(map[string]uint32),
		functions: make(map[string]uint64),
		debug:     make(map[uint64]DebugInfo),
	}
}

// Len returns the current length of the code segment in words. The value is
// the ip the next emitted instruction will occupy.
func (b *Builder) Len() int { return len(b.code) }

// InternString adds s to the string pool, deduplicating, and returns its index.
func (b *Builder) InternString(s string) uint32 {
	if idx, ok := b.stringIdx[s]; ok {
		return idx
	}
	idx := uint32(len(b.strings))
	b.strings = append(b.strings, s)
	b.stringIdx[s] = idx
	return idx
}

// InternBytes adds blob to the bytes pool, deduplicating, and returns its index.
func (b *Builder) InternBytes(blob []byte) uint32 {
	key := string(blob)
	if idx, ok := b.bytesIdx[key]; ok {
		return idx
	}
	idx := uint32(len(b.bytesPool))
	b.bytesPool = append(b.bytesPool, append([]byte(nil), blob...))
	b.bytesIdx[key] = idx
	return idx
}

// Function registers signature as entering at the next emitted instruction.
func (b *Builder) Function(signature string) {
	b.functions[signature] = uint64(len(b.code))
}

// At records the source byte offset for subsequently emitted instructions.
func (b *Builder) At(codePosition uint64) {
	b.currentPos = codePosition
	b.havePos = true
}

// SetSource attaches the source text to the package under construction.
func (b *Builder) SetSource(src string) {
	b.source = &src
}

// operand is a pending operand for emit.
type operand struct {
	flag uint8
	low  uint32
	high uint32
}

func opI32(v int32) operand {
	return operand{flag: FlagPresent, low: uint32(v)}
}

func opI64(v int64) operand {
	return operand{flag: FlagPresent | Flag64, low: uint32(uint64(v)), high: uint32(uint64(v) >> 32)}
}

func opF32(v float32) operand {
	return operand{flag: FlagPresent | FlagFloat, low: math.Float32bits(v)}
}

func opF64(v float64) operand {
	bits := math.Float64bits(v)
	return operand{flag: FlagPresent | Flag64 | FlagFloat, low: uint32(bits), high: uint32(bits >> 32)}
}

func opStr(idx uint32) operand {
	return operand{flag: FlagPresent | FlagPool, low: idx}
}

func opBytes(idx uint32) operand {
	return operand{flag: FlagPresent | FlagPool | FlagBytesPool, low: idx}
}

// emit appends a header word and operand words, returning the instruction's ip.
func (b *Builder) emit(op Opcode, operands ...operand) int {
	ip := len(b.code)
	header := uint32(op)
	for i, o := range operands {
		header |= uint32(o.flag) << (8 * uint(i+1))
	}
	b.code = append(b.code, header)
	for _, o := range operands {
		b.code = append(b.code, o.low)
		if o.flag&Flag64 != 0 {
			b.code = append(b.code, o.high)
		}
	}
	if b.havePos {
		b.debug[uint64(ip)] = DebugInfo{CodePosition: b.currentPos}
	}
	return ip
}

// Emit appends an operand-less instruction and returns its ip.
func (b *Builder) Emit(op Opcode) int { return b.emit(op) }

// EmitInt32 appends op with one 32-bit integer operand.
func (b *Builder) EmitInt32(op Opcode, v int32) int { return b.emit(op, opI32(v)) }

// EmitInt64 appends op with one 64-bit integer operand.
func (b *Builder) EmitInt64(op Opcode, v int64) int { return b.emit(op, opI64(v)) }

// EmitFloat32 appends op with one 32-bit float operand.
func (b *Builder) EmitFloat32(op Opcode, v float32) int { return b.emit(op, opF32(v)) }

// EmitFloat64 appends op with one 64-bit float operand.
func (b *Builder) EmitFloat64(op Opcode, v float64) int { return b.emit(op, opF64(v)) }

// EmitString appends op with a string-pool operand, interning s.
func (b *Builder) EmitString(op Opcode, s string) int {
	return b.emit(op, opStr(b.InternString(s)))
}

// EmitBytes appends op with a bytes-pool operand, interning blob.
func (b *Builder) EmitBytes(op Opcode, blob []byte) int {
	return b.emit(op, opBytes(b.InternBytes(blob)))
}

// EmitSwap appends OpSwap exchanging the stack slots a and b below the top.
func (b *Builder) EmitSwap(slotA, slotB int64) int {
	return b.emit(OpSwap, opI64(slotA), opI64(slotB))
}

// EmitLoadLambda appends OpLoadLambda. hasCapture and dynamicParams populate
// the flag operand; codePosition goes to the debugger.
func (b *Builder) EmitLoadLambda(signature string, codePosition uint64, hasCapture, dynamicParams bool) int {
	var flags int32
	if hasCapture {
		flags |= 1
	}
	if dynamicParams {
		flags |= 2
	}
	return b.emit(OpLoadLambda, opStr(b.InternString(signature)), opI64(int64(codePosition)), opI32(flags))
}

// EmitJump appends a jump-family instruction with a placeholder offset and
// returns a patch handle. The offset is relative to the ip after the
// instruction, so forward targets are patched once their position is known.
func (b *Builder) EmitJump(op Opcode) JumpPatch {
	ip := b.emit(op, opI64(0))
	return JumpPatch{builder: b, operandAt: ip + 1, nextIP: len(b.code)}
}

// EmitJumpTo appends a jump-family instruction targeting an already known ip.
func (b *Builder) EmitJumpTo(op Opcode, target int) int {
	ip := b.emit(op, opI64(0))
	offset := int64(target) - int64(len(b.code))
	b.code[ip+1] = uint32(uint64(offset))
	b.code[ip+2] = uint32(uint64(offset) >> 32)
	return ip
}

// JumpPatch fixes up a forward jump emitted by EmitJump.
type JumpPatch struct {
	builder   *Builder
	operandAt int
	nextIP    int
}

// Target resolves the jump to land on the next instruction to be emitted.
func (j JumpPatch) Target() {
	offset := int64(j.builder.Len()) - int64(j.nextIP)
	j.builder.code[j.operandAt] = uint32(uint64(offset))
	j.builder.code[j.operandAt+1] = uint32(uint64(offset) >> 32)
}

// Package seals the builder into an immutable instruction package.
func (b *Builder) Package() *Package {
	return &Package{
		Code:          append([]uint32(nil), b.code...),
		StringPool:    append([]string(nil), b.strings...),
		BytesPool:     append([][]byte(nil), b.bytesPool...),
		FunctionTable: copyFunctionTable(b.functions),
		DebugMap:      copyDebugMap(b.debug),
		Source:        b.source,
	}
}

func copyFunctionTable(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyDebugMap(m map[uint64]DebugInfo) map[uint64]DebugInfo {
	out := make(map[uint64]DebugInfo, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
