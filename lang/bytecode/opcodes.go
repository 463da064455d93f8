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

// Package bytecode defines the XLang instruction package: the closed opcode
// set, the 32-bit word instruction encoding, the serializable container that
// bundles code with its constant pools and debug map, and helpers to build,
// load, and disassemble packages.
//
// Instructions are variable length but word aligned. The header word packs an
// 8-bit opcode with three 8-bit operand flag fields:
//
//	[opcode:8][flag1:8][flag2:8][flag3:8]
//
// Each flag field describes one operand: whether it is present, whether it
// spans one or two words (64-bit operands store the low word first), whether
// it indexes a constant pool, and whether its bits are IEEE-754.
package bytecode

// Opcode is the 8-bit instruction code stored in the low byte of a header word.
type Opcode uint8

const (
	// ---- Stack/value -------------------------------------------------------

	// OpLoadNull pushes the Null value.
	OpLoadNull Opcode = iota
	// OpLoadInt32 pushes its 32-bit integer operand as an Int.
	OpLoadInt32
	// OpLoadInt64 pushes its 64-bit integer operand as an Int.
	OpLoadInt64
	// OpLoadFloat32 pushes its 32-bit float operand as a Float.
	OpLoadFloat32
	// OpLoadFloat64 pushes its 64-bit float operand as a Float.
	OpLoadFloat64
	// OpLoadString pushes the string-pool entry named by its operand.
	OpLoadString
	// OpLoadBytes pushes the bytes-pool entry named by its operand.
	OpLoadBytes
	// OpLoadBool pushes a Bool; a zero operand is false, anything else true.
	OpLoadBool
	// OpLoadLambda pops default-args (and optionally a capture) plus an
	// instructions value and pushes a Lambda. Operand1 is the signature
	// (string pool), operand2 the defining code position, operand3 a flag
	// word: bit0 = capture present, bit1 = dynamic params.
	OpLoadLambda
	// OpPop discards the top of the operand stack.
	OpPop
	// OpFork pushes the instruction package currently being executed.
	OpFork

	// ---- Builders ----------------------------------------------------------

	// OpBuildTuple pops operand1 values and pushes a Tuple of them in push
	// order.
	OpBuildTuple
	// OpBuildKeyValue pops value then key and pushes a KeyVal.
	OpBuildKeyValue
	// OpBuildNamed pops value then key and pushes a Named.
	OpBuildNamed
	// OpBuildRange pops end then start (both Int) and pushes a Range.
	OpBuildRange
	// OpBuildSet pops filter (Lambda) then collection and pushes a Set.
	OpBuildSet
	// OpBindSelf marks a Tuple self-containing and rebinds its member
	// lambdas, or binds a KeyVal's key as its value's self.
	OpBindSelf
	// OpWrap boxes the top of stack in a Wrapper.
	OpWrap
	// OpPushValueIntoTuple pops the top value and appends it to the Tuple
	// operand1 slots below it.
	OpPushValueIntoTuple
	// OpForkStackObjectRef pushes a new reference to the stack object
	// operand1 slots below the top.
	OpForkStackObjectRef

	// ---- Binary operators --------------------------------------------------

	OpBinaryAdd
	OpBinarySub
	OpBinaryMul
	OpBinaryDiv
	OpBinaryMod
	OpBinaryPow
	OpBinaryBitAnd
	OpBinaryBitOr
	OpBinaryBitXor
	OpBinaryShl
	OpBinaryShr
	OpBinaryEq
	OpBinaryNe
	OpBinaryGt
	OpBinaryLt
	OpBinaryGe
	OpBinaryLe
	// OpBinaryIn pops container then value and pushes membership as Bool.
	OpBinaryIn

	// ---- Unary operators ---------------------------------------------------

	OpUnaryBitNot
	OpUnaryAbs
	OpUnaryNeg

	// ---- Variables and references ------------------------------------------

	// OpStoreVar binds the top of stack to the name in operand1 (string
	// pool) in the innermost frame. The value stays on the stack.
	OpStoreVar
	// OpLoadVar pushes the value bound to the name in operand1, searching
	// frames innermost-out.
	OpLoadVar
	// OpSetValue pops value then target, assigns the value into the
	// target in place, and pushes the target back.
	OpSetValue
	// OpGetAttr pops attribute then object and pushes the matching member.
	OpGetAttr
	// OpIndexOf pops index then object and pushes the element or slice.
	OpIndexOf
	OpKeyOf
	OpValueOf
	OpSelfOf
	OpTypeOf
	OpCaptureOf
	OpDeepCopy
	OpShallowCopy
	OpLengthOf
	// OpSwap exchanges the stack slots operand1 and operand2 below the top.
	OpSwap

	// ---- Control flow ------------------------------------------------------

	// OpCall pops args (Tuple) then lambda and invokes it.
	OpCall
	// OpAsyncCall is OpCall, but requests a new coroutine and pushes the
	// lambda itself instead of entering it.
	OpAsyncCall
	// OpReturn unwinds to the nearest function frame and resumes the caller.
	OpReturn
	// OpRaise unwinds to the nearest boundary frame, leaving the raised
	// value on the stack.
	OpRaise
	// OpJump adds the signed operand1 word offset to the instruction pointer.
	OpJump
	// OpJumpIfFalse pops a Bool and jumps by operand1 when it is false.
	OpJumpIfFalse
	OpNewFrame
	// OpNewBoundaryFrame pushes a boundary frame whose catch target is the
	// current ip plus the signed operand1 offset.
	OpNewBoundaryFrame
	OpPopFrame
	OpPopBoundaryFrame
	// OpResetStack truncates the operand stack to the current frame base.
	OpResetStack

	// ---- Iteration ---------------------------------------------------------

	// OpResetIter rewinds the iterator of the iterable on top of the stack.
	OpResetIter
	// OpNextOrJump pushes the iterable's next element, or jumps by the
	// signed operand1 offset when it is exhausted.
	OpNextOrJump

	// ---- Misc --------------------------------------------------------------

	// OpImport pops a path String, loads the instruction package file at
	// that path, and pushes it as an Instructions value.
	OpImport
	// OpAssert pops a Bool and fails unless it is true; on success it
	// pushes Bool true.
	OpAssert
	// OpEmit pops a value and records it as the entry lambda's result,
	// pushing it back.
	OpEmit
	// OpIsFinished pops a Lambda and pushes whether its coroutine finished.
	OpIsFinished
	// OpAlias replaces the top value with a copy whose alias list has the
	// string-pool entry operand1 appended.
	OpAlias
	// OpWipeAlias replaces the top value with a copy whose alias list is
	// empty.
	OpWipeAlias
	// OpAliasOf pops a value and pushes its alias list as a Tuple of Strings.
	OpAliasOf

	// opcodeCount must remain last; it bounds the dispatch table.
	opcodeCount
)

// Count is the number of defined opcodes, exported for dispatch table sizing.
const Count = int(opcodeCount)

// opcodeNames maps every defined Opcode to its mnemonic.
var opcodeNames = [opcodeCount]string{
	OpLoadNull:           "LOAD_NULL",
	OpLoadInt32:          "LOAD_INT32",
	OpLoadInt64:          "LOAD_INT64",
	OpLoadFloat32:        "LOAD_FLOAT32",
	OpLoadFloat64:        "LOAD_FLOAT64",
	OpLoadString:         "LOAD_STRING",
	OpLoadBytes:          "LOAD_BYTES",
	OpLoadBool:           "LOAD_BOOL",
	OpLoadLambda:         "LOAD_LAMBDA",
	OpPop:                "POP",
	OpFork:               "FORK",
	OpBuildTuple:         "BUILD_TUPLE",
	OpBuildKeyValue:      "BUILD_KEYVAL",
	OpBuildNamed:         "BUILD_NAMED",
	OpBuildRange:         "BUILD_RANGE",
	OpBuildSet:           "BUILD_SET",
	OpBindSelf:           "BIND_SELF",
	OpWrap:               "WRAP",
	OpPushValueIntoTuple: "PUSH_INTO_TUPLE",
	OpForkStackObjectRef: "FORK_STACK_REF",
	OpBinaryAdd:          "ADD",
	OpBinarySub:          "SUB",
	OpBinaryMul:          "MUL",
	OpBinaryDiv:          "DIV",
	OpBinaryMod:          "MOD",
	OpBinaryPow:          "POW",
	OpBinaryBitAnd:       "BIT_AND",
	OpBinaryBitOr:        "BIT_OR",
	OpBinaryBitXor:       "BIT_XOR",
	OpBinaryShl:          "SHL",
	OpBinaryShr:          "SHR",
	OpBinaryEq:           "EQ",
	OpBinaryNe:           "NE",
	OpBinaryGt:           "GT",
	OpBinaryLt:           "LT",
	OpBinaryGe:           "GE",
	OpBinaryLe:           "LE",
	OpBinaryIn:           "IN",
	OpUnaryBitNot:        "BIT_NOT",
	OpUnaryAbs:           "ABS",
	OpUnaryNeg:           "NEG",
	OpStoreVar:           "STORE_VAR",
	OpLoadVar:            "LOAD_VAR",
	OpSetValue:           "SET_VALUE",
	OpGetAttr:            "GET_ATTR",
	OpIndexOf:            "INDEX_OF",
	OpKeyOf:              "KEY_OF",
	OpValueOf:            "VALUE_OF",
	OpSelfOf:             "SELF_OF",
	OpTypeOf:             "TYPE_OF",
	OpCaptureOf:          "CAPTURE_OF",
	OpDeepCopy:           "DEEP_COPY",
	OpShallowCopy:        "COPY",
	OpLengthOf:           "LENGTH_OF",
	OpSwap:               "SWAP",
	OpCall:               "CALL",
	OpAsyncCall:          "ASYNC_CALL",
	OpReturn:             "RETURN",
	OpRaise:              "RAISE",
	OpJump:               "JUMP",
	OpJumpIfFalse:        "JUMP_IF_FALSE",
	OpNewFrame:           "NEW_FRAME",
	OpNewBoundaryFrame:   "NEW_BOUNDARY_FRAME",
	OpPopFrame:           "POP_FRAME",
	OpPopBoundaryFrame:   "POP_BOUNDARY_FRAME",
	OpResetStack:         "RESET_STACK",
	OpResetIter:          "RESET_ITER",
	OpNextOrJump:         "NEXT_OR_JUMP",
	OpImport:             "IMPORT",
	OpAssert:             "ASSERT",
	OpEmit:               "EMIT",
	OpIsFinished:         "IS_FINISHED",
	OpAlias:              "ALIAS",
	OpWipeAlias:          "WIPE_ALIAS",
	OpAliasOf:            "ALIAS_OF",
}

// String returns the mnemonic name of the opcode, suitable for disassembly
// output and debug messages.
func (op Opcode) String() string {
	if int(op) >= len(opcodeNames) || opcodeNames[op] == "" {
		return "UNKNOWN"
	}
	return opcodeNames[op]
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return op < opcodeCount
}
