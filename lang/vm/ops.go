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
	"math"
	"strings"
)

// Operations returning a fresh value transfer ownership of the returned
// reference to the caller. Operations resolving an existing slot (Member,
// KeyOf, ValueOf) return the raw child reference; callers clone before
// keeping it.

// ---- Arithmetic ------------------------------------------------------------

func numeric(ref *Ref) (i int64, f float64, isInt, ok bool) {
	switch v := ref.Value().(type) {
	case *Int:
		return v.Val, float64(v.Val), true, true
	case *Float:
		return 0, v.Val, false, true
	}
	return 0, 0, false, false
}

// Add implements BinaryAdd for every addable pair: numeric addition with
// Int×Float promotion, String/Bytes/Tuple concatenation, and Range shifting.
func Add(h *Heap, left, right *Ref) (*Ref, error) {
	switch l := left.Value().(type) {
	case *Int:
		switch r := right.Value().(type) {
		case *Int:
			return NewInt(h, l.Val+r.Val), nil
		case *Float:
			return NewFloat(h, float64(l.Val)+r.Val), nil
		}
	case *Float:
		switch r := right.Value().(type) {
		case *Int:
			return NewFloat(h, l.Val+float64(r.Val)), nil
		case *Float:
			return NewFloat(h, l.Val+r.Val), nil
		}
	case *String:
		if r, ok := right.Value().(*String); ok {
			return NewString(h, l.Val+r.Val), nil
		}
	case *Bytes:
		if r, ok := right.Value().(*Bytes); ok {
			return NewBytes(h, append(append([]byte(nil), l.Val...), r.Val...)), nil
		}
	case *Tuple:
		if r, ok := right.Value().(*Tuple); ok {
			return NewTuple(h, append(append([]*Ref(nil), l.Values...), r.Values...)), nil
		}
	case *Range:
		if r, ok := right.Value().(*Int); ok {
			return NewRange(h, l.Start+r.Val, l.End+r.Val), nil
		}
	}
	return nil, opError("add", left, right)
}

// Sub implements BinarySub: numeric subtraction and Range shifting.
func Sub(h *Heap, left, right *Ref) (*Ref, error) {
	switch l := left.Value().(type) {
	case *Int:
		switch r := right.Value().(type) {
		case *Int:
			return NewInt(h, l.Val-r.Val), nil
		case *Float:
			return NewFloat(h, float64(l.Val)-r.Val), nil
		}
	case *Float:
		switch r := right.Value().(type) {
		case *Int:
			return NewFloat(h, l.Val-float64(r.Val)), nil
		case *Float:
			return NewFloat(h, l.Val-r.Val), nil
		}
	case *Range:
		if r, ok := right.Value().(*Int); ok {
			return NewRange(h, l.Start-r.Val, l.End-r.Val), nil
		}
	}
	return nil, opError("subtract", left, right)
}

// Mul implements BinaryMul for numeric operands.
func Mul(h *Heap, left, right *Ref) (*Ref, error) {
	li, lf, lInt, lok := numeric(left)
	ri, rf, rInt, rok := numeric(right)
	if !lok || !rok {
		return nil, opError("multiply", left, right)
	}
	if lInt && rInt {
		return NewInt(h, li*ri), nil
	}
	return NewFloat(h, lf*rf), nil
}

// Div implements BinaryDiv. Division always produces a Float, including
// Int/Int.
func Div(h *Heap, left, right *Ref) (*Ref, error) {
	_, lf, _, lok := numeric(left)
	_, rf, _, rok := numeric(right)
	if !lok || !rok {
		return nil, opError("divide", left, right)
	}
	if rf == 0 {
		return nil, fmt.Errorf("%w: division by zero", ErrValue)
	}
	return NewFloat(h, lf/rf), nil
}

// Mod implements BinaryMod: truncated division remainder for Int×Int,
// math.Mod otherwise.
func Mod(h *Heap, left, right *Ref) (*Ref, error) {
	li, lf, lInt, lok := numeric(left)
	ri, rf, rInt, rok := numeric(right)
	if !lok || !rok {
		return nil, opError("mod", left, right)
	}
	if lInt && rInt {
		if ri == 0 {
			return nil, fmt.Errorf("%w: modulo by zero", ErrValue)
		}
		return NewInt(h, li%ri), nil
	}
	return NewFloat(h, math.Mod(lf, rf)), nil
}

// Pow implements BinaryPow. Int^Int is checked and raises on overflow;
// any Float operand switches to math.Pow.
func Pow(h *Heap, left, right *Ref) (*Ref, error) {
	li, lf, lInt, lok := numeric(left)
	ri, rf, rInt, rok := numeric(right)
	if !lok || !rok {
		return nil, opError("power", left, right)
	}
	if lInt && rInt {
		out, err := checkedIntPow(li, ri)
		if err != nil {
			return nil, err
		}
		return NewInt(h, out), nil
	}
	return NewFloat(h, math.Pow(lf, rf)), nil
}

func checkedIntPow(base, exp int64) (int64, error) {
	if exp < 0 {
		return 0, fmt.Errorf("%w: negative integer exponent %d", ErrValue, exp)
	}
	result := int64(1)
	for ; exp > 0; exp-- {
		next := result * base
		if base != 0 && (next/base != result || (base == -1 && result == math.MinInt64)) {
			return 0, fmt.Errorf("%w: integer power", ErrOverflow)
		}
		result = next
	}
	return result, nil
}

// ---- Bitwise and logical ---------------------------------------------------

// BitAnd implements BinaryBitAnd: Int&Int, or logical conjunction for Bools.
func BitAnd(h *Heap, left, right *Ref) (*Ref, error) {
	switch l := left.Value().(type) {
	case *Int:
		if r, ok := right.Value().(*Int); ok {
			return NewInt(h, l.Val&r.Val), nil
		}
	case *Bool:
		if r, ok := right.Value().(*Bool); ok {
			return NewBool(h, l.Val && r.Val), nil
		}
	}
	return nil, opError("bitwise and", left, right)
}

// BitOr implements BinaryBitOr: Int|Int, or logical disjunction for Bools.
func BitOr(h *Heap, left, right *Ref) (*Ref, error) {
	switch l := left.Value().(type) {
	case *Int:
		if r, ok := right.Value().(*Int); ok {
			return NewInt(h, l.Val|r.Val), nil
		}
	case *Bool:
		if r, ok := right.Value().(*Bool); ok {
			return NewBool(h, l.Val || r.Val), nil
		}
	}
	return nil, opError("bitwise or", left, right)
}

// BitXor implements BinaryBitXor: Int^Int, or logical xor for Bools.
func BitXor(h *Heap, left, right *Ref) (*Ref, error) {
	switch l := left.Value().(type) {
	case *Int:
		if r, ok := right.Value().(*Int); ok {
			return NewInt(h, l.Val^r.Val), nil
		}
	case *Bool:
		if r, ok := right.Value().(*Bool); ok {
			return NewBool(h, l.Val != r.Val), nil
		}
	}
	return nil, opError("bitwise xor", left, right)
}

// BitNot implements UnaryBitNot: integer complement or boolean negation.
func BitNot(h *Heap, ref *Ref) (*Ref, error) {
	switch v := ref.Value().(type) {
	case *Int:
		return NewInt(h, ^v.Val), nil
	case *Bool:
		return NewBool(h, !v.Val), nil
	}
	return nil, fmt.Errorf("%w: cannot complement %s", ErrTypeMismatch, ref.TypeName())
}

// Shl implements BinaryShl for Int operands.
func Shl(h *Heap, left, right *Ref) (*Ref, error) {
	l, lok := left.Value().(*Int)
	r, rok := right.Value().(*Int)
	if !lok || !rok {
		return nil, opError("shift left", left, right)
	}
	if r.Val < 0 || r.Val > 63 {
		return nil, fmt.Errorf("%w: shift amount %d", ErrValue, r.Val)
	}
	return NewInt(h, l.Val<<uint(r.Val)), nil
}

// Shr implements BinaryShr for Int operands (arithmetic shift).
func Shr(h *Heap, left, right *Ref) (*Ref, error) {
	l, lok := left.Value().(*Int)
	r, rok := right.Value().(*Int)
	if !lok || !rok {
		return nil, opError("shift right", left, right)
	}
	if r.Val < 0 || r.Val > 63 {
		return nil, fmt.Errorf("%w: shift amount %d", ErrValue, r.Val)
	}
	return NewInt(h, l.Val>>uint(r.Val)), nil
}

// Neg implements UnaryNeg for numeric operands.
func Neg(h *Heap, ref *Ref) (*Ref, error) {
	switch v := ref.Value().(type) {
	case *Int:
		return NewInt(h, -v.Val), nil
	case *Float:
		return NewFloat(h, -v.Val), nil
	}
	return nil, fmt.Errorf("%w: cannot negate %s", ErrTypeMismatch, ref.TypeName())
}

// Abs implements UnaryAbs for numeric operands.
func Abs(h *Heap, ref *Ref) (*Ref, error) {
	switch v := ref.Value().(type) {
	case *Int:
		if v.Val < 0 {
			return NewInt(h, -v.Val), nil
		}
		return NewInt(h, v.Val), nil
	case *Float:
		return NewFloat(h, math.Abs(v.Val)), nil
	}
	return nil, fmt.Errorf("%w: cannot take abs of %s", ErrTypeMismatch, ref.TypeName())
}

// ---- Comparison ------------------------------------------------------------

// Eq is structural equality: numeric with promotion for Int/Float, deep for
// the compound variants. Lambdas, wrappers, instructions, and CLambdas only
// equal themselves by identity.
func Eq(left, right *Ref) bool {
	if left == right {
		return true
	}
	switch l := left.Value().(type) {
	case *Null:
		_, ok := right.Value().(*Null)
		return ok
	case *Int:
		switch r := right.Value().(type) {
		case *Int:
			return l.Val == r.Val
		case *Float:
			return float64(l.Val) == r.Val
		}
	case *Float:
		switch r := right.Value().(type) {
		case *Int:
			return l.Val == float64(r.Val)
		case *Float:
			return l.Val == r.Val
		}
	case *Bool:
		if r, ok := right.Value().(*Bool); ok {
			return l.Val == r.Val
		}
	case *String:
		if r, ok := right.Value().(*String); ok {
			return l.Val == r.Val
		}
	case *Bytes:
		if r, ok := right.Value().(*Bytes); ok {
			return string(l.Val) == string(r.Val)
		}
	case *Range:
		if r, ok := right.Value().(*Range); ok {
			return l.Start == r.Start && l.End == r.End
		}
	case *KeyVal:
		if r, ok := right.Value().(*KeyVal); ok {
			return Eq(l.Key, r.Key) && Eq(l.Val, r.Val)
		}
	case *Named:
		if r, ok := right.Value().(*Named); ok {
			return Eq(l.Key, r.Key) && Eq(l.Val, r.Val)
		}
	case *Tuple:
		r, ok := right.Value().(*Tuple)
		if !ok || len(l.Values) != len(r.Values) {
			return false
		}
		for i := range l.Values {
			if !Eq(l.Values[i], r.Values[i]) {
				return false
			}
		}
		return true
	case *Set:
		if r, ok := right.Value().(*Set); ok {
			return Eq(l.Collection, r.Collection) && Eq(l.Filter, r.Filter)
		}
	}
	return false
}

// Less implements BinaryLt, defined only for numeric operands.
func Less(left, right *Ref) (bool, error) {
	_, lf, _, lok := numeric(left)
	_, rf, _, rok := numeric(right)
	if !lok || !rok {
		return false, opError("order", left, right)
	}
	return lf < rf, nil
}

// Greater implements BinaryGt, defined only for numeric operands.
func Greater(left, right *Ref) (bool, error) {
	_, lf, _, lok := numeric(left)
	_, rf, _, rok := numeric(right)
	if !lok || !rok {
		return false, opError("order", left, right)
	}
	return lf > rf, nil
}

// Contains implements BinaryIn: value membership in a container.
func Contains(container, value *Ref) (bool, error) {
	switch c := container.Value().(type) {
	case *String:
		if v, ok := value.Value().(*String); ok {
			return strings.Contains(c.Val, v.Val), nil
		}
		return false, fmt.Errorf("%w: string membership needs a string", ErrTypeMismatch)
	case *Tuple:
		return c.Contains(value), nil
	case *Range:
		if v, ok := value.Value().(*Int); ok {
			return v.Val >= c.Start && v.Val < c.End, nil
		}
		return false, fmt.Errorf("%w: range membership needs an int", ErrTypeMismatch)
	case *Bytes:
		switch v := value.Value().(type) {
		case *Bytes:
			return strings.Contains(string(c.Val), string(v.Val)), nil
		case *Int:
			for _, b := range c.Val {
				if int64(b) == v.Val {
					return true, nil
				}
			}
			return false, nil
		}
		return false, fmt.Errorf("%w: bytes membership needs bytes or an int", ErrTypeMismatch)
	case *Set:
		return Contains(c.Collection, value)
	}
	return false, fmt.Errorf("%w: %s is not a container", ErrTypeMismatch, container.TypeName())
}

// Length implements LengthOf for String (runes), Bytes, Tuple, and Range.
func Length(ref *Ref) (int64, error) {
	switch v := ref.Value().(type) {
	case *String:
		return int64(len([]rune(v.Val))), nil
	case *Bytes:
		return int64(len(v.Val)), nil
	case *Tuple:
		return int64(len(v.Values)), nil
	case *Range:
		return v.Len(), nil
	}
	return 0, fmt.Errorf("%w: %s has no length", ErrTypeMismatch, ref.TypeName())
}

// ---- Indexing and member access --------------------------------------------

// Index implements IndexOf for Tuple, String, and Bytes.
func Index(h *Heap, ref, index *Ref) (*Ref, error) {
	switch v := ref.Value().(type) {
	case *Tuple:
		return v.Index(h, ref, index)
	case *String:
		return stringIndex(h, v, index)
	case *Bytes:
		return bytesIndex(h, v, index)
	}
	return nil, fmt.Errorf("%w: cannot index %s", ErrIndexNotFound, ref.TypeName())
}

func stringIndex(h *Heap, s *String, index *Ref) (*Ref, error) {
	runes := []rune(s.Val)
	switch idx := index.Value().(type) {
	case *Int:
		if idx.Val < 0 || idx.Val >= int64(len(runes)) {
			return nil, fmt.Errorf("%w: string index %d of %d", ErrIndexNotFound, idx.Val, len(runes))
		}
		return NewString(h, string(runes[idx.Val])), nil
	case *Range:
		if idx.Start < 0 || idx.End > int64(len(runes)) || idx.Start > idx.End {
			return nil, fmt.Errorf("%w: string slice %d..%d of %d", ErrIndexNotFound, idx.Start, idx.End, len(runes))
		}
		return NewString(h, string(runes[idx.Start:idx.End])), nil
	}
	return nil, fmt.Errorf("%w: string index must be int or range", ErrTypeMismatch)
}

func bytesIndex(h *Heap, b *Bytes, index *Ref) (*Ref, error) {
	switch idx := index.Value().(type) {
	case *Int:
		if idx.Val < 0 || idx.Val >= int64(len(b.Val)) {
			return nil, fmt.Errorf("%w: bytes index %d of %d", ErrIndexNotFound, idx.Val, len(b.Val))
		}
		return NewInt(h, int64(b.Val[idx.Val])), nil
	case *Range:
		if idx.Start < 0 || idx.End > int64(len(b.Val)) || idx.Start > idx.End {
			return nil, fmt.Errorf("%w: bytes slice %d..%d of %d", ErrIndexNotFound, idx.Start, idx.End, len(b.Val))
		}
		return NewBytes(h, b.Val[idx.Start:idx.End]), nil
	}
	return nil, fmt.Errorf("%w: bytes index must be int or range", ErrTypeMismatch)
}

// Attr implements GetAttr: member lookup on a Tuple. The returned reference
// is the live value slot, not a copy.
func Attr(ref, attr *Ref) (*Ref, error) {
	if t, ok := ref.Value().(*Tuple); ok {
		return t.Member(attr)
	}
	return nil, fmt.Errorf("%w: %s has no attributes", ErrKeyNotFound, ref.TypeName())
}

// KeyOf resolves a value's key slot: the key of a KeyVal or Named, a
// lambda's default-args tuple, a set's collection.
func KeyOf(ref *Ref) (*Ref, error) {
	switch v := ref.Value().(type) {
	case *KeyVal:
		return v.Key, nil
	case *Named:
		return v.Key, nil
	case *Lambda:
		return v.DefaultArgs, nil
	case *Set:
		return v.Collection, nil
	}
	return nil, fmt.Errorf("%w: %s has no key", ErrKeyNotFound, ref.TypeName())
}

// ValueOf resolves a value's value slot: the value of a KeyVal or Named, a
// wrapper's inner value, a lambda's result, a set's filter.
func ValueOf(ref *Ref) (*Ref, error) {
	switch v := ref.Value().(type) {
	case *KeyVal:
		return v.Val, nil
	case *Named:
		return v.Val, nil
	case *Wrapper:
		return v.Inner, nil
	case *Lambda:
		return v.Result, nil
	case *Set:
		return v.Filter, nil
	}
	return nil, fmt.Errorf("%w: %s has no value slot", ErrTypeMismatch, ref.TypeName())
}

func opError(op string, left, right *Ref) error {
	return fmt.Errorf("%w: cannot %s %s and %s", ErrTypeMismatch, op, left.TypeName(), right.TypeName())
}
