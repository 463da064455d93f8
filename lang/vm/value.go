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

// Value is the variant payload of a heap object. The closed set of
// implementations lives in this package; dispatch happens through type
// switches on the payload.
type Value interface {
	// TypeName returns the user-visible type tag reported by TypeOf.
	TypeName() string
	// AliasList returns the mutable list of user-attached labels.
	AliasList() *[]string
}

// Iterable is implemented by the variants with an internal cursor: Tuple,
// String, Bytes, Range, and Set. Iterators are single pass and restartable
// through ResetIter.
type Iterable interface {
	ResetIter()
	// NextElem returns the next element, or false when exhausted.
	NextElem(h *Heap) (*Ref, bool)
}

// aliases is the embedded alias storage shared by every variant.
type aliases struct {
	alias []string
}

func (a *aliases) AliasList() *[]string { return &a.alias }

func copyAlias(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	return append([]string(nil), src...)
}

// ---- Null ------------------------------------------------------------------

// Null is the unit value.
type Null struct {
	aliases
}

func (*Null) TypeName() string { return "null" }

// NewNull allocates a Null value.
func NewNull(h *Heap) *Ref { return h.NewObject(&Null{}) }

// ---- Int -------------------------------------------------------------------

// Int is a signed 64-bit integer.
type Int struct {
	aliases
	Val int64
}

func (*Int) TypeName() string { return "int" }

// NewInt allocates an Int value.
func NewInt(h *Heap, v int64) *Ref { return h.NewObject(&Int{Val: v}) }

// ---- Float -----------------------------------------------------------------

// Float is an IEEE-754 64-bit floating point number.
type Float struct {
	aliases
	Val float64
}

func (*Float) TypeName() string { return "float" }

// NewFloat allocates a Float value.
func NewFloat(h *Heap, v float64) *Ref { return h.NewObject(&Float{Val: v}) }

// ---- Bool ------------------------------------------------------------------

// Bool is a boolean.
type Bool struct {
	aliases
	Val bool
}

func (*Bool) TypeName() string { return "bool" }

// NewBool allocates a Bool value.
func NewBool(h *Heap, v bool) *Ref { return h.NewObject(&Bool{Val: v}) }

// ---- String ----------------------------------------------------------------

// String is UTF-8 text. Indexing, slicing, length, and iteration are all
// rune based.
type String struct {
	aliases
	Val  string
	iter int // rune cursor
}

func (*String) TypeName() string { return "string" }

// NewString allocates a String value.
func NewString(h *Heap, v string) *Ref { return h.NewObject(&String{Val: v}) }

// ResetIter rewinds the rune cursor.
func (s *String) ResetIter() { s.iter = 0 }

// NextElem yields the next rune as a fresh single-rune String.
func (s *String) NextElem(h *Heap) (*Ref, bool) {
	runes := []rune(s.Val)
	if s.iter >= len(runes) {
		return nil, false
	}
	out := NewString(h, string(runes[s.iter]))
	s.iter++
	return out, true
}

// ---- Bytes -----------------------------------------------------------------

// Bytes is a byte sequence.
type Bytes struct {
	aliases
	Val  []byte
	iter int
}

func (*Bytes) TypeName() string { return "bytes" }

// NewBytes allocates a Bytes value holding a copy of v.
func NewBytes(h *Heap, v []byte) *Ref {
	return h.NewObject(&Bytes{Val: append([]byte(nil), v...)})
}

// ResetIter rewinds the byte cursor.
func (b *Bytes) ResetIter() { b.iter = 0 }

// NextElem yields the next byte as an Int in 0..255.
func (b *Bytes) NextElem(h *Heap) (*Ref, bool) {
	if b.iter >= len(b.Val) {
		return nil, false
	}
	out := NewInt(h, int64(b.Val[b.iter]))
	b.iter++
	return out, true
}

// ---- Range -----------------------------------------------------------------

// Range is the half-open integer interval [Start, End).
type Range struct {
	aliases
	Start int64
	End   int64
	iter  int64
}

func (*Range) TypeName() string { return "range" }

// NewRange allocates a Range value.
func NewRange(h *Heap, start, end int64) *Ref {
	return h.NewObject(&Range{Start: start, End: end})
}

// Len returns the number of integers in the interval.
func (r *Range) Len() int64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// ResetIter rewinds the cursor to Start.
func (r *Range) ResetIter() { r.iter = 0 }

// NextElem yields the next integer in the interval.
func (r *Range) NextElem(h *Heap) (*Ref, bool) {
	if r.Start+r.iter >= r.End {
		return nil, false
	}
	out := NewInt(h, r.Start+r.iter)
	r.iter++
	return out, true
}
