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

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// DebugInfo records the source byte offset an instruction was generated from.
type DebugInfo struct {
	CodePosition uint64
}

// Package is the immutable unit of executable code: a word-aligned code
// segment, interned constant pools, the function entry table, the debug map,
// and optionally the source text the code was compiled from.
//
// Packages are shared by reference between executors and never mutated after
// construction.
type Package struct {
	Code          []uint32
	StringPool    []string
	BytesPool     [][]byte
	FunctionTable map[string]uint64
	DebugMap      map[uint64]DebugInfo
	Source        *string

	fingerprint []byte // lazily computed Keccak-256 of the code segment and pools
}

// EntryIP returns the instruction pointer registered for signature.
func (p *Package) EntryIP(signature string) (uint64, bool) {
	ip, ok := p.FunctionTable[signature]
	return ip, ok
}

// LookupString returns the string-pool entry at idx.
func (p *Package) LookupString(idx uint32) (string, bool) {
	if int(idx) >= len(p.StringPool) {
		return "", false
	}
	return p.StringPool[idx], true
}

// LookupBytes returns the bytes-pool entry at idx.
func (p *Package) LookupBytes(idx uint32) ([]byte, bool) {
	if int(idx) >= len(p.BytesPool) {
		return nil, false
	}
	return p.BytesPool[idx], true
}

// DebugInfoAt returns the debug record for the instruction at ip.
func (p *Package) DebugInfoAt(ip uint64) (DebugInfo, bool) {
	d, ok := p.DebugMap[ip]
	return d, ok
}

// Fingerprint returns the Keccak-256 hash of the code segment and pools,
// identifying the package in diagnostics independent of its load path.
func (p *Package) Fingerprint() []byte {
	if p.fingerprint != nil {
		return p.fingerprint
	}
	h := sha3.NewLegacyKeccak256()
	var word [4]byte
	for _, w := range p.Code {
		binary.LittleEndian.PutUint32(word[:], w)
		h.Write(word[:])
	}
	for _, s := range p.StringPool {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	for _, b := range p.BytesPool {
		h.Write(b)
		h.Write([]byte{0})
	}
	p.fingerprint = h.Sum(nil)
	return p.fingerprint
}

// Equal reports whether two packages carry the same code, pools, tables, and
// source. Instructions values in the VM compare by identity and do not use it.
func (p *Package) Equal(other *Package) bool {
	if p == other {
		return true
	}
	if other == nil || len(p.Code) != len(other.Code) ||
		len(p.StringPool) != len(other.StringPool) ||
		len(p.BytesPool) != len(other.BytesPool) ||
		len(p.FunctionTable) != len(other.FunctionTable) ||
		len(p.DebugMap) != len(other.DebugMap) {
		return false
	}
	for i, w := range p.Code {
		if other.Code[i] != w {
			return false
		}
	}
	for i, s := range p.StringPool {
		if other.StringPool[i] != s {
			return false
		}
	}
	for i, b := range p.BytesPool {
		if string(other.BytesPool[i]) != string(b) {
			return false
		}
	}
	for sig, ip := range p.FunctionTable {
		if oip, ok := other.FunctionTable[sig]; !ok || oip != ip {
			return false
		}
	}
	for ip, d := range p.DebugMap {
		if od, ok := other.DebugMap[ip]; !ok || od != d {
			return false
		}
	}
	switch {
	case p.Source == nil && other.Source == nil:
		return true
	case p.Source == nil || other.Source == nil:
		return false
	default:
		return *p.Source == *other.Source
	}
}
