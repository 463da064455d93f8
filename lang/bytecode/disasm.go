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
	"fmt"
	"sort"
	"strings"
)

// Disassemble returns a human-readable listing of the package's code segment.
// Pool operands are resolved against the package's constant pools; function
// entry points are annotated with their signatures.
func Disassemble(p *Package) string {
	entries := make(map[uint64][]string)
	for sig, ip := range p.FunctionTable {
		entries[ip] = append(entries[ip], sig)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "; package %x (%d words)\n", p.Fingerprint()[:8], len(p.Code))

	ip := 0
	for ip < len(p.Code) {
		if sigs, ok := entries[uint64(ip)]; ok {
			sort.Strings(sigs)
			for _, sig := range sigs {
				fmt.Fprintf(&out, "%s:\n", sig)
			}
		}
		at := ip
		in, err := Decode(p.Code, &ip)
		if err != nil {
			fmt.Fprintf(&out, "[%04d] <truncated>\n", at)
			break
		}
		fmt.Fprintf(&out, "[%04d] %-20s", at, in.Op)
		for _, a := range [...]Argument{in.Operand1, in.Operand2, in.Operand3} {
			if a.None() {
				break
			}
			out.WriteByte(' ')
			out.WriteString(resolveArg(p, a))
		}
		out.WriteByte('\n')
	}
	return out.String()
}

func resolveArg(p *Package, a Argument) string {
	switch a.Kind {
	case ArgString:
		if s, ok := p.LookupString(a.Pool); ok {
			return fmt.Sprintf("%q", s)
		}
	case ArgBytes:
		if b, ok := p.LookupBytes(a.Pool); ok {
			return fmt.Sprintf("0x%x", b)
		}
	}
	return a.String()
}
