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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"
)

// Binary container layout (all integers little-endian):
//
//	[Header]
//	  Magic   (4 bytes): "XLBC"
//	  Version (4 bytes): format version, currently 1
//	  Flags   (4 bytes): bit0 = source text present
//
//	[Code]          count:u32, then count code words (u32 each)
//	[StringPool]    count:u32, then count strings  (len:u32 + UTF-8 bytes)
//	[BytesPool]     count:u32, then count blobs    (len:u32 + bytes)
//	[FunctionTable] count:u32, then count entries  (signature string + ip:u64)
//	[DebugMap]      count:u32, then count entries  (ip:u64 + code_position:u64)
//	[Source]        string, only when header flag bit0 is set
const (
	// Magic is the file signature of serialized instruction packages.
	Magic uint32 = 0x43424C58 // "XLBC"

	// FormatVersion is the current container format version.
	FormatVersion uint32 = 1

	flagHasSource uint32 = 1 << 0
)

// Encode serializes the package to w in the stable binary container format.
func Encode(p *Package, w io.Writer) error {
	var flags uint32
	if p.Source != nil {
		flags |= flagHasSource
	}
	for _, v := range [...]uint32{Magic, FormatVersion, flags} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("bytecode: write header: %w", err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.Code))); err != nil {
		return err
	}
	for _, word := range p.Code {
		if err := binary.Write(w, binary.LittleEndian, word); err != nil {
			return fmt.Errorf("bytecode: write code: %w", err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.StringPool))); err != nil {
		return err
	}
	for _, s := range p.StringPool {
		if err := writeString(w, s); err != nil {
			return fmt.Errorf("bytecode: write string pool: %w", err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.BytesPool))); err != nil {
		return err
	}
	for _, b := range p.BytesPool {
		if err := writeBlob(w, b); err != nil {
			return fmt.Errorf("bytecode: write bytes pool: %w", err)
		}
	}

	// Map sections are written in sorted order so equal packages serialize
	// byte-identically.
	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.FunctionTable))); err != nil {
		return err
	}
	sigs := make([]string, 0, len(p.FunctionTable))
	for sig := range p.FunctionTable {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	for _, sig := range sigs {
		if err := writeString(w, sig); err != nil {
			return fmt.Errorf("bytecode: write function table: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, p.FunctionTable[sig]); err != nil {
			return fmt.Errorf("bytecode: write function table: %w", err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.DebugMap))); err != nil {
		return err
	}
	ips := make([]uint64, 0, len(p.DebugMap))
	for ip := range p.DebugMap {
		ips = append(ips, ip)
	}
	sort.Slice(ips, func(i, j int) bool { return ips[i] < ips[j] })
	for _, ip := range ips {
		if err := binary.Write(w, binary.LittleEndian, ip); err != nil {
			return fmt.Errorf("bytecode: write debug map: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, p.DebugMap[ip].CodePosition); err != nil {
			return fmt.Errorf("bytecode: write debug map: %w", err)
		}
	}

	if p.Source != nil {
		if err := writeString(w, *p.Source); err != nil {
			return fmt.Errorf("bytecode: write source: %w", err)
		}
	}
	return nil
}

// DecodePackage reads one serialized package from r.
func DecodePackage(r io.Reader) (*Package, error) {
	var magic, version, flags uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("bytecode: read header: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("bytecode: bad magic 0x%08X (want 0x%08X)", magic, Magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("bytecode: read header: %w", err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("bytecode: unsupported format version %d (want %d)", version, FormatVersion)
	}
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, fmt.Errorf("bytecode: read header: %w", err)
	}

	p := &Package{
		FunctionTable: make(map[string]uint64),
		DebugMap:      make(map[uint64]DebugInfo),
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("bytecode: read code: %w", err)
	}
	p.Code = make([]uint32, count)
	for i := range p.Code {
		if err := binary.Read(r, binary.LittleEndian, &p.Code[i]); err != nil {
			return nil, fmt.Errorf("bytecode: read code word %d: %w", i, err)
		}
	}

	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("bytecode: read string pool: %w", err)
	}
	p.StringPool = make([]string, count)
	for i := range p.StringPool {
		s, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("bytecode: read string %d: %w", i, err)
		}
		p.StringPool[i] = s
	}

	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("bytecode: read bytes pool: %w", err)
	}
	p.BytesPool = make([][]byte, count)
	for i := range p.BytesPool {
		b, err := readBlob(r)
		if err != nil {
			return nil, fmt.Errorf("bytecode: read blob %d: %w", i, err)
		}
		p.BytesPool[i] = b
	}

	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("bytecode: read function table: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		sig, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("bytecode: read function table entry %d: %w", i, err)
		}
		var ip uint64
		if err := binary.Read(r, binary.LittleEndian, &ip); err != nil {
			return nil, fmt.Errorf("bytecode: read function table entry %d: %w", i, err)
		}
		p.FunctionTable[sig] = ip
	}

	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("bytecode: read debug map: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		var ip, pos uint64
		if err := binary.Read(r, binary.LittleEndian, &ip); err != nil {
			return nil, fmt.Errorf("bytecode: read debug entry %d: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &pos); err != nil {
			return nil, fmt.Errorf("bytecode: read debug entry %d: %w", i, err)
		}
		p.DebugMap[ip] = DebugInfo{CodePosition: pos}
	}

	if flags&flagHasSource != 0 {
		src, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("bytecode: read source: %w", err)
		}
		p.Source = &src
	}
	return p, nil
}

// WriteFile serializes the package to path.
func WriteFile(p *Package, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Encode(p, f)
}

// ReadFile loads a serialized package from path.
func ReadFile(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodePackage(f)
}

// OpenMapped loads a serialized package through a read-only memory map,
// avoiding a copy of the file contents during decoding. The mapping is
// released before returning; the decoded package owns its memory.
func OpenMapped(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("bytecode: mmap %s: %w", path, err)
	}
	defer m.Unmap()
	return DecodePackage(bytes.NewReader(m))
}

func writeString(w io.Writer, s string) error {
	return writeBlob(w, []byte(s))
}

func writeBlob(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readString(r io.Reader) (string, error) {
	b, err := readBlob(r)
	return string(b), err
}

func readBlob(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
