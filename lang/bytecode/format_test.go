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
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func samplePackage() *Package {
	src := "let x = 2 + 3\nreturn x\n"
	return &Package{
		Code:       []uint32{0x00000001, 0xDEADBEEF, 0x12345678},
		StringPool: []string{"__main__", "x", "héllo"},
		BytesPool:  [][]byte{{0x01, 0x02}, {}},
		FunctionTable: map[string]uint64{
			"__main__":  0,
			"helper::f": 2,
		},
		DebugMap: map[uint64]DebugInfo{
			0: {CodePosition: 4},
			2: {CodePosition: 14},
		},
		Source: &src,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pkg := samplePackage()

	var buf bytes.Buffer
	require.NoError(t, Encode(pkg, &buf))

	decoded, err := DecodePackage(&buf)
	require.NoError(t, err)

	if diff := cmp.Diff(pkg, decoded, cmpopts.IgnoreUnexported(Package{})); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	require.True(t, pkg.Equal(decoded))
}

func TestEncodeWithoutSource(t *testing.T) {
	pkg := samplePackage()
	pkg.Source = nil

	var buf bytes.Buffer
	require.NoError(t, Encode(pkg, &buf))
	decoded, err := DecodePackage(&buf)
	require.NoError(t, err)
	require.Nil(t, decoded.Source)
	require.True(t, pkg.Equal(decoded))
}

func TestEncodeIsDeterministic(t *testing.T) {
	pkg := samplePackage()
	var first, second bytes.Buffer
	require.NoError(t, Encode(pkg, &first))
	require.NoError(t, Encode(pkg, &second))
	require.Equal(t, first.Bytes(), second.Bytes())
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(0x41414141)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, FormatVersion))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(0)))

	_, err := DecodePackage(&buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad magic")
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, Magic))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(99)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(0)))

	_, err := DecodePackage(&buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported format version")
}

func TestFileRoundTripAndMmap(t *testing.T) {
	pkg := samplePackage()
	path := filepath.Join(t.TempDir(), "sample.xbc")
	require.NoError(t, WriteFile(pkg, path))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	require.True(t, pkg.Equal(loaded))

	mapped, err := OpenMapped(path)
	require.NoError(t, err)
	require.True(t, pkg.Equal(mapped))
}

func TestFingerprintStableAndDistinct(t *testing.T) {
	a := samplePackage()
	b := samplePackage()
	require.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Code[0]++
	b.fingerprint = nil
	require.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestDisassembleResolvesPools(t *testing.T) {
	b := NewBuilder()
	b.Function("__main__")
	b.EmitString(OpLoadString, "greeting")
	b.EmitInt64(OpLoadInt64, 5)
	b.Emit(OpReturn)
	out := Disassemble(b.Package())

	require.True(t, strings.Contains(out, "__main__:"))
	require.True(t, strings.Contains(out, `LOAD_STRING`))
	require.True(t, strings.Contains(out, `"greeting"`))
	require.True(t, strings.Contains(out, "LOAD_INT64"))
}
